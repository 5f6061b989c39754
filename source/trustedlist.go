package source

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/subnoto/adesvalidator/common"
)

// ErrEmptyTrustedList is returned when a snapshot declares no certificates.
var ErrEmptyTrustedList = errors.New("trusted list snapshot contains no certificates")

// TrustedListSource serves certificates taken from trusted lists. The same
// certificate may be listed under several services, each yielding its own
// entry.
type TrustedListSource struct {
	entries []common.CertificateAndContext
	byName  map[string][]int
}

// NewTrustedListSource returns an empty trusted list source.
func NewTrustedListSource() *TrustedListSource {
	return &TrustedListSource{byName: make(map[string][]int)}
}

// AddCertificate registers cert under service.
func (s *TrustedListSource) AddCertificate(cert *x509.Certificate, service common.ServiceInfo) {
	key := common.CanonicalName(cert.Subject)
	for _, i := range s.byName[key] {
		e := s.entries[i]
		if e.Certificate.Equal(cert) && e.Context.ServiceName == service.ServiceName && e.Context.Status == service.Status {
			return
		}
	}
	svc := service
	s.byName[key] = append(s.byName[key], len(s.entries))
	s.entries = append(s.entries, common.CertificateAndContext{
		Certificate: cert,
		SourceType:  common.SourceTrustedList,
		Context:     &svc,
	})
}

func (s *TrustedListSource) CertificateBySubjectName(name pkix.Name) []common.CertificateAndContext {
	idx := s.byName[common.CanonicalName(name)]
	out := make([]common.CertificateAndContext, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.entries[i])
	}
	return out
}

func (s *TrustedListSource) Certificates() []common.CertificateAndContext {
	out := make([]common.CertificateAndContext, len(s.entries))
	copy(out, s.entries)
	return out
}

// trustedListSnapshot is the YAML layout of a trusted list export.
type trustedListSnapshot struct {
	Territory  string            `yaml:"territory"`
	WellSigned bool              `yaml:"well-signed"`
	Services   []snapshotService `yaml:"services"`
}

type snapshotService struct {
	common.ServiceInfo `yaml:",inline"`
	Certificates       []string `yaml:"certificates"`
}

// LoadTrustedList reads a YAML trusted list snapshot from path.
func LoadTrustedList(path string) (*TrustedListSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trusted list %s: %w", path, err)
	}
	return ParseTrustedList(data)
}

// ParseTrustedList decodes a YAML trusted list snapshot. Certificates are PEM
// blocks. The snapshot level well-signed flag is copied to every service.
func ParseTrustedList(data []byte) (*TrustedListSource, error) {
	var snap trustedListSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse trusted list: %w", err)
	}
	s := NewTrustedListSource()
	for i, svc := range snap.Services {
		info := svc.ServiceInfo
		info.TLWellSigned = snap.WellSigned
		for j, p := range svc.Certificates {
			certs, err := parsePEMCertificates([]byte(p))
			if err != nil {
				return nil, fmt.Errorf("service %d certificate %d: %w", i, j, err)
			}
			for _, c := range certs {
				s.AddCertificate(c, info)
			}
		}
	}
	if len(s.entries) == 0 {
		return nil, ErrEmptyTrustedList
	}
	return s, nil
}

func parsePEMCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, errors.New("no PEM certificate found")
	}
	return certs, nil
}
