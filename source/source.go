// Package source provides the certificate sources the validation context
// searches when it looks for the issuer of a token.
package source

import (
	"crypto/x509"
	"crypto/x509/pkix"

	"github.com/subnoto/adesvalidator/common"
)

// CertificateSource is a read-only provider of certificates.
type CertificateSource interface {
	// CertificateBySubjectName returns every certificate whose subject
	// matches name, in source order. An unknown name yields an empty slice.
	CertificateBySubjectName(name pkix.Name) []common.CertificateAndContext
	// Certificates returns the full content of the source.
	Certificates() []common.CertificateAndContext
}

// ListCertificateSource is an in-memory source.
type ListCertificateSource struct {
	entries []common.CertificateAndContext
	byName  map[string][]int
}

// NewListCertificateSource returns a source over certs, all tagged with sourceType.
func NewListCertificateSource(sourceType common.CertificateSourceType, certs ...*x509.Certificate) *ListCertificateSource {
	s := &ListCertificateSource{byName: make(map[string][]int)}
	for _, c := range certs {
		s.Add(common.NewCertificateAndContext(c, sourceType))
	}
	return s
}

// Add appends a certificate. Adding the same encoded certificate twice is a
// no-op.
func (s *ListCertificateSource) Add(cc common.CertificateAndContext) {
	if cc.Certificate == nil {
		return
	}
	if s.byName == nil {
		s.byName = make(map[string][]int)
	}
	key := common.CanonicalName(cc.Certificate.Subject)
	for _, i := range s.byName[key] {
		if s.entries[i].SameCertificate(cc) {
			return
		}
	}
	s.byName[key] = append(s.byName[key], len(s.entries))
	s.entries = append(s.entries, cc)
}

func (s *ListCertificateSource) CertificateBySubjectName(name pkix.Name) []common.CertificateAndContext {
	idx := s.byName[common.CanonicalName(name)]
	out := make([]common.CertificateAndContext, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.entries[i])
	}
	return out
}

func (s *ListCertificateSource) Certificates() []common.CertificateAndContext {
	out := make([]common.CertificateAndContext, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of certificates held.
func (s *ListCertificateSource) Len() int {
	return len(s.entries)
}

// CompositeCertificateSource concatenates the results of its sources. Nil
// sources are skipped. No deduplication or ordering beyond source order is
// applied; callers scan the full result.
type CompositeCertificateSource struct {
	sources []CertificateSource
}

// NewCompositeCertificateSource returns the union of sources.
func NewCompositeCertificateSource(sources ...CertificateSource) *CompositeCertificateSource {
	c := &CompositeCertificateSource{}
	for _, s := range sources {
		if isNil(s) {
			continue
		}
		c.sources = append(c.sources, s)
	}
	return c
}

func (c *CompositeCertificateSource) CertificateBySubjectName(name pkix.Name) []common.CertificateAndContext {
	var out []common.CertificateAndContext
	for _, s := range c.sources {
		out = append(out, s.CertificateBySubjectName(name)...)
	}
	return out
}

func (c *CompositeCertificateSource) Certificates() []common.CertificateAndContext {
	var out []common.CertificateAndContext
	for _, s := range c.sources {
		out = append(out, s.Certificates()...)
	}
	return out
}

// isNil catches typed nil pointers stored in the interface.
func isNil(s CertificateSource) bool {
	if s == nil {
		return true
	}
	switch v := s.(type) {
	case *ListCertificateSource:
		return v == nil
	case *CompositeCertificateSource:
		return v == nil
	case *TrustedListSource:
		return v == nil
	case *KeyStoreSource:
		return v == nil
	}
	return false
}
