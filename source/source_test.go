package source

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"strings"
	"testing"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/internal/testpki"
)

func TestListCertificateSource(t *testing.T) {
	root := testpki.NewRoot(t, "Source Root CA")
	leaf := root.Issue(t, testpki.Options{CommonName: "Source Leaf"})

	s := NewListCertificateSource(common.SourceSignature, root.Cert, leaf.Cert, root.Cert)
	if s.Len() != 2 {
		t.Errorf("Expected duplicates to be ignored, got %d certificates", s.Len())
	}

	got := s.CertificateBySubjectName(leaf.Cert.Subject)
	if len(got) != 1 || !got[0].Certificate.Equal(leaf.Cert) {
		t.Fatalf("Expected the leaf for its subject, got %d results", len(got))
	}
	if got[0].SourceType != common.SourceSignature {
		t.Errorf("Expected source type %s, got %s", common.SourceSignature, got[0].SourceType)
	}
	if unknown := s.CertificateBySubjectName(pkix.Name{CommonName: "Nobody"}); len(unknown) != 0 {
		t.Errorf("Expected no result for an unknown subject, got %d", len(unknown))
	}
}

func TestCompositeCertificateSource(t *testing.T) {
	root := testpki.NewRoot(t, "Composite Root CA")
	tl := NewTrustedListSource()
	tl.AddCertificate(root.Cert, common.ServiceInfo{ServiceName: "CA/QC"})
	list := NewListCertificateSource(common.SourceSignature, root.Cert)
	var missing *KeyStoreSource

	c := NewCompositeCertificateSource(tl, nil, missing, list)
	got := c.CertificateBySubjectName(root.Cert.Subject)
	if len(got) != 2 {
		t.Fatalf("Expected one result per source, got %d", len(got))
	}
	if !got[0].IsTrustedList() || got[1].IsTrustedList() {
		t.Errorf("Expected results in source order, got %s then %s", got[0].SourceType, got[1].SourceType)
	}
	if all := c.Certificates(); len(all) != 2 {
		t.Errorf("Expected 2 certificates, got %d", len(all))
	}
}

func TestTrustedListSourceServices(t *testing.T) {
	root := testpki.NewRoot(t, "Listed Root CA")
	tl := NewTrustedListSource()
	tl.AddCertificate(root.Cert, common.ServiceInfo{ServiceName: "CA/QC", Status: "granted"})
	tl.AddCertificate(root.Cert, common.ServiceInfo{ServiceName: "CA/QC", Status: "granted"})
	tl.AddCertificate(root.Cert, common.ServiceInfo{ServiceName: "CA/PKC", Status: "withdrawn"})

	got := tl.CertificateBySubjectName(root.Cert.Subject)
	if len(got) != 2 {
		t.Fatalf("Expected one entry per service, got %d", len(got))
	}
	if got[0].Context.ServiceName != "CA/QC" || got[1].Context.ServiceName != "CA/PKC" {
		t.Errorf("Unexpected services %s, %s", got[0].Context.ServiceName, got[1].Context.ServiceName)
	}
}

func snapshot(wellSigned string, certs ...*x509.Certificate) []byte {
	var b strings.Builder
	b.WriteString("territory: EE\nwell-signed: " + wellSigned + "\nservices:\n")
	b.WriteString("  - tsp-name: Test TSP\n    service-name: CA/QC\n    status: granted\n")
	b.WriteString("    qualifiers: [http://uri.etsi.org/TrstSvc/TrustedList/SvcInfoExt/QCWithSSCD]\n")
	b.WriteString("    certificates:\n")
	for _, c := range certs {
		block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})
		b.WriteString("      - |\n")
		for _, line := range strings.Split(strings.TrimSpace(string(block)), "\n") {
			b.WriteString("        " + line + "\n")
		}
	}
	return []byte(b.String())
}

func TestParseTrustedList(t *testing.T) {
	root := testpki.NewRoot(t, "Snapshot Root CA")

	tests := []struct {
		name       string
		data       []byte
		wantErr    error
		wellSigned bool
	}{
		{name: "well signed", data: snapshot("true", root.Cert), wellSigned: true},
		{name: "signature not confirmed", data: snapshot("false", root.Cert)},
		{name: "no certificates", data: []byte("territory: EE\nservices: []\n"), wantErr: ErrEmptyTrustedList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl, err := ParseTrustedList(tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTrustedList failed: %v", err)
			}
			got := tl.CertificateBySubjectName(root.Cert.Subject)
			if len(got) != 1 {
				t.Fatalf("Expected 1 entry, got %d", len(got))
			}
			svc := got[0].Context
			if svc.TLWellSigned != tt.wellSigned {
				t.Errorf("Expected well signed %v, got %v", tt.wellSigned, svc.TLWellSigned)
			}
			if !svc.HasQualifier(common.QualifierQCWithSSCD) {
				t.Errorf("Expected the QCWithSSCD qualifier, got %v", svc.Qualifiers)
			}
		})
	}
}

func TestParseTrustedListRejectsBadPEM(t *testing.T) {
	data := []byte("services:\n  - service-name: CA/QC\n    certificates:\n      - not a certificate\n")
	if _, err := ParseTrustedList(data); err == nil {
		t.Error("Expected an error for a service without a PEM certificate")
	}
}

func TestParseKeyStore(t *testing.T) {
	root := testpki.NewRoot(t, "Keystore Root CA")
	inter := root.Issue(t, testpki.Options{CommonName: "Keystore Intermediate CA", IsCA: true})
	data, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{root.Cert, inter.Cert}, "changeit")
	if err != nil {
		t.Fatalf("failed to encode trust store: %v", err)
	}

	ks, err := ParseKeyStore(data, "changeit")
	if err != nil {
		t.Fatalf("ParseKeyStore failed: %v", err)
	}
	got := ks.CertificateBySubjectName(inter.Cert.Subject)
	if len(got) != 1 || got[0].SourceType != common.SourceKeyStore {
		t.Fatalf("Expected the intermediate from the keystore, got %+v", got)
	}
	if len(ks.Certificates()) != 2 {
		t.Errorf("Expected 2 certificates, got %d", len(ks.Certificates()))
	}

	if _, err := ParseKeyStore(data, "wrong"); err == nil {
		t.Error("Expected an error for a wrong password")
	}
}
