package token

import (
	"crypto/x509"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/internal/testpki"
)

func TestIdentityIsByValue(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	reparsed, err := x509.ParseCertificate(root.Cert.Raw)
	if err != nil {
		t.Fatal(err)
	}

	a := NewCertificate(common.NewCertificateAndContext(root.Cert, common.SourceSignature))
	b := NewCertificate(common.NewCertificateAndContext(reparsed, common.SourceTrustedList))
	if !a.Equal(b) {
		t.Error("Expected tokens over the same encoded certificate to be equal")
	}

	other := testpki.NewRoot(t, "Root CA")
	c := NewCertificate(common.NewCertificateAndContext(other.Cert, common.SourceSignature))
	if a.Equal(c) {
		t.Error("Expected tokens over different certificates to differ")
	}
}

func TestIsSignedBy(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	stranger := testpki.NewRoot(t, "Stranger CA")
	leaf := root.Issue(t, testpki.Options{CommonName: "Signer"})
	tsa := root.NewTSA(t, "TSA")

	crl := root.CRL(t, time.Now().Add(-time.Hour))
	resp := root.OCSP(t, leaf.Cert, ocsp.Good, time.Time{})
	tsDER := tsa.Timestamp(t, []byte("data"), time.Now())
	ts, err := ParseTimestamp(tsDER, SignatureTimestamp)
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	tests := []struct {
		name      string
		token     *Token
		signer    *x509.Certificate
		notSigner *x509.Certificate
	}{
		{"certificate", NewCertificate(common.NewCertificateAndContext(leaf.Cert, common.SourceSignature)), root.Cert, stranger.Cert},
		{"crl", NewCRL(crl), root.Cert, stranger.Cert},
		{"ocsp", NewOCSP(resp), root.Cert, stranger.Cert},
		{"timestamp", NewTimestampToken(ts), tsa.Cert, root.Cert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.token.IsSignedBy(tt.signer) {
				t.Errorf("Expected %s to be signed by %s", tt.token, tt.signer.Subject.CommonName)
			}
			if tt.token.IsSignedBy(tt.notSigner) {
				t.Errorf("Expected %s not to be signed by %s", tt.token, tt.notSigner.Subject.CommonName)
			}
			if tt.token.IsSignedBy(nil) {
				t.Error("Expected nil candidate to be rejected")
			}
		})
	}
}

func TestSignerSubjectName(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.Issue(t, testpki.Options{CommonName: "Signer"})
	tsa := root.NewTSA(t, "TSA")
	ts, err := ParseTimestamp(tsa.Timestamp(t, []byte("data"), time.Now()), SignatureTimestamp)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token *Token
		want  string
	}{
		{"certificate names its issuer", NewCertificate(common.NewCertificateAndContext(leaf.Cert, common.SourceSignature)), "Root CA"},
		{"crl names its issuer", NewCRL(root.CRL(t, time.Now())), "Root CA"},
		{"ocsp names its responder", NewOCSP(root.OCSP(t, leaf.Cert, ocsp.Good, time.Time{})), "Root CA"},
		{"timestamp names its unit", NewTimestampToken(ts), "TSA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, ok := tt.token.SignerSubjectName()
			if !ok {
				t.Fatal("Expected a signer subject name")
			}
			if name.CommonName != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, name.CommonName)
			}
		})
	}
}

func TestWrappedCertificateSource(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	tsa := root.NewTSA(t, "TSA")
	ts, err := ParseTimestamp(tsa.Timestamp(t, []byte("data"), time.Now()), ArchiveTimestamp)
	if err != nil {
		t.Fatal(err)
	}
	src := NewTimestampToken(ts).WrappedCertificateSource()
	if src == nil {
		t.Fatal("Expected timestamp to expose its embedded certificates")
	}
	found := src.CertificateBySubjectName(tsa.Cert.Subject)
	if len(found) != 1 || found[0].SourceType != common.SourceTimestamp {
		t.Errorf("Expected the TSA certificate tagged as timestamp source, got %v", found)
	}

	crlToken := NewCRL(root.CRL(t, time.Now()))
	if crlToken.WrappedCertificateSource() != nil {
		t.Error("Expected CRL token to wrap no certificates")
	}
}

func TestTimestampMatchData(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	tsa := root.NewTSA(t, "TSA")
	genTime := time.Now().Add(-time.Minute).Truncate(time.Second)
	ts, err := ParseTimestamp(tsa.Timestamp(t, []byte("signature value"), genTime), SignatureTimestamp)
	if err != nil {
		t.Fatal(err)
	}
	if !ts.GenerationTime().Equal(genTime) {
		t.Errorf("Expected generation time %v, got %v", genTime, ts.GenerationTime())
	}

	ok, err := ts.MatchData([]byte("signature value"))
	if err != nil || !ok {
		t.Errorf("Expected imprint to match, got ok=%v err=%v", ok, err)
	}
	ok, err = ts.MatchData([]byte("other value"))
	if err != nil || ok {
		t.Errorf("Expected imprint mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	if _, err := ParseTimestamp([]byte("not a token"), SignatureTimestamp); err == nil {
		t.Error("Expected error for malformed token")
	}
}
