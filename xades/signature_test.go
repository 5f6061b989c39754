package xades

import (
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/internal/testpki"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/token"
)

type fixture struct {
	root *testpki.Authority
	leaf *testpki.Authority
	tsa  *testpki.Authority
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := testpki.NewRoot(t, "Root CA")
	return fixture{
		root: root,
		leaf: root.Issue(t, testpki.Options{CommonName: "Signer"}),
		tsa:  root.NewTSA(t, "TSA"),
	}
}

func parseOne(t *testing.T, data []byte) *Signature {
	t.Helper()
	sigs, err := ParseBytes(data)
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("Expected 1 signature, got %d", len(sigs))
	}
	return sigs[0]
}

func TestParseEnveloped(t *testing.T) {
	f := newFixture(t)
	signingTime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	x := testpki.NewSignedXML(t, f.leaf, testpki.XMLOptions{SigningTime: signingTime, Chain: []*x509.Certificate{f.root.Cert}})
	sig := parseOne(t, x.Bytes(t))

	if sig.Form() != signature.FormXAdES {
		t.Errorf("Expected XAdES form, got %v", sig.Form())
	}
	if sig.ID() != "sig" {
		t.Errorf("Expected Id sig, got %q", sig.ID())
	}
	if sig.SigningCertificate() == nil || !sig.SigningCertificate().Equal(f.leaf.Cert) {
		t.Fatal("Expected the signer certificate to be found")
	}
	if !sig.SigningTime().Equal(signingTime) {
		t.Errorf("Expected signing time %v, got %v", signingTime, sig.SigningTime())
	}
	if len(sig.Certificates()) != 2 {
		t.Errorf("Expected 2 certificates, got %d", len(sig.Certificates()))
	}
	if got := sig.CertificateSource().CertificateBySubjectName(f.root.Cert.Subject); len(got) != 1 {
		t.Errorf("Expected the root in the certificate source, got %d", len(got))
	}
	if sig.PolicyID() != nil {
		t.Error("Expected no policy")
	}
	if len(sig.SignatureTimestamps()) != 0 || len(sig.CounterSignatures()) != 0 {
		t.Error("Expected a bare BES signature")
	}

	ok, err := sig.CheckIntegrity(nil)
	if err != nil {
		t.Fatalf("CheckIntegrity failed: %v", err)
	}
	if !ok {
		t.Error("Expected the signature to verify")
	}
}

func TestCheckIntegrityDetectsModification(t *testing.T) {
	f := newFixture(t)
	x := testpki.NewSignedXML(t, f.leaf, testpki.XMLOptions{})
	x.Tamper("613.00")
	sig := parseOne(t, x.Bytes(t))

	ok, err := sig.CheckIntegrity(nil)
	if err != nil {
		t.Fatalf("CheckIntegrity failed: %v", err)
	}
	if ok {
		t.Error("Expected the modified document to fail")
	}
}

func TestCheckIntegrityDetached(t *testing.T) {
	f := newFixture(t)
	content := []byte("detached payload")
	x := testpki.NewSignedXML(t, f.leaf, testpki.XMLOptions{DetachedURI: "payload.txt", Detached: content})
	sig := parseOne(t, x.Bytes(t))

	tests := []struct {
		name     string
		detached common.Document
		want     bool
		wantErr  error
	}{
		{name: "no content", detached: nil, wantErr: ErrDetachedContentRequired},
		{name: "original content", detached: common.NewMemoryDocument(content, "payload.txt", "text/plain"), want: true},
		{name: "modified content", detached: common.NewMemoryDocument([]byte("other payload"), "payload.txt", "text/plain"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := sig.CheckIntegrity(tt.detached)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckIntegrity failed: %v", err)
			}
			if ok != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, ok)
			}
		})
	}
}

func TestSigningCertificateFallback(t *testing.T) {
	f := newFixture(t)
	x := testpki.NewSignedXML(t, f.leaf, testpki.XMLOptions{OmitSigningCertificate: true, Chain: []*x509.Certificate{f.root.Cert}})
	sig := parseOne(t, x.Bytes(t))

	if sig.SigningCertificate() == nil || !sig.SigningCertificate().Equal(f.leaf.Cert) {
		t.Error("Expected the first KeyInfo certificate to be the signer")
	}
}

func TestPolicyID(t *testing.T) {
	f := newFixture(t)
	x := testpki.NewSignedXML(t, f.leaf, testpki.XMLOptions{PolicyOID: "1.2.3.4.5"})
	sig := parseOne(t, x.Bytes(t))

	policy := sig.PolicyID()
	if policy == nil {
		t.Fatal("Expected a policy")
	}
	if policy.Identifier != "1.2.3.4.5" {
		t.Errorf("Expected policy 1.2.3.4.5, got %q", policy.Identifier)
	}
	if policy.DigestAlgorithm != "SHA-256" || len(policy.Digest) != 32 {
		t.Errorf("Expected a SHA-256 policy digest, got %q/%d", policy.DigestAlgorithm, len(policy.Digest))
	}
}

func TestValidationDataProperties(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	crl := f.root.CRL(t, now.Add(-time.Hour))
	resp := f.root.OCSP(t, f.leaf.Cert, ocsp.Good, time.Time{})

	x := testpki.NewSignedXML(t, f.leaf, testpki.XMLOptions{})
	sigData, err := parseOne(t, x.Bytes(t)).SignatureTimestampData()
	if err != nil {
		t.Fatalf("SignatureTimestampData failed: %v", err)
	}
	x.AddTimestamp(SignatureTimeStampTag, f.tsa.Timestamp(t, sigData, now.Add(-3*time.Hour)))
	x.AddCompleteCertificateRefs(f.root.Cert)
	x.AddCompleteRevocationRefs([]*x509.RevocationList{crl}, []*ocsp.Response{resp})

	partial := parseOne(t, x.Bytes(t))
	x1Data, err := partial.TimestampX1Data()
	if err != nil {
		t.Fatalf("TimestampX1Data failed: %v", err)
	}
	x2Data, err := partial.TimestampX2Data()
	if err != nil {
		t.Fatalf("TimestampX2Data failed: %v", err)
	}
	x.AddTimestamp(SigAndRefsTimeStampTag, f.tsa.Timestamp(t, x1Data, now.Add(-2*time.Hour)))
	x.AddTimestamp(RefsOnlyTimeStampTag, f.tsa.Timestamp(t, x2Data, now.Add(-2*time.Hour)))
	x.AddCertificateValues(f.root.Cert)
	x.AddRevocationValues([]*x509.RevocationList{crl}, []*ocsp.Response{resp})
	sig := parseOne(t, x.Bytes(t))

	t.Run("timestamps", func(t *testing.T) {
		checks := []struct {
			name string
			ts   []*token.Timestamp
			data func() ([]byte, error)
		}{
			{"signature", sig.SignatureTimestamps(), sig.SignatureTimestampData},
			{"x1", sig.TimestampsX1(), sig.TimestampX1Data},
			{"x2", sig.TimestampsX2(), sig.TimestampX2Data},
		}
		for _, c := range checks {
			if len(c.ts) != 1 {
				t.Fatalf("%s: expected 1 timestamp, got %d", c.name, len(c.ts))
			}
			data, err := c.data()
			if err != nil {
				t.Fatalf("%s: %v", c.name, err)
			}
			ok, err := c.ts[0].MatchData(data)
			if err != nil || !ok {
				t.Errorf("%s: expected the timestamp to cover its data (err %v)", c.name, err)
			}
		}
	})

	t.Run("references", func(t *testing.T) {
		certRefs := sig.CertificateRefs()
		if len(certRefs) != 1 {
			t.Fatalf("Expected 1 certificate reference, got %d", len(certRefs))
		}
		if ok, _ := certRefs[0].Match(f.root.Cert); !ok {
			t.Error("Expected the reference to match the root")
		}
		if certRefs[0].SerialNumber == nil || certRefs[0].SerialNumber.Cmp(f.root.Cert.SerialNumber) != 0 {
			t.Error("Expected the issuer serial to be decoded")
		}

		crlRefs := sig.CRLRefs()
		if len(crlRefs) != 1 {
			t.Fatalf("Expected 1 CRL reference, got %d", len(crlRefs))
		}
		if ok, _ := crlRefs[0].Match(crl); !ok {
			t.Error("Expected the CRL reference to match")
		}

		ocspRefs := sig.OCSPRefs()
		if len(ocspRefs) != 1 {
			t.Fatalf("Expected 1 OCSP reference, got %d", len(ocspRefs))
		}
		if ok, _ := ocspRefs[0].Match(resp); !ok {
			t.Error("Expected the OCSP reference to match")
		}
	})

	t.Run("values", func(t *testing.T) {
		if len(sig.Certificates()) != 2 {
			t.Errorf("Expected signer and root certificates, got %d", len(sig.Certificates()))
		}
		if len(sig.CRLs()) != 1 || len(sig.OCSPs()) != 1 {
			t.Fatalf("Expected 1 CRL and 1 OCSP value, got %d and %d", len(sig.CRLs()), len(sig.OCSPs()))
		}
		if got := sig.OCSPSource().FindOCSPResponse(f.leaf.Cert, f.root.Cert); got == nil {
			t.Error("Expected the OCSP source to serve the embedded response")
		}
		if got := sig.CRLSource().FindCRL(f.leaf.Cert, f.root.Cert); got == nil {
			t.Error("Expected the CRL source to serve the embedded CRL")
		}
	})

	t.Run("integrity unaffected", func(t *testing.T) {
		ok, err := sig.CheckIntegrity(nil)
		if err != nil || !ok {
			t.Errorf("Expected unsigned properties to leave the signature valid (ok %v, err %v)", ok, err)
		}
	})
}

func TestArchiveTimestampData(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	x := testpki.NewSignedXML(t, f.leaf, testpki.XMLOptions{})
	x.AddCertificateValues(f.root.Cert)

	first, err := parseOne(t, x.Bytes(t)).ArchiveTimestampData(nil, nil)
	if err != nil {
		t.Fatalf("ArchiveTimestampData failed: %v", err)
	}
	x.AddTimestamp(ArchiveTimeStampTag, f.tsa.Timestamp(t, first, now.Add(-2*time.Hour)))

	second, err := parseOne(t, x.Bytes(t)).ArchiveTimestampData(nil, nil)
	if err != nil {
		t.Fatalf("ArchiveTimestampData failed: %v", err)
	}
	x.AddTimestamp(ArchiveTimeStampTag, f.tsa.Timestamp(t, second, now.Add(-time.Hour)))

	sig := parseOne(t, x.Bytes(t))
	archives := sig.ArchiveTimestamps()
	if len(archives) != 2 {
		t.Fatalf("Expected 2 archive timestamps, got %d", len(archives))
	}
	for i, ts := range archives {
		data, err := sig.ArchiveTimestampData(ts, nil)
		if err != nil {
			t.Fatalf("ArchiveTimestampData(%d) failed: %v", i, err)
		}
		if ok, err := ts.MatchData(data); err != nil || !ok {
			t.Errorf("Expected archive timestamp %d to cover its data (err %v)", i, err)
		}
	}

	foreign, err := token.ParseTimestamp(f.tsa.Timestamp(t, []byte("x"), now), token.ArchiveTimestamp)
	if err != nil {
		t.Fatalf("ParseTimestamp failed: %v", err)
	}
	if _, err := sig.ArchiveTimestampData(foreign, nil); !errors.Is(err, signature.ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported for an unknown timestamp, got %v", err)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{name: "no signature", data: `<Invoice><Amount>1</Amount></Invoice>`, wantErr: ErrNoSignatures},
		{name: "not xml", data: `not xml at all`},
		{name: "missing signed info", data: `<ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#"><ds:SignatureValue>AA==</ds:SignatureValue></ds:Signature>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(tt.data))
			if err == nil {
				t.Fatal("Expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
