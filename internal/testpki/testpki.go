// Package testpki builds throwaway certificate hierarchies, revocation data
// and timestamps for tests.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"golang.org/x/crypto/ocsp"
)

var serial int64 = 1000

func nextSerial() *big.Int {
	return big.NewInt(atomic.AddInt64(&serial, 1))
}

// Authority is a certificate with its private key.
type Authority struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// Options tune an issued certificate. Zero values get sensible defaults.
type Options struct {
	CommonName            string
	NotBefore             time.Time
	NotAfter              time.Time
	IsCA                  bool
	ExtKeyUsage           []x509.ExtKeyUsage
	OCSPServer            []string
	CRLDistributionPoints []string
	Policies              []asn1.ObjectIdentifier
	ExtraExtensions       []pkix.Extension
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func (o Options) template() *x509.Certificate {
	notBefore := o.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-24 * time.Hour)
	}
	notAfter := o.NotAfter
	if notAfter.IsZero() {
		notAfter = time.Now().Add(365 * 24 * time.Hour)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: o.CommonName, Organization: []string{"Test PKI"}, Country: []string{"EE"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		ExtKeyUsage:           o.ExtKeyUsage,
		OCSPServer:            o.OCSPServer,
		CRLDistributionPoints: o.CRLDistributionPoints,
		PolicyIdentifiers:     o.Policies,
		ExtraExtensions:       o.ExtraExtensions,
		BasicConstraintsValid: true,
		IsCA:                  o.IsCA,
	}
	if o.IsCA {
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment
	}
	return tmpl
}

// NewRoot creates a self-signed CA.
func NewRoot(t testing.TB, name string) *Authority {
	t.Helper()
	return NewRootWithOptions(t, Options{CommonName: name, IsCA: true})
}

// NewRootWithOptions creates a self-signed certificate from opts.
func NewRootWithOptions(t testing.TB, opts Options) *Authority {
	t.Helper()
	key := newKey(t)
	tmpl := opts.template()
	tmpl.SubjectKeyId = keyID(t, key.Public())
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		t.Fatalf("failed to create root certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse root certificate: %v", err)
	}
	return &Authority{Cert: cert, Key: key}
}

// Issue creates a certificate signed by a.
func (a *Authority) Issue(t testing.TB, opts Options) *Authority {
	t.Helper()
	key := newKey(t)
	tmpl := opts.template()
	tmpl.SubjectKeyId = keyID(t, key.Public())
	tmpl.AuthorityKeyId = a.Cert.SubjectKeyId
	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.Cert, key.Public(), a.Key)
	if err != nil {
		t.Fatalf("failed to issue certificate %q: %v", opts.CommonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse issued certificate: %v", err)
	}
	return &Authority{Cert: cert, Key: key}
}

func keyID(t testing.TB, pub crypto.PublicKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to marshal public key: %v", err)
	}
	sum := sha256.Sum256(der)
	return sum[:20]
}

// CRL issues a CRL listing revoked.
func (a *Authority) CRL(t testing.TB, thisUpdate time.Time, revoked ...x509.RevocationListEntry) *x509.RevocationList {
	t.Helper()
	tmpl := &x509.RevocationList{
		Number:                    nextSerial(),
		ThisUpdate:                thisUpdate,
		NextUpdate:                thisUpdate.Add(7 * 24 * time.Hour),
		RevokedCertificateEntries: revoked,
	}
	der, err := x509.CreateRevocationList(rand.Reader, tmpl, a.Cert, a.Key)
	if err != nil {
		t.Fatalf("failed to create CRL: %v", err)
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		t.Fatalf("failed to parse CRL: %v", err)
	}
	return crl
}

// OCSP issues an OCSP response for cert signed directly by a.
func (a *Authority) OCSP(t testing.TB, cert *x509.Certificate, status int, revokedAt time.Time) *ocsp.Response {
	t.Helper()
	now := time.Now()
	tmpl := ocsp.Response{
		Status:       status,
		SerialNumber: cert.SerialNumber,
		ThisUpdate:   now.Add(-time.Hour),
		NextUpdate:   now.Add(24 * time.Hour),
		IssuerHash:   crypto.SHA256,
	}
	if status == ocsp.Revoked {
		tmpl.RevokedAt = revokedAt
		tmpl.RevocationReason = ocsp.KeyCompromise
	}
	der, err := ocsp.CreateResponse(a.Cert, a.Cert, tmpl, a.Key)
	if err != nil {
		t.Fatalf("failed to create OCSP response: %v", err)
	}
	resp, err := ocsp.ParseResponse(der, a.Cert)
	if err != nil {
		t.Fatalf("failed to parse OCSP response: %v", err)
	}
	return resp
}

// Timestamp returns an RFC 3161 token over data signed by a, which must carry
// the time stamping extended key usage.
func (a *Authority) Timestamp(t testing.TB, data []byte, genTime time.Time) []byte {
	t.Helper()
	sum := sha256.Sum256(data)
	return a.TimestampDigest(t, crypto.SHA256, sum[:], genTime)
}

// TimestampDigest returns an RFC 3161 token over a precomputed digest.
func (a *Authority) TimestampDigest(t testing.TB, hash crypto.Hash, digest []byte, genTime time.Time) []byte {
	t.Helper()
	ts := timestamp.Timestamp{
		HashAlgorithm:     hash,
		HashedMessage:     digest,
		Time:              genTime,
		Policy:            asn1.ObjectIdentifier{1, 2, 3, 4, 1},
		AddTSACertificate: true,
	}
	resp, err := ts.CreateResponseWithOpts(a.Cert, a.Key, crypto.SHA256)
	if err != nil {
		t.Fatalf("failed to create timestamp: %v", err)
	}
	parsed, err := timestamp.ParseResponse(resp)
	if err != nil {
		t.Fatalf("failed to parse timestamp response: %v", err)
	}
	return parsed.RawToken
}

// NewTSA issues a time stamping unit certificate under a.
func (a *Authority) NewTSA(t testing.TB, name string) *Authority {
	t.Helper()
	return a.Issue(t, Options{CommonName: name, ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping}})
}

// SignedData is a CMS signature under construction.
type SignedData struct {
	sd *pkcs7.SignedData
}

// NewSignedData starts a SHA-256 CMS signature over content by signer with
// chain appended to the certificate set.
func NewSignedData(t testing.TB, content []byte, signer *Authority, signedAttrs []pkcs7.Attribute, chain ...*x509.Certificate) *SignedData {
	t.Helper()
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		t.Fatalf("failed to create signed data: %v", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(signer.Cert, signer.Key, pkcs7.SignerInfoConfig{ExtraSignedAttributes: signedAttrs}); err != nil {
		t.Fatalf("failed to add signer: %v", err)
	}
	for _, c := range chain {
		sd.AddCertificate(c)
	}
	return &SignedData{sd: sd}
}

// SignatureValue returns the signature octets of the first signer.
func (s *SignedData) SignatureValue() []byte {
	return s.sd.GetSignedData().SignerInfos[0].EncryptedDigest
}

// SetUnsignedAttributes replaces the unsigned attributes of the first signer.
func (s *SignedData) SetUnsignedAttributes(t testing.TB, attrs []pkcs7.Attribute) {
	t.Helper()
	if err := s.sd.GetSignedData().SignerInfos[0].SetUnauthenticatedAttributes(attrs); err != nil {
		t.Fatalf("failed to set unsigned attributes: %v", err)
	}
}

// Detach drops the encapsulated content.
func (s *SignedData) Detach() {
	s.sd.Detach()
}

// Finish encodes the signature.
func (s *SignedData) Finish(t testing.TB) []byte {
	t.Helper()
	der, err := s.sd.Finish()
	if err != nil {
		t.Fatalf("failed to finish signed data: %v", err)
	}
	return der
}
