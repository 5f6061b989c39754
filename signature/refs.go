package signature

import (
	"bytes"
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/revocation"
)

// ErrUnsupportedDigest is returned when a reference uses a digest algorithm
// that is not available.
var ErrUnsupportedDigest = errors.New("unsupported digest algorithm")

var (
	oidSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA224 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// HashFromOID maps a digest algorithm identifier to a hash. Unknown
// identifiers map to zero.
func HashFromOID(oid asn1.ObjectIdentifier) crypto.Hash {
	switch {
	case oid.Equal(oidSHA1):
		return crypto.SHA1
	case oid.Equal(oidSHA224):
		return crypto.SHA224
	case oid.Equal(oidSHA256):
		return crypto.SHA256
	case oid.Equal(oidSHA384):
		return crypto.SHA384
	case oid.Equal(oidSHA512):
		return crypto.SHA512
	}
	return 0
}

// OIDFromHash is the inverse of HashFromOID.
func OIDFromHash(h crypto.Hash) (asn1.ObjectIdentifier, bool) {
	switch h {
	case crypto.SHA1:
		return oidSHA1, true
	case crypto.SHA224:
		return oidSHA224, true
	case crypto.SHA256:
		return oidSHA256, true
	case crypto.SHA384:
		return oidSHA384, true
	case crypto.SHA512:
		return oidSHA512, true
	}
	return nil, false
}

func digestMatches(h crypto.Hash, want, data []byte) (bool, error) {
	if h == 0 || !h.Available() {
		return false, ErrUnsupportedDigest
	}
	d := h.New()
	d.Write(data)
	return bytes.Equal(d.Sum(nil), want), nil
}

// CertificateRef references a certificate by digest.
type CertificateRef struct {
	DigestAlgorithm crypto.Hash
	Digest          []byte
	IssuerName      pkix.Name
	SerialNumber    *big.Int
}

// Match compares the digest of cert using the declared algorithm.
func (r CertificateRef) Match(cert *x509.Certificate) (bool, error) {
	return digestMatches(r.DigestAlgorithm, r.Digest, cert.Raw)
}

// CRLRef references a CRL by digest.
type CRLRef struct {
	DigestAlgorithm crypto.Hash
	Digest          []byte
	IssuerName      pkix.Name
	IssuedAt        time.Time
	Number          *big.Int
}

// Match compares the digest of crl using the declared algorithm.
func (r CRLRef) Match(crl *x509.RevocationList) (bool, error) {
	return digestMatches(r.DigestAlgorithm, r.Digest, crl.Raw)
}

// OCSPRef references an OCSP response by digest. References carry no digest
// when only the responder and production time were recorded.
type OCSPRef struct {
	DigestAlgorithm crypto.Hash
	Digest          []byte
	ProducedAt      time.Time
}

// Match compares the digest of the basic response, and of the full response
// as some producers digest that instead. Without a digest the production
// time is compared.
func (r OCSPRef) Match(resp *ocsp.Response) (bool, error) {
	if len(r.Digest) == 0 {
		return !r.ProducedAt.IsZero() && r.ProducedAt.Equal(resp.ProducedAt), nil
	}
	if basic, err := revocation.BasicOCSPResponse(resp); err == nil {
		ok, err := digestMatches(r.DigestAlgorithm, r.Digest, basic)
		if err != nil || ok {
			return ok, err
		}
	}
	if len(resp.Raw) == 0 {
		return false, nil
	}
	return digestMatches(r.DigestAlgorithm, r.Digest, resp.Raw)
}
