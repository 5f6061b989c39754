// Package token models the evidence whose trust the validation context has
// to establish: certificates, CRLs, OCSP responses and timestamps.
package token

import (
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/source"
)

// Kind discriminates the token variants.
type Kind int

const (
	KindCertificate Kind = iota
	KindCRL
	KindOCSP
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindCertificate:
		return "certificate"
	case KindCRL:
		return "crl"
	case KindOCSP:
		return "ocsp"
	case KindTimestamp:
		return "timestamp"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Token is a piece of signed evidence. Exactly one of the variant fields is
// set, as reported by Kind. Tokens are immutable and compare by Identity.
type Token struct {
	kind     Kind
	identity string

	cert      common.CertificateAndContext
	crl       *x509.RevocationList
	ocspResp  *ocsp.Response
	timestamp *Timestamp
}

func identityOf(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// NewCertificate wraps a certificate.
func NewCertificate(cc common.CertificateAndContext) *Token {
	return &Token{kind: KindCertificate, identity: identityOf(cc.Certificate.Raw), cert: cc}
}

// NewCRL wraps a parsed CRL.
func NewCRL(crl *x509.RevocationList) *Token {
	return &Token{kind: KindCRL, identity: identityOf(crl.Raw), crl: crl}
}

// NewOCSP wraps a parsed OCSP response.
func NewOCSP(resp *ocsp.Response) *Token {
	der := resp.Raw
	if len(der) == 0 {
		der = resp.TBSResponseData
	}
	return &Token{kind: KindOCSP, identity: identityOf(der), ocspResp: resp}
}

// NewTimestampToken wraps a parsed timestamp.
func NewTimestampToken(ts *Timestamp) *Token {
	return &Token{kind: KindTimestamp, identity: identityOf(ts.Raw()), timestamp: ts}
}

func (t *Token) Kind() Kind { return t.kind }

// Identity is the hex SHA-256 of the token encoding.
func (t *Token) Identity() string { return t.identity }

// Equal compares tokens by encoded value.
func (t *Token) Equal(other *Token) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.identity == other.identity
}

// Certificate returns the wrapped certificate for certificate tokens.
func (t *Token) Certificate() (common.CertificateAndContext, bool) {
	return t.cert, t.kind == KindCertificate
}

// CRL returns the wrapped CRL for CRL tokens.
func (t *Token) CRL() *x509.RevocationList { return t.crl }

// OCSP returns the wrapped response for OCSP tokens.
func (t *Token) OCSP() *ocsp.Response { return t.ocspResp }

// Timestamp returns the wrapped timestamp for timestamp tokens.
func (t *Token) Timestamp() *Timestamp { return t.timestamp }

// SignerSubjectName is the name under which the signer of the token is
// looked up. ok is false when the token carries no usable signer name.
func (t *Token) SignerSubjectName() (name pkix.Name, ok bool) {
	switch t.kind {
	case KindCertificate:
		return t.cert.Certificate.Issuer, true
	case KindCRL:
		return t.crl.Issuer, true
	case KindOCSP:
		if len(t.ocspResp.RawResponderName) > 0 {
			var rdn pkix.RDNSequence
			if _, err := asn1.Unmarshal(t.ocspResp.RawResponderName, &rdn); err == nil {
				name.FillFromRDNSequence(&rdn)
				return name, true
			}
		}
		if t.ocspResp.Certificate != nil {
			return t.ocspResp.Certificate.Subject, true
		}
		return name, false
	case KindTimestamp:
		if c := t.timestamp.SignerCertificate(); c != nil {
			return c.Subject, true
		}
		return name, false
	}
	return name, false
}

// IsSignedBy reports whether candidate produced the signature on the token.
func (t *Token) IsSignedBy(candidate *x509.Certificate) bool {
	if candidate == nil {
		return false
	}
	switch t.kind {
	case KindCertificate:
		return t.cert.Certificate.CheckSignatureFrom(candidate) == nil
	case KindCRL:
		return t.crl.CheckSignatureFrom(candidate) == nil
	case KindOCSP:
		return t.ocspResp.CheckSignatureFrom(candidate) == nil
	case KindTimestamp:
		return t.timestamp.IsSignedBy(candidate)
	}
	return false
}

// WrappedCertificateSource returns the certificates carried inside the token,
// or nil when the token embeds none.
func (t *Token) WrappedCertificateSource() source.CertificateSource {
	switch t.kind {
	case KindOCSP:
		if t.ocspResp.Certificate != nil {
			return source.NewListCertificateSource(common.SourceOCSPResponse, t.ocspResp.Certificate)
		}
	case KindTimestamp:
		if certs := t.timestamp.Certificates(); len(certs) > 0 {
			return source.NewListCertificateSource(common.SourceTimestamp, certs...)
		}
	}
	return nil
}

func (t *Token) String() string {
	switch t.kind {
	case KindCertificate:
		return fmt.Sprintf("certificate[%s serial=%s]", t.cert.Certificate.Subject.CommonName, t.cert.Certificate.SerialNumber)
	case KindCRL:
		return fmt.Sprintf("crl[%s]", t.crl.Issuer.CommonName)
	case KindOCSP:
		return fmt.Sprintf("ocsp[serial=%s]", t.ocspResp.SerialNumber)
	case KindTimestamp:
		return fmt.Sprintf("timestamp[%s]", t.timestamp.GenerationTime().UTC().Format("2006-01-02T15:04:05Z"))
	}
	return "token"
}
