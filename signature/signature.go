// Package signature defines what the level evaluator needs to know about a
// parsed advanced electronic signature, independently of its format.
package signature

import (
	"crypto/x509"
	"errors"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/revocation"
	"github.com/subnoto/adesvalidator/source"
	"github.com/subnoto/adesvalidator/token"
)

var (
	// ErrNotSupported is returned for data a format cannot produce.
	ErrNotSupported = errors.New("not supported by this signature format")
	// ErrNoSigningCertificate is returned when the signer cannot be identified.
	ErrNoSigningCertificate = errors.New("signing certificate not found")
)

// Form is the signature format family.
type Form int

const (
	FormCAdES Form = iota + 1
	FormPAdES
	FormXAdES
)

func (f Form) String() string {
	switch f {
	case FormCAdES:
		return "CAdES"
	case FormPAdES:
		return "PAdES"
	case FormXAdES:
		return "XAdES"
	}
	return "UNKNOWN"
}

// PolicyID identifies the signature policy of an EPES signature.
type PolicyID struct {
	// Identifier is a dotted OID or a URN/URI.
	Identifier      string `json:"identifier"`
	DigestAlgorithm string `json:"digest_algorithm,omitempty"`
	Digest          []byte `json:"digest,omitempty"`
	// Implied is set when the policy is implied by the signature context.
	Implied bool `json:"implied,omitempty"`
}

// AdvancedSignature is one signature produced by a format adapter.
type AdvancedSignature interface {
	Form() Form

	// SigningCertificate is nil when no embedded certificate matches the
	// signer identifier.
	SigningCertificate() *x509.Certificate
	// SigningTime is the claimed signing time, zero when absent.
	SigningTime() time.Time

	// Sources over the material embedded in the signature.
	CertificateSource() source.CertificateSource
	CRLSource() revocation.CRLSource
	OCSPSource() revocation.OCSPSource

	SignatureTimestamps() []*token.Timestamp
	TimestampsX1() []*token.Timestamp
	TimestampsX2() []*token.Timestamp
	ArchiveTimestamps() []*token.Timestamp

	// CheckIntegrity verifies the signature value over the signed content.
	// detached supplies the content of a detached signature and may be nil.
	CheckIntegrity(detached common.Document) (bool, error)

	CertificateRefs() []CertificateRef
	CRLRefs() []CRLRef
	OCSPRefs() []OCSPRef

	// Embedded values.
	Certificates() []*x509.Certificate
	CRLs() []*x509.RevocationList
	OCSPs() []*ocsp.Response

	// PolicyID is nil for signatures without a policy.
	PolicyID() *PolicyID
	CounterSignatures() []AdvancedSignature

	// Bytes covered by each timestamp class.
	SignatureTimestampData() ([]byte, error)
	TimestampX1Data() ([]byte, error)
	TimestampX2Data() ([]byte, error)
	ArchiveTimestampData(ts *token.Timestamp, detached common.Document) ([]byte, error)
}
