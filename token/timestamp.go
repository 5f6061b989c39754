package token

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
)

// ErrUnsupportedHash is returned when the digest algorithm of a timestamp
// is not linked into the binary.
var ErrUnsupportedHash = errors.New("timestamp digest algorithm is not available")

// TimestampType tells what a timestamp covers.
type TimestampType int

const (
	SignatureTimestamp TimestampType = iota
	// ValidationDataTimestamp covers the signature, its timestamps and the
	// validation data references (CAdES-C-time-stamp, XAdES SigAndRefs).
	ValidationDataTimestamp
	// ValidationDataRefsOnlyTimestamp covers only the references.
	ValidationDataRefsOnlyTimestamp
	ArchiveTimestamp
)

func (t TimestampType) String() string {
	switch t {
	case SignatureTimestamp:
		return "SIGNATURE_TIMESTAMP"
	case ValidationDataTimestamp:
		return "VALIDATION_DATA_TIMESTAMP"
	case ValidationDataRefsOnlyTimestamp:
		return "VALIDATION_DATA_REFSONLY_TIMESTAMP"
	case ArchiveTimestamp:
		return "ARCHIVE_TIMESTAMP"
	}
	return "UNKNOWN_TIMESTAMP"
}

// Timestamp is a parsed RFC 3161 token.
type Timestamp struct {
	raw    []byte
	typ    TimestampType
	info   *timestamp.Timestamp
	p7     *pkcs7.PKCS7
	signer *x509.Certificate
}

// ParseTimestamp decodes a TimeStampToken (a CMS SignedData over TSTInfo).
func ParseTimestamp(der []byte, typ TimestampType) (*Timestamp, error) {
	info, err := timestamp.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp token: %w", err)
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp signed data: %w", err)
	}
	if len(p7.Signers) != 1 {
		return nil, fmt.Errorf("timestamp token has %d signers", len(p7.Signers))
	}
	ts := &Timestamp{raw: der, typ: typ, info: info, p7: p7}
	ts.signer = ts.findSigner(p7.Certificates)
	return ts, nil
}

func (ts *Timestamp) findSigner(certs []*x509.Certificate) *x509.Certificate {
	for _, c := range certs {
		if ts.matchesSID(c) {
			return c
		}
	}
	return nil
}

func (ts *Timestamp) matchesSID(c *x509.Certificate) bool {
	sid := ts.p7.Signers[0].IssuerAndSerialNumber
	if sid.SerialNumber == nil || c.SerialNumber.Cmp(sid.SerialNumber) != 0 {
		return false
	}
	return bytes.Equal(c.RawIssuer, sid.IssuerName.FullBytes)
}

// Raw returns the DER encoding of the token.
func (ts *Timestamp) Raw() []byte { return ts.raw }

func (ts *Timestamp) Type() TimestampType { return ts.typ }

// GenerationTime is the genTime of the TSTInfo.
func (ts *Timestamp) GenerationTime() time.Time { return ts.info.Time }

func (ts *Timestamp) HashAlgorithm() crypto.Hash { return ts.info.HashAlgorithm }

// MessageImprint returns the hashed message carried by the token.
func (ts *Timestamp) MessageImprint() []byte { return ts.info.HashedMessage }

// Certificates returns the certificates embedded in the token.
func (ts *Timestamp) Certificates() []*x509.Certificate { return ts.p7.Certificates }

// SignerCertificate returns the embedded TSA certificate, if any.
func (ts *Timestamp) SignerCertificate() *x509.Certificate { return ts.signer }

// IsSignedBy reports whether candidate is the TSA certificate named in the
// token and its key verifies the token signature.
func (ts *Timestamp) IsSignedBy(candidate *x509.Certificate) bool {
	if !ts.matchesSID(candidate) {
		return false
	}
	p7 := *ts.p7
	p7.Certificates = []*x509.Certificate{candidate}
	return p7.Verify() == nil
}

// MatchData reports whether the message imprint is the digest of data.
func (ts *Timestamp) MatchData(data []byte) (bool, error) {
	h := ts.info.HashAlgorithm
	if h == 0 || !h.Available() {
		return false, ErrUnsupportedHash
	}
	d := h.New()
	d.Write(data)
	return bytes.Equal(d.Sum(nil), ts.info.HashedMessage), nil
}
