package revocation

import (
	"crypto/x509"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Validity is the outcome of a single revocation check.
type Validity int

const (
	Unknown Validity = iota
	Valid
	Revoked
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "VALID"
	case Revoked:
		return "REVOKED"
	}
	return "UNKNOWN"
}

// StatusSourceType names the kind of evidence a status was derived from.
type StatusSourceType int

const (
	StatusFromCRL StatusSourceType = iota + 1
	StatusFromOCSP
)

func (s StatusSourceType) String() string {
	switch s {
	case StatusFromCRL:
		return "CRL"
	case StatusFromOCSP:
		return "OCSP"
	}
	return "NONE"
}

// CertificateStatus is the immutable result of one revocation check.
type CertificateStatus struct {
	Certificate *x509.Certificate
	Issuer      *x509.Certificate
	Validity    Validity

	SourceType StatusSourceType
	// Exactly one of CRL and OCSP is set, matching SourceType.
	CRL  *x509.RevocationList
	OCSP *ocsp.Response

	// RevocationObjectIssuingTime is the CRL thisUpdate or the OCSP producedAt.
	RevocationObjectIssuingTime time.Time
	// RevocationDate is set when the certificate is listed as revoked.
	RevocationDate time.Time
	ValidationDate time.Time
}
