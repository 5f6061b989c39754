package common

import (
	"bytes"
	"crypto/x509"
	"time"
)

// CertificateSourceType records where a certificate was obtained from.
type CertificateSourceType int

const (
	SourceOther CertificateSourceType = iota
	SourceSignature
	SourceOCSPResponse
	SourceTimestamp
	SourceKeyStore
	SourceTrustedList
)

func (t CertificateSourceType) String() string {
	switch t {
	case SourceSignature:
		return "SIGNATURE"
	case SourceOCSPResponse:
		return "OCSP_RESPONSE"
	case SourceTimestamp:
		return "TIMESTAMP"
	case SourceKeyStore:
		return "KEYSTORE"
	case SourceTrustedList:
		return "TRUSTED_LIST"
	default:
		return "OTHER"
	}
}

// Trusted list service qualifiers (ETSI TS 119 612).
const (
	QualifierQCWithSSCD           = "http://uri.etsi.org/TrstSvc/TrustedList/SvcInfoExt/QCWithSSCD"
	QualifierQCNoSSCD             = "http://uri.etsi.org/TrstSvc/TrustedList/SvcInfoExt/QCNoSSCD"
	QualifierQCSSCDStatusAsInCert = "http://uri.etsi.org/TrstSvc/TrustedList/SvcInfoExt/QCSSCDStatusAsInCert"
	QualifierQCForLegalPerson     = "http://uri.etsi.org/TrstSvc/TrustedList/SvcInfoExt/QCForLegalPerson"
)

// ServiceInfo describes the trust service a trusted list associates with a
// certificate.
type ServiceInfo struct {
	TSPName            string     `json:"tsp_name" yaml:"tsp-name"`
	ServiceName        string     `json:"service_name" yaml:"service-name"`
	ServiceType        string     `json:"service_type" yaml:"service-type"`
	Status             string     `json:"status" yaml:"status"`
	StatusStartingDate *time.Time `json:"status_starting_date,omitempty" yaml:"status-starting-date"`
	StatusEndingDate   *time.Time `json:"status_ending_date,omitempty" yaml:"status-ending-date"`
	Qualifiers         []string   `json:"qualifiers,omitempty" yaml:"qualifiers"`
	// TLWellSigned is false when the signature of the trusted list itself
	// could not be confirmed.
	TLWellSigned bool `json:"tl_well_signed" yaml:"tl-well-signed"`
}

// InStatusWindow reports whether date falls inside the service status window.
// Open bounds are unconstrained.
func (s *ServiceInfo) InStatusWindow(date time.Time) bool {
	if s == nil {
		return true
	}
	if s.StatusStartingDate != nil && date.Before(*s.StatusStartingDate) {
		return false
	}
	if s.StatusEndingDate != nil && date.After(*s.StatusEndingDate) {
		return false
	}
	return true
}

// HasQualifier reports whether the service carries the given qualifier URI.
func (s *ServiceInfo) HasQualifier(uri string) bool {
	if s == nil {
		return false
	}
	for _, q := range s.Qualifiers {
		if q == uri {
			return true
		}
	}
	return false
}

// CertificateAndContext is a certificate together with its provenance.
type CertificateAndContext struct {
	Certificate *x509.Certificate
	SourceType  CertificateSourceType
	// Context is set only for certificates sourced from a trusted list.
	Context *ServiceInfo
}

// NewCertificateAndContext wraps cert with the given provenance.
func NewCertificateAndContext(cert *x509.Certificate, sourceType CertificateSourceType) CertificateAndContext {
	return CertificateAndContext{Certificate: cert, SourceType: sourceType}
}

// IsTrustedList reports whether the certificate came from a trusted list.
func (c CertificateAndContext) IsTrustedList() bool {
	return c.SourceType == SourceTrustedList
}

// SameCertificate compares the encoded certificates.
func (c CertificateAndContext) SameCertificate(other CertificateAndContext) bool {
	if c.Certificate == nil || other.Certificate == nil {
		return c.Certificate == other.Certificate
	}
	return bytes.Equal(c.Certificate.Raw, other.Certificate.Raw)
}

// IsSelfSigned reports whether subject and issuer names are equal.
func IsSelfSigned(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	return bytes.Equal(cert.RawSubject, cert.RawIssuer) ||
		CanonicalName(cert.Subject) == CanonicalName(cert.Issuer)
}

// ValidAt reports whether date is inside the certificate validity period.
func ValidAt(cert *x509.Certificate, date time.Time) bool {
	return !date.Before(cert.NotBefore) && !date.After(cert.NotAfter)
}
