package revocation

import (
	"crypto/x509"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/log"
)

// CertificateStatusVerifier derives the status of cert at date. A nil
// result means no evidence was found.
type CertificateStatusVerifier interface {
	Check(cert, issuer *x509.Certificate, date time.Time) *CertificateStatus
}

// CRLCertificateVerifier checks a certificate against a CRL source.
type CRLCertificateVerifier struct {
	Source CRLSource
}

// NewCRLCertificateVerifier returns a verifier over source.
func NewCRLCertificateVerifier(source CRLSource) *CRLCertificateVerifier {
	return &CRLCertificateVerifier{Source: source}
}

func (v *CRLCertificateVerifier) Check(cert, issuer *x509.Certificate, date time.Time) *CertificateStatus {
	if v == nil || v.Source == nil || cert == nil {
		return nil
	}
	crl := v.Source.FindCRL(cert, issuer)
	if crl == nil {
		log.Debug("no CRL found for ", cert.Subject.CommonName)
		return nil
	}
	if issuer == nil || crl.CheckSignatureFrom(issuer) != nil {
		log.Warning("CRL for ", cert.Subject.CommonName, " is not signed by the certificate issuer")
		return nil
	}
	status := &CertificateStatus{
		Certificate:                 cert,
		Issuer:                      issuer,
		Validity:                    Valid,
		SourceType:                  StatusFromCRL,
		CRL:                         crl,
		RevocationObjectIssuingTime: crl.ThisUpdate,
		ValidationDate:              date,
	}
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber == nil || entry.SerialNumber.Cmp(cert.SerialNumber) != 0 {
			continue
		}
		status.RevocationDate = entry.RevocationTime
		// Revoked after the validation date means still valid at that date.
		if !entry.RevocationTime.After(date) {
			status.Validity = Revoked
		}
		break
	}
	return status
}

// OCSPCertificateVerifier checks a certificate against an OCSP source.
type OCSPCertificateVerifier struct {
	Source OCSPSource
}

// NewOCSPCertificateVerifier returns a verifier over source.
func NewOCSPCertificateVerifier(source OCSPSource) *OCSPCertificateVerifier {
	return &OCSPCertificateVerifier{Source: source}
}

func (v *OCSPCertificateVerifier) Check(cert, issuer *x509.Certificate, date time.Time) *CertificateStatus {
	if v == nil || v.Source == nil || cert == nil {
		return nil
	}
	resp := v.Source.FindOCSPResponse(cert, issuer)
	if resp == nil {
		log.Debug("no OCSP response found for ", cert.Subject.CommonName)
		return nil
	}
	status := &CertificateStatus{
		Certificate:                 cert,
		Issuer:                      issuer,
		Validity:                    Unknown,
		SourceType:                  StatusFromOCSP,
		OCSP:                        resp,
		RevocationObjectIssuingTime: resp.ProducedAt,
		ValidationDate:              date,
	}
	if resp.SerialNumber == nil || resp.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		return status
	}
	switch resp.Status {
	case ocsp.Good:
		status.Validity = Valid
	case ocsp.Revoked:
		status.RevocationDate = resp.RevokedAt
		if resp.RevokedAt.After(date) {
			status.Validity = Valid
		} else {
			status.Validity = Revoked
		}
	}
	return status
}

// OCSPAndCRLCertificateVerifier asks OCSP first and falls back to CRL when
// OCSP gives nothing definite. The order is fixed.
type OCSPAndCRLCertificateVerifier struct {
	OCSP CertificateStatusVerifier
	CRL  CertificateStatusVerifier
}

// NewOCSPAndCRLCertificateVerifier builds the verifier over the two sources.
// Either source may be nil.
func NewOCSPAndCRLCertificateVerifier(crlSource CRLSource, ocspSource OCSPSource) *OCSPAndCRLCertificateVerifier {
	v := &OCSPAndCRLCertificateVerifier{}
	if ocspSource != nil {
		v.OCSP = NewOCSPCertificateVerifier(ocspSource)
	}
	if crlSource != nil {
		v.CRL = NewCRLCertificateVerifier(crlSource)
	}
	return v
}

// Check returns the CRL result whenever OCSP is silent or UNKNOWN, so an
// UNKNOWN response without a CRL yields nil and callers can try other sources.
func (v *OCSPAndCRLCertificateVerifier) Check(cert, issuer *x509.Certificate, date time.Time) *CertificateStatus {
	if v.OCSP != nil {
		if status := v.OCSP.Check(cert, issuer, date); status != nil && status.Validity != Unknown {
			return status
		}
	}
	if v.CRL == nil {
		return nil
	}
	return v.CRL.Check(cert, issuer, date)
}
