package report

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/subnoto/adesvalidator/signature"
)

// ValidationReport is the outcome of validating one document.
type ValidationReport struct {
	ID                   string                 `json:"id"`
	DocumentName         string                 `json:"document_name,omitempty"`
	TimeInformation      TimeInformation        `json:"time_information"`
	SignatureInformation []SignatureInformation `json:"signature_information"`
}

// TimeInformation records when the validation ran.
type TimeInformation struct {
	VerificationTime time.Time `json:"verification_time"`
}

// NewValidationReport returns an empty report with a fresh identifier.
func NewValidationReport(documentName string, now time.Time) *ValidationReport {
	return &ValidationReport{
		ID:                   uuid.NewString(),
		DocumentName:         documentName,
		TimeInformation:      TimeInformation{VerificationTime: now},
		SignatureInformation: []SignatureInformation{},
	}
}

// CertificateInfo identifies a certificate in the report.
type CertificateInfo struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	// Fingerprint is the hex SHA-256 of the DER encoding.
	Fingerprint string `json:"fingerprint"`
}

// NewCertificateInfo describes cert. A nil certificate yields nil.
func NewCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	if cert == nil {
		return nil
	}
	sum := sha256.Sum256(cert.Raw)
	return &CertificateInfo{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		Fingerprint:  hex.EncodeToString(sum[:]),
	}
}

// SignatureInformation is everything established about one signature.
type SignatureInformation struct {
	ID   string `json:"id"`
	Form string `json:"form"`
	// CounterSignatureOf is the ID of the signature this one countersigns.
	CounterSignatureOf string `json:"counter_signature_of,omitempty"`

	SigningCertificate *CertificateInfo `json:"signing_certificate,omitempty"`
	SigningTime        *time.Time       `json:"signing_time,omitempty"`
	ReferenceTime      time.Time        `json:"reference_time"`

	SignatureVerification      SignatureVerification       `json:"signature_verification"`
	CertPathRevocationAnalysis *CertPathRevocationAnalysis `json:"cert_path_revocation_analysis,omitempty"`
	SignatureLevelAnalysis     *SignatureLevelAnalysis     `json:"signature_level_analysis,omitempty"`
	QCStatementInformation     *QCStatementInformation     `json:"qc_statement_information,omitempty"`
	QualificationsVerification *QualificationsVerification `json:"qualifications_verification,omitempty"`

	FinalConclusion        FinalConclusion `json:"final_conclusion"`
	FinalConclusionComment string          `json:"final_conclusion_comment,omitempty"`

	// Error is set when validation of this signature was aborted.
	Error string `json:"error,omitempty"`
}

// SignatureVerification is the cryptographic check of the signature value.
type SignatureVerification struct {
	SignatureVerificationResult Result `json:"signature_verification_result"`
	SignatureAlgorithm          string `json:"signature_algorithm,omitempty"`
}

// RevocationVerification is the revocation status of one certificate.
type RevocationVerification struct {
	Status Result `json:"status"`
	// Source is CRL or OCSP, empty without evidence.
	Source                      string     `json:"source,omitempty"`
	RevocationObjectIssuingTime *time.Time `json:"revocation_object_issuing_time,omitempty"`
	RevocationDate              *time.Time `json:"revocation_date,omitempty"`
}

// CertificateVerification covers one certificate of the path.
type CertificateVerification struct {
	Certificate                *CertificateInfo        `json:"certificate"`
	SourceType                 string                  `json:"source_type"`
	ValidityPeriodVerification Result                  `json:"validity_period_verification"`
	SignatureVerification      Result                  `json:"signature_verification"`
	CertificateStatus          *RevocationVerification `json:"certificate_status,omitempty"`
}

// TrustedListInformation describes the trust service the path ends in.
type TrustedListInformation struct {
	ServiceWasFound    bool       `json:"service_was_found"`
	WellSigned         bool       `json:"well_signed"`
	TSPName            string     `json:"tsp_name,omitempty"`
	ServiceName        string     `json:"service_name,omitempty"`
	ServiceStatus      string     `json:"service_status,omitempty"`
	StatusStartingDate *time.Time `json:"status_starting_date,omitempty"`
	StatusEndingDate   *time.Time `json:"status_ending_date,omitempty"`
	Qualifiers         []string   `json:"qualifiers,omitempty"`
}

// CertPathRevocationAnalysis summarizes the certification path of the
// signing certificate.
type CertPathRevocationAnalysis struct {
	Summary                     Result                    `json:"summary"`
	CertificatePathVerification []CertificateVerification `json:"certificate_path_verification"`
	TrustedListInformation      TrustedListInformation    `json:"trusted_list_information"`
}

// TimestampVerificationResult covers one timestamp of a level.
type TimestampVerificationResult struct {
	Type                    string           `json:"type"`
	CreationTime            time.Time        `json:"creation_time"`
	Issuer                  *CertificateInfo `json:"issuer,omitempty"`
	SameDigest              Result           `json:"same_digest"`
	CertPathUpToTrustedList Result           `json:"cert_path_up_to_trusted_list"`
}

type SignatureLevelBES struct {
	LevelReached       Result           `json:"level_reached"`
	SigningCertificate *CertificateInfo `json:"signing_certificate,omitempty"`
}

type SignatureLevelEPES struct {
	LevelReached Result              `json:"level_reached"`
	PolicyID     *signature.PolicyID `json:"policy_id,omitempty"`
}

type SignatureLevelT struct {
	LevelReached        Result                        `json:"level_reached"`
	SignatureTimestamps []TimestampVerificationResult `json:"signature_timestamps,omitempty"`
}

type SignatureLevelC struct {
	LevelReached                Result `json:"level_reached"`
	CertificateRefsVerification Result `json:"certificate_refs_verification"`
	RevocationRefsVerification  Result `json:"revocation_refs_verification"`
}

type SignatureLevelX struct {
	LevelReached               Result                        `json:"level_reached"`
	SignatureAndRefsTimestamps []TimestampVerificationResult `json:"signature_and_refs_timestamps,omitempty"`
	ReferencesTimestamps       []TimestampVerificationResult `json:"references_timestamps,omitempty"`
}

type SignatureLevelXL struct {
	LevelReached                  Result `json:"level_reached"`
	CertificateValuesVerification Result `json:"certificate_values_verification"`
	RevocationValuesVerification  Result `json:"revocation_values_verification"`
}

type SignatureLevelA struct {
	LevelReached      Result                        `json:"level_reached"`
	ArchiveTimestamps []TimestampVerificationResult `json:"archive_timestamps,omitempty"`
}

type SignatureLevelLTV struct {
	LevelReached               Result `json:"level_reached"`
	CertificateVerification    Result `json:"certificate_verification"`
	RevocationDataVerification Result `json:"revocation_data_verification"`
	VRIVerification            Result `json:"vri_verification"`
}

// SignatureLevelAnalysis holds one entry per level. A and LTV are nil for
// formats they do not apply to.
type SignatureLevelAnalysis struct {
	SignatureFormat string             `json:"signature_format"`
	BES             SignatureLevelBES  `json:"bes"`
	EPES            SignatureLevelEPES `json:"epes"`
	T               SignatureLevelT    `json:"t"`
	C               SignatureLevelC    `json:"c"`
	X               SignatureLevelX    `json:"x"`
	XL              SignatureLevelXL   `json:"xl"`
	A               *SignatureLevelA   `json:"a,omitempty"`
	LTV             *SignatureLevelLTV `json:"ltv,omitempty"`
}
