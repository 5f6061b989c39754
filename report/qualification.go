package report

// FinalConclusion is the qualification of a signature.
type FinalConclusion string

const (
	ConclusionQES          FinalConclusion = "QES"
	ConclusionAdESQC       FinalConclusion = "AdES_QC"
	ConclusionAdES         FinalConclusion = "AdES"
	ConclusionUndetermined FinalConclusion = "UNDETERMINED"
)

// QCStatementInformation records the qualified certificate indications of
// the signing certificate.
type QCStatementInformation struct {
	QCPPresent          Result `json:"qcp_present"`
	QCPPlusPresent      Result `json:"qcp_plus_present"`
	QcCompliancePresent Result `json:"qc_compliance_present"`
	QcSSCDPresent       Result `json:"qc_sscd_present"`
}

// QualificationsVerification records the qualifiers of the trusted list
// service the signing certificate chains to.
type QualificationsVerification struct {
	QCWithSSCD           Result `json:"qc_with_sscd"`
	QCNoSSCD             Result `json:"qc_no_sscd"`
	QCSSCDStatusAsInCert Result `json:"qc_sscd_status_as_in_cert"`
	QCForLegalPerson     Result `json:"qc_for_legal_person"`
}

// Trusted list content cases, the rows of the qualification matrix.
const (
	TLCaseServiceFound         = 0
	TLCaseQCWithSSCD           = 1
	TLCaseQCNoSSCD             = 2
	TLCaseQCSSCDStatusAsInCert = 3
	TLCaseQCForLegalPerson     = 4
	TLCaseNoConfirmation       = 5
	TLCaseUnsureConfirmation   = 7
)

// TLContentCase derives the matrix row from the trusted list information and
// the service qualifiers. Each rule overrides the previous ones: the last
// qualifier present wins, a missing service overrides the qualifiers and an
// unverified list overrides everything.
func TLContentCase(tl TrustedListInformation, q *QualificationsVerification) int {
	tlCase := -1
	if tl.ServiceWasFound {
		tlCase = TLCaseServiceFound
	}
	if q != nil {
		if q.QCWithSSCD.IsValid() {
			tlCase = TLCaseQCWithSSCD
		}
		if q.QCNoSSCD.IsValid() {
			tlCase = TLCaseQCNoSSCD
		}
		if q.QCSSCDStatusAsInCert.IsValid() {
			tlCase = TLCaseQCSSCDStatusAsInCert
		}
		if q.QCForLegalPerson.IsValid() {
			tlCase = TLCaseQCForLegalPerson
		}
	}
	if !tl.ServiceWasFound {
		tlCase = TLCaseNoConfirmation
	}
	if !tl.WellSigned {
		tlCase = TLCaseUnsureConfirmation
	}
	return tlCase
}

// CertContentCase derives the matrix column from the QC indications of the
// certificate. Combinations outside the table yield -1.
func CertContentCase(qc *QCStatementInformation) int {
	if qc == nil {
		return 0
	}
	qcp := qc.QCPPresent.IsValid()
	qcpPlus := qc.QCPPlusPresent.IsValid()
	compliance := qc.QcCompliancePresent.IsValid()
	sscd := qc.QcSSCDPresent.IsValid()

	switch {
	case !qcp && !qcpPlus && !compliance && !sscd:
		return 0
	case qcp && !qcpPlus && !compliance && !sscd:
		return 1
	case qcp && !qcpPlus && compliance && !sscd:
		return 2
	case !qcp && qcpPlus && !compliance:
		return 3
	case !qcp && qcpPlus && compliance:
		return 4
	case !qcp && !qcpPlus && compliance && !sscd:
		return 5
	case !qcp && !qcpPlus && compliance && sscd:
		return 6
	case qcp && !qcpPlus && !compliance && sscd:
		return 7
	case qcp && !qcpPlus && compliance && sscd:
		return 8
	case !qcp && !qcpPlus && !compliance && sscd:
		return 9
	}
	return -1
}

const (
	qes  = ConclusionQES
	aqc  = ConclusionAdESQC
	ades = ConclusionAdES
	und  = ConclusionUndetermined
)

var (
	rowCertDriven  = [10]FinalConclusion{ades, aqc, aqc, qes, qes, aqc, qes, qes, qes, ades}
	rowQES         = [10]FinalConclusion{ades, qes, qes, qes, qes, qes, qes, qes, qes, ades}
	rowQC          = [10]FinalConclusion{ades, aqc, aqc, aqc, aqc, aqc, aqc, aqc, aqc, ades}
	rowUnconfirmed = [10]FinalConclusion{ades, und, und, und, und, und, und, und, und, ades}
)

// qualificationMatrix is indexed by trusted list case then certificate case.
var qualificationMatrix = [8][10]FinalConclusion{
	rowCertDriven,
	rowQES,
	rowQC,
	rowCertDriven,
	rowQC,
	rowUnconfirmed,
	rowUnconfirmed,
	rowUnconfirmed,
}

// Conclude looks up the qualification of a signature. Cases outside the
// matrix conclude UNDETERMINED.
func Conclude(tlCase, certCase int) FinalConclusion {
	if tlCase < 0 || tlCase >= len(qualificationMatrix) || certCase < 0 || certCase >= len(qualificationMatrix[0]) {
		return ConclusionUndetermined
	}
	return qualificationMatrix[tlCase][certCase]
}

// ConclusionComment explains conclusions driven by the trusted list state.
func ConclusionComment(tlCase int) string {
	switch tlCase {
	case TLCaseNoConfirmation:
		return ReasonNoTLConfirmation
	case TLCaseUnsureConfirmation:
		return ReasonUnsureTLConfirmation
	}
	return ""
}
