package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestResult(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		valid  bool
		want   string
	}{
		{name: "valid", result: Valid(), valid: true, want: "VALID"},
		{name: "invalid", result: Invalid(ReasonNoTimestamp), want: "INVALID (no.timestamp)"},
		{name: "undetermined", result: Undetermined(ReasonNoSuchAlgorithm), want: "UNDETERMINED (no.such.algorithm)"},
		{name: "from failed check", result: FromBool(false, ReasonNoPolicy), want: "INVALID (no.policy)"},
		{name: "from passed check", result: FromBool(true, ReasonNoPolicy), valid: true, want: "VALID"},
		{name: "with warnings", result: ValidWithWarnings("x"), want: "VALID_WITH_WARNINGS (x)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.result.IsValid() != tt.valid {
				t.Errorf("Expected IsValid %v for %s", tt.valid, tt.result)
			}
			if tt.result.String() != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, tt.result.String())
			}
		})
	}
}

func qcInfo(qcp, qcpPlus, compliance, sscd bool) *QCStatementInformation {
	flag := func(b bool) Result { return FromBool(b, "") }
	return &QCStatementInformation{
		QCPPresent:          flag(qcp),
		QCPPlusPresent:      flag(qcpPlus),
		QcCompliancePresent: flag(compliance),
		QcSSCDPresent:       flag(sscd),
	}
}

func TestCertContentCase(t *testing.T) {
	tests := []struct {
		name string
		qc   *QCStatementInformation
		want int
	}{
		{name: "no statement", qc: nil, want: 0},
		{name: "nothing", qc: qcInfo(false, false, false, false), want: 0},
		{name: "qcp", qc: qcInfo(true, false, false, false), want: 1},
		{name: "qcp compliance", qc: qcInfo(true, false, true, false), want: 2},
		{name: "qcp+", qc: qcInfo(false, true, false, false), want: 3},
		{name: "qcp+ sscd", qc: qcInfo(false, true, false, true), want: 3},
		{name: "qcp+ compliance", qc: qcInfo(false, true, true, true), want: 4},
		{name: "compliance", qc: qcInfo(false, false, true, false), want: 5},
		{name: "compliance sscd", qc: qcInfo(false, false, true, true), want: 6},
		{name: "qcp sscd", qc: qcInfo(true, false, false, true), want: 7},
		{name: "qcp compliance sscd", qc: qcInfo(true, false, true, true), want: 8},
		{name: "sscd only", qc: qcInfo(false, false, false, true), want: 9},
		{name: "both policies", qc: qcInfo(true, true, false, false), want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CertContentCase(tt.qc); got != tt.want {
				t.Errorf("Expected case %d, got %d", tt.want, got)
			}
		})
	}
}

func TestTLContentCase(t *testing.T) {
	found := TrustedListInformation{ServiceWasFound: true, WellSigned: true}
	tests := []struct {
		name string
		tl   TrustedListInformation
		q    *QualificationsVerification
		want int
	}{
		{name: "not found", tl: TrustedListInformation{WellSigned: true}, want: TLCaseNoConfirmation},
		{name: "not found and not well signed", tl: TrustedListInformation{}, want: TLCaseUnsureConfirmation},
		{name: "not found ignores qualifiers", tl: TrustedListInformation{WellSigned: true}, q: &QualificationsVerification{QCWithSSCD: Valid()}, want: TLCaseNoConfirmation},
		{name: "not well signed", tl: TrustedListInformation{ServiceWasFound: true}, want: TLCaseUnsureConfirmation},
		{name: "not well signed ignores qualifiers", tl: TrustedListInformation{ServiceWasFound: true}, q: &QualificationsVerification{QCWithSSCD: Valid()}, want: TLCaseUnsureConfirmation},
		{name: "found without qualification data", tl: found, want: TLCaseServiceFound},
		{name: "no qualifier", tl: found, q: &QualificationsVerification{}, want: TLCaseServiceFound},
		{name: "with sscd", tl: found, q: &QualificationsVerification{QCWithSSCD: Valid()}, want: TLCaseQCWithSSCD},
		{name: "no sscd", tl: found, q: &QualificationsVerification{QCNoSSCD: Valid()}, want: TLCaseQCNoSSCD},
		{name: "as in cert", tl: found, q: &QualificationsVerification{QCSSCDStatusAsInCert: Valid()}, want: TLCaseQCSSCDStatusAsInCert},
		{name: "legal person", tl: found, q: &QualificationsVerification{QCForLegalPerson: Valid()}, want: TLCaseQCForLegalPerson},
		{name: "legal person outranks no sscd", tl: found, q: &QualificationsVerification{QCNoSSCD: Valid(), QCForLegalPerson: Valid()}, want: TLCaseQCForLegalPerson},
		{name: "no sscd outranks with sscd", tl: found, q: &QualificationsVerification{QCWithSSCD: Valid(), QCNoSSCD: Valid()}, want: TLCaseQCNoSSCD},
		{name: "as in cert outranks with sscd", tl: found, q: &QualificationsVerification{QCWithSSCD: Valid(), QCSSCDStatusAsInCert: Valid()}, want: TLCaseQCSSCDStatusAsInCert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TLContentCase(tt.tl, tt.q); got != tt.want {
				t.Errorf("Expected case %d, got %d", tt.want, got)
			}
		})
	}
}

func TestConclude(t *testing.T) {
	tests := []struct {
		name     string
		tlCase   int
		certCase int
		want     FinalConclusion
	}{
		{name: "unqualified certificate", tlCase: TLCaseQCWithSSCD, certCase: 0, want: ConclusionAdES},
		{name: "tl says sscd", tlCase: TLCaseQCWithSSCD, certCase: 1, want: ConclusionQES},
		{name: "tl says no sscd", tlCase: TLCaseQCNoSSCD, certCase: 8, want: ConclusionAdESQC},
		{name: "certificate says sscd", tlCase: TLCaseQCSSCDStatusAsInCert, certCase: 6, want: ConclusionQES},
		{name: "certificate without sscd", tlCase: TLCaseServiceFound, certCase: 2, want: ConclusionAdESQC},
		{name: "legal person", tlCase: TLCaseQCForLegalPerson, certCase: 4, want: ConclusionAdESQC},
		{name: "sscd without qc", tlCase: TLCaseQCWithSSCD, certCase: 9, want: ConclusionAdES},
		{name: "no tl confirmation", tlCase: TLCaseNoConfirmation, certCase: 4, want: ConclusionUndetermined},
		{name: "no tl confirmation unqualified", tlCase: TLCaseNoConfirmation, certCase: 0, want: ConclusionAdES},
		{name: "unsure tl", tlCase: TLCaseUnsureConfirmation, certCase: 3, want: ConclusionUndetermined},
		{name: "unknown certificate case", tlCase: TLCaseServiceFound, certCase: -1, want: ConclusionUndetermined},
		{name: "row out of range", tlCase: 8, certCase: 0, want: ConclusionUndetermined},
		{name: "column out of range", tlCase: 0, certCase: 10, want: ConclusionUndetermined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Conclude(tt.tlCase, tt.certCase); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestQualificationMatrixRows(t *testing.T) {
	const (
		a = ConclusionAdES
		c = ConclusionAdESQC
		q = ConclusionQES
		u = ConclusionUndetermined
	)
	rows := [][10]FinalConclusion{
		{a, c, c, q, q, c, q, q, q, a},
		{a, q, q, q, q, q, q, q, q, a},
		{a, c, c, c, c, c, c, c, c, a},
		{a, c, c, q, q, c, q, q, q, a},
		{a, c, c, c, c, c, c, c, c, a},
		{a, u, u, u, u, u, u, u, u, a},
		{a, u, u, u, u, u, u, u, u, a},
		{a, u, u, u, u, u, u, u, u, a},
	}
	for tlCase, row := range rows {
		for certCase, want := range row {
			if got := Conclude(tlCase, certCase); got != want {
				t.Errorf("Conclude(%d, %d) = %s, want %s", tlCase, certCase, got, want)
			}
		}
	}
}

func TestConclusionComment(t *testing.T) {
	if got := ConclusionComment(TLCaseNoConfirmation); got != ReasonNoTLConfirmation {
		t.Errorf("Expected %s, got %q", ReasonNoTLConfirmation, got)
	}
	if got := ConclusionComment(TLCaseUnsureConfirmation); got != ReasonUnsureTLConfirmation {
		t.Errorf("Expected %s, got %q", ReasonUnsureTLConfirmation, got)
	}
	if got := ConclusionComment(TLCaseQCWithSSCD); got != "" {
		t.Errorf("Expected no comment, got %q", got)
	}
}

func TestValidationReportJSON(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewValidationReport("contract.pdf", now)
	if _, err := uuid.Parse(r.ID); err != nil {
		t.Fatalf("Expected a UUID identifier, got %q: %v", r.ID, err)
	}
	r.SignatureInformation = append(r.SignatureInformation, SignatureInformation{
		ID:   "sig-1",
		Form: "CAdES",
		SignatureLevelAnalysis: &SignatureLevelAnalysis{
			SignatureFormat: "CAdES",
			BES:             SignatureLevelBES{LevelReached: Valid()},
			T:               SignatureLevelT{LevelReached: Invalid(ReasonNoTimestamp)},
		},
		FinalConclusion: ConclusionAdES,
	})

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		`"document_name":"contract.pdf"`,
		`"verification_time":"2024-05-01T12:00:00Z"`,
		`"level_reached":{"status":"INVALID","reason":"no.timestamp"}`,
		`"final_conclusion":"AdES"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
	if strings.Contains(out, `"ltv"`) {
		t.Error("Expected LTV to be omitted when not evaluated")
	}
}
