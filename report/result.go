// Package report holds the validation report produced for a signed
// document: one SignatureInformation per signature, each carrying the
// level-by-level results and the final qualification.
package report

// Status is the outcome of a single check.
type Status string

const (
	StatusValid             Status = "VALID"
	StatusInvalid           Status = "INVALID"
	StatusUndetermined      Status = "UNDETERMINED"
	StatusValidWithWarnings Status = "VALID_WITH_WARNINGS"
	StatusInformation       Status = "INFORMATION"
)

// Reason codes attached to non valid results.
const (
	ReasonExceptionWhileVerifying          = "exception.while.verifying"
	ReasonNoSigningCertificate             = "no.signing.certificate"
	ReasonNoTimestamp                      = "no.timestamp"
	ReasonTimestampDontSignData            = "timestamp.dont.sign.data"
	ReasonNoSuchAlgorithm                  = "no.such.algorithm"
	ReasonCannotReachTSL                   = "cannot.reached.tsl"
	ReasonNoCertificateRef                 = "no.certificate.ref"
	ReasonNoCertRefForCert                 = "no.cert.ref.for.cert"
	ReasonNoRevocationRef                  = "no.revocation.ref"
	ReasonNotAllNeededRevocationRef        = "not.all.needed.revocation.ref"
	ReasonNoCertificateValue               = "no.certificate.value"
	ReasonNotAllNeededCertificateValue     = "not.all.needed.certificate.value"
	ReasonNoRevocationDataValue            = "no.revocation.data.value"
	ReasonNotAllNeededRevocationValue      = "not.all.needed.revocation.value"
	ReasonNoArchiveTimestamp               = "no.archive.timestamp"
	ReasonNoDSSDictionary                  = "no.dss.dictionary"
	ReasonNoVRIDictionary                  = "no.vri.dictionary"
	ReasonNotAllNeededCertificatesInDSS    = "not.all.needed.certificates.in.dss"
	ReasonNotAllNeededRevocationInDSS      = "not.all.needed.revocation.in.dss"
	ReasonPreviousLevelHasErrors           = "previous.level.has.errors"
	ReasonCertificateExpired               = "certificate.expired"
	ReasonCertificateNotYetValid           = "certificate.not.yet.valid"
	ReasonCertificateNotValid              = "certificate.not.valid"
	ReasonCertificateRevoked               = "certificate.revoked"
	ReasonRevocationUnknown                = "revocation.unknown"
	ReasonNoRevocationData                 = "no.revocation.data"
	ReasonNoTrustedListServiceWasFound     = "no.trustedlist.service.was.found"
	ReasonUnableToVerifyTrustedList        = "unable.to.verify.trusted.list"
	ReasonNoTLConfirmation                 = "no.tl.confirmation"
	ReasonUnsureTLConfirmation             = "unsure.tl.confirmation"
	ReasonSignatureIntegrityFailed         = "signature.integrity.failed"
	ReasonNoPolicy                         = "no.policy"
	ReasonCertificateSignatureDoesNotMatch = "certificate.signature.does.not.match"
	ReasonNoIssuerFound                    = "no.issuer.found"
	ReasonNoDetachedContent                = "no.detached.content"
)

// Result is an immutable check outcome with an optional reason code.
type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func NewResult(status Status, reason string) Result {
	return Result{Status: status, Reason: reason}
}

func Valid() Result { return Result{Status: StatusValid} }

func Invalid(reason string) Result { return Result{Status: StatusInvalid, Reason: reason} }

func Undetermined(reason string) Result { return Result{Status: StatusUndetermined, Reason: reason} }

func ValidWithWarnings(reason string) Result {
	return Result{Status: StatusValidWithWarnings, Reason: reason}
}

func Information(reason string) Result { return Result{Status: StatusInformation, Reason: reason} }

// FromBool maps a passed check to VALID and a failed one to INVALID with
// reason.
func FromBool(ok bool, reason string) Result {
	if ok {
		return Valid()
	}
	return Invalid(reason)
}

func (r Result) IsValid() bool { return r.Status == StatusValid }

func (r Result) IsInvalid() bool { return r.Status == StatusInvalid }

func (r Result) IsUndetermined() bool { return r.Status == StatusUndetermined }

func (r Result) String() string {
	if r.Reason == "" {
		return string(r.Status)
	}
	return string(r.Status) + " (" + r.Reason + ")"
}
