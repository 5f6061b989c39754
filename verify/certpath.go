package verify

import (
	"crypto/x509"
	"time"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/report"
	"github.com/subnoto/adesvalidator/revocation"
	"github.com/subnoto/adesvalidator/validation"
)

// certPathAnalysis walks the path of cert as resolved by the context, from
// the signer up to a trust anchor or the last issuer found.
func certPathAnalysis(ctx *validation.ValidationContext, cert *x509.Certificate, date time.Time, haveTrustedList bool) *report.CertPathRevocationAnalysis {
	a := &report.CertPathRevocationAnalysis{}

	seen := make(map[string]bool)
	current := registered(ctx, cert)
	for current != nil {
		fp := report.NewCertificateInfo(current.Certificate).Fingerprint
		if seen[fp] {
			break
		}
		seen[fp] = true
		a.CertificatePathVerification = append(a.CertificatePathVerification, certificateVerification(ctx, *current, date))
		if current.IsTrustedList() || common.IsSelfSigned(current.Certificate) {
			break
		}
		current = ctx.IssuerCertificateFromThisContext(current.Certificate)
	}

	a.TrustedListInformation = trustedListInformation(ctx, cert)
	a.Summary = pathSummary(a.CertificatePathVerification, a.TrustedListInformation, haveTrustedList)
	return a
}

// registered returns cert with the provenance it has in the context.
func registered(ctx *validation.ValidationContext, cert *x509.Certificate) *common.CertificateAndContext {
	for _, cc := range ctx.NeededCertificates() {
		if cc.Certificate.Equal(cert) {
			found := cc
			return &found
		}
	}
	cc := common.NewCertificateAndContext(cert, common.SourceSignature)
	return &cc
}

func certificateVerification(ctx *validation.ValidationContext, cc common.CertificateAndContext, date time.Time) report.CertificateVerification {
	cert := cc.Certificate
	cv := report.CertificateVerification{
		Certificate:                report.NewCertificateInfo(cert),
		SourceType:                 cc.SourceType.String(),
		ValidityPeriodVerification: validityPeriod(cert, date),
	}

	switch {
	case cc.IsTrustedList():
		cv.SignatureVerification = report.Valid()
		return cv
	case common.IsSelfSigned(cert):
		err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature)
		cv.SignatureVerification = report.FromBool(err == nil, report.ReasonCertificateSignatureDoesNotMatch)
		return cv
	case ctx.IssuerCertificateFromThisContext(cert) != nil:
		cv.SignatureVerification = report.Valid()
	default:
		cv.SignatureVerification = report.Undetermined(report.ReasonNoIssuerFound)
	}

	cv.CertificateStatus = revocationVerification(ctx.CertificateStatusFromContext(cert))
	return cv
}

func validityPeriod(cert *x509.Certificate, date time.Time) report.Result {
	switch {
	case date.After(cert.NotAfter):
		return report.Invalid(report.ReasonCertificateExpired)
	case date.Before(cert.NotBefore):
		return report.Invalid(report.ReasonCertificateNotYetValid)
	}
	return report.Valid()
}

func revocationVerification(status *revocation.CertificateStatus) *report.RevocationVerification {
	if status == nil {
		return &report.RevocationVerification{Status: report.Undetermined(report.ReasonNoRevocationData)}
	}
	rv := &report.RevocationVerification{}
	if status.SourceType != 0 {
		rv.Source = status.SourceType.String()
	}
	if !status.RevocationObjectIssuingTime.IsZero() {
		t := status.RevocationObjectIssuingTime
		rv.RevocationObjectIssuingTime = &t
	}
	switch status.Validity {
	case revocation.Valid:
		rv.Status = report.Valid()
	case revocation.Revoked:
		rv.Status = report.Invalid(report.ReasonCertificateRevoked)
		if !status.RevocationDate.IsZero() {
			t := status.RevocationDate
			rv.RevocationDate = &t
		}
	default:
		rv.Status = report.Undetermined(report.ReasonRevocationUnknown)
	}
	return rv
}

func trustedListInformation(ctx *validation.ValidationContext, cert *x509.Certificate) report.TrustedListInformation {
	var tl report.TrustedListInformation
	parent := ctx.ParentFromTrustedList(cert)
	if parent == nil {
		return tl
	}
	tl.ServiceWasFound = true
	if svc := parent.Context; svc != nil {
		tl.WellSigned = svc.TLWellSigned
		tl.TSPName = svc.TSPName
		tl.ServiceName = svc.ServiceName
		tl.ServiceStatus = svc.Status
		tl.StatusStartingDate = svc.StatusStartingDate
		tl.StatusEndingDate = svc.StatusEndingDate
		tl.Qualifiers = svc.Qualifiers
	}
	return tl
}

// pathSummary folds the path into one result. Validity periods outrank
// revocation, which outranks the trusted list checks.
func pathSummary(path []report.CertificateVerification, tl report.TrustedListInformation, haveTrustedList bool) report.Result {
	for _, cv := range path {
		if !cv.ValidityPeriodVerification.IsValid() {
			return report.Invalid(report.ReasonCertificateNotValid)
		}
	}
	summary := report.Valid()
	for _, cv := range path {
		if cv.CertificateStatus == nil {
			continue
		}
		if cv.CertificateStatus.Status.IsInvalid() {
			return report.Invalid(report.ReasonCertificateRevoked)
		}
		if summary.IsValid() && !cv.CertificateStatus.Status.IsValid() {
			summary = cv.CertificateStatus.Status
		}
	}

	switch {
	case !haveTrustedList:
		return report.Undetermined(report.ReasonCannotReachTSL)
	case !tl.ServiceWasFound:
		return report.Invalid(report.ReasonNoTrustedListServiceWasFound)
	case !tl.WellSigned:
		return report.Undetermined(report.ReasonUnableToVerifyTrustedList)
	}
	return summary
}

// qualificationsVerification reports the qualifiers of the trusted list
// service. Without a service nothing is asserted.
func qualificationsVerification(ctx *validation.ValidationContext, cert *x509.Certificate, tl report.TrustedListInformation) *report.QualificationsVerification {
	if !tl.ServiceWasFound {
		return nil
	}
	var svc *common.ServiceInfo
	if parent := ctx.ParentFromTrustedList(cert); parent != nil {
		svc = parent.Context
	}
	has := func(uri string) report.Result { return report.FromBool(svc.HasQualifier(uri), "") }
	return &report.QualificationsVerification{
		QCWithSSCD:           has(common.QualifierQCWithSSCD),
		QCNoSSCD:             has(common.QualifierQCNoSSCD),
		QCSSCDStatusAsInCert: has(common.QualifierQCSSCDStatusAsInCert),
		QCForLegalPerson:     has(common.QualifierQCForLegalPerson),
	}
}
