// Package verify evaluates the signatures of a document level by level and
// assembles the validation report.
package verify

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/subnoto/adesvalidator/asic"
	"github.com/subnoto/adesvalidator/cades"
	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/pades"
	"github.com/subnoto/adesvalidator/report"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/source"
	"github.com/subnoto/adesvalidator/token"
	"github.com/subnoto/adesvalidator/validation"
	"github.com/subnoto/adesvalidator/xades"
)

// ErrEmptyDocument is returned for a document without content.
var ErrEmptyDocument = errors.New("document is empty")

// Format is the container format of a signed document.
type Format int

const (
	FormatCMS Format = iota
	FormatPDF
	FormatXML
	FormatASiC
)

func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "PDF"
	case FormatXML:
		return "XML"
	case FormatASiC:
		return "ASiC"
	}
	return "CMS"
}

// DetectFormat guesses the format from the leading bytes. Anything that is
// neither PDF, ZIP nor XML is treated as CMS.
func DetectFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return FormatPDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return FormatASiC
	case bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n\xef\xbb\xbf"), []byte("<")):
		return FormatXML
	}
	return FormatCMS
}

// Open parses the signatures of doc with the adapter matching its format.
func Open(doc common.Document) ([]signature.AdvancedSignature, error) {
	data, err := common.ReadAll(doc)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	var out []signature.AdvancedSignature
	switch DetectFormat(data) {
	case FormatPDF:
		sigs, err := pades.Parse(common.NewMemoryDocument(data, doc.Name(), doc.MimeType()))
		if err != nil {
			return nil, err
		}
		for _, s := range sigs {
			out = append(out, s)
		}
	case FormatASiC:
		c, err := asic.Open(common.NewMemoryDocument(data, doc.Name(), doc.MimeType()))
		if err != nil {
			return nil, err
		}
		return c.Signatures()
	case FormatXML:
		sigs, err := xades.ParseBytes(data)
		if err != nil {
			return nil, err
		}
		for _, s := range sigs {
			out = append(out, s)
		}
	default:
		sigs, err := cades.Parse(data)
		if err != nil {
			return nil, err
		}
		for _, s := range sigs {
			out = append(out, s)
		}
	}
	return out, nil
}

// SignedDocumentValidator validates every signature of a document.
type SignedDocumentValidator struct {
	Document common.Document
	// ExternalContent is the signed content of detached signatures.
	ExternalContent common.Document
	// Options defaults to DefaultVerifyOptions when nil.
	Options *VerifyOptions
}

// NewSignedDocumentValidator returns a validator for doc.
func NewSignedDocumentValidator(doc common.Document, options *VerifyOptions) *SignedDocumentValidator {
	return &SignedDocumentValidator{Document: doc, Options: options}
}

func (v *SignedDocumentValidator) options() *VerifyOptions {
	if v.Options == nil {
		return DefaultVerifyOptions()
	}
	return v.Options
}

// ValidateDocument builds the report of the document. Failures confined to
// one signature are recorded in its SignatureInformation; an error is only
// returned when the document cannot be parsed at all.
func (v *SignedDocumentValidator) ValidateDocument() (*report.ValidationReport, error) {
	if v.Document == nil {
		return nil, errors.New("no document to validate")
	}
	sigs, err := Open(v.Document)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", v.Document.Name(), err)
	}
	return v.ValidateSignatures(sigs), nil
}

// ValidateSignatures builds the report over already parsed signatures.
// Counter signatures follow the signature they countersign.
func (v *SignedDocumentValidator) ValidateSignatures(sigs []signature.AdvancedSignature) *report.ValidationReport {
	opts := v.options()
	name := ""
	if v.Document != nil {
		name = v.Document.Name()
	}
	r := report.NewValidationReport(name, opts.clock().Now())
	ctxOpts := opts.contextOptions()

	for i, sig := range sigs {
		v.appendSignature(r, sig, signatureID(sig, fmt.Sprintf("S%d", i)), "", opts, ctxOpts)
	}
	log.Info("validated ", len(r.SignatureInformation), " signatures of ", name)
	return r
}

func (v *SignedDocumentValidator) appendSignature(r *report.ValidationReport, sig signature.AdvancedSignature, id, parent string, opts *VerifyOptions, ctxOpts validation.Options) {
	info := v.validateSignature(sig, id, opts, ctxOpts)
	info.CounterSignatureOf = parent
	r.SignatureInformation = append(r.SignatureInformation, info)

	for i, counter := range sig.CounterSignatures() {
		v.appendSignature(r, counter, signatureID(counter, fmt.Sprintf("%s-C%d", id, i)), id, opts, ctxOpts)
	}
}

func signatureID(sig signature.AdvancedSignature, fallback string) string {
	if s, ok := sig.(interface{ ID() string }); ok && s.ID() != "" {
		return s.ID()
	}
	return fallback
}

// validateSignature never fails: errors and panics of the adapters abort
// only this signature and are reported in it.
func (v *SignedDocumentValidator) validateSignature(sig signature.AdvancedSignature, id string, opts *VerifyOptions, ctxOpts validation.Options) (info report.SignatureInformation) {
	info = report.SignatureInformation{ID: id, Form: sig.Form().String()}
	defer func() {
		if r := recover(); r != nil {
			aborted(&info, sig, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := v.evaluate(&info, sig, opts, ctxOpts); err != nil {
		aborted(&info, sig, err)
	}
	return info
}

func aborted(info *report.SignatureInformation, sig signature.AdvancedSignature, err error) {
	log.Error("validation of signature ", info.ID, " aborted: ", err)
	info.Error = err.Error()
	info.SignatureLevelAnalysis = abortedLevels(sig)
	info.FinalConclusion = report.ConclusionUndetermined
	info.FinalConclusionComment = report.ReasonExceptionWhileVerifying
}

func referenceTime(sig signature.AdvancedSignature, now time.Time) time.Time {
	if t := sig.SigningTime(); !t.IsZero() {
		return t
	}
	return now
}

func (v *SignedDocumentValidator) evaluate(info *report.SignatureInformation, sig signature.AdvancedSignature, opts *VerifyOptions, ctxOpts validation.Options) error {
	cert := sig.SigningCertificate()
	info.SigningCertificate = report.NewCertificateInfo(cert)
	if t := sig.SigningTime(); !t.IsZero() {
		info.SigningTime = &t
	}
	date := referenceTime(sig, opts.clock().Now())
	info.ReferenceTime = date

	ok, err := sig.CheckIntegrity(v.ExternalContent)
	info.SignatureVerification = signatureVerification(sig, ok, err)

	ctx, err := buildContext(sig, date, opts, ctxOpts)
	if err != nil {
		return err
	}

	info.SignatureLevelAnalysis = newLevelEvaluator(sig, ctx, v.ExternalContent).analysis()

	if cert == nil {
		info.FinalConclusion = report.ConclusionUndetermined
		info.FinalConclusionComment = report.ReasonNoSigningCertificate
		return nil
	}

	info.CertPathRevocationAnalysis = certPathAnalysis(ctx, cert, date, opts.TrustedList != nil)
	qc, err := qcStatementInformation(cert)
	if err != nil {
		return err
	}
	info.QCStatementInformation = qc
	tl := info.CertPathRevocationAnalysis.TrustedListInformation
	info.QualificationsVerification = qualificationsVerification(ctx, cert, tl)

	tlCase := report.TLContentCase(tl, info.QualificationsVerification)
	info.FinalConclusion = report.Conclude(tlCase, report.CertContentCase(qc))
	info.FinalConclusionComment = report.ConclusionComment(tlCase)
	return nil
}

// buildContext registers the signing certificate and the timestamps of sig,
// then resolves them against the material embedded in the signature.
func buildContext(sig signature.AdvancedSignature, date time.Time, opts *VerifyOptions, ctxOpts validation.Options) (*validation.ValidationContext, error) {
	cert := sig.SigningCertificate()
	ctx := validation.NewValidationContext(cert, ctxOpts)
	if cert != nil {
		ctx.AddNotYetVerifiedToken(token.NewCertificate(common.NewCertificateAndContext(cert, common.SourceSignature)))
	}
	for _, group := range [][]*token.Timestamp{
		sig.SignatureTimestamps(),
		sig.TimestampsX1(),
		sig.TimestampsX2(),
		sig.ArchiveTimestamps(),
	} {
		for _, ts := range group {
			ctx.AddNotYetVerifiedToken(token.NewTimestampToken(ts))
		}
	}

	certs := source.NewCompositeCertificateSource(sig.CertificateSource(), opts.KeyStore)
	if err := ctx.Validate(date, certs, sig.CRLSource(), sig.OCSPSource()); err != nil {
		return nil, fmt.Errorf("failed to resolve validation context: %w", err)
	}
	return ctx, nil
}

func signatureVerification(sig signature.AdvancedSignature, ok bool, err error) report.SignatureVerification {
	sv := report.SignatureVerification{SignatureAlgorithm: signatureAlgorithm(sig)}
	switch {
	case errors.Is(err, signature.ErrUnsupportedDigest), errors.Is(err, token.ErrUnsupportedHash):
		sv.SignatureVerificationResult = report.Undetermined(report.ReasonNoSuchAlgorithm)
	case errors.Is(err, cades.ErrDetachedContentRequired), errors.Is(err, xades.ErrDetachedContentRequired):
		sv.SignatureVerificationResult = report.Undetermined(report.ReasonNoDetachedContent)
	case errors.Is(err, signature.ErrNoSigningCertificate):
		sv.SignatureVerificationResult = report.Invalid(report.ReasonNoSigningCertificate)
	case err != nil:
		log.Info("integrity check failed: ", err)
		sv.SignatureVerificationResult = report.Invalid(report.ReasonExceptionWhileVerifying)
	default:
		sv.SignatureVerificationResult = report.FromBool(ok, report.ReasonSignatureIntegrityFailed)
	}
	return sv
}

func signatureAlgorithm(sig signature.AdvancedSignature) string {
	cert := sig.SigningCertificate()
	if cert == nil {
		return ""
	}
	if d, ok := sig.(interface{ DigestAlgorithm() crypto.Hash }); ok && d.DigestAlgorithm().Available() {
		return fmt.Sprintf("%s with %s", cert.PublicKeyAlgorithm, d.DigestAlgorithm())
	}
	return cert.PublicKeyAlgorithm.String()
}
