package verify

import (
	"bytes"
	"crypto/x509"
	"errors"

	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/pades"
	"github.com/subnoto/adesvalidator/report"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/token"
	"github.com/subnoto/adesvalidator/validation"
)

// ltvSignature is implemented by signatures that can carry a document
// security store.
type ltvSignature interface {
	DSS() *pades.DSS
	VRIKey() string
}

// levelEvaluator reads a resolved context and never modifies it.
type levelEvaluator struct {
	sig      signature.AdvancedSignature
	ctx      *validation.ValidationContext
	detached common.Document
}

func newLevelEvaluator(sig signature.AdvancedSignature, ctx *validation.ValidationContext, detached common.Document) *levelEvaluator {
	return &levelEvaluator{sig: sig, ctx: ctx, detached: detached}
}

// analysis evaluates every level, then applies the gates. BES gates the
// whole chain and each level after T requires the previous one. EPES is
// reported but gates nothing.
func (e *levelEvaluator) analysis() *report.SignatureLevelAnalysis {
	a := &report.SignatureLevelAnalysis{SignatureFormat: e.sig.Form().String()}
	a.BES = e.verifyLevelBES()
	a.EPES = e.verifyLevelEPES()
	a.T = e.verifyLevelT()
	a.C = e.verifyLevelC(false)
	a.X = e.verifyLevelX()
	a.XL = e.verifyLevelXL()
	if a.XL.LevelReached.IsValid() {
		a.C = e.verifyLevelC(true)
	}
	if archiveApplies(e.sig.Form()) {
		level := e.verifyLevelA()
		a.A = &level
	}
	if ltv, ok := e.sig.(ltvSignature); ok {
		level := e.verifyLevelLTV(ltv)
		a.LTV = &level
	}

	bes := a.BES.LevelReached.IsValid()
	var t, c, x, xl bool
	a.T.LevelReached, t = gate(bes, a.T.LevelReached)
	a.C.LevelReached, c = gate(t, a.C.LevelReached)
	a.X.LevelReached, x = gate(c, a.X.LevelReached)
	a.XL.LevelReached, xl = gate(x, a.XL.LevelReached)
	if a.A != nil {
		a.A.LevelReached, _ = gate(xl, a.A.LevelReached)
	}
	if a.LTV != nil {
		a.LTV.LevelReached, _ = gate(bes, a.LTV.LevelReached)
	}
	return a
}

func archiveApplies(f signature.Form) bool {
	return f == signature.FormCAdES || f == signature.FormPAdES || f == signature.FormXAdES
}

// gate replaces r when the previous level does not hold.
func gate(previous bool, r report.Result) (report.Result, bool) {
	if !previous {
		return report.Invalid(report.ReasonPreviousLevelHasErrors), false
	}
	return r, r.IsValid()
}

// abortedLevels is the analysis of a signature whose validation failed.
func abortedLevels(sig signature.AdvancedSignature) *report.SignatureLevelAnalysis {
	gated := report.Invalid(report.ReasonPreviousLevelHasErrors)
	a := &report.SignatureLevelAnalysis{
		SignatureFormat: sig.Form().String(),
		BES:             report.SignatureLevelBES{LevelReached: report.Invalid(report.ReasonExceptionWhileVerifying)},
		EPES:            report.SignatureLevelEPES{LevelReached: report.Invalid(report.ReasonExceptionWhileVerifying)},
		T:               report.SignatureLevelT{LevelReached: gated},
		C:               report.SignatureLevelC{LevelReached: gated, CertificateRefsVerification: gated, RevocationRefsVerification: gated},
		X:               report.SignatureLevelX{LevelReached: gated},
		XL:              report.SignatureLevelXL{LevelReached: gated, CertificateValuesVerification: gated, RevocationValuesVerification: gated},
	}
	if archiveApplies(sig.Form()) {
		a.A = &report.SignatureLevelA{LevelReached: gated}
	}
	if _, ok := sig.(ltvSignature); ok {
		a.LTV = &report.SignatureLevelLTV{LevelReached: gated, CertificateVerification: gated, RevocationDataVerification: gated, VRIVerification: gated}
	}
	return a
}

// firstFailure returns the first result that is not valid, or VALID.
func firstFailure(results ...report.Result) report.Result {
	for _, r := range results {
		if !r.IsValid() {
			return r
		}
	}
	return report.Valid()
}

func (e *levelEvaluator) verifyLevelBES() report.SignatureLevelBES {
	cert := e.sig.SigningCertificate()
	if cert == nil {
		return report.SignatureLevelBES{LevelReached: report.Invalid(report.ReasonNoSigningCertificate)}
	}
	return report.SignatureLevelBES{
		LevelReached:       report.Valid(),
		SigningCertificate: report.NewCertificateInfo(cert),
	}
}

func (e *levelEvaluator) verifyLevelEPES() report.SignatureLevelEPES {
	policy := e.sig.PolicyID()
	if policy == nil {
		return report.SignatureLevelEPES{LevelReached: report.Invalid(report.ReasonNoPolicy)}
	}
	return report.SignatureLevelEPES{LevelReached: report.Valid(), PolicyID: policy}
}

func (e *levelEvaluator) verifyLevelT() report.SignatureLevelT {
	timestamps := e.sig.SignatureTimestamps()
	if len(timestamps) == 0 {
		return report.SignatureLevelT{LevelReached: report.Invalid(report.ReasonNoTimestamp)}
	}
	data, err := e.sig.SignatureTimestampData()
	results, level := e.verifyTimestamps(timestamps, func(*token.Timestamp) ([]byte, error) { return data, err })
	return report.SignatureLevelT{LevelReached: level, SignatureTimestamps: results}
}

func (e *levelEvaluator) verifyLevelX() report.SignatureLevelX {
	x1, x2 := e.sig.TimestampsX1(), e.sig.TimestampsX2()
	if len(x1) == 0 && len(x2) == 0 {
		return report.SignatureLevelX{LevelReached: report.Invalid(report.ReasonNoTimestamp)}
	}
	level := report.SignatureLevelX{}
	var x1Level, x2Level report.Result = report.Valid(), report.Valid()
	if len(x1) > 0 {
		data, err := e.sig.TimestampX1Data()
		level.SignatureAndRefsTimestamps, x1Level = e.verifyTimestamps(x1, func(*token.Timestamp) ([]byte, error) { return data, err })
	}
	if len(x2) > 0 {
		data, err := e.sig.TimestampX2Data()
		level.ReferencesTimestamps, x2Level = e.verifyTimestamps(x2, func(*token.Timestamp) ([]byte, error) { return data, err })
	}
	level.LevelReached = firstFailure(x1Level, x2Level)
	return level
}

func (e *levelEvaluator) verifyLevelA() report.SignatureLevelA {
	timestamps := e.sig.ArchiveTimestamps()
	if len(timestamps) == 0 {
		return report.SignatureLevelA{LevelReached: report.Invalid(report.ReasonNoArchiveTimestamp)}
	}
	results, level := e.verifyTimestamps(timestamps, func(ts *token.Timestamp) ([]byte, error) {
		return e.sig.ArchiveTimestampData(ts, e.detached)
	})
	return report.SignatureLevelA{LevelReached: level, ArchiveTimestamps: results}
}

// verifyTimestamps checks the message imprint of every timestamp against
// the data it must cover. The level holds when every imprint matches; the
// path of each TSA to a trusted list is reported per timestamp only.
func (e *levelEvaluator) verifyTimestamps(timestamps []*token.Timestamp, dataFor func(*token.Timestamp) ([]byte, error)) ([]report.TimestampVerificationResult, report.Result) {
	results := make([]report.TimestampVerificationResult, 0, len(timestamps))
	digests := make([]report.Result, 0, len(timestamps))
	for _, ts := range timestamps {
		res := report.TimestampVerificationResult{
			Type:                    ts.Type().String(),
			CreationTime:            ts.GenerationTime(),
			Issuer:                  report.NewCertificateInfo(ts.SignerCertificate()),
			SameDigest:              sameDigest(ts, dataFor),
			CertPathUpToTrustedList: e.timestampPath(ts),
		}
		results = append(results, res)
		digests = append(digests, res.SameDigest)
	}

	level := report.Valid()
	for _, d := range digests {
		if d.IsInvalid() {
			return results, d
		}
		if !d.IsValid() {
			level = d
		}
	}
	return results, level
}

func sameDigest(ts *token.Timestamp, dataFor func(*token.Timestamp) ([]byte, error)) report.Result {
	data, err := dataFor(ts)
	if err == nil {
		var ok bool
		if ok, err = ts.MatchData(data); err == nil {
			return report.FromBool(ok, report.ReasonTimestampDontSignData)
		}
	}
	if isUnsupportedAlgorithm(err) {
		return report.Undetermined(report.ReasonNoSuchAlgorithm)
	}
	log.Info("cannot compute data covered by ", ts.Type(), ": ", err)
	return report.Invalid(report.ReasonExceptionWhileVerifying)
}

func isUnsupportedAlgorithm(err error) bool {
	return errors.Is(err, token.ErrUnsupportedHash) || errors.Is(err, signature.ErrUnsupportedDigest)
}

// timestampPath reports whether the TSA certificate chains to a trusted
// list entry through the context.
func (e *levelEvaluator) timestampPath(ts *token.Timestamp) report.Result {
	data := e.ctx.RevocationData(token.NewTimestampToken(ts))
	if data == nil || data.Issuer() == nil {
		return report.Invalid(report.ReasonNoIssuerFound)
	}
	if e.ctx.ParentFromTrustedList(data.Issuer().Certificate) == nil {
		return report.Invalid(report.ReasonNoTrustedListServiceWasFound)
	}
	return report.Valid()
}

// verifyLevelC checks that the references cover the validation material of
// the context. Without rehash a single revocation reference is enough;
// with rehash every needed CRL and OCSP response must be referenced.
func (e *levelEvaluator) verifyLevelC(rehash bool) report.SignatureLevelC {
	level := report.SignatureLevelC{
		CertificateRefsVerification: e.certificateRefsVerification(),
		RevocationRefsVerification:  e.revocationRefsVerification(rehash),
	}
	level.LevelReached = firstFailure(level.CertificateRefsVerification, level.RevocationRefsVerification)
	return level
}

func (e *levelEvaluator) certificateRefsVerification() report.Result {
	refs := e.sig.CertificateRefs()
	if len(refs) == 0 {
		return report.Invalid(report.ReasonNoCertificateRef)
	}
	signer := e.sig.SigningCertificate()
	for _, cc := range e.ctx.NeededCertificates() {
		if signer != nil && cc.Certificate.Equal(signer) {
			continue
		}
		found, err := certificateReferenced(refs, cc.Certificate)
		if err != nil {
			return report.Undetermined(report.ReasonNoSuchAlgorithm)
		}
		if !found {
			log.Debug("no certificate reference for ", cc.Certificate.Subject.CommonName)
			return report.Invalid(report.ReasonNoCertRefForCert)
		}
	}
	return report.Valid()
}

func certificateReferenced(refs []signature.CertificateRef, cert *x509.Certificate) (bool, error) {
	var lastErr error
	for _, ref := range refs {
		ok, err := ref.Match(cert)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, lastErr
}

func (e *levelEvaluator) revocationRefsVerification(rehash bool) report.Result {
	crlRefs, ocspRefs := e.sig.CRLRefs(), e.sig.OCSPRefs()
	if len(crlRefs) == 0 && len(ocspRefs) == 0 {
		return report.Invalid(report.ReasonNoRevocationRef)
	}
	if !rehash {
		return report.Valid()
	}
	for _, crl := range e.ctx.NeededCRLs() {
		found, err := crlReferenced(crlRefs, crl)
		if err != nil {
			return report.Undetermined(report.ReasonNoSuchAlgorithm)
		}
		if !found {
			return report.Invalid(report.ReasonNotAllNeededRevocationRef)
		}
	}
	for _, resp := range e.ctx.NeededOCSPResponses() {
		found, err := ocspReferenced(ocspRefs, resp)
		if err != nil {
			return report.Undetermined(report.ReasonNoSuchAlgorithm)
		}
		if !found {
			return report.Invalid(report.ReasonNotAllNeededRevocationRef)
		}
	}
	return report.Valid()
}

// crlReferenced matches by digest, or by issuer and issue time for
// references recorded without a digest.
func crlReferenced(refs []signature.CRLRef, crl *x509.RevocationList) (bool, error) {
	var lastErr error
	for _, ref := range refs {
		if len(ref.Digest) == 0 {
			if ref.IssuedAt.Equal(crl.ThisUpdate) && common.CanonicalName(ref.IssuerName) == common.CanonicalName(crl.Issuer) {
				return true, nil
			}
			continue
		}
		ok, err := ref.Match(crl)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, lastErr
}

func ocspReferenced(refs []signature.OCSPRef, resp *ocsp.Response) (bool, error) {
	var lastErr error
	for _, ref := range refs {
		ok, err := ref.Match(resp)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, lastErr
}

// verifyLevelXL checks that the signature embeds the validation material of
// the context as values.
func (e *levelEvaluator) verifyLevelXL() report.SignatureLevelXL {
	level := report.SignatureLevelXL{
		CertificateValuesVerification: e.certificateValuesVerification(),
		RevocationValuesVerification:  e.revocationValuesVerification(),
	}
	level.LevelReached = firstFailure(level.CertificateValuesVerification, level.RevocationValuesVerification)
	return level
}

func (e *levelEvaluator) certificateValuesVerification() report.Result {
	values := e.sig.Certificates()
	if len(values) == 0 {
		return report.Invalid(report.ReasonNoCertificateValue)
	}
	return report.FromBool(containsCertificates(values, e.ctx.NeededCertificates()), report.ReasonNotAllNeededCertificateValue)
}

func (e *levelEvaluator) revocationValuesVerification() report.Result {
	crls, responses := e.sig.CRLs(), e.sig.OCSPs()
	if len(crls) == 0 && len(responses) == 0 {
		return report.Invalid(report.ReasonNoRevocationDataValue)
	}
	ok := containsCRLs(crls, e.ctx.NeededCRLs()) && containsOCSPResponses(responses, e.ctx.NeededOCSPResponses())
	return report.FromBool(ok, report.ReasonNotAllNeededRevocationValue)
}

func containsCertificates(values []*x509.Certificate, needed []common.CertificateAndContext) bool {
	for _, cc := range needed {
		found := false
		for _, v := range values {
			if v.Equal(cc.Certificate) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsCRLs(values, needed []*x509.RevocationList) bool {
	for _, n := range needed {
		found := false
		for _, v := range values {
			if bytes.Equal(v.Raw, n.Raw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsOCSPResponses(values, needed []*ocsp.Response) bool {
	for _, n := range needed {
		want := token.NewOCSP(n).Identity()
		found := false
		for _, v := range values {
			if token.NewOCSP(v).Identity() == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// verifyLevelLTV checks the document security store. A document without
// one fails at once.
func (e *levelEvaluator) verifyLevelLTV(sig ltvSignature) report.SignatureLevelLTV {
	dss := sig.DSS()
	if dss == nil {
		missing := report.Invalid(report.ReasonNoDSSDictionary)
		return report.SignatureLevelLTV{
			LevelReached:               missing,
			CertificateVerification:    missing,
			RevocationDataVerification: missing,
			VRIVerification:            missing,
		}
	}

	neededCerts := e.ctx.NeededCertificates()
	neededCRLs, neededOCSP := e.ctx.NeededCRLs(), e.ctx.NeededOCSPResponses()
	certsOK := containsCertificates(dss.Certs, neededCerts)
	revocationOK := containsCRLs(dss.CRLs, neededCRLs) && containsOCSPResponses(dss.OCSPs, neededOCSP)
	level := report.SignatureLevelLTV{
		CertificateVerification:    report.FromBool(certsOK, report.ReasonNotAllNeededCertificatesInDSS),
		RevocationDataVerification: report.FromBool(revocationOK, report.ReasonNotAllNeededRevocationInDSS),
	}

	vri, ok := dss.VRI[sig.VRIKey()]
	switch {
	case !ok:
		level.VRIVerification = report.Invalid(report.ReasonNoVRIDictionary)
	case !containsCertificates(vri.Certs, neededCerts):
		level.VRIVerification = report.Invalid(report.ReasonNotAllNeededCertificatesInDSS)
	case !containsCRLs(vri.CRLs, neededCRLs) || !containsOCSPResponses(vri.OCSPs, neededOCSP):
		level.VRIVerification = report.Invalid(report.ReasonNotAllNeededRevocationInDSS)
	default:
		level.VRIVerification = report.Valid()
	}

	level.LevelReached = firstFailure(level.CertificateVerification, level.RevocationDataVerification, level.VRIVerification)
	return level
}
