// Package validation resolves the trust chain of a certificate: it discovers
// issuers and revocation evidence for every token it learns about until no
// new token appears.
package validation

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/revocation"
	"github.com/subnoto/adesvalidator/source"
	"github.com/subnoto/adesvalidator/token"
)

// ErrTokenNotRegistered is returned when a token is resolved before being
// added to the context.
var ErrTokenNotRegistered = errors.New("token is not registered in the validation context")

// VerifierFactory builds the status verifier used over a pair of sources.
type VerifierFactory func(crls revocation.CRLSource, ocsps revocation.OCSPSource) revocation.CertificateStatusVerifier

// DefaultVerifierFactory asks OCSP first and falls back to CRL.
func DefaultVerifierFactory(crls revocation.CRLSource, ocsps revocation.OCSPSource) revocation.CertificateStatusVerifier {
	return revocation.NewOCSPAndCRLCertificateVerifier(crls, ocsps)
}

// Options are the sources a context owns for its whole lifetime.
type Options struct {
	// TrustedList is searched for issuers before any other source.
	TrustedList source.CertificateSource

	// CRLSource and OCSPSource are asked only when the sources passed to
	// Validate give no status. Typically the online sources.
	CRLSource  revocation.CRLSource
	OCSPSource revocation.OCSPSource

	// NewVerifier defaults to DefaultVerifierFactory.
	NewVerifier VerifierFactory
}

// ValidationContext is the working set of one validation request. It is not
// safe for concurrent use and must not be reused across signatures.
type ValidationContext struct {
	certificate    *x509.Certificate
	validationDate time.Time
	opts           Options

	// order keeps token identities in insertion order.
	order          []string
	tokens         map[string]*token.Token
	revocationInfo map[string]*RevocationData

	neededCertificates []common.CertificateAndContext
	neededCRLs         []*x509.RevocationList
	neededOCSP         []*ocsp.Response
}

// NewValidationContext returns an empty context for cert.
func NewValidationContext(cert *x509.Certificate, opts Options) *ValidationContext {
	if opts.NewVerifier == nil {
		opts.NewVerifier = DefaultVerifierFactory
	}
	return &ValidationContext{
		certificate:    cert,
		opts:           opts,
		tokens:         make(map[string]*token.Token),
		revocationInfo: make(map[string]*RevocationData),
	}
}

// Certificate returns the certificate the context was built for.
func (c *ValidationContext) Certificate() *x509.Certificate { return c.certificate }

// ValidationDate returns the reference date of the last Validate call.
func (c *ValidationContext) ValidationDate() time.Time { return c.validationDate }

// AddNotYetVerifiedToken registers tok. Registering a token whose encoding is
// already known is a no-op, except that a trusted list provenance replaces a
// weaker one for the same certificate.
func (c *ValidationContext) AddNotYetVerifiedToken(tok *token.Token) {
	id := tok.Identity()
	if existing, ok := c.tokens[id]; ok {
		c.upgradeProvenance(existing, tok)
		return
	}
	c.order = append(c.order, id)
	c.tokens[id] = tok
	c.revocationInfo[id] = nil

	switch tok.Kind() {
	case token.KindCertificate:
		cc, _ := tok.Certificate()
		c.neededCertificates = append(c.neededCertificates, cc)
	case token.KindCRL:
		c.neededCRLs = append(c.neededCRLs, tok.CRL())
	case token.KindOCSP:
		c.neededOCSP = append(c.neededOCSP, tok.OCSP())
	}
	log.Debug("registered ", tok)
}

func (c *ValidationContext) upgradeProvenance(existing, candidate *token.Token) {
	if existing.Kind() != token.KindCertificate {
		return
	}
	old, _ := existing.Certificate()
	cc, _ := candidate.Certificate()
	if old.IsTrustedList() || !cc.IsTrustedList() {
		return
	}
	id := candidate.Identity()
	c.tokens[id] = candidate
	c.revocationInfo[id] = trustAnchorData(candidate, cc)
	for i := range c.neededCertificates {
		if c.neededCertificates[i].SameCertificate(cc) {
			c.neededCertificates[i] = cc
		}
	}
}

// ValidateCertificate registers the target certificate as found in the
// signature and resolves everything reachable from it.
func (c *ValidationContext) ValidateCertificate(date time.Time, certs source.CertificateSource, crls revocation.CRLSource, ocsps revocation.OCSPSource) error {
	if c.certificate == nil {
		return errors.New("validation context has no certificate")
	}
	c.AddNotYetVerifiedToken(token.NewCertificate(common.NewCertificateAndContext(c.certificate, common.SourceSignature)))
	return c.Validate(date, certs, crls, ocsps)
}

// Validate resolves registered tokens until a fixed point is reached. Each
// pass resolves exactly one token, the first unresolved one in insertion
// order, and may register new ones. A zero date disables the validity
// filtering of issuer candidates. Any of the sources may be nil.
func (c *ValidationContext) Validate(date time.Time, certs source.CertificateSource, crls revocation.CRLSource, ocsps revocation.OCSPSource) error {
	c.validationDate = date
	for pass := 1; ; pass++ {
		previousSize := len(c.order)
		previousVerified := c.verifiedCount()

		tok := c.nextUnverified()
		if tok == nil {
			return nil
		}
		log.Debug("validation pass ", pass, ": resolving ", tok)
		if err := c.resolve(tok, date, certs, crls, ocsps); err != nil {
			return err
		}

		if len(c.order) == previousSize && c.verifiedCount() == previousVerified {
			return nil
		}
	}
}

func (c *ValidationContext) verifiedCount() int {
	n := 0
	for _, id := range c.order {
		if c.revocationInfo[id] != nil {
			n++
		}
	}
	return n
}

func (c *ValidationContext) nextUnverified() *token.Token {
	for _, id := range c.order {
		if c.revocationInfo[id] == nil {
			return c.tokens[id]
		}
	}
	return nil
}

func (c *ValidationContext) resolve(tok *token.Token, date time.Time, certs source.CertificateSource, crls revocation.CRLSource, ocsps revocation.OCSPSource) error {
	id := tok.Identity()
	if _, ok := c.tokens[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTokenNotRegistered, tok)
	}
	// Use the registered instance so provenance upgrades are seen.
	tok = c.tokens[id]

	if cc, ok := tok.Certificate(); ok && isTrustAnchor(cc) {
		c.revocationInfo[id] = trustAnchorData(tok, cc)
		return nil
	}

	search := source.NewCompositeCertificateSource(tok.WrappedCertificateSource(), certs)
	issuer := c.findIssuer(tok, date, search)
	if issuer == nil {
		log.Info("no issuer found for ", tok)
		c.revocationInfo[id] = &RevocationData{token: tok}
		return nil
	}

	issuerToken := token.NewCertificate(*issuer)
	c.AddNotYetVerifiedToken(issuerToken)
	if isTrustAnchor(*issuer) && c.revocationInfo[issuerToken.Identity()] == nil {
		c.revocationInfo[issuerToken.Identity()] = trustAnchorData(c.tokens[issuerToken.Identity()], *issuer)
	}

	data := &RevocationData{token: tok, issuer: issuer}
	if cc, ok := tok.Certificate(); ok {
		status := c.checkStatus(cc.Certificate, issuer.Certificate, date, crls, ocsps)
		data.status = status
		if status != nil {
			switch status.SourceType {
			case revocation.StatusFromCRL:
				c.AddNotYetVerifiedToken(token.NewCRL(status.CRL))
			case revocation.StatusFromOCSP:
				c.AddNotYetVerifiedToken(token.NewOCSP(status.OCSP))
			}
		}
	}
	c.revocationInfo[id] = data
	return nil
}

func isTrustAnchor(cc common.CertificateAndContext) bool {
	return cc.IsTrustedList() || common.IsSelfSigned(cc.Certificate)
}

func trustAnchorData(tok *token.Token, cc common.CertificateAndContext) *RevocationData {
	return &RevocationData{token: tok, noNeedToValidate: true, trustedList: cc.IsTrustedList()}
}

func (c *ValidationContext) findIssuer(tok *token.Token, date time.Time, search source.CertificateSource) *common.CertificateAndContext {
	name, ok := tok.SignerSubjectName()
	if !ok {
		return nil
	}
	lookup := source.NewCompositeCertificateSource(c.opts.TrustedList, search)
	for _, candidate := range lookup.CertificateBySubjectName(name) {
		if !date.IsZero() && !common.ValidAt(candidate.Certificate, date) {
			continue
		}
		if candidate.IsTrustedList() && !date.IsZero() && !candidate.Context.InStatusWindow(date) {
			continue
		}
		if tok.IsSignedBy(candidate.Certificate) {
			found := candidate
			return &found
		}
	}
	return nil
}

func (c *ValidationContext) checkStatus(cert, issuer *x509.Certificate, date time.Time, crls revocation.CRLSource, ocsps revocation.OCSPSource) *revocation.CertificateStatus {
	if status := c.opts.NewVerifier(crls, ocsps).Check(cert, issuer, date); status != nil {
		return status
	}
	if c.opts.CRLSource == nil && c.opts.OCSPSource == nil {
		return nil
	}
	log.Debug("no offline revocation data for ", cert.Subject.CommonName, ", asking online sources")
	return c.opts.NewVerifier(c.opts.CRLSource, c.opts.OCSPSource).Check(cert, issuer, date)
}

// Tokens returns the registered tokens in insertion order.
func (c *ValidationContext) Tokens() []*token.Token {
	out := make([]*token.Token, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tokens[id])
	}
	return out
}

// RevocationData returns the resolution of tok, or nil when tok is unknown
// or not yet resolved.
func (c *ValidationContext) RevocationData(tok *token.Token) *RevocationData {
	return c.revocationInfo[tok.Identity()]
}

// NeededCertificates returns every certificate the chain depends on.
func (c *ValidationContext) NeededCertificates() []common.CertificateAndContext {
	return append([]common.CertificateAndContext(nil), c.neededCertificates...)
}

// NeededCRLs returns every CRL used as evidence.
func (c *ValidationContext) NeededCRLs() []*x509.RevocationList {
	return append([]*x509.RevocationList(nil), c.neededCRLs...)
}

// NeededOCSPResponses returns every OCSP response used as evidence.
func (c *ValidationContext) NeededOCSPResponses() []*ocsp.Response {
	return append([]*ocsp.Response(nil), c.neededOCSP...)
}

func (c *ValidationContext) lookup(cert *x509.Certificate) (common.CertificateAndContext, bool) {
	for _, cc := range c.neededCertificates {
		if cc.Certificate.Equal(cert) {
			return cc, true
		}
	}
	return common.CertificateAndContext{}, false
}

// IssuerCertificateFromThisContext returns the registered certificate that
// issued cert. Self-signed certificates have no parent.
func (c *ValidationContext) IssuerCertificateFromThisContext(cert *x509.Certificate) *common.CertificateAndContext {
	if cert == nil || common.IsSelfSigned(cert) {
		return nil
	}
	want := common.CanonicalName(cert.Issuer)
	for _, cc := range c.neededCertificates {
		if common.CanonicalName(cc.Certificate.Subject) != want {
			continue
		}
		if cert.CheckSignatureFrom(cc.Certificate) != nil {
			continue
		}
		found := cc
		return &found
	}
	return nil
}

// ParentFromTrustedList walks the issuers of cert registered in the context
// until it meets one sourced from a trusted list. A certificate registered
// with trusted list provenance is its own answer.
func (c *ValidationContext) ParentFromTrustedList(cert *x509.Certificate) *common.CertificateAndContext {
	if cc, ok := c.lookup(cert); ok && cc.IsTrustedList() {
		return &cc
	}
	seen := map[*x509.Certificate]bool{}
	current := cert
	for current != nil && !seen[current] {
		seen[current] = true
		parent := c.IssuerCertificateFromThisContext(current)
		if parent == nil {
			break
		}
		if parent.IsTrustedList() {
			return parent
		}
		current = parent.Certificate
	}
	if cert != nil {
		log.Warning("no trusted list certificate in the chain of ", cert.Subject.CommonName)
	}
	return nil
}

// CertificateStatusFromContext derives the status of cert from the evidence
// already gathered. Nothing is fetched.
func (c *ValidationContext) CertificateStatusFromContext(cert *x509.Certificate) *revocation.CertificateStatus {
	if cc, ok := c.lookup(cert); ok && cc.IsTrustedList() {
		return &revocation.CertificateStatus{
			Certificate:    cert,
			Validity:       revocation.Valid,
			ValidationDate: c.validationDate,
		}
	}
	issuer := c.IssuerCertificateFromThisContext(cert)
	if issuer == nil {
		return nil
	}
	verifier := c.opts.NewVerifier(revocation.NewListCRLSource(c.neededCRLs...), revocation.NewListOCSPSource(c.neededOCSP...))
	return verifier.Check(cert, issuer.Certificate, c.validationDate)
}
