package validation

import (
	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/revocation"
	"github.com/subnoto/adesvalidator/token"
)

// RevocationData is the resolution of one token. It is immutable.
type RevocationData struct {
	token  *token.Token
	issuer *common.CertificateAndContext
	status *revocation.CertificateStatus

	noNeedToValidate bool
	trustedList      bool
}

// Token returns the resolved token.
func (r *RevocationData) Token() *token.Token { return r.token }

// Issuer returns the certificate found to have signed the token, or nil.
func (r *RevocationData) Issuer() *common.CertificateAndContext { return r.issuer }

// Status is set for certificate tokens whose revocation was checked.
func (r *RevocationData) Status() *revocation.CertificateStatus { return r.status }

// NoNeedToValidate reports a trust anchor.
func (r *RevocationData) NoNeedToValidate() bool { return r.noNeedToValidate }

// TrustedList reports a trust anchor taken from a trusted list.
func (r *RevocationData) TrustedList() bool { return r.trustedList }

// NoIssuer reports that the issuer search came back empty.
func (r *RevocationData) NoIssuer() bool {
	return r.issuer == nil && !r.noNeedToValidate
}

func (r *RevocationData) String() string {
	switch {
	case r.noNeedToValidate && r.trustedList:
		return "TRUSTED_LIST"
	case r.noNeedToValidate:
		return "NO_NEED_TO_VALIDATE"
	case r.issuer == nil:
		return "NO_ISSUER"
	case r.status == nil:
		return "ISSUER_ONLY"
	}
	return r.status.Validity.String()
}
