package verify

import (
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/subnoto/adesvalidator/revocation"
	"github.com/subnoto/adesvalidator/source"
	"github.com/subnoto/adesvalidator/validation"
)

// VerifyOptions contains options for signature validation
type VerifyOptions struct {
	// TrustedList is searched for issuers before any other source. Certificates
	// found there end the certification path and drive the qualification.
	TrustedList source.CertificateSource

	// KeyStore holds additional certificates used to build paths, typically
	// a PKCS#12 trust store. They are not trust anchors.
	KeyStore source.CertificateSource

	// Clock provides the verification time, and the reference time of
	// signatures that claim no signing time
	// If nil, the system clock will be used
	Clock clockwork.Clock

	// EnableExternalRevocationCheck when true, performs external OCSP and CRL checks
	// using the URLs found in certificate extensions when the signature embeds no
	// usable revocation data
	EnableExternalRevocationCheck bool

	// HTTPClient specifies the HTTP client to use for external revocation checking
	// If nil, a client cloned from http.DefaultTransport will be used
	HTTPClient *http.Client

	// HTTPTimeout specifies the timeout for HTTP requests during external revocation checking
	// If zero, a default timeout of 10 seconds will be used
	HTTPTimeout time.Duration

	// ProxyURL specifies an explicit proxy URL to use for HTTP requests
	// If nil, proxy settings from HTTP_PROXY/HTTPS_PROXY environment variables will be used
	ProxyURL *url.URL

	// RevocationCache when set stores fetched OCSP responses and CRLs in redis
	// so that documents signed under the same CA share them
	RevocationCache *redis.Client

	// RevocationCacheTTL bounds how long a cached object is kept. Objects never
	// outlive their next update.
	RevocationCacheTTL time.Duration

	// CRLSource and OCSPSource replace the online sources when set
	CRLSource  revocation.CRLSource
	OCSPSource revocation.OCSPSource

	// NewVerifier builds the revocation status verifier
	// If nil, OCSP is asked first with CRL as fallback
	NewVerifier validation.VerifierFactory
}

// DefaultVerifyOptions returns the default verification options
func DefaultVerifyOptions() *VerifyOptions {
	return &VerifyOptions{
		Clock:       clockwork.NewRealClock(),
		HTTPTimeout: 10 * time.Second,
	}
}

func (o *VerifyOptions) clock() clockwork.Clock {
	if o.Clock == nil {
		return clockwork.NewRealClock()
	}
	return o.Clock
}

func (o *VerifyOptions) httpOptions() revocation.HTTPOptions {
	return revocation.HTTPOptions{
		Enabled:     o.EnableExternalRevocationCheck,
		HTTPClient:  o.HTTPClient,
		HTTPTimeout: o.HTTPTimeout,
		ProxyURL:    o.ProxyURL,
	}
}

// revocationSources returns the sources asked when a signature embeds no
// status for a certificate. Either may be nil.
func (o *VerifyOptions) revocationSources() (revocation.CRLSource, revocation.OCSPSource) {
	crls, ocsps := o.CRLSource, o.OCSPSource
	if o.EnableExternalRevocationCheck {
		if crls == nil {
			crls = revocation.NewOnlineCRLSource(o.httpOptions())
		}
		if ocsps == nil {
			ocsps = revocation.NewOnlineOCSPSource(o.httpOptions())
		}
	}

	if o.RevocationCache != nil {
		if crls != nil {
			crls = revocation.NewCachedCRLSource(crls, o.RevocationCache, o.RevocationCacheTTL)
		}
		if ocsps != nil {
			ocsps = revocation.NewCachedOCSPSource(ocsps, o.RevocationCache, o.RevocationCacheTTL)
		}
	}
	return crls, ocsps
}

// contextOptions are shared by the contexts of every signature of a document.
func (o *VerifyOptions) contextOptions() validation.Options {
	crls, ocsps := o.revocationSources()
	return validation.Options{
		TrustedList: o.TrustedList,
		CRLSource:   crls,
		OCSPSource:  ocsps,
		NewVerifier: o.NewVerifier,
	}
}
