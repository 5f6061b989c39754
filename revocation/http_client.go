package revocation

import (
	"net/http"
	"net/url"
	"time"
)

// HTTPOptions configures online revocation fetching.
type HTTPOptions struct {
	// Enabled turns online OCSP and CRL fetching on. When false the online
	// sources report a warning and return nothing.
	Enabled bool

	// HTTPClient specifies the HTTP client to use for revocation fetching
	// If nil, a client cloned from http.DefaultTransport will be used
	HTTPClient *http.Client

	// HTTPTimeout specifies the timeout for HTTP requests
	// If zero, a default timeout of 10 seconds will be used
	HTTPTimeout time.Duration

	// ProxyURL specifies an explicit proxy URL to use for HTTP requests
	// If nil, proxy settings from HTTP_PROXY/HTTPS_PROXY environment variables will be used
	ProxyURL *url.URL
}

// getHTTPClient returns an HTTP client configured with the correct timeout and proxy settings
func getHTTPClient(options *HTTPOptions) *http.Client {
	timeout := options.HTTPTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	// If a custom HTTP client is provided, clone it with the correct timeout
	if options.HTTPClient != nil {
		client := *options.HTTPClient
		client.Timeout = timeout
		// If the custom client has no transport, ensure proxy support
		if client.Transport == nil {
			client.Transport = newTransport(options.ProxyURL)
		}
		return &client
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(options.ProxyURL),
	}
}

func newTransport(proxyURL *url.URL) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return transport
}
