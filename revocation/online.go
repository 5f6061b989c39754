package revocation

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/log"
)

// ExternalOCSPResult contains the result of an online OCSP fetch
type ExternalOCSPResult struct {
	Checked  bool           // Whether the check was attempted
	Valid    bool           // Whether the check succeeded and returned a valid response
	Response *ocsp.Response // The OCSP response if valid
	Warning  string         // Warning message if check failed or was not attempted
}

// ExternalCRLResult contains the result of an online CRL fetch
type ExternalCRLResult struct {
	Checked        bool                 // Whether the check was attempted
	Valid          bool                 // Whether the check succeeded and returned a valid CRL
	CRL            *x509.RevocationList // The downloaded CRL if valid
	IsRevoked      bool                 // Whether the certificate was found revoked in the CRL
	RevocationTime *time.Time           // When the certificate was revoked (if applicable)
	Warning        string               // Warning message if check failed or was not attempted
}

// OCSPRequestFunc allows mocking OCSP request creation for tests
type OCSPRequestFunc func(cert, issuer *x509.Certificate) ([]byte, error)

// OnlineOCSPSource queries the OCSP responders named in the certificate.
type OnlineOCSPSource struct {
	Options     HTTPOptions
	RequestFunc OCSPRequestFunc
}

// NewOnlineOCSPSource returns an online OCSP source.
func NewOnlineOCSPSource(options HTTPOptions) *OnlineOCSPSource {
	return &OnlineOCSPSource{Options: options}
}

func (s *OnlineOCSPSource) FindOCSPResponse(cert, issuer *x509.Certificate) *ocsp.Response {
	result := s.Fetch(cert, issuer)
	if !result.Valid {
		if result.Warning != "" {
			log.Info("online OCSP for ", cert.Subject.CommonName, ": ", result.Warning)
		}
		return nil
	}
	return result.Response
}

// Fetch performs the OCSP exchange for cert
func (s *OnlineOCSPSource) Fetch(cert, issuer *x509.Certificate) ExternalOCSPResult {
	result := ExternalOCSPResult{}

	if !s.Options.Enabled {
		result.Checked = true
		result.Warning = "external revocation checking is disabled"
		return result
	}

	if len(cert.OCSPServer) == 0 {
		result.Checked = true
		result.Warning = "certificate has no OCSP server URLs"
		return result
	}

	if issuer == nil {
		result.Checked = true
		result.Warning = "issuer certificate is required for OCSP"
		return result
	}

	result.Checked = true

	// Create OCSP request (use injected func if provided)
	var ocspReq []byte
	var err error
	if s.RequestFunc != nil {
		ocspReq, err = s.RequestFunc(cert, issuer)
	} else {
		ocspReq, err = ocsp.CreateRequest(cert, issuer, nil)
	}
	if err != nil {
		result.Warning = fmt.Sprintf("failed to create OCSP request: %v", err)
		return result
	}

	client := getHTTPClient(&s.Options)

	// Try each OCSP server URL
	var lastErr error
	for _, serverURL := range cert.OCSPServer {
		body, err := doRequest(client, http.MethodPost, serverURL, "application/ocsp-request", ocspReq)
		if err != nil {
			lastErr = fmt.Errorf("OCSP server %s: %w", serverURL, err)
			continue
		}

		ocspResp, err := ocsp.ParseResponseForCert(body, cert, issuer)
		if err != nil {
			lastErr = fmt.Errorf("failed to parse OCSP response from %s: %v", serverURL, err)
			continue
		}

		result.Valid = true
		result.Response = ocspResp
		return result
	}

	// All attempts failed
	if lastErr != nil {
		result.Warning = lastErr.Error()
	} else {
		result.Warning = "failed to retrieve OCSP response from all servers"
	}
	return result
}

// OnlineCRLSource downloads CRLs from the distribution points of the
// certificate.
type OnlineCRLSource struct {
	Options HTTPOptions
}

// NewOnlineCRLSource returns an online CRL source.
func NewOnlineCRLSource(options HTTPOptions) *OnlineCRLSource {
	return &OnlineCRLSource{Options: options}
}

func (s *OnlineCRLSource) FindCRL(cert, issuer *x509.Certificate) *x509.RevocationList {
	result := s.Fetch(cert)
	if !result.Valid {
		if result.Warning != "" {
			log.Info("online CRL for ", cert.Subject.CommonName, ": ", result.Warning)
		}
		return nil
	}
	return result.CRL
}

// Fetch downloads the first parseable CRL for cert
func (s *OnlineCRLSource) Fetch(cert *x509.Certificate) ExternalCRLResult {
	result := ExternalCRLResult{}

	if !s.Options.Enabled {
		result.Checked = true
		result.Warning = "external revocation checking is disabled"
		return result
	}

	if len(cert.CRLDistributionPoints) == 0 {
		result.Checked = true
		result.Warning = "certificate has no CRL distribution points"
		return result
	}

	result.Checked = true

	client := getHTTPClient(&s.Options)

	// Try each CRL distribution point
	var lastErr error
	for _, crlURL := range cert.CRLDistributionPoints {
		body, err := doRequest(client, http.MethodGet, crlURL, "", nil)
		if err != nil {
			lastErr = fmt.Errorf("CRL server %s: %w", crlURL, err)
			continue
		}

		crl, err := x509.ParseRevocationList(body)
		if err != nil {
			lastErr = fmt.Errorf("failed to parse CRL from %s: %v", crlURL, err)
			continue
		}

		result.Valid = true
		result.CRL = crl

		// Check if certificate is revoked
		for _, revokedCert := range crl.RevokedCertificateEntries {
			if revokedCert.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				result.IsRevoked = true
				revocationTime := revokedCert.RevocationTime
				result.RevocationTime = &revocationTime
				return result
			}
		}

		return result
	}

	// All attempts failed
	if lastErr != nil {
		result.Warning = lastErr.Error()
	} else {
		result.Warning = "failed to retrieve CRL from all distribution points"
	}
	return result
}

func doRequest(client *http.Client, method, url, contentType string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to contact server: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}
	return data, nil
}
