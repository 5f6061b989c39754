// Package revocation provides CRL and OCSP sources and the verifiers that
// derive a certificate status from them.
package revocation

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"

	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/common"
)

// CRLSource finds a CRL that can tell the status of cert.
type CRLSource interface {
	// FindCRL returns nil when the source holds nothing for cert.
	FindCRL(cert, issuer *x509.Certificate) *x509.RevocationList
}

// OCSPSource finds an OCSP response about cert.
type OCSPSource interface {
	// FindOCSPResponse returns nil when the source holds nothing for cert.
	FindOCSPResponse(cert, issuer *x509.Certificate) *ocsp.Response
}

// ListCRLSource serves CRLs held in memory.
type ListCRLSource struct {
	crls []*x509.RevocationList
}

// NewListCRLSource returns a source over crls.
func NewListCRLSource(crls ...*x509.RevocationList) *ListCRLSource {
	return &ListCRLSource{crls: crls}
}

// Add appends a CRL.
func (s *ListCRLSource) Add(crl *x509.RevocationList) {
	s.crls = append(s.crls, crl)
}

// CRLs returns the held CRLs.
func (s *ListCRLSource) CRLs() []*x509.RevocationList {
	return s.crls
}

// FindCRL returns the most recent CRL whose issuer is the issuer of cert.
func (s *ListCRLSource) FindCRL(cert, issuer *x509.Certificate) *x509.RevocationList {
	if s == nil || cert == nil {
		return nil
	}
	want := common.CanonicalName(cert.Issuer)
	var best *x509.RevocationList
	for _, crl := range s.crls {
		if common.CanonicalName(crl.Issuer) != want {
			continue
		}
		if best == nil || crl.ThisUpdate.After(best.ThisUpdate) {
			best = crl
		}
	}
	return best
}

// ListOCSPSource serves OCSP responses held in memory.
type ListOCSPSource struct {
	responses []*ocsp.Response
}

// NewListOCSPSource returns a source over responses.
func NewListOCSPSource(responses ...*ocsp.Response) *ListOCSPSource {
	return &ListOCSPSource{responses: responses}
}

// Add appends a response.
func (s *ListOCSPSource) Add(resp *ocsp.Response) {
	s.responses = append(s.responses, resp)
}

// Responses returns the held responses.
func (s *ListOCSPSource) Responses() []*ocsp.Response {
	return s.responses
}

// FindOCSPResponse returns the first response about the serial of cert that
// was signed by issuer or by a responder certificate issuer delegated to.
func (s *ListOCSPSource) FindOCSPResponse(cert, issuer *x509.Certificate) *ocsp.Response {
	if s == nil || cert == nil {
		return nil
	}
	for _, resp := range s.responses {
		if resp.SerialNumber == nil || resp.SerialNumber.Cmp(cert.SerialNumber) != 0 {
			continue
		}
		if issuer == nil || signedFor(resp, issuer) {
			return resp
		}
	}
	return nil
}

func signedFor(resp *ocsp.Response, issuer *x509.Certificate) bool {
	if resp.CheckSignatureFrom(issuer) == nil {
		return true
	}
	return resp.Certificate != nil &&
		resp.Certificate.CheckSignatureFrom(issuer) == nil &&
		resp.CheckSignatureFrom(resp.Certificate) == nil
}

var idPKIXOCSPBasic = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 1}

type responseASN1 struct {
	Status   asn1.Enumerated
	Response responseBytes `asn1:"explicit,tag:0,optional"`
}

type responseBytes struct {
	ResponseType asn1.ObjectIdentifier
	Response     []byte
}

// ParseBasicOCSPResponse parses a BasicOCSPResponse as embedded in CMS
// revocation values. The signature is not checked.
func ParseBasicOCSPResponse(basic []byte) (*ocsp.Response, error) {
	full, err := asn1.Marshal(responseASN1{
		Status:   asn1.Enumerated(ocsp.Success),
		Response: responseBytes{ResponseType: idPKIXOCSPBasic, Response: basic},
	})
	if err != nil {
		return nil, err
	}
	return ocsp.ParseResponse(full, nil)
}

// BasicOCSPResponse extracts the BasicOCSPResponse from a full response.
func BasicOCSPResponse(resp *ocsp.Response) ([]byte, error) {
	if len(resp.Raw) == 0 {
		return nil, errors.New("ocsp response has no encoding")
	}
	var full responseASN1
	if _, err := asn1.Unmarshal(resp.Raw, &full); err != nil {
		return nil, fmt.Errorf("failed to decode ocsp response: %w", err)
	}
	if !full.Response.ResponseType.Equal(idPKIXOCSPBasic) {
		return nil, errors.New("ocsp response is not a basic response")
	}
	return full.Response.Response, nil
}
