package pades

import (
	"crypto/x509"
	"fmt"
	"io"
	"strings"

	"github.com/digitorus/pdf"
	"golang.org/x/crypto/ocsp"
)

// DSS is the document security store of a PDF: validation material added
// after signing for long term validation.
type DSS struct {
	// Certs contains all certificates in the DSS.
	Certs []*x509.Certificate

	// CRLs contains all CRLs.
	CRLs []*x509.RevocationList

	// OCSPs contains all OCSP responses.
	OCSPs []*ocsp.Response

	// VRI maps the uppercase hex SHA-1 of a signature's /Contents to the
	// material specific to that signature. Keys are upper-cased on read.
	VRI map[string]*VRIEntry
}

// VRIEntry is the validation related information for one signature.
type VRIEntry struct {
	Certs []*x509.Certificate
	CRLs  []*x509.RevocationList
	OCSPs []*ocsp.Response
}

// parseDSS reads the /DSS dictionary of the catalog. A document without
// one yields nil.
func parseDSS(root pdf.Value) (*DSS, error) {
	dict := root.Key("DSS")
	if dict.IsNull() {
		return nil, nil
	}
	d := &DSS{VRI: make(map[string]*VRIEntry)}
	var err error
	if d.Certs, err = readCertificates(dict.Key("Certs")); err != nil {
		return nil, err
	}
	if d.CRLs, err = readCRLs(dict.Key("CRLs")); err != nil {
		return nil, err
	}
	if d.OCSPs, err = readOCSPs(dict.Key("OCSPs")); err != nil {
		return nil, err
	}

	vri := dict.Key("VRI")
	for _, key := range vri.Keys() {
		entry := vri.Key(key)
		e := &VRIEntry{}
		if e.Certs, err = readCertificates(entry.Key("Cert")); err != nil {
			return nil, fmt.Errorf("VRI %s: %w", key, err)
		}
		if e.CRLs, err = readCRLs(entry.Key("CRL")); err != nil {
			return nil, fmt.Errorf("VRI %s: %w", key, err)
		}
		if e.OCSPs, err = readOCSPs(entry.Key("OCSP")); err != nil {
			return nil, fmt.Errorf("VRI %s: %w", key, err)
		}
		d.VRI[strings.ToUpper(key)] = e
	}
	return d, nil
}

// streams returns the decoded content of every stream in an array.
func streams(arr pdf.Value) ([][]byte, error) {
	if arr.Kind() != pdf.Array {
		return nil, nil
	}
	out := make([][]byte, 0, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		s := arr.Index(i)
		if s.Kind() != pdf.Stream {
			continue
		}
		rc := s.Reader()
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read stream: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

func readCertificates(arr pdf.Value) ([]*x509.Certificate, error) {
	data, err := streams(arr)
	if err != nil {
		return nil, err
	}
	certs := make([]*x509.Certificate, 0, len(data))
	for _, der := range data {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DSS certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func readCRLs(arr pdf.Value) ([]*x509.RevocationList, error) {
	data, err := streams(arr)
	if err != nil {
		return nil, err
	}
	crls := make([]*x509.RevocationList, 0, len(data))
	for _, der := range data {
		crl, err := x509.ParseRevocationList(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DSS CRL: %w", err)
		}
		crls = append(crls, crl)
	}
	return crls, nil
}

func readOCSPs(arr pdf.Value) ([]*ocsp.Response, error) {
	data, err := streams(arr)
	if err != nil {
		return nil, err
	}
	responses := make([]*ocsp.Response, 0, len(data))
	for _, der := range data {
		resp, err := ocsp.ParseResponse(der, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DSS OCSP response: %w", err)
		}
		responses = append(responses, resp)
	}
	return responses, nil
}
