package cades

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Attribute types.
var (
	OIDData                   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData             = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDAttributeContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDAttributeMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDAttributeSigningTime   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDCounterSignature       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 6}

	OIDSigningCertificate         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 12}
	OIDSignaturePolicyIdentifier  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 15}
	OIDSignatureTimeStamp         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
	OIDCompleteCertificateRefs    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 21}
	OIDCompleteRevocationRefs     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 22}
	OIDCertificateValues          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 23}
	OIDRevocationValues           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 24}
	OIDEscTimeStamp               = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 25}
	OIDCertCRLTimestamp           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 26}
	OIDArchiveTimestamp           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 27}
	OIDSigningCertificateV2       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	OIDArchiveTimestampV2         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 48}
	OIDAdobeRevocationInfoArchive = asn1.ObjectIdentifier{1, 2, 840, 113583, 1, 1, 8}

	// RFC 5940 other revocation info format for OCSP responses.
	oidRIOCSPResponse = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 16, 2}
)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// rawTagged captures an optional implicitly tagged element with its header.
type rawTagged struct {
	Raw asn1.RawContent
}

type signedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue
	EncapContentInfo asn1.RawValue
	Certificates     rawTagged       `asn1:"optional,tag:0"`
	CRLs             rawTagged       `asn1:"optional,tag:1"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

type encapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type signerInfo struct {
	Raw                asn1.RawContent
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        rawTagged `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      rawTagged `asn1:"optional,tag:1"`
}

type issuerAndSerial struct {
	IssuerName   asn1.RawValue
	SerialNumber *big.Int
}

type attribute struct {
	Raw    asn1.RawContent
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue `asn1:"set"`
}

type otherHashAlgAndValue struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashValue     []byte
}

type issuerSerial struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

type otherCertID struct {
	OtherCertHash asn1.RawValue
	IssuerSerial  issuerSerial `asn1:"optional"`
}

type crlOcspRef struct {
	CRLIDs  crlListID  `asn1:"explicit,optional,tag:0"`
	OCSPIDs ocspListID `asn1:"explicit,optional,tag:1"`
}

type crlListID struct {
	CRLs []crlValidatedID
}

type crlValidatedID struct {
	CRLHash       asn1.RawValue
	CRLIdentifier crlIdentifier `asn1:"optional"`
}

type crlIdentifier struct {
	CRLIssuer     asn1.RawValue
	CRLIssuedTime time.Time `asn1:"utc"`
	CRLNumber     *big.Int  `asn1:"optional"`
}

type ocspListID struct {
	OCSPResponses []ocspResponsesID
}

type ocspResponsesID struct {
	OCSPIdentifier ocspIdentifier
	OCSPRepHash    asn1.RawValue `asn1:"optional"`
}

type ocspIdentifier struct {
	ResponderID asn1.RawValue
	ProducedAt  time.Time `asn1:"generalized"`
}

type revocationValues struct {
	CRLVals  []asn1.RawValue `asn1:"explicit,optional,tag:0"`
	OCSPVals []asn1.RawValue `asn1:"explicit,optional,tag:1"`
}

// revocationInfoArchival is the Adobe signed attribute carrying full OCSP
// responses and CRLs.
type revocationInfoArchival struct {
	CRL          []asn1.RawValue `asn1:"explicit,optional,tag:0"`
	OCSP         []asn1.RawValue `asn1:"explicit,optional,tag:1"`
	OtherRevInfo []asn1.RawValue `asn1:"explicit,optional,tag:2"`
}

type otherRevocationInfoFormat struct {
	OtherRevInfoFormat asn1.ObjectIdentifier
	OtherRevInfo       asn1.RawValue
}

type signaturePolicyID struct {
	SigPolicyID   asn1.ObjectIdentifier
	SigPolicyHash otherHashAlgAndValue
}

// elements splits the content octets of a constructed element.
func elements(content []byte) ([]asn1.RawValue, error) {
	var out []asn1.RawValue
	for rest := content; len(rest) > 0; {
		var v asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &v)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// tlvContent returns the content octets of a full TLV.
func tlvContent(tlv []byte) ([]byte, error) {
	if len(tlv) == 0 {
		return nil, nil
	}
	var v asn1.RawValue
	if _, err := asn1.Unmarshal(tlv, &v); err != nil {
		return nil, err
	}
	return v.Bytes, nil
}

func parseAttributes(tagged rawTagged) ([]attribute, error) {
	content, err := tlvContent(tagged.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	var attrs []attribute
	for rest := content; len(rest) > 0; {
		var a attribute
		rest, err = asn1.Unmarshal(rest, &a)
		if err != nil {
			return nil, fmt.Errorf("failed to decode attribute: %w", err)
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

func (a attribute) values() ([]asn1.RawValue, error) {
	return elements(a.Values.Bytes)
}

func (a attribute) firstValue() (asn1.RawValue, error) {
	vals, err := a.values()
	if err != nil {
		return asn1.RawValue{}, err
	}
	if len(vals) == 0 {
		return asn1.RawValue{}, errors.New("attribute has no value")
	}
	return vals[0], nil
}

func findAttributes(attrs []attribute, oid asn1.ObjectIdentifier) []attribute {
	var out []attribute
	for _, a := range attrs {
		if a.Type.Equal(oid) {
			out = append(out, a)
		}
	}
	return out
}

// parseGeneralNamesDirectory returns the first directoryName of a
// GeneralNames value.
func parseGeneralNamesDirectory(raw asn1.RawValue) (pkix.Name, bool) {
	var name pkix.Name
	names, err := elements(raw.Bytes)
	if err != nil {
		return name, false
	}
	for _, gn := range names {
		if gn.Class != asn1.ClassContextSpecific || gn.Tag != 4 {
			continue
		}
		var rdn pkix.RDNSequence
		if _, err := asn1.Unmarshal(gn.Bytes, &rdn); err != nil {
			return name, false
		}
		name.FillFromRDNSequence(&rdn)
		return name, true
	}
	return name, false
}

func parseName(der []byte) (pkix.Name, bool) {
	var name pkix.Name
	var rdn pkix.RDNSequence
	if _, err := asn1.Unmarshal(der, &rdn); err != nil {
		return name, false
	}
	name.FillFromRDNSequence(&rdn)
	return name, true
}
