package testpki

import (
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/digitorus/pkcs7"
	"golang.org/x/crypto/ocsp"
)

// CAdES unsigned attribute types.
var (
	OIDSignatureTimeStamp      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
	OIDSignaturePolicy         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 15}
	OIDCompleteCertificateRefs = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 21}
	OIDCompleteRevocationRefs  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 22}
	OIDCertificateValues       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 23}
	OIDRevocationValues        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 24}
	OIDEscTimeStamp            = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 25}
	OIDCertCRLTimestamp        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 26}
	OIDArchiveTimestampV2      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 48}
	OIDCounterSignature        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 6}
)

var oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

type hashAlgAndValue struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashValue     []byte
}

type issuerSerial struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

type otherCertID struct {
	OtherCertHash hashAlgAndValue
	IssuerSerial  issuerSerial
}

type crlIdentifier struct {
	CRLIssuer     asn1.RawValue
	CRLIssuedTime time.Time `asn1:"utc"`
	CRLNumber     *big.Int  `asn1:"optional"`
}

type crlValidatedID struct {
	CRLHash       hashAlgAndValue
	CRLIdentifier crlIdentifier
}

type ocspIdentifier struct {
	ResponderID asn1.RawValue
	ProducedAt  time.Time `asn1:"generalized"`
}

type ocspResponsesID struct {
	OCSPIdentifier ocspIdentifier
	OCSPRepHash    hashAlgAndValue
}

type crlListID struct {
	CRLs []crlValidatedID
}

type ocspListID struct {
	OCSPResponses []ocspResponsesID
}

type crlOcspRef struct {
	CRLIDs  crlListID  `asn1:"explicit,optional,tag:0"`
	OCSPIDs ocspListID `asn1:"explicit,optional,tag:1"`
}

type revocationValues struct {
	CRLVals  []asn1.RawValue `asn1:"explicit,optional,tag:0"`
	OCSPVals []asn1.RawValue `asn1:"explicit,optional,tag:1"`
}

type signaturePolicyID struct {
	SigPolicyID   asn1.ObjectIdentifier
	SigPolicyHash hashAlgAndValue
}

type ocspResponseBytes struct {
	ResponseType asn1.ObjectIdentifier
	Response     []byte
}

type ocspResponse struct {
	Status   asn1.Enumerated
	Response ocspResponseBytes `asn1:"explicit,tag:0,optional"`
}

func sha256Of(data []byte) hashAlgAndValue {
	sum := sha256.Sum256(data)
	return hashAlgAndValue{HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oidSHA256}, HashValue: sum[:]}
}

func marshal(t testing.TB, v interface{}) []byte {
	t.Helper()
	der, err := asn1.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal %T: %v", v, err)
	}
	return der
}

// Attribute wraps an encoded value as a CMS attribute.
func Attribute(oid asn1.ObjectIdentifier, value []byte) pkcs7.Attribute {
	return pkcs7.Attribute{Type: oid, Value: asn1.RawValue{FullBytes: value}}
}

func sequenceOf(t testing.TB, items ...[]byte) []byte {
	t.Helper()
	var content []byte
	for _, item := range items {
		content = append(content, item...)
	}
	return marshal(t, asn1.RawValue{Tag: asn1.TagSequence, IsCompound: true, Bytes: content})
}

// CertificateValues encodes certs as a certificate-values attribute.
func CertificateValues(t testing.TB, certs ...*x509.Certificate) pkcs7.Attribute {
	t.Helper()
	var raws [][]byte
	for _, c := range certs {
		raws = append(raws, c.Raw)
	}
	return Attribute(OIDCertificateValues, sequenceOf(t, raws...))
}

// CompleteCertificateRefs references certs by SHA-256 digest and issuer serial.
func CompleteCertificateRefs(t testing.TB, certs ...*x509.Certificate) pkcs7.Attribute {
	t.Helper()
	ids := []otherCertID{}
	for _, c := range certs {
		directoryName := marshal(t, asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 4, IsCompound: true, Bytes: c.RawIssuer})
		ids = append(ids, otherCertID{
			OtherCertHash: sha256Of(c.Raw),
			IssuerSerial: issuerSerial{
				Issuer:       asn1.RawValue{FullBytes: sequenceOf(t, directoryName)},
				SerialNumber: c.SerialNumber,
			},
		})
	}
	return Attribute(OIDCompleteCertificateRefs, marshal(t, ids))
}

// CompleteRevocationRefs references crls and responses by SHA-256 digest.
// Responses are digested over their basic response.
func CompleteRevocationRefs(t testing.TB, crls []*x509.RevocationList, responses []*ocsp.Response) pkcs7.Attribute {
	t.Helper()
	ref := crlOcspRef{}
	for _, crl := range crls {
		ref.CRLIDs.CRLs = append(ref.CRLIDs.CRLs, crlValidatedID{
			CRLHash: sha256Of(crl.Raw),
			CRLIdentifier: crlIdentifier{
				CRLIssuer:     asn1.RawValue{FullBytes: crl.RawIssuer},
				CRLIssuedTime: crl.ThisUpdate.UTC(),
				CRLNumber:     crl.Number,
			},
		})
	}
	for _, resp := range responses {
		ref.OCSPIDs.OCSPResponses = append(ref.OCSPIDs.OCSPResponses, ocspResponsesID{
			OCSPIdentifier: ocspIdentifier{
				ResponderID: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 1, IsCompound: true, Bytes: resp.RawResponderName},
				ProducedAt:  resp.ProducedAt.UTC(),
			},
			OCSPRepHash: sha256Of(BasicOCSPResponse(t, resp)),
		})
	}
	return Attribute(OIDCompleteRevocationRefs, marshal(t, []crlOcspRef{ref}))
}

// RevocationValues embeds crls and responses as a revocation-values attribute.
func RevocationValues(t testing.TB, crls []*x509.RevocationList, responses []*ocsp.Response) pkcs7.Attribute {
	t.Helper()
	var rv revocationValues
	for _, crl := range crls {
		rv.CRLVals = append(rv.CRLVals, asn1.RawValue{FullBytes: crl.Raw})
	}
	for _, resp := range responses {
		rv.OCSPVals = append(rv.OCSPVals, asn1.RawValue{FullBytes: BasicOCSPResponse(t, resp)})
	}
	return Attribute(OIDRevocationValues, marshal(t, rv))
}

// BasicOCSPResponse extracts the BasicOCSPResponse from a full response.
func BasicOCSPResponse(t testing.TB, resp *ocsp.Response) []byte {
	t.Helper()
	var full ocspResponse
	if _, err := asn1.Unmarshal(resp.Raw, &full); err != nil {
		t.Fatalf("failed to decode OCSP response: %v", err)
	}
	return full.Response.Response
}

// Policy encodes an explicit signature policy identifier.
func Policy(t testing.TB, oid asn1.ObjectIdentifier, document []byte) pkcs7.Attribute {
	t.Helper()
	return Attribute(OIDSignaturePolicy, marshal(t, signaturePolicyID{SigPolicyID: oid, SigPolicyHash: sha256Of(document)}))
}

// TimestampAttribute wraps an RFC 3161 token as an attribute of the given type.
func TimestampAttribute(oid asn1.ObjectIdentifier, token []byte) pkcs7.Attribute {
	return Attribute(oid, token)
}

// CounterSignature returns a counter-signature attribute over signatureValue.
func CounterSignature(t testing.TB, signatureValue []byte, signer *Authority) pkcs7.Attribute {
	t.Helper()
	sd, err := pkcs7.NewSignedData(signatureValue)
	if err != nil {
		t.Fatalf("failed to create counter signature: %v", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(signer.Cert, signer.Key, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatalf("failed to add counter signer: %v", err)
	}
	return Attribute(OIDCounterSignature, marshal(t, sd.GetSignedData().SignerInfos[0]))
}

// AddCRL embeds crl in the SignedData revocation set.
func (s *SignedData) AddCRL(t testing.TB, crl *x509.RevocationList) {
	t.Helper()
	var list pkix.CertificateList
	if _, err := asn1.Unmarshal(crl.Raw, &list); err != nil {
		t.Fatalf("failed to decode CRL: %v", err)
	}
	sd := s.sd.GetSignedData()
	sd.CRLs = append(sd.CRLs, list)
}
