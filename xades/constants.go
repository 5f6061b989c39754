package xades

import (
	"crypto"
	"crypto/x509"

	dsig "github.com/russellhaering/goxmldsig"
)

const (
	Namespace    = "http://uri.etsi.org/01903/v1.3.2#"
	Namespace141 = "http://uri.etsi.org/01903/v1.4.1#"
)

// Qualifying property tags.
const (
	QualifyingPropertiesTag        = "QualifyingProperties"
	SignedPropertiesTag            = "SignedProperties"
	SignedSignaturePropertiesTag   = "SignedSignatureProperties"
	SigningTimeTag                 = "SigningTime"
	SigningCertificateTag          = "SigningCertificate"
	SigningCertificateV2Tag        = "SigningCertificateV2"
	CertTag                        = "Cert"
	CertDigestTag                  = "CertDigest"
	IssuerSerialTag                = "IssuerSerial"
	SignaturePolicyIdentifierTag   = "SignaturePolicyIdentifier"
	SignaturePolicyIDTag           = "SignaturePolicyId"
	SignaturePolicyImpliedTag      = "SignaturePolicyImplied"
	SigPolicyIDTag                 = "SigPolicyId"
	SigPolicyHashTag               = "SigPolicyHash"
	IdentifierTag                  = "Identifier"
	UnsignedPropertiesTag          = "UnsignedProperties"
	UnsignedSignaturePropertiesTag = "UnsignedSignatureProperties"
	CounterSignatureTag            = "CounterSignature"

	SignatureTimeStampTag  = "SignatureTimeStamp"
	SigAndRefsTimeStampTag = "SigAndRefsTimeStamp"
	RefsOnlyTimeStampTag   = "RefsOnlyTimeStamp"
	ArchiveTimeStampTag    = "ArchiveTimeStamp"
	EncapsulatedTSTag      = "EncapsulatedTimeStamp"

	CompleteCertificateRefsTag = "CompleteCertificateRefs"
	CompleteRevocationRefsTag  = "CompleteRevocationRefs"
	CertRefsTag                = "CertRefs"
	CRLRefsTag                 = "CRLRefs"
	CRLRefTag                  = "CRLRef"
	CRLIdentifierTag           = "CRLIdentifier"
	IssueTimeTag               = "IssueTime"
	NumberTag                  = "Number"
	OCSPRefsTag                = "OCSPRefs"
	OCSPRefTag                 = "OCSPRef"
	OCSPIdentifierTag          = "OCSPIdentifier"
	ProducedAtTag              = "ProducedAt"
	DigestAlgAndValueTag       = "DigestAlgAndValue"

	CertificateValuesTag   = "CertificateValues"
	EncapsulatedX509Tag    = "EncapsulatedX509Certificate"
	RevocationValuesTag    = "RevocationValues"
	CRLValuesTag           = "CRLValues"
	EncapsulatedCRLTag     = "EncapsulatedCRLValue"
	OCSPValuesTag          = "OCSPValues"
	EncapsulatedOCSPTag    = "EncapsulatedOCSPValue"
	X509IssuerNameTag      = "X509IssuerName"
	X509SerialNumberTag    = "X509SerialNumber"
	ObjectTag              = "Object"
	targetAttr             = "Target"
	signedPropertiesType   = "http://uri.etsi.org/01903#SignedProperties"
	urnOIDPrefix           = "urn:oid:"
	defaultCanonicalMethod = dsig.CanonicalXML10RecAlgorithmId
)

var digestAlgorithmsByIdentifier = map[string]crypto.Hash{
	"http://www.w3.org/2000/09/xmldsig#sha1":        crypto.SHA1,
	"http://www.w3.org/2001/04/xmldsig-more#sha224": crypto.SHA224,
	"http://www.w3.org/2001/04/xmlenc#sha256":       crypto.SHA256,
	"http://www.w3.org/2001/04/xmldsig-more#sha384": crypto.SHA384,
	"http://www.w3.org/2001/04/xmlenc#sha512":       crypto.SHA512,
}

// DigestAlgorithmIdentifier returns the XML-DSig URI of h.
func DigestAlgorithmIdentifier(h crypto.Hash) string {
	for id, hash := range digestAlgorithmsByIdentifier {
		if hash == h {
			return id
		}
	}
	return ""
}

// DigestAlgorithm returns the hash named by an XML-DSig digest URI.
func DigestAlgorithm(identifier string) (crypto.Hash, bool) {
	h, ok := digestAlgorithmsByIdentifier[identifier]
	return h, ok
}

const (
	ed25519SignatureMethod      = "http://www.w3.org/2021/04/xmldsig-more#eddsa-ed25519"
	rsaPSSSHA256SignatureMethod = "http://www.w3.org/2007/05/xmldsig-more#sha256-rsa-MGF1"
	rsaPSSSHA384SignatureMethod = "http://www.w3.org/2007/05/xmldsig-more#sha384-rsa-MGF1"
	rsaPSSSHA512SignatureMethod = "http://www.w3.org/2007/05/xmldsig-more#sha512-rsa-MGF1"
)

var signatureAlgorithmsByIdentifier = map[string]x509.SignatureAlgorithm{
	dsig.RSASHA1SignatureMethod:     x509.SHA1WithRSA,
	dsig.RSASHA256SignatureMethod:   x509.SHA256WithRSA,
	dsig.RSASHA384SignatureMethod:   x509.SHA384WithRSA,
	dsig.RSASHA512SignatureMethod:   x509.SHA512WithRSA,
	dsig.ECDSASHA1SignatureMethod:   x509.ECDSAWithSHA1,
	dsig.ECDSASHA256SignatureMethod: x509.ECDSAWithSHA256,
	dsig.ECDSASHA384SignatureMethod: x509.ECDSAWithSHA384,
	dsig.ECDSASHA512SignatureMethod: x509.ECDSAWithSHA512,
	rsaPSSSHA256SignatureMethod:     x509.SHA256WithRSAPSS,
	rsaPSSSHA384SignatureMethod:     x509.SHA384WithRSAPSS,
	rsaPSSSHA512SignatureMethod:     x509.SHA512WithRSAPSS,
	ed25519SignatureMethod:          x509.PureEd25519,
}

// canonicalizer returns the goxmldsig implementation of a canonicalization
// algorithm. ok is false for anything that is not a canonicalization.
func canonicalizer(algorithm, prefixList string) (dsig.Canonicalizer, bool) {
	switch dsig.AlgorithmID(algorithm) {
	case dsig.CanonicalXML10ExclusiveAlgorithmId:
		return dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList(prefixList), true
	case dsig.CanonicalXML10ExclusiveWithCommentsAlgorithmId:
		return dsig.MakeC14N10ExclusiveWithCommentsCanonicalizerWithPrefixList(prefixList), true
	case dsig.CanonicalXML11AlgorithmId:
		return dsig.MakeC14N11Canonicalizer(), true
	case dsig.CanonicalXML11WithCommentsAlgorithmId:
		return dsig.MakeC14N11WithCommentsCanonicalizer(), true
	case dsig.CanonicalXML10RecAlgorithmId:
		return dsig.MakeC14N10RecCanonicalizer(), true
	case dsig.CanonicalXML10WithCommentsAlgorithmId:
		return dsig.MakeC14N10WithCommentsCanonicalizer(), true
	}
	return nil, false
}
