package testpki

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"
	"golang.org/x/crypto/ocsp"
)

const (
	xadesNamespace = "http://uri.etsi.org/01903/v1.3.2#"
	sha256URI      = "http://www.w3.org/2001/04/xmlenc#sha256"
)

// XMLOptions tune a test XAdES signature.
type XMLOptions struct {
	// DetachedURI makes the data reference point outside the document.
	DetachedURI string
	Detached    []byte

	SigningTime time.Time
	// PolicyOID adds an explicit signature policy.
	PolicyOID string
	// OmitSigningCertificate leaves out the SigningCertificate property.
	OmitSigningCertificate bool
	Chain                  []*x509.Certificate
}

// SignedXML is an enveloped XAdES-BES signature over a small invoice
// document. Unsigned properties can be appended after Sign.
type SignedXML struct {
	doc      *etree.Document
	sig      *etree.Element
	usp      *etree.Element
	qp       *etree.Element
	signer   *Authority
	detached []byte
}

func b64(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

func sha256Digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func digestElements(parent *etree.Element, digest []byte) {
	parent.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", sha256URI)
	parent.CreateElement("ds:DigestValue").SetText(b64(digest))
}

// NewSignedXML builds and signs the document.
func NewSignedXML(t testing.TB, signer *Authority, opts XMLOptions) *SignedXML {
	t.Helper()
	doc := etree.NewDocument()
	root := doc.CreateElement("Invoice")
	root.CreateAttr("Id", "invoice")
	root.CreateElement("Amount").SetText("612.00")
	root.CreateElement("Currency").SetText("EUR")

	sig := root.CreateElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", dsig.Namespace)
	sig.CreateAttr("Id", "sig")

	si := sig.CreateElement("ds:SignedInfo")
	si.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", string(dsig.CanonicalXML10ExclusiveAlgorithmId))
	si.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", dsig.ECDSASHA256SignatureMethod)

	dataRef := si.CreateElement("ds:Reference")
	if opts.DetachedURI != "" {
		dataRef.CreateAttr("URI", opts.DetachedURI)
	} else {
		dataRef.CreateAttr("URI", "")
		transforms := dataRef.CreateElement("ds:Transforms")
		transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", string(dsig.EnvelopedSignatureAltorithmId))
		transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", string(dsig.CanonicalXML10ExclusiveAlgorithmId))
	}
	propsRef := si.CreateElement("ds:Reference")
	propsRef.CreateAttr("URI", "#sig-props")
	propsRef.CreateAttr("Type", "http://uri.etsi.org/01903#SignedProperties")
	propsRef.CreateElement("ds:Transforms").CreateElement("ds:Transform").CreateAttr("Algorithm", string(dsig.CanonicalXML10ExclusiveAlgorithmId))

	sig.CreateElement("ds:SignatureValue").CreateAttr("Id", "sig-value")
	x509Data := sig.CreateElement("ds:KeyInfo").CreateElement("ds:X509Data")
	for _, c := range append([]*x509.Certificate{signer.Cert}, opts.Chain...) {
		x509Data.CreateElement("ds:X509Certificate").SetText(b64(c.Raw))
	}

	qp := sig.CreateElement("ds:Object").CreateElement("xades:QualifyingProperties")
	qp.CreateAttr("xmlns:xades", xadesNamespace)
	qp.CreateAttr("Target", "#sig")
	sp := qp.CreateElement("xades:SignedProperties")
	sp.CreateAttr("Id", "sig-props")
	ssp := sp.CreateElement("xades:SignedSignatureProperties")
	signingTime := opts.SigningTime
	if signingTime.IsZero() {
		signingTime = time.Now()
	}
	ssp.CreateElement("xades:SigningTime").SetText(signingTime.UTC().Format(time.RFC3339))
	if !opts.OmitSigningCertificate {
		cert := ssp.CreateElement("xades:SigningCertificate").CreateElement("xades:Cert")
		digestElements(cert.CreateElement("xades:CertDigest"), sha256Digest(signer.Cert.Raw))
		serial := cert.CreateElement("xades:IssuerSerial")
		serial.CreateElement("ds:X509IssuerName").SetText(signer.Cert.Issuer.String())
		serial.CreateElement("ds:X509SerialNumber").SetText(signer.Cert.SerialNumber.String())
	}
	if opts.PolicyOID != "" {
		id := ssp.CreateElement("xades:SignaturePolicyIdentifier").CreateElement("xades:SignaturePolicyId")
		id.CreateElement("xades:SigPolicyId").CreateElement("xades:Identifier").SetText("urn:oid:" + opts.PolicyOID)
		digestElements(id.CreateElement("xades:SigPolicyHash"), sha256Digest([]byte(opts.PolicyOID)))
	}

	x := &SignedXML{doc: doc, sig: sig, qp: qp, signer: signer, detached: opts.Detached}
	x.sign(t, si, dataRef, propsRef)
	return x
}

func canonicalExclusive(t testing.TB, el *etree.Element) []byte {
	t.Helper()
	ctx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		t.Fatalf("failed to build namespace context: %v", err)
	}
	detached, err := etreeutils.NSDetatch(ctx, el)
	if err != nil {
		t.Fatalf("failed to detach element: %v", err)
	}
	data, err := dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("").Canonicalize(detached)
	if err != nil {
		t.Fatalf("failed to canonicalize: %v", err)
	}
	return data
}

func (x *SignedXML) sign(t testing.TB, si, dataRef, propsRef *etree.Element) {
	t.Helper()
	var data []byte
	if dataRef.SelectAttrValue("URI", "") != "" {
		data = x.detached
	} else {
		root := x.doc.Root().Copy()
		root.RemoveChildAt(x.sig.Index())
		data = canonicalExclusive(t, root)
	}
	digestElements(dataRef, sha256Digest(data))

	props := x.qp.SelectElement("xades:SignedProperties")
	digestElements(propsRef, sha256Digest(canonicalExclusive(t, props)))

	digest := sha256Digest(canonicalExclusive(t, si))
	der, err := x.signer.Key.Sign(rand.Reader, digest, crypto.SHA256)
	if err != nil {
		t.Fatalf("failed to sign SignedInfo: %v", err)
	}
	x.sig.SelectElement("ds:SignatureValue").SetText(b64(rawECDSA(t, der)))
}

// rawECDSA converts a DER ECDSA signature to the r || s form of XML-DSig.
func rawECDSA(t testing.TB, der []byte) []byte {
	t.Helper()
	var sig struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		t.Fatalf("failed to decode ECDSA signature: %v", err)
	}
	out := make([]byte, 64)
	sig.R.FillBytes(out[:32])
	sig.S.FillBytes(out[32:])
	return out
}

func (x *SignedXML) unsigned() *etree.Element {
	if x.usp == nil {
		x.usp = x.qp.CreateElement("xades:UnsignedProperties").CreateElement("xades:UnsignedSignatureProperties")
	}
	return x.usp
}

// AddTimestamp appends a timestamp property such as SignatureTimeStamp. The
// property names no canonicalization method, so inclusive C14N applies.
func (x *SignedXML) AddTimestamp(tag string, tokenDER []byte) {
	el := x.unsigned().CreateElement("xades:" + tag)
	el.CreateElement("xades:EncapsulatedTimeStamp").SetText(b64(tokenDER))
}

// AddCertificateValues appends a CertificateValues property.
func (x *SignedXML) AddCertificateValues(certs ...*x509.Certificate) {
	el := x.unsigned().CreateElement("xades:CertificateValues")
	for _, c := range certs {
		el.CreateElement("xades:EncapsulatedX509Certificate").SetText(b64(c.Raw))
	}
}

// AddRevocationValues appends a RevocationValues property.
func (x *SignedXML) AddRevocationValues(crls []*x509.RevocationList, responses []*ocsp.Response) {
	el := x.unsigned().CreateElement("xades:RevocationValues")
	if len(crls) > 0 {
		values := el.CreateElement("xades:CRLValues")
		for _, crl := range crls {
			values.CreateElement("xades:EncapsulatedCRLValue").SetText(b64(crl.Raw))
		}
	}
	if len(responses) > 0 {
		values := el.CreateElement("xades:OCSPValues")
		for _, resp := range responses {
			values.CreateElement("xades:EncapsulatedOCSPValue").SetText(b64(resp.Raw))
		}
	}
}

// AddCompleteCertificateRefs appends a CompleteCertificateRefs property.
func (x *SignedXML) AddCompleteCertificateRefs(certs ...*x509.Certificate) {
	refs := x.unsigned().CreateElement("xades:CompleteCertificateRefs").CreateElement("xades:CertRefs")
	for _, c := range certs {
		cert := refs.CreateElement("xades:Cert")
		digestElements(cert.CreateElement("xades:CertDigest"), sha256Digest(c.Raw))
		serial := cert.CreateElement("xades:IssuerSerial")
		serial.CreateElement("ds:X509IssuerName").SetText(c.Issuer.String())
		serial.CreateElement("ds:X509SerialNumber").SetText(c.SerialNumber.String())
	}
}

// AddCompleteRevocationRefs appends a CompleteRevocationRefs property.
func (x *SignedXML) AddCompleteRevocationRefs(crls []*x509.RevocationList, responses []*ocsp.Response) {
	el := x.unsigned().CreateElement("xades:CompleteRevocationRefs")
	if len(crls) > 0 {
		refs := el.CreateElement("xades:CRLRefs")
		for _, crl := range crls {
			ref := refs.CreateElement("xades:CRLRef")
			digestElements(ref.CreateElement("xades:DigestAlgAndValue"), sha256Digest(crl.Raw))
			id := ref.CreateElement("xades:CRLIdentifier")
			id.CreateElement("xades:Issuer").SetText(crl.Issuer.String())
			id.CreateElement("xades:IssueTime").SetText(crl.ThisUpdate.UTC().Format(time.RFC3339))
			if crl.Number != nil {
				id.CreateElement("xades:Number").SetText(crl.Number.String())
			}
		}
	}
	if len(responses) > 0 {
		refs := el.CreateElement("xades:OCSPRefs")
		for _, resp := range responses {
			ref := refs.CreateElement("xades:OCSPRef")
			id := ref.CreateElement("xades:OCSPIdentifier")
			id.CreateElement("xades:ResponderID").CreateElement("xades:ByName").SetText("responder")
			id.CreateElement("xades:ProducedAt").SetText(resp.ProducedAt.UTC().Format(time.RFC3339))
			digestElements(ref.CreateElement("xades:DigestAlgAndValue"), sha256Digest(resp.Raw))
		}
	}
}

// Tamper rewrites the signed invoice amount.
func (x *SignedXML) Tamper(amount string) {
	x.doc.Root().SelectElement("Amount").SetText(amount)
}

// Bytes serializes the document.
func (x *SignedXML) Bytes(t testing.TB) []byte {
	t.Helper()
	data, err := x.doc.WriteToBytes()
	if err != nil {
		t.Fatalf("failed to serialize XML: %v", err)
	}
	return data
}
