// Package xades reads XAdES signatures: XML-DSig signatures whose
// QualifyingProperties carry the signing certificate, signing time, policy,
// timestamps and validation data.
package xades

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/revocation"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/source"
	"github.com/subnoto/adesvalidator/token"
)

// ErrNoSignatures is returned for XML documents without ds:Signature.
var ErrNoSignatures = errors.New("document holds no XML signature")

// Signature is one ds:Signature element.
type Signature struct {
	doc *etree.Document
	el  *etree.Element

	signedInfo     *etree.Element
	signatureValue []byte
	keyInfo        *etree.Element
	qualifying     *etree.Element
	signedProps    *etree.Element
	unsignedProps  *etree.Element

	certs      []*x509.Certificate
	crls       []*x509.RevocationList
	ocsps      []*ocsp.Response
	signingCrt *x509.Certificate

	sigTimestamps     []*token.Timestamp
	x1Timestamps      []*token.Timestamp
	x2Timestamps      []*token.Timestamp
	archiveTimestamps []*token.Timestamp
	// timestampElements maps each timestamp to the property holding it.
	timestampElements map[*token.Timestamp]*etree.Element

	counterSignatures []*Signature
}

// Parse reads every top level ds:Signature of doc.
func Parse(doc common.Document) ([]*Signature, error) {
	data, err := common.ReadAll(doc)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(data []byte) ([]*Signature, error) {
	x := etree.NewDocument()
	if err := x.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	if x.Root() == nil {
		return nil, ErrNoSignatures
	}

	var elements []*etree.Element
	collectSignatures(x.Root(), &elements)
	if len(elements) == 0 {
		return nil, ErrNoSignatures
	}

	var out []*Signature
	for _, el := range elements {
		sig, err := newSignature(x, el)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

// collectSignatures finds ds:Signature elements without descending into
// them, so counter signatures stay with their parent.
func collectSignatures(el *etree.Element, out *[]*etree.Element) {
	if el.Tag == dsig.SignatureTag && el.NamespaceURI() == dsig.Namespace {
		*out = append(*out, el)
		return
	}
	for _, c := range el.ChildElements() {
		collectSignatures(c, out)
	}
}

func newSignature(doc *etree.Document, el *etree.Element) (*Signature, error) {
	s := &Signature{
		doc:               doc,
		el:                el,
		signedInfo:        child(el, dsig.Namespace, dsig.SignedInfoTag),
		keyInfo:           child(el, dsig.Namespace, dsig.KeyInfoTag),
		timestampElements: make(map[*token.Timestamp]*etree.Element),
	}
	if s.signedInfo == nil {
		return nil, errors.New("ds:Signature without SignedInfo")
	}
	value := child(el, dsig.Namespace, dsig.SignatureValueTag)
	if value == nil {
		return nil, errors.New("ds:Signature without SignatureValue")
	}
	var err error
	if s.signatureValue, err = decodeBase64(value.Text()); err != nil {
		return nil, fmt.Errorf("invalid SignatureValue: %w", err)
	}

	for _, obj := range children(el, dsig.Namespace, ObjectTag) {
		if qp := xadesChild(obj, QualifyingPropertiesTag); qp != nil {
			s.qualifying = qp
			break
		}
	}
	s.signedProps = xadesChild(s.qualifying, SignedPropertiesTag)
	s.unsignedProps = xadesChild(xadesChild(s.qualifying, UnsignedPropertiesTag), UnsignedSignaturePropertiesTag)

	if err := s.collectValues(); err != nil {
		return nil, err
	}
	s.signingCrt = s.findSigningCertificate()
	s.collectTimestamps()
	if err := s.collectCounterSignatures(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Signature) addCertificate(cert *x509.Certificate) {
	for _, c := range s.certs {
		if c.Equal(cert) {
			return
		}
	}
	s.certs = append(s.certs, cert)
}

// collectValues gathers KeyInfo certificates and the CertificateValues and
// RevocationValues properties.
func (s *Signature) collectValues() error {
	for _, data := range children(s.keyInfo, dsig.Namespace, dsig.X509DataTag) {
		for _, c := range children(data, dsig.Namespace, dsig.X509CertificateTag) {
			cert, err := parseCertificate(c.Text())
			if err != nil {
				return err
			}
			s.addCertificate(cert)
		}
	}

	for _, c := range s.unsignedChildren(CertificateValuesTag) {
		for _, enc := range children(c, c.NamespaceURI(), EncapsulatedX509Tag) {
			cert, err := parseCertificate(enc.Text())
			if err != nil {
				return err
			}
			s.addCertificate(cert)
		}
	}

	for _, rv := range s.unsignedChildren(RevocationValuesTag) {
		ns := rv.NamespaceURI()
		for _, enc := range children(child(rv, ns, CRLValuesTag), ns, EncapsulatedCRLTag) {
			der, err := decodeBase64(enc.Text())
			if err != nil {
				return fmt.Errorf("invalid EncapsulatedCRLValue: %w", err)
			}
			crl, err := x509.ParseRevocationList(der)
			if err != nil {
				return fmt.Errorf("failed to parse embedded CRL: %w", err)
			}
			s.crls = append(s.crls, crl)
		}
		for _, enc := range children(child(rv, ns, OCSPValuesTag), ns, EncapsulatedOCSPTag) {
			der, err := decodeBase64(enc.Text())
			if err != nil {
				return fmt.Errorf("invalid EncapsulatedOCSPValue: %w", err)
			}
			resp, err := parseOCSP(der)
			if err != nil {
				return fmt.Errorf("failed to parse embedded OCSP response: %w", err)
			}
			s.ocsps = append(s.ocsps, resp)
		}
	}
	return nil
}

func parseCertificate(text string) (*x509.Certificate, error) {
	der, err := decodeBase64(text)
	if err != nil {
		return nil, fmt.Errorf("invalid certificate encoding: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded certificate: %w", err)
	}
	return cert, nil
}

// parseOCSP accepts a full OCSPResponse or a bare BasicOCSPResponse.
func parseOCSP(der []byte) (*ocsp.Response, error) {
	resp, err := ocsp.ParseResponse(der, nil)
	if err == nil {
		return resp, nil
	}
	if basic, berr := revocation.ParseBasicOCSPResponse(der); berr == nil {
		return basic, nil
	}
	return nil, err
}

// unsignedChildren returns the unsigned signature properties named tag, in
// document order.
func (s *Signature) unsignedChildren(tag string) []*etree.Element {
	var out []*etree.Element
	if s.unsignedProps == nil {
		return nil
	}
	for _, c := range s.unsignedProps.ChildElements() {
		if c.Tag == tag && (c.NamespaceURI() == Namespace || c.NamespaceURI() == Namespace141) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Signature) signedSignatureProperty(tag string) *etree.Element {
	return xadesChild(xadesChild(s.signedProps, SignedSignaturePropertiesTag), tag)
}

// findSigningCertificate returns the candidate whose digest is listed in
// the SigningCertificate property. Without that property the first KeyInfo
// certificate is the signer.
func (s *Signature) findSigningCertificate() *x509.Certificate {
	prop := s.signedSignatureProperty(SigningCertificateTag)
	if prop == nil {
		prop = s.signedSignatureProperty(SigningCertificateV2Tag)
	}
	if prop == nil {
		if len(s.certs) > 0 {
			return s.certs[0]
		}
		return nil
	}
	for _, certEl := range children(prop, prop.NamespaceURI(), CertTag) {
		h, digest, err := digestOf(child(certEl, prop.NamespaceURI(), CertDigestTag))
		if err != nil {
			log.Warning("unusable signing certificate reference: ", err)
			continue
		}
		for _, c := range s.certs {
			d := h.New()
			d.Write(c.Raw)
			if bytes.Equal(d.Sum(nil), digest) {
				return c
			}
		}
	}
	return nil
}

func (s *Signature) collectTimestamps() {
	s.sigTimestamps = s.timestamps(SignatureTimeStampTag, token.SignatureTimestamp)
	s.x1Timestamps = s.timestamps(SigAndRefsTimeStampTag, token.ValidationDataTimestamp)
	s.x2Timestamps = s.timestamps(RefsOnlyTimeStampTag, token.ValidationDataRefsOnlyTimestamp)
	s.archiveTimestamps = s.timestamps(ArchiveTimeStampTag, token.ArchiveTimestamp)
}

func (s *Signature) timestamps(tag string, typ token.TimestampType) []*token.Timestamp {
	var out []*token.Timestamp
	for _, el := range s.unsignedChildren(tag) {
		for _, enc := range children(el, el.NamespaceURI(), EncapsulatedTSTag) {
			der, err := decodeBase64(enc.Text())
			if err != nil {
				log.Warning("skipping undecodable ", tag, ": ", err)
				continue
			}
			ts, err := token.ParseTimestamp(der, typ)
			if err != nil {
				log.Warning("skipping unparsable ", tag, ": ", err)
				continue
			}
			s.timestampElements[ts] = el
			out = append(out, ts)
		}
	}
	return out
}

func (s *Signature) collectCounterSignatures() error {
	for _, cs := range s.unsignedChildren(CounterSignatureTag) {
		for _, el := range children(cs, dsig.Namespace, dsig.SignatureTag) {
			sig, err := newSignature(s.doc, el)
			if err != nil {
				return fmt.Errorf("failed to parse counter signature: %w", err)
			}
			s.counterSignatures = append(s.counterSignatures, sig)
		}
	}
	return nil
}

func (s *Signature) Form() signature.Form { return signature.FormXAdES }

func (s *Signature) SigningCertificate() *x509.Certificate { return s.signingCrt }

// SignatureValue returns the decoded ds:SignatureValue.
func (s *Signature) SignatureValue() []byte { return s.signatureValue }

// ID returns the Id attribute of the ds:Signature element.
func (s *Signature) ID() string { return s.el.SelectAttrValue("Id", "") }

// SigningTime parses the SigningTime property, an xsd:dateTime.
func (s *Signature) SigningTime() time.Time {
	el := s.signedSignatureProperty(SigningTimeTag)
	if el == nil {
		return time.Time{}
	}
	t, err := parseDateTime(el.Text())
	if err != nil {
		log.Warning("undecodable signing time: ", err)
		return time.Time{}
	}
	return t
}

func parseDateTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", v)
}

func (s *Signature) CertificateSource() source.CertificateSource {
	return source.NewListCertificateSource(common.SourceSignature, s.certs...)
}

func (s *Signature) CRLSource() revocation.CRLSource {
	return revocation.NewListCRLSource(s.crls...)
}

func (s *Signature) OCSPSource() revocation.OCSPSource {
	return revocation.NewListOCSPSource(s.ocsps...)
}

func (s *Signature) SignatureTimestamps() []*token.Timestamp { return s.sigTimestamps }
func (s *Signature) TimestampsX1() []*token.Timestamp        { return s.x1Timestamps }
func (s *Signature) TimestampsX2() []*token.Timestamp        { return s.x2Timestamps }
func (s *Signature) ArchiveTimestamps() []*token.Timestamp   { return s.archiveTimestamps }

func (s *Signature) Certificates() []*x509.Certificate { return s.certs }
func (s *Signature) CRLs() []*x509.RevocationList      { return s.crls }
func (s *Signature) OCSPs() []*ocsp.Response           { return s.ocsps }

func (s *Signature) CounterSignatures() []signature.AdvancedSignature {
	out := make([]signature.AdvancedSignature, 0, len(s.counterSignatures))
	for _, cs := range s.counterSignatures {
		out = append(out, cs)
	}
	return out
}

// PolicyID reads SignaturePolicyIdentifier. A urn:oid: identifier is
// reported as a dotted OID.
func (s *Signature) PolicyID() *signature.PolicyID {
	spi := s.signedSignatureProperty(SignaturePolicyIdentifierTag)
	if spi == nil {
		return nil
	}
	if xadesChild(spi, SignaturePolicyImpliedTag) != nil {
		return &signature.PolicyID{Implied: true}
	}
	id := xadesChild(spi, SignaturePolicyIDTag)
	identifier := xadesChild(xadesChild(id, SigPolicyIDTag), IdentifierTag)
	if identifier == nil {
		log.Warning("signature policy identifier without identifier")
		return nil
	}
	policy := &signature.PolicyID{
		Identifier: strings.TrimPrefix(strings.TrimSpace(identifier.Text()), urnOIDPrefix),
	}
	if h, digest, err := digestOf(xadesChild(id, SigPolicyHashTag)); err == nil {
		policy.DigestAlgorithm = h.String()
		policy.Digest = digest
	}
	return policy
}

// CheckIntegrity verifies every reference digest, then the signature value
// over SignedInfo. detached is the content of references that point outside
// the document.
func (s *Signature) CheckIntegrity(detached common.Document) (bool, error) {
	if s.signingCrt == nil {
		return false, signature.ErrNoSigningCertificate
	}
	if s.signedProps != nil && !s.signsSignedProperties() {
		log.Info("SignedProperties are not covered by the signature")
		return false, nil
	}
	ok, err := s.verifyReferences(detached)
	if err != nil || !ok {
		return ok, err
	}
	return s.verifySignedInfo()
}

// signsSignedProperties reports whether a reference covers the
// SignedProperties element.
func (s *Signature) signsSignedProperties() bool {
	if s.signedProps == nil {
		return false
	}
	id := s.signedProps.SelectAttrValue("Id", "")
	for _, ref := range s.references() {
		if ref.SelectAttrValue("Type", "") == signedPropertiesType {
			return true
		}
		if id != "" && ref.SelectAttrValue(dsig.URIAttr, "") == "#"+id {
			return true
		}
	}
	return false
}
