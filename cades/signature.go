// Package cades reads CMS advanced electronic signatures.
package cades

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/digitorus/pkcs7"
	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/revocation"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/source"
	"github.com/subnoto/adesvalidator/token"
)

var (
	// ErrNotSignedData is returned for CMS content other than SignedData.
	ErrNotSignedData = errors.New("cms content is not signed data")
	// ErrNoSigners is returned for SignedData without SignerInfo.
	ErrNoSigners = errors.New("signed data has no signers")
	// ErrDetachedContentRequired is returned when integrity cannot be checked
	// because the content is neither encapsulated nor supplied.
	ErrDetachedContentRequired = errors.New("signature is detached and no content was supplied")
)

// container is the SignedData shared by every signer it holds.
type container struct {
	der        []byte
	sd         signedData
	p7         *pkcs7.PKCS7
	content    []byte
	hasContent bool
	certs      []*x509.Certificate
	crls       []*x509.RevocationList
	ocsps      []*ocsp.Response
}

// Signature is one SignerInfo of a CMS SignedData.
type Signature struct {
	c    *container
	info signerInfo
	// elements holds the TLVs of the SignerInfo in encoding order.
	elements [][]byte

	signedAttrs   []attribute
	unsignedAttrs []attribute

	// counterOf is the signature value a counter signature signs.
	counterOf []byte

	certs      []*x509.Certificate
	crls       []*x509.RevocationList
	ocsps      []*ocsp.Response
	signingCrt *x509.Certificate

	sigTimestamps     []*token.Timestamp
	x1Timestamps      []*token.Timestamp
	x2Timestamps      []*token.Timestamp
	archiveTimestamps []*token.Timestamp
	counterSignatures []*Signature
}

// Parse decodes a DER or BER encoded CMS SignedData and returns one
// signature per SignerInfo.
func Parse(der []byte) ([]*Signature, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CMS: %w", err)
	}
	// Timestamp data is rebuilt from the DER structure; BER is rejected here.
	var info contentInfo
	if _, err := asn1.Unmarshal(der, &info); err != nil {
		return nil, fmt.Errorf("failed to decode content info: %w", err)
	}
	if !info.ContentType.Equal(OIDSignedData) {
		return nil, ErrNotSignedData
	}
	c := &container{der: der, p7: p7, content: p7.Content}
	if _, err := asn1.Unmarshal(info.Content.Bytes, &c.sd); err != nil {
		return nil, fmt.Errorf("failed to decode signed data: %w", err)
	}
	if len(c.sd.SignerInfos) == 0 {
		return nil, ErrNoSigners
	}

	var eci encapsulatedContentInfo
	if _, err := asn1.Unmarshal(c.sd.EncapContentInfo.FullBytes, &eci); err != nil {
		return nil, fmt.Errorf("failed to decode encapsulated content info: %w", err)
	}
	c.hasContent = len(eci.EContent.Bytes) > 0

	if c.certs, err = parseCertificateSet(c.sd.Certificates); err != nil {
		return nil, err
	}
	if c.crls, c.ocsps, err = parseRevocationInfoChoices(c.sd.CRLs); err != nil {
		return nil, err
	}

	var sigs []*Signature
	for i, raw := range c.sd.SignerInfos {
		s, err := newSignature(c, raw.FullBytes, nil)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}
		sigs = append(sigs, s)
	}
	return sigs, nil
}

func parseCertificateSet(tagged rawTagged) ([]*x509.Certificate, error) {
	content, err := tlvContent(tagged.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate set: %w", err)
	}
	choices, err := elements(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate set: %w", err)
	}
	var certs []*x509.Certificate
	for _, choice := range choices {
		// Attribute and other certificate formats are tagged; skip them.
		if choice.Class != asn1.ClassUniversal {
			continue
		}
		cert, err := x509.ParseCertificate(choice.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedded certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func parseRevocationInfoChoices(tagged rawTagged) ([]*x509.RevocationList, []*ocsp.Response, error) {
	content, err := tlvContent(tagged.Raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode revocation info: %w", err)
	}
	choices, err := elements(content)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode revocation info: %w", err)
	}
	var crls []*x509.RevocationList
	var responses []*ocsp.Response
	for _, choice := range choices {
		if choice.Class == asn1.ClassUniversal {
			crl, err := x509.ParseRevocationList(choice.FullBytes)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to parse embedded CRL: %w", err)
			}
			crls = append(crls, crl)
			continue
		}
		if choice.Class != asn1.ClassContextSpecific || choice.Tag != 1 {
			continue
		}
		var other otherRevocationInfoFormat
		if _, err := asn1.UnmarshalWithParams(choice.FullBytes, &other, "tag:1"); err != nil {
			return nil, nil, fmt.Errorf("failed to decode other revocation info: %w", err)
		}
		if !other.OtherRevInfoFormat.Equal(oidRIOCSPResponse) {
			continue
		}
		resp, err := ocsp.ParseResponse(other.OtherRevInfo.FullBytes, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse embedded OCSP response: %w", err)
		}
		responses = append(responses, resp)
	}
	return crls, responses, nil
}

func newSignature(c *container, der []byte, counterOf []byte) (*Signature, error) {
	s := &Signature{c: c, counterOf: counterOf}
	rest, err := asn1.Unmarshal(der, &s.info)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signer info: %w", err)
	}
	if len(rest) > 0 {
		return nil, errors.New("trailing data after signer info")
	}
	content, err := tlvContent(der)
	if err != nil {
		return nil, err
	}
	els, err := elements(content)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		s.elements = append(s.elements, el.FullBytes)
	}
	if s.signedAttrs, err = parseAttributes(s.info.SignedAttrs); err != nil {
		return nil, err
	}
	if s.unsignedAttrs, err = parseAttributes(s.info.UnsignedAttrs); err != nil {
		return nil, err
	}
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

// collectValues merges the SignedData sets with the certificate and
// revocation values carried in attributes.
func (s *Signature) collectValues() error {
	s.certs = append(s.certs, s.c.certs...)
	s.crls = append(s.crls, s.c.crls...)
	s.ocsps = append(s.ocsps, s.c.ocsps...)

	for _, a := range findAttributes(s.unsignedAttrs, OIDCertificateValues) {
		v, err := a.firstValue()
		if err != nil {
			return fmt.Errorf("failed to decode certificate values: %w", err)
		}
		certs, err := x509.ParseCertificates(v.Bytes)
		if err != nil {
			return fmt.Errorf("failed to parse certificate values: %w", err)
		}
		for _, cert := range certs {
			s.addCertificate(cert)
		}
	}

	for _, a := range findAttributes(s.unsignedAttrs, OIDRevocationValues) {
		v, err := a.firstValue()
		if err != nil {
			return fmt.Errorf("failed to decode revocation values: %w", err)
		}
		var rv revocationValues
		if _, err := asn1.Unmarshal(v.FullBytes, &rv); err != nil {
			return fmt.Errorf("failed to decode revocation values: %w", err)
		}
		for _, raw := range rv.CRLVals {
			crl, err := x509.ParseRevocationList(raw.FullBytes)
			if err != nil {
				return fmt.Errorf("failed to parse CRL value: %w", err)
			}
			s.crls = append(s.crls, crl)
		}
		for _, raw := range rv.OCSPVals {
			resp, err := revocation.ParseBasicOCSPResponse(raw.FullBytes)
			if err != nil {
				return fmt.Errorf("failed to parse OCSP value: %w", err)
			}
			s.ocsps = append(s.ocsps, resp)
		}
	}

	for _, a := range findAttributes(s.signedAttrs, OIDAdobeRevocationInfoArchive) {
		v, err := a.firstValue()
		if err != nil {
			return fmt.Errorf("failed to decode revocation info archival: %w", err)
		}
		var ria revocationInfoArchival
		if _, err := asn1.Unmarshal(v.FullBytes, &ria); err != nil {
			return fmt.Errorf("failed to decode revocation info archival: %w", err)
		}
		for _, raw := range ria.CRL {
			crl, err := x509.ParseRevocationList(raw.FullBytes)
			if err != nil {
				return fmt.Errorf("failed to parse archived CRL: %w", err)
			}
			s.crls = append(s.crls, crl)
		}
		for _, raw := range ria.OCSP {
			resp, err := ocsp.ParseResponse(raw.FullBytes, nil)
			if err != nil {
				return fmt.Errorf("failed to parse archived OCSP response: %w", err)
			}
			s.ocsps = append(s.ocsps, resp)
		}
	}
	return nil
}

func (s *Signature) addCertificate(cert *x509.Certificate) {
	for _, c := range s.certs {
		if c.Equal(cert) {
			return
		}
	}
	s.certs = append(s.certs, cert)
}

func (s *Signature) findSigningCertificate() *x509.Certificate {
	sid := s.info.SID
	if sid.Class == asn1.ClassContextSpecific && sid.Tag == 0 {
		for _, c := range s.certs {
			if len(c.SubjectKeyId) > 0 && bytes.Equal(c.SubjectKeyId, sid.Bytes) {
				return c
			}
		}
		return nil
	}
	var ias issuerAndSerial
	if _, err := asn1.Unmarshal(sid.FullBytes, &ias); err != nil || ias.SerialNumber == nil {
		return nil
	}
	for _, c := range s.certs {
		if c.SerialNumber.Cmp(ias.SerialNumber) == 0 && bytes.Equal(c.RawIssuer, ias.IssuerName.FullBytes) {
			return c
		}
	}
	return nil
}

func (s *Signature) collectTimestamps() {
	s.sigTimestamps = s.timestamps(OIDSignatureTimeStamp, token.SignatureTimestamp)
	s.x1Timestamps = s.timestamps(OIDEscTimeStamp, token.ValidationDataTimestamp)
	s.x2Timestamps = s.timestamps(OIDCertCRLTimestamp, token.ValidationDataRefsOnlyTimestamp)
	s.archiveTimestamps = append(s.timestamps(OIDArchiveTimestamp, token.ArchiveTimestamp),
		s.timestamps(OIDArchiveTimestampV2, token.ArchiveTimestamp)...)
}

// timestamps parses every token of the given attribute type. Tokens that
// cannot be parsed are logged and left out.
func (s *Signature) timestamps(oid asn1.ObjectIdentifier, typ token.TimestampType) []*token.Timestamp {
	var out []*token.Timestamp
	for _, a := range findAttributes(s.unsignedAttrs, oid) {
		vals, err := a.values()
		if err != nil {
			log.Warning("skipping undecodable ", typ, " attribute: ", err)
			continue
		}
		for _, v := range vals {
			ts, err := token.ParseTimestamp(v.FullBytes, typ)
			if err != nil {
				log.Warning("skipping unparseable ", typ, ": ", err)
				continue
			}
			out = append(out, ts)
		}
	}
	return out
}

func (s *Signature) collectCounterSignatures() error {
	for _, a := range findAttributes(s.unsignedAttrs, OIDCounterSignature) {
		vals, err := a.values()
		if err != nil {
			return fmt.Errorf("failed to decode counter signature: %w", err)
		}
		for _, v := range vals {
			cs, err := newSignature(s.c, v.FullBytes, s.info.Signature)
			if err != nil {
				return fmt.Errorf("counter signature: %w", err)
			}
			s.counterSignatures = append(s.counterSignatures, cs)
		}
	}
	return nil
}

func (s *Signature) Form() signature.Form { return signature.FormCAdES }

func (s *Signature) SigningCertificate() *x509.Certificate { return s.signingCrt }

// SignatureValue returns the signature octets.
func (s *Signature) SignatureValue() []byte { return s.info.Signature }

// DigestAlgorithm returns the hash used for the message digest.
func (s *Signature) DigestAlgorithm() crypto.Hash {
	return signature.HashFromOID(s.info.DigestAlgorithm.Algorithm)
}

func (s *Signature) SigningTime() time.Time {
	for _, a := range findAttributes(s.signedAttrs, OIDAttributeSigningTime) {
		v, err := a.firstValue()
		if err != nil {
			continue
		}
		var t time.Time
		if _, err := asn1.Unmarshal(v.FullBytes, &t); err == nil {
			return t
		}
	}
	return time.Time{}
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

// IsDetached reports whether the SignedData carries no content.
func (s *Signature) IsDetached() bool { return s.counterOf == nil && !s.c.hasContent }

func (s *Signature) CounterSignatures() []signature.AdvancedSignature {
	out := make([]signature.AdvancedSignature, 0, len(s.counterSignatures))
	for _, cs := range s.counterSignatures {
		out = append(out, cs)
	}
	return out
}

func (s *Signature) PolicyID() *signature.PolicyID {
	attrs := findAttributes(s.signedAttrs, OIDSignaturePolicyIdentifier)
	if len(attrs) == 0 {
		return nil
	}
	v, err := attrs[0].firstValue()
	if err != nil {
		return nil
	}
	if v.Class == asn1.ClassUniversal && v.Tag == asn1.TagNull {
		return &signature.PolicyID{Implied: true}
	}
	var spid signaturePolicyID
	if _, err := asn1.Unmarshal(v.FullBytes, &spid); err != nil {
		log.Warning("undecodable signature policy identifier: ", err)
		return nil
	}
	return &signature.PolicyID{
		Identifier:      spid.SigPolicyID.String(),
		DigestAlgorithm: signature.HashFromOID(spid.SigPolicyHash.HashAlgorithm.Algorithm).String(),
		Digest:          spid.SigPolicyHash.HashValue,
	}
}

// signedContent returns the bytes covered by the message digest.
func (s *Signature) signedContent(detached common.Document) ([]byte, error) {
	if s.counterOf != nil {
		return s.counterOf, nil
	}
	if s.c.hasContent {
		return s.c.content, nil
	}
	if detached == nil {
		return nil, ErrDetachedContentRequired
	}
	return common.ReadAll(detached)
}

// CheckIntegrity verifies the message digest and the signature value.
func (s *Signature) CheckIntegrity(detached common.Document) (bool, error) {
	if s.signingCrt == nil {
		return false, signature.ErrNoSigningCertificate
	}
	content, err := s.signedContent(detached)
	if err != nil {
		return false, err
	}
	return s.verify(bytes.NewReader(content))
}

// CheckIntegrityReader is CheckIntegrity over streamed content, used for
// PDF byte ranges.
func (s *Signature) CheckIntegrityReader(content io.Reader) (bool, error) {
	if s.signingCrt == nil {
		return false, signature.ErrNoSigningCertificate
	}
	return s.verify(content)
}

func (s *Signature) verify(content io.Reader) (bool, error) {
	if len(s.info.SignedAttrs.Raw) == 0 {
		return false, errors.New("signatures without signed attributes are not supported")
	}
	hash := s.DigestAlgorithm()
	if hash == 0 || !hash.Available() {
		return false, signature.ErrUnsupportedDigest
	}
	h := hash.New()
	if _, err := io.Copy(h, content); err != nil {
		return false, fmt.Errorf("failed to read signed content: %w", err)
	}

	mds := findAttributes(s.signedAttrs, OIDAttributeMessageDigest)
	if len(mds) != 1 {
		return false, errors.New("signed attributes must hold exactly one message digest")
	}
	v, err := mds[0].firstValue()
	if err != nil {
		return false, err
	}
	var md []byte
	if _, err := asn1.Unmarshal(v.FullBytes, &md); err != nil {
		return false, fmt.Errorf("failed to decode message digest: %w", err)
	}
	if !bytes.Equal(md, h.Sum(nil)) {
		log.Info("message digest mismatch for ", s.signingCrt.Subject.CommonName)
		return false, nil
	}

	algo := signatureAlgorithm(s.signingCrt, hash, s.info.SignatureAlgorithm.Algorithm)
	if algo == x509.UnknownSignatureAlgorithm {
		return false, fmt.Errorf("unsupported signature algorithm %s", s.info.SignatureAlgorithm.Algorithm)
	}
	// The signature covers the DER SET OF, not the implicit [0] tag.
	signed := append([]byte{0x31}, s.info.SignedAttrs.Raw[1:]...)
	if err := s.signingCrt.CheckSignature(algo, signed, s.info.Signature); err != nil {
		log.Info("signature value does not verify: ", err)
		return false, nil
	}
	return true, nil
}

var oidRSASSAPSS = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}

func signatureAlgorithm(cert *x509.Certificate, hash crypto.Hash, sigAlg asn1.ObjectIdentifier) x509.SignatureAlgorithm {
	switch cert.PublicKeyAlgorithm {
	case x509.RSA:
		pss := sigAlg.Equal(oidRSASSAPSS)
		switch hash {
		case crypto.SHA1:
			if !pss {
				return x509.SHA1WithRSA
			}
		case crypto.SHA256:
			if pss {
				return x509.SHA256WithRSAPSS
			}
			return x509.SHA256WithRSA
		case crypto.SHA384:
			if pss {
				return x509.SHA384WithRSAPSS
			}
			return x509.SHA384WithRSA
		case crypto.SHA512:
			if pss {
				return x509.SHA512WithRSAPSS
			}
			return x509.SHA512WithRSA
		}
	case x509.ECDSA:
		switch hash {
		case crypto.SHA1:
			return x509.ECDSAWithSHA1
		case crypto.SHA256:
			return x509.ECDSAWithSHA256
		case crypto.SHA384:
			return x509.ECDSAWithSHA384
		case crypto.SHA512:
			return x509.ECDSAWithSHA512
		}
	case x509.Ed25519:
		return x509.PureEd25519
	}
	return x509.UnknownSignatureAlgorithm
}
