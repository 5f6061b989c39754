package xades

import (
	"bytes"
	"math/big"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/token"
)

func (s *Signature) CertificateRefs() []signature.CertificateRef {
	var refs []signature.CertificateRef
	for _, complete := range s.unsignedChildren(CompleteCertificateRefsTag) {
		ns := complete.NamespaceURI()
		for _, certEl := range children(child(complete, ns, CertRefsTag), ns, CertTag) {
			h, digest, err := digestOf(child(certEl, ns, CertDigestTag))
			if err != nil {
				log.Warning("unusable certificate reference: ", err)
				continue
			}
			ref := signature.CertificateRef{DigestAlgorithm: h, Digest: digest}
			if serial := child(certEl, ns, IssuerSerialTag); serial != nil {
				if n, ok := new(big.Int).SetString(strings.TrimSpace(textOf(child(serial, dsig.Namespace, X509SerialNumberTag))), 10); ok {
					ref.SerialNumber = n
				}
			}
			refs = append(refs, ref)
		}
	}
	return refs
}

func textOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return el.Text()
}

func (s *Signature) revocationRefs(listTag, refTag string) []*etree.Element {
	var out []*etree.Element
	for _, complete := range s.unsignedChildren(CompleteRevocationRefsTag) {
		ns := complete.NamespaceURI()
		out = append(out, children(child(complete, ns, listTag), ns, refTag)...)
	}
	return out
}

func (s *Signature) CRLRefs() []signature.CRLRef {
	var refs []signature.CRLRef
	for _, el := range s.revocationRefs(CRLRefsTag, CRLRefTag) {
		ns := el.NamespaceURI()
		h, digest, err := digestOf(child(el, ns, DigestAlgAndValueTag))
		if err != nil {
			log.Warning("unusable CRL reference: ", err)
			continue
		}
		ref := signature.CRLRef{DigestAlgorithm: h, Digest: digest}
		if id := child(el, ns, CRLIdentifierTag); id != nil {
			if t, err := parseDateTime(textOf(child(id, ns, IssueTimeTag))); err == nil {
				ref.IssuedAt = t
			}
			if n, ok := new(big.Int).SetString(strings.TrimSpace(textOf(child(id, ns, NumberTag))), 10); ok {
				ref.Number = n
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

func (s *Signature) OCSPRefs() []signature.OCSPRef {
	var refs []signature.OCSPRef
	for _, el := range s.revocationRefs(OCSPRefsTag, OCSPRefTag) {
		ns := el.NamespaceURI()
		var ref signature.OCSPRef
		if id := child(el, ns, OCSPIdentifierTag); id != nil {
			if t, err := parseDateTime(textOf(child(id, ns, ProducedAtTag))); err == nil {
				ref.ProducedAt = t
			}
		}
		if dv := child(el, ns, DigestAlgAndValueTag); dv != nil {
			h, digest, err := digestOf(dv)
			if err != nil {
				log.Warning("unusable OCSP reference digest: ", err)
			} else {
				ref.DigestAlgorithm = h
				ref.Digest = digest
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

// timestampMethod returns the CanonicalizationMethod of the first
// timestamp property named tag.
func (s *Signature) timestampMethod(tag string) *etree.Element {
	if props := s.unsignedChildren(tag); len(props) > 0 {
		return child(props[0], dsig.Namespace, dsig.CanonicalizationMethodTag)
	}
	return nil
}

func (s *Signature) signatureValueElement() *etree.Element {
	return child(s.el, dsig.Namespace, dsig.SignatureValueTag)
}

func canonicalizeAll(buf *bytes.Buffer, method *etree.Element, els ...*etree.Element) error {
	for _, el := range els {
		if el == nil {
			continue
		}
		data, err := canonicalize(el, method)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return nil
}

// SignatureTimestampData is the canonical ds:SignatureValue element.
func (s *Signature) SignatureTimestampData() ([]byte, error) {
	var buf bytes.Buffer
	if err := canonicalizeAll(&buf, s.timestampMethod(SignatureTimeStampTag), s.signatureValueElement()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TimestampX1Data covers SignatureValue, the signature timestamps and the
// complete references, in that order.
func (s *Signature) TimestampX1Data() ([]byte, error) {
	method := s.timestampMethod(SigAndRefsTimeStampTag)
	els := []*etree.Element{s.signatureValueElement()}
	els = append(els, s.unsignedChildren(SignatureTimeStampTag)...)
	els = append(els, s.unsignedChildren(CompleteCertificateRefsTag)...)
	els = append(els, s.unsignedChildren(CompleteRevocationRefsTag)...)
	var buf bytes.Buffer
	if err := canonicalizeAll(&buf, method, els...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TimestampX2Data covers the complete certificate and revocation references.
func (s *Signature) TimestampX2Data() ([]byte, error) {
	method := s.timestampMethod(RefsOnlyTimeStampTag)
	els := append(s.unsignedChildren(CompleteCertificateRefsTag), s.unsignedChildren(CompleteRevocationRefsTag)...)
	var buf bytes.Buffer
	if err := canonicalizeAll(&buf, method, els...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ArchiveTimestampData concatenates the referenced data, SignedInfo,
// SignatureValue and KeyInfo, the unsigned signature properties that precede
// the archive timestamp ts, and the ds:Object elements other than the one
// holding the qualifying properties. A nil ts covers every unsigned property.
func (s *Signature) ArchiveTimestampData(ts *token.Timestamp, detached common.Document) ([]byte, error) {
	var method *etree.Element
	var stop *etree.Element
	if ts != nil {
		stop = s.timestampElements[ts]
		if stop == nil {
			return nil, signature.ErrNotSupported
		}
		method = child(stop, dsig.Namespace, dsig.CanonicalizationMethodTag)
	}

	var buf bytes.Buffer
	for _, ref := range s.references() {
		data, err := s.referenceData(ref, detached)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	if err := canonicalizeAll(&buf, method, s.signedInfo, s.signatureValueElement(), s.keyInfo); err != nil {
		return nil, err
	}
	if s.unsignedProps != nil {
		for _, prop := range s.unsignedProps.ChildElements() {
			if prop == stop {
				break
			}
			if err := canonicalizeAll(&buf, method, prop); err != nil {
				return nil, err
			}
		}
	}
	for _, obj := range children(s.el, dsig.Namespace, ObjectTag) {
		if s.qualifying != nil && s.qualifying.Parent() == obj {
			continue
		}
		if err := canonicalizeAll(&buf, method, obj); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
