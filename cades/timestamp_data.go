package cades

import (
	"bytes"
	"encoding/asn1"
	"fmt"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/token"
)

// attributeValue is the content of an attribute SEQUENCE: its type
// followed by the SET OF values.
func attributeValue(a attribute) ([]byte, error) {
	return tlvContent(a.Raw)
}

func (s *Signature) SignatureTimestampData() ([]byte, error) {
	return s.info.Signature, nil
}

// TimestampX1Data covers the signature value, its signature timestamps and
// the complete references.
func (s *Signature) TimestampX1Data() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(s.info.Signature)
	for _, a := range findAttributes(s.unsignedAttrs, OIDSignatureTimeStamp) {
		v, err := attributeValue(a)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	refs, err := s.TimestampX2Data()
	if err != nil {
		return nil, err
	}
	buf.Write(refs)
	return buf.Bytes(), nil
}

// TimestampX2Data covers the complete certificate and revocation references.
func (s *Signature) TimestampX2Data() ([]byte, error) {
	var buf bytes.Buffer
	for _, oid := range []asn1.ObjectIdentifier{OIDCompleteCertificateRefs, OIDCompleteRevocationRefs} {
		for _, a := range findAttributes(s.unsignedAttrs, oid) {
			v, err := attributeValue(a)
			if err != nil {
				return nil, err
			}
			buf.Write(v)
		}
	}
	return buf.Bytes(), nil
}

// ArchiveTimestampData returns the bytes the archive timestamp ts was
// computed over. ts and the archive timestamps generated after it are left
// out of the unsigned attributes. A nil ts keeps every attribute, which is
// the data a new archive timestamp would cover.
func (s *Signature) ArchiveTimestampData(ts *token.Timestamp, detached common.Document) ([]byte, error) {
	if s.counterOf != nil {
		return nil, signature.ErrNotSupported
	}
	var buf bytes.Buffer
	buf.Write(s.c.sd.EncapContentInfo.FullBytes)
	if !s.c.hasContent && detached != nil {
		content, err := common.ReadAll(detached)
		if err != nil {
			return nil, fmt.Errorf("failed to read detached content: %w", err)
		}
		buf.Write(content)
	}
	buf.Write(s.c.sd.Certificates.Raw)
	buf.Write(s.c.sd.CRLs.Raw)

	for _, el := range s.elements {
		if len(el) > 0 && el[0] == 0xa1 {
			unsigned, err := s.retainedUnsignedAttributes(ts)
			if err != nil {
				return nil, err
			}
			buf.Write(unsigned)
			continue
		}
		buf.Write(el)
	}
	return buf.Bytes(), nil
}

func (s *Signature) retainedUnsignedAttributes(ts *token.Timestamp) ([]byte, error) {
	var kept []byte
	for _, a := range s.unsignedAttrs {
		if ts != nil && s.isLaterArchiveTimestamp(a, ts) {
			continue
		}
		kept = append(kept, a.Raw...)
	}
	if len(kept) == 0 {
		return nil, nil
	}
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        1,
		IsCompound: true,
		Bytes:      kept,
	})
}

// isLaterArchiveTimestamp reports whether a holds ts itself or an archive
// timestamp generated after it.
func (s *Signature) isLaterArchiveTimestamp(a attribute, ts *token.Timestamp) bool {
	if !a.Type.Equal(OIDArchiveTimestamp) && !a.Type.Equal(OIDArchiveTimestampV2) {
		return false
	}
	v, err := a.firstValue()
	if err != nil {
		return false
	}
	if bytes.Equal(v.FullBytes, ts.Raw()) {
		return true
	}
	for _, other := range s.archiveTimestamps {
		if bytes.Equal(v.FullBytes, other.Raw()) {
			return other.GenerationTime().After(ts.GenerationTime())
		}
	}
	return false
}
