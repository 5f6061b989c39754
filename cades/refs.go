package cades

import (
	"crypto"
	"encoding/asn1"

	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/signature"
)

// otherHash decodes an OtherHash choice: a bare OCTET STRING is SHA-1.
func otherHash(raw asn1.RawValue) (crypto.Hash, []byte, bool) {
	if raw.Class == asn1.ClassUniversal && raw.Tag == asn1.TagOctetString {
		return crypto.SHA1, raw.Bytes, true
	}
	var h otherHashAlgAndValue
	if _, err := asn1.Unmarshal(raw.FullBytes, &h); err != nil {
		return 0, nil, false
	}
	return signature.HashFromOID(h.HashAlgorithm.Algorithm), h.HashValue, true
}

func (s *Signature) CertificateRefs() []signature.CertificateRef {
	var refs []signature.CertificateRef
	for _, a := range findAttributes(s.unsignedAttrs, OIDCompleteCertificateRefs) {
		v, err := a.firstValue()
		if err != nil {
			continue
		}
		var ids []otherCertID
		if _, err := asn1.Unmarshal(v.FullBytes, &ids); err != nil {
			log.Warning("undecodable complete certificate references: ", err)
			continue
		}
		for _, id := range ids {
			hash, digest, ok := otherHash(id.OtherCertHash)
			if !ok {
				continue
			}
			ref := signature.CertificateRef{DigestAlgorithm: hash, Digest: digest}
			if id.IssuerSerial.SerialNumber != nil {
				ref.SerialNumber = id.IssuerSerial.SerialNumber
				ref.IssuerName, _ = parseGeneralNamesDirectory(id.IssuerSerial.Issuer)
			}
			refs = append(refs, ref)
		}
	}
	return refs
}

func (s *Signature) revocationRefs() []crlOcspRef {
	var out []crlOcspRef
	for _, a := range findAttributes(s.unsignedAttrs, OIDCompleteRevocationRefs) {
		v, err := a.firstValue()
		if err != nil {
			continue
		}
		var refs []crlOcspRef
		if _, err := asn1.Unmarshal(v.FullBytes, &refs); err != nil {
			log.Warning("undecodable complete revocation references: ", err)
			continue
		}
		out = append(out, refs...)
	}
	return out
}

func (s *Signature) CRLRefs() []signature.CRLRef {
	var refs []signature.CRLRef
	for _, r := range s.revocationRefs() {
		for _, id := range r.CRLIDs.CRLs {
			hash, digest, ok := otherHash(id.CRLHash)
			if !ok {
				continue
			}
			ref := signature.CRLRef{
				DigestAlgorithm: hash,
				Digest:          digest,
				IssuedAt:        id.CRLIdentifier.CRLIssuedTime,
				Number:          id.CRLIdentifier.CRLNumber,
			}
			if len(id.CRLIdentifier.CRLIssuer.FullBytes) > 0 {
				ref.IssuerName, _ = parseName(id.CRLIdentifier.CRLIssuer.FullBytes)
			}
			refs = append(refs, ref)
		}
	}
	return refs
}

func (s *Signature) OCSPRefs() []signature.OCSPRef {
	var refs []signature.OCSPRef
	for _, r := range s.revocationRefs() {
		for _, id := range r.OCSPIDs.OCSPResponses {
			ref := signature.OCSPRef{ProducedAt: id.OCSPIdentifier.ProducedAt}
			if len(id.OCSPRepHash.FullBytes) > 0 {
				if hash, digest, ok := otherHash(id.OCSPRepHash); ok {
					ref.DigestAlgorithm = hash
					ref.Digest = digest
				}
			}
			refs = append(refs, ref)
		}
	}
	return refs
}
