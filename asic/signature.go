package asic

import (
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/token"
)

// Signature is a CAdES or XAdES signature read from a container. It carries
// the content it covers so callers need not supply detached content.
type Signature struct {
	signature.AdvancedSignature

	// File is the container entry holding the signature.
	File string

	content   common.Document
	manifest  *etree.Element
	container *Container
}

// Content returns what the signature covers, nil when the container holds
// no data object.
func (s *Signature) Content() common.Document { return s.content }

// CheckIntegrity verifies the signature over its container content. A
// non-nil detached document takes precedence. Signatures over an ASiC
// manifest also require every data object digest in it to match.
func (s *Signature) CheckIntegrity(detached common.Document) (bool, error) {
	if detached == nil {
		detached = s.content
	}
	ok, err := s.AdvancedSignature.CheckIntegrity(detached)
	if err != nil || !ok || s.manifest == nil {
		return ok, err
	}
	return s.container.verifyManifest(s.manifest)
}

func (s *Signature) ArchiveTimestampData(ts *token.Timestamp, detached common.Document) ([]byte, error) {
	if detached == nil {
		detached = s.content
	}
	return s.AdvancedSignature.ArchiveTimestampData(ts, detached)
}

func decodeDigest(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
}
