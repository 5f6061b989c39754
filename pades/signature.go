// Package pades reads the CMS signatures and document timestamps of a PDF.
package pades

import (
	"bytes"
	"crypto/sha1"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/digitorus/pdf"
	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/cades"
	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/revocation"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/source"
	"github.com/subnoto/adesvalidator/token"
)

var (
	// ErrNoSignatures is returned for a PDF without signed signature fields.
	ErrNoSignatures = errors.New("document has no signatures")
	// ErrUnknownDocumentTimestamp is returned when archive data is asked for
	// a timestamp that does not cover the signature.
	ErrUnknownDocumentTimestamp = errors.New("timestamp is not a document timestamp covering this signature")
)

const subFilterRFC3161 = "ETSI.RFC3161"

// documentTimestamp is a /DocTimeStamp signature field.
type documentTimestamp struct {
	ts        *token.Timestamp
	byteRange []int64
}

// Signature is a PDF signature field holding a CMS signature.
type Signature struct {
	*cades.Signature

	Name        string
	Reason      string
	Location    string
	ContactInfo string
	SubFilter   string
	// ClaimedTime is the /M entry of the signature dictionary.
	ClaimedTime time.Time

	file          io.ReaderAt
	contents      []byte
	byteRange     []int64
	dss           *DSS
	docTimestamps []*documentTimestamp
	archive       []*token.Timestamp
}

// Parse returns the signatures of a PDF in revision order. Document
// timestamps are attached as archive timestamps to every signature they
// cover.
func Parse(doc common.Document) ([]*Signature, error) {
	buf, err := common.Buffer(doc)
	if err != nil {
		return nil, err
	}
	size := int64(buf.Buff.Len())
	rdr, err := pdf.NewReader(buf, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	root := rdr.Trailer().Key("Root")

	dss, err := parseDSS(root)
	if err != nil {
		return nil, err
	}

	var sigs []*Signature
	var timestamps []*documentTimestamp
	err = walkFields(root.Key("AcroForm").Key("Fields"), 0, func(v pdf.Value) error {
		contents, err := cmsContents(v)
		if err != nil {
			return err
		}
		br, err := byteRange(v)
		if err != nil {
			return err
		}
		if v.Key("SubFilter").Name() == subFilterRFC3161 || v.Key("Type").Name() == "DocTimeStamp" {
			ts, err := token.ParseTimestamp(contents, token.ArchiveTimestamp)
			if err != nil {
				return fmt.Errorf("failed to parse document timestamp: %w", err)
			}
			timestamps = append(timestamps, &documentTimestamp{ts: ts, byteRange: br})
			return nil
		}

		parsed, err := cades.Parse(contents)
		if err != nil {
			return err
		}
		if len(parsed) > 1 {
			log.Warning("PDF signature holds ", len(parsed), " signers, using the first")
		}
		s := &Signature{
			Signature:   parsed[0],
			Name:        v.Key("Name").Text(),
			Reason:      v.Key("Reason").Text(),
			Location:    v.Key("Location").Text(),
			ContactInfo: v.Key("ContactInfo").Text(),
			SubFilter:   v.Key("SubFilter").Name(),
			file:        buf,
			contents:    contents,
			byteRange:   br,
			dss:         dss,
		}
		if m := v.Key("M"); !m.IsNull() {
			if t, err := parseDate(m.Text()); err == nil {
				s.ClaimedTime = t
			}
		}
		sigs = append(sigs, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, ErrNoSignatures
	}

	sort.SliceStable(sigs, func(i, j int) bool { return rangeEnd(sigs[i].byteRange) < rangeEnd(sigs[j].byteRange) })
	sort.SliceStable(timestamps, func(i, j int) bool {
		return rangeEnd(timestamps[i].byteRange) < rangeEnd(timestamps[j].byteRange)
	})
	for _, s := range sigs {
		for _, dt := range timestamps {
			if rangeEnd(dt.byteRange) > rangeEnd(s.byteRange) {
				s.docTimestamps = append(s.docTimestamps, dt)
				s.archive = append(s.archive, dt.ts)
			}
		}
	}
	return sigs, nil
}

// walkFields calls fn with the value dictionary of every signed signature
// field, descending into /Kids.
func walkFields(fields pdf.Value, depth int, fn func(pdf.Value) error) error {
	if depth > 32 {
		return errors.New("form field tree is too deep")
	}
	for i := 0; i < fields.Len(); i++ {
		field := fields.Index(i)
		if kids := field.Key("Kids"); kids.Kind() == pdf.Array {
			if err := walkFields(kids, depth+1, fn); err != nil {
				return err
			}
		}
		v := field.Key("V")
		if v.Kind() != pdf.Dict {
			continue
		}
		if field.Key("FT").Name() != "Sig" && v.Key("Type").Name() != "Sig" && v.Key("Type").Name() != "DocTimeStamp" {
			continue
		}
		if err := fn(v); err != nil {
			return fmt.Errorf("field %q: %w", field.Key("T").Text(), err)
		}
	}
	return nil
}

// cmsContents returns /Contents without the zero padding reserved when
// the signature was prepared.
func cmsContents(v pdf.Value) ([]byte, error) {
	raw := []byte(v.Key("Contents").RawString())
	if len(raw) == 0 {
		return nil, errors.New("signature has no /Contents")
	}
	var tlv asn1.RawValue
	if _, err := asn1.Unmarshal(raw, &tlv); err != nil {
		return raw, nil
	}
	return tlv.FullBytes, nil
}

func byteRange(v pdf.Value) ([]int64, error) {
	br := v.Key("ByteRange")
	if br.Len() == 0 || br.Len()%2 != 0 {
		return nil, fmt.Errorf("invalid ByteRange length: %d", br.Len())
	}
	out := make([]int64, br.Len())
	for i := range out {
		out[i] = br.Index(i).Int64()
		if out[i] < 0 {
			return nil, errors.New("negative ByteRange entry")
		}
	}
	return out, nil
}

func rangeEnd(br []int64) int64 {
	var end int64
	for i := 0; i+1 < len(br); i += 2 {
		if e := br[i] + br[i+1]; e > end {
			end = e
		}
	}
	return end
}

func byteRangeReader(file io.ReaderAt, br []int64) io.Reader {
	parts := make([]io.Reader, 0, len(br)/2)
	for i := 0; i+1 < len(br); i += 2 {
		parts = append(parts, io.NewSectionReader(file, br[i], br[i+1]))
	}
	return io.MultiReader(parts...)
}

var pdfDateLayouts = []string{
	"D:20060102150405Z07'00'",
	"D:20060102150405Z07'00",
	"D:20060102150405Z",
	"D:20060102150405",
}

// parseDate parses PDF formatted dates (D:YYYYMMDDHHmmSSOHH'mm').
func parseDate(v string) (time.Time, error) {
	var err error
	for _, layout := range pdfDateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func (s *Signature) Form() signature.Form { return signature.FormPAdES }

// SigningTime prefers the signed attribute and falls back to /M.
func (s *Signature) SigningTime() time.Time {
	if t := s.Signature.SigningTime(); !t.IsZero() {
		return t
	}
	return s.ClaimedTime
}

// CheckIntegrity verifies the CMS signature over the signed byte ranges.
// The detached document is ignored.
func (s *Signature) CheckIntegrity(common.Document) (bool, error) {
	return s.Signature.CheckIntegrityReader(byteRangeReader(s.file, s.byteRange))
}

// VRIKey is the key of this signature in the DSS /VRI dictionary.
func (s *Signature) VRIKey() string {
	sum := sha1.Sum(s.contents)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// DSS returns the document security store, nil when the document has none.
func (s *Signature) DSS() *DSS { return s.dss }

func (s *Signature) Certificates() []*x509.Certificate {
	certs := append([]*x509.Certificate(nil), s.Signature.Certificates()...)
	if s.dss != nil {
		certs = append(certs, s.dss.Certs...)
	}
	return certs
}

func (s *Signature) CRLs() []*x509.RevocationList {
	crls := append([]*x509.RevocationList(nil), s.Signature.CRLs()...)
	if s.dss != nil {
		crls = append(crls, s.dss.CRLs...)
	}
	return crls
}

func (s *Signature) OCSPs() []*ocsp.Response {
	responses := append([]*ocsp.Response(nil), s.Signature.OCSPs()...)
	if s.dss != nil {
		responses = append(responses, s.dss.OCSPs...)
	}
	return responses
}

func (s *Signature) CertificateSource() source.CertificateSource {
	return source.NewListCertificateSource(common.SourceSignature, s.Certificates()...)
}

func (s *Signature) CRLSource() revocation.CRLSource {
	return revocation.NewListCRLSource(s.CRLs()...)
}

func (s *Signature) OCSPSource() revocation.OCSPSource {
	return revocation.NewListOCSPSource(s.OCSPs()...)
}

// ArchiveTimestamps returns the document timestamps added after this
// signature.
func (s *Signature) ArchiveTimestamps() []*token.Timestamp { return s.archive }

// ArchiveTimestampData returns the byte ranges covered by the document
// timestamp ts.
func (s *Signature) ArchiveTimestampData(ts *token.Timestamp, _ common.Document) ([]byte, error) {
	if ts == nil {
		return nil, signature.ErrNotSupported
	}
	for _, dt := range s.docTimestamps {
		if bytes.Equal(dt.ts.Raw(), ts.Raw()) {
			data, err := io.ReadAll(byteRangeReader(s.file, dt.byteRange))
			if err != nil {
				return nil, fmt.Errorf("failed to read document timestamp range: %w", err)
			}
			return data, nil
		}
	}
	return nil, ErrUnknownDocumentTimestamp
}
