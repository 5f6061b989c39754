package pades

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"testing"
)

const contentsSize = 16384

// testPDF writes minimal PDFs with incremental updates, one revision per
// signature or DSS addition.
type testPDF struct {
	buf      bytes.Buffer
	prevXref int
	size     int
	fields   []string
	dssRef   string
}

type pdfObject struct {
	num  int
	body string
}

func newTestPDF(t *testing.T) *testPDF {
	t.Helper()
	p := &testPDF{size: 4}
	p.buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	p.writeRevision([]pdfObject{
		{1, p.catalog()},
		{2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>"},
		{3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>"},
	})
	return p
}

func (p *testPDF) catalog() string {
	var b strings.Builder
	b.WriteString("<< /Type /Catalog /Pages 2 0 R")
	if len(p.fields) > 0 {
		fmt.Fprintf(&b, " /AcroForm << /Fields [%s] /SigFlags 3 >>", strings.Join(p.fields, " "))
	}
	if p.dssRef != "" {
		fmt.Fprintf(&b, " /DSS %s", p.dssRef)
	}
	b.WriteString(" >>")
	return b.String()
}

func (p *testPDF) alloc() int {
	n := p.size
	p.size++
	return n
}

func (p *testPDF) writeRevision(objs []pdfObject) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].num < objs[j].num })
	offsets := make(map[int]int, len(objs))
	for _, o := range objs {
		offsets[o.num] = p.buf.Len()
		fmt.Fprintf(&p.buf, "%d 0 obj\n%s\nendobj\n", o.num, o.body)
	}
	xref := p.buf.Len()
	p.buf.WriteString("xref\n")
	if p.prevXref == 0 {
		p.buf.WriteString("0 1\n0000000000 65535 f \n")
	}
	for _, o := range objs {
		fmt.Fprintf(&p.buf, "%d 1\n%010d 00000 n \n", o.num, offsets[o.num])
	}
	fmt.Fprintf(&p.buf, "trailer\n<< /Size %d /Root 1 0 R", p.size)
	if p.prevXref != 0 {
		fmt.Fprintf(&p.buf, " /Prev %d", p.prevXref)
	}
	fmt.Fprintf(&p.buf, " >>\nstartxref\n%d\n%%%%EOF\n", xref)
	p.prevXref = xref
}

func stream(data []byte) string {
	return fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(data), data)
}

// addSignature appends a revision with a new signature field. sign gets the
// signed byte ranges and returns the CMS or timestamp token to embed.
func (p *testPDF) addSignature(t *testing.T, subFilter, sigType string, sign func(signed []byte) []byte) []byte {
	t.Helper()
	field, value := p.alloc(), p.alloc()
	p.fields = append(p.fields, fmt.Sprintf("%d 0 R", field))
	start := p.buf.Len()
	p.writeRevision([]pdfObject{
		{1, p.catalog()},
		{field, fmt.Sprintf("<< /FT /Sig /T (Signature%d) /V %d 0 R /Type /Annot /Subtype /Widget /Rect [0 0 0 0] /P 3 0 R >>", field, value)},
		{value, fmt.Sprintf("<< /Type /%s /Filter /Adobe.PPKLite /SubFilter /%s /Name (Test Signer) /Reason (Approval) /M (D:20240102030405Z) /ByteRange [0 0000000000 0000000000 0000000000] /Contents <%s> >>",
			sigType, subFilter, strings.Repeat("0", 2*contentsSize))},
	})

	out := p.buf.Bytes()
	brAt := start + bytes.Index(out[start:], []byte("/ByteRange ["))
	a := start + bytes.Index(out[start:], []byte("/Contents <")) + len("/Contents ")
	b := a + 2*contentsSize + 2
	br := fmt.Sprintf("/ByteRange [0 %010d %010d %010d]", a, b, len(out)-b)
	copy(out[brAt:], br)

	signed := append(append([]byte(nil), out[:a]...), out[b:]...)
	contents := sign(signed)
	if len(contents) > contentsSize {
		t.Fatalf("signature of %d bytes does not fit", len(contents))
	}
	copy(out[a+1:], strings.ToUpper(hex.EncodeToString(contents)))
	return contents
}

type dssContent struct {
	certs, crls, ocsps [][]byte
	vriKeys            []string
}

// addDSS appends a revision with a DSS whose VRI entries reference every
// stream.
func (p *testPDF) addDSS(c dssContent) {
	var objs []pdfObject
	refs := func(items [][]byte) string {
		var r []string
		for _, item := range items {
			n := p.alloc()
			objs = append(objs, pdfObject{n, stream(item)})
			r = append(r, fmt.Sprintf("%d 0 R", n))
		}
		return "[" + strings.Join(r, " ") + "]"
	}
	certs, crls, ocsps := refs(c.certs), refs(c.crls), refs(c.ocsps)

	var vri strings.Builder
	for _, key := range c.vriKeys {
		fmt.Fprintf(&vri, " /%s << /Cert %s /CRL %s /OCSP %s >>", key, certs, crls, ocsps)
	}
	dss := p.alloc()
	objs = append(objs, pdfObject{dss, fmt.Sprintf("<< /Type /DSS /Certs %s /CRLs %s /OCSPs %s /VRI <<%s >> >>", certs, crls, ocsps, vri.String())})
	p.dssRef = fmt.Sprintf("%d 0 R", dss)
	objs = append(objs, pdfObject{1, p.catalog()})
	p.writeRevision(objs)
}

func (p *testPDF) bytes() []byte {
	return append([]byte(nil), p.buf.Bytes()...)
}
