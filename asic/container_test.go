package asic

import (
	"archive/zip"
	"bytes"
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/internal/testpki"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/xades"
)

type entry struct {
	name string
	data []byte
}

func buildZip(t *testing.T, entries ...entry) *common.MemoryDocument {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Store})
		if err != nil {
			t.Fatalf("failed to create %s: %v", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("failed to write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return common.NewMemoryDocument(buf.Bytes(), "container.asice", MimeTypeASiCE)
}

func manifestXML(sigFile string, objects ...entry) []byte {
	var refs bytes.Buffer
	for _, o := range objects {
		sum := sha256.Sum256(o.data)
		fmt.Fprintf(&refs, `<asic:DataObjectReference URI="%s"><ds:DigestMethod Algorithm="%s"/><ds:DigestValue>%s</ds:DigestValue></asic:DataObjectReference>`,
			o.name, xades.DigestAlgorithmIdentifier(crypto.SHA256), base64.StdEncoding.EncodeToString(sum[:]))
	}
	return []byte(fmt.Sprintf(`<asic:ASiCManifest xmlns:asic="http://uri.etsi.org/02918/v1.2.1#" xmlns:ds="http://www.w3.org/2000/09/xmldsig#"><asic:SigReference URI="%s" MimeType="application/pkcs7-signature"/>%s</asic:ASiCManifest>`, sigFile, refs.String()))
}

func TestASiCSWithCAdES(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.Issue(t, testpki.Options{CommonName: "Signer"})
	payload := []byte("contract body")

	sd := testpki.NewSignedData(t, payload, leaf, nil, root.Cert)
	sd.Detach()
	doc := buildZip(t,
		entry{mimetypeFile, []byte(MimeTypeASiCS)},
		entry{"contract.txt", payload},
		entry{"META-INF/signature.p7s", sd.Finish(t)},
	)

	c, err := Open(doc)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if c.MimeType != MimeTypeASiCS {
		t.Errorf("Expected %s, got %s", MimeTypeASiCS, c.MimeType)
	}
	if len(c.DataObjects()) != 1 || c.DataObjects()[0].Name() != "contract.txt" {
		t.Fatalf("Expected the contract as single data object, got %v", c.DataObjects())
	}

	sigs, err := c.Signatures()
	if err != nil {
		t.Fatalf("Signatures failed: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("Expected 1 signature, got %d", len(sigs))
	}
	if sigs[0].Form() != signature.FormCAdES {
		t.Errorf("Expected CAdES, got %v", sigs[0].Form())
	}
	ok, err := sigs[0].CheckIntegrity(nil)
	if err != nil || !ok {
		t.Errorf("Expected the container content to verify (ok %v, err %v)", ok, err)
	}

	other := common.NewMemoryDocument([]byte("another body"), "other.txt", "text/plain")
	ok, err = sigs[0].CheckIntegrity(other)
	if err != nil {
		t.Fatalf("CheckIntegrity failed: %v", err)
	}
	if ok {
		t.Error("Expected explicit detached content to take precedence")
	}
}

func TestASiCEWithManifest(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.Issue(t, testpki.Options{CommonName: "Signer"})
	first := entry{"a.txt", []byte("first object")}
	second := entry{"docs/b.txt", []byte("second object")}
	manifest := manifestXML("META-INF/signature001.p7s", first, second)

	sd := testpki.NewSignedData(t, manifest, leaf, nil, root.Cert)
	sd.Detach()
	sigDER := sd.Finish(t)

	tests := []struct {
		name   string
		second []byte
		want   bool
	}{
		{name: "untouched", second: second.data, want: true},
		{name: "data object modified", second: []byte("changed"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := buildZip(t,
				entry{mimetypeFile, []byte(MimeTypeASiCE)},
				first,
				entry{second.name, tt.second},
				entry{"META-INF/ASiCManifest001.xml", manifest},
				entry{"META-INF/signature001.p7s", sigDER},
			)
			c, err := Open(doc)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			sigs, err := c.Signatures()
			if err != nil {
				t.Fatalf("Signatures failed: %v", err)
			}
			if len(sigs) != 1 {
				t.Fatalf("Expected 1 signature, got %d", len(sigs))
			}
			if got := sigs[0].(*Signature).Content().Name(); got != "META-INF/ASiCManifest001.xml" {
				t.Errorf("Expected the manifest as signed content, got %s", got)
			}
			ok, err := sigs[0].CheckIntegrity(nil)
			if err != nil {
				t.Fatalf("CheckIntegrity failed: %v", err)
			}
			if ok != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, ok)
			}
		})
	}
}

func TestASiCEWithXAdES(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.Issue(t, testpki.Options{CommonName: "Signer"})
	payload := []byte("second data object")
	x := testpki.NewSignedXML(t, leaf, testpki.XMLOptions{DetachedURI: "b.txt", Detached: payload})

	doc := buildZip(t,
		entry{"a.txt", []byte("first data object")},
		entry{"b.txt", payload},
		entry{"META-INF/signatures.xml", x.Bytes(t)},
	)
	c, err := Open(doc)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if c.MimeType != MimeTypeASiCE {
		t.Errorf("Expected ASiC-E without a mimetype entry, got %s", c.MimeType)
	}
	sigs, err := c.Signatures()
	if err != nil {
		t.Fatalf("Signatures failed: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Form() != signature.FormXAdES {
		t.Fatalf("Expected one XAdES signature, got %d", len(sigs))
	}
	ok, err := sigs[0].CheckIntegrity(nil)
	if err != nil || !ok {
		t.Errorf("Expected the reference to resolve to b.txt by name (ok %v, err %v)", ok, err)
	}
}

func TestOpenRejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     common.Document
		wantErr error
	}{
		{
			name:    "not a zip",
			doc:     common.NewMemoryDocument([]byte("plain text"), "a.txt", "text/plain"),
			wantErr: ErrNotContainer,
		},
		{
			name:    "no signature",
			doc:     buildZip(t, entry{"a.txt", []byte("data")}, entry{"META-INF/manifest.xml", []byte("<m/>")}),
			wantErr: ErrNoSignatures,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.doc)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
