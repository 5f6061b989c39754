// Package asic opens ASiC-S and ASiC-E containers and hands the signatures
// they carry to the CAdES and XAdES readers.
package asic

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/subnoto/adesvalidator/cades"
	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/xades"
)

const (
	MimeTypeASiCS = "application/vnd.etsi.asic-s+zip"
	MimeTypeASiCE = "application/vnd.etsi.asic-e+zip"

	metaInf      = "META-INF/"
	mimetypeFile = "mimetype"

	// maxEntrySize bounds the decompressed size of a single entry.
	maxEntrySize = 256 << 20
)

var (
	// ErrNotContainer is returned for documents that are not zip archives.
	ErrNotContainer = errors.New("document is not an ASiC container")
	// ErrNoSignatures is returned for containers without signature files.
	ErrNoSignatures = errors.New("container holds no signature")
	// ErrEntryTooLarge is returned for entries above maxEntrySize.
	ErrEntryTooLarge = errors.New("container entry is too large")
)

// Container is an opened ASiC container.
type Container struct {
	Name     string
	MimeType string

	entries     map[string][]byte
	dataObjects []*common.MemoryDocument
	cadesFiles  []string
	xadesFiles  []string
	manifests   []string
}

// Open reads the container held by doc.
func Open(doc common.Document) (*Container, error) {
	buf, err := common.Buffer(doc)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(buf, int64(len(buf.Bytes())))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotContainer, err)
	}

	c := &Container{Name: doc.Name(), entries: make(map[string][]byte)}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		c.entries[f.Name] = data

		switch {
		case f.Name == mimetypeFile:
			c.MimeType = strings.TrimSpace(string(data))
		case strings.HasPrefix(f.Name, metaInf):
			c.classifyMetaInf(f.Name)
		default:
			c.dataObjects = append(c.dataObjects, common.NewMemoryDocument(data, f.Name, common.MimeTypeFromName(f.Name)))
		}
	}

	if c.MimeType == "" {
		c.MimeType = MimeTypeASiCE
		if len(c.dataObjects) == 1 {
			c.MimeType = MimeTypeASiCS
		}
	}
	if len(c.cadesFiles)+len(c.xadesFiles) == 0 {
		return nil, ErrNoSignatures
	}
	log.Debug("opened ", c.MimeType, " container with ", len(c.dataObjects), " data objects")
	return c, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxEntrySize {
		return nil, ErrEntryTooLarge
	}
	return data, nil
}

func (c *Container) classifyMetaInf(name string) {
	if path.Dir(name)+"/" != metaInf {
		return
	}
	base := strings.ToLower(path.Base(name))
	switch {
	case strings.HasPrefix(base, "signature") && strings.HasSuffix(base, ".p7s"):
		c.cadesFiles = append(c.cadesFiles, name)
	case strings.HasPrefix(base, "signatures") && strings.HasSuffix(base, ".xml"):
		c.xadesFiles = append(c.xadesFiles, name)
	case strings.HasPrefix(base, "asicmanifest") && strings.HasSuffix(base, ".xml"):
		c.manifests = append(c.manifests, name)
	}
}

// DataObjects returns the signed files of the container in archive order.
func (c *Container) DataObjects() []*common.MemoryDocument {
	return append([]*common.MemoryDocument(nil), c.dataObjects...)
}

// Signatures parses every signature file of the container. Each signature
// knows the content it covers, so CheckIntegrity needs no detached document.
func (c *Container) Signatures() ([]signature.AdvancedSignature, error) {
	var out []signature.AdvancedSignature
	for _, name := range c.cadesFiles {
		sigs, err := cades.Parse(c.entries[name])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		content, manifest := c.cadesContent(name)
		for _, s := range sigs {
			out = append(out, &Signature{AdvancedSignature: s, File: name, content: content, manifest: manifest, container: c})
		}
	}
	for _, name := range c.xadesFiles {
		sigs, err := xades.ParseBytes(c.entries[name])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		var content common.Document
		if len(c.dataObjects) > 0 {
			content = &dataObjects{docs: c.dataObjects}
		}
		for _, s := range sigs {
			out = append(out, &Signature{AdvancedSignature: s, File: name, content: content, container: c})
		}
	}
	return out, nil
}

// cadesContent returns what a CAdES signature file signs: the ASiC manifest
// referencing it, or the first data object.
func (c *Container) cadesContent(sigFile string) (common.Document, *etree.Element) {
	for _, name := range c.manifests {
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(c.entries[name]); err != nil {
			log.Warning("skipping unreadable manifest ", name, ": ", err)
			continue
		}
		root := doc.Root()
		if root == nil {
			continue
		}
		for _, ref := range root.SelectElements("SigReference") {
			if ref.SelectAttrValue("URI", "") == sigFile {
				return common.NewMemoryDocument(c.entries[name], name, "text/xml"), root
			}
		}
	}
	if len(c.dataObjects) == 0 {
		return nil, nil
	}
	return c.dataObjects[0], nil
}

// verifyManifest recomputes the digest of every data object the manifest
// references.
func (c *Container) verifyManifest(manifest *etree.Element) (bool, error) {
	refs := manifest.SelectElements("DataObjectReference")
	if len(refs) == 0 {
		return false, errors.New("manifest references no data object")
	}
	for _, ref := range refs {
		uri := ref.SelectAttrValue("URI", "")
		data, ok := c.entries[uri]
		if !ok {
			log.Info("manifest references missing entry ", uri)
			return false, nil
		}
		method := ref.SelectElement(dsig.DigestMethodTag)
		value := ref.SelectElement(dsig.DigestValueTag)
		if method == nil || value == nil {
			return false, fmt.Errorf("manifest reference %s has no digest", uri)
		}
		h, ok := xades.DigestAlgorithm(method.SelectAttrValue(dsig.AlgorithmAttr, ""))
		if !ok || !h.Available() {
			return false, signature.ErrUnsupportedDigest
		}
		want, err := decodeDigest(value.Text())
		if err != nil {
			return false, fmt.Errorf("manifest reference %s: %w", uri, err)
		}
		d := h.New()
		d.Write(data)
		if !bytes.Equal(d.Sum(nil), want) {
			log.Info("digest mismatch for data object ", uri)
			return false, nil
		}
	}
	return true, nil
}

// dataObjects is the detached content of a XAdES signature in a container:
// the first data object, with every data object reachable by name.
type dataObjects struct {
	docs []*common.MemoryDocument
}

func (d *dataObjects) OpenStream() (io.ReadCloser, error) { return d.docs[0].OpenStream() }
func (d *dataObjects) Name() string                       { return d.docs[0].Name() }
func (d *dataObjects) MimeType() string                   { return d.docs[0].MimeType() }

func (d *dataObjects) Document(name string) common.Document {
	for _, doc := range d.docs {
		if doc.Name() == name {
			return doc
		}
	}
	return nil
}
