package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattetti/filebuffer"
)

// Document is an opaque byte source for a signed artifact.
type Document interface {
	OpenStream() (io.ReadCloser, error)
	Name() string
	MimeType() string
}

// MemoryDocument holds the document bytes in memory.
type MemoryDocument struct {
	name     string
	mimeType string
	data     []byte
}

// NewMemoryDocument returns a document over data.
func NewMemoryDocument(data []byte, name, mimeType string) *MemoryDocument {
	if mimeType == "" {
		mimeType = MimeTypeFromName(name)
	}
	return &MemoryDocument{name: name, mimeType: mimeType, data: data}
}

func (d *MemoryDocument) OpenStream() (io.ReadCloser, error) {
	return filebuffer.New(d.data), nil
}

func (d *MemoryDocument) Name() string     { return d.name }
func (d *MemoryDocument) MimeType() string { return d.mimeType }

// Bytes returns the document contents.
func (d *MemoryDocument) Bytes() []byte { return d.data }

// FileDocument reads the document from disk on every OpenStream call.
type FileDocument struct {
	path string
}

// NewFileDocument returns a document backed by the file at path.
func NewFileDocument(path string) *FileDocument {
	return &FileDocument{path: path}
}

func (d *FileDocument) OpenStream() (io.ReadCloser, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document %s: %w", d.path, err)
	}
	return f, nil
}

func (d *FileDocument) Name() string     { return filepath.Base(d.path) }
func (d *FileDocument) MimeType() string { return MimeTypeFromName(d.path) }

// Buffer reads doc into a seekable in-memory buffer.
func Buffer(doc Document) (*filebuffer.Buffer, error) {
	if mem, ok := doc.(*MemoryDocument); ok {
		return filebuffer.New(mem.data), nil
	}
	rc, err := doc.OpenStream()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	buf, err := filebuffer.NewFromReader(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", doc.Name(), err)
	}
	return buf, nil
}

// ReadAll returns the full contents of doc.
func ReadAll(doc Document) ([]byte, error) {
	buf, err := Buffer(doc)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MimeTypeFromName guesses a MIME type from a file extension.
func MimeTypeFromName(name string) string {
	switch filepath.Ext(name) {
	case ".pdf":
		return "application/pdf"
	case ".xml":
		return "text/xml"
	case ".p7s", ".p7m", ".pkcs7":
		return "application/pkcs7-signature"
	case ".asics", ".scs":
		return "application/vnd.etsi.asic-s+zip"
	case ".asice", ".sce":
		return "application/vnd.etsi.asic-e+zip"
	default:
		return "application/octet-stream"
	}
}
