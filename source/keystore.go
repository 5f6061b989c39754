package source

import (
	"crypto/x509/pkix"
	"fmt"
	"os"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/subnoto/adesvalidator/common"
)

// KeyStoreSource exposes the certificates of a PKCS#12 trust store.
type KeyStoreSource struct {
	list *ListCertificateSource
}

// LoadKeyStore reads a PKCS#12 trust store from path.
func LoadKeyStore(path, password string) (*KeyStoreSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore %s: %w", path, err)
	}
	return ParseKeyStore(data, password)
}

// ParseKeyStore decodes a PKCS#12 trust store.
func ParseKeyStore(data []byte, password string) (*KeyStoreSource, error) {
	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode keystore: %w", err)
	}
	return &KeyStoreSource{list: NewListCertificateSource(common.SourceKeyStore, certs...)}, nil
}

func (k *KeyStoreSource) CertificateBySubjectName(name pkix.Name) []common.CertificateAndContext {
	return k.list.CertificateBySubjectName(name)
}

func (k *KeyStoreSource) Certificates() []common.CertificateAndContext {
	return k.list.Certificates()
}
