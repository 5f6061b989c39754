package xades

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/signature"
)

// ErrDetachedContentRequired is returned when a reference points outside the
// document and no detached content was supplied.
var ErrDetachedContentRequired = errors.New("signature references detached content")

// NamedDocuments is detached content holding several documents, such as the
// data objects of a container. References are resolved by URI against it
// before falling back to the document itself.
type NamedDocuments interface {
	common.Document
	Document(name string) common.Document
}

// child returns the first child element of el in namespace ns with the given
// local name.
func child(el *etree.Element, ns, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == tag && c.NamespaceURI() == ns {
			return c
		}
	}
	return nil
}

func children(el *etree.Element, ns, tag string) []*etree.Element {
	if el == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == tag && c.NamespaceURI() == ns {
			out = append(out, c)
		}
	}
	return out
}

// xadesChild accepts both published XAdES namespaces.
func xadesChild(el *etree.Element, tag string) *etree.Element {
	if c := child(el, Namespace, tag); c != nil {
		return c
	}
	return child(el, Namespace141, tag)
}

func decodeBase64(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
}

// findByID looks up the element carrying id in an Id, ID or id attribute.
func findByID(root *etree.Element, id string) *etree.Element {
	if root == nil {
		return nil
	}
	for _, key := range []string{"Id", "ID", "id"} {
		if v := root.SelectAttrValue(key, ""); v == id {
			return root
		}
	}
	for _, c := range root.ChildElements() {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// detach copies el together with every namespace declaration in scope, so it
// can be canonicalized on its own.
func detach(el *etree.Element) (*etree.Element, error) {
	ctx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		return nil, err
	}
	return etreeutils.NSDetatch(ctx, el)
}

// canonicalize serializes el with the algorithm named by method, an element
// carrying an Algorithm attribute. A nil method selects inclusive C14N 1.0.
func canonicalize(el, method *etree.Element) ([]byte, error) {
	algorithm := string(defaultCanonicalMethod)
	prefixList := ""
	if method != nil {
		algorithm = method.SelectAttrValue(dsig.AlgorithmAttr, algorithm)
		if inc := child(method, string(dsig.CanonicalXML10ExclusiveAlgorithmId), dsig.InclusiveNamespacesTag); inc != nil {
			prefixList = inc.SelectAttrValue(dsig.PrefixListAttr, "")
		}
	}
	c, ok := canonicalizer(algorithm, prefixList)
	if !ok {
		return nil, fmt.Errorf("unknown canonicalization algorithm %s", algorithm)
	}
	detached, err := detach(el)
	if err != nil {
		return nil, err
	}
	return c.Canonicalize(detached)
}

// pathTo returns the child indexes leading from ancestor to el, or nil when
// el is not below ancestor.
func pathTo(ancestor, el *etree.Element) []int {
	var idx []int
	for cur := el; cur != ancestor; cur = cur.Parent() {
		if cur == nil || cur.Parent() == nil {
			return nil
		}
		idx = append([]int{cur.Index()}, idx...)
	}
	return idx
}

func removeAtPath(root *etree.Element, idx []int) bool {
	if len(idx) == 0 {
		return false
	}
	cur := root
	for _, i := range idx[:len(idx)-1] {
		if i >= len(cur.Child) {
			return false
		}
		next, ok := cur.Child[i].(*etree.Element)
		if !ok {
			return false
		}
		cur = next
	}
	last := idx[len(idx)-1]
	if last >= len(cur.Child) {
		return false
	}
	target, ok := cur.Child[last].(*etree.Element)
	if !ok {
		return false
	}
	cur.RemoveChild(target)
	return true
}

// referenceData returns the octets a ds:Reference digests, after its
// transforms. Same-document references are resolved against the signature
// document; any other URI is the detached content.
func (s *Signature) referenceData(ref *etree.Element, detached common.Document) ([]byte, error) {
	uri := ref.SelectAttrValue(dsig.URIAttr, "")
	if uri != "" && !strings.HasPrefix(uri, "#") {
		if detached == nil {
			return nil, ErrDetachedContentRequired
		}
		if set, ok := detached.(NamedDocuments); ok {
			if name, err := url.PathUnescape(uri); err == nil {
				if doc := set.Document(name); doc != nil {
					return common.ReadAll(doc)
				}
			}
		}
		return common.ReadAll(detached)
	}

	var target *etree.Element
	if uri == "" {
		target = s.doc.Root()
	} else {
		target = findByID(s.doc.Root(), strings.TrimPrefix(uri, "#"))
	}
	if target == nil {
		return nil, fmt.Errorf("reference %q does not resolve", uri)
	}

	sigPath := pathTo(target, s.el)
	el, err := detach(target)
	if err != nil {
		return nil, err
	}

	var c dsig.Canonicalizer
	for _, tr := range children(child(ref, dsig.Namespace, dsig.TransformsTag), dsig.Namespace, dsig.TransformTag) {
		algorithm := tr.SelectAttrValue(dsig.AlgorithmAttr, "")
		if dsig.AlgorithmID(algorithm) == dsig.EnvelopedSignatureAltorithmId {
			if target == s.el || (sigPath != nil && !removeAtPath(el, sigPath)) {
				return nil, errors.New("enveloped signature transform does not apply")
			}
			continue
		}
		prefixList := ""
		if inc := child(tr, string(dsig.CanonicalXML10ExclusiveAlgorithmId), dsig.InclusiveNamespacesTag); inc != nil {
			prefixList = inc.SelectAttrValue(dsig.PrefixListAttr, "")
		}
		next, ok := canonicalizer(algorithm, prefixList)
		if !ok {
			return nil, fmt.Errorf("unsupported transform %s", algorithm)
		}
		c = next
	}
	if c == nil {
		c = dsig.MakeC14N10RecCanonicalizer()
	}
	return c.Canonicalize(el)
}

// digestMethod returns the hash named by the ds:DigestMethod child of el.
func digestMethod(el *etree.Element) (crypto.Hash, error) {
	method := child(el, dsig.Namespace, dsig.DigestMethodTag)
	if method == nil {
		return 0, errors.New("missing DigestMethod")
	}
	h, ok := digestAlgorithmsByIdentifier[method.SelectAttrValue(dsig.AlgorithmAttr, "")]
	if !ok || !h.Available() {
		return 0, signature.ErrUnsupportedDigest
	}
	return h, nil
}

// digestOf reads the DigestMethod and DigestValue children of el.
func digestOf(el *etree.Element) (crypto.Hash, []byte, error) {
	h, err := digestMethod(el)
	if err != nil {
		return 0, nil, err
	}
	value := child(el, dsig.Namespace, dsig.DigestValueTag)
	if value == nil {
		return 0, nil, errors.New("missing DigestValue")
	}
	digest, err := decodeBase64(value.Text())
	if err != nil {
		return 0, nil, fmt.Errorf("invalid DigestValue: %w", err)
	}
	return h, digest, nil
}

func (s *Signature) references() []*etree.Element {
	return children(s.signedInfo, dsig.Namespace, dsig.ReferenceTag)
}

// verifyReferences recomputes the digest of every reference.
func (s *Signature) verifyReferences(detached common.Document) (bool, error) {
	refs := s.references()
	if len(refs) == 0 {
		return false, errors.New("SignedInfo holds no reference")
	}
	for _, ref := range refs {
		h, want, err := digestOf(ref)
		if err != nil {
			return false, err
		}
		data, err := s.referenceData(ref, detached)
		if err != nil {
			return false, err
		}
		d := h.New()
		d.Write(data)
		if !bytes.Equal(d.Sum(nil), want) {
			log.Info("digest mismatch for reference ", ref.SelectAttrValue(dsig.URIAttr, ""))
			return false, nil
		}
	}
	return true, nil
}

type ecdsaSignature struct {
	R, S *big.Int
}

// signatureValueDER converts an XML-DSig ECDSA value (r || s) to the DER
// form crypto/x509 verifies. Anything else is returned unchanged.
func signatureValueDER(cert *x509.Certificate, value []byte) []byte {
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return value
	}
	size := (pub.Curve.Params().BitSize + 7) / 8
	if len(value) != 2*size {
		return value
	}
	der, err := asn1.Marshal(ecdsaSignature{
		R: new(big.Int).SetBytes(value[:size]),
		S: new(big.Int).SetBytes(value[size:]),
	})
	if err != nil {
		return value
	}
	return der
}

// verifySignedInfo checks the signature value over the canonical SignedInfo.
func (s *Signature) verifySignedInfo() (bool, error) {
	method := child(s.signedInfo, dsig.Namespace, dsig.SignatureMethodTag)
	if method == nil {
		return false, errors.New("missing SignatureMethod")
	}
	uri := method.SelectAttrValue(dsig.AlgorithmAttr, "")
	algo, ok := signatureAlgorithmsByIdentifier[uri]
	if !ok {
		return false, fmt.Errorf("unsupported signature method %s", uri)
	}
	canonical, err := canonicalize(s.signedInfo, child(s.signedInfo, dsig.Namespace, dsig.CanonicalizationMethodTag))
	if err != nil {
		return false, err
	}
	if err := s.signingCrt.CheckSignature(algo, canonical, signatureValueDER(s.signingCrt, s.signatureValue)); err != nil {
		log.Info("signature value does not verify: ", err)
		return false, nil
	}
	return true, nil
}
