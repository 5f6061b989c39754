package common

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// CanonicalName returns a key for comparing distinguished names. Attribute
// values are NFKC normalized, case folded and whitespace collapsed, and the
// attributes are sorted so that encoding order does not matter.
func CanonicalName(name pkix.Name) string {
	attrs := name.Names
	if len(attrs) == 0 {
		for _, rdn := range name.ToRDNSequence() {
			attrs = append(attrs, rdn...)
		}
	}
	parts := make([]string, 0, len(attrs))
	for _, atv := range attrs {
		parts = append(parts, atv.Type.String()+"="+normalizeValue(atv.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// CanonicalRawName is CanonicalName for a DER encoded Name.
func CanonicalRawName(raw []byte) (string, error) {
	var rdn pkix.RDNSequence
	rest, err := asn1.Unmarshal(raw, &rdn)
	if err != nil {
		return "", fmt.Errorf("failed to parse distinguished name: %w", err)
	}
	if len(rest) > 0 {
		return "", fmt.Errorf("trailing data after distinguished name")
	}
	var name pkix.Name
	name.FillFromRDNSequence(&rdn)
	return CanonicalName(name), nil
}

func normalizeValue(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	s = norm.NFKC.String(s)
	s = folder.String(s)
	return strings.Join(strings.Fields(s), " ")
}
