package verify

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/internal/testpki"
	"github.com/subnoto/adesvalidator/pades"
	"github.com/subnoto/adesvalidator/report"
	"github.com/subnoto/adesvalidator/revocation"
	"github.com/subnoto/adesvalidator/signature"
	"github.com/subnoto/adesvalidator/source"
	"github.com/subnoto/adesvalidator/token"
)

// fakeSignature is an adapter whose content is set field by field.
type fakeSignature struct {
	form        signature.Form
	cert        *x509.Certificate
	signingTime time.Time

	certs     []*x509.Certificate
	crls      []*x509.RevocationList
	responses []*ocsp.Response

	signatureTimestamps []*token.Timestamp
	x1, x2, archive     []*token.Timestamp
	// timestampedData is what every timestamp class covers.
	timestampedData []byte

	certRefs []signature.CertificateRef
	crlRefs  []signature.CRLRef
	ocspRefs []signature.OCSPRef

	policy    *signature.PolicyID
	counters  []signature.AdvancedSignature
	integrity bool
	panics    bool
}

func (f *fakeSignature) Form() signature.Form {
	if f.form == 0 {
		return signature.FormCAdES
	}
	return f.form
}

func (f *fakeSignature) SigningCertificate() *x509.Certificate { return f.cert }
func (f *fakeSignature) SigningTime() time.Time                { return f.signingTime }

func (f *fakeSignature) CertificateSource() source.CertificateSource {
	return source.NewListCertificateSource(common.SourceSignature, f.certs...)
}

func (f *fakeSignature) CRLSource() revocation.CRLSource {
	return revocation.NewListCRLSource(f.crls...)
}

func (f *fakeSignature) OCSPSource() revocation.OCSPSource {
	return revocation.NewListOCSPSource(f.responses...)
}

func (f *fakeSignature) SignatureTimestamps() []*token.Timestamp { return f.signatureTimestamps }
func (f *fakeSignature) TimestampsX1() []*token.Timestamp        { return f.x1 }
func (f *fakeSignature) TimestampsX2() []*token.Timestamp        { return f.x2 }
func (f *fakeSignature) ArchiveTimestamps() []*token.Timestamp   { return f.archive }

func (f *fakeSignature) CheckIntegrity(common.Document) (bool, error) {
	if f.panics {
		panic("corrupted signer info")
	}
	return f.integrity, nil
}

func (f *fakeSignature) CertificateRefs() []signature.CertificateRef { return f.certRefs }
func (f *fakeSignature) CRLRefs() []signature.CRLRef                 { return f.crlRefs }
func (f *fakeSignature) OCSPRefs() []signature.OCSPRef               { return f.ocspRefs }

func (f *fakeSignature) Certificates() []*x509.Certificate { return f.certs }
func (f *fakeSignature) CRLs() []*x509.RevocationList      { return f.crls }
func (f *fakeSignature) OCSPs() []*ocsp.Response           { return f.responses }

func (f *fakeSignature) PolicyID() *signature.PolicyID                    { return f.policy }
func (f *fakeSignature) CounterSignatures() []signature.AdvancedSignature { return f.counters }

func (f *fakeSignature) SignatureTimestampData() ([]byte, error) { return f.timestampedData, nil }
func (f *fakeSignature) TimestampX1Data() ([]byte, error)        { return f.timestampedData, nil }
func (f *fakeSignature) TimestampX2Data() ([]byte, error)        { return f.timestampedData, nil }

func (f *fakeSignature) ArchiveTimestampData(*token.Timestamp, common.Document) ([]byte, error) {
	return f.timestampedData, nil
}

// fakePDFSignature adds a document security store.
type fakePDFSignature struct {
	*fakeSignature
	dss    *pades.DSS
	vriKey string
}

func (f *fakePDFSignature) Form() signature.Form { return signature.FormPAdES }
func (f *fakePDFSignature) DSS() *pades.DSS      { return f.dss }
func (f *fakePDFSignature) VRIKey() string       { return f.vriKey }

// fixture is a root listed in a trusted list with a signer and a TSA.
type fixture struct {
	now  time.Time
	root *testpki.Authority
	leaf *testpki.Authority
	tsa  *testpki.Authority
	tl   *source.TrustedListSource
}

func newFixture(t *testing.T, service common.ServiceInfo, leafOpts testpki.Options) *fixture {
	t.Helper()
	root := testpki.NewRoot(t, "Verify Root CA")
	if leafOpts.CommonName == "" {
		leafOpts.CommonName = "Verify Signer"
	}
	tl := source.NewTrustedListSource()
	tl.AddCertificate(root.Cert, service)
	return &fixture{
		now:  time.Now().Truncate(time.Second),
		root: root,
		leaf: root.Issue(t, leafOpts),
		tsa:  root.NewTSA(t, "Verify TSA"),
		tl:   tl,
	}
}

func grantedService() common.ServiceInfo {
	return common.ServiceInfo{TSPName: "Test TSP", ServiceName: "Verify Root CA", Status: "granted", TLWellSigned: true}
}

func (f *fixture) options() *VerifyOptions {
	return &VerifyOptions{TrustedList: f.tl, Clock: clockwork.NewFakeClockAt(f.now)}
}

// signature returns a BES signature of the leaf carrying its chain.
func (f *fixture) signature() *fakeSignature {
	return &fakeSignature{
		cert:        f.leaf.Cert,
		signingTime: f.now.Add(-time.Minute),
		certs:       []*x509.Certificate{f.leaf.Cert, f.root.Cert},
		integrity:   true,
	}
}

func (f *fixture) timestamp(t *testing.T, data []byte, typ token.TimestampType) *token.Timestamp {
	t.Helper()
	ts, err := token.ParseTimestamp(f.tsa.Timestamp(t, data, f.now.Add(-30*time.Second)), typ)
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	return ts
}

func validateOne(t *testing.T, opts *VerifyOptions, sig signature.AdvancedSignature) report.SignatureInformation {
	t.Helper()
	v := &SignedDocumentValidator{Options: opts}
	r := v.ValidateSignatures([]signature.AdvancedSignature{sig})
	if len(r.SignatureInformation) == 0 {
		t.Fatal("Expected signature information in the report")
	}
	return r.SignatureInformation[0]
}

func expectResult(t *testing.T, what string, got report.Result, want report.Result) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %s, got %s", what, want, got)
	}
}
