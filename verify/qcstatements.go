package verify

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/subnoto/adesvalidator/report"
)

var (
	oidQCStatements = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 3}
	oidQcCompliance = asn1.ObjectIdentifier{0, 4, 0, 1862, 1, 1}
	oidQcSSCD       = asn1.ObjectIdentifier{0, 4, 0, 1862, 1, 4}
	oidPolicyQCP    = asn1.ObjectIdentifier{0, 4, 0, 1456, 1, 2}
	oidPolicyQCPP   = asn1.ObjectIdentifier{0, 4, 0, 1456, 1, 1}
)

// qcStatement is one entry of the RFC 3739 QCStatements extension.
type qcStatement struct {
	ID   asn1.ObjectIdentifier
	Info asn1.RawValue `asn1:"optional"`
}

// qcStatementInformation reads the qualified certificate indications of
// cert: the QCP and QCP+ policies and the QcCompliance and QcSSCD
// statements.
func qcStatementInformation(cert *x509.Certificate) (*report.QCStatementInformation, error) {
	var compliance, sscd bool
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidQCStatements) {
			continue
		}
		var statements []qcStatement
		if _, err := asn1.Unmarshal(ext.Value, &statements); err != nil {
			return nil, fmt.Errorf("failed to decode QC statements of %s: %w", cert.Subject.CommonName, err)
		}
		for _, st := range statements {
			switch {
			case st.ID.Equal(oidQcCompliance):
				compliance = true
			case st.ID.Equal(oidQcSSCD):
				sscd = true
			}
		}
	}

	var qcp, qcpPlus bool
	for _, policy := range cert.PolicyIdentifiers {
		switch {
		case policy.Equal(oidPolicyQCP):
			qcp = true
		case policy.Equal(oidPolicyQCPP):
			qcpPlus = true
		}
	}

	return &report.QCStatementInformation{
		QCPPresent:          report.FromBool(qcp, ""),
		QCPPlusPresent:      report.FromBool(qcpPlus, ""),
		QcCompliancePresent: report.FromBool(compliance, ""),
		QcSSCDPresent:       report.FromBool(sscd, ""),
	}, nil
}
