package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// ExpiryWarning is how far ahead an approaching expiry is logged.
const ExpiryWarning = 30 * 24 * time.Hour

// leaf parses the first certificate of the chain.
func leaf(cert *tls.Certificate) (*x509.Certificate, error) {
	if cert == nil || len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("tls: certificate chain is empty")
	}
	if cert.Leaf != nil {
		return cert.Leaf, nil
	}
	x, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("tls: parse certificate: %w", err)
	}
	return x, nil
}

// CheckValidity returns an error when now lies outside the certificate's
// validity window.
func CheckValidity(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("tls: certificate not valid before %s", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("tls: certificate expired on %s", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}
