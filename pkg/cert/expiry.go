package cert

import (
	"fmt"
	"time"
)

// RenewalThreshold is the default look-ahead before leaf expiry at which the
// leaf is renewed (30 days).
const RenewalThreshold = 30 * 24 * time.Hour

// IsStale reports whether the leaf certificate expires within threshold of
// now, i.e. notAfter < now+threshold. A certificate expiring exactly at
// now+threshold is still fresh.
func IsStale(leafCertPEM []byte, now time.Time, threshold time.Duration) (bool, error) {
	notAfter, err := LeafNotAfter(leafCertPEM)
	if err != nil {
		return false, err
	}
	return notAfter.Before(now.Add(threshold)), nil
}

// LeafNotAfter returns the expiry of the PEM-encoded certificate.
func LeafNotAfter(leafCertPEM []byte) (time.Time, error) {
	cert, err := decodeCertificate(leafCertPEM)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse leaf certificate: %w", err)
	}
	return cert.NotAfter, nil
}
