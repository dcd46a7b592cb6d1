package cert

import (
	"encoding/base64"
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// Secret data keys. They follow the cert-manager layout so that other tooling
// can consume the same Secret.
const (
	CACertKey   = "ca.crt"
	CAKeyKey    = "ca.key"
	LeafCertKey = "tls.crt"
	LeafKeyKey  = "tls.key"
)

// Bundle is the PEM material persisted in the certificate Secret.
type Bundle struct {
	CACertPEM   []byte
	CAKeyPEM    []byte
	LeafCertPEM []byte
	LeafKeyPEM  []byte

	// SecretType is the type of the Secret the bundle was read from. Secret
	// types are immutable, so a replacement keeps it. Empty for new bundles,
	// which are stored as Opaque.
	SecretType corev1.SecretType
}

// bundleFromSecret maps a Secret onto a Bundle. Missing keys leave the
// corresponding field empty; see MissingFields.
func bundleFromSecret(secret *corev1.Secret) *Bundle {
	data := secret.Data
	return &Bundle{
		SecretType:  secret.Type,
		CACertPEM:   data[CACertKey],
		CAKeyPEM:    data[CAKeyKey],
		LeafCertPEM: data[LeafCertKey],
		LeafKeyPEM:  data[LeafKeyKey],
	}
}

// Data returns the Secret data representation of the bundle.
func (b *Bundle) Data() map[string][]byte {
	return map[string][]byte{
		CACertKey:   b.CACertPEM,
		CAKeyKey:    b.CAKeyPEM,
		LeafCertKey: b.LeafCertPEM,
		LeafKeyKey:  b.LeafKeyPEM,
	}
}

// MissingFields lists the Secret keys that are absent or empty, in a stable order.
func (b *Bundle) MissingFields() []string {
	var missing []string
	for _, f := range []struct {
		key   string
		value []byte
	}{
		{CACertKey, b.CACertPEM},
		{CAKeyKey, b.CAKeyPEM},
		{LeafCertKey, b.LeafCertPEM},
		{LeafKeyKey, b.LeafKeyPEM},
	} {
		if len(f.value) == 0 {
			missing = append(missing, f.key)
		}
	}
	return missing
}

// CABundle returns the base64 encoding of the CA certificate PEM, the form
// expected in webhook clientConfig.caBundle fields.
func (b *Bundle) CABundle() string {
	return base64.StdEncoding.EncodeToString(b.CACertPEM)
}

// Identity names the Service fronting the webhook server. The leaf subject
// and SANs are derived from it and nothing else.
type Identity struct {
	ServiceName      string
	ServiceNamespace string
}

// CommonName returns <service>.<namespace>.svc.
func (id Identity) CommonName() string {
	return fmt.Sprintf("%s.%s.svc", id.ServiceName, id.ServiceNamespace)
}

// DNSNames returns the three names the leaf certificate is valid for.
func (id Identity) DNSNames() []string {
	return []string{
		id.ServiceName,
		fmt.Sprintf("%s.%s", id.ServiceName, id.ServiceNamespace),
		id.CommonName(),
	}
}
