package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"time"
)

const (
	// Organization is the default organization name used in generated certificates.
	Organization = "Webhook Bootstrap"
	// CAValidityDuration is how long the CA certificate is valid for (100 years).
	// The CA is never rotated, so it is meant to outlive the deployment.
	CAValidityDuration = 100 * 365 * 24 * time.Hour
	// LeafValidityDuration is the default leaf certificate lifetime (395 days).
	LeafValidityDuration = 395 * 24 * time.Hour
)

// CAArtifacts holds the Certificate Authority keys and PEM-encoded data.
type CAArtifacts struct {
	Cert    *x509.Certificate
	Key     *ecdsa.PrivateKey
	CertPEM []byte
	KeyPEM  []byte
}

// LeafArtifacts holds the leaf certificate PEM-encoded data.
type LeafArtifacts struct {
	CertPEM []byte
	KeyPEM  []byte
}

// internal variables for mocking in tests
var (
	marshalECPrivateKey = x509.MarshalECPrivateKey
	parseCertificate    = x509.ParseCertificate
)

// GenerateCA creates a new self-signed Root CA using ECDSA P-256.
func GenerateCA(rng io.Reader, organization string, now time.Time) (*CAArtifacts, error) {
	if organization == "" {
		organization = Organization
	}

	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rng)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA private key: %w", err)
	}

	serial, err := newSerialNumber(rng)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   organization + " CA",
			Organization: []string{organization},
		},
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              now.Add(CAValidityDuration),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(rng, &template, &template, &privKey.PublicKey, privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	caCert, err := parseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated CA: %w", err)
	}

	keyPEM, err := encodeECKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CA key: %w", err)
	}

	return &CAArtifacts{
		Cert:    caCert,
		Key:     privKey,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}),
		KeyPEM:  keyPEM,
	}, nil
}

// GenerateLeaf creates a leaf certificate for id, signed by ca, with a fresh
// key pair. The validity window starts at notBefore.
func GenerateLeaf(
	rng io.Reader,
	ca *CAArtifacts,
	id Identity,
	notBefore time.Time,
	validity time.Duration,
) (*LeafArtifacts, error) {
	if ca == nil {
		return nil, fmt.Errorf("CA artifacts cannot be nil")
	}

	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rng)
	if err != nil {
		return nil, fmt.Errorf("failed to generate leaf private key: %w", err)
	}

	certPEM, err := signLeaf(rng, ca, id, &privKey.PublicKey, notBefore, validity)
	if err != nil {
		return nil, err
	}

	keyPEM, err := encodeECKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal leaf key: %w", err)
	}

	return &LeafArtifacts{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

// GenerateBundle creates a new CA and a leaf certificate for id signed by it.
func GenerateBundle(
	rng io.Reader,
	organization string,
	id Identity,
	now time.Time,
	validity time.Duration,
) (*Bundle, error) {
	ca, err := GenerateCA(rng, organization, now)
	if err != nil {
		return nil, err
	}
	leaf, err := GenerateLeaf(rng, ca, id, now, validity)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		CACertPEM:   ca.CertPEM,
		CAKeyPEM:    ca.KeyPEM,
		LeafCertPEM: leaf.CertPEM,
		LeafKeyPEM:  leaf.KeyPEM,
	}, nil
}

// RenewLeaf re-issues the leaf certificate of current with a validity window
// starting at now. The CA material and the leaf private key are carried over
// unchanged; the new certificate is issued over the public key of the old
// one, so only tls.crt differs in the returned bundle. SecretType is kept.
func RenewLeaf(
	rng io.Reader,
	current *Bundle,
	id Identity,
	now time.Time,
	validity time.Duration,
) (*Bundle, error) {
	ca, err := ParseCA(current.CACertPEM, current.CAKeyPEM)
	if err != nil {
		return nil, err
	}

	old, err := decodeCertificate(current.LeafCertPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse current leaf certificate: %w", err)
	}

	certPEM, err := signLeaf(rng, ca, id, old.PublicKey, now, validity)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		CACertPEM:   current.CACertPEM,
		CAKeyPEM:    current.CAKeyPEM,
		LeafCertPEM: certPEM,
		LeafKeyPEM:  current.LeafKeyPEM,
		SecretType:  current.SecretType,
	}, nil
}

func signLeaf(
	rng io.Reader,
	ca *CAArtifacts,
	id Identity,
	pub crypto.PublicKey,
	notBefore time.Time,
	validity time.Duration,
) ([]byte, error) {
	serial, err := newSerialNumber(rng)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   id.CommonName(),
			Organization: ca.Cert.Subject.Organization,
		},
		DNSNames:    id.DNSNames(),
		NotBefore:   notBefore,
		NotAfter:    notBefore.Add(validity),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	derBytes, err := x509.CreateCertificate(rng, &template, ca.Cert, pub, ca.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign leaf certificate: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}), nil
}

// newSerialNumber returns a random 128-bit serial.
func newSerialNumber(rng io.Reader) (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rng, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}

func encodeECKey(key *ecdsa.PrivateKey) ([]byte, error) {
	keyBytes, err := marshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}), nil
}

func decodeCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

// ParseCA decodes PEM data back into crypto objects for signing usage.
func ParseCA(certPEM, keyPEM []byte) (*CAArtifacts, error) {
	cert, err := decodeCertificate(certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA cert: %w", err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode CA key PEM")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		// PKCS8-wrapped keys are accepted as long as they are ECDSA.
		k, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if pkcs8Err != nil {
			return nil, fmt.Errorf("failed to parse CA private key: %w", err)
		}
		ecKey, ok := k.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("found non-ECDSA private key type in CA secret")
		}
		key = ecKey
	}

	return &CAArtifacts{
		Cert:    cert,
		Key:     key,
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
	}, nil
}
