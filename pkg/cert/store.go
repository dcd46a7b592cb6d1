package cert

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/numtide/webhook-bootstrap/pkg/util/metadata"
)

// Store reads and writes the certificate Secret. Every method issues exactly
// one API call; nothing is cached.
type Store struct {
	Client client.Client

	// Labels are added to the Secret on every write. The standard
	// app.kubernetes.io labels take precedence.
	Labels map[string]string
}

// NewStore returns a Store backed by c.
func NewStore(c client.Client) *Store {
	return &Store{Client: c}
}

// Get fetches the Secret and returns its PEM material. The bundle may be
// incomplete; callers check MissingFields.
func (s *Store) Get(ctx context.Context, key types.NamespacedName) (*Bundle, error) {
	secret := &corev1.Secret{}
	if err := s.Client.Get(ctx, key, secret); err != nil {
		if errors.IsNotFound(err) {
			return nil, fmt.Errorf("secret %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get certificate secret %s: %w", key, err)
	}
	return bundleFromSecret(secret), nil
}

// Create writes a new Secret. It never overwrites an existing one.
func (s *Store) Create(ctx context.Context, key types.NamespacedName, b *Bundle) error {
	if err := s.Client.Create(ctx, s.newSecret(key, b)); err != nil {
		if errors.IsAlreadyExists(err) {
			return fmt.Errorf("secret %s: %w", key, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create certificate secret %s: %w", key, err)
	}
	return nil
}

// Replace overwrites an existing Secret unconditionally. The object is sent
// without a resourceVersion so the write is not subject to conflict checks.
// b.SecretType must match the stored Secret; bundles returned by Get and
// RenewLeaf carry it.
func (s *Store) Replace(ctx context.Context, key types.NamespacedName, b *Bundle) error {
	if err := s.Client.Update(ctx, s.newSecret(key, b)); err != nil {
		return fmt.Errorf("failed to replace certificate secret %s: %w", key, err)
	}
	return nil
}

func (s *Store) newSecret(key types.NamespacedName, b *Bundle) *corev1.Secret {
	secretType := b.SecretType
	if secretType == "" {
		secretType = corev1.SecretTypeOpaque
	}
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      key.Name,
			Namespace: key.Namespace,
			Labels: metadata.MergeLabels(
				metadata.BuildStandardLabels(key.Name, metadata.ComponentCertificate),
				s.Labels,
			),
		},
		Type: secretType,
		Data: b.Data(),
	}
}
