package cert

// +kubebuilder:rbac:groups="",resources=secrets,verbs=get;create;update
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/numtide/webhook-bootstrap/pkg/monitoring"
)

const (
	// CertFileName is the name of the certificate file expected by controller-runtime.
	CertFileName = "tls.crt"
	// KeyFileName is the name of the key file expected by controller-runtime.
	KeyFileName = "tls.key"
	// CAFileName is the name of the CA certificate file written next to the leaf.
	CAFileName = "ca.crt"
)

// bootstrapState names the step EnsureCertificates is in. It only shows up
// in logs; the decision is re-derived from the Secret on every call.
type bootstrapState string

const (
	stateAbsent   bootstrapState = "Absent"
	stateCreating bootstrapState = "Creating"
	statePresent  bootstrapState = "Present"
	stateStale    bootstrapState = "Stale"
	stateRenewing bootstrapState = "Renewing"
)

// Options configures the certificate Manager.
type Options struct {
	// ServiceNamespace and ServiceName identify the Service fronting the
	// webhook server. They determine the leaf subject and SANs.
	ServiceNamespace string
	ServiceName      string

	// SecretNamespace and SecretName locate the Secret holding the bundle.
	SecretNamespace string
	SecretName      string

	// Validity is the leaf certificate lifetime. Defaults to LeafValidityDuration.
	Validity time.Duration

	// RenewalThreshold is how long before expiry the leaf is renewed.
	// Defaults to RenewalThreshold.
	RenewalThreshold time.Duration

	// Organization overrides the certificate Organization field.
	// Defaults to the package-level Organization constant.
	Organization string

	// CertDir, when set, receives tls.crt, tls.key and ca.crt after every
	// successful ensure so a webhook server can load them.
	CertDir string

	// Clock is the time source. Defaults to the real clock.
	Clock clock.PassiveClock

	// Labels are added to the certificate Secret.
	Labels map[string]string
}

func (o *Options) validity() time.Duration {
	if o.Validity > 0 {
		return o.Validity
	}
	return LeafValidityDuration
}

func (o *Options) renewalThreshold() time.Duration {
	if o.RenewalThreshold > 0 {
		return o.RenewalThreshold
	}
	return RenewalThreshold
}

func (o *Options) clock() clock.PassiveClock {
	if o.Clock != nil {
		return o.Clock
	}
	return clock.RealClock{}
}

func (o *Options) identity() Identity {
	return Identity{ServiceName: o.ServiceName, ServiceNamespace: o.ServiceNamespace}
}

func (o *Options) secretKey() types.NamespacedName {
	return types.NamespacedName{Namespace: o.SecretNamespace, Name: o.SecretName}
}

// Manager gets, creates or renews the webhook certificate bundle.
type Manager struct {
	Client   client.Client
	Recorder record.EventRecorder
	Options  Options

	store *Store
	// rng is the source of randomness. Defaults to crypto/rand.Reader.
	rng io.Reader
}

// NewManager creates a new certificate manager. recorder may be nil.
func NewManager(c client.Client, recorder record.EventRecorder, opts Options) *Manager {
	store := NewStore(c)
	store.Labels = opts.Labels
	return &Manager{
		Client:   c,
		Recorder: recorder,
		Options:  opts,
		store:    store,
		rng:      rand.Reader,
	}
}

// EnsureCertificates makes sure a valid bundle exists in the Secret and
// returns the base64-encoded CA certificate for use as a caBundle.
func (m *Manager) EnsureCertificates(ctx context.Context) (string, error) {
	bundle, err := m.Ensure(ctx)
	if err != nil {
		return "", err
	}
	return bundle.CABundle(), nil
}

// Ensure is EnsureCertificates returning the whole bundle.
//
// A missing Secret is generated and created; if another writer creates it
// first, the Secret is read back once. A present Secret is renewed when its
// leaf is about to expire and returned untouched otherwise. A Secret lacking
// any of the four keys fails with ErrMalformedRecord.
func (m *Manager) Ensure(ctx context.Context) (*Bundle, error) {
	key := m.Options.secretKey()
	ctx, span := monitoring.StartEnsureSpan(ctx, key.Namespace, key.Name)

	bundle, result, err := m.ensure(ctx, key)
	if err == nil && m.Options.CertDir != "" {
		if writeErr := m.writeCertsToDisk(ctx, bundle); writeErr != nil {
			err = fmt.Errorf("failed to write certs to disk: %w", writeErr)
		}
	}
	monitoring.EndEnsureSpan(span, result, err)
	if err != nil {
		monitoring.RecordEnsure(monitoring.EnsureResultError)
		return nil, err
	}
	monitoring.RecordEnsure(result)

	if notAfter, err := LeafNotAfter(bundle.LeafCertPEM); err == nil {
		monitoring.SetLeafExpiry(key.Namespace, key.Name, notAfter)
	}
	return bundle, nil
}

func (m *Manager) ensure(ctx context.Context, key types.NamespacedName) (*Bundle, string, error) {
	logger := m.logger(ctx, key)

	bundle, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		logger.Info("certificate secret not found, generating", "state", stateCreating)
		created, createErr := m.create(ctx, key)
		if createErr == nil {
			return created, monitoring.EnsureResultCreated, nil
		}
		if !errors.Is(createErr, ErrAlreadyExists) {
			return nil, "", createErr
		}

		logger.Info("certificate secret was created concurrently, reading it back", "state", stateAbsent)
		bundle, err = m.store.Get(ctx, key)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read certificate secret after losing creation race: %w", err)
		}
	case err != nil:
		return nil, "", err
	}

	return m.reconcile(ctx, key, bundle)
}

func (m *Manager) create(ctx context.Context, key types.NamespacedName) (*Bundle, error) {
	bundle, err := GenerateBundle(
		m.rng,
		m.Options.Organization,
		m.Options.identity(),
		m.Options.clock().Now(),
		m.Options.validity(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificates: %w", err)
	}
	if err := m.store.Create(ctx, key, bundle); err != nil {
		return nil, err
	}
	m.recordEvent(key, "Generated", "Generated new webhook CA and leaf certificate")
	return bundle, nil
}

func (m *Manager) reconcile(ctx context.Context, key types.NamespacedName, bundle *Bundle) (*Bundle, string, error) {
	logger := m.logger(ctx, key)

	if missing := bundle.MissingFields(); len(missing) > 0 {
		return nil, "", fmt.Errorf("%w: secret %s is missing %s",
			ErrMalformedRecord, key, strings.Join(missing, ", "))
	}

	now := m.Options.clock().Now()
	stale, err := IsStale(bundle.LeafCertPEM, now, m.Options.renewalThreshold())
	if err != nil {
		return nil, "", fmt.Errorf("%w: secret %s: %w", ErrMalformedRecord, key, err)
	}
	if !stale {
		logger.V(1).Info("existing webhook certificates are valid", "state", statePresent)
		return bundle, monitoring.EnsureResultUnchanged, nil
	}

	logger.Info("leaf certificate is close to expiry, renewing", "state", stateStale)
	renewed, err := RenewLeaf(m.rng, bundle, m.Options.identity(), now, m.Options.validity())
	if err != nil {
		return nil, "", fmt.Errorf("failed to renew leaf certificate: %w", err)
	}

	logger.V(1).Info("replacing certificate secret", "state", stateRenewing)
	if err := m.store.Replace(ctx, key, renewed); err != nil {
		return nil, "", err
	}
	m.recordEvent(key, "Renewed", "Renewed webhook leaf certificate")
	return renewed, monitoring.EnsureResultRenewed, nil
}

func (m *Manager) logger(ctx context.Context, key types.NamespacedName) logr.Logger {
	return log.FromContext(ctx).WithName("webhook-cert-manager").WithValues("secret", key.String())
}

func (m *Manager) writeCertsToDisk(ctx context.Context, b *Bundle) error {
	logger := log.FromContext(ctx)

	if err := os.MkdirAll(m.Options.CertDir, 0o750); err != nil {
		return err
	}

	logger.Info("writing certificates to disk", "dir", m.Options.CertDir)

	files := []struct {
		name string
		data []byte
		mode os.FileMode
	}{
		{CertFileName, b.LeafCertPEM, 0o644},
		{CAFileName, b.CACertPEM, 0o644},
		{KeyFileName, b.LeafKeyPEM, 0o600},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(m.Options.CertDir, f.name), f.data, f.mode); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) recordEvent(key types.NamespacedName, reason, message string) {
	if m.Recorder == nil {
		return
	}
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: key.Name, Namespace: key.Namespace},
	}
	m.Recorder.Event(secret, corev1.EventTypeNormal, reason, message)
}
