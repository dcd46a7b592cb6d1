package bootstrap

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	testingclock "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	ctrlwebhook "sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/numtide/webhook-bootstrap/pkg/cert"
	"github.com/numtide/webhook-bootstrap/pkg/testutil"
	"github.com/numtide/webhook-bootstrap/pkg/webhook"
)

const testGroup = "cog.example.com"

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func bootstrapScheme(tb testing.TB) *runtime.Scheme {
	tb.Helper()
	s := runtime.NewScheme()
	for _, add := range []func(*runtime.Scheme) error{
		corev1.AddToScheme,
		admissionregistrationv1.AddToScheme,
		apiextensionsv1.AddToScheme,
	} {
		if err := add(s); err != nil {
			tb.Fatal(err)
		}
	}
	return s
}

func testConfig(tb testing.TB, now time.Time) Config {
	tb.Helper()
	cfg, err := ConfigFromEnv(mapLookup(requiredEnv()))
	if err != nil {
		tb.Fatalf("ConfigFromEnv() error = %v", err)
	}
	cfg.Clock = testingclock.NewFakePassiveClock(now)
	return cfg
}

func admissionConfigs() []client.Object {
	svc := func(path string) *admissionregistrationv1.ServiceReference {
		return &admissionregistrationv1.ServiceReference{Namespace: "cog-system", Name: "cog-webhook", Path: ptr.To(path)}
	}
	none := ptr.To(admissionregistrationv1.SideEffectClassNone)
	return []client.Object{
		&admissionregistrationv1.ValidatingWebhookConfiguration{
			ObjectMeta: metav1.ObjectMeta{Name: testGroup},
			Webhooks: []admissionregistrationv1.ValidatingWebhook{{
				Name:                    "vwidget.cog.example.com",
				ClientConfig:            admissionregistrationv1.WebhookClientConfig{Service: svc("/validate")},
				AdmissionReviewVersions: []string{"v1"},
				SideEffects:             none,
			}},
		},
		&admissionregistrationv1.MutatingWebhookConfiguration{
			ObjectMeta: metav1.ObjectMeta{Name: testGroup},
			Webhooks: []admissionregistrationv1.MutatingWebhook{{
				Name:                    "mwidget.cog.example.com",
				ClientConfig:            admissionregistrationv1.WebhookClientConfig{Service: svc("/mutate")},
				AdmissionReviewVersions: []string{"v1"},
				SideEffects:             none,
			}},
		},
	}
}

func conversionCRD() *apiextensionsv1.CustomResourceDefinition {
	return &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: "widgets." + testGroup},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: testGroup,
			Names: apiextensionsv1.CustomResourceDefinitionNames{Plural: "widgets", Kind: "Widget"},
			Scope: apiextensionsv1.NamespaceScoped,
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{
				{Name: "v1", Served: true, Storage: true},
				{Name: "v1alpha1", Served: true},
			},
			Conversion: &apiextensionsv1.CustomResourceConversion{
				Strategy: apiextensionsv1.WebhookConverter,
				Webhook: &apiextensionsv1.WebhookConversion{
					ClientConfig: &apiextensionsv1.WebhookClientConfig{
						Service: &apiextensionsv1.ServiceReference{
							Namespace: "cog-system",
							Name:      "cog-webhook",
							Path:      ptr.To("/convert"),
						},
					},
					ConversionReviewVersions: []string{"v1"},
				},
			},
		},
	}
}

func readBundle(tb testing.TB, c client.Client, cfg Config) *cert.Bundle {
	tb.Helper()
	b, err := cert.NewStore(c).Get(context.Background(), types.NamespacedName{
		Namespace: cfg.SecretNamespace,
		Name:      cfg.SecretName,
	})
	if err != nil {
		tb.Fatalf("failed to read certificate secret: %v", err)
	}
	return b
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := fake.NewClientBuilder().WithScheme(bootstrapScheme(t)).WithObjects(admissionConfigs()...).Build()
	c := testutil.NewCountingClient(base)
	clk := testingclock.NewFakePassiveClock(testNow)
	cfg := testConfig(t, testNow)
	cfg.Clock = clk

	// (1) Empty store: a full bundle is generated.
	mgr := cert.NewManager(c, nil, cfg.CertOptions())
	caBundle, err := mgr.EnsureCertificates(ctx)
	if err != nil {
		t.Fatalf("EnsureCertificates() error = %v", err)
	}
	initial := readBundle(t, base, cfg)
	if missing := initial.MissingFields(); len(missing) != 0 {
		t.Fatalf("bundle is missing %v", missing)
	}

	// (2) Both admission configurations receive the bundle.
	if err := webhook.UpdateAdmissionWebhookConfigs(ctx, c, cfg.AdmissionConfigName, caBundle); err != nil {
		t.Fatalf("UpdateAdmissionWebhookConfigs() error = %v", err)
	}
	vwc := &admissionregistrationv1.ValidatingWebhookConfiguration{}
	if err := base.Get(ctx, client.ObjectKey{Name: testGroup}, vwc); err != nil {
		t.Fatal(err)
	}
	mwc := &admissionregistrationv1.MutatingWebhookConfiguration{}
	if err := base.Get(ctx, client.ObjectKey{Name: testGroup}, mwc); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(vwc.Webhooks[0].ClientConfig.CABundle, initial.CACertPEM) {
		t.Error("validating webhook caBundle was not updated")
	}
	if !bytes.Equal(mwc.Webhooks[0].ClientConfig.CABundle, initial.CACertPEM) {
		t.Error("mutating webhook caBundle was not updated")
	}

	// (3) Same bundle again: zero patches.
	patches := c.Patches()
	if err := webhook.UpdateAdmissionWebhookConfigs(ctx, c, cfg.AdmissionConfigName, caBundle); err != nil {
		t.Fatalf("second UpdateAdmissionWebhookConfigs() error = %v", err)
	}
	if got := c.Patches() - patches; got != 0 {
		t.Errorf("second propagation issued %d patches, want 0", got)
	}

	// (4) Leaf within the renewal threshold: renewed, CA unchanged.
	oldNotAfter, err := cert.LeafNotAfter(initial.LeafCertPEM)
	if err != nil {
		t.Fatal(err)
	}
	clk.SetTime(oldNotAfter.Add(-cert.RenewalThreshold + time.Hour))
	renewedCABundle, err := mgr.EnsureCertificates(ctx)
	if err != nil {
		t.Fatalf("EnsureCertificates() after advancing clock error = %v", err)
	}
	renewed := readBundle(t, base, cfg)
	newNotAfter, err := cert.LeafNotAfter(renewed.LeafCertPEM)
	if err != nil {
		t.Fatal(err)
	}
	if !newNotAfter.After(oldNotAfter) {
		t.Errorf("renewed NotAfter %v is not after %v", newNotAfter, oldNotAfter)
	}
	if !bytes.Equal(renewed.CACertPEM, initial.CACertPEM) || !bytes.Equal(renewed.CAKeyPEM, initial.CAKeyPEM) {
		t.Error("CA material changed on renewal")
	}
	if renewedCABundle != caBundle {
		t.Error("caBundle changed on renewal")
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		existing    []client.Object
		mutate      func(*Config)
		failure     *testutil.FailureConfig
		wantErrIs   error
		errContains string
		wantCRD     bool
	}{
		"admission configs only": {
			existing: admissionConfigs(),
		},
		"with conversion group": {
			existing: append(admissionConfigs(), conversionCRD()),
			mutate:   func(c *Config) { c.ConversionCRDGroup = testGroup },
			wantCRD:  true,
		},
		"Error: invalid config": {
			existing:    admissionConfigs(),
			mutate:      func(c *Config) { c.SecretName = "" },
			errContains: "missing required configuration",
		},
		"Error: no admission configs": {
			wantErrIs:   webhook.ErrNoTargetsFound,
			errContains: "failed to update admission webhook configurations",
		},
		"Error: malformed secret": {
			existing: append(admissionConfigs(), &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{Namespace: "cog-system", Name: "cog-webhook-certs"},
				Data:       map[string][]byte{cert.CACertKey: []byte("ca")},
			}),
			wantErrIs:   cert.ErrMalformedRecord,
			errContains: "failed to ensure webhook certificates",
		},
		"Error: CRD list failure": {
			existing: append(admissionConfigs(), conversionCRD()),
			mutate:   func(c *Config) { c.ConversionCRDGroup = testGroup },
			failure: &testutil.FailureConfig{
				OnList: func(client.ObjectList) error { return testutil.ErrNetworkTimeout },
			},
			wantErrIs:   testutil.ErrNetworkTimeout,
			errContains: "failed to update CRD conversion webhooks",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			base := fake.NewClientBuilder().WithScheme(bootstrapScheme(t)).WithObjects(tc.existing...).Build()
			c := testutil.NewFakeClientWithFailures(base, tc.failure)
			cfg := testConfig(t, testNow)
			if tc.mutate != nil {
				tc.mutate(&cfg)
			}
			recorder := record.NewFakeRecorder(10)

			caBundle, err := Run(context.Background(), c, recorder, cfg)
			if tc.wantErrIs != nil || tc.errContains != "" {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tc.wantErrIs != nil && !errors.Is(err, tc.wantErrIs) {
					t.Errorf("Run() error = %v, want %v", err, tc.wantErrIs)
				}
				if !strings.Contains(err.Error(), tc.errContains) {
					t.Errorf("Run() error = %q, want substring %q", err, tc.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Run() unexpected error = %v", err)
			}

			pemBytes, err := base64.StdEncoding.DecodeString(caBundle)
			if err != nil {
				t.Fatalf("caBundle is not base64: %v", err)
			}
			if !bytes.Equal(pemBytes, readBundle(t, base, cfg).CACertPEM) {
				t.Error("caBundle does not match the stored CA")
			}

			select {
			case event := <-recorder.Events:
				if !strings.Contains(event, "Generated") {
					t.Errorf("unexpected event %q", event)
				}
			default:
				t.Error("expected a Generated event")
			}

			if tc.wantCRD {
				crd := &apiextensionsv1.CustomResourceDefinition{}
				if err := base.Get(context.Background(), client.ObjectKey{Name: "widgets." + testGroup}, crd); err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(crd.Spec.Conversion.Webhook.ClientConfig.CABundle, pemBytes) {
					t.Error("CRD conversion caBundle was not updated")
				}
			}
		})
	}
}

func TestSetup(t *testing.T) {
	t.Parallel()

	base := fake.NewClientBuilder().WithScheme(bootstrapScheme(t)).WithObjects(admissionConfigs()...).Build()
	server := ctrlwebhook.NewServer(ctrlwebhook.Options{})
	allow := admission.HandlerFunc(func(context.Context, admission.Request) admission.Response {
		return admission.Allowed("")
	})

	caBundle, err := Setup(context.Background(), base, nil, server, testConfig(t, testNow), webhook.Handlers{
		Validate:     allow,
		ValidatePath: "/validate-setup-test",
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if caBundle == "" {
		t.Error("Setup() returned an empty caBundle")
	}

	req, _ := http.NewRequest(http.MethodGet, "/validate-setup-test", nil)
	if _, pattern := server.WebhookMux().Handler(req); pattern != "/validate-setup-test" {
		t.Errorf("handler pattern = %q, want /validate-setup-test", pattern)
	}
}

func TestSetup_RunFailureRegistersNothing(t *testing.T) {
	t.Parallel()

	base := fake.NewClientBuilder().WithScheme(bootstrapScheme(t)).Build()
	server := ctrlwebhook.NewServer(ctrlwebhook.Options{})

	_, err := Setup(context.Background(), base, nil, server, testConfig(t, testNow), webhook.Handlers{
		Validate: admission.HandlerFunc(func(context.Context, admission.Request) admission.Response {
			return admission.Allowed("")
		}),
	})
	if !errors.Is(err, webhook.ErrNoTargetsFound) {
		t.Fatalf("Setup() error = %v, want %v", err, webhook.ErrNoTargetsFound)
	}
	if mux := server.WebhookMux(); mux != nil {
		req, _ := http.NewRequest(http.MethodGet, webhook.DefaultValidatePath, nil)
		if _, pattern := mux.Handler(req); pattern != "" {
			t.Errorf("handler registered at %q despite failed bootstrap", pattern)
		}
	}
}
