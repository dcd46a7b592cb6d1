package bootstrap

import (
	"context"
	"fmt"

	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/numtide/webhook-bootstrap/pkg/cert"
	"github.com/numtide/webhook-bootstrap/pkg/webhook"
)

// Run ensures the certificate bundle exists and is fresh, then propagates
// its CA into the admission webhook configurations and, when a group is
// configured, the CRD conversion webhooks. It returns the base64 caBundle.
//
// Any error is fatal for the caller; nothing is retried here.
func Run(ctx context.Context, c client.Client, recorder record.EventRecorder, cfg Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	logger := log.FromContext(ctx).WithName("webhook-bootstrap")
	ctx = log.IntoContext(ctx, logger)

	caBundle, err := cert.NewManager(c, recorder, cfg.CertOptions()).EnsureCertificates(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to ensure webhook certificates: %w", err)
	}

	if err := webhook.UpdateAdmissionWebhookConfigs(ctx, c, cfg.AdmissionConfigName, caBundle); err != nil {
		return "", fmt.Errorf("failed to update admission webhook configurations: %w", err)
	}

	if cfg.ConversionCRDGroup != "" {
		if err := webhook.UpdateCRDConversionConfigs(ctx, c, cfg.ConversionCRDGroup, caBundle); err != nil {
			return "", fmt.Errorf("failed to update CRD conversion webhooks: %w", err)
		}
	}

	logger.Info("webhook bootstrap complete",
		"secret", cfg.SecretNamespace+"/"+cfg.SecretName,
		"admissionConfig", cfg.AdmissionConfigName,
		"conversionGroup", cfg.ConversionCRDGroup,
	)
	return caBundle, nil
}
