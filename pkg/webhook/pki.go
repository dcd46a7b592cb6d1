package webhook

// +kubebuilder:rbac:groups=admissionregistration.k8s.io,resources=validatingwebhookconfigurations;mutatingwebhookconfigurations,verbs=get;patch
// +kubebuilder:rbac:groups=apiextensions.k8s.io,resources=customresourcedefinitions,verbs=list;patch

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/numtide/webhook-bootstrap/pkg/monitoring"
)

const (
	// FieldOwner is the server-side apply field manager for caBundle fields.
	// Other managers (kubectl, GitOps tooling) can own the rest of the object
	// without wiping the injected bundle.
	FieldOwner = "webhook-bootstrap"

	// crdPageSize bounds each CRD List call.
	crdPageSize = 100
)

var (
	// ErrNoTargetsFound is returned when neither a ValidatingWebhookConfiguration
	// nor a MutatingWebhookConfiguration with the requested name exists.
	ErrNoTargetsFound = errors.New("no admission webhook configuration found")

	// ErrApplyFailed is returned when the API server rejects a caBundle update.
	ErrApplyFailed = errors.New("failed to apply caBundle")
)

// UpdateAdmissionWebhookConfigs writes caBundle into every webhook entry of
// the ValidatingWebhookConfiguration and MutatingWebhookConfiguration named
// name. Either may be absent, but not both. A configuration whose entries
// already carry the bundle is not written.
func UpdateAdmissionWebhookConfigs(ctx context.Context, c client.Client, name, caBundle string) error {
	ctx, span := monitoring.StartAdmissionPropagationSpan(ctx, name)
	defer span.End()

	bundle, err := decodeCABundle(caBundle)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return err
	}

	validatingFound, err := updateValidatingConfig(ctx, c, name, bundle)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return err
	}
	mutatingFound, err := updateMutatingConfig(ctx, c, name, bundle)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return err
	}

	if !validatingFound && !mutatingFound {
		err := fmt.Errorf("%w: %q", ErrNoTargetsFound, name)
		monitoring.RecordSpanError(span, err)
		return err
	}
	return nil
}

func updateValidatingConfig(ctx context.Context, c client.Client, name string, bundle []byte) (bool, error) {
	logger := log.FromContext(ctx).WithValues("validatingWebhookConfiguration", name)

	existing := &admissionregistrationv1.ValidatingWebhookConfiguration{}
	if err := c.Get(ctx, types.NamespacedName{Name: name}, existing); err != nil {
		if apierrors.IsNotFound(err) {
			logger.V(1).Info("validating webhook configuration not found")
			return false, nil
		}
		return false, fmt.Errorf("failed to get validating webhook configuration %q: %w", name, err)
	}

	current := true
	for _, wh := range existing.Webhooks {
		current = current && bytes.Equal(wh.ClientConfig.CABundle, bundle)
	}
	if current {
		logger.V(1).Info("caBundle already up to date")
		return true, nil
	}

	apply := &admissionregistrationv1.ValidatingWebhookConfiguration{
		TypeMeta: metav1.TypeMeta{
			APIVersion: admissionregistrationv1.SchemeGroupVersion.String(),
			Kind:       "ValidatingWebhookConfiguration",
		},
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Webhooks:   make([]admissionregistrationv1.ValidatingWebhook, len(existing.Webhooks)),
	}
	for i, wh := range existing.Webhooks {
		apply.Webhooks[i] = admissionregistrationv1.ValidatingWebhook{
			Name:                    wh.Name,
			AdmissionReviewVersions: wh.AdmissionReviewVersions,
			SideEffects:             wh.SideEffects,
			ClientConfig:            withCABundle(wh.ClientConfig, bundle),
		}
	}

	if err := applyCABundle(ctx, c, apply); err != nil {
		return true, err
	}
	logger.Info("injected caBundle", "webhooks", len(apply.Webhooks))
	return true, nil
}

func updateMutatingConfig(ctx context.Context, c client.Client, name string, bundle []byte) (bool, error) {
	logger := log.FromContext(ctx).WithValues("mutatingWebhookConfiguration", name)

	existing := &admissionregistrationv1.MutatingWebhookConfiguration{}
	if err := c.Get(ctx, types.NamespacedName{Name: name}, existing); err != nil {
		if apierrors.IsNotFound(err) {
			logger.V(1).Info("mutating webhook configuration not found")
			return false, nil
		}
		return false, fmt.Errorf("failed to get mutating webhook configuration %q: %w", name, err)
	}

	current := true
	for _, wh := range existing.Webhooks {
		current = current && bytes.Equal(wh.ClientConfig.CABundle, bundle)
	}
	if current {
		logger.V(1).Info("caBundle already up to date")
		return true, nil
	}

	apply := &admissionregistrationv1.MutatingWebhookConfiguration{
		TypeMeta: metav1.TypeMeta{
			APIVersion: admissionregistrationv1.SchemeGroupVersion.String(),
			Kind:       "MutatingWebhookConfiguration",
		},
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Webhooks:   make([]admissionregistrationv1.MutatingWebhook, len(existing.Webhooks)),
	}
	for i, wh := range existing.Webhooks {
		apply.Webhooks[i] = admissionregistrationv1.MutatingWebhook{
			Name:                    wh.Name,
			AdmissionReviewVersions: wh.AdmissionReviewVersions,
			SideEffects:             wh.SideEffects,
			ClientConfig:            withCABundle(wh.ClientConfig, bundle),
		}
	}

	if err := applyCABundle(ctx, c, apply); err != nil {
		return true, err
	}
	logger.Info("injected caBundle", "webhooks", len(apply.Webhooks))
	return true, nil
}

// UpdateCRDConversionConfigs writes caBundle into the conversion webhook
// client config of every CRD in group that uses the Webhook conversion
// strategy. CRDs already carrying the bundle are not written. No matching
// CRD is not an error.
func UpdateCRDConversionConfigs(ctx context.Context, c client.Client, group, caBundle string) error {
	ctx, span := monitoring.StartConversionPropagationSpan(ctx, group)
	defer span.End()
	logger := log.FromContext(ctx).WithValues("group", group)

	bundle, err := decodeCABundle(caBundle)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return err
	}

	var matched, patched int
	list := &apiextensionsv1.CustomResourceDefinitionList{}
	continueToken := ""
	for {
		if err := c.List(ctx, list, client.Limit(crdPageSize), client.Continue(continueToken)); err != nil {
			err = fmt.Errorf("failed to list custom resource definitions: %w", err)
			monitoring.RecordSpanError(span, err)
			return err
		}

		for i := range list.Items {
			crd := &list.Items[i]
			if !usesConversionWebhook(crd, group) {
				continue
			}
			matched++
			if bytes.Equal(crd.Spec.Conversion.Webhook.ClientConfig.CABundle, bundle) {
				continue
			}

			apply := conversionCABundleApply(crd.Name, bundle)
			if err := applyCABundle(ctx, c, apply); err != nil {
				monitoring.RecordSpanError(span, err)
				return err
			}
			patched++
		}

		continueToken = list.Continue
		if continueToken == "" {
			break
		}
	}

	if matched == 0 {
		logger.V(1).Info("no conversion webhook CRDs in group")
		return nil
	}
	logger.Info("conversion webhook caBundle reconciled", "crds", matched, "patched", patched)
	return nil
}

// conversionCABundleApply builds the apply configuration for a CRD's
// conversion caBundle. It names only spec.conversion.strategy and
// spec.conversion.webhook.clientConfig.caBundle, so FieldOwner never claims
// the versions, names or schemas owned by whoever installed the CRD.
func conversionCABundleApply(name string, bundle []byte) *unstructured.Unstructured {
	apply := &unstructured.Unstructured{Object: map[string]any{
		"spec": map[string]any{
			"conversion": map[string]any{
				"strategy": string(apiextensionsv1.WebhookConverter),
				"webhook": map[string]any{
					"clientConfig": map[string]any{
						"caBundle": base64.StdEncoding.EncodeToString(bundle),
					},
				},
			},
		},
	}}
	apply.SetGroupVersionKind(apiextensionsv1.SchemeGroupVersion.WithKind("CustomResourceDefinition"))
	apply.SetName(name)
	return apply
}

func usesConversionWebhook(crd *apiextensionsv1.CustomResourceDefinition, group string) bool {
	conv := crd.Spec.Conversion
	return crd.Spec.Group == group &&
		conv != nil &&
		conv.Strategy == apiextensionsv1.WebhookConverter &&
		conv.Webhook != nil &&
		conv.Webhook.ClientConfig != nil
}

func withCABundle(cfg admissionregistrationv1.WebhookClientConfig, bundle []byte) admissionregistrationv1.WebhookClientConfig {
	return admissionregistrationv1.WebhookClientConfig{
		URL:      cfg.URL,
		Service:  cfg.Service,
		CABundle: bundle,
	}
}

// applyCABundle server-side applies obj, which must carry TypeMeta, no
// bookkeeping fields and nothing beyond the caBundle paths, as FieldOwner.
func applyCABundle(ctx context.Context, c client.Client, obj client.Object) error {
	kind := obj.GetObjectKind().GroupVersionKind().Kind
	ctx, span := monitoring.StartApplySpan(ctx, kind, obj.GetName())
	defer span.End()

	if err := c.Patch(ctx, obj, client.Apply, client.FieldOwner(FieldOwner), client.ForceOwnership); err != nil {
		err = fmt.Errorf("%w to %s %q: %w", ErrApplyFailed, kind, obj.GetName(), err)
		monitoring.RecordSpanError(span, err)
		return err
	}
	monitoring.RecordCABundlePatch(kind)
	return nil
}

func decodeCABundle(caBundle string) ([]byte, error) {
	if caBundle == "" {
		return nil, fmt.Errorf("caBundle must not be empty")
	}
	bundle, err := base64.StdEncoding.DecodeString(caBundle)
	if err != nil {
		return nil, fmt.Errorf("caBundle is not valid base64: %w", err)
	}
	return bundle, nil
}
