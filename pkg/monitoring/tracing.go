package monitoring

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name registered with OTel.
const tracerName = "webhook-bootstrap"

// Span attribute keys.
const (
	AttrSecretNamespace = attribute.Key("webhook_bootstrap.secret.namespace")
	AttrSecretName      = attribute.Key("webhook_bootstrap.secret.name")
	AttrEnsureResult    = attribute.Key("webhook_bootstrap.ensure.result")
	AttrTargetKind      = attribute.Key("webhook_bootstrap.target.kind")
	AttrTargetName      = attribute.Key("webhook_bootstrap.target.name")
	AttrCRDGroup        = attribute.Key("webhook_bootstrap.crd.group")
)

// Tracer is the package-level OTel tracer.
// It returns a noop tracer when no TracerProvider is registered.
var Tracer = otel.Tracer(tracerName)

// StartEnsureSpan starts the span covering one certificate ensure call
// against the Secret namespace/name. Finish it with EndEnsureSpan.
func StartEnsureSpan(ctx context.Context, namespace, name string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "cert.Ensure",
		trace.WithAttributes(
			AttrSecretNamespace.String(namespace),
			AttrSecretName.String(name),
		),
	)
}

// EndEnsureSpan stamps the ensure outcome on span and ends it. A non-nil err
// overrides result with EnsureResultError.
func EndEnsureSpan(span trace.Span, result string, err error) {
	if err != nil {
		result = EnsureResultError
		RecordSpanError(span, err)
	}
	span.SetAttributes(AttrEnsureResult.String(result))
	span.End()
}

// StartAdmissionPropagationSpan starts the span covering caBundle injection
// into the admission configurations called name.
func StartAdmissionPropagationSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "webhook.UpdateAdmissionWebhookConfigs",
		trace.WithAttributes(AttrTargetName.String(name)),
	)
}

// StartConversionPropagationSpan starts the span covering caBundle injection
// into the conversion webhooks of every CRD in group.
func StartConversionPropagationSpan(ctx context.Context, group string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "webhook.UpdateCRDConversionConfigs",
		trace.WithAttributes(AttrCRDGroup.String(group)),
	)
}

// StartApplySpan starts a child span for one caBundle apply to the object
// kind/name.
func StartApplySpan(ctx context.Context, kind, name string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "webhook.ApplyCABundle",
		trace.WithAttributes(
			AttrTargetKind.String(kind),
			AttrTargetName.String(name),
		),
	)
}

// RecordSpanError records an error on a span and sets the span status to Error.
// If err is nil, this is a no-op.
func RecordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
