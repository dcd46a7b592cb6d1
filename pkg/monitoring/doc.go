// Package monitoring provides Prometheus metrics and OpenTelemetry tracing
// helpers for the webhook certificate lifecycle. Collectors are registered
// against controller-runtime's default Prometheus registry on import, so they
// are served by the manager's metrics endpoint when one is running.
//
// All metrics follow the naming convention webhook_bootstrap_<metric>_<unit>.
//
// Usage:
//
//	monitoring.RecordEnsure(monitoring.EnsureResultRenewed)
//	monitoring.SetLeafExpiry(secret.Namespace, secret.Name, cert.NotAfter)
//	monitoring.RecordCABundlePatch("ValidatingWebhookConfiguration")
package monitoring
