package monitoring

import "time"

// Outcomes of a certificate ensure call.
const (
	EnsureResultCreated   = "created"
	EnsureResultRenewed   = "renewed"
	EnsureResultUnchanged = "unchanged"
	EnsureResultError     = "error"
)

// RecordEnsure counts one certificate ensure call with the given outcome.
func RecordEnsure(result string) {
	ensureTotal.WithLabelValues(result).Inc()
}

// SetLeafExpiry records the expiry of the leaf certificate stored in the
// given Secret.
func SetLeafExpiry(namespace, name string, notAfter time.Time) {
	leafExpiryTimestamp.WithLabelValues(namespace, name).Set(float64(notAfter.Unix()))
}

// RecordCABundlePatch counts one applied caBundle update for a resource kind.
func RecordCABundlePatch(kind string) {
	caBundlePatchesTotal.WithLabelValues(kind).Inc()
}

// RecordWebhookRequest records a served webhook request's result and duration.
func RecordWebhookRequest(path string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	webhookRequestTotal.WithLabelValues(path, result).Inc()
	webhookRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}
