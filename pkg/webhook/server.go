package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ctrlwebhook "sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/numtide/webhook-bootstrap/pkg/monitoring"
)

// Default paths the handlers are served on. They must match the
// clientConfig.service.path of the admission configuration and CRDs.
const (
	DefaultMutatePath   = "/mutate"
	DefaultValidatePath = "/validate"
	DefaultConvertPath  = "/convert"
)

// Handlers holds the caller's webhook handlers. Nil handlers are not
// registered; empty paths fall back to the defaults.
type Handlers struct {
	Mutate     admission.Handler
	MutatePath string

	Validate     admission.Handler
	ValidatePath string

	// Convert serves ConversionReview requests for CRD conversion webhooks.
	Convert     http.Handler
	ConvertPath string
}

// Register mounts the non-nil handlers on server, each wrapped with request
// metrics. It returns the registered paths.
func Register(server ctrlwebhook.Server, h Handlers) []string {
	var paths []string

	if h.Mutate != nil {
		path := orDefault(h.MutatePath, DefaultMutatePath)
		server.Register(path, &ctrlwebhook.Admission{Handler: instrumentAdmission(path, h.Mutate)})
		paths = append(paths, path)
	}
	if h.Validate != nil {
		path := orDefault(h.ValidatePath, DefaultValidatePath)
		server.Register(path, &ctrlwebhook.Admission{Handler: instrumentAdmission(path, h.Validate)})
		paths = append(paths, path)
	}
	if h.Convert != nil {
		path := orDefault(h.ConvertPath, DefaultConvertPath)
		server.Register(path, instrumentHTTP(path, h.Convert))
		paths = append(paths, path)
	}
	return paths
}

func orDefault(path, def string) string {
	if path == "" {
		return def
	}
	return path
}

// instrumentAdmission records every admission response. Denials are
// successful requests; malformed or errored ones are not.
func instrumentAdmission(path string, h admission.Handler) admission.Handler {
	return admission.HandlerFunc(func(ctx context.Context, req admission.Request) admission.Response {
		start := time.Now()
		resp := h.Handle(ctx, req)

		var err error
		if resp.Result != nil {
			code := resp.Result.Code
			if code == http.StatusBadRequest || code >= http.StatusInternalServerError {
				err = fmt.Errorf("admission request failed with code %d: %s", code, resp.Result.Message)
			}
		}
		monitoring.RecordWebhookRequest(path, err, time.Since(start))
		return resp
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrumentHTTP(path string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, req)

		var err error
		if rec.status >= http.StatusBadRequest {
			err = fmt.Errorf("conversion request failed with status %d", rec.status)
		}
		monitoring.RecordWebhookRequest(path, err, time.Since(start))
	})
}
