package bootstrap

import (
	"context"

	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	ctrlwebhook "sigs.k8s.io/controller-runtime/pkg/webhook"

	"github.com/numtide/webhook-bootstrap/pkg/webhook"
)

// Setup runs the bootstrap and then mounts handlers on server. It is meant
// to be called before the manager starts, with a client that does not
// depend on the manager's cache.
//
//	c, err := client.New(mgr.GetConfig(), client.Options{Scheme: mgr.GetScheme()})
//	...
//	if _, err := bootstrap.Setup(ctx, c, recorder, mgr.GetWebhookServer(), cfg, handlers); err != nil {
//	    setupLog.Error(err, "unable to set up webhooks")
//	    os.Exit(1)
//	}
func Setup(
	ctx context.Context,
	c client.Client,
	recorder record.EventRecorder,
	server ctrlwebhook.Server,
	cfg Config,
	handlers webhook.Handlers,
) (string, error) {
	caBundle, err := Run(ctx, c, recorder, cfg)
	if err != nil {
		return "", err
	}

	paths := webhook.Register(server, handlers)
	log.FromContext(ctx).Info("registered webhook handlers", "paths", paths)
	return caBundle, nil
}
