/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/numtide/webhook-bootstrap/pkg/bootstrap"
)

const componentName = "webhook-bootstrap"

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(corev1.AddToScheme(scheme))
	utilruntime.Must(admissionregistrationv1.AddToScheme(scheme))
	utilruntime.Must(apiextensionsv1.AddToScheme(scheme))
}

func main() {
	if err := newCommand().ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "webhook bootstrap failed")
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cfg, envErr := bootstrap.ConfigFromEnv(os.LookupEnv)
	zapOpts := zap.Options{}

	cmd := &cobra.Command{
		Use:   componentName,
		Short: "Provision webhook TLS certificates and inject the CA bundle into webhook configurations.",
		Long: `webhook-bootstrap makes sure a CA and leaf certificate for the webhook Service
exist in a Secret, renews the leaf when it is within 30 days of expiry, and
writes the CA into the named admission webhook configurations and, optionally,
the conversion webhooks of a CRD group. Every flag defaults to its
environment variable.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
			if envErr != nil {
				return envErr
			}
			return run(cmd, cfg)
		},
	}

	bindFlags(cmd.Flags(), &cfg)

	// flag.CommandLine already carries --kubeconfig from controller-runtime.
	zapOpts.BindFlags(flag.CommandLine)
	cmd.Flags().AddGoFlagSet(flag.CommandLine)

	return cmd
}

// bindFlags registers one flag per Config field, defaulting to the value
// already loaded from the environment.
func bindFlags(fs *pflag.FlagSet, cfg *bootstrap.Config) {
	fs.StringVar(&cfg.AdmissionConfigName, "admission-config-name", cfg.AdmissionConfigName,
		"Name of the Validating/MutatingWebhookConfiguration to update ($"+bootstrap.EnvAdmissionConfigName+").")
	fs.StringVar(&cfg.SecretNamespace, "secret-namespace", cfg.SecretNamespace,
		"Namespace of the certificate Secret ($"+bootstrap.EnvSecretNamespace+").")
	fs.StringVar(&cfg.SecretName, "secret-name", cfg.SecretName,
		"Name of the certificate Secret ($"+bootstrap.EnvSecretName+").")
	fs.StringVar(&cfg.ServiceNamespace, "service-namespace", cfg.ServiceNamespace,
		"Namespace of the webhook Service ($"+bootstrap.EnvServiceNamespace+").")
	fs.StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName,
		"Name of the webhook Service ($"+bootstrap.EnvServiceName+").")
	fs.StringVar(&cfg.ConversionCRDGroup, "conversion-crd-group", cfg.ConversionCRDGroup,
		"API group whose CRD conversion webhooks receive the CA bundle ($"+bootstrap.EnvConversionCRDGroup+").")
	fs.IntVar(&cfg.ValidityDays, "cert-validity-days", cfg.ValidityDays,
		"Leaf certificate lifetime in days ($"+bootstrap.EnvCertValidityDays+").")
	fs.StringVar(&cfg.CertDir, "cert-dir", cfg.CertDir,
		"Optional directory to write tls.crt, tls.key and ca.crt into ($"+bootstrap.EnvCertDir+").")
}

func run(cmd *cobra.Command, cfg bootstrap.Config) error {
	ctx := log.IntoContext(cmd.Context(), ctrl.Log.WithName(componentName))

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	c, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("failed to create clientset: %w", err)
	}
	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{Interface: clientset.CoreV1().Events("")})
	defer broadcaster.Shutdown()
	recorder := broadcaster.NewRecorder(scheme, corev1.EventSource{Component: componentName})

	if _, err := bootstrap.Run(ctx, c, recorder, cfg); err != nil {
		return err
	}
	setupLog.Info("webhook bootstrap finished", "secret", cfg.SecretNamespace+"/"+cfg.SecretName)
	return nil
}
