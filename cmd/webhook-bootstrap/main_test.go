package main

import (
	"testing"

	"github.com/numtide/webhook-bootstrap/pkg/bootstrap"
)

func TestNewCommand_FlagsDefaultFromEnv(t *testing.T) {
	t.Setenv(bootstrap.EnvSecretName, "cog-webhook-certs")
	t.Setenv(bootstrap.EnvCertValidityDays, "90")

	cmd := newCommand()

	tests := map[string]string{
		"secret-name":        "cog-webhook-certs",
		"cert-validity-days": "90",
		"service-name":       "",
	}
	for name, want := range tests {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			t.Errorf("flag --%s not registered", name)
			continue
		}
		if f.DefValue != want {
			t.Errorf("--%s default = %q, want %q", name, f.DefValue, want)
		}
	}

	for _, name := range []string{"zap-log-level", "kubeconfig"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("flag --%s not registered", name)
		}
	}
}
