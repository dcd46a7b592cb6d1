package bootstrap

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/numtide/webhook-bootstrap/pkg/cert"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvAdmissionConfigName = "ADMISSION_CONFIG_NAME"
	EnvSecretNamespace     = "SECRET_NAMESPACE"
	EnvSecretName          = "SECRET_NAME"
	EnvServiceNamespace    = "SERVICE_NAMESPACE"
	EnvServiceName         = "SERVICE_NAME"
	EnvConversionCRDGroup  = "CONVERSION_CRD_GROUP"
	EnvCertValidityDays    = "CERT_VALIDITY_DAYS"
	EnvCertDir             = "CERT_DIR"
)

// DefaultValidityDays is the leaf certificate lifetime used when
// CERT_VALIDITY_DAYS is unset.
const DefaultValidityDays = int(cert.LeafValidityDuration / (24 * time.Hour))

// Config is everything a bootstrap run needs.
type Config struct {
	// AdmissionConfigName names both the Validating and the Mutating
	// webhook configuration to update.
	AdmissionConfigName string

	SecretNamespace string
	SecretName      string

	ServiceNamespace string
	ServiceName      string

	// ConversionCRDGroup, when set, selects the API group whose CRD
	// conversion webhooks also receive the CA bundle.
	ConversionCRDGroup string

	// ValidityDays is the leaf certificate lifetime in days.
	ValidityDays int

	// CertDir, when set, receives tls.crt, tls.key and ca.crt.
	CertDir string

	// Clock overrides the time source. Not read from the environment.
	Clock clock.PassiveClock
}

// ConfigFromEnv builds a Config from lookup, typically os.LookupEnv.
func ConfigFromEnv(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		AdmissionConfigName: get(EnvAdmissionConfigName),
		SecretNamespace:     get(EnvSecretNamespace),
		SecretName:          get(EnvSecretName),
		ServiceNamespace:    get(EnvServiceNamespace),
		ServiceName:         get(EnvServiceName),
		ConversionCRDGroup:  get(EnvConversionCRDGroup),
		ValidityDays:        DefaultValidityDays,
		CertDir:             get(EnvCertDir),
	}

	if raw := get(EnvCertValidityDays); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvCertValidityDays, raw, err)
		}
		cfg.ValidityDays = days
	}
	return cfg, nil
}

// Validate reports missing required settings and a validity too short to
// outlast the renewal threshold.
func (c Config) Validate() error {
	var missing []string
	for _, f := range []struct {
		env   string
		value string
	}{
		{EnvAdmissionConfigName, c.AdmissionConfigName},
		{EnvSecretNamespace, c.SecretNamespace},
		{EnvSecretName, c.SecretName},
		{EnvServiceNamespace, c.ServiceNamespace},
		{EnvServiceName, c.ServiceName},
	} {
		if f.value == "" {
			missing = append(missing, f.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.validity() <= cert.RenewalThreshold {
		return fmt.Errorf("certificate validity of %d days must exceed the %d day renewal threshold",
			c.ValidityDays, int(cert.RenewalThreshold/(24*time.Hour)))
	}
	return nil
}

func (c Config) validity() time.Duration {
	return time.Duration(c.ValidityDays) * 24 * time.Hour
}

// CertOptions maps the configuration onto certificate manager options.
func (c Config) CertOptions() cert.Options {
	return cert.Options{
		ServiceNamespace: c.ServiceNamespace,
		ServiceName:      c.ServiceName,
		SecretNamespace:  c.SecretNamespace,
		SecretName:       c.SecretName,
		Validity:         c.validity(),
		CertDir:          c.CertDir,
		Clock:            c.Clock,
	}
}
