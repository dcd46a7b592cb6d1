// Package cert manages the TLS material a webhook server needs when no
// external certificate manager is installed.
//
// Architecture:
//   - One Secret holds four PEM blobs under the cert-manager key layout:
//     ca.crt, ca.key, tls.crt and tls.key.
//   - The CA is an ECDSA P-256 self-signed root. It is generated once and
//     never rotated.
//   - The leaf is signed by the CA and is valid for <svc>, <svc>.<ns> and
//     <svc>.<ns>.svc.
//
// Lifecycle:
//   - Bootstrap: EnsureCertificates reads the Secret. If it is absent, a new
//     bundle is generated and created. Creation is create-only, so when
//     several replicas race exactly one write wins and the others read the
//     winner's Secret back, once.
//   - Renewal: when the leaf expires within the renewal threshold (30 days by
//     default), a new leaf certificate is issued over the existing leaf key
//     and written back. CA material and the leaf key do not change.
//   - Malformed Secrets (any key missing) are reported with
//     ErrMalformedRecord and left untouched.
//
// There is no background loop. Callers invoke EnsureCertificates at startup
// and treat any error as fatal.
//
// Usage:
//
//	mgr := cert.NewManager(client, recorder, cert.Options{
//	    ServiceNamespace: "my-ns",
//	    ServiceName:      "my-webhook",
//	    SecretNamespace:  "my-ns",
//	    SecretName:       "my-webhook-certs",
//	})
//	caBundle, err := mgr.EnsureCertificates(ctx)
//	if err != nil {
//	    // exit and let the supervisor restart us
//	}
package cert
