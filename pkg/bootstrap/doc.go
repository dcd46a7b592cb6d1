// Package bootstrap wires certificate management and caBundle propagation
// into a single call for a webhook server's startup path.
//
// Configuration comes from the environment (see [ConfigFromEnv]) or is
// built directly. [Run] performs the one-shot bootstrap; [Setup]
// additionally registers handlers on a controller-runtime webhook server.
package bootstrap
