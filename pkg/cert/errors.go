package cert

import "errors"

var (
	// ErrNotFound is returned by Store.Get when the certificate Secret does not exist.
	ErrNotFound = errors.New("certificate secret not found")

	// ErrAlreadyExists is returned by Store.Create when another writer created
	// the Secret first.
	ErrAlreadyExists = errors.New("certificate secret already exists")

	// ErrMalformedRecord is returned when the certificate Secret exists but does
	// not carry all of ca.crt, ca.key, tls.crt and tls.key. Such a Secret is
	// treated as externally managed and is never rewritten.
	ErrMalformedRecord = errors.New("certificate secret is malformed")
)
