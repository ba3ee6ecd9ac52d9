package secret

import "errors"

var (
	// ErrProviderNotFound is returned for a secretref naming an unknown provider.
	ErrProviderNotFound = errors.New("secret: provider not registered")

	// ErrNotFound is returned when a provider has no value for a ref.
	ErrNotFound = errors.New("secret: not found")

	// ErrEmptySecret is returned by strict resolvers when a ref resolves to "".
	ErrEmptySecret = errors.New("secret: empty value")

	// ErrMissingEnv is returned by ExpandEnvStrict for unset ${VAR} references.
	ErrMissingEnv = errors.New("secret: missing environment variables")
)
