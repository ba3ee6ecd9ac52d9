package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/tooldelegate/secret"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

type loadable interface {
	setDefaults()
	secretFields() map[string]*string
	Validate() error
}

// Loader loads configuration. The zero value reads the process environment
// and resolves secrets with the env and file providers.
type Loader struct {
	// Resolver resolves secretref values. Default: secret.NewDefaultResolver()
	Resolver *secret.Resolver
}

func (l Loader) load(ctx context.Context, path string, cfg loadable) error {
	cfg.setDefaults()

	if path != "" {
		if err := overlayFile(path, cfg); err != nil {
			return err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}

	resolver := l.Resolver
	if resolver == nil {
		resolver = secret.NewDefaultResolver()
	}
	if err := resolver.ResolveFields(ctx, cfg.secretFields()); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return cfg.Validate()
}

func overlayFile(path string, cfg any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded, err := secret.ExpandEnvStrict(string(raw))
	if err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
