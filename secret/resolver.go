package secret

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Resolver resolves secret references using registered providers.
//
// A value of the form "secretref:<provider>:<ref>" is replaced by the
// provider's answer; references embedded in a longer value ("Bearer
// secretref:env:TOKEN") are replaced in place. Any other value is returned
// unchanged.
type Resolver struct {
	providers map[string]Provider
	strict    bool
}

// NewResolver creates a resolver. A strict resolver rejects references
// that resolve to an empty string.
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{
		providers: make(map[string]Provider),
		strict:    strict,
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// NewDefaultResolver returns a strict resolver with the env and file
// providers.
func NewDefaultResolver() *Resolver {
	return NewResolver(true, NewEnvProvider(), NewFileProvider(""))
}

// Register registers a provider with the resolver.
func (r *Resolver) Register(provider Provider) {
	if r == nil || provider == nil {
		return
	}
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[provider.Name()] = provider
}

// ResolveValue resolves the secret references in value.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	if providerName, ref, ok := ParseSecretRef(value); ok {
		return r.resolveSingle(ctx, providerName, ref)
	}
	return r.resolveInline(ctx, value)
}

// ResolveFields resolves each named field in place. Errors name the field,
// never its value.
func (r *Resolver) ResolveFields(ctx context.Context, fields map[string]*string) error {
	for name, ptr := range fields {
		if ptr == nil || !strings.Contains(*ptr, secretRefPrefix) {
			continue
		}
		resolved, err := r.ResolveValue(ctx, *ptr)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		*ptr = resolved
	}
	return nil
}

const secretRefPrefix = "secretref:"

// ParseSecretRef parses a full secret reference of the form:
//
//	secretref:<provider>:<ref>
func ParseSecretRef(value string) (provider string, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, secretRefPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" || strings.ContainsAny(ref, " \t\n") {
		return "", "", false
	}
	return provider, ref, true
}

func (r *Resolver) resolveSingle(ctx context.Context, providerName string, ref string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("%w: %q", ErrProviderNotFound, providerName)
	}
	provider, ok := r.providers[providerName]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrProviderNotFound, providerName)
	}
	resolved, err := provider.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if r.strict && resolved == "" {
		return "", fmt.Errorf("%w: provider %q", ErrEmptySecret, providerName)
	}
	return resolved, nil
}

var inlineSecretRefPattern = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)

func (r *Resolver) resolveInline(ctx context.Context, value string) (string, error) {
	matches := inlineSecretRefPattern.FindAllStringSubmatchIndex(value, -1)
	if len(matches) == 0 {
		return value, nil
	}

	out := value
	// Replace from the end so earlier match offsets stay valid.
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		resolved, err := r.resolveSingle(ctx, out[m[2]:m[3]], out[m[4]:m[5]])
		if err != nil {
			return "", err
		}
		out = out[:m[0]] + resolved + out[m[1]:]
	}
	return out, nil
}
