package secret

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider resolves secrets by reference string.
//
// Implementations must be safe for concurrent use and must not log secret values.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvProvider resolves secretref:env:<VAR> from the process environment.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider creates an environment provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// Name returns "env".
func (p *EnvProvider) Name() string { return "env" }

// Resolve returns the value of the environment variable ref.
func (p *EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := p.lookup(ref)
	if !ok {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, ref)
	}
	return v, nil
}

// FileProvider resolves secretref:file:<path> to the file's contents with
// surrounding whitespace removed. This is how mounted secrets (Kubernetes
// secret volumes, Docker secrets) are read.
type FileProvider struct {
	// BaseDir anchors relative refs. Empty means the working directory.
	BaseDir string
}

// NewFileProvider creates a file provider rooted at baseDir.
func NewFileProvider(baseDir string) *FileProvider {
	return &FileProvider{BaseDir: baseDir}
}

// Name returns "file".
func (p *FileProvider) Name() string { return "file" }

// Resolve reads the file named by ref.
func (p *FileProvider) Resolve(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := ref
	if !filepath.IsAbs(path) && p.BaseDir != "" {
		path = filepath.Join(p.BaseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: file %s", ErrNotFound, ref)
		}
		return "", fmt.Errorf("secret: read %s: %w", ref, err)
	}
	return strings.TrimSpace(string(data)), nil
}

var (
	_ Provider = (*EnvProvider)(nil)
	_ Provider = (*FileProvider)(nil)
)
