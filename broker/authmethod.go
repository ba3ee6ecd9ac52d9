package broker

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultKubernetesTokenPath is where the pod's service-account token is
// mounted.
const DefaultKubernetesTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// AuthMethod is how the broker authenticates itself to the trust service.
// The set of methods is closed: AppRole and Kubernetes.
type AuthMethod interface {
	// Name returns the method name used in configuration and logs.
	Name() string

	mount() string
	loginBody() (map[string]string, error)
}

// AppRole logs in with a role ID and secret ID.
type AppRole struct {
	RoleID   string
	SecretID string

	// MountPoint defaults to "approle".
	MountPoint string
}

// Name returns "approle".
func (a AppRole) Name() string { return "approle" }

func (a AppRole) mount() string {
	return mountOr(a.MountPoint, "approle")
}

func (a AppRole) loginBody() (map[string]string, error) {
	if a.RoleID == "" || a.SecretID == "" {
		return nil, errors.New("approle: role_id and secret_id are required")
	}
	return map[string]string{"role_id": a.RoleID, "secret_id": a.SecretID}, nil
}

// Kubernetes logs in with the pod's service-account token.
type Kubernetes struct {
	Role string

	// MountPoint defaults to "kubernetes".
	MountPoint string

	// TokenPath defaults to DefaultKubernetesTokenPath. It is read on every
	// login so that a rotated projected token is picked up.
	TokenPath string
}

// Name returns "kubernetes".
func (k Kubernetes) Name() string { return "kubernetes" }

func (k Kubernetes) mount() string {
	return mountOr(k.MountPoint, "kubernetes")
}

func (k Kubernetes) loginBody() (map[string]string, error) {
	if k.Role == "" {
		return nil, errors.New("kubernetes: role is required")
	}
	path := k.TokenPath
	if path == "" {
		path = DefaultKubernetesTokenPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: read service account token: %w", err)
	}
	jwt := strings.TrimSpace(string(raw))
	if jwt == "" {
		return nil, fmt.Errorf("kubernetes: service account token at %s is empty", path)
	}
	return map[string]string{"role": k.Role, "jwt": jwt}, nil
}

func mountOr(mount, fallback string) string {
	mount = strings.Trim(mount, "/")
	if mount == "" {
		return fallback
	}
	return mount
}

var (
	_ AuthMethod = AppRole{}
	_ AuthMethod = Kubernetes{}
)
