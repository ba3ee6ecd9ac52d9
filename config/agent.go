package config

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/tooldelegate/auth"
	"github.com/jonwraymond/tooldelegate/broker"
)

// Auth method names accepted in VAULT_AUTH_METHOD.
const (
	AuthMethodAppRole    = "approle"
	AuthMethodKubernetes = "kubernetes"
)

// AgentConfig configures the agent server.
type AgentConfig struct {
	Title string `envconfig:"AGENT_TITLE" yaml:"title"`
	Host  string `envconfig:"HOST" yaml:"host"`
	Port  int    `envconfig:"PORT" yaml:"port"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`

	VaultAddr      string `envconfig:"VAULT_ADDR" yaml:"vault_addr"`
	AuthMethodName string `envconfig:"VAULT_AUTH_METHOD" yaml:"auth_method"`
	RoleID         string `envconfig:"VAULT_ROLE_ID" yaml:"role_id"`
	SecretID       string `envconfig:"VAULT_SECRET_ID" yaml:"secret_id"`
	K8sRole        string `envconfig:"VAULT_K8S_ROLE" yaml:"k8s_role"`
	K8sTokenPath   string `envconfig:"VAULT_K8S_TOKEN_PATH" yaml:"k8s_token_path"`
	AuthMountPoint string `envconfig:"VAULT_AUTH_MOUNT_POINT" yaml:"auth_mount_point"`

	// IdentityRole is the delegation role session tokens are issued for.
	IdentityRole  string `envconfig:"VAULT_IDENTITY_ROLE" yaml:"identity_role"`
	DelegateMount string `envconfig:"VAULT_DELEGATE_MOUNT" yaml:"delegate_mount"`
	IdentityPath  string `envconfig:"VAULT_IDENTITY_PATH" yaml:"identity_path"`

	// UserTokenIssuer enables verification of inbound user tokens. Empty
	// forwards them to the trust service unverified, which rejects bad ones.
	UserTokenIssuer   string `envconfig:"USER_TOKEN_ISSUER" yaml:"user_token_issuer"`
	UserJWKSURL       string `envconfig:"USER_JWKS_URL" yaml:"user_jwks_url"`
	UserTokenAudience string `envconfig:"USER_TOKEN_AUDIENCE" yaml:"user_token_audience"`

	CacheTTLSeconds int           `envconfig:"CACHE_TTL_SECONDS" yaml:"cache_ttl_seconds"`
	MaxCacheEntries int           `envconfig:"MAX_CACHE_ENTRIES" yaml:"max_cache_entries"`
	ExchangeTimeout time.Duration `envconfig:"EXCHANGE_TIMEOUT" yaml:"exchange_timeout"`

	WeatherMCPURI  string `envconfig:"WEATHER_MCP_URI" yaml:"weather_mcp_uri"`
	CustomerMCPURI string `envconfig:"CUSTOMER_MCP_URI" yaml:"customer_mcp_uri"`

	Telemetry Telemetry `yaml:"telemetry"`
}

// LoadAgent loads the agent configuration. path names an optional YAML
// file.
func LoadAgent(ctx context.Context, path string) (*AgentConfig, error) {
	return Loader{}.LoadAgent(ctx, path)
}

// LoadAgent loads the agent configuration with l's resolver.
func (l Loader) LoadAgent(ctx context.Context, path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if err := l.load(ctx, path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AgentConfig) setDefaults() {
	c.Title = "Customer Agent API"
	c.Host = "0.0.0.0"
	c.Port = 8124
	c.ShutdownTimeout = 10 * time.Second
	c.VaultAddr = "http://localhost:8200"
	c.AuthMethodName = AuthMethodAppRole
	c.DelegateMount = broker.DefaultDelegateMount
	c.IdentityPath = auth.DefaultIdentityMount
	c.CacheTTLSeconds = int(broker.DefaultCacheTTL / time.Second)
	c.MaxCacheEntries = broker.DefaultMaxCacheEntries
	c.ExchangeTimeout = broker.DefaultTimeout
	c.WeatherMCPURI = "http://localhost:8000/mcp"
	c.CustomerMCPURI = "http://localhost:8001/mcp"
	c.Telemetry.setDefaults("customer-agent")
}

func (c *AgentConfig) secretFields() map[string]*string {
	return map[string]*string{
		"VAULT_ROLE_ID":   &c.RoleID,
		"VAULT_SECRET_ID": &c.SecretID,
	}
}

// Validate checks that the configuration can start an agent.
func (c *AgentConfig) Validate() error {
	if err := validateURL("VAULT_ADDR", c.VaultAddr); err != nil {
		return err
	}
	if strings.TrimSpace(c.IdentityRole) == "" {
		return invalid("VAULT_IDENTITY_ROLE must be set")
	}
	switch c.AuthMethodName {
	case AuthMethodAppRole:
		if c.RoleID == "" || c.SecretID == "" {
			return invalid("VAULT_ROLE_ID and VAULT_SECRET_ID must be set for approle auth")
		}
	case AuthMethodKubernetes:
		if c.K8sRole == "" {
			return invalid("VAULT_K8S_ROLE must be set for kubernetes auth")
		}
	default:
		return invalid("VAULT_AUTH_METHOD %q is not one of approle, kubernetes", c.AuthMethodName)
	}
	if c.UserJWKSURL != "" && c.UserTokenIssuer == "" {
		return invalid("USER_JWKS_URL requires USER_TOKEN_ISSUER")
	}
	if c.CacheTTLSeconds <= 0 {
		return invalid("CACHE_TTL_SECONDS must be positive, got %d", c.CacheTTLSeconds)
	}
	if c.MaxCacheEntries <= 0 {
		return invalid("MAX_CACHE_ENTRIES must be positive, got %d", c.MaxCacheEntries)
	}
	if c.ExchangeTimeout <= 0 {
		return invalid("EXCHANGE_TIMEOUT must be positive")
	}
	for name, uri := range c.ToolServers() {
		if err := validateURL(name+" MCP URI", uri); err != nil {
			return err
		}
	}
	if err := validatePort(c.Port); err != nil {
		return err
	}
	return c.Telemetry.validate()
}

// AuthMethod returns the configured trust-service login method.
func (c *AgentConfig) AuthMethod() (broker.AuthMethod, error) {
	switch c.AuthMethodName {
	case AuthMethodAppRole:
		return broker.AppRole{RoleID: c.RoleID, SecretID: c.SecretID, MountPoint: c.AuthMountPoint}, nil
	case AuthMethodKubernetes:
		return broker.Kubernetes{Role: c.K8sRole, MountPoint: c.AuthMountPoint, TokenPath: c.K8sTokenPath}, nil
	default:
		return nil, invalid("VAULT_AUTH_METHOD %q is not one of approle, kubernetes", c.AuthMethodName)
	}
}

// CacheTTL returns CacheTTLSeconds as a duration.
func (c *AgentConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// UserJWKS returns the key-set URL for inbound user tokens: USER_JWKS_URL
// when set, otherwise the issuer's /.well-known/jwks.json.
func (c *AgentConfig) UserJWKS() string {
	if c.UserJWKSURL != "" || c.UserTokenIssuer == "" {
		return c.UserJWKSURL
	}
	return strings.TrimRight(c.UserTokenIssuer, "/") + "/.well-known/jwks.json"
}

// ToolServers maps each configured tool server to its MCP endpoint.
func (c *AgentConfig) ToolServers() map[string]string {
	servers := make(map[string]string, 2)
	if c.CustomerMCPURI != "" {
		servers["customer"] = c.CustomerMCPURI
	}
	if c.WeatherMCPURI != "" {
		servers["weather"] = c.WeatherMCPURI
	}
	return servers
}

// Addr returns the listen address.
func (c *AgentConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("%s %q is not an http(s) URL", name, raw)
	}
	return nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return invalid("PORT %d out of range", port)
	}
	return nil
}
