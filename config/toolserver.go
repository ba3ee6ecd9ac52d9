package config

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/tooldelegate/auth"
)

// Database backends accepted in DB_TYPE.
const (
	DBMemory   = "memory"
	DBSQLite   = "sqlite"
	DBPostgres = "postgres"
)

// ToolServerConfig configures the customer tool server.
type ToolServerConfig struct {
	Host string `envconfig:"HOST" yaml:"host"`
	Port int    `envconfig:"PORT" yaml:"port"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`

	VaultAddr    string `envconfig:"VAULT_ADDR" yaml:"vault_addr"`
	IdentityPath string `envconfig:"VAULT_IDENTITY_PATH" yaml:"identity_path"`

	// TokenIssuer is the iss required on session tokens. Empty means the
	// trust service's own issuer, see SessionIssuer. TokenAudience is
	// enforced when set.
	TokenIssuer   string `envconfig:"TOKEN_ISSUER" yaml:"token_issuer"`
	TokenAudience string `envconfig:"TOKEN_AUDIENCE" yaml:"token_audience"`

	// AltTokenIssuer is a second issuer whose tokens are accepted, verified
	// against AltJWKSURL.
	AltTokenIssuer string `envconfig:"ALT_TOKEN_ISSUER" yaml:"alt_token_issuer"`
	AltJWKSURL     string `envconfig:"ALT_JWKS_URL" yaml:"alt_jwks_url"`

	// JWKSCacheTTL is how long fetched verification keys are trusted.
	JWKSCacheTTL time.Duration `envconfig:"JWKS_CACHE_TTL" yaml:"jwks_cache_ttl"`
	// Leeway is the clock skew tolerated on token times.
	Leeway time.Duration `envconfig:"TOKEN_LEEWAY" yaml:"token_leeway"`

	DBType     string `envconfig:"DB_TYPE" yaml:"db_type"`
	SQLitePath string `envconfig:"SQLITE_PATH" yaml:"sqlite_path"`
	DBHost     string `envconfig:"DB_HOST" yaml:"db_host"`
	DBPort     int    `envconfig:"DB_PORT" yaml:"db_port"`
	DBName     string `envconfig:"DB_NAME" yaml:"db_name"`
	DBUser     string `envconfig:"DB_USER" yaml:"db_user"`
	DBPassword string `envconfig:"DB_PASSWORD" yaml:"db_password"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" yaml:"db_sslmode"`

	UseHTTPS    bool   `envconfig:"USE_HTTPS" yaml:"use_https"`
	SSLKeyFile  string `envconfig:"SSL_KEYFILE" yaml:"ssl_keyfile"`
	SSLCertFile string `envconfig:"SSL_CERTFILE" yaml:"ssl_certfile"`

	Telemetry Telemetry `yaml:"telemetry"`
}

// LoadToolServer loads the tool-server configuration. path names an
// optional YAML file.
func LoadToolServer(ctx context.Context, path string) (*ToolServerConfig, error) {
	return Loader{}.LoadToolServer(ctx, path)
}

// LoadToolServer loads the tool-server configuration with l's resolver.
func (l Loader) LoadToolServer(ctx context.Context, path string) (*ToolServerConfig, error) {
	cfg := &ToolServerConfig{}
	if err := l.load(ctx, path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ToolServerConfig) setDefaults() {
	c.Host = "0.0.0.0"
	c.Port = 8001
	c.ShutdownTimeout = 10 * time.Second
	c.VaultAddr = "http://localhost:8200"
	c.IdentityPath = auth.DefaultIdentityMount
	c.JWKSCacheTTL = time.Hour
	c.DBType = DBSQLite
	c.SQLitePath = "./customers.db"
	c.DBHost = "localhost"
	c.DBPort = 5432
	c.DBName = "customers"
	c.DBUser = "admin"
	c.DBPassword = "password"
	c.DBSSLMode = "disable"
	c.SSLKeyFile = "./private.pem"
	c.SSLCertFile = "./certificate.pem"
	c.Telemetry.setDefaults("customer-tools")
}

func (c *ToolServerConfig) secretFields() map[string]*string {
	return map[string]*string{
		"DB_PASSWORD": &c.DBPassword,
	}
}

// Validate checks that the configuration can start a tool server.
func (c *ToolServerConfig) Validate() error {
	if err := validateURL("VAULT_ADDR", c.VaultAddr); err != nil {
		return err
	}
	if (c.AltTokenIssuer == "") != (c.AltJWKSURL == "") {
		return invalid("ALT_TOKEN_ISSUER and ALT_JWKS_URL must be set together")
	}
	if c.AltJWKSURL != "" {
		if err := validateURL("ALT_JWKS_URL", c.AltJWKSURL); err != nil {
			return err
		}
	}
	if c.Leeway < 0 {
		return invalid("TOKEN_LEEWAY must not be negative")
	}
	switch c.DBType {
	case DBMemory:
	case DBSQLite:
		if c.SQLitePath == "" {
			return invalid("SQLITE_PATH must be set for sqlite")
		}
	case DBPostgres:
		if c.DBHost == "" || c.DBName == "" || c.DBUser == "" {
			return invalid("DB_HOST, DB_NAME and DB_USER must be set for postgres")
		}
		if c.DBPort <= 0 || c.DBPort > 65535 {
			return invalid("DB_PORT %d out of range", c.DBPort)
		}
	default:
		return invalid("DB_TYPE %q is not one of memory, sqlite, postgres", c.DBType)
	}
	if c.UseHTTPS && (c.SSLKeyFile == "" || c.SSLCertFile == "") {
		return invalid("USE_HTTPS requires SSL_KEYFILE and SSL_CERTFILE")
	}
	if err := validatePort(c.Port); err != nil {
		return err
	}
	return c.Telemetry.validate()
}

// JWKSURL returns the trust service's key-set endpoint.
func (c *ToolServerConfig) JWKSURL() string {
	return auth.JWKSURL(c.VaultAddr, c.IdentityPath)
}

// SessionIssuer returns the iss session tokens must carry: TokenIssuer, or
// <VAULT_ADDR>/v1/<VAULT_IDENTITY_PATH>, the base the key set is published
// under.
func (c *ToolServerConfig) SessionIssuer() string {
	if c.TokenIssuer != "" {
		return c.TokenIssuer
	}
	return strings.TrimSuffix(c.JWKSURL(), "/jwks")
}

// PostgresURL returns the connection URL for DB_TYPE=postgres.
func (c *ToolServerConfig) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

// Addr returns the listen address.
func (c *ToolServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
