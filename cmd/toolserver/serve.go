package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/tooldelegate/auth"
	"github.com/jonwraymond/tooldelegate/config"
	"github.com/jonwraymond/tooldelegate/health"
	"github.com/jonwraymond/tooldelegate/internal/serve"
	"github.com/jonwraymond/tooldelegate/observe"
	"github.com/jonwraymond/tooldelegate/tools/customer"
	"github.com/jonwraymond/tooldelegate/toolserver"
)

type serveCmd struct {
	migrate bool
}

func serveCommand() *cobra.Command {
	c := &serveCmd{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the customer tools over MCP streamable HTTP",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
	cmd.Flags().BoolVar(&c.migrate, "migrate", false, "apply database migrations before serving (postgres only)")
	return cmd
}

func (c *serveCmd) run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadToolServer(ctx, configPath(cmd.Flags()))
	if err != nil {
		return err
	}

	obs, err := observe.NewObserver(ctx, cfg.Telemetry.Observe(version))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.WithoutCancel(ctx)) }()
	logger := obs.Logger()

	keys := auth.NewJWKSKeyProvider(auth.JWKSConfig{URL: cfg.JWKSURL(), CacheTTL: cfg.JWKSCacheTTL})
	verifier := newVerifier(cfg, keys)
	defer func() { _ = verifier.Close() }()

	if c.migrate && cfg.DBType == config.DBPostgres {
		if err := customer.Migrate(ctx, cfg.PostgresURL(), logger); err != nil {
			return err
		}
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	checks := health.NewAggregator(health.AggregatorConfig{Logger: logger})
	checks.Register(health.KeySetChecker(keys), health.DatabaseChecker(store))

	srv, err := toolserver.New(toolserver.Config{
		Name:     "Customer",
		Version:  version,
		Verifier: verifier,
		Health:   checks,
		Logger:   logger,
		Metrics:  obs.Metrics(),
		Tracer:   observe.NewTracer(obs.Tracer()),
	})
	if err != nil {
		return err
	}
	if err := srv.Register(customer.Tools(store)...); err != nil {
		return err
	}

	logger.Info(ctx, "starting customer tool server",
		observe.Field{Key: "addr", Value: cfg.Addr()},
		observe.Field{Key: "https", Value: cfg.UseHTTPS},
		observe.Field{Key: "database", Value: cfg.DBType},
		observe.Field{Key: "jwks_url", Value: cfg.JWKSURL()},
		observe.Field{Key: "token_issuer", Value: cfg.SessionIssuer()},
		observe.Field{Key: "tools", Value: srv.Tools()},
	)

	opts := serve.Options{
		Addr:            cfg.Addr(),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Prometheus:      cfg.Telemetry.PrometheusEnabled(),
		Logger:          logger,
	}
	if cfg.UseHTTPS {
		opts.CertFile, opts.KeyFile = cfg.SSLCertFile, cfg.SSLKeyFile
	}
	return serve.Run(ctx, srv.Handler(), opts)
}

// closingVerifier is a Verifier that releases its key providers.
type closingVerifier interface {
	auth.Verifier
	Close() error
}

// newVerifier accepts session tokens from the trust service and, when
// configured, from one alternate issuer.
func newVerifier(cfg *config.ToolServerConfig, keys *auth.JWKSKeyProvider) closingVerifier {
	jwtConfig := auth.JWTConfig{Issuer: cfg.SessionIssuer(), Audience: cfg.TokenAudience, Leeway: cfg.Leeway}
	primary := auth.NewJWTVerifier(jwtConfig, keys)
	if cfg.AltTokenIssuer == "" {
		return primary
	}

	altConfig := jwtConfig
	altConfig.Issuer = cfg.AltTokenIssuer
	alt := auth.NewJWTVerifier(altConfig,
		auth.NewJWKSKeyProvider(auth.JWKSConfig{URL: cfg.AltJWKSURL, CacheTTL: cfg.JWKSCacheTTL}))

	return auth.NewMultiVerifier(
		auth.IssuerVerifier{Issuer: cfg.AltTokenIssuer, Verifier: alt},
		auth.IssuerVerifier{Issuer: cfg.SessionIssuer(), Verifier: primary},
	)
}

func openStore(ctx context.Context, cfg *config.ToolServerConfig) (customer.Store, error) {
	switch cfg.DBType {
	case config.DBMemory:
		return customer.NewSeededMemoryStore(), nil
	case config.DBSQLite:
		return customer.OpenSQLite(ctx, cfg.SQLitePath)
	case config.DBPostgres:
		return customer.OpenPostgres(ctx, cfg.PostgresURL())
	default:
		return nil, errors.New("unsupported DB_TYPE " + cfg.DBType)
	}
}
