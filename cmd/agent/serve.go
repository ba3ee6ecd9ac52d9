package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/tooldelegate/agent"
	"github.com/jonwraymond/tooldelegate/auth"
	"github.com/jonwraymond/tooldelegate/broker"
	"github.com/jonwraymond/tooldelegate/config"
	"github.com/jonwraymond/tooldelegate/health"
	"github.com/jonwraymond/tooldelegate/internal/serve"
	"github.com/jonwraymond/tooldelegate/observe"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadAgent(ctx, configPath(cmd.Flags()))
	if err != nil {
		return err
	}
	method, err := cfg.AuthMethod()
	if err != nil {
		return err
	}

	obs, err := observe.NewObserver(ctx, cfg.Telemetry.Observe(version))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.WithoutCancel(ctx)) }()
	logger := obs.Logger()

	client, err := broker.NewClient(broker.ClientConfig{
		Addr:          cfg.VaultAddr,
		Auth:          method,
		DelegateMount: cfg.DelegateMount,
	})
	if err != nil {
		return err
	}
	b, err := broker.New(broker.Config{
		Upstream:        client,
		Role:            cfg.IdentityRole,
		CacheTTL:        cfg.CacheTTL(),
		MaxCacheEntries: cfg.MaxCacheEntries,
		Timeout:         cfg.ExchangeTimeout,
		Logger:          logger,
		Metrics:         obs.Metrics(),
		Tracer:          obs.Tracer(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	checks := health.NewAggregator(health.AggregatorConfig{Logger: logger})
	checks.Register(
		health.TrustServiceChecker(client),
		health.CircuitChecker("broker_circuit", b),
	)

	var users auth.Verifier
	if cfg.UserTokenIssuer != "" {
		keys := auth.NewJWKSKeyProvider(auth.JWKSConfig{URL: cfg.UserJWKS()})
		v := auth.NewJWTVerifier(auth.JWTConfig{
			Issuer:   cfg.UserTokenIssuer,
			Audience: cfg.UserTokenAudience,
		}, keys)
		defer func() { _ = v.Close() }()
		checks.Register(health.KeySetChecker(keys))
		users = v
	}

	handler, err := agent.NewServer(agent.Config{
		Title:        cfg.Title,
		Version:      version,
		Broker:       b,
		Role:         cfg.IdentityRole,
		UserVerifier: users,
		ToolServers:  cfg.ToolServers(),
		Health:       checks,
		Logger:       logger,
		Metrics:      obs.Metrics(),
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "starting agent",
		observe.Field{Key: "addr", Value: cfg.Addr()},
		observe.Field{Key: "vault_addr", Value: cfg.VaultAddr},
		observe.Field{Key: "auth_method", Value: method.Name()},
		observe.Field{Key: "identity_role", Value: cfg.IdentityRole},
		observe.Field{Key: "tool_servers", Value: cfg.ToolServers()},
		observe.Field{Key: "verify_user_tokens", Value: users != nil},
	)

	return serve.Run(ctx, handler.Handler(), serve.Options{
		Addr:            cfg.Addr(),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Prometheus:      cfg.Telemetry.PrometheusEnabled(),
		Logger:          logger,
	})
}
