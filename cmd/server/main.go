// Command server runs the coda data-analysis agent gateway.
//
// Configuration is layered: built-in defaults, a YAML config file
// (-config flag, CODA_CONFIG, ./config.yaml, /etc/coda/config.yaml),
// then CODA_* environment overrides. See pkg/config for the full
// reference.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/chihyuyeh/coda/pkg/agent"
	"github.com/chihyuyeh/coda/pkg/auth"
	"github.com/chihyuyeh/coda/pkg/auth/apikey"
	"github.com/chihyuyeh/coda/pkg/auth/jwt"
	"github.com/chihyuyeh/coda/pkg/auth/noop"
	"github.com/chihyuyeh/coda/pkg/config"
	"github.com/chihyuyeh/coda/pkg/debug"
	"github.com/chihyuyeh/coda/pkg/model"
	"github.com/chihyuyeh/coda/pkg/sandbox"
	"github.com/chihyuyeh/coda/pkg/sandbox/kubernetes"
	"github.com/chihyuyeh/coda/pkg/storage/memory"
	"github.com/chihyuyeh/coda/pkg/storage/postgres"
	"github.com/chihyuyeh/coda/pkg/transport"
	transporthttp "github.com/chihyuyeh/coda/pkg/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	debug.Init("", "")
	logger := slog.Default()

	backend, err := model.NewOpenAIBackend(model.OpenAIConfig{
		BaseURL: cfg.Model.BackendURL,
		APIKey:  cfg.Model.APIKey,
		Timeout: cfg.Model.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating model backend: %w", err)
	}
	defer backend.Close()

	executor, err := buildExecutor(cfg)
	if err != nil {
		return err
	}

	store, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	manager := agent.NewManager(cfg.Limits.MaxRounds)
	runner := agent.NewRunner(backend, executor, agent.Config{
		Model:         cfg.Model.Name,
		Temperature:   cfg.Model.Temperature,
		MaxTokens:     cfg.Model.MaxTokens,
		MaxRounds:     cfg.Limits.MaxRounds,
		ExecTimeout:   cfg.Limits.ExecTimeout,
		HistoryWindow: cfg.Limits.HistoryWindow,
	}, logger)

	handler := transporthttp.NewLoopHandler(manager, runner, store, logger)

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(logger),
	}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, transporthttp.WithMetricsPath(cfg.Observability.Metrics.Path))
	} else {
		opts = append(opts, transporthttp.WithMetricsPath(""))
	}

	chain, limiter, err := buildAuth(cfg)
	if err != nil {
		return err
	}
	opts = append(opts, transporthttp.WithAuth(chain, limiter))

	srv := transporthttp.NewServer(handler, store, manager, opts...)

	logger.Info("gateway configured",
		"port", cfg.Server.Port,
		"model", cfg.Model.Name,
		"sandbox_mode", cfg.Sandbox.Mode,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type)

	return srv.ListenAndServe()
}

// buildExecutor wires the sandbox client with the configured acquirer.
func buildExecutor(cfg *config.Config) (sandbox.Executor, error) {
	var acquirer sandbox.Acquirer
	switch cfg.Sandbox.Mode {
	case "static":
		acquirer = &sandbox.StaticAcquirer{URL: cfg.Sandbox.URL}
	case "kubernetes":
		scheme, err := kubernetes.NewScheme()
		if err != nil {
			return nil, fmt.Errorf("building sandbox scheme: %w", err)
		}
		restCfg, err := ctrlconfig.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
		k8sClient, err := ctrlclient.New(restCfg, ctrlclient.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		acquirer = kubernetes.NewClaimAcquirer(
			k8sClient,
			cfg.Sandbox.Kubernetes.Template,
			cfg.Sandbox.Kubernetes.Namespace,
			cfg.Sandbox.Kubernetes.ReadyTimeout,
		)
	default:
		return nil, fmt.Errorf("unknown sandbox mode %q", cfg.Sandbox.Mode)
	}

	return sandbox.NewClient(sandbox.ClientConfig{
		Acquirer: acquirer,
		Packages: cfg.Sandbox.Packages,
	})
}

// buildStore creates the session store for the configured storage type.
func buildStore(cfg *config.Config, logger *slog.Logger) (transport.SessionStore, error) {
	switch cfg.Storage.Type {
	case "memory":
		logger.Info("storage enabled", "type", "memory", "max_size", cfg.Storage.MaxSize)
		return memory.New(cfg.Storage.MaxSize), nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		logger.Info("storage enabled", "type", "postgres", "max_conns", cfg.Storage.Postgres.MaxConns)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// buildAuth assembles the authenticator chain and rate limiter.
func buildAuth(cfg *config.Config) (*auth.Chain, auth.RateLimiter, error) {
	chain := &auth.Chain{DefaultDecision: auth.No}

	switch cfg.Auth.Type {
	case "none":
		chain.Authenticators = []auth.Authenticator{&noop.Authenticator{}}
		chain.DefaultDecision = auth.Yes
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					ServiceTier: k.ServiceTier,
				},
			})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(entries)}
	case "jwt":
		chain.Authenticators = []auth.Authenticator{jwt.New(jwt.Config{
			Issuer:       cfg.Auth.JWT.Issuer,
			Audience:     cfg.Auth.JWT.Audience,
			JWKSURL:      cfg.Auth.JWT.JWKSURL,
			SubjectClaim: cfg.Auth.JWT.SubjectClaim,
			ScopesClaim:  cfg.Auth.JWT.ScopesClaim,
			CacheTTL:     cfg.Auth.JWT.CacheTTL,
		})}
	default:
		return nil, nil, fmt.Errorf("unknown auth type %q", cfg.Auth.Type)
	}

	var limiter auth.RateLimiter
	if len(cfg.Auth.RateLimits) > 0 || cfg.Auth.DefaultRPM > 0 {
		tiers := make(map[string]auth.TierConfig, len(cfg.Auth.RateLimits))
		for tier, rpm := range cfg.Auth.RateLimits {
			tiers[tier] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.Auth.DefaultRPM)
	}

	return chain, limiter, nil
}
