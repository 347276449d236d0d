// Command memoryd is the main entry point for the knowledge-graph memory
// service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knowgraph/memoryd/internal/config"
	"github.com/knowgraph/memoryd/internal/health"
	"github.com/knowgraph/memoryd/internal/mcp"
	"github.com/knowgraph/memoryd/internal/resilience"
	"github.com/knowgraph/memoryd/internal/service"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
	"github.com/knowgraph/memoryd/pkg/provider/llm/anyllm"
	"github.com/knowgraph/memoryd/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "memoryd: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "memoryd: %v\n", err)
		}
		return 1
	}

	// ── Logger ───────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("memoryd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ────────────────────────────────────────────────────
	registry := config.NewRegistry()
	registerBuiltinProviders(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Build the system: graph store, queues, pipeline, workers ────────────
	sys, err := service.Build(ctx, cfg, registry)
	if err != nil {
		slog.Error("failed to build system", "err", err)
		return 1
	}

	// ── Health endpoints ─────────────────────────────────────────────────────
	// Each checker reports the corresponding circuit breaker's current state
	// (spec §6 "Health and exit"); the postgres checker also pings the pool
	// first, while the LLM and queue checkers have no separate liveness
	// probe. A breaker that has tripped open fails readiness even if the
	// ping would otherwise succeed, since an open breaker means calls are
	// already being short-circuited.
	mux := http.NewServeMux()
	health.New(
		health.Checker{Name: "postgres", Check: func(ctx context.Context) error {
			if err := sys.Pool.Ping(ctx); err != nil {
				return err
			}
			return breakerHealth(sys.Breakers.Store.State())
		}},
		health.Checker{Name: "llm_small", Check: func(context.Context) error {
			return breakerHealth(sys.Service.Pipeline().SmallBreakerState())
		}},
		health.Checker{Name: "llm_large", Check: func(context.Context) error {
			return breakerHealth(sys.Service.Pipeline().LargeBreakerState())
		}},
		health.Checker{Name: "inbound_queue", Check: func(context.Context) error {
			return breakerHealth(sys.Breakers.Inbound.State())
		}},
		health.Checker{Name: "outbound_queue", Check: func(context.Context) error {
			return breakerHealth(sys.Breakers.Outbound.State())
		}},
	).Register(mux)

	var httpServer *http.Server
	if cfg.Server.ListenAddr != "" {
		httpServer = &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("health server error", "err", err)
			}
		}()
	}

	sys.Start(ctx)
	slog.Info("system started", "mcp_servers", len(cfg.MCP.Servers))

	// ── MCP servers, one per configured end user ─────────────────────────────
	group, groupCtx := errgroup.WithContext(ctx)
	for _, srv := range cfg.MCP.Servers {
		srv := srv
		if srv.UserID == "" {
			slog.Warn("mcp server has no user_id configured — skipping", "name", srv.Name)
			continue
		}
		server := mcp.NewServer(sys.Service, srv.UserID, version)
		group.Go(func() error {
			slog.Info("mcp server starting", "name", srv.Name, "transport", srv.Transport, "user_id", srv.UserID)
			if err := mcp.Serve(groupCtx, server, srv); err != nil {
				return fmt.Errorf("mcp server %q: %w", srv.Name, err)
			}
			return nil
		})
	}

	slog.Info("memoryd ready — press Ctrl+C to shut down")

	<-groupCtx.Done()
	if ctx.Err() != nil {
		slog.Info("shutdown signal received, stopping…")
	} else {
		slog.Warn("an mcp server exited unexpectedly, stopping…")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("health server shutdown error", "err", err)
		}
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp server error", "err", err)
	}

	sys.Stop()
	slog.Info("goodbye")
	return 0
}

// version identifies this build to connecting MCP clients during the
// initialize handshake. Overridden at build time via -ldflags when a real
// release pipeline exists.
var version = "dev"

// breakerHealth reports a readiness failure for an open circuit breaker.
// Half-open is reported healthy: it means the breaker is already probing
// recovery, not that the dependency is known-bad.
func breakerHealth(state resilience.State) error {
	if state == resilience.StateOpen {
		return fmt.Errorf("circuit breaker open")
	}
	return nil
}

// ── Provider wiring ──────────────────────────────────────────────────────────

// registerBuiltinProviders registers the LLM provider factories memoryd ships
// with: a dedicated OpenAI backend, and the any-llm-go universal backend for
// every other supported provider name.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(tier config.LLMTierConfig) (llm.Provider, error) {
		apiKey := os.Getenv("OPENAI_API_KEY")
		return openai.New(apiKey, tier.Model, openai.WithTimeout(time.Duration(tier.Timeout)))
	})

	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		name := name
		reg.RegisterLLM(name, func(tier config.LLMTierConfig) (llm.Provider, error) {
			return anyllm.New(name, tier.Model)
		})
	}
}

// ── Logger ───────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
