package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/crabdrop/internal/airdrop"
	"github.com/sawpanic/crabdrop/internal/executor"
	httpserver "github.com/sawpanic/crabdrop/internal/interfaces/http"
	"github.com/sawpanic/crabdrop/internal/interfaces/http/handlers"
	"github.com/sawpanic/crabdrop/internal/metrics"
	"github.com/sawpanic/crabdrop/internal/net/ratelimit"
	"github.com/sawpanic/crabdrop/internal/verify"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the claim verification HTTP service",
		Long:  "Serves POST /claim/verify, GET /airdrop/stats, GET /health and GET /metrics",
		RunE:  runServe,
	}

	serveCmd.Flags().String("addr", "", "Listen address override (default from config)")
	serveCmd.Flags().StringArray("seed", nil,
		"Seed the in-memory store with username:claim_code[:wallet] (repeatable, memory store only)")

	return serveCmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := loadApp(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.config
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seeds, _ := cmd.Flags().GetStringArray("seed")
	if err := a.seed(seeds); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewRegistry(reg)

	guard, err := a.capGuard(ctx)
	if err != nil {
		return err
	}

	exec, err := executor.NewClient(cfg.Executor, &http.Client{})
	if err != nil {
		return fmt.Errorf("failed to create executor client: %w", err)
	}

	recorder := a.recorder(guard, m)
	gate := airdrop.NewGate(cfg.Airdrop, a.repo, guard, exec, recorder, m)
	service := verify.NewService(a.repo.Identities, gate, m).WithAirdropTimeout(cfg.AirdropTimeout())

	// Prime the record gauges
	if _, err := recorder.Stats(ctx); err != nil {
		log.Warn().Str("error", a.redactor.RedactError(err)).Msg("Could not read disbursement record at startup")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go pruneLimiter(ctx, limiter, cfg.RateLimit.IdleTTL)
	}

	h := handlers.NewHandlers(service, recorder, a.health, exec.State, a.redactor)
	server := httpserver.NewServer(httpserver.ServerConfig{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    2 * cfg.Server.WriteTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
		TrustProxy:     cfg.Server.TrustProxy,
	}, h, limiter, m, reg)

	log.Info().
		Str("addr", cfg.Server.Addr).
		Int64("cap", cfg.Airdrop.Cap).
		Int64("amount", cfg.Airdrop.Amount).
		Str("token", cfg.Airdrop.Token).
		Str("cap_mode", string(guard.Mode())).
		Str("executor", cfg.Executor.Endpoint).
		Dur("executor_timeout", cfg.Executor.Timeout).
		Msg("Claim service configured")

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
		return err
	}

	log.Info().Msg("Claim service shutdown complete")
	return nil
}

func pruneLimiter(ctx context.Context, limiter *ratelimit.Limiter, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := limiter.Prune(idle); removed > 0 {
				log.Debug().Int("removed", removed).Int("tracked", limiter.Len()).Msg("Pruned idle rate limiters")
			}
		}
	}
}

// seed registers identities in the in-memory store for local runs
func (a *app) seed(seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}
	if a.memory == nil {
		return fmt.Errorf("--seed only applies to the in-memory store")
	}

	for _, s := range seeds {
		username, code, wallet, err := parseSeed(s)
		if err != nil {
			return err
		}
		identity := a.memory.Seed(username, code, wallet)
		log.Info().Str("identity_id", identity.ID).Str("username", username).
			Bool("wallet", wallet != "").Msg("Seeded identity")
	}
	return nil
}

func parseSeed(seed string) (username, code, wallet string, err error) {
	parts := strings.Split(seed, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", "", "", fmt.Errorf("invalid seed %q, want username:claim_code[:wallet]", seed)
	}
	username, code = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if username == "" || code == "" {
		return "", "", "", fmt.Errorf("invalid seed %q, username and claim_code are required", seed)
	}
	if len(parts) == 3 {
		wallet = strings.TrimSpace(parts[2])
	}
	return username, code, wallet, nil
}
