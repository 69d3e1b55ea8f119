// Command server runs the engine-serving runtime: the WebSocket
// gateway, the UCI engine pools and their dispatchers, and the HTTP
// observation surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chessmate/backend/internal/analyze"
	"github.com/chessmate/backend/internal/api"
	"github.com/chessmate/backend/internal/auth"
	"github.com/chessmate/backend/internal/config"
	"github.com/chessmate/backend/internal/enginepool"
	"github.com/chessmate/backend/internal/gateway"
	"github.com/chessmate/backend/internal/metrics"
	"github.com/chessmate/backend/internal/ratelimit"
	"github.com/chessmate/backend/internal/requestqueue"
	"github.com/chessmate/backend/internal/suggest"
	"github.com/chessmate/backend/internal/uci"
)

const snapshotInterval = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

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

	m := metrics.New()

	suggestionPool, err := enginepool.New(uci.KindSuggestion, cfg.Engines.SuggestionPool, cfg.Engines.BinaryDir)
	if err != nil {
		return fmt.Errorf("suggestion pool: %w", err)
	}
	defer suggestionPool.Shutdown()

	analysisPool, err := enginepool.New(uci.KindAnalysis, cfg.Engines.AnalysisPool, cfg.Engines.BinaryDir)
	if err != nil {
		return fmt.Errorf("analysis pool: %w", err)
	}
	defer analysisPool.Shutdown()

	suggestionQueue := requestqueue.New()
	analysisQueue := requestqueue.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go requestqueue.NewDispatcher(suggestionQueue, suggestionPool, m).Run(ctx)
	go requestqueue.NewDispatcher(analysisQueue, analysisPool, m).Run(ctx)

	verifier, err := buildVerifier(cfg.Auth)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxPerMinute: cfg.Limits.RequestsPerMinute,
		Burst:        cfg.Limits.Burst,
	})
	defer limiter.Close()

	gw := gateway.New(gateway.Config{
		AuthTimeout:       cfg.Server.AuthTimeout(),
		HeartbeatInterval: cfg.Server.HeartbeatInterval(),
		AllowedOrigins:    cfg.Server.AllowedOrigins,
	}, verifier, limiter, m, suggestionQueue, analysisQueue)

	suggestHandler := suggest.NewHandler(suggestionQueue, nil)
	analyzeHandler := analyze.NewHandler(analysisQueue)
	gw.Route("suggestion", func(raw json.RawMessage, c *gateway.Client) {
		suggestHandler.Handle(raw, c)
	})
	gw.Route("analyze", func(raw json.RawMessage, c *gateway.Client) {
		analyzeHandler.Handle(raw, c)
	})
	go gw.Run(ctx)

	queues := map[string]*requestqueue.Queue{
		"suggestion": suggestionQueue,
		"analysis":   analysisQueue,
	}
	pools := map[string]*enginepool.Pool{
		"suggestion": suggestionPool,
		"analysis":   analysisPool,
	}
	go snapshotLoop(ctx, m, queues, pools)

	router := api.NewServer(gw, queues, pools).Router()
	router.HandleFunc("/ws", gw.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errChan:
		return err
	}

	// Stop accepting, drain in-flight HTTP, then tear down the
	// WebSocket connections, dispatchers and engine pools.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}

	gw.Shutdown()
	cancel()

	slog.Info("server stopped")
	return nil
}

func buildVerifier(cfg config.AuthConfig) (auth.Verifier, error) {
	switch cfg.Mode {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis at %s: %w", cfg.RedisAddr, err)
		}
		return auth.NewRedisVerifier(client, cfg.TokenPrefix), nil
	case "static":
		creds := make([]auth.StaticCredential, 0, len(cfg.Credentials))
		for _, c := range cfg.Credentials {
			creds = append(creds, auth.StaticCredential{
				User:      auth.User{ID: c.UserID, Email: c.Email},
				TokenHash: c.TokenHash,
			})
		}
		return auth.NewStaticVerifier(creds), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// snapshotLoop feeds pool and queue gauges on a fixed cadence.
func snapshotLoop(ctx context.Context, m *metrics.Metrics, queues map[string]*requestqueue.Queue, pools map[string]*enginepool.Pool) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, q := range queues {
				m.ObserveQueue(name, q.Stats().Pending)
			}
			for name, p := range pools {
				st := p.Stats()
				m.ObservePool(name, st.Total, st.Available, st.Busy, st.Waiting)
			}
		}
	}
}
