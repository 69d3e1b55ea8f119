// Command preflight verifies a deployment before traffic: the config
// parses, the engine binaries exist and answer the UCI handshake, and
// the token store is reachable when redis auth is configured.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chessmate/backend/internal/config"
	"github.com/chessmate/backend/internal/uci"
)

type check struct {
	Name string
	Run  func(cfg *config.Config) error
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("config %-30s [FAIL]\n  >> %v\n", *configPath+"...", err)
		os.Exit(1)
	}

	checks := []check{
		{"suggestion engine", checkEngine(uci.KindSuggestion)},
		{"analysis engine", checkEngine(uci.KindAnalysis)},
		{"token store", checkTokenStore},
	}

	failed := false
	for _, c := range checks {
		fmt.Printf("checking %-25s ", c.Name+"...")
		if err := c.Run(cfg); err != nil {
			failed = true
			fmt.Println("[FAIL]")
			fmt.Printf("  >> %v\n", err)
		} else {
			fmt.Println("[OK]")
		}
	}

	if failed {
		os.Exit(1)
	}
	fmt.Println("ready")
}

// checkEngine resolves the binary and runs a full handshake against a
// short-lived process.
func checkEngine(kind uci.Kind) func(cfg *config.Config) error {
	return func(cfg *config.Config) error {
		engine, err := uci.New(0, kind, cfg.Engines.BinaryDir)
		if err != nil {
			return err
		}
		if err := engine.Start(); err != nil {
			return err
		}
		engine.Stop()
		return nil
	}
}

func checkTokenStore(cfg *config.Config) error {
	if cfg.Auth.Mode != "redis" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Auth.RedisAddr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}
