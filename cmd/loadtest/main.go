// Command loadtest drives a running server with concurrent WebSocket
// clients issuing suggestion requests and reports latency percentiles.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type loadConfig struct {
	URL            string
	Token          string
	Requests       int
	Concurrency    int
	ReportInterval time.Duration
}

type loadStats struct {
	Total     atomic.Uint64
	Succeeded atomic.Uint64
	Failed    atomic.Uint64

	mu        sync.Mutex
	latencies []time.Duration
	min, max  time.Duration
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "server WebSocket endpoint")
	token := flag.String("token", "", "auth token presented by every client")
	requests := flag.Int("requests", 200, "suggestion requests per worker")
	concurrency := flag.Int("concurrency", 8, "concurrent WebSocket clients")
	reportInterval := flag.Duration("report", 5*time.Second, "progress reporting interval")
	flag.Parse()

	cfg := loadConfig{
		URL:            *url,
		Token:          *token,
		Requests:       *requests,
		Concurrency:    *concurrency,
		ReportInterval: *reportInterval,
	}
	if cfg.Token == "" {
		slog.Error("a -token is required")
		os.Exit(1)
	}

	slog.Info("starting load test", "url", cfg.URL, "workers", cfg.Concurrency, "requests_per_worker", cfg.Requests)
	stats, took := runLoad(cfg)
	printResults(stats, took)
}

func runLoad(cfg loadConfig) (*loadStats, time.Duration) {
	stats := &loadStats{min: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reportProgress(ctx, stats, cfg.ReportInterval)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if err := runWorker(cfg, workerID, stats); err != nil {
				slog.Warn("worker aborted", "worker", workerID, "error", err)
			}
		}(i)
	}
	wg.Wait()
	return stats, time.Since(start)
}

// runWorker opens one connection, authenticates, and issues requests
// back to back, waiting for each result before sending the next.
func runWorker(cfg loadConfig, workerID int, stats *loadStats) error {
	conn, _, err := websocket.DefaultDialer.Dial(cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": cfg.Token}); err != nil {
		return fmt.Errorf("auth write: %w", err)
	}
	frame, err := readFrame(conn)
	if err != nil {
		return fmt.Errorf("auth read: %w", err)
	}
	if frame["type"] != "auth_success" {
		return fmt.Errorf("auth rejected: %v", frame)
	}

	for i := 0; i < cfg.Requests; i++ {
		req := map[string]any{
			"type":      "suggestion",
			"requestId": fmt.Sprintf("load-%d-%d", workerID, i),
			"fen":       startFEN,
		}
		start := time.Now()
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("request write: %w", err)
		}

		// Skip unrelated frames (pings are handled by the dialer).
		for {
			frame, err = readFrame(conn)
			if err != nil {
				return fmt.Errorf("result read: %w", err)
			}
			if t := frame["type"]; t == "suggestion_result" || t == "suggestion_error" {
				break
			}
		}
		stats.record(time.Since(start), frame["type"] == "suggestion_result")
	}
	return nil
}

func readFrame(conn *websocket.Conn) (map[string]any, error) {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (s *loadStats) record(latency time.Duration, ok bool) {
	s.Total.Add(1)
	if ok {
		s.Succeeded.Add(1)
	} else {
		s.Failed.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, latency)
	if latency > s.max {
		s.max = latency
	}
	if latency < s.min {
		s.min = latency
	}
	s.mu.Unlock()
}

func reportProgress(ctx context.Context, stats *loadStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			slog.Info("progress",
				"total", stats.Total.Load(),
				"succeeded", stats.Succeeded.Load(),
				"failed", stats.Failed.Load(),
			)
		case <-ctx.Done():
			return
		}
	}
}

func printResults(stats *loadStats, took time.Duration) {
	stats.mu.Lock()
	defer stats.mu.Unlock()

	total := stats.Total.Load()
	out := map[string]any{
		"total":          total,
		"succeeded":      stats.Succeeded.Load(),
		"failed":         stats.Failed.Load(),
		"duration":       took.String(),
		"throughput_rps": float64(total) / took.Seconds(),
	}
	if len(stats.latencies) > 0 {
		out["latency_min"] = stats.min.String()
		out["latency_avg"] = average(stats.latencies).String()
		out["latency_p95"] = percentile(stats.latencies, 95).String()
		out["latency_p99"] = percentile(stats.latencies, 99).String()
		out["latency_max"] = stats.max.String()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func average(latencies []time.Duration) time.Duration {
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func percentile(latencies []time.Duration, p int) time.Duration {
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
