// Command shardd runs one or more gateway shards in a single process,
// sharing a Redis-backed resume-state store, identify rate limiter, entity
// cache, and HTTP event forwarder across every shard it owns.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mediocregopher/radix/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shardrelay/gateway/gateway"
	"github.com/shardrelay/gateway/internal/cache"
)

func main() {
	configPath := flag.String("config", "shardd.toml", "path to the shard config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := gateway.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("shardd: %w", err)
	}

	logger := gateway.NewLogger(gateway.LogLevelFromString(cfg.LogLevel))
	stats := gateway.NewStats()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := radix.NewPool(ctx, "tcp", cfg.RedisAddr, 10)
	if err != nil {
		return fmt.Errorf("shardd: connect redis: %w", err)
	}
	defer redisClient.Close()

	entityCache := cache.NewMemory()
	forwarder := gateway.NewHTTPEventForwarder()
	forwarder.StartCookieResetLoop(ctx)

	shards := make([]*gateway.Shard, cfg.ShardInfo.NumShards)
	for i := 0; i < cfg.ShardInfo.NumShards; i++ {
		shardCfg := *cfg
		shardCfg.ShardInfo.ShardID = i
		shards[i] = gateway.NewShard(&shardCfg, redisClient, entityCache, forwarder, stats, logger, nil)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Infof("received shutdown signal, killing all shards")
		for _, s := range shards {
			s.Kill()
		}
		cancel()
	}()

	go serveMetrics(cfg.MetricsAddr, logger)

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range shards {
		s := s
		g.Go(func() error {
			return runShardLoop(gctx, s, logger)
		})
	}

	return g.Wait()
}

// runShardLoop retries Connect until a fatal authentication error or the
// context is cancelled; reconnection policy lives outside the core shard
// type on purpose.
func runShardLoop(ctx context.Context, s *gateway.Shard, logger *gateway.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.Connect(ctx)
		if err == nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		var authErr *gateway.AuthenticationError
		if errors.As(err, &authErr) {
			return err
		}

		logger.Errorf("shard connection ended, reconnecting: %v", err)
	}
}

func serveMetrics(addr string, logger *gateway.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Infof("serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("metrics server stopped: %v", err)
	}
}
