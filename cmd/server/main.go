package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/christopherjohns/tablecast/internal/config"
	"github.com/christopherjohns/tablecast/internal/identity"
	"github.com/christopherjohns/tablecast/internal/ingress"
	"github.com/christopherjohns/tablecast/internal/logger"
	"github.com/christopherjohns/tablecast/internal/metrics"
	"github.com/christopherjohns/tablecast/internal/ratelimit"
	"github.com/christopherjohns/tablecast/internal/router"
	"github.com/christopherjohns/tablecast/internal/server"
	"github.com/christopherjohns/tablecast/internal/ws"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := metrics.Setup(ctx, cfg.Telemetry, cfg.Logging.Service, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			log.Warn("metrics shutdown", "error", err)
		}
	}()
	m, err := metrics.New()
	if err != nil {
		return err
	}

	verifier, err := newVerifier(cfg.Auth, log)
	if err != nil {
		return err
	}

	rt := router.New(log, m)
	conns := ws.NewConnManager(
		ws.WithLogger(log),
		ws.WithMaxConns(cfg.WS.MaxConns),
		ws.WithIdleTimeout(cfg.WS.IdleTimeout),
		ws.WithSendBuffer(cfg.WS.SendBuffer),
	)

	var limiter *ratelimit.Limiter
	if cfg.WS.HandshakeRate > 0 {
		limiter = ratelimit.New(cfg.WS.HandshakeRate, cfg.WS.HandshakeWindow)
	}

	if cfg.Ingress.Token == "" {
		log.Warn("ingress token not set, /api is open to anyone who can reach this port")
	}

	srv := server.New(cfg, server.Deps{
		Router:   rt,
		Verifier: verifier,
		Conns:    conns,
		Limiter:  limiter,
		Log:      log,
	})

	// Bridges connect before any goroutine starts.
	bridges, closeBridges, err := openBridges(ctx, cfg.Ingress, cfg.Logging.Service, rt, log)
	if err != nil {
		return err
	}
	defer closeBridges()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	for _, run := range bridges {
		g.Go(func() error { return run(gctx) })
	}

	if limiter != nil {
		g.Go(func() error {
			sweepLimiter(gctx, limiter, cfg.WS.HandshakeWindow)
			return nil
		})
	}

	log.Info("tablecast started", "port", cfg.Server.Port)
	return g.Wait()
}

// openBridges connects the configured Redis and NATS ingress bridges and
// returns their run functions. On error everything opened so far is closed.
func openBridges(ctx context.Context, cfg config.Ingress, service string, sink ingress.Sink, log *slog.Logger) ([]func(context.Context) error, func(), error) {
	var (
		runs    []func(context.Context) error
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, func() { rdb.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		log.Info("connected to redis", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
		runs = append(runs, ingress.NewRedisSource(rdb, cfg.RedisChannel, sink, log).Run)
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(service))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("nats %s: %w", cfg.NATSURL, err)
		}
		closers = append(closers, nc.Close)
		log.Info("connected to nats", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
		runs = append(runs, ingress.NewNATSSource(nc, cfg.NATSSubject, sink, log).Run)
	}

	return runs, closeAll, nil
}

func newVerifier(cfg config.Auth, log *slog.Logger) (identity.Verifier, error) {
	var v identity.Verifier
	if cfg.InsecureSkipVerify {
		log.Warn("token signatures are NOT verified, demo use only")
		v = identity.NewInsecureVerifier()
	} else {
		v = identity.NewJWTVerifier(cfg.Secret)
	}
	if cfg.CacheEntries <= 0 {
		return v, nil
	}
	return identity.NewCachedVerifier(v, cfg.CacheEntries, cfg.CacheTTL)
}

func sweepLimiter(ctx context.Context, l *ratelimit.Limiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
