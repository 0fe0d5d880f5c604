package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"avl-gateway/internal/api"
	"avl-gateway/internal/codec"
	"avl-gateway/internal/config"
	"avl-gateway/internal/dispatcher"
	"avl-gateway/internal/grpcclient"
	"avl-gateway/internal/link"
	"avl-gateway/internal/mqttpub"
	"avl-gateway/internal/natspub"
	"avl-gateway/internal/observability"
	"avl-gateway/internal/pipeline"
	"avl-gateway/internal/registry"
	"avl-gateway/internal/server"
	"avl-gateway/internal/store"
	"avl-gateway/internal/utilities"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observability.NewLogger("info").Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel)
	logger.Info("Starting avl-gateway...", "port", cfg.TCPPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(cfg.ReplyBuffer, cfg.WriteTimeout)
	dec := codec.NewDecoder(cfg.VerifyCRC)
	dec.Location = cfg.Location()

	corr := dispatcher.NewCorrelator(reg, logger)
	corr.Grace = cfg.CommandGrace
	corr.DailyLimit = cfg.CommandDailyLimit

	var (
		sinks    []pipeline.Sink
		presence server.Presence
		history  api.History
		closers  []func()
	)

	// Redis antes del server
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Error("Redis init failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		sinks = append(sinks, rdb)
		presence, history = rdb, rdb
		corr.Quota = rdb
	}

	if cfg.GRPCServer != "" {
		gc, err := grpcclient.NewGRPCClient(cfg.GRPCServer, logger)
		if err != nil {
			logger.Error("gRPC client init failed", "addr", cfg.GRPCServer, "error", err)
			os.Exit(1)
		}
		closers = append(closers, func() { _ = gc.Close() })
		sinks = append(sinks, gc)
	}

	var lc *link.Client
	if cfg.ProxyAddr != "" {
		lc = link.New(cfg.ProxyAddr, logger, func(ctx context.Context, imei, command string) (string, bool, error) {
			res, err := corr.Dispatch(ctx, imei, command)
			if err != nil {
				return "", false, err
			}
			if res.NoResponse || res.Reply == nil {
				return "", true, nil
			}
			return res.Reply.Text, false, nil
		})
		sinks = append(sinks, lc)
	}

	if cfg.NatsURL != "" {
		np, err := natspub.Connect(cfg.NatsURL, cfg.NatsSubject, logger)
		if err != nil {
			logger.Error("NATS connect failed", "url", cfg.NatsURL, "error", err)
			os.Exit(1)
		}
		closers = append(closers, func() { _ = np.Close() })
		sinks = append(sinks, np)
	}

	if cfg.MQTTBroker != "" {
		mp, err := mqttpub.Connect(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic, logger)
		if err != nil {
			logger.Error("MQTT connect failed", "broker", cfg.MQTTBroker, "error", err)
			os.Exit(1)
		}
		closers = append(closers, mp.Close)
		sinks = append(sinks, mp)
	}

	proc := pipeline.NewProcessor(cfg.PipelineQueue, logger, sinks...)
	logger.Info("pipeline ready", "sinks", proc.Sinks())

	srv := server.New(reg, dec, logger, server.Options{
		Addr:         ":" + cfg.TCPPort,
		IdleTimeout:  cfg.IdleTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxFrame:     cfg.MaxFrame,
		EchoReplies:  cfg.EchoReplies,
		Presence:     presence,
		Events:       proc,
		Commands:     corr,
		Journal:      &utilities.Journal{Dir: cfg.RawLogDir},
	})
	handler := api.NewHandler(reg, corr, history, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return proc.Run(gctx) })
	g.Go(func() error { return observability.StartMetricsServer(gctx, cfg.MetricsPort, logger) })
	g.Go(func() error { return api.Serve(gctx, ":"+cfg.APIPort, handler.Routes(), logger) })
	if lc != nil {
		g.Go(func() error { return lc.Run(gctx) })
	}

	err = g.Wait()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	if err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}
