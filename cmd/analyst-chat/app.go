package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/viper"

	"analyst-chat/internal/backend"
	"analyst-chat/internal/config"
	"analyst-chat/internal/logging"
	"analyst-chat/internal/session"
	"analyst-chat/internal/stream"
	"analyst-chat/internal/submit"
)

// app holds the session core shared by every command.
type app struct {
	cfg     config.AppConfig
	logger  *slog.Logger
	closer  io.Closer
	client  *backend.Client
	store   *session.Store
	streams *stream.Manager
	submit  *submit.Orchestrator
}

type appOptions struct {
	// LogSink receives logs when no log file is configured; nil discards.
	LogSink io.Writer
	// Direct ignores the proxy URL, for the proxy itself.
	Direct   bool
	Observer stream.Observer
}

func newApp(ctx context.Context, v *viper.Viper, opts appOptions) (context.Context, *app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return ctx, nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return ctx, nil, err
	}
	logger, closer, err := logging.New(level, cfg.LogFile, opts.LogSink)
	if err != nil {
		return ctx, nil, err
	}
	ctx = logging.WithLogger(ctx, logger)

	proxyURL := cfg.ProxyURL
	if opts.Direct {
		proxyURL = ""
	}
	client, err := backend.New(backend.Options{
		BaseURL:        cfg.BackendURL,
		ProxyURL:       proxyURL,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		_ = closer.Close()
		return ctx, nil, fmt.Errorf("configure backend: %w", err)
	}

	store := session.NewStore(session.Options{MaxSessions: cfg.MaxSessions, Logger: logger})
	streams := stream.NewManager(client, store, stream.Options{
		IdleTimeout: cfg.StreamIdleTimeout,
		Observer:    opts.Observer,
	})
	store.Observe(streams)

	logging.Debug(ctx, "configuration loaded",
		slog.String("config_file", cfg.ConfigFile),
		slog.String("backend_url", client.BaseURL()),
		slog.String("submit_url", client.SubmitURL()))

	return ctx, &app{
		cfg:     cfg,
		logger:  logger,
		closer:  closer,
		client:  client,
		store:   store,
		streams: streams,
		submit:  submit.New(client, store, streams, submit.Options{MaxFiles: cfg.MaxFiles}),
	}, nil
}

func (a *app) Close() error {
	a.streams.CloseAll()
	return a.closer.Close()
}
