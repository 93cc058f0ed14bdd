package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"peacasso-client/internal/api"
	"peacasso-client/internal/cache"
	"peacasso-client/internal/config"
	"peacasso-client/internal/database"
	"peacasso-client/internal/engine"
	"peacasso-client/internal/queue"
	"peacasso-client/internal/session"
	"peacasso-client/internal/worker"
)

func WsCmd() *cobra.Command {
	wsCmd := &cobra.Command{
		Use:   "ws",
		Short: "Connect to the job-feed server and serve generation requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = runClient(ctx, cfg, logger)
			switch {
			case errors.Is(err, session.ErrNoToken):
				logger.Warn("empty token, exiting")
			case errors.Is(err, session.ErrAuth):
				logger.Error("login failed", "error", err)
			case errors.Is(err, session.ErrHandshake):
				logger.Error("server refused the connection", "error", err)
			case errors.Is(err, session.ErrGaveUp):
				logger.Error("could not stay connected", "error", err)
			}
			return err
		},
	}

	flags := wsCmd.Flags()
	flags.String("scheme", "", "Connection scheme (ws or wss)")
	flags.String("host", "", "Job-feed server host")
	flags.Int("port", 0, "Job-feed server port")
	flags.String("path", "", "Websocket path")
	flags.String("token", "", "Credential token (default $"+config.EnvToken+")")
	flags.StringSlice("cuda-device", nil, "Device identifiers, one worker each")
	flags.Int("max-reconnect", 0, "Maximum number of reconnections")
	flags.String("cache-dir", "", "Artifact cache directory (default $"+config.EnvCacheDir+")")
	flags.String("db", "", "Result ledger SQLite path, empty disables it")
	flags.String("status-addr", "", "Listen address of the status server, empty disables it")
	flags.String("engine-command", "", "External generator command, empty uses the fake engine")
	return wsCmd
}

// loadConfig merges defaults, file, environment and explicitly set flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("scheme") {
		cfg.Scheme, _ = flags.GetString("scheme")
	}
	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("path") {
		cfg.Path, _ = flags.GetString("path")
	}
	if flags.Changed("token") {
		cfg.Token, _ = flags.GetString("token")
	}
	if flags.Changed("cuda-device") {
		cfg.Devices, _ = flags.GetStringSlice("cuda-device")
	}
	if flags.Changed("max-reconnect") {
		cfg.MaxReconnect, _ = flags.GetInt("max-reconnect")
	}
	if flags.Changed("cache-dir") {
		cfg.CacheDir, _ = flags.GetString("cache-dir")
	}
	if flags.Changed("db") {
		cfg.DBPath, _ = flags.GetString("db")
	}
	if flags.Changed("status-addr") {
		cfg.StatusAddr, _ = flags.GetString("status-addr")
	}
	if flags.Changed("engine-command") {
		cfg.Engine.Command, _ = flags.GetString("engine-command")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Token == "" {
		return session.ErrNoToken
	}

	var recorder worker.Recorder
	var store api.StatsStore
	if cfg.DBPath != "" {
		db, err := database.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer db.Close()
		if err := db.InitSchema(); err != nil {
			return fmt.Errorf("init ledger: %w", err)
		}
		recorder, store = db, db
		logger.Info("result ledger enabled", "path", cfg.DBPath)
	}

	factory := engine.FakeFactory(cfg.Engine.FakeDelay)
	if cfg.Engine.Command != "" {
		factory = engine.CommandFactory(cfg.Engine.Command, cfg.Engine.Args)
	} else {
		logger.Warn("no generator command configured, using the fake engine")
	}

	pool, err := worker.New(worker.Config{
		Devices:  cfg.Devices,
		Factory:  factory,
		Cache:    cache.New(cfg.CacheDir, logger),
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	pool.Start(ctx)
	defer pool.Stop()

	dq := queue.NewDedupQueue()
	handler := session.New(session.Config{
		URL:            cfg.URL(),
		Token:          cfg.Token,
		MaxReconnect:   cfg.MaxReconnect,
		PollTimeout:    cfg.PollTimeout,
		ReconnectDelay: time.Second,
		MaxDelay:       30 * time.Second,
		StableAfter:    time.Minute,
		Logger:         logger,
	}, dq, pool)

	if cfg.StatusAddr != "" {
		srv := statusServer(cfg, store, handler, dq, pool, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting client", "url", cfg.URL(), "devices", cfg.Devices, "max_reconnect", cfg.MaxReconnect)
	return handler.Run(ctx)
}

func statusServer(cfg *config.Config, store api.StatsStore, h *session.Handler, dq *queue.DedupQueue, pool *worker.Pool, logger *slog.Logger) *http.Server {
	apiServer := api.NewServer(store, func() api.Status {
		return api.Status{
			State:         h.State().String(),
			Reconnections: h.Reconnections(),
			MaxReconnect:  cfg.MaxReconnect,
			Workers:       pool.Size(),
			DedupQueue:    dq.Len(),
			InputQueue:    pool.Input().Len(),
			OutputQueue:   pool.Output().Len(),
		}
	}, logger)

	mux := http.NewServeMux()
	apiServer.SetupRoutes(mux)

	srv := &http.Server{Addr: cfg.StatusAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("status server listening", "addr", cfg.StatusAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", "error", err)
		}
	}()
	return srv
}
