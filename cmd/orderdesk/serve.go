package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/orderdesk/orderdesk/internal/chat"
	"github.com/orderdesk/orderdesk/internal/config"
	"github.com/orderdesk/orderdesk/internal/extract"
	"github.com/orderdesk/orderdesk/internal/server"
	"github.com/orderdesk/orderdesk/internal/store"
	"github.com/orderdesk/orderdesk/internal/telemetry"
	"github.com/orderdesk/orderdesk/internal/workflow"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the order intake server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(os.Stdout, parseLevel(cfg.Logging.Level))
	slog.SetDefault(logger)

	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(sigCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()

	extractor := extract.New(provider,
		extract.WithLogger(logger),
		extract.WithMetrics(metrics),
		extract.WithDeadline(cfg.Extraction.Deadline.Std()),
		extract.WithPollInterval(cfg.Extraction.PollInterval.Std()),
	)

	catalog := workflow.NewMemoryCatalog(nil)
	workflows := workflow.NewRunner(
		[]workflow.Stage{
			workflow.NewFulfillmentStage(catalog),
			workflow.NewSearchStage(catalog),
		},
		workflow.WithLogger(logger),
		workflow.WithMetrics(metrics),
		workflow.WithTimeout(cfg.Workflow.Timeout.Std()),
	)

	engine := chat.New(st, extractor,
		chat.WithLogger(logger),
		chat.WithMetrics(metrics),
		chat.WithDispatcher(workflows),
	)

	srv := server.New(engine, st,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithAPIKeys(cfg.Server.APIKeys),
		server.WithCORSOrigins(cfg.Server.CORSOrigins),
	)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Sessions.SweepSpec, func() {
		n, err := st.PurgeIdleSessions(context.Background(), cfg.Sessions.IdleAfter.Std())
		if err != nil {
			logger.Error("idle session sweep failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("idle sessions purged", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	g, ctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		err := srv.ListenAndServe(cfg.Server.Addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		workflows.Wait()
		return nil
	})

	if configPath != "" {
		g.Go(func() error {
			err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
				// Most settings need a restart; note the change so operators
				// see the file was picked up.
				logger.Info("config file changed, restart to apply", "path", configPath)
				_ = next
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database configured, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}

	pg, err := store.NewPostgres(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database connected")
	return pg, pg.Close, nil
}

func buildProvider(cfg *config.Config) (extract.Provider, error) {
	switch cfg.Provider.Name {
	case "openai":
		opts := []extract.OpenAIOption{}
		if cfg.Provider.Model != "" {
			opts = append(opts, extract.WithModel(cfg.Provider.Model))
		}
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, extract.WithBaseURL(cfg.Provider.BaseURL))
		}
		return extract.NewOpenAIProvider(cfg.Provider.APIKey, opts...), nil
	case "anthropic":
		return extract.NewAnthropicProvider(cfg.Provider.APIKey, cfg.Provider.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
