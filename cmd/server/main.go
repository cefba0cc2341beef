package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardoC/langchain-chat/internal/api"
	"github.com/RichardoC/langchain-chat/internal/config"
	"github.com/RichardoC/langchain-chat/internal/db"
	"github.com/RichardoC/langchain-chat/internal/llm"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var staticDir string

	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Relay chat questions to an LLM and stream the answers over SSE",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), config.Load(v), staticDir)
		},
	}

	cmd.Flags().String("port", "", "port to listen on (PORT)")
	cmd.Flags().String("model", "", "OpenAI model name (OPENAI_MODEL)")
	cmd.Flags().Int("max-tokens", 0, "token ceiling per completion (RELAY_MAX_TOKENS)")
	cmd.Flags().String("chat-log-db", "", "sqlite path of the exchange log (CHAT_LOG_DB)")
	cmd.Flags().StringVar(&staticDir, "static-dir", "web", "directory served at /, empty to disable")

	_ = v.BindPFlag("PORT", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("OPENAI_MODEL", cmd.Flags().Lookup("model"))
	_ = v.BindPFlag("RELAY_MAX_TOKENS", cmd.Flags().Lookup("max-tokens"))
	_ = v.BindPFlag("CHAT_LOG_DB", cmd.Flags().Lookup("chat-log-db"))

	return cmd
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, staticDir string) (err error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	defer logger.Sync()

	// OPENAI_STREAM_MODE is reported but has no effect: the relay always streams.
	logger.Info("using model",
		zap.String("model", cfg.OpenAIModel),
		zap.Bool("stream_mode", cfg.OpenAIStreamMode),
		zap.Int("max_tokens", cfg.MaxTokens),
		zap.Duration("timeout", cfg.Timeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("max_concurrency", cfg.MaxConcurrency))

	llmService, err := llm.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, llm.Options{
		Model:          cfg.OpenAIModel,
		Temperature:    cfg.OpenAITemperature,
		MaxConcurrency: cfg.MaxConcurrency,
		MaxTokens:      cfg.MaxTokens,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize LLM service", zap.Error(err))
		return err
	}

	opts := []api.Option{api.WithHeartbeatInterval(cfg.HeartbeatInterval)}

	var database *db.Database
	if cfg.ChatLogDB != "" {
		database, err = db.New(cfg.ChatLogDB)
		if err != nil {
			logger.Error("failed to initialize exchange log",
				zap.Error(err),
				zap.String("dbPath", cfg.ChatLogDB))
			return err
		}
		opts = append(opts, api.WithExchangeLog(database))
		logger.Info("exchange log enabled", zap.String("dbPath", cfg.ChatLogDB))
	}

	handler := api.NewHandler(llmService, logger, opts...)
	if staticDir != "" {
		if _, statErr := os.Stat(staticDir); statErr != nil {
			logger.Warn("static directory not found, serving API only", zap.String("dir", staticDir))
			staticDir = ""
		}
	}

	// Canceling baseCtx on shutdown ends open event streams.
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
		Handler:     api.NewRouter(handler, logger, staticDir),
		ReadTimeout: 15 * time.Second,
		// Event streams stay open for as long as the client wants.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("failed to start server", zap.Error(err))
			if database != nil {
				err = multierr.Append(err, database.Close())
			}
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	cancelStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	if database != nil {
		err = multierr.Append(err, database.Close())
	}
	if err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
