package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"trivia-host/internal/app"
	"trivia-host/internal/config"
	"trivia-host/internal/infra/memory"
	rediscache "trivia-host/internal/infra/redis"
	transport "trivia-host/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia host server",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, cache reads will fall back to storage", "addr", cfg.Redis.Addr, "error", err)
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)

	var questions app.QuestionRepository
	var sessions app.SessionRepository
	if redisClient != nil {
		questions = rediscache.NewQuestionCache(redisClient, store.questions, questionTTL)
		sessions = rediscache.NewSessionStore(redisClient, redisTTL)
	} else {
		questions = memory.NewQuestionCache(store.questions, questionTTL)
		sessions = memory.NewSessionStore()
	}

	service := app.NewHostService(sessions, questions, store.questions, store.results,
		app.WithRetryDelay(config.TTLDuration(cfg.Session.PersistRetryDelay, time.Second)),
		app.WithDefaultSeconds(cfg.Session.DefaultSeconds),
	)
	handler := transport.NewHandler(service, cfg.Observer.BaseURL)

	// No write timeout: websocket connections stay open for a whole session.
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		slog.Info("starting trivia host", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		slog.Info("shutting down server")
	case <-ctx.Done():
		slog.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := service.WaitPersisted(shutdownCtx); err != nil {
		slog.Warn("shutdown before all results were saved", "error", err)
	}
	return nil
}
