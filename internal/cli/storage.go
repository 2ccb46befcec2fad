package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v4/pgxpool"
	"trivia-host/internal/app"
	"trivia-host/internal/config"
	"trivia-host/internal/infra/memory"
	"trivia-host/internal/infra/postgres"
	"trivia-host/internal/infra/sqlite"
)

// storage is the authoritative question store and results sink picked from
// config: Postgres first, then SQLite, then process memory.
type storage struct {
	questions app.QuestionStore
	results   app.ResultsSink
	closers   []func()
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, cfg config.Config) (*storage, error) {
	switch {
	case cfg.Postgres.URL != "":
		db := openBunDB(cfg.Postgres.URL)
		if err := migrateDB(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		slog.Info("storage ready", "backend", "postgres")
		return &storage{
			questions: postgres.NewQuestionStore(pool),
			results:   postgres.NewResultsStore(db),
			closers:   []func(){func() { _ = db.Close() }, pool.Close},
		}, nil
	case cfg.SQLite.Path != "":
		store, err := sqlite.NewStore(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		slog.Info("storage ready", "backend", "sqlite", "path", cfg.SQLite.Path)
		return &storage{
			questions: store,
			results:   store,
			closers:   []func(){func() { _ = store.Close() }},
		}, nil
	}
	slog.Warn("no database configured, questions and history live in memory only")
	return &storage{
		questions: memory.NewQuestionStore(),
		results:   memory.NewResultsStore(),
	}, nil
}
