package sqlite

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store keeps questions, game history and team archives in one SQLite file.
// It serves a single host device, so one connection is enough.
type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		path = "trivia.db"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{db: db}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS game_history (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			quiz_id TEXT NOT NULL,
			session_name TEXT NOT NULL,
			played_on TEXT NOT NULL,
			played_at TEXT NOT NULL,
			total_rounds INTEGER NOT NULL,
			questions_per_round INTEGER NOT NULL,
			total_possible_points INTEGER NOT NULL,
			teams_json TEXT NOT NULL,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS team_archives (
			owner_id TEXT NOT NULL,
			team_name TEXT NOT NULL,
			quizzes_json TEXT NOT NULL,
			PRIMARY KEY (owner_id, team_name)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_questions_owner ON questions(owner_id, created_at_unix);`,
		`CREATE INDEX IF NOT EXISTS idx_history_owner ON game_history(owner_id, created_at_unix DESC);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
