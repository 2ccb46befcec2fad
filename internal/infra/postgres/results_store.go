package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"trivia-host/internal/domain"
)

type historyModel struct {
	bun.BaseModel `bun:"table:game_history,alias:h"`

	ID                  string              `bun:"id,pk"`
	OwnerID             string              `bun:"owner_id,notnull"`
	QuizID              string              `bun:"quiz_id,notnull"`
	SessionName         string              `bun:"session_name,notnull"`
	PlayedOn            string              `bun:"played_on,notnull"`
	PlayedAt            string              `bun:"played_at,notnull"`
	TotalRounds         int                 `bun:"total_rounds,notnull"`
	QuestionsPerRound   int                 `bun:"questions_per_round,notnull"`
	TotalPossiblePoints int                 `bun:"total_possible_points,notnull"`
	Teams               []domain.TeamResult `bun:"teams,type:jsonb"`
	CreatedAt           time.Time           `bun:"created_at,notnull"`
}

type teamArchiveModel struct {
	bun.BaseModel `bun:"table:team_archives,alias:ta"`

	OwnerID   string              `bun:"owner_id,pk"`
	TeamName  string              `bun:"team_name,pk"`
	Quizzes   []domain.QuizResult `bun:"quizzes,type:jsonb"`
	UpdatedAt time.Time           `bun:"updated_at,notnull"`
}

// ResultsStore persists game history and team archives through bun.
type ResultsStore struct {
	db *bun.DB
}

func NewResultsStore(db *bun.DB) *ResultsStore {
	return &ResultsStore{db: db}
}

func (s *ResultsStore) SaveHistory(ctx context.Context, record domain.HistoryRecord) (string, error) {
	m := toHistoryModel(record)
	m.ID = uuid.NewString()
	if _, err := s.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return "", fmt.Errorf("save history: %w", err)
	}
	return m.ID, nil
}

// AppendTeamArchive upserts the (owner, team) archive, appending result in one statement.
func (s *ResultsStore) AppendTeamArchive(ctx context.Context, ownerID, teamName string, result domain.QuizResult) error {
	m := teamArchiveModel{
		OwnerID:   ownerID,
		TeamName:  teamName,
		Quizzes:   []domain.QuizResult{result},
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(&m).
		On("CONFLICT (owner_id, team_name) DO UPDATE").
		Set("quizzes = ta.quizzes || EXCLUDED.quizzes").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("append team archive: %w", err)
	}
	return nil
}

func (s *ResultsStore) ListHistory(ctx context.Context, ownerID string) ([]domain.HistoryRecord, error) {
	var models []historyModel
	err := s.db.NewSelect().
		Model(&models).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]domain.HistoryRecord, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *ResultsStore) GetHistory(ctx context.Context, ownerID, id string) (domain.HistoryRecord, error) {
	m, err := s.getHistory(ctx, s.db, ownerID, id)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	return m.toDomain(), nil
}

// DeleteHistory removes the record and strips its quiz from each team archive,
// dropping archives that end up empty.
func (s *ResultsStore) DeleteHistory(ctx context.Context, ownerID, id string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m, err := s.getHistory(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*historyModel)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("delete history: %w", err)
		}

		for _, team := range m.Teams {
			var archive teamArchiveModel
			err := tx.NewSelect().
				Model(&archive).
				Where("owner_id = ? AND team_name = ?", ownerID, team.Name).
				For("UPDATE").
				Scan(ctx)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("load team archive: %w", err)
			}

			kept := make([]domain.QuizResult, 0, len(archive.Quizzes))
			for _, q := range archive.Quizzes {
				if q.QuizID != m.QuizID {
					kept = append(kept, q)
				}
			}
			if len(kept) == 0 {
				_, err = tx.NewDelete().Model(&archive).WherePK().Exec(ctx)
			} else {
				archive.Quizzes = kept
				archive.UpdatedAt = time.Now().UTC()
				_, err = tx.NewUpdate().Model(&archive).Column("quizzes", "updated_at").WherePK().Exec(ctx)
			}
			if err != nil {
				return fmt.Errorf("update team archive: %w", err)
			}
		}
		return nil
	})
}

func (s *ResultsStore) ListTeamArchives(ctx context.Context, ownerID string) ([]domain.TeamArchive, error) {
	var models []teamArchiveModel
	err := s.db.NewSelect().
		Model(&models).
		Where("owner_id = ?", ownerID).
		Where("jsonb_array_length(quizzes) > 0").
		Order("team_name").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list team archives: %w", err)
	}
	out := make([]domain.TeamArchive, 0, len(models))
	for _, m := range models {
		out = append(out, domain.TeamArchive{OwnerID: m.OwnerID, TeamName: m.TeamName, Quizzes: m.Quizzes})
	}
	return out, nil
}

func (s *ResultsStore) getHistory(ctx context.Context, db bun.IDB, ownerID, id string) (historyModel, error) {
	var m historyModel
	err := db.NewSelect().
		Model(&m).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return historyModel{}, domain.ErrNotFound
	}
	if err != nil {
		return historyModel{}, fmt.Errorf("load history: %w", err)
	}
	return m, nil
}

func toHistoryModel(r domain.HistoryRecord) historyModel {
	return historyModel{
		ID:                  r.ID,
		OwnerID:             r.OwnerID,
		QuizID:              r.QuizID,
		SessionName:         r.SessionName,
		PlayedOn:            r.Date,
		PlayedAt:            r.Time,
		TotalRounds:         r.TotalRounds,
		QuestionsPerRound:   r.QuestionsPerRound,
		TotalPossiblePoints: r.TotalPossiblePoints,
		Teams:               r.Teams,
		CreatedAt:           r.CreatedAt,
	}
}

func (m historyModel) toDomain() domain.HistoryRecord {
	return domain.HistoryRecord{
		ID:                  m.ID,
		OwnerID:             m.OwnerID,
		QuizID:              m.QuizID,
		SessionName:         m.SessionName,
		Date:                m.PlayedOn,
		Time:                m.PlayedAt,
		TotalRounds:         m.TotalRounds,
		QuestionsPerRound:   m.QuestionsPerRound,
		TotalPossiblePoints: m.TotalPossiblePoints,
		Teams:               m.Teams,
		CreatedAt:           m.CreatedAt,
	}
}
