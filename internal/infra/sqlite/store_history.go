package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"trivia-host/internal/domain"
)

func (s *Store) SaveHistory(ctx context.Context, record domain.HistoryRecord) (string, error) {
	teamsJSON, err := json.Marshal(record.Teams)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO game_history (id, owner_id, quiz_id, session_name, played_on, played_at,
			total_rounds, questions_per_round, total_possible_points, teams_json, created_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, record.OwnerID, record.QuizID, record.SessionName, record.Date, record.Time,
		record.TotalRounds, record.QuestionsPerRound, record.TotalPossiblePoints, string(teamsJSON),
		record.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) AppendTeamArchive(ctx context.Context, ownerID, teamName string, result domain.QuizResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	quizzes, err := loadArchive(ctx, tx, ownerID, teamName)
	if err != nil {
		return err
	}
	quizzes = append(quizzes, result)
	if err := saveArchive(ctx, tx, ownerID, teamName, quizzes); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListHistory(ctx context.Context, ownerID string) ([]domain.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, historySelect+` WHERE owner_id = ? ORDER BY created_at_unix DESC, rowid DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.HistoryRecord, 0)
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) GetHistory(ctx context.Context, ownerID, id string) (domain.HistoryRecord, error) {
	row := s.db.QueryRowContext(ctx, historySelect+` WHERE id = ? AND owner_id = ?`, id, ownerID)
	rec, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HistoryRecord{}, domain.ErrNotFound
	}
	return rec, err
}

// DeleteHistory removes the record and strips its quiz from each team archive.
func (s *Store) DeleteHistory(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rec, err := scanHistory(tx.QueryRowContext(ctx, historySelect+` WHERE id = ? AND owner_id = ?`, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM game_history WHERE id = ?`, id); err != nil {
		return err
	}

	for _, team := range rec.Teams {
		quizzes, err := loadArchive(ctx, tx, ownerID, team.Name)
		if err != nil {
			return err
		}
		kept := make([]domain.QuizResult, 0, len(quizzes))
		for _, q := range quizzes {
			if q.QuizID != rec.QuizID {
				kept = append(kept, q)
			}
		}
		if len(kept) == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM team_archives WHERE owner_id = ? AND team_name = ?`, ownerID, team.Name)
		} else {
			err = saveArchive(ctx, tx, ownerID, team.Name, kept)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListTeamArchives(ctx context.Context, ownerID string) ([]domain.TeamArchive, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT team_name, quizzes_json FROM team_archives WHERE owner_id = ? ORDER BY team_name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	archives := make([]domain.TeamArchive, 0)
	for rows.Next() {
		var (
			name string
			raw  string
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		var quizzes []domain.QuizResult
		if err := json.Unmarshal([]byte(raw), &quizzes); err != nil {
			return nil, err
		}
		if len(quizzes) == 0 {
			continue
		}
		archives = append(archives, domain.TeamArchive{OwnerID: ownerID, TeamName: name, Quizzes: quizzes})
	}
	return archives, rows.Err()
}

const historySelect = `SELECT id, owner_id, quiz_id, session_name, played_on, played_at,
	total_rounds, questions_per_round, total_possible_points, teams_json, created_at_unix FROM game_history`

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(row scanner) (domain.HistoryRecord, error) {
	var (
		rec       domain.HistoryRecord
		teamsJSON string
		created   int64
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.QuizID, &rec.SessionName, &rec.Date, &rec.Time,
		&rec.TotalRounds, &rec.QuestionsPerRound, &rec.TotalPossiblePoints, &teamsJSON, &created)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	if err := json.Unmarshal([]byte(teamsJSON), &rec.Teams); err != nil {
		return domain.HistoryRecord{}, err
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	return rec, nil
}

func loadArchive(ctx context.Context, tx *sql.Tx, ownerID, teamName string) ([]domain.QuizResult, error) {
	var raw string
	err := tx.QueryRowContext(ctx,
		`SELECT quizzes_json FROM team_archives WHERE owner_id = ? AND team_name = ?`, ownerID, teamName).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var quizzes []domain.QuizResult
	if err := json.Unmarshal([]byte(raw), &quizzes); err != nil {
		return nil, err
	}
	return quizzes, nil
}

func saveArchive(ctx context.Context, tx *sql.Tx, ownerID, teamName string, quizzes []domain.QuizResult) error {
	raw, err := json.Marshal(quizzes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO team_archives (owner_id, team_name, quizzes_json) VALUES (?, ?, ?)
		ON CONFLICT (owner_id, team_name) DO UPDATE SET quizzes_json = excluded.quizzes_json`,
		ownerID, teamName, string(raw))
	return err
}
