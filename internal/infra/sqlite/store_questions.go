package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"trivia-host/internal/domain"
)

func (s *Store) List(ctx context.Context, ownerID string) ([]domain.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt, answer FROM questions WHERE owner_id = ? ORDER BY created_at_unix, rowid`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := make([]domain.Question, 0)
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.Prompt, &q.Answer); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *Store) Create(ctx context.Context, ownerID, prompt, answer string) (domain.Question, error) {
	q := domain.Question{ID: uuid.NewString(), Prompt: prompt, Answer: answer}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (id, owner_id, prompt, answer, created_at_unix) VALUES (?, ?, ?, ?, ?)`,
		q.ID, ownerID, prompt, answer, time.Now().UTC().Unix())
	if err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

func (s *Store) Update(ctx context.Context, ownerID, id, prompt, answer string) (domain.Question, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET prompt = ?, answer = ? WHERE id = ? AND owner_id = ?`, prompt, answer, id, ownerID)
	if err != nil {
		return domain.Question{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.Question{}, err
	} else if n == 0 {
		return domain.Question{}, domain.ErrNotFound
	}
	return domain.Question{ID: id, Prompt: prompt, Answer: answer}, nil
}

func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
