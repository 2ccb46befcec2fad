package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"trivia-host/internal/domain"
)

// QuestionStore keeps authored questions in Postgres, scoped by owner.
type QuestionStore struct {
	pool *pgxpool.Pool
}

func NewQuestionStore(pool *pgxpool.Pool) *QuestionStore {
	return &QuestionStore{pool: pool}
}

func (s *QuestionStore) List(ctx context.Context, ownerID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, prompt, answer FROM questions WHERE owner_id=$1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	questions := make([]domain.Question, 0)
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.Prompt, &q.Answer); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *QuestionStore) Create(ctx context.Context, ownerID, prompt, answer string) (domain.Question, error) {
	q := domain.Question{ID: uuid.NewString(), Prompt: prompt, Answer: answer}
	_, err := s.pool.Exec(ctx, `INSERT INTO questions (id, owner_id, prompt, answer) VALUES ($1, $2, $3, $4)`, q.ID, ownerID, prompt, answer)
	if err != nil {
		return domain.Question{}, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

func (s *QuestionStore) Update(ctx context.Context, ownerID, id, prompt, answer string) (domain.Question, error) {
	var q domain.Question
	err := s.pool.QueryRow(ctx,
		`UPDATE questions SET prompt=$3, answer=$4, updated_at=now() WHERE id=$1 AND owner_id=$2 RETURNING id, prompt, answer`,
		id, ownerID, prompt, answer,
	).Scan(&q.ID, &q.Prompt, &q.Answer)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("update question: %w", err)
	}
	return q, nil
}

func (s *QuestionStore) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM questions WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
