package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// OutcomeRepository reads persisted attempt outcomes.
type OutcomeRepository struct {
	pool *pgxpool.Pool
}

// NewOutcomeRepository creates a new OutcomeRepository.
func NewOutcomeRepository(pool *pgxpool.Pool) *OutcomeRepository {
	return &OutcomeRepository{pool: pool}
}

// GetByAttempt returns the outcome of an attempt. It returns pgx.ErrNoRows
// when the attempt has not been submitted yet.
func (r *OutcomeRepository) GetByAttempt(ctx context.Context, attemptID string) (*model.Outcome, error) {
	o := &model.Outcome{}
	err := r.pool.QueryRow(ctx,
		`SELECT attempt_id, exam_id, learner_id, reason, violation_count, result_id, submitted_at
		 FROM attempt_outcomes
		 WHERE attempt_id = $1`, attemptID,
	).Scan(&o.AttemptID, &o.ExamID, &o.LearnerID, &o.Reason, &o.ViolationCount, &o.ResultID, &o.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListByExam returns every outcome recorded for an exam, newest first.
func (r *OutcomeRepository) ListByExam(ctx context.Context, examID string) ([]model.Outcome, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, exam_id, learner_id, reason, violation_count, result_id, submitted_at
		 FROM attempt_outcomes
		 WHERE exam_id = $1
		 ORDER BY submitted_at DESC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var o model.Outcome
		if err := rows.Scan(&o.AttemptID, &o.ExamID, &o.LearnerID, &o.Reason, &o.ViolationCount, &o.ResultID, &o.SubmittedAt); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
