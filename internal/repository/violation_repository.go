package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ViolationRepository reads the persisted violation log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// ListByAttempt returns one page of an attempt's violations in occurrence order.
func (r *ViolationRepository) ListByAttempt(ctx context.Context, attemptID string, page, perPage int) ([]model.Violation, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempt_violations WHERE attempt_id = $1`, attemptID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, exam_id, learner_id, sequence, occurred_at
		 FROM attempt_violations
		 WHERE attempt_id = $1
		 ORDER BY occurred_at ASC, sequence ASC
		 LIMIT $2 OFFSET $3`,
		attemptID, perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	violations := make([]model.Violation, 0, perPage)
	for rows.Next() {
		var v model.Violation
		if err := rows.Scan(&v.AttemptID, &v.ExamID, &v.LearnerID, &v.Sequence, &v.OccurredAt); err != nil {
			return nil, 0, err
		}
		violations = append(violations, v)
	}
	return violations, total, rows.Err()
}

// CountsByExam returns the number of violations per attempt of an exam.
func (r *ViolationRepository) CountsByExam(ctx context.Context, examID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, COUNT(*)
		 FROM attempt_violations
		 WHERE exam_id = $1
		 GROUP BY attempt_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var attemptID string
		var n int
		if err := rows.Scan(&attemptID, &n); err != nil {
			return nil, err
		}
		counts[attemptID] = n
	}
	return counts, rows.Err()
}
