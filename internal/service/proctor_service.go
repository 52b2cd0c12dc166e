package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"golang.org/x/sync/errgroup"
)

// ErrOutcomeNotFound is returned when an attempt has no recorded outcome yet.
var ErrOutcomeNotFound = errors.New("outcome not found")

// ProctorService serves the proctor's view of violation logs and outcomes.
type ProctorService struct {
	violationRepo *repository.ViolationRepository
	outcomeRepo   *repository.OutcomeRepository
}

// NewProctorService creates a new ProctorService.
func NewProctorService(violationRepo *repository.ViolationRepository, outcomeRepo *repository.OutcomeRepository) *ProctorService {
	return &ProctorService{violationRepo: violationRepo, outcomeRepo: outcomeRepo}
}

// ListViolations returns one page of an attempt's violation log.
func (s *ProctorService) ListViolations(ctx context.Context, attemptID string, q model.ViolationListQuery) ([]model.Violation, int64, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = 20
	}
	return s.violationRepo.ListByAttempt(ctx, attemptID, q.Page, q.PerPage)
}

// GetOutcome returns the final record of a submitted attempt.
func (s *ProctorService) GetOutcome(ctx context.Context, attemptID string) (*model.Outcome, error) {
	o, err := s.outcomeRepo.GetByAttempt(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOutcomeNotFound
	}
	return o, err
}

// GetExamProgress gathers violation counts and outcomes of an exam
// concurrently. Outcomes are required; violation counts are best-effort.
func (s *ProctorService) GetExamProgress(ctx context.Context, examID string) (*model.ExamProgress, error) {
	progress := &model.ExamProgress{
		ExamID:          examID,
		ViolationCounts: make(map[string]int),
		Submitted:       []model.Outcome{},
	}

	var (
		counts   map[string]int
		countErr error
		outcomes []model.Outcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		outcomes, err = s.outcomeRepo.ListByExam(gctx, examID)
		return err
	})
	g.Go(func() error {
		counts, countErr = s.violationRepo.CountsByExam(gctx, examID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if outcomes != nil {
		progress.Submitted = outcomes
	}
	if countErr == nil && counts != nil {
		progress.ViolationCounts = counts
		for _, n := range counts {
			progress.TotalViolations += n
		}
	}
	return progress, nil
}
