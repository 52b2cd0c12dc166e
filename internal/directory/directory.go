// Package directory is the client side of the Exam Directory Service, the
// external REST service that owns exams, attempts and grading.
package directory

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Failure classes reported by the directory. Callers match them with errors.Is.
var (
	ErrNotFound         = errors.New("directory: not found")
	ErrUnauthorized     = errors.New("directory: unauthorized")
	ErrAlreadySubmitted = errors.New("directory: attempt already submitted")
	ErrUnavailable      = errors.New("directory: service unavailable")
)

// Directory is the contract the attempt controllers are built against.
type Directory interface {
	GetExamDetails(ctx context.Context, examID string) (*model.ExamSummary, error)
	StartExam(ctx context.Context, examID string, isGuest bool) (*model.Attempt, error)
	GetAttemptDetails(ctx context.Context, attemptID string) (*model.AttemptDetails, error)
	SubmitAnswer(ctx context.Context, attemptID, questionID, value string) error
	SubmitExam(ctx context.Context, attemptID string, answers model.AnswerMap) (*model.SubmitResult, error)
}

type tokenKey struct{}

// WithToken attaches the learner's bearer token to ctx. Requests made with
// that ctx act on the learner's behalf.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the bearer token attached by WithToken.
func TokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}
