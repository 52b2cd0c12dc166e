package attempt

import (
	"context"
	"fmt"
	"net/url"

	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// Severity classifies a notice for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is a user-facing message. It never carries a raw service error.
type Notice struct {
	Code       response.ErrCode `json:"code"`
	Message    string           `json:"message"`
	Severity   Severity         `json:"severity"`
	Retryable  bool             `json:"retryable,omitempty"`
	Modal      bool             `json:"modal,omitempty"`
	Violations int              `json:"violations,omitempty"`
}

func newNotice(code response.ErrCode, sev Severity) Notice {
	return Notice{Code: code, Message: response.GetMessage(code), Severity: sev}
}

// Route is a client-side navigation target.
type Route struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// DashboardRoute is the safe default screen.
func DashboardRoute() Route {
	return Route{Name: "dashboard", Path: "/dashboard"}
}

// IntroRoute is the intro screen of an exam.
func IntroRoute(examID string) Route {
	return Route{Name: "exam_intro", Path: fmt.Sprintf("/exams/%s", url.PathEscape(examID))}
}

// TakingRoute is the taking screen of an attempt.
func TakingRoute(examID, attemptID string) Route {
	return Route{
		Name: "exam_taking",
		Path: fmt.Sprintf("/exams/%s/attempts/%s", url.PathEscape(examID), url.PathEscape(attemptID)),
	}
}

// ResultRoute is the external results view of a submitted attempt.
func ResultRoute(examID, attemptID string) Route {
	return Route{
		Name: "exam_result",
		Path: fmt.Sprintf("/exams/%s/attempts/%s/result", url.PathEscape(examID), url.PathEscape(attemptID)),
	}
}

// Notifier surfaces notices and navigations to the learner's screen.
// Implementations must not block for long: they are called under the
// controller lock so that events keep state order.
type Notifier interface {
	Notify(n Notice)
	Navigate(r Route)
}

// IntroPresenter renders an intro screen.
type IntroPresenter interface {
	Notifier
	RenderIntro(s model.IntroState)
}

// SessionPresenter renders a taking screen.
type SessionPresenter interface {
	Notifier
	ShowQuestions(qs []model.Question)
	RenderSession(s model.SessionState)
}

// Journal records what happens during a taking session outside of the
// directory: the violation log, final outcomes and stranded submissions.
type Journal interface {
	ViolationCount(ctx context.Context, attemptID string) (int, error)
	RecordViolation(ctx context.Context, v model.Violation) error
	RecordOutcome(ctx context.Context, o model.Outcome) error
	ParkSubmission(ctx context.Context, p model.PendingSubmission) error
}

// NopJournal discards everything.
type NopJournal struct{}

func (NopJournal) ViolationCount(context.Context, string) (int, error)            { return 0, nil }
func (NopJournal) RecordViolation(context.Context, model.Violation) error         { return nil }
func (NopJournal) RecordOutcome(context.Context, model.Outcome) error             { return nil }
func (NopJournal) ParkSubmission(context.Context, model.PendingSubmission) error { return nil }
