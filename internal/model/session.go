package model

// SessionStatus enumerates the states of a taking session.
type SessionStatus string

const (
	SessionStatusLoading    SessionStatus = "LOADING"
	SessionStatusActive     SessionStatus = "ACTIVE"
	SessionStatusSubmitting SessionStatus = "SUBMITTING"
	SessionStatusTerminated SessionStatus = "TERMINATED"
)

// SessionState is the render snapshot of a taking session.
type SessionState struct {
	AttemptID        string        `json:"attempt_id"`
	ExamID           string        `json:"exam_id"`
	Status           SessionStatus `json:"status"`
	RemainingSeconds int           `json:"remaining_seconds"`
	CurrentIndex     int           `json:"current_index"`
	QuestionCount    int           `json:"question_count"`
	Answers          AnswerMap     `json:"answers"`
	Violated         bool          `json:"violated"`
	ViolationCount   int           `json:"violation_count"`
	WarningDisplayed bool          `json:"warning_displayed"`
	InputEnabled     bool          `json:"input_enabled"`
	AwaitingRetry    bool          `json:"awaiting_retry"`
}

// IntroState is the render snapshot of an intro screen.
type IntroState struct {
	Exam           *ExamSummary `json:"exam,omitempty"`
	ConfirmEnabled bool         `json:"confirm_enabled"`
}
