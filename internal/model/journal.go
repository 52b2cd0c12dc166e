package model

import "time"

// EndReason records what ended a taking session.
type EndReason string

const (
	EndReasonManual    EndReason = "MANUAL"
	EndReasonTimeout   EndReason = "TIMEOUT"
	EndReasonEscalated EndReason = "ESCALATED"
	EndReasonRecovered EndReason = "RECOVERED"
)

// Violation is one loss of foreground focus during an active attempt.
type Violation struct {
	AttemptID  string    `json:"attempt_id"`
	ExamID     string    `json:"exam_id"`
	LearnerID  int       `json:"learner_id"`
	Sequence   int       `json:"sequence"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Outcome is the final record of a submitted attempt.
type Outcome struct {
	AttemptID      string    `json:"attempt_id"`
	ExamID         string    `json:"exam_id"`
	LearnerID      int       `json:"learner_id"`
	Reason         EndReason `json:"reason"`
	ViolationCount int       `json:"violation_count"`
	ResultID       string    `json:"result_id"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// PendingSubmission is an answer snapshot whose submission did not succeed
// before its screen was closed.
type PendingSubmission struct {
	AttemptID      string    `json:"attempt_id"`
	ExamID         string    `json:"exam_id"`
	LearnerID      int       `json:"learner_id"`
	Answers        AnswerMap `json:"answers"`
	Reason         EndReason `json:"reason"`
	ViolationCount int       `json:"violation_count"`
	ParkedAt       time.Time `json:"parked_at"`
}

// ViolationListQuery is the query for listing an attempt's violations.
type ViolationListQuery struct {
	Page    int `json:"page" form:"page" binding:"omitempty,min=1"`
	PerPage int `json:"per_page" form:"per_page" binding:"omitempty,min=1,max=100"`
}

// MonitorEventType names a live proctoring event.
type MonitorEventType string

const (
	MonitorEventViolation MonitorEventType = "violation"
	MonitorEventOutcome   MonitorEventType = "outcome"
	MonitorEventParked    MonitorEventType = "parked"
)

// MonitorEvent is published to an exam's monitor channel.
type MonitorEvent struct {
	Type           MonitorEventType `json:"type"`
	AttemptID      string           `json:"attempt_id"`
	LearnerID      int              `json:"learner_id"`
	ViolationCount int              `json:"violation_count"`
	Reason         EndReason        `json:"reason,omitempty"`
	At             time.Time        `json:"at"`
}

// ExamProgress is the proctor's snapshot of an exam.
type ExamProgress struct {
	ExamID          string         `json:"exam_id"`
	ViolationCounts map[string]int `json:"violation_counts"`
	Submitted       []Outcome      `json:"submitted"`
	TotalViolations int            `json:"total_violations"`
}
