package model

import "time"

// Attempt is one learner's timed instance of an exam.
type Attempt struct {
	ID        string    `json:"id"`
	ExamID    string    `json:"exam_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AttemptDetails is what the directory returns when a taking screen loads.
// Answers holds previously saved answers so a reload can resume.
type AttemptDetails struct {
	Attempt          Attempt    `json:"attempt"`
	Questions        []Question `json:"questions"`
	Answers          AnswerMap  `json:"answers,omitempty"`
	RemainingSeconds *int       `json:"remaining_seconds,omitempty"`
}

// SubmitResult references the graded result of a submitted attempt.
type SubmitResult struct {
	ResultID string `json:"result_id"`
}

// AnswerMap maps question ID to the learner's current answer. Choice questions
// store the option ID, everything else stores free text. Unanswered questions
// have no entry.
type AnswerMap map[string]string

// Clone returns an independent copy of the map.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
