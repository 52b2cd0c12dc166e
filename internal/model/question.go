package model

// QuestionType enumerates the kinds of question an attempt can contain.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "SINGLE_CHOICE"
	QuestionTypeFreeText     QuestionType = "FREE_TEXT"
	QuestionTypeListening    QuestionType = "LISTENING"
)

// Option is a labeled choice of a single-choice question.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Question represents a single exam question as served to the learner.
type Question struct {
	ID       string       `json:"id"`
	Type     QuestionType `json:"type"`
	Prompt   string       `json:"prompt"`
	MediaURL string       `json:"media_url,omitempty"`
	Options  []Option     `json:"options,omitempty"`
}
