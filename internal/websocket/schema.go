package websocket

import (
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	// Intro screen.
	ActionConfirm Action = "confirm"

	// Taking screen.
	ActionAnswer         Action = "answer"
	ActionGoto           Action = "goto"
	ActionNext           Action = "next"
	ActionPrevious       Action = "previous"
	ActionSubmit         Action = "submit"
	ActionRetrySubmit    Action = "retry_submit"
	ActionVisibility     Action = "visibility"
	ActionDismissWarning Action = "dismiss_warning"

	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest records the answer to one question. An empty answer is kept
// as given.
type AnswerRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id" binding:"required,max=128"`
	Answer string `json:"ans" binding:"max=10000"`
}

// GotoRequest moves the cursor to a question index.
type GotoRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index" binding:"required"`
}

// VisibilityRequest reports a page visibility change.
type VisibilityRequest struct {
	Action Action `json:"action"`
	Hidden *bool  `json:"hidden" binding:"required"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventRender    Event = "render"
	EventQuestions Event = "questions"
	EventNotice    Event = "notice"
	EventNavigate  Event = "navigate"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// IntroRenderResponse carries the intro screen state.
type IntroRenderResponse struct {
	Event Event            `json:"event"`
	Intro model.IntroState `json:"intro"`
}

// SessionRenderResponse carries the taking screen state.
type SessionRenderResponse struct {
	Event   Event              `json:"event"`
	Session model.SessionState `json:"session"`
}

// QuestionsResponse carries the ordered questions of an attempt. It is sent
// once, when the session becomes active.
type QuestionsResponse struct {
	Event     Event            `json:"event"`
	Questions []model.Question `json:"questions"`
}

type NoticeResponse struct {
	Event  Event          `json:"event"`
	Notice attempt.Notice `json:"notice"`
}

type NavigateResponse struct {
	Event Event         `json:"event"`
	Route attempt.Route `json:"route"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   response.ErrCode  `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
