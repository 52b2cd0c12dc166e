package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/directory"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/validator"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

type examURI struct {
	ExamID string `uri:"exam_id" json:"exam_id" binding:"required,max=64,resource_id"`
}

type attemptURI struct {
	ExamID    string `uri:"exam_id" json:"exam_id" binding:"required,max=64,resource_id"`
	AttemptID string `uri:"attempt_id" json:"attempt_id" binding:"required,max=64,resource_id"`
}

// ScreenStats counts the screens currently open on this instance.
type ScreenStats struct {
	Intro atomic.Int64
	Take  atomic.Int64
}

// WSHandler serves the learner's intro and taking screens over WebSocket.
// Each connection is one screen with its own controller.
type WSHandler struct {
	dir      directory.Directory
	journal  attempt.Journal
	cfg      *config.Config
	log      zerolog.Logger
	upgrader websocket.Upgrader
	stats    *ScreenStats
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(dir directory.Directory, journal attempt.Journal, stats *ScreenStats, cfg *config.Config, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		dir:      dir,
		journal:  journal,
		cfg:      cfg,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(cfg.AllowedOrigins),
		stats:    stats,
	}
}

// IntroStream godoc
// WS /ws/v1/exams/:exam_id/intro
// Shows the exam rules and creates an attempt on "confirm".
func (h *WSHandler) IntroStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var uri examURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(ws.MaxMessageSize)
	h.stats.Intro.Add(1)
	defer h.stats.Intro.Add(-1)

	wsLog := h.log.With().
		Int("learner_id", claims.UserID).
		Str("exam_id", uri.ExamID).
		Str("screen", "intro").
		Logger()

	// An in-flight start request is abandoned when the screen goes away.
	ctx, cancel := context.WithCancel(screenContext(c))
	defer cancel()

	pres := newWSPresenter(conn, wsLog)
	defer pres.Close()

	intro := attempt.NewIntro(ctx, h.dir, pres, uri.ExamID, wsLog)
	defer intro.Close()

	wsLog.Info().Msg("Learner connected")

	if err := intro.Load(); err != nil {
		return
	}

	for {
		raw, err := ws.ReadMessage(conn)
		if err != nil {
			logReadError(wsLog, err)
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			pres.Error(ws.NewError(response.ErrInvalidPayload, nil))
			continue
		}

		switch env.Action {
		case ws.ActionConfirm:
			go func() {
				err := intro.ConfirmStart()
				switch {
				case err == nil:
					// Hand-off done; the client opens the taking screen next.
					pres.Close()
					conn.Close()
				case errors.Is(err, attempt.ErrStartInFlight), errors.Is(err, attempt.ErrNotReady):
					wsLog.Debug().Err(err).Msg("Confirm ignored")
				}
			}()
		case ws.ActionPing:
			pres.Pong()
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			pres.Error(ws.NewError(response.ErrUnknownAction, nil))
		}
	}
}

// TakeStream godoc
// WS /ws/v1/exams/:exam_id/attempts/:attempt_id/take
// Runs the taking session of one attempt: countdown, navigation, answers,
// visibility proctoring and submission.
func (h *WSHandler) TakeStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var uri attemptURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(ws.MaxMessageSize)
	h.stats.Take.Add(1)
	defer h.stats.Take.Add(-1)

	wsLog := h.log.With().
		Int("learner_id", claims.UserID).
		Str("exam_id", uri.ExamID).
		Str("attempt_id", uri.AttemptID).
		Str("screen", "take").
		Logger()

	pres := newWSPresenter(conn, wsLog)
	defer pres.Close()

	// Not tied to the request: a submission in flight must be able to finish
	// after the learner disconnects.
	ctx := screenContext(c)

	sess := attempt.NewSession(ctx, h.dir, pres, uri.ExamID, uri.AttemptID, claims.UserID, attempt.Options{
		SubmitAttempts:  h.cfg.SubmitAttempts,
		RetryDelay:      h.cfg.SubmitRetryDelay,
		EscalationLimit: h.cfg.ViolationEscalationLimit,
		Journal:         h.journal,
		Log:             wsLog,
	})
	defer sess.Close()

	wsLog.Info().Msg("Learner connected")

	if err := sess.Load(); err != nil {
		return
	}

	for {
		raw, err := ws.ReadMessage(conn)
		if err != nil {
			logReadError(wsLog, err)
			return
		}
		h.dispatch(sess, pres, wsLog, raw)
	}
}

// dispatch routes one taking-screen action to the session.
func (h *WSHandler) dispatch(sess *attempt.Session, pres *wsPresenter, log zerolog.Logger, raw []byte) {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		pres.Error(ws.NewError(response.ErrInvalidPayload, nil))
		return
	}

	var err error
	switch env.Action {
	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if !decodeAction(raw, &req, pres) {
			return
		}
		err = sess.SetAnswer(req.QID, req.Answer)
		if errors.Is(err, attempt.ErrUnknownQuestion) {
			pres.Error(ws.NewError(response.ErrValidation, map[string]string{"q_id": "q_id is not a question of this attempt"}))
			return
		}

	case ws.ActionGoto:
		var req ws.GotoRequest
		if !decodeAction(raw, &req, pres) {
			return
		}
		err = sess.GoToQuestion(*req.Index)

	case ws.ActionNext:
		err = sess.Next()

	case ws.ActionPrevious:
		err = sess.Previous()

	case ws.ActionSubmit:
		// Delivery may take a retry round; keep reading meanwhile.
		go func() {
			if err := sess.Submit(); err != nil {
				log.Debug().Err(err).Msg("Submit ended without success")
			}
		}()

	case ws.ActionRetrySubmit:
		go func() {
			if err := sess.RetrySubmit(); err != nil {
				log.Debug().Err(err).Msg("Retry ended without success")
			}
		}()

	case ws.ActionVisibility:
		var req ws.VisibilityRequest
		if !decodeAction(raw, &req, pres) {
			return
		}
		sess.VisibilityChanged(*req.Hidden)

	case ws.ActionDismissWarning:
		sess.DismissWarning()

	case ws.ActionPing:
		pres.Pong()

	default:
		log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		pres.Error(ws.NewError(response.ErrUnknownAction, nil))
		return
	}

	if err != nil {
		// Input outside ACTIVE is dropped; the last render already shows it disabled.
		log.Debug().Err(err).Str("action", string(env.Action)).Msg("Action rejected")
	}
}

// decodeAction parses and validates an action payload, reporting problems to
// the client.
func decodeAction(raw []byte, dst interface{}, pres *wsPresenter) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		pres.Error(ws.NewError(response.ErrInvalidPayload, nil))
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		pres.Error(ws.NewError(response.ErrValidation, fields))
		return false
	}
	return true
}

// screenContext detaches from the upgrade request but keeps the learner's
// token and the request ID for directory calls.
func screenContext(c *gin.Context) context.Context {
	ctx := response.WithRequestID(context.Background(), response.RequestIDFrom(c.Request.Context()))
	return directory.WithToken(ctx, c.Query("token"))
}

func logReadError(log zerolog.Logger, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		log.Warn().Err(err).Msg("Unexpected close")
		return
	}
	log.Debug().Msg("Connection closed")
}
