package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/directory"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// Intro errors.
var (
	ErrClosed        = errors.New("screen is closed")
	ErrNotReady      = errors.New("exam is not loaded")
	ErrStartInFlight = errors.New("attempt creation already in flight")
)

// Intro is the controller of the exam intro screen: it shows the exam rules
// and creates an attempt when the learner confirms.
type Intro struct {
	examID string
	dir    directory.Directory
	pres   IntroPresenter
	ctx    context.Context
	log    zerolog.Logger

	mu       sync.Mutex
	exam     *model.ExamSummary
	starting bool
	closed   bool
}

// NewIntro creates the controller for one intro screen. ctx should end when
// the screen goes away so that an in-flight start request is abandoned.
func NewIntro(ctx context.Context, dir directory.Directory, pres IntroPresenter, examID string, log zerolog.Logger) *Intro {
	return &Intro{
		examID: examID,
		dir:    dir,
		pres:   pres,
		ctx:    ctx,
		log:    log.With().Str("component", "attempt_intro").Str("exam_id", examID).Logger(),
	}
}

// Load fetches the exam summary. A failure sends the learner back to the
// dashboard; it is not retried.
func (c *Intro) Load() error {
	exam, err := c.dir.GetExamDetails(c.ctx, c.examID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if err != nil {
		c.log.Warn().Err(err).Msg("Exam load failed")
		c.closed = true
		c.pres.Notify(newNotice(response.ErrExamLoadFailed, SeverityError))
		c.pres.Navigate(DashboardRoute())
		return fmt.Errorf("load exam: %w", err)
	}

	c.exam = exam
	c.renderLocked()
	return nil
}

// ConfirmStart creates a new attempt and hands off to the taking screen.
// Only one request may be in flight; further confirms are rejected until it
// resolves. A failure keeps the learner on the intro screen.
func (c *Intro) ConfirmStart() error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.exam == nil:
		c.mu.Unlock()
		return ErrNotReady
	case c.starting:
		c.mu.Unlock()
		return ErrStartInFlight
	}
	c.starting = true
	c.renderLocked()
	c.mu.Unlock()

	attempt, err := c.dir.StartExam(c.ctx, c.examID, false)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false

	if c.closed {
		// The screen that asked is gone; nobody is left to present the attempt.
		if err == nil {
			c.log.Info().Str("attempt_id", attempt.ID).Msg("Ignoring late attempt creation for closed intro screen")
		}
		return ErrClosed
	}

	if err != nil {
		c.log.Warn().Err(err).Msg("Attempt start failed")
		c.pres.Notify(newNotice(response.ErrAttemptStartFailed, SeverityError))
		c.renderLocked()
		return fmt.Errorf("start attempt: %w", err)
	}

	c.log.Info().Str("attempt_id", attempt.ID).Msg("Attempt created")
	c.closed = true
	c.pres.Navigate(TakingRoute(c.examID, attempt.ID))
	return nil
}

// State returns the current render snapshot.
func (c *Intro) State() model.IntroState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Close tears the screen down. Late responses are ignored afterwards.
func (c *Intro) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Intro) stateLocked() model.IntroState {
	return model.IntroState{
		Exam:           c.exam,
		ConfirmEnabled: c.exam != nil && !c.starting && !c.closed,
	}
}

func (c *Intro) renderLocked() {
	c.pres.RenderIntro(c.stateLocked())
}
