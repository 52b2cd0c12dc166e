package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/directory"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// Session errors.
var (
	ErrNotActive        = errors.New("session is not accepting input")
	ErrUnknownQuestion  = errors.New("question is not part of this attempt")
	ErrNotAwaitingRetry = errors.New("no failed submission to retry")
	ErrSubmitFailed     = errors.New("submission failed")
)

// Options tune a taking session.
type Options struct {
	// SubmitAttempts is the number of submitExam calls per round, including
	// automatic retries. Values below 2 are raised to 2.
	SubmitAttempts  int
	RetryDelay      time.Duration
	EscalationLimit int
	Clock           Clock
	Journal         Journal
	Log             zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.SubmitAttempts < 2 {
		o.SubmitAttempts = 2
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Journal == nil {
		o.Journal = NopJournal{}
	}
	return o
}

// Session is the controller of a taking screen. It owns the countdown, the
// question cursor, the answer map and the violation state of one attempt.
type Session struct {
	examID    string
	attemptID string
	learnerID int
	dir       directory.Directory
	pres      SessionPresenter
	opts      Options
	ctx       context.Context
	log       zerolog.Logger

	mu        sync.Mutex
	status    model.SessionStatus
	questions []model.Question
	known     map[string]struct{}
	answers   model.AnswerMap
	current   int
	remaining int
	proctor   proctor
	timer     *countdown
	closed    bool

	// submitInitiated is the one-way latch shared by every submission trigger.
	submitInitiated bool
	snapshot        model.AnswerMap
	reason          model.EndReason
	inFlight        bool
	awaitingRetry   bool
	parked          bool
}

// NewSession creates the controller for one taking screen. ctx carries the
// learner's credentials for directory calls and must outlive the screen so a
// submission in flight can finish after a disconnect.
func NewSession(ctx context.Context, dir directory.Directory, pres SessionPresenter, examID, attemptID string, learnerID int, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		examID:    examID,
		attemptID: attemptID,
		learnerID: learnerID,
		dir:       dir,
		pres:      pres,
		opts:      opts,
		ctx:       ctx,
		log: opts.Log.With().
			Str("component", "attempt_session").
			Str("exam_id", examID).
			Str("attempt_id", attemptID).
			Logger(),
		status:  model.SessionStatusLoading,
		answers: model.AnswerMap{},
	}
}

// Load fetches the exam and the attempt, then enters ACTIVE. Any failure is
// fatal to the screen: the learner is sent back to the dashboard.
func (s *Session) Load() error {
	s.mu.Lock()
	if s.status != model.SessionStatusLoading || s.closed {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.mu.Unlock()

	exam, err := s.dir.GetExamDetails(s.ctx, s.examID)
	if err != nil {
		return s.failLoad(response.ErrAttemptLoadFailed, fmt.Errorf("get exam: %w", err))
	}
	details, err := s.dir.GetAttemptDetails(s.ctx, s.attemptID)
	if err != nil {
		return s.failLoad(response.ErrAttemptLoadFailed, fmt.Errorf("get attempt: %w", err))
	}
	if len(details.Questions) == 0 {
		return s.failLoad(response.ErrNoQuestions, errors.New("attempt has no questions"))
	}

	priorViolations, err := s.opts.Journal.ViolationCount(s.ctx, s.attemptID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not read prior violation count")
		priorViolations = 0
	}

	remaining := s.remainingFor(exam, details)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	s.questions = details.Questions
	s.known = make(map[string]struct{}, len(details.Questions))
	for _, q := range details.Questions {
		s.known[q.ID] = struct{}{}
	}
	for qID, ans := range details.Answers {
		if _, ok := s.known[qID]; ok {
			s.answers[qID] = ans
		}
	}
	s.remaining = remaining
	if priorViolations > 0 {
		s.proctor.count = priorViolations
		s.proctor.violated = true
	}

	s.status = model.SessionStatusActive
	s.timer = startCountdown(s.opts.Clock, s.Tick)
	s.proctor.start()
	s.pres.ShowQuestions(s.questions)
	s.log.Info().
		Int("questions", len(s.questions)).
		Int("remaining_seconds", remaining).
		Int("resumed_answers", len(s.answers)).
		Msg("Session active")

	started := false
	switch {
	case s.remaining == 0:
		started = s.beginSubmitLocked(model.EndReasonTimeout)
	case s.escalatedLocked():
		n := newNotice(response.ErrViolationEscalated, SeverityWarning)
		n.Violations = s.proctor.count
		s.pres.Notify(n)
		started = s.beginSubmitLocked(model.EndReasonEscalated)
	default:
		s.renderLocked()
	}
	s.mu.Unlock()

	if started {
		_ = s.deliver()
	}
	return nil
}

func (s *Session) remainingFor(exam *model.ExamSummary, details *model.AttemptDetails) int {
	total := exam.DurationMinutes * 60
	if details.RemainingSeconds != nil {
		return clamp(*details.RemainingSeconds, 0, total)
	}
	elapsed := int(s.opts.Clock.Now().Sub(details.Attempt.CreatedAt) / time.Second)
	if details.Attempt.CreatedAt.IsZero() {
		elapsed = 0
	}
	return clamp(total-elapsed, 0, total)
}

func (s *Session) failLoad(code response.ErrCode, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.log.Warn().Err(err).Msg("Session load failed")
	s.status = model.SessionStatusTerminated
	s.pres.Notify(newNotice(code, SeverityError))
	s.pres.Navigate(DashboardRoute())
	return fmt.Errorf("load session: %w", err)
}

// Tick advances the countdown by one second. Reaching zero starts the
// timeout submission. Ticks outside ACTIVE are no-ops.
func (s *Session) Tick() {
	s.mu.Lock()
	if !s.activeLocked() {
		s.mu.Unlock()
		return
	}
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining > 0 {
		s.renderLocked()
		s.mu.Unlock()
		return
	}

	s.pres.Notify(newNotice(response.ErrTimeUp, SeverityInfo))
	started := s.beginSubmitLocked(model.EndReasonTimeout)
	s.mu.Unlock()

	if started {
		_ = s.deliver()
	}
}

// GoToQuestion moves the cursor. Indexes outside the question list leave it
// where it is.
func (s *Session) GoToQuestion(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return ErrNotActive
	}
	if index < 0 || index >= len(s.questions) || index == s.current {
		return nil
	}
	s.current = index
	s.renderLocked()
	return nil
}

// Next moves to the following question, if any.
func (s *Session) Next() error {
	return s.step(1)
}

// Previous moves to the preceding question, if any.
func (s *Session) Previous() error {
	return s.step(-1)
}

func (s *Session) step(delta int) error {
	s.mu.Lock()
	target := s.current + delta
	s.mu.Unlock()
	return s.GoToQuestion(target)
}

// SetAnswer records value for a question, replacing any earlier answer. The
// value is not validated here.
func (s *Session) SetAnswer(questionID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return ErrNotActive
	}
	if _, ok := s.known[questionID]; !ok {
		return ErrUnknownQuestion
	}
	s.answers[questionID] = value
	s.renderLocked()
	return nil
}

// VisibilityChanged is the visibility listener. Becoming hidden while ACTIVE
// is a violation; becoming visible changes nothing.
func (s *Session) VisibilityChanged(hidden bool) {
	s.mu.Lock()
	if s.closed || !s.proctor.listening || !hidden {
		s.mu.Unlock()
		return
	}

	surface := s.proctor.hidden()
	v := model.Violation{
		AttemptID:  s.attemptID,
		ExamID:     s.examID,
		LearnerID:  s.learnerID,
		Sequence:   s.proctor.count,
		OccurredAt: s.opts.Clock.Now(),
	}
	s.log.Warn().Int("violations", s.proctor.count).Msg("Visibility violation")

	if surface {
		n := newNotice(response.ErrViolationWarning, SeverityWarning)
		n.Modal = true
		n.Violations = s.proctor.count
		s.pres.Notify(n)
	}

	started := false
	if s.escalatedLocked() {
		n := newNotice(response.ErrViolationEscalated, SeverityWarning)
		n.Violations = s.proctor.count
		s.pres.Notify(n)
		started = s.beginSubmitLocked(model.EndReasonEscalated)
	} else {
		s.renderLocked()
	}
	s.mu.Unlock()

	if err := s.opts.Journal.RecordViolation(s.ctx, v); err != nil {
		s.log.Error().Err(err).Msg("Failed to record violation")
	}
	if started {
		_ = s.deliver()
	}
}

// escalatedLocked reports whether the violation count has reached the
// configured limit. A limit of zero never escalates.
func (s *Session) escalatedLocked() bool {
	return s.opts.EscalationLimit > 0 && s.proctor.count >= s.opts.EscalationLimit
}

// DismissWarning closes the violation warning. The violation flag stays set.
func (s *Session) DismissWarning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.proctor.dismiss() {
		s.renderLocked()
	}
}

// Submit is the learner's "submit now". It returns ErrNotActive when a
// submission was already initiated or the session is not ACTIVE.
func (s *Session) Submit() error {
	s.mu.Lock()
	started := s.beginSubmitLocked(model.EndReasonManual)
	s.mu.Unlock()

	if !started {
		return ErrNotActive
	}
	return s.deliver()
}

// RetrySubmit re-sends the snapshot of a failed submission.
func (s *Session) RetrySubmit() error {
	s.mu.Lock()
	if s.closed || s.status != model.SessionStatusSubmitting || !s.awaitingRetry || s.inFlight {
		s.mu.Unlock()
		return ErrNotAwaitingRetry
	}
	s.inFlight = true
	s.awaitingRetry = false
	s.renderLocked()
	s.mu.Unlock()

	return s.deliver()
}

// State returns the current render snapshot.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Close tears the screen down. The countdown and the visibility listener are
// released; a failed submission that nobody can retry anymore is parked for
// background recovery.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.releaseLocked()

	park := s.status == model.SessionStatusSubmitting && s.awaitingRetry && !s.inFlight && !s.parked
	var pending model.PendingSubmission
	if park {
		s.parked = true
		pending = s.pendingLocked()
	}
	s.mu.Unlock()

	s.log.Debug().Bool("parked", park).Msg("Session closed")
	if park {
		s.park(pending)
	}
}

// beginSubmitLocked sets the latch and leaves ACTIVE. It reports whether
// this caller won the latch. Must hold s.mu.
func (s *Session) beginSubmitLocked(reason model.EndReason) bool {
	if s.submitInitiated || !s.activeLocked() {
		return false
	}
	s.submitInitiated = true
	s.status = model.SessionStatusSubmitting
	s.reason = reason
	s.snapshot = s.answers.Clone()
	s.inFlight = true
	s.releaseLocked()
	s.log.Info().Str("reason", string(reason)).Int("answers", len(s.snapshot)).Msg("Submission initiated")
	s.renderLocked()
	return true
}

// deliver runs one submission round: the first call plus automatic retries,
// all with the same snapshot.
func (s *Session) deliver() error {
	s.mu.Lock()
	snapshot := s.snapshot.Clone()
	s.mu.Unlock()

	var lastErr error
	for i := 0; i < s.opts.SubmitAttempts; i++ {
		if i > 0 {
			sleep(s.ctx, s.opts.RetryDelay)
		}

		res, err := s.dir.SubmitExam(s.ctx, s.attemptID, snapshot)
		if err == nil || errors.Is(err, directory.ErrAlreadySubmitted) {
			if err != nil {
				s.log.Info().Msg("Attempt was already submitted, treating as success")
			}
			s.finish(res)
			return nil
		}

		lastErr = err
		s.log.Warn().Err(err).Int("try", i+1).Msg("Submission failed")
		if i == 0 {
			s.mu.Lock()
			if !s.closed {
				s.pres.Notify(newNotice(response.ErrSubmitRetrying, SeverityError))
			}
			s.mu.Unlock()
		}
	}

	s.fail()
	return fmt.Errorf("%w: %v", ErrSubmitFailed, lastErr)
}

func (s *Session) finish(res *model.SubmitResult) {
	s.mu.Lock()
	s.inFlight = false
	s.awaitingRetry = false
	s.status = model.SessionStatusTerminated

	outcome := model.Outcome{
		AttemptID:      s.attemptID,
		ExamID:         s.examID,
		LearnerID:      s.learnerID,
		Reason:         s.reason,
		ViolationCount: s.proctor.count,
		SubmittedAt:    s.opts.Clock.Now(),
	}
	if res != nil {
		outcome.ResultID = res.ResultID
	}

	s.renderLocked()
	if !s.closed {
		s.pres.Navigate(ResultRoute(s.examID, s.attemptID))
	}
	s.mu.Unlock()

	s.log.Info().Str("result_id", outcome.ResultID).Msg("Attempt submitted")
	if err := s.opts.Journal.RecordOutcome(s.ctx, outcome); err != nil {
		s.log.Error().Err(err).Msg("Failed to record outcome")
	}
}

func (s *Session) fail() {
	s.mu.Lock()
	s.inFlight = false
	s.awaitingRetry = true

	if !s.closed {
		n := newNotice(response.ErrSubmitFailed, SeverityError)
		n.Retryable = true
		s.pres.Notify(n)
		s.renderLocked()
	}

	park := s.closed && !s.parked
	var pending model.PendingSubmission
	if park {
		s.parked = true
		pending = s.pendingLocked()
	}
	s.mu.Unlock()

	if park {
		s.park(pending)
	}
}

func (s *Session) park(p model.PendingSubmission) {
	if err := s.opts.Journal.ParkSubmission(s.ctx, p); err != nil {
		s.log.Error().Err(err).Msg("CRITICAL: failed to park submission")
		return
	}
	s.log.Info().Msg("Submission parked for recovery")
}

func (s *Session) pendingLocked() model.PendingSubmission {
	return model.PendingSubmission{
		AttemptID:      s.attemptID,
		ExamID:         s.examID,
		LearnerID:      s.learnerID,
		Answers:        s.snapshot.Clone(),
		Reason:         s.reason,
		ViolationCount: s.proctor.count,
		ParkedAt:       s.opts.Clock.Now(),
	}
}

func (s *Session) activeLocked() bool {
	return s.status == model.SessionStatusActive && !s.closed
}

// releaseLocked stops everything scoped to ACTIVE.
func (s *Session) releaseLocked() {
	s.timer.stop()
	s.timer = nil
	s.proctor.stop()
}

func (s *Session) stateLocked() model.SessionState {
	return model.SessionState{
		AttemptID:        s.attemptID,
		ExamID:           s.examID,
		Status:           s.status,
		RemainingSeconds: s.remaining,
		CurrentIndex:     s.current,
		QuestionCount:    len(s.questions),
		Answers:          s.answers.Clone(),
		Violated:         s.proctor.violated,
		ViolationCount:   s.proctor.count,
		WarningDisplayed: s.proctor.displayed,
		InputEnabled:     s.activeLocked(),
		AwaitingRetry:    s.awaitingRetry,
	}
}

func (s *Session) renderLocked() {
	if s.closed {
		return
	}
	s.pres.RenderSession(s.stateLocked())
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
