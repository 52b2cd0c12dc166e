package attempt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// fakeDirectory is an in-memory directory.Directory.
type fakeDirectory struct {
	mu sync.Mutex

	exam    *model.ExamSummary
	examErr error

	startErr   error
	startGate  chan struct{}
	startCalls int

	details    *model.AttemptDetails
	detailsErr error

	submitErrs  []error
	submitGate  chan struct{}
	submitCalls int
	submitted   []model.AnswerMap
}

func (d *fakeDirectory) GetExamDetails(ctx context.Context, examID string) (*model.ExamSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.examErr != nil {
		return nil, d.examErr
	}
	exam := *d.exam
	return &exam, nil
}

func (d *fakeDirectory) StartExam(ctx context.Context, examID string, isGuest bool) (*model.Attempt, error) {
	d.mu.Lock()
	d.startCalls++
	n := d.startCalls
	gate := d.startGate
	err := d.startErr
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &model.Attempt{ID: fmt.Sprintf("at-%d", n), ExamID: examID}, nil
}

func (d *fakeDirectory) GetAttemptDetails(ctx context.Context, attemptID string) (*model.AttemptDetails, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detailsErr != nil {
		return nil, d.detailsErr
	}
	details := *d.details
	return &details, nil
}

func (d *fakeDirectory) SubmitAnswer(ctx context.Context, attemptID, questionID, value string) error {
	return nil
}

func (d *fakeDirectory) SubmitExam(ctx context.Context, attemptID string, answers model.AnswerMap) (*model.SubmitResult, error) {
	d.mu.Lock()
	idx := d.submitCalls
	d.submitCalls++
	d.submitted = append(d.submitted, answers)
	var err error
	if idx < len(d.submitErrs) {
		err = d.submitErrs[idx]
	}
	gate := d.submitGate
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &model.SubmitResult{ResultID: fmt.Sprintf("r-%d", idx+1)}, nil
}

func (d *fakeDirectory) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitCalls
}

// recorder is a presenter that keeps everything it is asked to show.
type recorder struct {
	mu        sync.Mutex
	notices   []Notice
	routes    []Route
	sessions  []model.SessionState
	intros    []model.IntroState
	questions []model.Question
}

func (r *recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) Navigate(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *recorder) ShowQuestions(qs []model.Question) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.questions = qs
}

func (r *recorder) RenderSession(s model.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

func (r *recorder) RenderIntro(s model.IntroState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intros = append(r.intros, s)
}

func (r *recorder) countNotices(code response.ErrCode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.Code == code {
			n++
		}
	}
	return n
}

func (r *recorder) countSeverity(sev Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.Severity == sev {
			n++
		}
	}
	return n
}

func (r *recorder) lastRoute() (Route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.routes) == 0 {
		return Route{}, false
	}
	return r.routes[len(r.routes)-1], true
}

// fakeClock never ticks on its own; tests call Session.Tick directly.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) ticker(i int) *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.tickers) {
		return nil
	}
	return c.tickers[i]
}

type fakeTicker struct {
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeJournal keeps journal entries in memory.
type fakeJournal struct {
	mu         sync.Mutex
	prior      int
	violations []model.Violation
	outcomes   []model.Outcome
	parked     []model.PendingSubmission
}

func (j *fakeJournal) ViolationCount(ctx context.Context, attemptID string) (int, error) {
	return j.prior, nil
}

func (j *fakeJournal) RecordViolation(ctx context.Context, v model.Violation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.violations = append(j.violations, v)
	return nil
}

func (j *fakeJournal) RecordOutcome(ctx context.Context, o model.Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, o)
	return nil
}

func (j *fakeJournal) ParkSubmission(ctx context.Context, p model.PendingSubmission) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.parked = append(j.parked, p)
	return nil
}

func threeQuestions() []model.Question {
	return []model.Question{
		{ID: "q1", Type: model.QuestionTypeSingleChoice, Prompt: "Pick one", Options: []model.Option{{ID: "1", Label: "A"}, {ID: "2", Label: "B"}}},
		{ID: "q2", Type: model.QuestionTypeListening, Prompt: "Listen", MediaURL: "/media/q2.mp3"},
		{ID: "q3", Type: model.QuestionTypeFreeText, Prompt: "Say hello in Korean"},
	}
}

func newFakeDirectory(durationMinutes int, remaining *int) *fakeDirectory {
	return &fakeDirectory{
		exam: &model.ExamSummary{ID: "ex-1", Title: "Korean A1", DurationMinutes: durationMinutes, TotalPoints: 30},
		details: &model.AttemptDetails{
			Attempt:          model.Attempt{ID: "at-1", ExamID: "ex-1"},
			Questions:        threeQuestions(),
			RemainingSeconds: remaining,
		},
	}
}

type harness struct {
	dir     *fakeDirectory
	pres    *recorder
	clock   *fakeClock
	journal *fakeJournal
	sess    *Session
}

func newHarness(t *testing.T, dir *fakeDirectory, opts Options) *harness {
	t.Helper()
	h := &harness{dir: dir, pres: &recorder{}, clock: newFakeClock(), journal: &fakeJournal{}}
	opts.Clock = h.clock
	opts.Journal = h.journal
	opts.Log = zerolog.Nop()
	h.sess = NewSession(context.Background(), dir, h.pres, "ex-1", "at-1", 7, opts)
	t.Cleanup(h.sess.Close)
	return h
}

func (h *harness) load(t *testing.T) {
	t.Helper()
	if err := h.sess.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func intPtr(v int) *int { return &v }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
