package attempt

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stemsi/exstem-attempt/internal/directory"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

func TestSession_LoadEntersActive(t *testing.T) {
	dir := newFakeDirectory(10, nil)
	dir.details.Answers = model.AnswerMap{"q1": "1", "ghost": "x"}
	h := newHarness(t, dir, Options{})
	h.load(t)

	st := h.sess.State()
	if st.Status != model.SessionStatusActive {
		t.Fatalf("Status = %s, want ACTIVE", st.Status)
	}
	if st.RemainingSeconds != 600 {
		t.Errorf("RemainingSeconds = %d, want 600", st.RemainingSeconds)
	}
	if !st.InputEnabled {
		t.Error("InputEnabled = false while ACTIVE")
	}
	if want := (model.AnswerMap{"q1": "1"}); !reflect.DeepEqual(st.Answers, want) {
		t.Errorf("resumed Answers = %v, want %v", st.Answers, want)
	}
	if len(h.pres.questions) != 3 {
		t.Errorf("questions shown = %d, want 3", len(h.pres.questions))
	}
}

func TestSession_RemainingTime(t *testing.T) {
	tests := []struct {
		name       string
		duration   int
		remaining  *int
		createdAgo time.Duration
		want       int
	}{
		{name: "fresh attempt", duration: 1, want: 60},
		{name: "from creation time", duration: 10, createdAgo: 9 * time.Minute, want: 60},
		{name: "creation in the past beyond duration", duration: 1, createdAgo: time.Hour, want: 0},
		{name: "server remaining wins", duration: 10, remaining: intPtr(42), createdAgo: time.Minute, want: 42},
		{name: "server remaining clamped", duration: 1, remaining: intPtr(500), want: 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newFakeDirectory(tt.duration, tt.remaining)
			h := newHarness(t, dir, Options{})
			if tt.createdAgo > 0 {
				dir.details.Attempt.CreatedAt = h.clock.Now().Add(-tt.createdAgo)
			}
			h.load(t)
			if got := h.sess.State().RemainingSeconds; got != tt.want {
				t.Errorf("RemainingSeconds = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSession_ExpiredAtLoadSubmitsImmediately(t *testing.T) {
	dir := newFakeDirectory(1, intPtr(0))
	h := newHarness(t, dir, Options{})
	h.load(t)

	if dir.calls() != 1 {
		t.Fatalf("SubmitExam calls = %d, want 1", dir.calls())
	}
	if st := h.sess.State(); st.Status != model.SessionStatusTerminated {
		t.Errorf("Status = %s, want TERMINATED", st.Status)
	}
	if len(h.journal.outcomes) != 1 || h.journal.outcomes[0].Reason != model.EndReasonTimeout {
		t.Errorf("outcomes = %+v", h.journal.outcomes)
	}
}

func TestSession_LoadFailureGoesToDashboard(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(d *fakeDirectory)
		wantCode response.ErrCode
	}{
		{name: "attempt not found", mutate: func(d *fakeDirectory) { d.detailsErr = directory.ErrNotFound }, wantCode: response.ErrAttemptLoadFailed},
		{name: "exam unavailable", mutate: func(d *fakeDirectory) { d.examErr = directory.ErrUnavailable }, wantCode: response.ErrAttemptLoadFailed},
		{name: "no questions", mutate: func(d *fakeDirectory) { d.details.Questions = nil }, wantCode: response.ErrNoQuestions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newFakeDirectory(1, nil)
			tt.mutate(dir)
			h := newHarness(t, dir, Options{})

			if err := h.sess.Load(); err == nil {
				t.Fatal("Load() error = nil, want failure")
			}
			if got := h.pres.countNotices(tt.wantCode); got != 1 {
				t.Errorf("%s notices = %d, want 1", tt.wantCode, got)
			}
			if r, ok := h.pres.lastRoute(); !ok || r != DashboardRoute() {
				t.Errorf("last route = %+v, want dashboard", r)
			}
			if err := h.sess.SetAnswer("q1", "1"); !errors.Is(err, ErrNotActive) {
				t.Errorf("SetAnswer() after failed load error = %v", err)
			}
			if h.clock.ticker(0) != nil {
				t.Error("countdown started despite failed load")
			}
		})
	}
}

func TestSession_LastWriteWins(t *testing.T) {
	h := newHarness(t, newFakeDirectory(1, nil), Options{})
	h.load(t)

	for _, v := range []string{"1", "2", "1", "2"} {
		if err := h.sess.SetAnswer("q1", v); err != nil {
			t.Fatalf("SetAnswer() error = %v", err)
		}
	}
	if err := h.sess.SetAnswer("q3", ""); err != nil {
		t.Fatalf("SetAnswer(empty) error = %v", err)
	}

	got := h.sess.State().Answers
	if want := (model.AnswerMap{"q1": "2", "q3": ""}); !reflect.DeepEqual(got, want) {
		t.Errorf("Answers = %v, want %v", got, want)
	}
}

func TestSession_SetAnswerUnknownQuestion(t *testing.T) {
	h := newHarness(t, newFakeDirectory(1, nil), Options{})
	h.load(t)

	if err := h.sess.SetAnswer("q99", "x"); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("SetAnswer() error = %v, want ErrUnknownQuestion", err)
	}
	if n := len(h.sess.State().Answers); n != 0 {
		t.Errorf("Answers len = %d, want 0", n)
	}
}

func TestSession_GoToQuestionBounds(t *testing.T) {
	h := newHarness(t, newFakeDirectory(1, nil), Options{})
	h.load(t)

	if err := h.sess.GoToQuestion(1); err != nil {
		t.Fatalf("GoToQuestion(1) error = %v", err)
	}
	for _, idx := range []int{-1, 3, 100} {
		if err := h.sess.GoToQuestion(idx); err != nil {
			t.Errorf("GoToQuestion(%d) error = %v, want nil", idx, err)
		}
		if got := h.sess.State().CurrentIndex; got != 1 {
			t.Errorf("GoToQuestion(%d) moved cursor to %d", idx, got)
		}
	}

	_ = h.sess.Next()
	_ = h.sess.Next()
	if got := h.sess.State().CurrentIndex; got != 2 {
		t.Errorf("after Next at end, index = %d, want 2", got)
	}
	_ = h.sess.GoToQuestion(0)
	_ = h.sess.Previous()
	if got := h.sess.State().CurrentIndex; got != 0 {
		t.Errorf("after Previous at start, index = %d, want 0", got)
	}
}

func TestSession_CountdownReachesZeroOnce(t *testing.T) {
	dir := newFakeDirectory(1, intPtr(3))
	h := newHarness(t, dir, Options{})
	h.load(t)

	prev := h.sess.State().RemainingSeconds
	for i := 0; i < 2; i++ {
		h.sess.Tick()
		got := h.sess.State().RemainingSeconds
		if got != prev-1 {
			t.Fatalf("tick %d: remaining = %d, want %d", i, got, prev-1)
		}
		prev = got
	}
	if dir.calls() != 0 {
		t.Fatalf("submitted before zero")
	}

	h.sess.Tick()
	for i := 0; i < 5; i++ {
		h.sess.Tick()
	}

	if dir.calls() != 1 {
		t.Errorf("SubmitExam calls = %d, want 1", dir.calls())
	}
	st := h.sess.State()
	if st.RemainingSeconds != 0 {
		t.Errorf("RemainingSeconds = %d, want 0", st.RemainingSeconds)
	}
	if st.Status != model.SessionStatusTerminated {
		t.Errorf("Status = %s, want TERMINATED", st.Status)
	}
	if h.pres.countNotices(response.ErrTimeUp) != 1 {
		t.Errorf("time-up notices = %d, want 1", h.pres.countNotices(response.ErrTimeUp))
	}
	tk := h.clock.ticker(0)
	waitFor(t, "ticker stop", tk.isStopped)
}

func TestSession_ManualSubmitRacingTimer(t *testing.T) {
	for i := 0; i < 50; i++ {
		dir := newFakeDirectory(1, intPtr(1))
		h := newHarness(t, dir, Options{})
		h.load(t)

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_ = h.sess.Submit()
		}()
		go func() {
			defer wg.Done()
			<-start
			h.sess.Tick()
		}()
		close(start)
		wg.Wait()

		if got := dir.calls(); got != 1 {
			t.Fatalf("run %d: SubmitExam calls = %d, want 1", i, got)
		}
	}
}

func TestSession_TimeoutScenario(t *testing.T) {
	dir := newFakeDirectory(1, nil)
	h := newHarness(t, dir, Options{})
	h.load(t)

	if err := h.sess.SetAnswer("q1", "2"); err != nil {
		t.Fatal(err)
	}
	_ = h.sess.Next()
	_ = h.sess.Next()
	if err := h.sess.SetAnswer("q3", "안녕"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 60; i++ {
		h.sess.Tick()
	}

	if dir.calls() != 1 {
		t.Fatalf("SubmitExam calls = %d, want 1", dir.calls())
	}
	want := model.AnswerMap{"q1": "2", "q3": "안녕"}
	if !reflect.DeepEqual(dir.submitted[0], want) {
		t.Errorf("submitted = %v, want %v", dir.submitted[0], want)
	}
	if r, _ := h.pres.lastRoute(); r != ResultRoute("ex-1", "at-1") {
		t.Errorf("last route = %+v, want result", r)
	}
}

func TestSession_TerminatedIgnoresEverything(t *testing.T) {
	dir := newFakeDirectory(1, nil)
	h := newHarness(t, dir, Options{})
	h.load(t)
	_ = h.sess.SetAnswer("q1", "1")

	if err := h.sess.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	before := h.sess.State()
	if before.Status != model.SessionStatusTerminated {
		t.Fatalf("Status = %s, want TERMINATED", before.Status)
	}

	if err := h.sess.SetAnswer("q1", "2"); !errors.Is(err, ErrNotActive) {
		t.Errorf("SetAnswer() error = %v", err)
	}
	if err := h.sess.GoToQuestion(2); !errors.Is(err, ErrNotActive) {
		t.Errorf("GoToQuestion() error = %v", err)
	}
	if err := h.sess.Submit(); !errors.Is(err, ErrNotActive) {
		t.Errorf("Submit() error = %v", err)
	}
	if err := h.sess.RetrySubmit(); !errors.Is(err, ErrNotAwaitingRetry) {
		t.Errorf("RetrySubmit() error = %v", err)
	}
	h.sess.Tick()
	h.sess.VisibilityChanged(true)

	if after := h.sess.State(); !reflect.DeepEqual(before, after) {
		t.Errorf("state changed after termination:\n before %+v\n after  %+v", before, after)
	}
	if dir.calls() != 1 {
		t.Errorf("SubmitExam calls = %d, want 1", dir.calls())
	}
}

func TestSession_SubmissionUsesSnapshot(t *testing.T) {
	dir := newFakeDirectory(1, nil)
	dir.submitGate = make(chan struct{})
	h := newHarness(t, dir, Options{})
	h.load(t)
	_ = h.sess.SetAnswer("q1", "1")

	done := make(chan error, 1)
	go func() { done <- h.sess.Submit() }()
	waitFor(t, "submission in flight", func() bool { return dir.calls() == 1 })

	st := h.sess.State()
	if st.Status != model.SessionStatusSubmitting || st.InputEnabled {
		t.Errorf("during submit: status %s input %v", st.Status, st.InputEnabled)
	}
	if err := h.sess.SetAnswer("q1", "2"); !errors.Is(err, ErrNotActive) {
		t.Errorf("SetAnswer() while submitting error = %v", err)
	}
	if err := h.sess.GoToQuestion(1); !errors.Is(err, ErrNotActive) {
		t.Errorf("GoToQuestion() while submitting error = %v", err)
	}

	close(dir.submitGate)
	if err := <-done; err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	dir.submitted[0]["q1"] = "tampered"
	if got := h.sess.State().Answers["q1"]; got != "1" {
		t.Errorf("session answers share the submitted map: q1 = %q", got)
	}
}

func TestSession_ViolationIsSticky(t *testing.T) {
	h := newHarness(t, newFakeDirectory(1, nil), Options{})
	h.load(t)

	h.sess.VisibilityChanged(true)
	if st := h.sess.State(); !st.Violated || !st.WarningDisplayed {
		t.Fatalf("after first hide: %+v", st)
	}
	h.sess.VisibilityChanged(false)
	h.sess.VisibilityChanged(true)
	h.sess.VisibilityChanged(false)

	st := h.sess.State()
	if !st.Violated {
		t.Error("violation flag reset by visibility toggle")
	}
	if st.ViolationCount != 2 {
		t.Errorf("ViolationCount = %d, want 2", st.ViolationCount)
	}
	if got := h.pres.countNotices(response.ErrViolationWarning); got != 1 {
		t.Errorf("warnings while modal open = %d, want 1", got)
	}

	h.sess.DismissWarning()
	st = h.sess.State()
	if st.WarningDisplayed || !st.Violated {
		t.Errorf("after dismiss: displayed %v violated %v", st.WarningDisplayed, st.Violated)
	}

	h.sess.VisibilityChanged(true)
	if got := h.pres.countNotices(response.ErrViolationWarning); got != 2 {
		t.Errorf("warnings after redisplay = %d, want 2", got)
	}
	if len(h.journal.violations) != 3 || h.journal.violations[2].Sequence != 3 {
		t.Errorf("journal violations = %+v", h.journal.violations)
	}
	if st := h.sess.State(); st.Status != model.SessionStatusActive {
		t.Errorf("soft policy changed status to %s", st.Status)
	}
}

func TestSession_EscalationSubmitsOnce(t *testing.T) {
	dir := newFakeDirectory(1, nil)
	h := newHarness(t, dir, Options{EscalationLimit: 2})
	h.journal.prior = 1
	h.load(t)

	if st := h.sess.State(); !st.Violated || st.ViolationCount != 1 {
		t.Fatalf("prior violations not restored: %+v", st)
	}

	h.sess.VisibilityChanged(true)
	h.sess.VisibilityChanged(true)

	if dir.calls() != 1 {
		t.Errorf("SubmitExam calls = %d, want 1", dir.calls())
	}
	if len(h.journal.outcomes) != 1 || h.journal.outcomes[0].Reason != model.EndReasonEscalated {
		t.Errorf("outcomes = %+v", h.journal.outcomes)
	}
	if len(h.journal.violations) != 1 {
		t.Errorf("violations after termination recorded: %d", len(h.journal.violations))
	}
}

func TestSession_EscalatedAtLoad(t *testing.T) {
	dir := newFakeDirectory(10, nil)
	h := newHarness(t, dir, Options{EscalationLimit: 2})
	h.journal.prior = 2
	h.load(t)

	if dir.calls() != 1 {
		t.Fatalf("SubmitExam calls = %d, want 1", dir.calls())
	}
	if h.pres.countNotices(response.ErrViolationEscalated) != 1 {
		t.Errorf("escalation notices = %d, want 1", h.pres.countNotices(response.ErrViolationEscalated))
	}
	if len(h.journal.outcomes) != 1 || h.journal.outcomes[0].Reason != model.EndReasonEscalated {
		t.Errorf("outcomes = %+v", h.journal.outcomes)
	}
	if len(h.journal.violations) != 0 {
		t.Errorf("violations recorded at load: %d", len(h.journal.violations))
	}
}

func TestSession_SubmitFailsOnceThenSucceeds(t *testing.T) {
	dir := newFakeDirectory(1, nil)
	dir.submitErrs = []error{directory.ErrUnavailable}
	h := newHarness(t, dir, Options{})
	h.load(t)
	_ = h.sess.SetAnswer("q1", "2")

	if err := h.sess.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if dir.calls() != 2 {
		t.Errorf("SubmitExam calls = %d, want 2", dir.calls())
	}
	if !reflect.DeepEqual(dir.submitted[0], dir.submitted[1]) {
		t.Errorf("retry used a different snapshot: %v vs %v", dir.submitted[0], dir.submitted[1])
	}
	if st := h.sess.State(); st.Status != model.SessionStatusTerminated {
		t.Errorf("Status = %s, want TERMINATED", st.Status)
	}
	if got := h.pres.countSeverity(SeverityError); got != 1 {
		t.Errorf("error notices = %d, want 1", got)
	}
	if len(h.journal.outcomes) != 1 || h.journal.outcomes[0].ResultID != "r-2" {
		t.Errorf("outcomes = %+v", h.journal.outcomes)
	}
}

func TestSession_SubmitFailureAwaitsManualRetry(t *testing.T) {
	dir := newFakeDirectory(1, nil)
	dir.submitErrs = []error{directory.ErrUnavailable, directory.ErrUnavailable}
	h := newHarness(t, dir, Options{})
	h.load(t)
	_ = h.sess.SetAnswer("q3", "안녕")

	err := h.sess.Submit()
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("Submit() error = %v, want ErrSubmitFailed", err)
	}
	st := h.sess.State()
	if st.Status != model.SessionStatusSubmitting || !st.AwaitingRetry {
		t.Fatalf("after failure: %+v", st)
	}
	if h.pres.countNotices(response.ErrSubmitFailed) != 1 {
		t.Errorf("submit-failed notices = %d, want 1", h.pres.countNotices(response.ErrSubmitFailed))
	}
	if err := h.sess.SetAnswer("q3", "bye"); !errors.Is(err, ErrNotActive) {
		t.Errorf("SetAnswer() awaiting retry error = %v", err)
	}

	if err := h.sess.RetrySubmit(); err != nil {
		t.Fatalf("RetrySubmit() error = %v", err)
	}
	if st := h.sess.State(); st.Status != model.SessionStatusTerminated {
		t.Errorf("Status = %s, want TERMINATED", st.Status)
	}
	for i, sub := range dir.submitted {
		if sub["q3"] != "안녕" {
			t.Errorf("call %d submitted %v", i, sub)
		}
	}
}

func TestSession_AlreadySubmittedCountsAsSuccess(t *testing.T) {
	dir := newFakeDirectory(1, nil)
	dir.submitErrs = []error{directory.ErrUnavailable, directory.ErrAlreadySubmitted}
	h := newHarness(t, dir, Options{})
	h.load(t)

	if err := h.sess.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if st := h.sess.State(); st.Status != model.SessionStatusTerminated {
		t.Errorf("Status = %s, want TERMINATED", st.Status)
	}
}

func TestSession_CloseParksFailedSubmission(t *testing.T) {
	dir := newFakeDirectory(1, nil)
	dir.submitErrs = []error{directory.ErrUnavailable, directory.ErrUnavailable}
	h := newHarness(t, dir, Options{})
	h.load(t)
	_ = h.sess.SetAnswer("q1", "2")
	_ = h.sess.Submit()

	h.sess.Close()
	h.sess.Close()

	if len(h.journal.parked) != 1 {
		t.Fatalf("parked = %d, want 1", len(h.journal.parked))
	}
	p := h.journal.parked[0]
	if p.AttemptID != "at-1" || p.Answers["q1"] != "2" || p.Reason != model.EndReasonManual {
		t.Errorf("parked = %+v", p)
	}
	if err := h.sess.RetrySubmit(); !errors.Is(err, ErrNotAwaitingRetry) {
		t.Errorf("RetrySubmit() after close error = %v", err)
	}
}

func TestSession_CloseDuringSubmitParksOnLateFailure(t *testing.T) {
	dir := newFakeDirectory(1, nil)
	dir.submitErrs = []error{directory.ErrUnavailable, directory.ErrUnavailable}
	dir.submitGate = make(chan struct{})
	h := newHarness(t, dir, Options{})
	h.load(t)

	done := make(chan error, 1)
	go func() { done <- h.sess.Submit() }()
	waitFor(t, "submission in flight", func() bool { return dir.calls() == 1 })

	h.sess.Close()
	if len(h.journal.parked) != 0 {
		t.Fatal("parked while the submission was still in flight")
	}
	close(dir.submitGate)
	<-done

	if len(h.journal.parked) != 1 {
		t.Errorf("parked = %d, want 1", len(h.journal.parked))
	}
	if got := h.pres.countNotices(response.ErrSubmitRetrying); got != 0 {
		t.Errorf("retrying notices after close = %d, want 0", got)
	}
}

func TestSession_CloseReleasesListeners(t *testing.T) {
	h := newHarness(t, newFakeDirectory(1, nil), Options{})
	h.load(t)

	tk := h.clock.ticker(0)
	if tk == nil {
		t.Fatal("countdown ticker not started")
	}
	h.sess.Close()
	waitFor(t, "ticker stop", tk.isStopped)

	before := h.sess.State().RemainingSeconds
	h.sess.Tick()
	h.sess.VisibilityChanged(true)
	if got := h.sess.State().RemainingSeconds; got != before {
		t.Errorf("tick after close changed remaining %d -> %d", before, got)
	}
	if len(h.journal.violations) != 0 {
		t.Errorf("violation recorded after close")
	}
	if err := h.sess.Submit(); !errors.Is(err, ErrNotActive) {
		t.Errorf("Submit() after close error = %v", err)
	}
}

func TestSession_TickerDrivesCountdown(t *testing.T) {
	h := newHarness(t, newFakeDirectory(1, nil), Options{})
	h.load(t)

	tk := h.clock.ticker(0)
	tk.c <- time.Now()
	tk.c <- time.Now()
	waitFor(t, "two ticks", func() bool { return h.sess.State().RemainingSeconds == 58 })
}
