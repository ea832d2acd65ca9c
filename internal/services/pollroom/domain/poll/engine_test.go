package poll

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/Davshiv20/PingPollz/internal/platform/errors"
)

type fakeParticipants struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newFakeParticipants(ids ...string) *fakeParticipants {
	f := &fakeParticipants{ids: make(map[string]struct{})}
	for _, id := range ids {
		f.ids[id] = struct{}{}
	}
	return f
}

func (f *fakeParticipants) Has(participantID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[participantID]
	return ok
}

func (f *fakeParticipants) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Fire runs the action unless it was stopped first.
func (t *fakeTimer) Fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.f()
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) last(t *testing.T) *fakeTimer {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		t.Fatal("no deadline armed")
	}
	return s.timers[len(s.timers)-1]
}

type transitionRecorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *transitionRecorder) record(t Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, t)
	r.mu.Unlock()
}

func (r *transitionRecorder) count(kind TransitionKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.transitions {
		if t.Kind == kind {
			n++
		}
	}
	return n
}

func (r *transitionRecorder) lastOf(kind TransitionKind) (Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.transitions) - 1; i >= 0; i-- {
		if r.transitions[i].Kind == kind {
			return r.transitions[i], true
		}
	}
	return Transition{}, false
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type engineFixture struct {
	engine       *Engine
	participants *fakeParticipants
	scheduler    *fakeScheduler
	recorder     *transitionRecorder
	clock        *clock
}

func newEngineFixture(participantIDs ...string) engineFixture {
	f := engineFixture{
		participants: newFakeParticipants(participantIDs...),
		scheduler:    &fakeScheduler{},
		recorder:     &transitionRecorder{},
		clock:        &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.engine = NewEngine(Config{
		Participants: f.participants,
		OnTransition: f.recorder.record,
		Now:          f.clock.Now,
		AfterFunc:    f.scheduler.AfterFunc,
	})
	return f
}

func TestCreateOpensPollAndArmsDeadline(t *testing.T) {
	f := newEngineFixture()

	snapshot, err := f.engine.Create("  Is the sky blue?  ", []string{"Yes", " No "}, 30*time.Second)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if snapshot.ID != "poll_1" {
		t.Fatalf("poll id = %q, want %q", snapshot.ID, "poll_1")
	}
	if snapshot.Question != "Is the sky blue?" {
		t.Fatalf("question = %q", snapshot.Question)
	}
	if len(snapshot.Options) != 2 || snapshot.Options[1] != "No" {
		t.Fatalf("options = %v, want trimmed [Yes No]", snapshot.Options)
	}
	if !snapshot.Active() {
		t.Fatalf("status = %q, want active", snapshot.Status)
	}
	if len(snapshot.Tally) != 0 {
		t.Fatalf("tally = %v, want empty", snapshot.Tally)
	}
	if got := f.scheduler.last(t).d; got != 30*time.Second {
		t.Fatalf("deadline = %s, want 30s", got)
	}
	if f.recorder.count(TransitionCreated) != 1 {
		t.Fatalf("created transitions = %d, want 1", f.recorder.count(TransitionCreated))
	}
}

func TestCreateValidatesInput(t *testing.T) {
	f := newEngineFixture()
	tests := []struct {
		name     string
		question string
		options  []string
		budget   time.Duration
		code     apperrors.Code
	}{
		{"empty question", " ", []string{"Yes"}, time.Second, apperrors.CodePollQuestionEmpty},
		{"no options", "Q?", nil, time.Second, apperrors.CodePollOptionsEmpty},
		{"blank option", "Q?", []string{"Yes", "  "}, time.Second, apperrors.CodePollOptionBlank},
		{"duplicate option", "Q?", []string{"Yes", "Yes"}, time.Second, apperrors.CodePollOptionDuplicate},
		{"zero budget", "Q?", []string{"Yes"}, 0, apperrors.CodePollTimeBudgetInvalid},
		{"negative budget", "Q?", []string{"Yes"}, -time.Second, apperrors.CodePollTimeBudgetInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Create(tt.question, tt.options, tt.budget)
			if apperrors.CodeOf(err) != tt.code {
				t.Fatalf("code = %q, want %q (err %v)", apperrors.CodeOf(err), tt.code, err)
			}
			if !apperrors.IsInvalidArgument(err) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
	if _, ok := f.engine.Active(); ok {
		t.Fatal("rejected creates must not open a poll")
	}
	if len(f.engine.History()) != 0 {
		t.Fatal("rejected creates must not allocate polls")
	}
}

func TestCreateWhileActiveConflictsWithoutMutation(t *testing.T) {
	f := newEngineFixture("alice")
	first, _ := f.engine.Create("First?", []string{"A", "B"}, time.Minute)
	if _, err := f.engine.SubmitAnswer(first.ID, "alice", "A"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := f.engine.Create("Second?", []string{"C"}, time.Minute)
	if !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	current, ok := f.engine.Active()
	if !ok || current.Poll.ID != first.ID {
		t.Fatalf("active poll = %+v, want %s", current.Poll, first.ID)
	}
	if current.Poll.Tally["A"] != 1 || current.Poll.AnsweredCount != 1 {
		t.Fatalf("active poll state changed: %+v", current.Poll)
	}
	if len(f.scheduler.timers) != 1 {
		t.Fatalf("armed deadlines = %d, want 1", len(f.scheduler.timers))
	}
}

func TestSubmitAnswerExampleScenario(t *testing.T) {
	f := newEngineFixture("alice", "bob")

	p, err := f.engine.Create("Is the sky blue?", []string{"Yes", "No"}, 30*time.Second)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.SubmitAnswer(p.ID, "alice", "Yes"); err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	results, err := f.engine.SubmitAnswer(p.ID, "bob", "No")
	if err != nil {
		t.Fatalf("bob submit: %v", err)
	}
	if results.Tally["Yes"] != 1 || results.Tally["No"] != 1 {
		t.Fatalf("tally = %v, want Yes:1 No:1", results.Tally)
	}
	if results.AnsweredCount != 2 || results.TotalParticipants != 2 {
		t.Fatalf("answered/total = %d/%d, want 2/2", results.AnsweredCount, results.TotalParticipants)
	}

	final, err := f.engine.CloseActive()
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if final.Tally["Yes"] != 1 || final.Tally["No"] != 1 {
		t.Fatalf("final tally = %v", final.Tally)
	}
	if final.CloseReason != CloseReasonEnded {
		t.Fatalf("close reason = %q, want %q", final.CloseReason, CloseReasonEnded)
	}
	if f.recorder.count(TransitionClosed) != 1 {
		t.Fatalf("closed transitions = %d, want 1", f.recorder.count(TransitionClosed))
	}
}

func TestSubmitAnswerErrors(t *testing.T) {
	f := newEngineFixture("alice")
	p, _ := f.engine.Create("Q?", []string{"Yes", "No"}, time.Minute)

	if _, err := f.engine.SubmitAnswer("poll_99", "alice", "Yes"); !apperrors.IsNotFound(err) {
		t.Fatalf("unknown poll: expected not found, got %v", err)
	}
	if _, err := f.engine.SubmitAnswer(p.ID, "ghost", "Yes"); apperrors.CodeOf(err) != apperrors.CodeParticipantNotFound {
		t.Fatalf("unknown participant: expected participant not found, got %v", err)
	}
	if _, err := f.engine.SubmitAnswer(p.ID, "", "Yes"); !apperrors.IsInvalidArgument(err) {
		t.Fatalf("empty participant: expected invalid argument, got %v", err)
	}
	if _, err := f.engine.SubmitAnswer(p.ID, "alice", "Maybe"); apperrors.CodeOf(err) != apperrors.CodePollOptionUnknown {
		t.Fatalf("unknown option: expected option unknown, got %v", err)
	}
	if _, err := f.engine.SubmitAnswer(p.ID, "alice", "Yes"); err != nil {
		t.Fatalf("valid submit: %v", err)
	}
	if _, err := f.engine.SubmitAnswer(p.ID, "alice", "No"); apperrors.CodeOf(err) != apperrors.CodeAlreadyAnswered {
		t.Fatalf("second submit: expected already answered, got %v", err)
	}

	f.engine.CloseActive()
	if _, err := f.engine.SubmitAnswer(p.ID, "alice", "Yes"); apperrors.CodeOf(err) != apperrors.CodePollNotActive {
		t.Fatalf("closed poll: expected not active, got %v", err)
	}

	current, _ := f.engine.Get(p.ID)
	if current.Tally["Yes"] != 1 || len(current.Tally) != 1 {
		t.Fatalf("rejected submissions changed tally: %v", current.Tally)
	}
}

func TestConcurrentDistinctSubmissionsAreAllCounted(t *testing.T) {
	const voters = 200
	ids := make([]string, voters)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i)
	}
	f := newEngineFixture(ids...)
	options := []string{"A", "B", "C"}
	p, _ := f.engine.Create("Q?", options, time.Minute)

	var wg sync.WaitGroup
	var accepted atomic.Int64
	for i, id := range ids {
		wg.Add(1)
		go func(id string, option string) {
			defer wg.Done()
			if _, err := f.engine.SubmitAnswer(p.ID, id, option); err != nil {
				t.Errorf("submit %s: %v", id, err)
				return
			}
			accepted.Add(1)
		}(id, options[i%len(options)])
	}
	wg.Wait()

	snapshot, _ := f.engine.Get(p.ID)
	sum := 0
	for _, n := range snapshot.Tally {
		sum += n
	}
	if int64(sum) != accepted.Load() || accepted.Load() != voters {
		t.Fatalf("tally sum = %d, accepted = %d, want %d", sum, accepted.Load(), voters)
	}
	if int64(snapshot.AnsweredCount) != accepted.Load() {
		t.Fatalf("answered = %d, accepted = %d", snapshot.AnsweredCount, accepted.Load())
	}
	if f.recorder.count(TransitionAnswered) != voters {
		t.Fatalf("answered transitions = %d, want %d", f.recorder.count(TransitionAnswered), voters)
	}
}

func TestConcurrentDuplicateSubmissionsAcceptExactlyOne(t *testing.T) {
	for trial := 0; trial < 50; trial++ {
		f := newEngineFixture("alice")
		p, _ := f.engine.Create("Q?", []string{"Yes", "No"}, time.Minute)

		var wg sync.WaitGroup
		var accepted, conflicts atomic.Int64
		start := make(chan struct{})
		for _, option := range []string{"Yes", "No"} {
			wg.Add(1)
			go func(option string) {
				defer wg.Done()
				<-start
				_, err := f.engine.SubmitAnswer(p.ID, "alice", option)
				switch {
				case err == nil:
					accepted.Add(1)
				case apperrors.IsConflict(err):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(option)
		}
		close(start)
		wg.Wait()

		if accepted.Load() != 1 || conflicts.Load() != 1 {
			t.Fatalf("trial %d: accepted=%d conflicts=%d, want 1/1", trial, accepted.Load(), conflicts.Load())
		}
		snapshot, _ := f.engine.Get(p.ID)
		if snapshot.AnsweredCount != 1 || snapshot.Tally["Yes"]+snapshot.Tally["No"] != 1 {
			t.Fatalf("trial %d: snapshot = %+v", trial, snapshot)
		}
	}
}

func TestDeadlineExpiresPollOnce(t *testing.T) {
	f := newEngineFixture("alice")
	p, _ := f.engine.Create("Q?", []string{"Yes", "No"}, 30*time.Second)
	f.engine.SubmitAnswer(p.ID, "alice", "Yes")

	f.clock.Advance(30 * time.Second)
	f.scheduler.last(t).Fire()

	if f.recorder.count(TransitionClosed) != 1 {
		t.Fatalf("closed transitions = %d, want 1", f.recorder.count(TransitionClosed))
	}
	closed, _ := f.recorder.lastOf(TransitionClosed)
	if closed.Poll.CloseReason != CloseReasonExpired {
		t.Fatalf("close reason = %q, want expired", closed.Poll.CloseReason)
	}
	if closed.Poll.Tally["Yes"] != 1 {
		t.Fatalf("final tally = %v, want Yes:1", closed.Poll.Tally)
	}
	if want := p.CreatedAt.Add(30 * time.Second); !closed.Poll.ClosedAt.Equal(want) {
		t.Fatalf("closed at = %v, want %v", closed.Poll.ClosedAt, want)
	}
	if _, ok := f.engine.Active(); ok {
		t.Fatal("no poll should be active after expiry")
	}

	if f.engine.expire(p.ID) {
		t.Fatal("second expiry must be a no-op")
	}
	if f.recorder.count(TransitionClosed) != 1 {
		t.Fatalf("closed transitions = %d after repeat expiry, want 1", f.recorder.count(TransitionClosed))
	}
}

func TestCloseCancelsDeadline(t *testing.T) {
	f := newEngineFixture()
	p, _ := f.engine.Create("Q?", []string{"Yes"}, 30*time.Second)
	timer := f.scheduler.last(t)

	if _, err := f.engine.Close(p.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !timer.stopped {
		t.Fatal("close must stop the deadline action")
	}
	timer.Fire()
	if f.recorder.count(TransitionClosed) != 1 {
		t.Fatalf("closed transitions = %d, want 1", f.recorder.count(TransitionClosed))
	}
}

func TestDeadlineAlreadyFiringLosesToClose(t *testing.T) {
	f := newEngineFixture()
	p, _ := f.engine.Create("Q?", []string{"Yes"}, 30*time.Second)
	timer := f.scheduler.last(t)

	if _, err := f.engine.CloseActive(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// The action was already running when Stop was called.
	timer.f()

	if f.recorder.count(TransitionClosed) != 1 {
		t.Fatalf("closed transitions = %d, want 1", f.recorder.count(TransitionClosed))
	}
	closed, _ := f.engine.Get(p.ID)
	if closed.CloseReason != CloseReasonEnded {
		t.Fatalf("close reason = %q, want ended", closed.CloseReason)
	}
}

func TestStaleDeadlineDoesNotCloseNextPoll(t *testing.T) {
	f := newEngineFixture()
	first, _ := f.engine.Create("First?", []string{"Yes"}, 30*time.Second)
	firstTimer := f.scheduler.last(t)
	f.engine.CloseActive()

	second, err := f.engine.Create("Second?", []string{"Yes"}, 30*time.Second)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.ID != "poll_2" {
		t.Fatalf("second id = %q, want poll_2", second.ID)
	}

	firstTimer.f()
	current, ok := f.engine.Active()
	if !ok || current.Poll.ID != second.ID {
		t.Fatalf("stale deadline of %s closed %s", first.ID, second.ID)
	}
}

func TestCloseErrors(t *testing.T) {
	f := newEngineFixture()
	if _, err := f.engine.CloseActive(); apperrors.CodeOf(err) != apperrors.CodeNoActivePoll {
		t.Fatalf("expected no active poll, got %v", err)
	}
	if _, err := f.engine.Close("poll_1"); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	p, _ := f.engine.Create("Q?", []string{"Yes"}, time.Minute)
	if _, err := f.engine.Close("poll_7"); !apperrors.IsConflict(err) {
		t.Fatalf("mismatched id: expected conflict, got %v", err)
	}
	if _, err := f.engine.Close(p.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := f.engine.Close(p.ID); !apperrors.IsConflict(err) {
		t.Fatalf("second close: expected conflict, got %v", err)
	}
}

func TestActiveReportsRemainingTime(t *testing.T) {
	f := newEngineFixture()
	f.engine.Create("Q?", []string{"Yes"}, 30*time.Second)

	f.clock.Advance(12 * time.Second)
	current, ok := f.engine.Active()
	if !ok {
		t.Fatal("expected active poll")
	}
	if current.Remaining != 18*time.Second {
		t.Fatalf("remaining = %s, want 18s", current.Remaining)
	}

	f.clock.Advance(time.Minute)
	current, _ = f.engine.Active()
	if current.Remaining != 0 {
		t.Fatalf("remaining = %s, want floor of 0", current.Remaining)
	}
}

func TestHistoryKeepsClosedPolls(t *testing.T) {
	f := newEngineFixture()
	f.engine.Create("First?", []string{"Yes"}, time.Minute)
	f.engine.CloseActive()
	f.engine.Create("Second?", []string{"Yes"}, time.Minute)

	history := f.engine.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Status != StatusClosed || history[1].Status != StatusActive {
		t.Fatalf("history statuses = %q, %q", history[0].Status, history[1].Status)
	}
	if _, err := f.engine.Get("poll_1"); err != nil {
		t.Fatalf("closed poll must stay retrievable: %v", err)
	}
	if _, err := f.engine.Get("poll_3"); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRealTimerExpiresAndRacesCloseSafely(t *testing.T) {
	for trial := 0; trial < 25; trial++ {
		recorder := &transitionRecorder{}
		engine := NewEngine(Config{
			Participants: newFakeParticipants(),
			OnTransition: recorder.record,
		})
		if _, err := engine.Create("Q?", []string{"Yes"}, time.Millisecond); err != nil {
			t.Fatalf("create: %v", err)
		}
		time.Sleep(time.Millisecond)
		engine.CloseActive()
		time.Sleep(10 * time.Millisecond)

		if got := recorder.count(TransitionClosed); got != 1 {
			t.Fatalf("trial %d: closed transitions = %d, want exactly 1", trial, got)
		}
	}
}

func TestStopCancelsArmedDeadline(t *testing.T) {
	f := newEngineFixture()
	f.engine.Create("Q?", []string{"Yes"}, time.Minute)
	timer := f.scheduler.last(t)

	f.engine.Stop()
	timer.Fire()

	if f.recorder.count(TransitionClosed) != 0 {
		t.Fatal("stopped deadline must not close the poll")
	}
}

func TestWithActiveSeesConsistentState(t *testing.T) {
	f := newEngineFixture()
	called := false
	f.engine.WithActive(func(_ Current, ok bool) {
		called = true
		if ok {
			t.Fatal("no poll should be active")
		}
	})
	if !called {
		t.Fatal("WithActive must always call fn")
	}

	p, _ := f.engine.Create("Q?", []string{"Yes"}, 30*time.Second)
	f.clock.Advance(10 * time.Second)
	f.engine.WithActive(func(current Current, ok bool) {
		if !ok || current.Poll.ID != p.ID {
			t.Fatalf("active = %+v, %v", current.Poll, ok)
		}
		if current.Remaining != 20*time.Second {
			t.Fatalf("remaining = %s, want 20s", current.Remaining)
		}
	})
}
