package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pylearn/internal/catalog"
	"github.com/felixgeelhaar/pylearn/internal/challenge"
	"github.com/felixgeelhaar/pylearn/internal/domain"
	"github.com/felixgeelhaar/pylearn/internal/progress"
	"github.com/felixgeelhaar/pylearn/internal/quiz"
	"github.com/felixgeelhaar/pylearn/internal/runner"
	"github.com/felixgeelhaar/pylearn/internal/storage"
)

// manualScheduler holds timers until fired by the test
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (m *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	m.timers = append(m.timers, t)
	return t
}

// fire runs every timer that is still pending and returns their delays
func (m *manualScheduler) fire() []time.Duration {
	m.mu.Lock()
	timers := m.timers
	m.timers = nil
	m.mu.Unlock()

	var fired []time.Duration
	for _, t := range timers {
		t.mu.Lock()
		run := !t.stopped && !t.fired
		t.fired = true
		t.mu.Unlock()
		if run {
			fired = append(fired, t.d)
			t.f()
		}
	}
	return fired
}

// fakeGateway reports readiness and returns canned output
type fakeGateway struct {
	mu       sync.Mutex
	output   string
	status   runner.Status
	inits    int
	observer runner.Observer
}

func (g *fakeGateway) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status == runner.StatusReady
}

func (g *fakeGateway) Run(ctx context.Context, code string) (runner.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return runner.Result{Output: g.output}, nil
}

func (g *fakeGateway) Initialize(ctx context.Context) error {
	g.mu.Lock()
	g.inits++
	g.status = runner.StatusReady
	obs := g.observer
	g.mu.Unlock()
	if obs != nil {
		obs(runner.StatusReady)
	}
	return nil
}

func (g *fakeGateway) OnStatus(obs runner.Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observer = obs
}

func (g *fakeGateway) Status() (runner.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, nil
}

func (g *fakeGateway) initCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inits
}

func (g *fakeGateway) say(out string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.output = out
}

func tiers(prefix string, only ...domain.Difficulty) map[domain.Difficulty]*domain.Challenge {
	if len(only) == 0 {
		only = domain.Difficulties()
	}
	out := make(map[domain.Difficulty]*domain.Challenge)
	for _, d := range only {
		out[d] = &domain.Challenge{
			Title:       prefix + " " + string(d),
			StarterCode: "# " + string(d),
			Validation:  domain.OutputMatch{Expected: prefix + "-" + string(d)},
			Hints:       []string{"think"},
		}
	}
	return out
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	q := func(correct int) domain.Question {
		return domain.Question{Question: "Q?", Options: []string{"a", "b", "c", "d"}, Correct: correct}
	}
	c, err := catalog.New([]*domain.Lesson{
		{ID: 1, Title: "One", Quiz: []domain.Question{q(0), q(1)}, Challenges: tiers("one")},
		{ID: 2, Title: "Two", Quiz: []domain.Question{q(2)}, Challenges: tiers("two")},
		{ID: 3, Title: "Three", Challenges: tiers("three", domain.DifficultyEasy)},
	}, map[int]*domain.Reference{
		1: {LessonID: 1, Title: "Ref One"},
		2: {LessonID: 2, Title: "Ref Two"},
	})
	require.NoError(t, err)
	return c
}

type harness struct {
	ctrl  *Controller
	gw    *fakeGateway
	sched *manualScheduler
	store *progress.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gw := &fakeGateway{status: runner.StatusIdle}
	sched := &manualScheduler{}
	store := progress.NewStore(storage.NewMemory())
	ctrl := New(Deps{
		Catalog:   testCatalog(t),
		Progress:  store,
		Gateway:   gw,
		Scheduler: sched,
	}, DefaultConfig())
	t.Cleanup(ctrl.Close)
	return &harness{ctrl: ctrl, gw: gw, sched: sched, store: store}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Eventually(t, h.gw.IsReady, time.Second, 5*time.Millisecond)
}

func (h *harness) finishQuiz(t *testing.T) {
	t.Helper()
	for {
		require.NoError(t, h.ctrl.SelectOption(0))
		res, err := h.ctrl.CheckAnswer()
		require.NoError(t, err)
		if res.Last {
			break
		}
		require.NoError(t, h.ctrl.NextQuestion())
	}
	require.NoError(t, h.ctrl.StartChallenges(context.Background()))
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, h.sched.fire())
}

func TestController_StartRestoresLesson(t *testing.T) {
	h := newHarness(t)
	h.store.SetCurrentLesson(context.Background(), 2)

	h.start(t)

	s := h.ctrl.Session()
	assert.Equal(t, 2, s.LessonID)
	assert.Equal(t, PhaseQuiz, s.Phase)
	assert.Equal(t, 1, h.gw.initCount())
}

func TestController_StartUnknownLesson(t *testing.T) {
	h := newHarness(t)
	h.store.SetCurrentLesson(context.Background(), 42)

	h.start(t)
	assert.Equal(t, 1, h.ctrl.Session().LessonID)
}

func TestController_QuizFlow(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.SelectOption(0))
	res, err := h.ctrl.CheckAnswer()
	require.NoError(t, err)
	assert.True(t, res.Correct)

	vm := h.ctrl.View(ctx)
	require.NotNil(t, vm.Quiz)
	assert.True(t, vm.Quiz.CanNext)
	assert.Equal(t, "Correct!", vm.Quiz.Feedback)

	// Challenges stay locked during the quiz
	assert.ErrorIs(t, h.ctrl.LoadChallenge(ctx, domain.DifficultyEasy), domain.ErrInvalidState)
	_, err = h.ctrl.Submit(ctx, "print()")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.ErrorIs(t, h.ctrl.StartChallenges(ctx), domain.ErrInvalidState)

	require.NoError(t, h.ctrl.NextQuestion())
	require.NoError(t, h.ctrl.SelectOption(0))
	res, err = h.ctrl.CheckAnswer()
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.True(t, res.Last)

	require.NoError(t, h.ctrl.StartChallenges(ctx))
	assert.True(t, h.store.IsQuizCompleted(ctx, 1))

	vm = h.ctrl.View(ctx)
	require.NotNil(t, vm.Quiz)
	require.NotNil(t, vm.Quiz.Completed)
	assert.Equal(t, "1/2", vm.Quiz.Completed.Score)

	h.sched.fire()
	s := h.ctrl.Session()
	assert.Equal(t, PhaseChallenges, s.Phase)
	assert.Equal(t, domain.DifficultyEasy, s.Difficulty)
}

func TestController_CompletedQuizSkipsToChallenges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.CompleteQuiz(ctx, 2)
	h.start(t)

	require.NoError(t, h.ctrl.LoadLesson(ctx, 2))
	assert.Equal(t, PhaseChallenges, h.ctrl.Session().Phase)
}

func TestController_LessonWithoutQuiz(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t)

	require.NoError(t, h.ctrl.LoadLesson(ctx, 3))
	assert.Equal(t, PhaseChallenges, h.ctrl.Session().Phase)
	assert.True(t, h.store.IsQuizCompleted(ctx, 3))
	assert.Equal(t, 3, h.store.CurrentLessonID(ctx))
}

func TestController_SubmitAdvancesTiers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t)
	h.finishQuiz(t)

	h.gw.say("one-easy")
	out, err := h.ctrl.Submit(ctx, "print('one-easy')")
	require.NoError(t, err)
	assert.True(t, out.Passed)
	assert.Equal(t, "Correct! Try the medium challenge next.", h.ctrl.Session().Feedback)

	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, h.sched.fire())
	assert.Equal(t, domain.DifficultyMedium, h.ctrl.Session().Difficulty)
	assert.Empty(t, h.ctrl.Session().Feedback, "loading a tier clears feedback")

	h.gw.say("one-medium")
	_, err = h.ctrl.Submit(ctx, "")
	require.NoError(t, err)
	h.sched.fire()

	h.gw.say("one-hard")
	out, err = h.ctrl.Submit(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, out.Transition)
	assert.Equal(t, challenge.NextLesson, out.Transition.Kind)
	assert.True(t, h.store.IsLessonCompleted(ctx, 1))

	assert.Equal(t, []time.Duration{2000 * time.Millisecond}, h.sched.fire())
	s := h.ctrl.Session()
	assert.Equal(t, 2, s.LessonID)
	assert.Equal(t, PhaseQuiz, s.Phase)
}

func TestController_NavigationCancelsTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t)
	h.finishQuiz(t)

	h.gw.say("one-easy")
	_, err := h.ctrl.Submit(ctx, "")
	require.NoError(t, err)

	// Explicit tier change before the delay elapses
	require.NoError(t, h.ctrl.LoadChallenge(ctx, domain.DifficultyHard))
	assert.Empty(t, h.sched.fire(), "pending transition should be cancelled")
	assert.Equal(t, domain.DifficultyHard, h.ctrl.Session().Difficulty)
}

func TestController_WrongAnswerHint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t)
	h.finishQuiz(t)

	h.gw.say("nope")
	out, err := h.ctrl.Submit(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Not quite. Hint: think", out.Feedback)
	assert.Equal(t, 1, h.ctrl.Session().HintIndex)
	assert.Empty(t, h.sched.fire())
}

func TestController_Run(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.gw.say("")
	out, err := h.ctrl.Run(context.Background(), "x = 1")
	require.NoError(t, err)
	assert.Equal(t, "(No output)", out.Output)

	s := h.ctrl.Session()
	assert.Equal(t, "(No output)", s.Output)
	assert.False(t, s.Running)
}

func TestController_ResetProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t)
	require.NoError(t, h.ctrl.LoadLesson(ctx, 3))

	require.NoError(t, h.ctrl.ResetProgress(ctx))

	s := h.ctrl.Session()
	assert.Equal(t, 1, s.LessonID)
	assert.Equal(t, PhaseQuiz, s.Phase)
	assert.Equal(t, "Progress reset. Starting fresh!", s.Feedback)
	assert.False(t, h.store.IsQuizCompleted(ctx, 3))

	h.sched.fire()
	assert.Empty(t, h.ctrl.Session().Feedback)
}

func TestController_ToggleReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t)

	v, open := h.ctrl.ToggleReference()
	assert.True(t, open)
	assert.Equal(t, "Ref One", v.Title)

	require.NoError(t, h.ctrl.LoadLesson(ctx, 2))
	vm := h.ctrl.View(ctx)
	require.NotNil(t, vm.Reference)
	assert.Equal(t, "Ref Two", vm.Reference.Title)

	_, open = h.ctrl.ToggleReference()
	assert.False(t, open)
	assert.Nil(t, h.ctrl.View(ctx).Reference)
}

func TestController_PublishesEvents(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	types := map[string]int{}
	h.ctrl.Hub().Subscribe(func(e Event) {
		mu.Lock()
		types[e.Type]++
		mu.Unlock()
	})

	h.start(t)
	require.NoError(t, h.ctrl.SelectOption(1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return types[EventRuntime] > 0 && types[EventView] >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestController_QuizErrors(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.ctrl.CheckAnswer()
	assert.ErrorIs(t, err, quiz.ErrNoSelection)
	assert.ErrorIs(t, h.ctrl.SelectOption(9), quiz.ErrInvalidOption)
	assert.ErrorIs(t, h.ctrl.LoadLesson(context.Background(), 99), domain.ErrLessonNotFound)
}
