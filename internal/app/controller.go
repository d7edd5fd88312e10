// Package app is the application controller. It owns one learner session,
// binds every user action to the quiz, challenge, reference and progress
// components, schedules delayed transitions and publishes view changes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/pylearn/internal/catalog"
	"github.com/felixgeelhaar/pylearn/internal/challenge"
	"github.com/felixgeelhaar/pylearn/internal/domain"
	"github.com/felixgeelhaar/pylearn/internal/i18n"
	"github.com/felixgeelhaar/pylearn/internal/progress"
	"github.com/felixgeelhaar/pylearn/internal/quiz"
	"github.com/felixgeelhaar/pylearn/internal/reference"
	"github.com/felixgeelhaar/pylearn/internal/runner"
)

// Gateway is the code execution gateway as seen by the controller
type Gateway interface {
	challenge.Executor
	Initialize(ctx context.Context) error
	OnStatus(obs runner.Observer)
	Status() (runner.Status, error)
}

// Config holds transition delays
type Config struct {
	QuizDelay     time.Duration // quiz complete -> easy challenge
	TierDelay     time.Duration // passed tier -> next tier
	LessonDelay   time.Duration // lesson complete -> next lesson
	FeedbackDelay time.Duration // reset confirmation banner
}

// DefaultConfig returns the standard delays
func DefaultConfig() Config {
	return Config{
		QuizDelay:     1500 * time.Millisecond,
		TierDelay:     1500 * time.Millisecond,
		LessonDelay:   2000 * time.Millisecond,
		FeedbackDelay: 2000 * time.Millisecond,
	}
}

// Deps are the collaborators of a Controller
type Deps struct {
	Catalog    *catalog.Catalog
	Progress   *progress.Store
	Gateway    Gateway
	Translator *i18n.Translator
	Scheduler  Scheduler
	Hub        *Hub
	Logger     *slog.Logger
}

// Controller serializes session state changes. Code execution happens
// outside its lock.
type Controller struct {
	catalog    *catalog.Catalog
	progress   *progress.Store
	gateway    Gateway
	challenges *challenge.Controller
	panel      *reference.Panel
	tr         *i18n.Translator
	sched      Scheduler
	hub        *Hub
	logger     *slog.Logger
	config     Config

	mu      sync.Mutex
	session Session
	quiz    *quiz.Quiz
	pending Timer
	gen     uint64 // bumped whenever pending transitions become stale
	closed  bool
}

// New creates a controller. Start must be called before use.
func New(deps Deps, cfg Config) *Controller {
	if deps.Translator == nil {
		deps.Translator = i18n.English()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = RealScheduler{}
	}
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	c := &Controller{
		catalog:  deps.Catalog,
		progress: deps.Progress,
		gateway:  deps.Gateway,
		panel:    reference.NewPanel(deps.Catalog, deps.Translator, deps.Logger),
		tr:       deps.Translator,
		sched:    deps.Scheduler,
		hub:      deps.Hub,
		logger:   deps.Logger,
		config:   cfg,
		session:  Session{LessonID: 1, Phase: PhaseQuiz, Difficulty: domain.DifficultyEasy, Selected: -1},
	}
	c.challenges = challenge.New(deps.Catalog, deps.Progress, deps.Gateway, deps.Translator, deps.Logger)
	return c
}

// Hub returns the event hub
func (c *Controller) Hub() *Hub {
	return c.hub
}

// Start restores the saved lesson and begins runtime initialization in the
// background.
func (c *Controller) Start(ctx context.Context) error {
	c.gateway.OnStatus(func(s runner.Status) {
		c.hub.Publish(NewEvent(EventRuntime, s))
		c.publish()
	})

	id := c.progress.CurrentLessonID(ctx)
	if _, err := c.catalog.Lesson(id); err != nil {
		c.logger.Warn("saved lesson not in catalog, starting at 1", "lesson", id)
		id = 1
	}
	if err := c.LoadLesson(ctx, id); err != nil {
		return err
	}

	go func() {
		initCtx := context.WithoutCancel(ctx)
		if err := c.gateway.Initialize(initCtx); err != nil {
			c.logger.Error("python runtime unavailable", "error", err)
		}
	}()
	return nil
}

// Close cancels pending transitions
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cancelPendingLocked()
}

// cancelPendingLocked drops any scheduled transition
func (c *Controller) cancelPendingLocked() {
	c.gen++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

// scheduleLocked runs fn after d unless navigation happens first. fn runs
// with c.mu held.
func (c *Controller) scheduleLocked(d time.Duration, fn func(ctx context.Context)) {
	c.cancelPendingLocked()
	gen := c.gen
	c.pending = c.sched.AfterFunc(d, func() {
		c.mu.Lock()
		if c.closed || c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.pending = nil
		fn(context.Background())
		c.mu.Unlock()
		c.publish()
	})
}

// LoadLesson navigates to a lesson
func (c *Controller) LoadLesson(ctx context.Context, id int) error {
	c.mu.Lock()
	c.cancelPendingLocked()
	err := c.loadLessonLocked(ctx, id)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.publish()
	return nil
}

func (c *Controller) loadLessonLocked(ctx context.Context, id int) error {
	lesson, err := c.catalog.Lesson(id)
	if err != nil {
		return err
	}

	c.session = Session{
		LessonID:   id,
		Phase:      PhaseQuiz,
		Difficulty: domain.DifficultyEasy,
		Selected:   -1,
	}
	c.quiz = quiz.New(lesson.Quiz, c.tr)

	c.progress.SetCurrentLesson(ctx, id)
	c.panel.Refresh(id)

	if c.progress.IsQuizCompleted(ctx, id) {
		return c.enterChallengesLocked(ctx)
	}

	if start := c.quiz.Load(); start.Empty {
		// Nothing to ask, go straight to challenges
		c.progress.CompleteQuiz(ctx, id)
		return c.enterChallengesLocked(ctx)
	}
	c.syncQuizLocked()
	return nil
}

func (c *Controller) enterChallengesLocked(ctx context.Context) error {
	c.session.Phase = PhaseChallenges
	c.session.QuizFinished = false
	return c.loadChallengeLocked(ctx, domain.DifficultyEasy)
}

// LoadChallenge switches the challenge tier
func (c *Controller) LoadChallenge(ctx context.Context, d domain.Difficulty) error {
	c.mu.Lock()
	if c.session.Phase != PhaseChallenges {
		c.mu.Unlock()
		return fmt.Errorf("%w: challenges are locked until the quiz is done", domain.ErrInvalidState)
	}
	c.cancelPendingLocked()
	err := c.loadChallengeLocked(ctx, d)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.publish()
	return nil
}

func (c *Controller) loadChallengeLocked(ctx context.Context, d domain.Difficulty) error {
	if _, err := c.challenges.Load(ctx, c.session.LessonID, d); err != nil {
		return err
	}
	c.session.Difficulty = d
	c.session.HintIndex = 0
	c.clearConsoleLocked()
	return nil
}

func (c *Controller) clearConsoleLocked() {
	c.session.Output = ""
	c.session.OutputIsError = false
	c.session.Feedback = ""
	c.session.FeedbackKind = ""
}

// Run executes code and shows its output
func (c *Controller) Run(ctx context.Context, code string) (challenge.Outcome, error) {
	c.mu.Lock()
	c.clearConsoleLocked()
	c.mu.Unlock()

	out, err := c.execute(ctx, func(ctx context.Context) (challenge.Outcome, error) {
		return c.challenges.Run(ctx, code)
	})
	if err != nil {
		return out, err
	}

	c.mu.Lock()
	c.session.Output = out.Output
	c.session.OutputIsError = out.IsError
	c.mu.Unlock()
	c.publish()
	return out, nil
}

// Submit grades code against the current challenge and schedules the
// follow-up navigation when it passes.
func (c *Controller) Submit(ctx context.Context, code string) (challenge.Outcome, error) {
	c.mu.Lock()
	if c.session.Phase != PhaseChallenges {
		c.mu.Unlock()
		return challenge.Outcome{}, fmt.Errorf("%w: no challenge is shown", domain.ErrInvalidState)
	}
	lessonID, d := c.session.LessonID, c.session.Difficulty
	c.session.Output = ""
	c.session.OutputIsError = false
	c.mu.Unlock()

	out, err := c.execute(ctx, func(ctx context.Context) (challenge.Outcome, error) {
		return c.challenges.Submit(ctx, code)
	})
	if err != nil && !errors.Is(err, challenge.ErrNoChallenge) {
		return out, err
	}

	c.mu.Lock()
	c.session.Output = out.Output
	c.session.OutputIsError = out.IsError
	c.session.Feedback = out.Feedback
	c.session.FeedbackKind = out.FeedbackKind

	stale := c.session.LessonID != lessonID || c.session.Difficulty != d
	if !stale {
		c.session.HintIndex = c.challenges.HintIndex()
		c.scheduleTransitionLocked(out.Transition)
	}
	c.mu.Unlock()

	c.publish()
	return out, err
}

func (c *Controller) scheduleTransitionLocked(t *challenge.Transition) {
	if t == nil {
		return
	}
	switch t.Kind {
	case challenge.NextDifficulty:
		next := t.Difficulty
		c.scheduleLocked(c.config.TierDelay, func(ctx context.Context) {
			if err := c.loadChallengeLocked(ctx, next); err != nil {
				c.logger.Error("advance difficulty", "difficulty", next, "error", err)
			}
		})
	case challenge.NextLesson:
		next := t.LessonID
		c.scheduleLocked(c.config.LessonDelay, func(ctx context.Context) {
			if err := c.loadLessonLocked(ctx, next); err != nil {
				c.logger.Error("advance lesson", "lesson", next, "error", err)
			}
		})
	}
}

// execute marks the session running around fn
func (c *Controller) execute(ctx context.Context, fn func(ctx context.Context) (challenge.Outcome, error)) (challenge.Outcome, error) {
	c.mu.Lock()
	c.session.Running = true
	c.mu.Unlock()
	c.publish()

	defer func() {
		c.mu.Lock()
		c.session.Running = c.challenges.Running()
		c.mu.Unlock()
	}()
	return fn(ctx)
}

// ResetProgress clears all progress and returns to the first lesson
func (c *Controller) ResetProgress(ctx context.Context) error {
	c.mu.Lock()
	c.cancelPendingLocked()
	c.progress.Reset(ctx)
	if err := c.loadLessonLocked(ctx, 1); err != nil {
		c.mu.Unlock()
		return err
	}
	c.session.Feedback = c.tr.T(i18n.ProgressReset, nil)
	c.session.FeedbackKind = challenge.FeedbackSuccess
	c.scheduleLocked(c.config.FeedbackDelay, func(context.Context) {
		c.session.Feedback = ""
		c.session.FeedbackKind = ""
	})
	c.mu.Unlock()

	c.publish()
	return nil
}

// SelectOption picks a quiz answer
func (c *Controller) SelectOption(option int) error {
	c.mu.Lock()
	if err := c.requireQuizLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	err := c.quiz.Select(option)
	c.syncQuizLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.publish()
	return nil
}

// CheckAnswer grades the selected quiz answer
func (c *Controller) CheckAnswer() (quiz.Result, error) {
	c.mu.Lock()
	if err := c.requireQuizLocked(); err != nil {
		c.mu.Unlock()
		return quiz.Result{}, err
	}
	res, err := c.quiz.Check()
	if err == nil {
		c.session.LastAnswer = &res
	}
	c.syncQuizLocked()
	c.mu.Unlock()
	if err != nil {
		return res, err
	}
	c.publish()
	return res, nil
}

// NextQuestion advances the quiz
func (c *Controller) NextQuestion() error {
	c.mu.Lock()
	if err := c.requireQuizLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	err := c.quiz.Next()
	if err == nil {
		c.session.LastAnswer = nil
	}
	c.syncQuizLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.publish()
	return nil
}

// StartChallenges records the finished quiz, shows the completion message
// and opens the easy challenge after the quiz delay.
func (c *Controller) StartChallenges(ctx context.Context) error {
	c.mu.Lock()
	if err := c.requireQuizLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.quiz.IsComplete() {
		c.mu.Unlock()
		return fmt.Errorf("%w: quiz not finished", domain.ErrInvalidState)
	}
	if c.session.QuizFinished {
		c.mu.Unlock()
		return nil
	}

	c.progress.CompleteQuiz(ctx, c.session.LessonID)
	c.session.QuizFinished = true
	c.scheduleLocked(c.config.QuizDelay, func(ctx context.Context) {
		if err := c.enterChallengesLocked(ctx); err != nil {
			c.logger.Error("start challenges", "lesson", c.session.LessonID, "error", err)
		}
	})
	c.mu.Unlock()

	c.publish()
	return nil
}

func (c *Controller) requireQuizLocked() error {
	if c.session.Phase != PhaseQuiz || c.quiz == nil {
		return fmt.Errorf("%w: no quiz is shown", domain.ErrInvalidState)
	}
	return nil
}

func (c *Controller) syncQuizLocked() {
	c.session.QuizIndex = c.quiz.Index()
	c.session.QuizScore = c.quiz.Score()
	c.session.Selected = c.quiz.Selected()
	c.session.QuizState = c.quiz.State()
}

// ToggleReference opens or closes the reference panel
func (c *Controller) ToggleReference() (reference.View, bool) {
	c.mu.Lock()
	id := c.session.LessonID
	c.mu.Unlock()

	v, open := c.panel.Toggle(id)
	c.publish()
	return v, open
}

// Reference renders the reference sheet of any lesson without touching the
// panel state
func (c *Controller) Reference(id int) (reference.View, error) {
	return c.panel.Render(id)
}

// Session returns a copy of the session state
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// View renders the current display state
func (c *Controller) View(ctx context.Context) ViewModel {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	lesson, _ := c.catalog.Lesson(s.LessonID)
	status, _ := c.gateway.Status()

	in := RenderInput{
		Lesson:     lesson,
		Lessons:    c.catalog.All(),
		Session:    s,
		Progress:   c.progress.Load(ctx),
		Status:     status,
		Translator: c.tr,
	}
	if c.panel.IsOpen() {
		v := c.panel.View()
		in.Reference = &v
	}
	return Render(in)
}

// Lessons returns the navigation list
func (c *Controller) Lessons(ctx context.Context) []NavItem {
	return c.View(ctx).Navigation
}

// Summary returns the progress summary
func (c *Controller) Summary(ctx context.Context) progress.Summary {
	return c.progress.Summary(ctx, c.catalog.Count())
}

func (c *Controller) publish() {
	if c.hub.Subscribers() == 0 {
		return
	}
	c.hub.Publish(NewEvent(EventView, c.View(context.Background())))
}
