// Package challenge drives the three graduated coding exercises of a lesson:
// loading a tier, running code, grading submissions and deciding what comes
// next.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/felixgeelhaar/pylearn/internal/domain"
	"github.com/felixgeelhaar/pylearn/internal/i18n"
	"github.com/felixgeelhaar/pylearn/internal/runner"
)

var (
	// ErrRunInProgress is returned when an execution is already in flight
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrNotReady is returned while the Python runtime is unavailable
	ErrNotReady = runner.ErrNotReady
	// ErrNoChallenge is returned by Submit when no tier is loaded
	ErrNoChallenge = errors.New("no challenge loaded")
)

// Lessons looks up lesson content
type Lessons interface {
	Lesson(id int) (*domain.Lesson, error)
	Next(id int) (int, bool)
}

// ProgressStore records completions
type ProgressStore interface {
	CompleteChallenge(ctx context.Context, lessonID int, d domain.Difficulty) *domain.Progress
	CompleteLesson(ctx context.Context, lessonID int) *domain.Progress
	CompletedChallenges(ctx context.Context, lessonID int) []domain.Difficulty
}

// Executor runs Python code
type Executor interface {
	IsReady() bool
	Run(ctx context.Context, code string) (runner.Result, error)
}

// FeedbackKind classifies a feedback message for display
type FeedbackKind string

const (
	FeedbackSuccess FeedbackKind = "success"
	FeedbackHint    FeedbackKind = "hint"
	FeedbackError   FeedbackKind = "error"
)

// TransitionKind names the navigation that follows a passed challenge
type TransitionKind string

const (
	NextDifficulty     TransitionKind = "next_difficulty"
	NextLesson         TransitionKind = "next_lesson"
	AllLessonsComplete TransitionKind = "all_lessons_complete"
)

// Transition is a navigation the caller should perform, usually after a
// short delay. AllLessonsComplete carries nothing to navigate to.
type Transition struct {
	Kind       TransitionKind    `json:"kind"`
	LessonID   int               `json:"lessonId,omitempty"`
	Difficulty domain.Difficulty `json:"difficulty,omitempty"`
}

// Loaded describes the tier shown after Load
type Loaded struct {
	LessonID   int
	Difficulty domain.Difficulty
	Challenge  *domain.Challenge // nil when the lesson has no such tier
	Completed  int
}

// Outcome is what a run or submission displays
type Outcome struct {
	Output       string       `json:"output"`
	IsError      bool         `json:"isError"`
	Feedback     string       `json:"feedback,omitempty"`
	FeedbackKind FeedbackKind `json:"feedbackKind,omitempty"`
	Passed       bool         `json:"passed"`
	Completed    int          `json:"completed"`
	Transition   *Transition  `json:"transition,omitempty"`
}

// Controller holds the current challenge selection and the single
// execution guard.
type Controller struct {
	lessons  Lessons
	progress ProgressStore
	exec     Executor
	tr       *i18n.Translator
	logger   *slog.Logger

	mu         sync.Mutex
	lessonID   int
	difficulty domain.Difficulty
	hintIndex  int

	running atomic.Bool
}

// New creates a challenge controller
func New(lessons Lessons, progress ProgressStore, exec Executor, tr *i18n.Translator, logger *slog.Logger) *Controller {
	if tr == nil {
		tr = i18n.English()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		lessons:    lessons,
		progress:   progress,
		exec:       exec,
		tr:         tr,
		logger:     logger,
		difficulty: domain.DifficultyEasy,
	}
}

// Load selects a tier of a lesson and resets the hint index. A missing tier
// still becomes the current difficulty.
func (c *Controller) Load(ctx context.Context, lessonID int, d domain.Difficulty) (Loaded, error) {
	if !d.Valid() {
		return Loaded{}, fmt.Errorf("%w: %q", domain.ErrInvalidDifficulty, d)
	}
	lesson, err := c.lessons.Lesson(lessonID)
	if err != nil {
		return Loaded{}, err
	}

	c.mu.Lock()
	c.lessonID = lessonID
	c.difficulty = d
	c.hintIndex = 0
	c.mu.Unlock()

	ch := lesson.Challenge(d)
	if ch == nil {
		c.logger.Warn("lesson has no challenge for difficulty", "lesson", lessonID, "difficulty", d)
	}

	return Loaded{
		LessonID:   lessonID,
		Difficulty: d,
		Challenge:  ch,
		Completed:  len(c.progress.CompletedChallenges(ctx, lessonID)),
	}, nil
}

// Current returns the selected lesson and tier
func (c *Controller) Current() (lessonID int, d domain.Difficulty) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lessonID, c.difficulty
}

// HintIndex returns the index of the next hint to show
func (c *Controller) HintIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hintIndex
}

// Running reports whether an execution is in flight
func (c *Controller) Running() bool {
	return c.running.Load()
}

func (c *Controller) acquire() error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	if !c.exec.IsReady() {
		c.running.Store(false)
		return ErrNotReady
	}
	return nil
}

// Run executes code without grading it
func (c *Controller) Run(ctx context.Context, code string) (Outcome, error) {
	if err := c.acquire(); err != nil {
		return Outcome{}, err
	}
	defer c.running.Store(false)

	res, err := c.exec.Run(ctx, code)
	if err != nil {
		c.logger.Error("run failed", "error", err)
		return Outcome{Output: "Error: " + err.Error(), IsError: true}, nil
	}
	if res.Failed() {
		return Outcome{Output: res.Error, IsError: true}, nil
	}
	return Outcome{Output: c.displayOutput(res.Output)}, nil
}

// Submit executes code and grades its output against the current tier
func (c *Controller) Submit(ctx context.Context, code string) (Outcome, error) {
	if err := c.acquire(); err != nil {
		return Outcome{}, err
	}
	defer c.running.Store(false)

	c.mu.Lock()
	lessonID, d, hint := c.lessonID, c.difficulty, c.hintIndex
	c.mu.Unlock()

	var ch *domain.Challenge
	if lesson, err := c.lessons.Lesson(lessonID); err == nil {
		ch = lesson.Challenge(d)
	}
	if ch == nil {
		return Outcome{
			Feedback:     c.tr.T(i18n.ChallengeNone, nil),
			FeedbackKind: FeedbackError,
		}, ErrNoChallenge
	}

	res, err := c.exec.Run(ctx, code)
	if err != nil {
		c.logger.Error("submission failed", "lesson", lessonID, "difficulty", d, "error", err)
		return Outcome{
			Output:       "Error: " + err.Error(),
			IsError:      true,
			Feedback:     c.tr.T(i18n.ChallengeFailure, nil),
			FeedbackKind: FeedbackError,
		}, nil
	}
	if res.Failed() {
		return Outcome{
			Output:       res.Error,
			IsError:      true,
			Feedback:     c.tr.T(i18n.ChallengeExecErr, nil),
			FeedbackKind: FeedbackError,
		}, nil
	}

	out := Outcome{Output: c.displayOutput(res.Output)}
	if ch.Validation == nil || !ch.Validation.Validate(res.Output) {
		c.fail(&out, ch, lessonID, d, hint)
		out.Completed = len(c.progress.CompletedChallenges(ctx, lessonID))
		return out, nil
	}

	c.pass(ctx, &out, lessonID, d)
	return out, nil
}

// fail picks the next hint, or the generic message once hints run out
func (c *Controller) fail(out *Outcome, ch *domain.Challenge, lessonID int, d domain.Difficulty, hint int) {
	next := 0
	if hint < len(ch.Hints) && ch.Hints[hint] != "" {
		out.Feedback = c.tr.T(i18n.ChallengeHint, map[string]any{"Hint": ch.Hints[hint]})
		out.FeedbackKind = FeedbackHint
		next = hint + 1
	} else {
		out.Feedback = c.tr.T(i18n.ChallengeNotQuite, nil)
		out.FeedbackKind = FeedbackError
	}

	c.mu.Lock()
	// The learner may have switched tiers while the code ran
	if c.lessonID == lessonID && c.difficulty == d {
		c.hintIndex = next
	}
	c.mu.Unlock()
}

func (c *Controller) pass(ctx context.Context, out *Outcome, lessonID int, d domain.Difficulty) {
	out.Passed = true
	out.FeedbackKind = FeedbackSuccess

	p := c.progress.CompleteChallenge(ctx, lessonID, d)
	out.Completed = len(p.ChallengesFor(lessonID))

	if p.AllChallengesDone(lessonID) {
		c.progress.CompleteLesson(ctx, lessonID)
		if next, ok := c.lessons.Next(lessonID); ok {
			out.Feedback = c.tr.T(i18n.ChallengeNextLes, nil)
			out.Transition = &Transition{Kind: NextLesson, LessonID: next}
		} else {
			out.Feedback = c.tr.T(i18n.ChallengeAllDone, nil)
			out.Transition = &Transition{Kind: AllLessonsComplete}
		}
		return
	}

	if next, ok := d.Next(); ok {
		out.Feedback = c.tr.T(i18n.ChallengeNextTier, map[string]any{"Difficulty": string(next)})
		out.Transition = &Transition{Kind: NextDifficulty, LessonID: lessonID, Difficulty: next}
		return
	}
	out.Feedback = c.tr.T(i18n.ChallengeRemain, nil)
}

func (c *Controller) displayOutput(output string) string {
	if output == "" {
		return c.tr.T(i18n.OutputEmpty, nil)
	}
	return output
}
