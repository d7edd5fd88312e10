package app

import (
	"fmt"

	"github.com/felixgeelhaar/pylearn/internal/challenge"
	"github.com/felixgeelhaar/pylearn/internal/domain"
	"github.com/felixgeelhaar/pylearn/internal/i18n"
	"github.com/felixgeelhaar/pylearn/internal/progress"
	"github.com/felixgeelhaar/pylearn/internal/quiz"
	"github.com/felixgeelhaar/pylearn/internal/reference"
	"github.com/felixgeelhaar/pylearn/internal/runner"
)

// Phase is the part of a lesson the learner is in
type Phase string

const (
	PhaseQuiz       Phase = "quiz"
	PhaseChallenges Phase = "challenges"
)

// Session is the per-learner UI state
type Session struct {
	LessonID   int               `json:"lessonId"`
	Phase      Phase             `json:"phase"`
	Difficulty domain.Difficulty `json:"difficulty"`
	HintIndex  int               `json:"hintIndex"`

	QuizIndex    int          `json:"quizIndex"`
	QuizScore    int          `json:"quizScore"`
	Selected     int          `json:"selected"`
	QuizState    quiz.State   `json:"quizState"`
	LastAnswer   *quiz.Result `json:"lastAnswer,omitempty"`
	QuizFinished bool         `json:"quizFinished"`

	Output        string                 `json:"output"`
	OutputIsError bool                   `json:"outputIsError"`
	Feedback      string                 `json:"feedback,omitempty"`
	FeedbackKind  challenge.FeedbackKind `json:"feedbackKind,omitempty"`
	Running       bool                   `json:"running"`
}

// RenderInput is everything a view is computed from
type RenderInput struct {
	Lesson     *domain.Lesson
	Lessons    []*domain.Lesson
	Session    Session
	Progress   *domain.Progress
	Reference  *reference.View // nil when the panel is closed
	Status     runner.Status
	Translator *i18n.Translator
}

// ViewModel is the complete display state
type ViewModel struct {
	Lesson     LessonView       `json:"lesson"`
	Navigation []NavItem        `json:"navigation"`
	Progress   progress.Summary `json:"progress"`
	Phase      Phase            `json:"phase"`
	Quiz       *QuizView        `json:"quiz,omitempty"`
	Challenge  *ChallengeView   `json:"challenge,omitempty"`
	Output     OutputView       `json:"output"`
	Feedback   *FeedbackView    `json:"feedback,omitempty"`
	Reference  *reference.View  `json:"reference,omitempty"`
	Runtime    RuntimeView      `json:"runtime"`
}

// LessonView is the lesson header and body
type LessonView struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// NavItem is one entry of the lesson list
type NavItem struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Current   bool   `json:"current"`
}

// QuizView is the quiz section
type QuizView struct {
	Progress  string          `json:"progress"`
	Question  string          `json:"question,omitempty"`
	Options   []OptionView    `json:"options,omitempty"`
	Feedback  string          `json:"feedback,omitempty"`
	Correct   bool            `json:"correct"`
	CanCheck  bool            `json:"canCheck"`
	CanNext   bool            `json:"canNext"`
	CanStart  bool            `json:"canStartChallenges"`
	Completed *QuizCompletion `json:"completed,omitempty"`
}

// OptionView is one answer option
type OptionView struct {
	Letter    string `json:"letter"`
	Text      string `json:"text"`
	Selected  bool   `json:"selected"`
	Correct   bool   `json:"correct"`
	Incorrect bool   `json:"incorrect"`
	Disabled  bool   `json:"disabled"`
}

// QuizCompletion is the message shown before challenges start
type QuizCompletion struct {
	Title string `json:"title"`
	Score string `json:"score"`
	Body  string `json:"body"`
}

// ChallengeView is the challenge section
type ChallengeView struct {
	Difficulty   domain.Difficulty `json:"difficulty"`
	Label        string            `json:"label"`
	Title        string            `json:"title,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	StarterCode  string            `json:"starterCode,omitempty"`
	Tabs         []TabView         `json:"tabs"`
	Completed    int               `json:"completed"`
	ProgressText string            `json:"progressText"`
}

// TabView is one difficulty tab
type TabView struct {
	Difficulty domain.Difficulty `json:"difficulty"`
	Label      string            `json:"label"`
	Active     bool              `json:"active"`
	Completed  bool              `json:"completed"`
}

// OutputView is the output console
type OutputView struct {
	Text    string `json:"text"`
	IsError bool   `json:"isError"`
}

// FeedbackView is the feedback banner
type FeedbackView struct {
	Kind    challenge.FeedbackKind `json:"kind"`
	Message string                 `json:"message"`
}

// RuntimeView is the Python status indicator
type RuntimeView struct {
	Status  runner.Status `json:"status"`
	Message string        `json:"message"`
	CanRun  bool          `json:"canRun"`
	Running bool          `json:"running"`
}

// Render computes the display state. It has no side effects.
func Render(in RenderInput) ViewModel {
	tr := in.Translator
	if tr == nil {
		tr = i18n.English()
	}
	p := in.Progress
	if p == nil {
		p = domain.NewProgress()
	}
	s := in.Session

	vm := ViewModel{
		Navigation: make([]NavItem, 0, len(in.Lessons)),
		Progress:   progress.Summarize(p, len(in.Lessons)),
		Phase:      s.Phase,
		Output:     OutputView{Text: s.Output, IsError: s.OutputIsError},
		Reference:  in.Reference,
		Runtime:    renderRuntime(in.Status, s.Running, tr),
	}

	for _, l := range in.Lessons {
		vm.Navigation = append(vm.Navigation, NavItem{
			ID:        l.ID,
			Title:     l.Title,
			Completed: p.HasLesson(l.ID),
			Current:   l.ID == s.LessonID,
		})
	}

	if s.Feedback != "" {
		vm.Feedback = &FeedbackView{Kind: s.FeedbackKind, Message: s.Feedback}
	}

	if in.Lesson == nil {
		return vm
	}
	vm.Lesson = LessonView{ID: in.Lesson.ID, Title: in.Lesson.Title, Content: in.Lesson.Content}

	switch s.Phase {
	case PhaseQuiz:
		vm.Quiz = renderQuiz(in.Lesson, s, tr)
	case PhaseChallenges:
		vm.Challenge = renderChallenge(in.Lesson, s, p, tr)
	}
	return vm
}

func renderQuiz(lesson *domain.Lesson, s Session, tr *i18n.Translator) *QuizView {
	total := len(lesson.Quiz)

	if s.QuizFinished {
		return &QuizView{
			Completed: &QuizCompletion{
				Title: tr.T(i18n.QuizComplete, nil),
				Score: fmt.Sprintf("%d/%d", s.QuizScore, total),
				Body:  tr.T(i18n.QuizCompleteBody, nil),
			},
		}
	}
	if s.QuizIndex < 0 || s.QuizIndex >= total {
		return &QuizView{}
	}

	q := lesson.Quiz[s.QuizIndex]
	checked := s.QuizState != quiz.StateAwaitingSelection

	v := &QuizView{
		Progress: tr.T(i18n.QuizProgress, map[string]any{"Number": s.QuizIndex + 1, "Total": total}),
		Question: q.Question,
		Options:  make([]OptionView, len(q.Options)),
		CanCheck: !checked && s.Selected >= 0,
		CanNext:  s.QuizState == quiz.StateAnswerChecked,
		CanStart: s.QuizState == quiz.StateComplete,
	}
	for i, text := range q.Options {
		opt := OptionView{
			Letter:   domain.Letter(i),
			Text:     text,
			Selected: i == s.Selected,
			Disabled: checked,
		}
		if checked {
			opt.Correct = i == q.Correct
			opt.Incorrect = i == s.Selected && i != q.Correct
		}
		v.Options[i] = opt
	}
	if checked && s.LastAnswer != nil {
		v.Feedback = s.LastAnswer.Feedback
		v.Correct = s.LastAnswer.Correct
	}
	return v
}

func renderChallenge(lesson *domain.Lesson, s Session, p *domain.Progress, tr *i18n.Translator) *ChallengeView {
	completed := 0
	tabs := make([]TabView, 0, 3)
	for _, d := range domain.Difficulties() {
		done := p.HasChallenge(lesson.ID, d)
		if done {
			completed++
		}
		tabs = append(tabs, TabView{
			Difficulty: d,
			Label:      tr.T(i18n.DifficultyLabel(string(d)), nil),
			Active:     d == s.Difficulty,
			Completed:  done,
		})
	}

	v := &ChallengeView{
		Difficulty:   s.Difficulty,
		Label:        tr.T(i18n.DifficultyLabel(string(s.Difficulty)), nil),
		Tabs:         tabs,
		Completed:    completed,
		ProgressText: tr.T(i18n.ChallengeProgress, map[string]any{"Completed": completed}),
	}
	if ch := lesson.Challenge(s.Difficulty); ch != nil {
		v.Title = ch.Title
		v.Instructions = ch.Instructions
		v.StarterCode = ch.StarterCode
	}
	return v
}

func renderRuntime(status runner.Status, running bool, tr *i18n.Translator) RuntimeView {
	v := RuntimeView{Status: status, Running: running}
	switch status {
	case runner.StatusReady:
		v.Message = tr.T(i18n.RuntimeReady, nil)
	case runner.StatusError:
		v.Message = tr.T(i18n.RuntimeError, nil)
	default:
		v.Message = tr.T(i18n.RuntimeLoading, nil)
	}
	v.CanRun = status != runner.StatusLoading && !running
	return v
}
