// Package quiz runs the multiple choice quiz that precedes a lesson's
// challenges.
package quiz

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/pylearn/internal/domain"
	"github.com/felixgeelhaar/pylearn/internal/i18n"
)

// State is the position of a quiz in its question cycle
type State string

const (
	StateAwaitingSelection State = "awaiting_selection"
	StateAnswerChecked     State = "answer_checked"
	StateComplete          State = "complete"
)

var (
	// ErrNoSelection is returned by Check before an option was selected
	ErrNoSelection = errors.New("no option selected")
	// ErrInvalidOption is returned for an option index outside the question
	ErrInvalidOption = errors.New("invalid option")
)

// Start describes a freshly loaded quiz
type Start struct {
	Empty    bool // lesson has no questions
	Question *domain.Question
	Index    int
	Total    int
}

// Result is the outcome of checking one answer
type Result struct {
	Correct      bool   `json:"correct"`
	Selected     int    `json:"selected"`
	CorrectIndex int    `json:"correctIndex"`
	Feedback     string `json:"feedback"`
	Score        int    `json:"score"`
	Total        int    `json:"total"`
	Last         bool   `json:"last"`
}

// Quiz tracks one pass through a lesson's questions. It is not safe for
// concurrent use.
type Quiz struct {
	questions []domain.Question
	tr        *i18n.Translator

	index    int
	score    int
	selected int
	state    State
}

// New creates a quiz over questions
func New(questions []domain.Question, tr *i18n.Translator) *Quiz {
	if tr == nil {
		tr = i18n.English()
	}
	q := &Quiz{questions: questions, tr: tr}
	q.reset()
	return q
}

func (q *Quiz) reset() {
	q.index = 0
	q.score = 0
	q.selected = -1
	q.state = StateAwaitingSelection
	if len(q.questions) == 0 {
		q.state = StateComplete
	}
}

// Load restarts the quiz at the first question
func (q *Quiz) Load() Start {
	q.reset()
	if len(q.questions) == 0 {
		return Start{Empty: true}
	}
	return Start{Question: q.Question(), Index: 0, Total: len(q.questions)}
}

// Select records the chosen option of the current question
func (q *Quiz) Select(option int) error {
	if q.state != StateAwaitingSelection {
		return fmt.Errorf("%w: select in state %s", domain.ErrInvalidState, q.state)
	}
	if option < 0 || option >= len(q.questions[q.index].Options) {
		return fmt.Errorf("%w: %d", ErrInvalidOption, option)
	}
	q.selected = option
	return nil
}

// Check grades the selected option
func (q *Quiz) Check() (Result, error) {
	if q.state != StateAwaitingSelection {
		return Result{}, fmt.Errorf("%w: check in state %s", domain.ErrInvalidState, q.state)
	}
	if q.selected < 0 {
		return Result{}, ErrNoSelection
	}

	question := q.questions[q.index]
	correct := q.selected == question.Correct
	if correct {
		q.score++
	}

	last := q.index == len(q.questions)-1
	if last {
		q.state = StateComplete
	} else {
		q.state = StateAnswerChecked
	}

	feedback := q.tr.T(i18n.QuizCorrect, nil)
	if !correct {
		feedback = q.tr.T(i18n.QuizIncorrect, map[string]any{"Letter": domain.Letter(question.Correct)})
	}

	return Result{
		Correct:      correct,
		Selected:     q.selected,
		CorrectIndex: question.Correct,
		Feedback:     feedback,
		Score:        q.score,
		Total:        len(q.questions),
		Last:         last,
	}, nil
}

// Next advances to the following question
func (q *Quiz) Next() error {
	if q.state != StateAnswerChecked {
		return fmt.Errorf("%w: next in state %s", domain.ErrInvalidState, q.state)
	}
	q.index++
	q.selected = -1
	q.state = StateAwaitingSelection
	return nil
}

// Question returns the current question, nil for an empty quiz
func (q *Quiz) Question() *domain.Question {
	if len(q.questions) == 0 {
		return nil
	}
	return &q.questions[q.index]
}

// Progress renders "Question N of M"
func (q *Quiz) Progress() string {
	return q.tr.T(i18n.QuizProgress, map[string]any{"Number": q.index + 1, "Total": len(q.questions)})
}

func (q *Quiz) Score() int       { return q.score }
func (q *Quiz) Total() int       { return len(q.questions) }
func (q *Quiz) Index() int       { return q.index }
func (q *Quiz) State() State     { return q.state }
func (q *Quiz) Selected() int    { return q.selected }
func (q *Quiz) IsComplete() bool { return q.state == StateComplete }
