package domain

import "fmt"

// Lesson is a unit of instructional content plus one quiz and three
// graduated challenges.
type Lesson struct {
	ID           int
	Title        string
	Content      string // HTML
	Instructions string
	Quiz         []Question
	Challenges   map[Difficulty]*Challenge
}

// Question is a single multiple choice quiz question.
type Question struct {
	Question string
	Options  []string
	Correct  int // index into Options
}

// Letter returns the display letter for an option index (0 -> "A").
func Letter(index int) string {
	if index < 0 || index > 25 {
		return "?"
	}
	return string(rune('A' + index))
}

// Challenge is one coding exercise of a lesson tier.
type Challenge struct {
	Title        string
	Instructions string
	StarterCode  string
	Validation   Validation
	Hints        []string
}

// Difficulty represents a challenge tier
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties returns the tiers in their fixed order.
func Difficulties() []Difficulty {
	return []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}
}

// ParseDifficulty validates a tier name.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(s); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, s)
	}
}

// Next returns the following tier. ok is false at hard.
func (d Difficulty) Next() (Difficulty, bool) {
	switch d {
	case DifficultyEasy:
		return DifficultyMedium, true
	case DifficultyMedium:
		return DifficultyHard, true
	default:
		return "", false
	}
}

// Valid reports whether d is one of the three tiers.
func (d Difficulty) Valid() bool {
	_, err := ParseDifficulty(string(d))
	return err == nil
}

// HasQuiz reports whether the lesson carries quiz questions.
func (l *Lesson) HasQuiz() bool {
	return len(l.Quiz) > 0
}

// Challenge returns the challenge for a tier, or nil when the tier is absent.
func (l *Lesson) Challenge(d Difficulty) *Challenge {
	if l.Challenges == nil {
		return nil
	}
	return l.Challenges[d]
}
