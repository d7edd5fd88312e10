package domain

import (
	"slices"
	"strconv"
	"time"
)

// Progress is the single persisted record of what the learner has completed.
// Field names follow the stored JSON layout.
type Progress struct {
	CurrentLessonID     int                     `json:"currentLessonId"`
	CompletedLessons    []int                   `json:"completedLessons"`
	CompletedChallenges map[string][]Difficulty `json:"completedChallenges"`
	CompletedQuizzes    []int                   `json:"completedQuizzes"`
	LastAccessed        *time.Time              `json:"lastAccessed"`
}

// NewProgress returns the record used on first load and after reset.
func NewProgress() *Progress {
	return &Progress{
		CurrentLessonID:     1,
		CompletedLessons:    []int{},
		CompletedChallenges: map[string][]Difficulty{},
		CompletedQuizzes:    []int{},
	}
}

// Clone returns a deep copy.
func (p *Progress) Clone() *Progress {
	c := &Progress{
		CurrentLessonID:     p.CurrentLessonID,
		CompletedLessons:    slices.Clone(p.CompletedLessons),
		CompletedChallenges: make(map[string][]Difficulty, len(p.CompletedChallenges)),
		CompletedQuizzes:    slices.Clone(p.CompletedQuizzes),
	}
	for k, v := range p.CompletedChallenges {
		c.CompletedChallenges[k] = slices.Clone(v)
	}
	if p.LastAccessed != nil {
		t := *p.LastAccessed
		c.LastAccessed = &t
	}
	return c
}

func lessonKey(id int) string {
	return strconv.Itoa(id)
}

// ChallengesFor returns the completed tiers of a lesson.
func (p *Progress) ChallengesFor(lessonID int) []Difficulty {
	return p.CompletedChallenges[lessonKey(lessonID)]
}

// HasChallenge reports whether a tier of a lesson is completed.
func (p *Progress) HasChallenge(lessonID int, d Difficulty) bool {
	return slices.Contains(p.ChallengesFor(lessonID), d)
}

// AllChallengesDone reports whether every tier of a lesson is completed.
func (p *Progress) AllChallengesDone(lessonID int) bool {
	for _, d := range Difficulties() {
		if !p.HasChallenge(lessonID, d) {
			return false
		}
	}
	return true
}

// AddChallenge records a tier; it reports false when already present.
func (p *Progress) AddChallenge(lessonID int, d Difficulty) bool {
	if p.HasChallenge(lessonID, d) {
		return false
	}
	if p.CompletedChallenges == nil {
		p.CompletedChallenges = map[string][]Difficulty{}
	}
	key := lessonKey(lessonID)
	p.CompletedChallenges[key] = append(p.CompletedChallenges[key], d)
	return true
}

// HasLesson reports whether a lesson is completed.
func (p *Progress) HasLesson(lessonID int) bool {
	return slices.Contains(p.CompletedLessons, lessonID)
}

// AddLesson records a completed lesson; it reports false when already present.
func (p *Progress) AddLesson(lessonID int) bool {
	if p.HasLesson(lessonID) {
		return false
	}
	p.CompletedLessons = append(p.CompletedLessons, lessonID)
	return true
}

// HasQuiz reports whether a lesson quiz is completed.
func (p *Progress) HasQuiz(lessonID int) bool {
	return slices.Contains(p.CompletedQuizzes, lessonID)
}

// AddQuiz records a completed quiz; it reports false when already present.
func (p *Progress) AddQuiz(lessonID int) bool {
	if p.HasQuiz(lessonID) {
		return false
	}
	p.CompletedQuizzes = append(p.CompletedQuizzes, lessonID)
	return true
}
