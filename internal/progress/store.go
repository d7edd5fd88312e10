// Package progress persists the learner's progress record as a single JSON
// value in a key-value backend. Storage faults never reach callers: reads
// fall back to defaults and writes report false.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/felixgeelhaar/pylearn/internal/domain"
	"github.com/felixgeelhaar/pylearn/internal/storage"
)

// DefaultKey is the storage key of the progress record.
const DefaultKey = "pylearn_progress"

// Store owns the progress record
type Store struct {
	kv     storage.KV
	key    string
	now    func() time.Time
	logger *slog.Logger

	// mu serializes load-modify-save cycles within the process.
	mu sync.Mutex
}

// Option configures a Store
type Option func(*Store)

// WithKey overrides the storage key
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithClock overrides the time source used for lastAccessed
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for swallowed storage faults
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a progress store over kv
func NewStore(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		key:    DefaultKey,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored record, or defaults when the record is missing,
// unreadable or malformed.
func (s *Store) Load(ctx context.Context) *domain.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) *domain.Progress {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to read progress", "key", s.key, "error", err)
		}
		return domain.NewProgress()
	}

	p, err := decode(data)
	if err != nil {
		s.logger.Warn("discarding malformed progress", "key", s.key, "error", err)
		return domain.NewProgress()
	}
	return p
}

// Save stamps lastAccessed and writes the record. It reports false on any
// storage failure.
func (s *Store) Save(ctx context.Context, p *domain.Progress) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, p)
}

func (s *Store) save(ctx context.Context, p *domain.Progress) bool {
	now := s.now().UTC()
	p.LastAccessed = &now

	data, err := json.Marshal(p)
	if err != nil {
		s.logger.Error("failed to encode progress", "error", err)
		return false
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		s.logger.Error("failed to save progress", "key", s.key, "error", err)
		return false
	}
	return true
}

// update runs a full load-modify-save cycle and returns the mutated record
// even when the write did not persist.
func (s *Store) update(ctx context.Context, fn func(p *domain.Progress) bool) *domain.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.load(ctx)
	if fn(p) {
		s.save(ctx, p)
	}
	return p
}

// CompleteLesson records a completed lesson. Lessons whose three tiers are
// not all completed are left out.
func (s *Store) CompleteLesson(ctx context.Context, lessonID int) *domain.Progress {
	return s.update(ctx, func(p *domain.Progress) bool {
		if !p.AllChallengesDone(lessonID) {
			s.logger.Warn("lesson not complete, challenges missing", "lesson", lessonID,
				"completed", p.ChallengesFor(lessonID))
			return false
		}
		p.AddLesson(lessonID)
		return true
	})
}

// CompleteChallenge records a completed tier of a lesson
func (s *Store) CompleteChallenge(ctx context.Context, lessonID int, d domain.Difficulty) *domain.Progress {
	return s.update(ctx, func(p *domain.Progress) bool {
		p.AddChallenge(lessonID, d)
		return true
	})
}

// CompleteQuiz records a completed lesson quiz
func (s *Store) CompleteQuiz(ctx context.Context, lessonID int) *domain.Progress {
	return s.update(ctx, func(p *domain.Progress) bool {
		p.AddQuiz(lessonID)
		return true
	})
}

// SetCurrentLesson records the lesson the learner is on
func (s *Store) SetCurrentLesson(ctx context.Context, lessonID int) *domain.Progress {
	return s.update(ctx, func(p *domain.Progress) bool {
		p.CurrentLessonID = lessonID
		return true
	})
}

// Reset deletes the record. It reports false when the backend failed.
func (s *Store) Reset(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, s.key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("failed to reset progress", "key", s.key, "error", err)
		return false
	}
	return true
}

// IsChallengeCompleted reports whether a tier is completed
func (s *Store) IsChallengeCompleted(ctx context.Context, lessonID int, d domain.Difficulty) bool {
	return s.Load(ctx).HasChallenge(lessonID, d)
}

// CompletedChallenges returns the completed tiers of a lesson
func (s *Store) CompletedChallenges(ctx context.Context, lessonID int) []domain.Difficulty {
	c := s.Load(ctx).ChallengesFor(lessonID)
	if c == nil {
		return []domain.Difficulty{}
	}
	return c
}

// IsQuizCompleted reports whether a lesson quiz is completed
func (s *Store) IsQuizCompleted(ctx context.Context, lessonID int) bool {
	return s.Load(ctx).HasQuiz(lessonID)
}

// IsLessonCompleted reports whether a lesson is completed
func (s *Store) IsLessonCompleted(ctx context.Context, lessonID int) bool {
	return s.Load(ctx).HasLesson(lessonID)
}

// CurrentLessonID returns the lesson the learner is on
func (s *Store) CurrentLessonID(ctx context.Context) int {
	return s.Load(ctx).CurrentLessonID
}

// CompletedLessons returns the ids of completed lessons
func (s *Store) CompletedLessons(ctx context.Context) []int {
	return s.Load(ctx).CompletedLessons
}

// Summary is an overview of course completion
type Summary struct {
	CurrentLesson    int `json:"currentLesson"`
	CompletedLessons int `json:"completedLessons"`
	TotalLessons     int `json:"totalLessons"`
	Percentage       int `json:"percentage"`
}

// Summary computes completion against total lessons
func (s *Store) Summary(ctx context.Context, total int) Summary {
	return Summarize(s.Load(ctx), total)
}

// Summarize computes completion of p against total lessons
func Summarize(p *domain.Progress, total int) Summary {
	sum := Summary{
		CurrentLesson:    p.CurrentLessonID,
		CompletedLessons: len(p.CompletedLessons),
		TotalLessons:     total,
	}
	if total > 0 {
		sum.Percentage = int(math.Round(float64(sum.CompletedLessons) / float64(total) * 100))
	}
	return sum
}

// decode parses a stored record. currentLessonId must be a number and
// completedLessons an array; other fields default to empty when absent.
func decode(data []byte) (*domain.Progress, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse progress: %w", err)
	}
	if raw == nil {
		return nil, errors.New("progress is not an object")
	}

	p := domain.NewProgress()

	cur, ok := raw["currentLessonId"]
	if !ok {
		return nil, errors.New("missing currentLessonId")
	}
	var id float64
	if err := json.Unmarshal(cur, &id); err != nil {
		return nil, fmt.Errorf("currentLessonId: %w", err)
	}
	if id != math.Trunc(id) {
		return nil, fmt.Errorf("currentLessonId %v is not an integer", id)
	}
	p.CurrentLessonID = int(id)

	lessons, ok := raw["completedLessons"]
	if !ok {
		return nil, errors.New("missing completedLessons")
	}
	if err := json.Unmarshal(lessons, &p.CompletedLessons); err != nil {
		return nil, fmt.Errorf("completedLessons: %w", err)
	}
	if p.CompletedLessons == nil {
		return nil, errors.New("completedLessons is not an array")
	}

	if v, ok := raw["completedChallenges"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &p.CompletedChallenges); err != nil {
			return nil, fmt.Errorf("completedChallenges: %w", err)
		}
	}
	if p.CompletedChallenges == nil {
		p.CompletedChallenges = map[string][]domain.Difficulty{}
	}

	if v, ok := raw["completedQuizzes"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &p.CompletedQuizzes); err != nil {
			return nil, fmt.Errorf("completedQuizzes: %w", err)
		}
	}
	if p.CompletedQuizzes == nil {
		p.CompletedQuizzes = []int{}
	}

	if v, ok := raw["lastAccessed"]; ok && !isNull(v) {
		var t time.Time
		if err := json.Unmarshal(v, &t); err == nil {
			p.LastAccessed = &t
		}
	}

	return p, nil
}

func isNull(v json.RawMessage) bool {
	return string(v) == "null"
}
