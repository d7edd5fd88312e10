package domain

import (
	"testing"
	"time"
)

func TestNewProgress(t *testing.T) {
	p := NewProgress()

	if p.CurrentLessonID != 1 {
		t.Errorf("CurrentLessonID = %d; want 1", p.CurrentLessonID)
	}
	if p.CompletedLessons == nil || len(p.CompletedLessons) != 0 {
		t.Errorf("CompletedLessons = %v; want empty", p.CompletedLessons)
	}
	if p.CompletedChallenges == nil || len(p.CompletedChallenges) != 0 {
		t.Errorf("CompletedChallenges = %v; want empty", p.CompletedChallenges)
	}
	if p.LastAccessed != nil {
		t.Errorf("LastAccessed = %v; want nil", p.LastAccessed)
	}
}

func TestProgress_AddChallenge_Idempotent(t *testing.T) {
	p := NewProgress()

	if !p.AddChallenge(1, DifficultyEasy) {
		t.Error("first AddChallenge() = false; want true")
	}
	if p.AddChallenge(1, DifficultyEasy) {
		t.Error("second AddChallenge() = true; want false")
	}
	if got := p.ChallengesFor(1); len(got) != 1 || got[0] != DifficultyEasy {
		t.Errorf("ChallengesFor(1) = %v; want [easy]", got)
	}
}

func TestProgress_AllChallengesDone(t *testing.T) {
	p := NewProgress()
	p.AddChallenge(2, DifficultyHard)
	p.AddChallenge(2, DifficultyEasy)
	if p.AllChallengesDone(2) {
		t.Error("AllChallengesDone() = true with medium missing")
	}
	p.AddChallenge(2, DifficultyMedium)
	if !p.AllChallengesDone(2) {
		t.Error("AllChallengesDone() = false with all tiers done")
	}
}

func TestProgress_Clone(t *testing.T) {
	now := time.Now()
	p := NewProgress()
	p.AddChallenge(1, DifficultyEasy)
	p.AddQuiz(1)
	p.LastAccessed = &now

	c := p.Clone()
	c.AddChallenge(1, DifficultyMedium)
	c.AddLesson(1)
	c.LastAccessed = nil

	if len(p.ChallengesFor(1)) != 1 {
		t.Errorf("original challenges mutated: %v", p.ChallengesFor(1))
	}
	if p.HasLesson(1) {
		t.Error("original lessons mutated")
	}
	if p.LastAccessed == nil {
		t.Error("original LastAccessed mutated")
	}
}
