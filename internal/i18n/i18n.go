// Package i18n resolves user-facing messages from embedded locale files.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Message ids
const (
	QuizCorrect       = "quiz.correct"
	QuizIncorrect     = "quiz.incorrect"
	QuizProgress      = "quiz.progress"
	QuizComplete      = "quiz.complete"
	QuizCompleteBody  = "quiz.complete_body"
	ChallengeNone     = "challenge.none"
	ChallengeExecErr  = "challenge.exec_error"
	ChallengeFailure  = "challenge.failure"
	ChallengeHint     = "challenge.hint"
	ChallengeNotQuite = "challenge.not_quite"
	ChallengeNextTier = "challenge.next_tier"
	ChallengeRemain   = "challenge.remaining"
	ChallengeNextLes  = "challenge.next_lesson"
	ChallengeAllDone  = "challenge.all_lessons"
	ChallengeProgress = "challenge.progress"
	OutputEmpty       = "output.empty"
	ProgressReset     = "progress.reset"
	ReferenceTitle    = "reference.title"
	RuntimeLoading    = "runtime.loading"
	RuntimeReady      = "runtime.ready"
	RuntimeError      = "runtime.error"
)

// DifficultyLabel returns the message id of a tier label.
func DifficultyLabel(d string) string {
	return "difficulty." + d
}

// Translator localizes messages for one language.
type Translator struct {
	localizer *i18n.Localizer
	lang      string
}

var bundle = mustBundle()

func mustBundle() *i18n.Bundle {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		panic(fmt.Sprintf("read locales dir: %v", err))
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			panic(fmt.Sprintf("read locale file %s: %v", e.Name(), err))
		}
		b.MustParseMessageFileBytes(data, e.Name())
	}
	return b
}

// New creates a translator for lang. English is used for missing messages.
func New(lang string) (*Translator, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, fmt.Errorf("parse language %q: %w", lang, err)
	}
	return &Translator{
		localizer: i18n.NewLocalizer(bundle, tag.String(), language.English.String()),
		lang:      tag.String(),
	}, nil
}

// English returns the default translator.
func English() *Translator {
	t, _ := New("en")
	return t
}

// Languages lists the tags with a locale file.
func Languages() []string {
	tags := bundle.LanguageTags()
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

// Lang returns the translator language tag.
func (t *Translator) Lang() string {
	return t.lang
}

// T translates a message by id with optional template data.
func (t *Translator) T(msgID string, data map[string]any) string {
	s, err := t.localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: data,
	})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "lang", t.lang, "error", err)
		return msgID
	}
	return s
}
