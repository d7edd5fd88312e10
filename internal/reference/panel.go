// Package reference manages the quick reference side panel.
package reference

import (
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/pylearn/internal/domain"
	"github.com/felixgeelhaar/pylearn/internal/i18n"
)

// Source looks up reference sheets
type Source interface {
	Reference(lessonID int) (*domain.Reference, error)
}

// View is the rendered panel content
type View struct {
	LessonID  int                      `json:"lesson"`
	Title     string                   `json:"title"`
	Syntax    []domain.SyntaxItem      `json:"syntax"`
	Functions []domain.FunctionItem    `json:"functions"`
	Examples  []domain.ExampleItem     `json:"examples"`
	Errors    []domain.CommonErrorItem `json:"errors"`
}

// Panel tracks whether the panel is open and what it shows. Nothing here
// is persisted.
type Panel struct {
	source Source
	tr     *i18n.Translator
	logger *slog.Logger

	mu   sync.Mutex
	open bool
	view View
}

// NewPanel creates a closed panel
func NewPanel(source Source, tr *i18n.Translator, logger *slog.Logger) *Panel {
	if tr == nil {
		tr = i18n.English()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Panel{source: source, tr: tr, logger: logger}
}

// Render builds the view of a lesson's reference sheet. Missing sections
// render as empty lists.
func (p *Panel) Render(lessonID int) (View, error) {
	ref, err := p.source.Reference(lessonID)
	if err != nil {
		p.logger.Warn("no reference data for lesson", "lesson", lessonID)
		return View{}, err
	}

	title := ref.Title
	if title == "" {
		title = p.tr.T(i18n.ReferenceTitle, nil)
	}
	return View{
		LessonID:  lessonID,
		Title:     title,
		Syntax:    orEmpty(ref.Syntax),
		Functions: orEmpty(ref.Functions),
		Examples:  orEmpty(ref.Examples),
		Errors:    orEmpty(ref.Errors),
	}, nil
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// Toggle opens a closed panel for lessonID or closes an open one. It
// returns the current view and whether the panel is now open.
func (p *Panel) Toggle(lessonID int) (View, bool) {
	p.mu.Lock()
	open := p.open
	p.mu.Unlock()

	if open {
		p.Close()
		return p.View(), false
	}
	return p.Open(lessonID), true
}

// Open shows the panel and refreshes it for lessonID. When the lesson has no
// reference sheet the previous content stays.
func (p *Panel) Open(lessonID int) View {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.open = true
	if v, err := p.Render(lessonID); err == nil {
		p.view = v
	}
	return p.view
}

// Close hides the panel
func (p *Panel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
}

// IsOpen reports whether the panel is shown
func (p *Panel) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Refresh updates an open panel after navigation. A closed panel is left
// alone.
func (p *Panel) Refresh(lessonID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return
	}
	if v, err := p.Render(lessonID); err == nil {
		p.view = v
	}
}

// View returns the last rendered content
func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}
