// Package catalog holds the ordered, read-only sequence of lessons and their
// reference sheets.
package catalog

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/felixgeelhaar/pylearn/internal/domain"
)

// Catalog provides access to lessons addressed by id 1..N
type Catalog struct {
	lessons    []*domain.Lesson // index i holds lesson i+1
	references map[int]*domain.Reference
}

// Load builds a catalog from fsys using the loader layout.
func Load(fsys fs.FS) (*Catalog, error) {
	loader, err := NewLoader(fsys)
	if err != nil {
		return nil, err
	}

	lessons, err := loader.LoadLessons()
	if err != nil {
		return nil, err
	}
	refs, err := loader.LoadReferences()
	if err != nil {
		return nil, err
	}

	return New(lessons, refs)
}

// LoadBuiltin builds the catalog shipped with the binary.
func LoadBuiltin() (*Catalog, error) {
	sub, err := fs.Sub(Builtin, "data")
	if err != nil {
		return nil, fmt.Errorf("open builtin lessons: %w", err)
	}
	return Load(sub)
}

// LoadDir builds a catalog from a directory on disk.
func LoadDir(dir string) (*Catalog, error) {
	return Load(os.DirFS(dir))
}

// New builds a catalog from already parsed lessons. Ids must run 1..N
// without gaps or duplicates.
func New(lessons []*domain.Lesson, refs map[int]*domain.Reference) (*Catalog, error) {
	ordered := make([]*domain.Lesson, len(lessons))
	for _, l := range lessons {
		if l.ID < 1 || l.ID > len(lessons) {
			return nil, fmt.Errorf("%w: lesson id %d outside 1..%d", domain.ErrInvalidInput, l.ID, len(lessons))
		}
		if ordered[l.ID-1] != nil {
			return nil, fmt.Errorf("%w: duplicate lesson id %d", domain.ErrInvalidInput, l.ID)
		}
		ordered[l.ID-1] = l
	}
	if refs == nil {
		refs = make(map[int]*domain.Reference)
	}
	return &Catalog{lessons: ordered, references: refs}, nil
}

// Count returns the number of lessons
func (c *Catalog) Count() int {
	return len(c.lessons)
}

// Lesson returns a lesson by id
func (c *Catalog) Lesson(id int) (*domain.Lesson, error) {
	if id < 1 || id > len(c.lessons) {
		return nil, fmt.Errorf("%w: %d", domain.ErrLessonNotFound, id)
	}
	return c.lessons[id-1], nil
}

// All returns the lessons in order
func (c *Catalog) All() []*domain.Lesson {
	out := make([]*domain.Lesson, len(c.lessons))
	copy(out, c.lessons)
	return out
}

// Next returns the id following id. ok is false for the last lesson.
func (c *Catalog) Next(id int) (int, bool) {
	if id < 1 || id >= len(c.lessons) {
		return 0, false
	}
	return id + 1, true
}

// Previous returns the id before id. ok is false for the first lesson.
func (c *Catalog) Previous(id int) (int, bool) {
	if id <= 1 || id > len(c.lessons) {
		return 0, false
	}
	return id - 1, true
}

// Challenge returns the challenge of a lesson tier
func (c *Catalog) Challenge(id int, d domain.Difficulty) (*domain.Challenge, error) {
	lesson, err := c.Lesson(id)
	if err != nil {
		return nil, err
	}
	ch := lesson.Challenge(d)
	if ch == nil {
		return nil, fmt.Errorf("%w: lesson %d %s", domain.ErrChallengeNotFound, id, d)
	}
	return ch, nil
}

// Reference returns the reference sheet of a lesson
func (c *Catalog) Reference(id int) (*domain.Reference, error) {
	ref, ok := c.references[id]
	if !ok {
		return nil, fmt.Errorf("%w: lesson %d", domain.ErrReferenceNotFound, id)
	}
	return ref, nil
}
