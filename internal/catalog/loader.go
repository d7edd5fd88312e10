package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/pylearn/internal/domain"
)

// LessonFile represents the YAML structure of a lesson
type LessonFile struct {
	ID           int                      `yaml:"id"`
	Title        string                   `yaml:"title"`
	Content      string                   `yaml:"content"`
	Instructions string                   `yaml:"instructions"`
	Quiz         []QuestionFile           `yaml:"quiz"`
	Challenges   map[string]ChallengeFile `yaml:"challenges"`
}

// QuestionFile represents a quiz question in a lesson file
type QuestionFile struct {
	Question string   `yaml:"question"`
	Options  []string `yaml:"options"`
	Correct  int      `yaml:"correct"`
}

// ChallengeFile represents a challenge tier in a lesson file
type ChallengeFile struct {
	Title        string `yaml:"title"`
	Instructions string `yaml:"instructions"`
	StarterCode  string `yaml:"starter_code"`
	Validation   struct {
		Type     string `yaml:"type"`
		Expected string `yaml:"expected"`
		Check    string `yaml:"check"`
		Arg      string `yaml:"arg"`
	} `yaml:"validation"`
	Hints []string `yaml:"hints"`
}

// ReferenceFile represents the YAML structure of reference.yaml
type ReferenceFile struct {
	References []struct {
		Lesson    int                      `yaml:"lesson"`
		Title     string                   `yaml:"title"`
		Syntax    []domain.SyntaxItem      `yaml:"syntax"`
		Functions []domain.FunctionItem    `yaml:"functions"`
		Examples  []domain.ExampleItem     `yaml:"examples"`
		Errors    []domain.CommonErrorItem `yaml:"errors"`
	} `yaml:"references"`
}

// Loader reads lessons from a filesystem laid out as
// lessons/*.yaml, reference.yaml and lesson.schema.json.
type Loader struct {
	fsys   fs.FS
	schema *schema
}

// NewLoader creates a loader over fsys. The lesson schema is read from
// fsys when present and from the builtin data otherwise.
func NewLoader(fsys fs.FS) (*Loader, error) {
	raw, err := fs.ReadFile(fsys, schemaFile)
	if err != nil {
		raw, err = fs.ReadFile(Builtin, "data/"+schemaFile)
		if err != nil {
			return nil, fmt.Errorf("read lesson schema: %w", err)
		}
	}
	sch, err := compileSchema(raw)
	if err != nil {
		return nil, err
	}
	return &Loader{fsys: fsys, schema: sch}, nil
}

const (
	schemaFile    = "lesson.schema.json"
	referenceFile = "reference.yaml"
	lessonsDir    = "lessons"
)

// LoadLessons loads every lesson file sorted by id
func (l *Loader) LoadLessons() ([]*domain.Lesson, error) {
	names, err := fs.Glob(l.fsys, path.Join(lessonsDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	sort.Strings(names)

	lessons := make([]*domain.Lesson, 0, len(names))
	for _, name := range names {
		lesson, err := l.LoadLesson(name)
		if err != nil {
			return nil, fmt.Errorf("load lesson %s: %w", name, err)
		}
		lessons = append(lessons, lesson)
	}

	sort.Slice(lessons, func(i, j int) bool { return lessons[i].ID < lessons[j].ID })
	return lessons, nil
}

// LoadLesson loads and validates a single lesson file
func (l *Loader) LoadLesson(name string) (*domain.Lesson, error) {
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read lesson file: %w", err)
	}

	if err := l.schema.validateYAML(data); err != nil {
		return nil, err
	}

	var lf LessonFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse lesson file: %w", err)
	}

	return lf.toDomain()
}

// LoadReferences loads reference.yaml. A missing file yields no references.
func (l *Loader) LoadReferences() (map[int]*domain.Reference, error) {
	refs := make(map[int]*domain.Reference)

	data, err := fs.ReadFile(l.fsys, referenceFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return refs, nil
		}
		return nil, fmt.Errorf("read reference file: %w", err)
	}

	var rf ReferenceFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse reference file: %w", err)
	}

	for _, r := range rf.References {
		if _, dup := refs[r.Lesson]; dup {
			return nil, fmt.Errorf("duplicate reference for lesson %d", r.Lesson)
		}
		refs[r.Lesson] = &domain.Reference{
			LessonID:  r.Lesson,
			Title:     r.Title,
			Syntax:    r.Syntax,
			Functions: r.Functions,
			Examples:  r.Examples,
			Errors:    r.Errors,
		}
	}
	return refs, nil
}

func (lf *LessonFile) toDomain() (*domain.Lesson, error) {
	lesson := &domain.Lesson{
		ID:           lf.ID,
		Title:        lf.Title,
		Content:      lf.Content,
		Instructions: lf.Instructions,
		Quiz:         make([]domain.Question, len(lf.Quiz)),
		Challenges:   make(map[domain.Difficulty]*domain.Challenge, len(lf.Challenges)),
	}

	for i, q := range lf.Quiz {
		if q.Correct < 0 || q.Correct >= len(q.Options) {
			return nil, fmt.Errorf("question %d: correct index %d out of range", i+1, q.Correct)
		}
		lesson.Quiz[i] = domain.Question{
			Question: q.Question,
			Options:  q.Options,
			Correct:  q.Correct,
		}
	}

	for tier, cf := range lf.Challenges {
		d, err := domain.ParseDifficulty(tier)
		if err != nil {
			return nil, err
		}
		v, err := cf.validation()
		if err != nil {
			return nil, fmt.Errorf("%s challenge: %w", tier, err)
		}
		lesson.Challenges[d] = &domain.Challenge{
			Title:        cf.Title,
			Instructions: cf.Instructions,
			StarterCode:  cf.StarterCode,
			Validation:   v,
			Hints:        cf.Hints,
		}
	}

	return lesson, nil
}

func (cf *ChallengeFile) validation() (domain.Validation, error) {
	switch cf.Validation.Type {
	case domain.KindOutput:
		return domain.OutputMatch{Expected: cf.Validation.Expected}, nil
	case domain.KindFunction:
		return domain.NewPredicate(cf.Validation.Check, cf.Validation.Arg)
	default:
		return nil, fmt.Errorf("%w: validation type %q", domain.ErrInvalidInput, cf.Validation.Type)
	}
}

// yamlToJSON converts a YAML document into the value json.Unmarshal would
// produce for the same data.
func yamlToJSON(data []byte) (any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	return out, nil
}
