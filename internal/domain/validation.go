package domain

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Validation decides whether captured program output satisfies a challenge.
// It is implemented by OutputMatch and Predicate.
type Validation interface {
	Validate(output string) bool
	Kind() string
}

// Validation kinds as they appear in lesson files.
const (
	KindOutput   = "output"
	KindFunction = "function"
)

// OutputMatch passes when the trimmed output equals the trimmed expectation.
// Internal whitespace, case and line endings are compared byte for byte.
type OutputMatch struct {
	Expected string
}

// Validate implements Validation.
func (m OutputMatch) Validate(output string) bool {
	return strings.TrimSpace(m.Expected) == strings.TrimSpace(output)
}

// Kind implements Validation.
func (m OutputMatch) Kind() string { return KindOutput }

// Predicate delegates to an arbitrary check over the raw output.
type Predicate struct {
	Name  string
	Check func(output string) bool
}

// Validate implements Validation.
func (p Predicate) Validate(output string) bool {
	if p.Check == nil {
		return false
	}
	return p.Check(output)
}

// Kind implements Validation.
func (p Predicate) Kind() string { return KindFunction }

// CheckFactory builds a predicate from its lesson file argument.
type CheckFactory func(arg string) (func(string) bool, error)

var checks = map[string]CheckFactory{
	"contains": func(arg string) (func(string) bool, error) {
		return func(out string) bool { return strings.Contains(out, arg) }, nil
	},
	"regex": func(arg string) (func(string) bool, error) {
		re, err := regexp.Compile(arg)
		if err != nil {
			return nil, fmt.Errorf("compile regex: %w", err)
		}
		return re.MatchString, nil
	},
	"line_count": func(arg string) (func(string) bool, error) {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("parse line count: %w", err)
		}
		return func(out string) bool {
			out = strings.TrimSpace(out)
			if out == "" {
				return n == 0
			}
			return len(strings.Split(out, "\n")) == n
		}, nil
	},
	"number": func(arg string) (func(string) bool, error) {
		want, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("parse number: %w", err)
		}
		return func(out string) bool {
			got, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
			return err == nil && math.Abs(got-want) < 1e-9
		}, nil
	},
}

// NewPredicate builds a named predicate validation.
func NewPredicate(name, arg string) (Predicate, error) {
	factory, ok := checks[name]
	if !ok {
		return Predicate{}, fmt.Errorf("%w: %s", ErrUnknownCheck, name)
	}
	check, err := factory(arg)
	if err != nil {
		return Predicate{}, fmt.Errorf("check %s: %w", name, err)
	}
	return Predicate{Name: name, Check: check}, nil
}
