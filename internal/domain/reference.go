package domain

// Reference is the quick reference sheet shown alongside a lesson.
type Reference struct {
	LessonID  int               `json:"lesson"`
	Title     string            `json:"title"`
	Syntax    []SyntaxItem      `json:"syntax,omitempty"`
	Functions []FunctionItem    `json:"functions,omitempty"`
	Examples  []ExampleItem     `json:"examples,omitempty"`
	Errors    []CommonErrorItem `json:"errors,omitempty"`
}

// SyntaxItem is a syntax form with a short description.
type SyntaxItem struct {
	Code string `json:"code" yaml:"code"`
	Desc string `json:"desc" yaml:"desc"`
}

// FunctionItem is a function signature with a short description.
type FunctionItem struct {
	Name string `json:"name" yaml:"name"`
	Desc string `json:"desc" yaml:"desc"`
}

// ExampleItem is a worked example.
type ExampleItem struct {
	Title string `json:"title" yaml:"title"`
	Code  string `json:"code" yaml:"code"`
}

// CommonErrorItem explains a frequent error.
type CommonErrorItem struct {
	Error string `json:"error" yaml:"error"`
	Cause string `json:"cause" yaml:"cause"`
}
