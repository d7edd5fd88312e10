package catalog

import "embed"

// Builtin holds the lessons and reference sheets shipped with the binary.
//
//go:embed data/lesson.schema.json data/reference.yaml data/lessons/*.yaml
var Builtin embed.FS
