package runner

import (
	"path"
	"regexp"
	"strings"
)

var (
	// Matches: File "/tmp/pylearn-run-1/main.py", line 3, in <module>
	frameRegex = regexp.MustCompile(`^\s*File "([^"]+)", line (\d+)(.*)$`)
	// Matches the final exception line: ZeroDivisionError: division by zero
	exceptionRegex = regexp.MustCompile(`^[A-Za-z_][\w.]*(:.*)?$`)
)

// UserFile is the file name user code is executed as.
const UserFile = "main.py"

// FormatDiagnostic condenses a Python traceback to the user code frames,
// their source and caret lines, and the exception line. Frames from the
// standard library or the runtime are dropped.
func FormatDiagnostic(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	var kept []string
	inUserFrame := false

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if m := frameRegex.FindStringSubmatch(line); m != nil {
			inUserFrame = isUserFile(m[1])
			if inUserFrame {
				kept = append(kept, `  File "`+UserFile+`", line `+m[2]+m[3])
			}
			continue
		}

		indented := strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
		if indented {
			// Source and caret lines belong to the preceding frame
			if inUserFrame {
				kept = append(kept, line)
			}
			continue
		}

		inUserFrame = false
		if isTracebackHeader(line) {
			continue
		}
		if exceptionRegex.MatchString(line) {
			kept = append(kept, line)
		}
	}

	if len(kept) > 0 {
		return strings.Join(kept, "\n")
	}

	// Fall back to anything that looks like an error line
	for _, line := range lines {
		if strings.Contains(line, "Error:") || strings.Contains(line, "Exception:") {
			kept = append(kept, strings.TrimSpace(line))
		}
	}
	if len(kept) > 0 {
		return strings.Join(kept, "\n")
	}

	return strings.TrimSpace(raw)
}

func isUserFile(name string) bool {
	return name == "<exec>" || name == "<string>" || path.Base(name) == UserFile
}

func isTracebackHeader(line string) bool {
	return strings.HasPrefix(line, "Traceback (most recent call last)") ||
		strings.HasPrefix(line, "During handling of the above exception") ||
		strings.HasPrefix(line, "The above exception was the direct cause")
}
