package handlers

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// filePathPattern matches backtick-quoted tokens (as tool-activity glyphs
// emit, e.g. "Edit(`src/x.ts`)") or bare absolute paths, the two shapes
// turnText/text actually carry.
var filePathPattern = regexp.MustCompile("`([^`]+)`|(/[^\\s`]+)")

// extractFilePaths finds path-shaped tokens in text, validates each
// against projectPath (SPEC_FULL.md §4.6 session.idle step 7, invariant
// 7), and returns the validated absolute paths plus text with every
// validated path's matched token stripped out.
func extractFilePaths(text, projectPath string) (validated []string, display string) {
	if text == "" || projectPath == "" {
		return nil, text
	}
	matches := filePathPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		var candidate string
		if m[2] != -1 {
			candidate = text[m[2]:m[3]]
		} else if m[4] != -1 {
			candidate = text[m[4]:m[5]]
		}
		if !looksLikePath(candidate) {
			continue
		}
		abs, ok := validatePath(candidate, projectPath)
		if !ok {
			continue
		}
		validated = append(validated, abs)
		b.WriteString(text[last:m[0]])
		last = m[1]
	}
	b.WriteString(text[last:])
	if len(validated) == 0 {
		return nil, text
	}
	return validated, strings.TrimSpace(b.String())
}

func looksLikePath(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	return strings.Contains(s, "/") || strings.Contains(s, ".")
}

// validatePath resolves candidate against projectPath, requiring the
// result to exist on disk and its real path to live under projectPath
// (SPEC_FULL.md §8 invariant 7).
func validatePath(candidate, projectPath string) (string, bool) {
	abs := candidate
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(projectPath, candidate)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", false
	}
	if _, err := os.Stat(real); err != nil {
		return "", false
	}
	rootReal, err := filepath.EvalSymlinks(projectPath)
	if err != nil {
		rootReal = projectPath
	}
	if real != rootReal && !strings.HasPrefix(real, rootReal+string(filepath.Separator)) {
		return "", false
	}
	return real, true
}
