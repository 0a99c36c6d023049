package descriptor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// ErrMissingTemplate is returned when the descriptor template does not exist.
var ErrMissingTemplate = errors.New("descriptor template not found")

var placeholderPattern = regexp.MustCompile(`\$\{([^{}\s]+)\}`)

// ProcessResult describes a materialized template.
type ProcessResult struct {
	Path string
	// Unmatched lists placeholder names that had no token and were left verbatim.
	Unmatched []string
}

// Substitute replaces every ${name} placeholder that has a token with its value.
// Placeholders without a token are kept as written and returned in unmatched.
func Substitute(content string, tokens map[string]string) (string, []string) {
	seen := map[string]bool{}
	var unmatched []string

	out := placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := tokens[name]; ok {
			return value
		}
		if !seen[name] {
			seen[name] = true
			unmatched = append(unmatched, name)
		}
		return match
	})

	sort.Strings(unmatched)
	return out, unmatched
}

// Process reads the template at templatePath, substitutes tokens and writes the
// result to destination, creating parent directories as needed.
func Process(templatePath, destination string, tokens map[string]string) (ProcessResult, error) {
	content, err := os.ReadFile(templatePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ProcessResult{}, fmt.Errorf("%w: %s", ErrMissingTemplate, templatePath)
		}
		return ProcessResult{}, fmt.Errorf("read descriptor template: %w", err)
	}

	out, unmatched := Substitute(string(content), tokens)

	if err := writeFile(destination, []byte(out)); err != nil {
		return ProcessResult{}, err
	}
	return ProcessResult{Path: destination, Unmatched: unmatched}, nil
}

func writeFile(path string, content []byte) error {
	if path == "" {
		return errors.New("descriptor destination is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create descriptor directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}
