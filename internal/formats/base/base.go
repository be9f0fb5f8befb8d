// Package base provides common functionality shared by the format
// converters: output assembly, word counting, panic recovery at the public
// converter boundary, and the per-call label registry threaded through
// recursive tree walks.
package base

import (
	"fmt"
	"strings"

	"github.com/xats-org/convert/core/converter"
)

// JoinParts assembles rendered segments with blank-line separators,
// dropping fully-blank segments.
func JoinParts(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		kept = append(kept, strings.TrimRight(p, "\n"))
	}
	return strings.Join(kept, "\n\n")
}

// CountWords estimates the word count of prose by whitespace tokenization.
// Callers strip format markup, comments, and math before calling.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// RecoverRender converts a panic escaping a Render implementation into a
// non-recoverable internal error on the result. Use as:
//
//	defer base.RecoverRender(result)
func RecoverRender(result *converter.RenderResult) {
	if r := recover(); r != nil {
		result.Content = ""
		result.Errors = append(result.Errors, converter.ConversionError{
			Code:        converter.CodeInternal,
			Message:     fmt.Sprintf("internal render failure: %v", r),
			Recoverable: false,
		})
	}
}

// RecoverParse converts a panic escaping a Parse implementation into a
// non-recoverable internal error, forcing the zero fidelity score.
func RecoverParse(result *converter.ParseResult) {
	if r := recover(); r != nil {
		result.Metadata.FidelityScore = 0
		result.Errors = append(result.Errors, converter.ConversionError{
			Code:        converter.CodeInternal,
			Message:     fmt.Sprintf("internal parse failure: %v", r),
			Recoverable: false,
		})
	}
}

// Labels tracks cross-reference targets across a single render or parse
// call. Each call constructs its own registry; nothing is shared between
// calls.
type Labels struct {
	defined map[string]bool
	used    map[string]bool
	counter int
}

// NewLabels returns an empty label registry.
func NewLabels() *Labels {
	return &Labels{
		defined: make(map[string]bool),
		used:    make(map[string]bool),
	}
}

// Define records a defined label.
func (l *Labels) Define(label string) {
	if label != "" {
		l.defined[label] = true
	}
}

// Use records a referenced label.
func (l *Labels) Use(label string) {
	if label != "" {
		l.used[label] = true
	}
}

// Undefined returns referenced labels that were never defined.
func (l *Labels) Undefined() []string {
	return diff(l.used, l.defined)
}

// Unused returns defined labels that were never referenced.
func (l *Labels) Unused() []string {
	return diff(l.defined, l.used)
}

// Next returns a fresh sequential identifier with the given prefix, for
// blocks whose source carries no id.
func (l *Labels) Next(prefix string) string {
	l.counter++
	return fmt.Sprintf("%s-%d", prefix, l.counter)
}

func diff(from, against map[string]bool) []string {
	var out []string
	for k := range from {
		if !against[k] {
			out = append(out, k)
		}
	}
	return out
}
