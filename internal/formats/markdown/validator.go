package markdown

import (
	"fmt"
	"strings"

	"github.com/xats-org/convert/core/converter"
)

// Validate implements converter.Interface. Markdown has no grammar to
// reject, so errors are limited to broken front matter and unclosed code
// fences; everything else is heuristic warnings.
func (c *Converter) Validate(content string) *converter.ValidationResult {
	result := &converter.ValidationResult{Valid: true}

	if _, _, err := splitFrontMatter(content); err != nil {
		result.AddError("invalid-front-matter", err.Error(), 1)
	}

	checkFences(content, result)
	checkHeadings(content, result)
	checkTables(content, result)
	checkLinks(content, result)
	return result
}

// checkFences verifies every ``` fence is closed.
func checkFences(content string, result *converter.ValidationResult) {
	openLine := 0
	inFence := false
	for n, line := range strings.Split(content, "\n") {
		if fenceRegex.MatchString(strings.TrimSpace(line)) {
			if inFence {
				inFence = false
			} else {
				inFence = true
				openLine = n + 1
			}
		}
	}
	if inFence {
		result.AddError("unclosed-fence",
			fmt.Sprintf("code fence opened at line %d is never closed", openLine), openLine)
	}
}

// checkHeadings warns on levels that jump by more than one.
func checkHeadings(content string, result *converter.ValidationResult) {
	prev := 0
	inFence := false
	for n, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if fenceRegex.MatchString(trimmed) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := atxHeadingRegex.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		level := len(m[1])
		if prev > 0 && level > prev+1 {
			result.AddWarning("heading-level-jump",
				fmt.Sprintf("heading level jumps from %d to %d", prev, level), n+1)
		}
		prev = level
	}
}

// checkTables warns when a table row has a different column count than its
// header.
func checkTables(content string, result *converter.ValidationResult) {
	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(strings.TrimSpace(lines[i]), "|") {
			continue
		}
		if i+1 >= len(lines) || !isTableSeparator(lines[i+1]) {
			continue
		}
		width := len(splitTableRow(lines[i]))
		for j := i + 2; j < len(lines); j++ {
			trimmed := strings.TrimSpace(lines[j])
			if !strings.HasPrefix(trimmed, "|") {
				i = j - 1
				break
			}
			if got := len(splitTableRow(trimmed)); got != width {
				result.AddWarning("ragged-table",
					fmt.Sprintf("table row has %d columns, header has %d", got, width), j+1)
			}
			i = j
		}
	}
}

// checkLinks warns on link syntax left half-open.
func checkLinks(content string, result *converter.ValidationResult) {
	for n, line := range strings.Split(content, "\n") {
		idx := strings.Index(line, "](")
		if idx < 0 {
			continue
		}
		if !strings.Contains(line[idx:], ")") {
			result.AddWarning("unclosed-link",
				"link target is never closed", n+1)
		}
	}
}
