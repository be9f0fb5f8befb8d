package latex

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xats-org/convert/core/converter"
)

var (
	citeRegex  = regexp.MustCompile(`\\cite[pt]?\{([^}]*)\}`)
	refRegex   = regexp.MustCompile(`\\(?:auto|c)?ref\{([^}]*)\}`)
	labelRegex = regexp.MustCompile(`\\label\{([^}]*)\}`)
	usepkg     = regexp.MustCompile(`\\usepackage(?:\[[^\]]*\])?\{([^}]*)\}`)
)

// Validate implements converter.Interface. It runs format-specific syntax
// and structural checks on raw LaTeX, independent of any document. Missing
// required anchors and balance failures are errors; heuristic issues are
// warnings.
func (c *Converter) Validate(content string) *converter.ValidationResult {
	result := &converter.ValidationResult{Valid: true}

	stripped := stripComments(content)

	// Required format anchors.
	if !strings.Contains(stripped, "\\documentclass") {
		result.AddError("missing-documentclass", "no \\documentclass declaration", 0)
	}
	if !strings.Contains(stripped, "\\begin{document}") {
		result.AddError("missing-begin-document", "no \\begin{document}", 0)
	}
	if !strings.Contains(stripped, "\\end{document}") {
		result.AddError("missing-end-document", "no \\end{document}", 0)
	}

	for _, issue := range checkBraceBalance(content) {
		result.Valid = false
		result.Issues = append(result.Issues, issue)
	}
	for _, issue := range checkEnvironmentBalance(content) {
		result.Valid = false
		result.Issues = append(result.Issues, issue)
	}

	c.heuristics(stripped, result)
	return result
}

// heuristics adds the non-fatal warning checks.
func (c *Converter) heuristics(content string, result *converter.ValidationResult) {
	// Citations without any bibliography.
	if citeRegex.MatchString(content) {
		hasBib := strings.Contains(content, "\\bibliography{") ||
			strings.Contains(content, "\\printbibliography") ||
			strings.Contains(content, "\\begin{thebibliography}")
		if !hasBib {
			result.AddWarning("missing-bibliography",
				"citations present but no bibliography command found", 0)
		}
	}

	// Cross-reference bookkeeping.
	defined := map[string]bool{}
	for _, m := range labelRegex.FindAllStringSubmatch(content, -1) {
		defined[m[1]] = true
	}
	used := map[string]bool{}
	for _, m := range refRegex.FindAllStringSubmatch(content, -1) {
		used[m[1]] = true
	}
	for label := range used {
		if !defined[label] {
			result.AddWarning("undefined-reference",
				fmt.Sprintf("\\ref{%s} has no matching \\label", label), 0)
		}
	}
	for label := range defined {
		if !used[label] {
			result.AddWarning("unused-label",
				fmt.Sprintf("\\label{%s} is never referenced", label), 0)
		}
	}

	// Package conflicts.
	packages := map[string]bool{}
	for _, m := range usepkg.FindAllStringSubmatch(content, -1) {
		for _, name := range strings.Split(m[1], ",") {
			packages[strings.TrimSpace(name)] = true
		}
	}
	if packages["natbib"] && packages["biblatex"] {
		result.AddWarning("package-conflict", "natbib and biblatex are mutually exclusive", 0)
	}

	// Unbalanced inline math.
	if countUnescapedDollars(content)%2 != 0 {
		result.AddWarning("unbalanced-math", "odd number of unescaped $ delimiters", 0)
	}
}

func countUnescapedDollars(content string) int {
	count := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\\' {
			i++
			continue
		}
		if content[i] == '$' {
			count++
		}
	}
	return count
}
