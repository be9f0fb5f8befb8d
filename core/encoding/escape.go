// Package encoding provides shared text escaping utilities for the target
// serialization formats.
package encoding

import (
	"strings"
	"unicode"
)

// NormalizeSmartQuotes replaces typographic quotes and dashes with their
// ASCII equivalents. LaTeX output applies this before escaping so that
// curly quotes survive engines with limited input encodings.
func NormalizeSmartQuotes(s string) string {
	replacer := strings.NewReplacer(
		"“", "``",
		"”", "''",
		"‘", "`",
		"’", "'",
		"–", "--",
		"—", "---",
		" ", "~",
	)
	return replacer.Replace(s)
}

// StripControl removes control characters other than tab and newline.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// EscapeLaTeX escapes special characters for LaTeX documents.
// Escapes: \ { } $ % & # _ ^ ~ after smart-quote normalization and
// control-character stripping.
func EscapeLaTeX(s string) string {
	s = StripControl(NormalizeSmartQuotes(s))

	// Use placeholder for backslash to avoid re-escaping braces in \textbackslash{}
	const placeholder = "\x00BACKSLASH\x00"
	s = strings.ReplaceAll(s, "\\", placeholder)

	replacements := []struct {
		old, new string
	}{
		{"{", "\\{"},
		{"}", "\\}"},
		{"$", "\\$"},
		{"%", "\\%"},
		{"&", "\\&"},
		{"#", "\\#"},
		{"_", "\\_"},
		{"^", "\\^{}"},
		{"~", "\\~{}"},
	}

	for _, r := range replacements {
		s = strings.ReplaceAll(s, r.old, r.new)
	}

	s = strings.ReplaceAll(s, placeholder, "\\textbackslash{}")
	return s
}

// UnescapeLaTeX reverses EscapeLaTeX for round-trip parsing. It restores
// escaped metacharacters and the \textbackslash{} form.
func UnescapeLaTeX(s string) string {
	const placeholder = "\x00BACKSLASH\x00"
	s = strings.ReplaceAll(s, "\\textbackslash{}", placeholder)

	replacements := []struct {
		old, new string
	}{
		{"\\^{}", "^"},
		{"\\~{}", "~"},
		{"\\{", "{"},
		{"\\}", "}"},
		{"\\$", "$"},
		{"\\%", "%"},
		{"\\&", "&"},
		{"\\#", "#"},
		{"\\_", "_"},
		{"``", "“"},
		{"''", "”"},
	}
	for _, r := range replacements {
		s = strings.ReplaceAll(s, r.old, r.new)
	}

	return strings.ReplaceAll(s, placeholder, "\\")
}

// markdownMeta is the full Markdown metacharacter set.
const markdownMeta = "\\`*_{}[]()#+|!"

// EscapeMarkdown escapes every Markdown metacharacter in s. Use this for
// text that must survive verbatim inside inline contexts such as link
// labels or table cells.
func EscapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownMeta, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EscapeMarkdownText escapes prose text minimally: only characters that
// would actually change meaning mid-sentence are escaped. Periods, hyphens,
// parentheses, and exclamation marks in running prose are left alone to
// avoid over-escaping; structural markers (#, +, -, digits followed by a
// dot) are escaped only at the start of a line.
func EscapeMarkdownText(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = escapeMarkdownLine(line)
	}
	return strings.Join(lines, "\n")
}

func escapeMarkdownLine(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	for i, r := range line {
		switch r {
		case '\\', '`', '*', '_', '[', ']', '|':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '#', '+', '-', '>':
			// Structural only at line start.
			if strings.TrimSpace(line[:i]) == "" {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnescapeMarkdown removes backslash escapes from Markdown text.
func UnescapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if escaped {
			if !strings.ContainsRune(markdownMeta+"-#>.!", r) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	if escaped {
		b.WriteByte('\\')
	}
	return b.String()
}

// EscapeXMLText escapes the basic XML entities for text content.
func EscapeXMLText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// EscapeXMLAttr escapes text for use in XML attributes.
// Includes quote escaping in addition to basic XML entities.
func EscapeXMLAttr(s string) string {
	s = EscapeXMLText(s)
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
