package latex

import (
	"testing"
)

// FuzzParse tests that the parser never panics and always honors the
// non-throwing contract regardless of input shape
func FuzzParse(f *testing.F) {
	// Seed corpus with well-formed, degenerate, and hostile inputs
	f.Add(sampleArticle)
	f.Add("")
	f.Add("plain prose with no commands")
	f.Add("\\documentclass{article}\\begin{document}\\end{document}")
	f.Add("\\begin{document}no end")
	f.Add("\\end{document} before begin")
	f.Add("\\title{unclosed")
	f.Add("}}}} stray closers")
	f.Add("\\begin{itemize}\\item a\\end{enumerate}")
	f.Add("\\section{Title}\\label{id}")
	f.Add("\\cite{a,b,c} and \\ref{missing}")
	f.Add("$unclosed math")
	f.Add("\\[ display math \\]")
	f.Add("% only a comment")
	f.Add("\\textbf{\\emph{nested \\texttt{deeply}}}")
	f.Add("\\unknowncommand{arg} \\another")
	f.Add("\\begin{tabular}{ll} a & b \\\\ c & d \\end{tabular}")
	f.Add("\\documentclass[12pt]{book}\\begin{document}\\part{P}\\chapter{C}\\end{document}")
	f.Add("text with \\% \\$ \\# \\& \\_ escapes")
	f.Add("\\begin{a}\\begin{b}\\end{a}\\end{b}")

	c := New(Options{})
	f.Fuzz(func(t *testing.T, input string) {
		result := c.Parse(input)

		// The contract: a non-nil result with a non-nil document, always.
		if result == nil {
			t.Fatal("Parse returned nil result")
		}
		if result.Document == nil {
			t.Fatal("Parse returned nil document")
		}
		if result.Document.BibliographicEntry == nil || result.Document.BodyMatter == nil {
			t.Error("parsed document missing required placeholder fields")
		}

		// Fidelity stays in [0, 1].
		score := result.Metadata.FidelityScore
		if score < 0 || score > 1 {
			t.Errorf("fidelity score %f out of range", score)
		}

		// Non-recoverable errors must force a zero score.
		for _, e := range result.Errors {
			if !e.Recoverable && score != 0 {
				t.Errorf("non-recoverable error %s with non-zero score %f", e.Code, score)
			}
		}
	})
}

// FuzzValidate tests that validation never panics on arbitrary input
func FuzzValidate(f *testing.F) {
	f.Add(sampleArticle)
	f.Add("")
	f.Add("\\begin{document}")
	f.Add("{{{{")
	f.Add("\\usepackage{natbib}\\usepackage{biblatex}")
	f.Add("$ $ $")

	c := New(Options{})
	f.Fuzz(func(t *testing.T, input string) {
		result := c.Validate(input)
		if result == nil {
			t.Fatal("Validate returned nil result")
		}
		// Valid must agree with the absence of error-severity issues.
		if result.Valid && len(result.Errors()) > 0 {
			t.Errorf("Valid=true with %d error issues", len(result.Errors()))
		}
	})
}
