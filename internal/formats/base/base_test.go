package base

import (
	"sort"
	"testing"

	"github.com/xats-org/convert/core/converter"
)

func TestJoinParts(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"simple", []string{"a", "b"}, "a\n\nb"},
		{"drops blanks", []string{"a", "", "  ", "b"}, "a\n\nb"},
		{"trims trailing newlines", []string{"a\n\n", "b"}, "a\n\nb"},
		{"empty", nil, ""},
		{"single", []string{"only"}, "only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JoinParts(tt.parts); got != tt.want {
				t.Errorf("JoinParts(%q) = %q, want %q", tt.parts, got, tt.want)
			}
		})
	}
}

func TestCountWords(t *testing.T) {
	if got := CountWords("the quick  brown\nfox"); got != 4 {
		t.Errorf("CountWords = %d, want 4", got)
	}
	if got := CountWords("   "); got != 0 {
		t.Errorf("CountWords(blank) = %d, want 0", got)
	}
}

func TestRecoverRender(t *testing.T) {
	result := &converter.RenderResult{Content: "partial output"}
	func() {
		defer RecoverRender(result)
		panic("renderer bug")
	}()

	if result.Content != "" {
		t.Error("panic must clear partial content")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %+v", result.Errors)
	}
	e := result.Errors[0]
	if e.Code != converter.CodeInternal || e.Recoverable {
		t.Errorf("unexpected error: %+v", e)
	}
}

func TestRecoverParse(t *testing.T) {
	result := &converter.ParseResult{
		Metadata: converter.ParseMetadata{FidelityScore: 0.8},
	}
	func() {
		defer RecoverParse(result)
		panic("parser bug")
	}()

	if result.Metadata.FidelityScore != 0 {
		t.Errorf("panic must force fidelity to 0, got %f", result.Metadata.FidelityScore)
	}
	if len(result.Errors) != 1 || result.Errors[0].Recoverable {
		t.Errorf("expected one non-recoverable error, got %+v", result.Errors)
	}
}

func TestRecover_NoPanicIsNoop(t *testing.T) {
	result := &converter.RenderResult{Content: "kept"}
	func() {
		defer RecoverRender(result)
	}()
	if result.Content != "kept" || len(result.Errors) != 0 {
		t.Error("recovery without a panic must not touch the result")
	}
}

func TestLabels(t *testing.T) {
	l := NewLabels()
	l.Define("sec-intro")
	l.Define("fig-1")
	l.Use("fig-1")
	l.Use("tab-9")
	l.Use("")
	l.Define("")

	undefined := l.Undefined()
	sort.Strings(undefined)
	if len(undefined) != 1 || undefined[0] != "tab-9" {
		t.Errorf("Undefined = %v", undefined)
	}

	unused := l.Unused()
	sort.Strings(unused)
	if len(unused) != 1 || unused[0] != "sec-intro" {
		t.Errorf("Unused = %v", unused)
	}
}

func TestLabels_Next(t *testing.T) {
	l := NewLabels()
	if got := l.Next("block"); got != "block-1" {
		t.Errorf("Next = %q", got)
	}
	if got := l.Next("block"); got != "block-2" {
		t.Errorf("Next = %q", got)
	}
	if got := l.Next("fig"); got != "fig-3" {
		t.Errorf("counter is shared across prefixes, got %q", got)
	}
}
