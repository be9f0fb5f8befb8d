package encoding

import (
	"strings"
	"testing"
)

func TestEscapeLaTeX(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello world", "hello world"},
		{"percent", "50% done", "50\\% done"},
		{"dollar", "$5", "\\$5"},
		{"ampersand", "salt & pepper", "salt \\& pepper"},
		{"hash", "#1", "\\#1"},
		{"underscore", "snake_case", "snake\\_case"},
		{"braces", "{group}", "\\{group\\}"},
		{"caret", "x^2", "x\\^{}2"},
		{"tilde", "~user", "\\~{}user"},
		{"backslash", "a\\b", "a\\textbackslash{}b"},
		{"smart quotes", "“quoted”", "``quoted''"},
		{"em dash", "a—b", "a---b"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EscapeLaTeX(tt.input); got != tt.want {
				t.Errorf("EscapeLaTeX(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEscapeLaTeX_BackslashDoesNotCascade(t *testing.T) {
	// The braces inside \textbackslash{} must not be re-escaped.
	got := EscapeLaTeX("\\")
	if got != "\\textbackslash{}" {
		t.Errorf("EscapeLaTeX(backslash) = %q", got)
	}
	if strings.Contains(got, "\\{") {
		t.Error("placeholder braces were re-escaped")
	}
}

func TestUnescapeLaTeX_RoundTrip(t *testing.T) {
	inputs := []string{
		"50% of $10 & #1_a",
		"x^2 and ~user",
		"literal \\ backslash",
		"{braces}",
		"plain text stays plain",
	}
	for _, input := range inputs {
		if got := UnescapeLaTeX(EscapeLaTeX(input)); got != input {
			t.Errorf("round trip lost content: %q -> %q", input, got)
		}
	}
}

func TestStripControl(t *testing.T) {
	got := StripControl("a\x00b\tc\nd\x1fe")
	if got != "ab\tc\nde" {
		t.Errorf("StripControl = %q", got)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	got := EscapeMarkdown("*bold* [link](url) `code`")
	want := "\\*bold\\* \\[link\\]\\(url\\) \\`code\\`"
	if got != want {
		t.Errorf("EscapeMarkdown = %q, want %q", got, want)
	}
}

func TestEscapeMarkdownText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"emphasis markers", "a *b* _c_", "a \\*b\\* \\_c\\_"},
		{"hash mid-sentence", "issue #42", "issue #42"},
		{"hash at line start", "# not a heading", "\\# not a heading"},
		{"dash mid-sentence", "well-known", "well-known"},
		{"dash at line start", "- not a list", "\\- not a list"},
		{"blockquote marker", "> not a quote", "\\> not a quote"},
		{"multiline", "plain\n# heading-like", "plain\n\\# heading-like"},
		{"pipe", "a | b", "a \\| b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EscapeMarkdownText(tt.input); got != tt.want {
				t.Errorf("EscapeMarkdownText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestUnescapeMarkdown(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"\\*bold\\*", "*bold*"},
		{"\\# heading", "# heading"},
		{"\\- item", "- item"},
		{"no escapes", "no escapes"},
		{"trailing \\", "trailing \\"},
		{"\\q unknown escape kept", "\\q unknown escape kept"},
	}
	for _, tt := range tests {
		if got := UnescapeMarkdown(tt.input); got != tt.want {
			t.Errorf("UnescapeMarkdown(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestMarkdownTextRoundTrip(t *testing.T) {
	inputs := []string{
		"a *b* _c_ [d] |e|",
		"# line-start heading",
		"- line-start dash",
		"prose with #42 and well-known terms",
	}
	for _, input := range inputs {
		if got := UnescapeMarkdown(EscapeMarkdownText(input)); got != input {
			t.Errorf("round trip lost content: %q -> %q", input, got)
		}
	}
}

func TestEscapeXML(t *testing.T) {
	if got := EscapeXMLText("a < b & c > d"); got != "a &lt; b &amp; c &gt; d" {
		t.Errorf("EscapeXMLText = %q", got)
	}
	if got := EscapeXMLAttr(`say "hi" & <bye>`); got != "say &quot;hi&quot; &amp; &lt;bye&gt;" {
		t.Errorf("EscapeXMLAttr = %q", got)
	}
}
