package xats

import "testing"

func TestBlockKind(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{BlockParagraph, "paragraph"},
		{BlockCodeBlock, "codeBlock"},
		{PlaceholderTableOfContents, "tableOfContents"},
		{"https://example.org/custom/blocks/widget", "widget"},
		{"bare-kind", "bare-kind"},
		{"trailing/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := BlockKind(tt.uri); got != tt.want {
			t.Errorf("BlockKind(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestIsPlaceholder(t *testing.T) {
	if !IsPlaceholder(PlaceholderBibliography) {
		t.Error("bibliography placeholder not detected")
	}
	if IsPlaceholder(BlockParagraph) {
		t.Error("paragraph is not a placeholder")
	}
}
