package markdown

import (
	"strings"
	"testing"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/xats"
)

func minimalDocument() *xats.Document {
	return &xats.Document{
		SchemaVersion: "0.5.0",
		BibliographicEntry: &xats.BibliographicEntry{
			Type:  "book",
			Title: "Bio 101",
		},
		BodyMatter: &xats.Matter{Contents: []*xats.Node{}},
	}
}

func paragraphBlock(runs ...xats.Run) *xats.ContentBlock {
	return &xats.ContentBlock{
		ID:        "b1",
		BlockType: xats.BlockParagraph,
		Content:   map[string]any{"text": &xats.SemanticText{Runs: runs}},
	}
}

func TestRender_FrontMatter(t *testing.T) {
	doc := minimalDocument()
	doc.Subject = "Biology"
	doc.BibliographicEntry.Author = []xats.Name{{Given: "Robert", Family: "Hooke"}}
	doc.BibliographicEntry.Issued = "2026"

	result := New(Options{}).Render(doc)
	if !result.OK() {
		t.Fatalf("render failed: %+v", result.Errors)
	}
	if !strings.HasPrefix(result.Content, "---\n") {
		t.Fatalf("output must start with front matter:\n%s", result.Content)
	}
	for _, want := range []string{"title: Bio 101", "author: Robert Hooke", "date: \"2026\"", "subject: Biology"} {
		if !strings.Contains(result.Content, want) {
			t.Errorf("front matter missing %q\n%s", want, result.Content)
		}
	}
}

func TestRender_FrontMatterDisabled(t *testing.T) {
	off := false
	result := New(Options{FrontMatter: &off}).Render(minimalDocument())
	if strings.Contains(result.Content, "---") {
		t.Errorf("front matter must be suppressed:\n%s", result.Content)
	}
}

func TestRender_StrongRun(t *testing.T) {
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{
		xats.BlockNode(paragraphBlock(
			xats.Run{Type: xats.RunText, Text: "The "},
			xats.Run{Type: xats.RunStrong, Text: "mitochondria"},
			xats.Run{Type: xats.RunText, Text: " is the powerhouse."},
		)),
	}
	result := New(Options{}).Render(doc)
	if !strings.Contains(result.Content, "The **mitochondria** is the powerhouse.") {
		t.Errorf("strong run not rendered:\n%s", result.Content)
	}
}

func TestRender_RunDispatch(t *testing.T) {
	tests := []struct {
		name string
		run  xats.Run
		want string
	}{
		{"emphasis", xats.Run{Type: xats.RunEmphasis, Text: "cell"}, "*cell*"},
		{"code", xats.Run{Type: xats.RunCode, Text: "mean(x)"}, "`mean(x)`"},
		{"citation", xats.Run{Type: xats.RunCitation, CiteKey: xats.CiteKeys{"a", "b"}}, "[@a; @b]"},
		{"reference", xats.Run{Type: xats.RunReference, Ref: "fig-1"}, "[fig-1](#fig-1)"},
		{"strikethrough", xats.Run{Type: xats.RunStrikethrough, Text: "old"}, "~~old~~"},
		{"subscript", xats.Run{Type: xats.RunSubscript, Text: "2"}, "~2~"},
		{"superscript", xats.Run{Type: xats.RunSuperscript, Text: "3"}, "^3^"},
		{"underline", xats.Run{Type: xats.RunUnderline, Text: "key"}, "<u>key</u>"},
		{"math", xats.Run{Type: xats.RunMathInline, Math: "x^2"}, "$x^2$"},
		{"index", xats.Run{Type: xats.RunIndex, Text: "mitosis", Entry: "mitosis"}, "mitosis<!-- index: mitosis -->"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := minimalDocument()
			doc.BodyMatter.Contents = []*xats.Node{xats.BlockNode(paragraphBlock(tt.run))}
			result := New(Options{}).Render(doc)
			if !strings.Contains(result.Content, tt.want) {
				t.Errorf("output missing %q\n%s", tt.want, result.Content)
			}
		})
	}
}

func TestRender_ContainerHeadings(t *testing.T) {
	section := xats.NewContainer(xats.KindSection, xats.Text("Membranes"))
	chapter := xats.NewContainer(xats.KindChapter, xats.Text("Cells"))
	chapter.Contents = []*xats.Node{xats.ContainerNode(section)}
	unit := xats.NewContainer(xats.KindUnit, xats.Text("Foundations"))
	unit.Contents = []*xats.Node{xats.ContainerNode(chapter)}

	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{xats.ContainerNode(unit)}

	result := New(Options{}).Render(doc)
	for _, want := range []string{"# Foundations", "## Cells", "### Membranes"} {
		if !strings.Contains(result.Content, want) {
			t.Errorf("output missing %q\n%s", want, result.Content)
		}
	}
}

func TestRender_BaseHeadingLevelOffset(t *testing.T) {
	chapter := xats.NewContainer(xats.KindChapter, xats.Text("Cells"))
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{xats.ContainerNode(chapter)}

	result := New(Options{BaseHeadingLevel: 2}).Render(doc)
	if !strings.Contains(result.Content, "### Cells") {
		t.Errorf("offset heading not applied:\n%s", result.Content)
	}
}

func TestRender_Blocks(t *testing.T) {
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{
		xats.BlockNode(&xats.ContentBlock{
			BlockType: xats.BlockList,
			Content: map[string]any{
				"listType": "ordered",
				"items":    []any{xats.Text("first"), xats.Text("second")},
			},
		}),
		xats.BlockNode(&xats.ContentBlock{
			BlockType: xats.BlockCodeBlock,
			Content:   map[string]any{"code": "x <- 1", "language": "r"},
		}),
		xats.BlockNode(&xats.ContentBlock{
			BlockType: xats.BlockBlockquote,
			Content:   map[string]any{"text": xats.Text("Quoted."), "attribution": "Dobzhansky"},
		}),
		xats.BlockNode(&xats.ContentBlock{
			BlockType: xats.BlockMathBlock,
			Content:   map[string]any{"math": "E = mc^2"},
		}),
		xats.BlockNode(&xats.ContentBlock{
			ID:        "fig-cell",
			BlockType: xats.BlockFigure,
			Content:   map[string]any{"src": "cell.png", "caption": "A cell"},
		}),
	}

	result := New(Options{}).Render(doc)
	for _, want := range []string{
		"1. first",
		"2. second",
		"```r\nx <- 1\n```",
		"> Quoted.",
		"> — Dobzhansky",
		"$$\nE = mc^2\n$$",
		"![A cell](cell.png) {#fig-cell}",
	} {
		if !strings.Contains(result.Content, want) {
			t.Errorf("output missing %q\n%s", want, result.Content)
		}
	}
}

func TestRender_Table(t *testing.T) {
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{
		xats.BlockNode(&xats.ContentBlock{
			BlockType: xats.BlockTable,
			Content: map[string]any{
				"headers": []any{xats.Text("Name"), xats.Text("Role")},
				"rows": []any{
					[]any{xats.Text("ATP"), xats.Text("energy")},
				},
			},
		}),
	}
	result := New(Options{}).Render(doc)
	for _, want := range []string{
		"| Name | Role |",
		"| --- | --- |",
		"| ATP | energy |",
	} {
		if !strings.Contains(result.Content, want) {
			t.Errorf("output missing %q\n%s", want, result.Content)
		}
	}
}

func TestRender_EscapesProse(t *testing.T) {
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{
		xats.BlockNode(paragraphBlock(xats.Run{Type: xats.RunText, Text: "literal *stars* and [brackets]"})),
	}
	result := New(Options{}).Render(doc)
	if !strings.Contains(result.Content, `literal \*stars\* and \[brackets\]`) {
		t.Errorf("prose metacharacters not escaped:\n%s", result.Content)
	}
}

func TestRender_UnknownBlockTypeFallsBack(t *testing.T) {
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{
		xats.BlockNode(&xats.ContentBlock{
			BlockType: "https://example.org/vocabularies/blocks/interactive",
			Content:   map[string]any{"text": "click here"},
		}),
	}
	result := New(Options{}).Render(doc)
	if !result.OK() {
		t.Fatalf("unknown blockType must not error: %+v", result.Errors)
	}
	if !strings.Contains(result.Content, "click here") {
		t.Error("unknown blockType must produce non-empty fallback output")
	}
	if len(result.Warnings) == 0 {
		t.Error("expected unmapped-block warning")
	}
}

func TestRender_MissingRequiredFields(t *testing.T) {
	result := New(Options{}).Render(&xats.Document{SchemaVersion: "0.5.0"})
	if result.OK() {
		t.Fatal("expected fatal errors")
	}
	for _, e := range result.Errors {
		if e.Code != converter.CodeMissingField {
			t.Errorf("expected %s, got %s", converter.CodeMissingField, e.Code)
		}
	}
}

func TestRender_Placeholders(t *testing.T) {
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{
		xats.BlockNode(&xats.ContentBlock{BlockType: xats.PlaceholderTableOfContents}),
		xats.BlockNode(&xats.ContentBlock{BlockType: xats.PlaceholderBibliography}),
		xats.BlockNode(&xats.ContentBlock{BlockType: xats.PlaceholderIndex}),
	}
	result := New(Options{}).Render(doc)
	for _, want := range []string{"[TOC]", "::: {#refs}", "<!-- index -->"} {
		if !strings.Contains(result.Content, want) {
			t.Errorf("output missing %q\n%s", want, result.Content)
		}
	}
}
