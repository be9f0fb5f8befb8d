package rmd

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
			Title: "Field Analysis",
		},
		BodyMatter: &xats.Matter{Contents: []*xats.Node{}},
	}
}

func chunkBlock(engine, label string, options map[string]any) *xats.ContentBlock {
	content := map[string]any{
		"code":       "library(ggplot2)",
		"language":   engine,
		"executable": EngineExecutable(engine),
	}
	if label != "" {
		content["label"] = label
	}
	if len(options) > 0 {
		content["chunkOptions"] = options
	}
	return &xats.ContentBlock{
		ID:        label,
		BlockType: xats.BlockCodeBlock,
		Content:   content,
	}
}

func TestRender_FrontMatterDeclaresOutput(t *testing.T) {
	doc := minimalDocument()
	doc.BibliographicEntry.Author = []xats.Name{{Given: "Ronald", Family: "Fisher"}}

	result := New(Options{}).Render(doc)
	if !result.OK() {
		t.Fatalf("render failed: %+v", result.Errors)
	}
	if !strings.HasPrefix(result.Content, "---\n") {
		t.Fatalf("output must start with front matter:\n%s", result.Content)
	}
	for _, want := range []string{"title: Field Analysis", "author: Ronald Fisher", "output: html_document"} {
		if !strings.Contains(result.Content, want) {
			t.Errorf("front matter missing %q\n%s", want, result.Content)
		}
	}
	if result.Metadata.Format != FormatName {
		t.Errorf("Format = %q, want %q", result.Metadata.Format, FormatName)
	}
}

func TestRender_CustomOutputFormat(t *testing.T) {
	result := New(Options{Output: "bookdown::gitbook"}).Render(minimalDocument())
	if !strings.Contains(result.Content, "bookdown::gitbook") {
		t.Errorf("custom output format missing:\n%s", result.Content)
	}
}

func TestRender_ChunkBlock(t *testing.T) {
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{
		xats.BlockNode(chunkBlock("r", "setup", map[string]any{"eval": true, "fig.width": 5})),
	}

	result := New(Options{}).Render(doc)
	if !result.OK() {
		t.Fatalf("render failed: %+v", result.Errors)
	}
	want := "```{r setup, eval=TRUE, fig.width=5}\nlibrary(ggplot2)\n```"
	if !strings.Contains(result.Content, want) {
		t.Errorf("chunk missing from output:\nwant %q\n%s", want, result.Content)
	}
}

func TestRender_PlainCodeBlockStaysPlain(t *testing.T) {
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{
		xats.BlockNode(&xats.ContentBlock{
			ID:        "b1",
			BlockType: xats.BlockCodeBlock,
			Content:   map[string]any{"code": `print("hi")`, "language": "python"},
		}),
	}

	result := New(Options{}).Render(doc)
	if !strings.Contains(result.Content, "```python\n") {
		t.Errorf("plain code block must keep a bare fence:\n%s", result.Content)
	}
	if strings.Contains(result.Content, "```{") {
		t.Errorf("plain code block must not become a chunk:\n%s", result.Content)
	}
}

func TestRender_ExecutableOptOutSurvives(t *testing.T) {
	block := chunkBlock("r", "noexec", nil)
	block.Content["executable"] = false
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{xats.BlockNode(block)}

	result := New(Options{}).Render(doc)
	if !strings.Contains(result.Content, "```{r noexec, eval=FALSE}") {
		t.Errorf("opt-out must render as eval=FALSE:\n%s", result.Content)
	}
}

func TestRender_ShellBlockNeverBecomesChunk(t *testing.T) {
	block := &xats.ContentBlock{
		ID:        "deploy",
		BlockType: xats.BlockCodeBlock,
		Content: map[string]any{
			"code":         "make deploy",
			"language":     "bash",
			"executable":   true,
			"label":        "deploy",
			"chunkOptions": map[string]any{"eval": true},
		},
	}
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{xats.BlockNode(block)}

	result := New(Options{}).Render(doc)
	if !result.OK() {
		t.Fatalf("render failed: %+v", result.Errors)
	}
	if strings.Contains(result.Content, "```{") {
		t.Fatalf("a shell block must never gain a chunk header:\n%s", result.Content)
	}
	if !strings.Contains(result.Content, "```bash\nmake deploy\n```") {
		t.Errorf("shell block must stay a plain fence:\n%s", result.Content)
	}
}

func TestRender_DefaultChunkOptions(t *testing.T) {
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{
		xats.BlockNode(chunkBlock("r", "setup", map[string]any{"echo": true})),
	}

	c := New(Options{DefaultChunkOptions: map[string]any{"echo": false, "fig.width": 7}})
	result := c.Render(doc)
	if !result.OK() {
		t.Fatalf("render failed: %+v", result.Errors)
	}
	// fig.width fills in from the defaults; the chunk's own echo wins.
	if !strings.Contains(result.Content, "```{r setup, echo=TRUE, fig.width=7}") {
		t.Errorf("default options not merged:\n%s", result.Content)
	}
}

func TestRender_CitationStyleFrontMatter(t *testing.T) {
	result := New(Options{CitationStyle: "apa.csl"}).Render(minimalDocument())
	if !strings.Contains(result.Content, "csl: apa.csl") {
		t.Errorf("citation style missing from front matter:\n%s", result.Content)
	}
}

func TestRender_ExtensionOutputDefaults(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"bookdown", Options{UseBookdown: true}, "output: bookdown::gitbook"},
		{"distill", Options{UseDistill: true}, "output: distill::distill_article"},
		{"explicit wins", Options{UseBookdown: true, Output: "pdf_document"}, "output: pdf_document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := New(tt.opts).Render(minimalDocument())
			if !strings.Contains(result.Content, tt.want) {
				t.Errorf("front matter missing %q:\n%s", tt.want, result.Content)
			}
		})
	}
}

func TestRender_BookdownCrossReference(t *testing.T) {
	doc := minimalDocument()
	doc.BodyMatter.Contents = []*xats.Node{
		xats.BlockNode(&xats.ContentBlock{
			ID:        "b1",
			BlockType: xats.BlockParagraph,
			Content: map[string]any{"text": &xats.SemanticText{Runs: []xats.Run{
				{Type: xats.RunText, Text: "See "},
				{Type: xats.RunReference, Ref: "fig-flow"},
				{Type: xats.RunText, Text: " below."},
			}}},
		}),
	}

	result := New(Options{UseBookdown: true}).Render(doc)
	if !result.OK() {
		t.Fatalf("render failed: %+v", result.Errors)
	}
	if !strings.Contains(result.Content, `See \@ref(fig-flow) below.`) {
		t.Errorf("bookdown reference syntax missing:\n%s", result.Content)
	}
	if strings.Contains(result.Content, "[fig-flow](#fig-flow)") {
		t.Errorf("stock reference link must not appear under bookdown:\n%s", result.Content)
	}
}

func TestParse_BookdownCrossReference(t *testing.T) {
	result := New(Options{}).Parse(`See \@ref(fig-flow) below.` + "\n")
	if !result.OK() {
		t.Fatalf("parse failed: %+v", result.Errors)
	}
	para := result.Document.BodyMatter.Contents[0].Block
	text := xats.AsSemanticText(para.Content["text"])
	found := false
	for _, r := range text.Runs {
		if r.Type == xats.RunReference && r.Ref == "fig-flow" {
			found = true
		}
	}
	if !found {
		t.Errorf("bookdown reference not recovered: %+v", text.Runs)
	}
}

func TestRender_MissingFieldsFail(t *testing.T) {
	result := New(Options{}).Render(&xats.Document{})
	if result.OK() {
		t.Fatal("render of an empty document must fail")
	}
	if result.Content != "" {
		t.Errorf("failed render must produce no content, got %q", result.Content)
	}
}

const sampleRmd = `---
title: Field Analysis
author: Ronald Fisher
output: html_document
---

# Methods

Setup below.

` + "```{r setup, eval=TRUE, fig.width=5}" + `
library(ggplot2)
` + "```" + `

` + "```{bash deploy, eval=TRUE}" + `
make deploy
` + "```" + `

` + "```python" + `
print("hi")
` + "```" + `
`

func TestParse_ChunkDocument(t *testing.T) {
	result := New(Options{}).Parse(sampleRmd)
	if !result.OK() {
		t.Fatalf("parse failed: %+v", result.Errors)
	}
	if result.Metadata.Format != FormatName {
		t.Errorf("Format = %q, want %q", result.Metadata.Format, FormatName)
	}

	doc := result.Document
	if doc.BibliographicEntry.Title != "Field Analysis" {
		t.Errorf("title = %q", doc.BibliographicEntry.Title)
	}
	if len(doc.BodyMatter.Contents) != 1 {
		t.Fatalf("want one top-level container, got %d", len(doc.BodyMatter.Contents))
	}
	unit := doc.BodyMatter.Contents[0].Container
	if unit == nil || unit.Title.Plain() != "Methods" {
		t.Fatalf("top-level node must be the Methods container")
	}
	if len(unit.Contents) != 4 {
		t.Fatalf("want paragraph plus three code blocks, got %d nodes", len(unit.Contents))
	}

	rChunk := unit.Contents[1].Block
	if rChunk.StringField("language") != "r" || rChunk.StringField("label") != "setup" {
		t.Errorf("r chunk metadata wrong: %+v", rChunk.Content)
	}
	if exec, ok := rChunk.BoolField("executable"); !ok || !exec {
		t.Errorf("r chunk must be executable: %+v", rChunk.Content)
	}
	opts, _ := rChunk.Content["chunkOptions"].(map[string]any)
	if opts["eval"] != true || opts["fig.width"] != 5 {
		t.Errorf("chunk options not preserved: %+v", opts)
	}

	bashChunk := unit.Contents[2].Block
	if exec, ok := bashChunk.BoolField("executable"); !ok || exec {
		t.Errorf("bash chunk must never be executable: %+v", bashChunk.Content)
	}

	plain := unit.Contents[3].Block
	if plain.StringField("language") != "python" {
		t.Errorf("plain fence language = %q", plain.StringField("language"))
	}
	if _, ok := plain.BoolField("executable"); ok {
		t.Errorf("plain fence must carry no executable flag: %+v", plain.Content)
	}

	if result.Metadata.FidelityScore < Threshold {
		t.Errorf("fidelity %v below threshold %v", result.Metadata.FidelityScore, Threshold)
	}
}

func TestParse_BashEvalWarns(t *testing.T) {
	result := New(Options{}).Parse(sampleRmd)
	found := false
	for _, w := range result.Warnings {
		if w.Code == converter.CodeInvalidFormat && strings.Contains(w.Message, `"bash"`) {
			found = true
		}
	}
	if !found {
		t.Errorf("eval on a bash chunk must warn, got %+v", result.Warnings)
	}
}

func TestParse_UnknownOptionWarns(t *testing.T) {
	content := "```{r x, wobble=3}\n1 + 1\n```\n"
	result := New(Options{}).Parse(content)
	if !result.OK() {
		t.Fatalf("parse failed: %+v", result.Errors)
	}

	found := false
	for _, w := range result.Warnings {
		if w.Code == converter.CodeUnknownOption && strings.Contains(w.Message, "wobble") {
			found = true
		}
	}
	if !found {
		t.Errorf("unknown option must warn, got %+v", result.Warnings)
	}

	block := result.Document.BodyMatter.Contents[0].Block
	opts, _ := block.Content["chunkOptions"].(map[string]any)
	if opts["wobble"] != 3 {
		t.Errorf("unknown option must still be preserved: %+v", opts)
	}
}

func TestParse_BadChunkHeaderDegrades(t *testing.T) {
	content := "```{r setup,}\n1 + 1\n```\n"
	result := New(Options{}).Parse(content)
	if !result.OK() {
		t.Fatalf("a bad chunk header must stay recoverable: %+v", result.Errors)
	}

	block := result.Document.BodyMatter.Contents[0].Block
	if xats.BlockKind(block.BlockType) != "codeBlock" {
		t.Fatalf("degraded chunk must still be a code block, got %s", block.BlockType)
	}
	if block.StringField("code") != "1 + 1" {
		t.Errorf("code lost in degradation: %+v", block.Content)
	}
	if block.StringField("language") != "" {
		t.Errorf("degraded chunk must carry no language: %+v", block.Content)
	}

	found := false
	for _, w := range result.Warnings {
		if w.Code == converter.CodeInvalidFormat {
			found = true
		}
	}
	if !found {
		t.Errorf("bad header must warn, got %+v", result.Warnings)
	}
}

func TestParse_BadChunkHeaderCountsUnmapped(t *testing.T) {
	good := New(Options{}).Parse("```{r setup}\n1 + 1\n```\n")
	bad := New(Options{}).Parse("```{r setup,}\n1 + 1\n```\n")
	if !good.OK() || !bad.OK() {
		t.Fatalf("both documents must stay recoverable: %+v %+v", good.Errors, bad.Errors)
	}

	if bad.Metadata.UnmappedElements != good.Metadata.UnmappedElements+1 {
		t.Errorf("undecodable header must count as unmapped: good %d, bad %d",
			good.Metadata.UnmappedElements, bad.Metadata.UnmappedElements)
	}
	if bad.Metadata.FidelityScore >= good.Metadata.FidelityScore {
		t.Errorf("fidelity must drop on an undecodable header: good %v, bad %v",
			good.Metadata.FidelityScore, bad.Metadata.FidelityScore)
	}
}

func TestParse_BinaryInputRejected(t *testing.T) {
	result := New(Options{}).Parse("---\ntitle: x\n---\n\x00\x01")
	if result.OK() {
		t.Fatal("NUL bytes must be a non-recoverable failure")
	}
	if result.Metadata.FidelityScore != 0 {
		t.Errorf("fidelity = %v, want 0", result.Metadata.FidelityScore)
	}
}

func TestRoundTrip_ChunkDocument(t *testing.T) {
	doc := minimalDocument()
	doc.BibliographicEntry.Author = []xats.Name{{Literal: "Ronald Fisher"}}
	doc.BodyMatter.Contents = []*xats.Node{
		xats.ContainerNode(&xats.Container{
			Kind:  xats.KindUnit,
			Title: xats.Text("Methods"),
			Contents: []*xats.Node{
				xats.BlockNode(chunkBlock("r", "setup", map[string]any{"eval": true})),
			},
		}),
	}

	c := New(Options{})
	rt := c.RoundTrip(doc)
	if !rt.Success {
		t.Fatalf("round trip failed: score %v, diffs %+v", rt.FidelityScore, rt.Differences)
	}

	parsed := c.Parse(c.Render(doc).Content).Document
	unit := parsed.BodyMatter.Contents[0].Container
	if unit == nil {
		t.Fatal("container lost in round trip")
	}
	back := unit.Contents[0].Block
	if back.StringField("label") != "setup" || back.StringField("language") != "r" {
		t.Errorf("chunk metadata lost in round trip: %+v", back.Content)
	}
	if exec, ok := back.BoolField("executable"); !ok || !exec {
		t.Errorf("executable flag lost in round trip: %+v", back.Content)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantValid bool
		wantCode  string
	}{
		{
			name:      "well formed",
			content:   "---\ntitle: x\n---\n\n# Methods\n\n```{r setup, eval=TRUE}\n1 + 1\n```\n",
			wantValid: true,
			wantCode:  "",
		},
		{
			name:      "invalid chunk header",
			content:   "```{r setup,}\n1\n```\n",
			wantValid: false,
			wantCode:  "invalid-chunk-header",
		},
		{
			name:      "duplicate chunk label",
			content:   "```{r a}\n1\n```\n\n```{r a}\n2\n```\n",
			wantValid: true,
			wantCode:  "duplicate-chunk-label",
		},
		{
			name:      "unknown chunk option",
			content:   "```{r a, wobble=3}\n1\n```\n",
			wantValid: true,
			wantCode:  "unknown-chunk-option",
		},
		{
			name:      "eval on shell engine",
			content:   "```{bash b, eval=TRUE}\nls\n```\n",
			wantValid: true,
			wantCode:  "engine-not-executable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := New(Options{}).Validate(tt.content)
			if result.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v: %+v", result.Valid, tt.wantValid, result.Issues)
			}
			if tt.wantCode == "" {
				if len(result.Issues) != 0 {
					t.Errorf("want no issues, got %+v", result.Issues)
				}
				return
			}
			found := false
			for _, issue := range result.Issues {
				if issue.Code == tt.wantCode {
					found = true
				}
			}
			if !found {
				t.Errorf("issue %q missing from %+v", tt.wantCode, result.Issues)
			}
		})
	}
}

func TestMetadata(t *testing.T) {
	meta := New(Options{}).Metadata(sampleRmd)
	if meta.Format != FormatName {
		t.Errorf("Format = %q, want %q", meta.Format, FormatName)
	}
	if meta.Title != "Field Analysis" {
		t.Errorf("Title = %q", meta.Title)
	}
	if meta.Extra["chunks"] != "2" {
		t.Errorf("chunks = %q, want 2", meta.Extra["chunks"])
	}
	if meta.Extra["engines"] != "bash,r" {
		t.Errorf("engines = %q, want bash,r", meta.Extra["engines"])
	}
	if meta.Extra["output"] != "html_document" {
		t.Errorf("output = %q", meta.Extra["output"])
	}
}

func TestRegistryRegistration(t *testing.T) {
	c, err := converter.New(FormatName)
	if err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if c.Format() != FormatName {
		t.Errorf("Format() = %q", c.Format())
	}
}
