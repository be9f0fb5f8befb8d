package markdown

import (
	"fmt"
	"strings"
	"time"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/encoding"
	"github.com/xats-org/convert/core/xats"
	"github.com/xats-org/convert/internal/formats/base"
)

// renderer carries per-call render state.
type renderer struct {
	opts   Options
	labels *base.Labels
	result *converter.RenderResult
}

// Render implements converter.Interface.
func (c *Converter) Render(doc *xats.Document) *converter.RenderResult {
	start := time.Now()
	result := &converter.RenderResult{
		Metadata: converter.RenderMetadata{
			Format:   FormatName,
			Encoding: converter.EncodingUTF8,
		},
	}
	defer func() { result.Metadata.RenderTime = time.Since(start) }()
	defer base.RecoverRender(result)

	if errs := xats.ValidateForRender(doc); len(errs) > 0 {
		for _, err := range errs {
			result.Errors = append(result.Errors, converter.ConversionError{
				Code:        converter.CodeMissingField,
				Message:     err.Error(),
				Recoverable: false,
			})
		}
		return result
	}

	r := &renderer{opts: c.opts, labels: base.NewLabels(), result: result}

	var parts []string
	if *c.opts.FrontMatter {
		if fm := renderFrontMatter(doc); fm != "" {
			parts = append(parts, fm)
		}
	}
	parts = append(parts, r.matter(doc.FrontMatter)...)
	parts = append(parts, r.matter(doc.BodyMatter)...)
	parts = append(parts, r.matter(doc.BackMatter)...)

	result.Content = base.JoinParts(parts) + "\n"
	result.Metadata.WordCount = markdownWordCount(result.Content)
	return result
}

func (r *renderer) matter(m *xats.Matter) []string {
	if m == nil {
		return nil
	}
	var parts []string
	for _, node := range m.Contents {
		parts = append(parts, r.node(node)...)
	}
	return parts
}

func (r *renderer) node(n *xats.Node) []string {
	switch {
	case n == nil:
		return nil
	case n.Container != nil:
		return r.container(n.Container)
	case n.Block != nil:
		return []string{r.block(n.Block)}
	default:
		return nil
	}
}

// headingMarker returns the ATX marker for a nominal level after applying
// the base offset, capped at six.
func (r *renderer) headingMarker(level int) string {
	level += r.opts.BaseHeadingLevel - 1
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return strings.Repeat("#", level)
}

func (r *renderer) container(c *xats.Container) []string {
	var parts []string
	if title := c.Title.Plain(); title != "" {
		head := fmt.Sprintf("%s %s", r.headingMarker(c.Depth()), encoding.EscapeMarkdownText(title))
		if c.ID != "" {
			head += fmt.Sprintf(" {#%s}", c.ID)
			r.labels.Define(c.ID)
		}
		parts = append(parts, head)
	}
	for _, outcome := range c.LearningOutcomes {
		if text := outcome.Plain(); text != "" {
			parts = append(parts, "*"+encoding.EscapeMarkdownText(text)+"*")
		}
	}
	for _, node := range c.Contents {
		parts = append(parts, r.node(node)...)
	}
	return parts
}

func (r *renderer) block(b *xats.ContentBlock) string {
	if r.opts.RenderBlock != nil {
		if out, ok := r.opts.RenderBlock(b); ok {
			return out
		}
	}
	switch xats.BlockKind(b.BlockType) {
	case "paragraph":
		return r.runs(b.SemanticTextField("text"))
	case "heading":
		return r.heading(b)
	case "list":
		return r.list(b)
	case "blockquote":
		return r.blockquote(b)
	case "codeBlock":
		return r.codeBlock(b)
	case "mathBlock":
		return r.mathBlock(b)
	case "table":
		return r.table(b)
	case "figure":
		return r.figure(b)
	case "tableOfContents":
		return "[TOC]"
	case "bibliography":
		return "::: {#refs}\n:::"
	case "index":
		return "<!-- index -->"
	default:
		return r.fallback(b)
	}
}

func (r *renderer) heading(b *xats.ContentBlock) string {
	level, ok := b.IntField("level")
	if !ok {
		level = 1
	}
	// Heading blocks sit below the three container levels.
	head := fmt.Sprintf("%s %s", r.headingMarker(level+3), r.runs(b.SemanticTextField("text")))
	if b.ID != "" {
		head += fmt.Sprintf(" {#%s}", b.ID)
		r.labels.Define(b.ID)
	}
	return head
}

func (r *renderer) list(b *xats.ContentBlock) string {
	ordered := b.StringField("listType") == "ordered"
	items, _ := b.Content["items"].([]any)
	lines := make([]string, 0, len(items))
	for i, item := range items {
		marker := "-"
		if ordered {
			marker = fmt.Sprintf("%d.", i+1)
		}
		lines = append(lines, marker+" "+r.runs(xats.AsSemanticText(item)))
	}
	return strings.Join(lines, "\n")
}

func (r *renderer) blockquote(b *xats.ContentBlock) string {
	lines := []string{"> " + r.runs(b.SemanticTextField("text"))}
	if attr := b.StringField("attribution"); attr != "" {
		lines = append(lines, "> ", "> — "+encoding.EscapeMarkdownText(attr))
	}
	return strings.Join(lines, "\n")
}

func (r *renderer) codeBlock(b *xats.ContentBlock) string {
	lang := b.StringField("language")
	code := strings.TrimRight(b.StringField("code"), "\n")
	fence := "```"
	// A fence inside the code needs a longer outer fence.
	for strings.Contains(code, fence) {
		fence += "`"
	}
	return fence + lang + "\n" + code + "\n" + fence
}

func (r *renderer) mathBlock(b *xats.ContentBlock) string {
	return "$$\n" + strings.TrimSpace(b.StringField("math")) + "\n$$"
}

func (r *renderer) table(b *xats.ContentBlock) string {
	headers, _ := b.Content["headers"].([]any)
	rows, _ := b.Content["rows"].([]any)
	if !r.opts.EnableTables || (len(headers) == 0 && len(rows) == 0) {
		return r.tableAsText(b, headers, rows)
	}

	width := len(headers)
	for _, row := range rows {
		if cells, ok := row.([]any); ok && len(cells) > width {
			width = len(cells)
		}
	}

	var lines []string
	if caption := b.SemanticTextField("caption").Plain(); caption != "" {
		lines = append(lines, encoding.EscapeMarkdownText(caption), "")
	}
	lines = append(lines, "| "+r.tableRow(headers, width)+" |")
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
	for _, row := range rows {
		if cells, ok := row.([]any); ok {
			lines = append(lines, "| "+r.tableRow(cells, width)+" |")
		}
	}
	return strings.Join(lines, "\n")
}

func (r *renderer) tableRow(cells []any, width int) string {
	parts := make([]string, width)
	for i := range parts {
		if i < len(cells) {
			parts[i] = strings.ReplaceAll(r.runs(xats.AsSemanticText(cells[i])), "\n", " ")
		}
	}
	return strings.Join(parts, " | ")
}

// tableAsText degrades a table to prose rows when pipe tables are off.
func (r *renderer) tableAsText(b *xats.ContentBlock, headers, rows []any) string {
	r.result.Warnings = append(r.result.Warnings, converter.Warning{
		Code:    converter.CodeUnmappedBlock,
		Message: "table degraded to text rows",
		Path:    b.ID,
	})
	var lines []string
	for _, row := range append(append([]any{}, headers), rows...) {
		if cells, ok := row.([]any); ok {
			var texts []string
			for _, cell := range cells {
				texts = append(texts, xats.AsSemanticText(cell).Plain())
			}
			lines = append(lines, strings.Join(texts, ", "))
		}
	}
	return strings.Join(lines, "\n")
}

func (r *renderer) figure(b *xats.ContentBlock) string {
	caption := b.SemanticTextField("caption").Plain()
	src := b.StringField("src")
	line := fmt.Sprintf("![%s](%s)", encoding.EscapeMarkdown(caption), src)
	if b.ID != "" {
		line += fmt.Sprintf(" {#%s}", b.ID)
		r.labels.Define(b.ID)
	}
	return line
}

func (r *renderer) fallback(b *xats.ContentBlock) string {
	r.result.Warnings = append(r.result.Warnings, converter.Warning{
		Code:    converter.CodeUnmappedBlock,
		Message: fmt.Sprintf("unrecognized block type %q rendered as paragraph", b.BlockType),
		Path:    b.ID,
	})
	for _, key := range []string{"text", "content", "caption"} {
		if st := b.SemanticTextField(key); st != nil && !st.IsEmpty() {
			return r.runs(st)
		}
	}
	return fmt.Sprintf("<!-- unsupported block: %s -->", xats.BlockKind(b.BlockType))
}

func (r *renderer) runs(st *xats.SemanticText) string {
	if st == nil {
		return ""
	}
	var sb strings.Builder
	for _, run := range st.Runs {
		sb.WriteString(r.run(run))
	}
	return sb.String()
}

func (r *renderer) run(run xats.Run) string {
	if r.opts.RenderRun != nil {
		if out, ok := r.opts.RenderRun(run); ok {
			return out
		}
	}
	switch run.Type {
	case xats.RunText:
		return encoding.EscapeMarkdownText(run.Text)
	case xats.RunEmphasis:
		return "*" + encoding.EscapeMarkdownText(run.Text) + "*"
	case xats.RunStrong:
		return "**" + encoding.EscapeMarkdownText(run.Text) + "**"
	case xats.RunCode:
		return "`" + run.Text + "`"
	case xats.RunCitation:
		return FormatCitationGroup(run.CiteKey)
	case xats.RunReference:
		r.labels.Use(run.Ref)
		return fmt.Sprintf("[%s](#%s)", run.Ref, run.Ref)
	case xats.RunIndex:
		// No Markdown index syntax; the visible text survives, the entry
		// travels in an HTML comment so round trips keep it.
		return encoding.EscapeMarkdownText(run.Text) + fmt.Sprintf("<!-- index: %s -->", run.Entry)
	case xats.RunSubscript:
		return "~" + encoding.EscapeMarkdownText(run.Text) + "~"
	case xats.RunSuperscript:
		return "^" + encoding.EscapeMarkdownText(run.Text) + "^"
	case xats.RunStrikethrough:
		if r.opts.Variant == VariantCommonMark {
			return "<del>" + encoding.EscapeMarkdownText(run.Text) + "</del>"
		}
		return "~~" + encoding.EscapeMarkdownText(run.Text) + "~~"
	case xats.RunUnderline:
		return "<u>" + encoding.EscapeMarkdownText(run.Text) + "</u>"
	case xats.RunMathInline:
		return "$" + run.Math + "$"
	default:
		r.result.Warnings = append(r.result.Warnings, converter.Warning{
			Code:    converter.CodeUnknownRunType,
			Message: fmt.Sprintf("unknown run type %q degraded to text", run.Type),
		})
		return encoding.EscapeMarkdownText(run.Plain())
	}
}
