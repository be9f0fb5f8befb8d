package latex

import (
	"fmt"
	"strings"
	"time"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/encoding"
	"github.com/xats-org/convert/core/xats"
	"github.com/xats-org/convert/internal/formats/base"
)

// headingCommands maps document class and nominal heading level (1-6) to
// the concrete sectioning command. The mapping is total: levels beyond the
// deepest available command fall back to the deepest.
var headingCommands = map[string][]string{
	"book":    {"\\chapter", "\\section", "\\subsection", "\\subsubsection", "\\paragraph", "\\subparagraph"},
	"report":  {"\\chapter", "\\section", "\\subsection", "\\subsubsection", "\\paragraph", "\\subparagraph"},
	"article": {"\\section", "\\subsection", "\\subsubsection", "\\paragraph", "\\subparagraph", "\\subparagraph"},
}

// headingCommand returns the sectioning command for a class and level.
func headingCommand(class string, level int) string {
	cmds, ok := headingCommands[class]
	if !ok {
		cmds = headingCommands["article"]
	}
	if level < 1 {
		level = 1
	}
	if level > len(cmds) {
		level = len(cmds)
	}
	return cmds[level-1]
}

// containerCommand returns the sectioning command for a container kind.
// Units map to \part in every class; chapters and sections follow the
// class heading table.
func containerCommand(class string, kind xats.ContainerKind) string {
	switch kind {
	case xats.KindUnit:
		return "\\part"
	case xats.KindChapter:
		return headingCommand(class, 1)
	default:
		return headingCommand(class, 2)
	}
}

// renderer carries per-call render state. A fresh renderer is built for
// every Render call; nothing crosses call boundaries.
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
	if c.opts.UseNatbib && c.opts.UseBiblatex {
		result.Warnings = append(result.Warnings, converter.Warning{
			Code:    "package-conflict",
			Message: "both natbib and biblatex requested; using natbib",
		})
	}

	parts := r.preamble(doc)
	parts = append(parts, "\\begin{document}")
	if doc.BibliographicEntry.Title != "" {
		parts = append(parts, "\\maketitle")
	}
	parts = append(parts, r.matter(doc.FrontMatter)...)
	parts = append(parts, r.matter(doc.BodyMatter)...)
	parts = append(parts, r.matter(doc.BackMatter)...)
	parts = append(parts, "\\end{document}")

	result.Content = base.JoinParts(parts) + "\n"
	result.Metadata.WordCount = converterWordCount(result.Content)
	return result
}

func (r *renderer) preamble(doc *xats.Document) []string {
	var classOpts []string
	if r.opts.FontSize != "" {
		classOpts = append(classOpts, r.opts.FontSize)
	}
	if r.opts.PaperSize != "" {
		classOpts = append(classOpts, r.opts.PaperSize)
	}
	optStr := ""
	if len(classOpts) > 0 {
		optStr = "[" + strings.Join(classOpts, ",") + "]"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\\documentclass%s{%s}\n", optStr, r.opts.DocumentClass)
	for _, pkg := range r.opts.Packages {
		fmt.Fprintf(&b, "\\usepackage{%s}\n", pkg)
	}
	switch {
	case r.opts.UseNatbib:
		b.WriteString("\\usepackage{natbib}\n")
	case r.opts.UseBiblatex:
		fmt.Fprintf(&b, "\\usepackage[style=%s]{biblatex}\n", r.opts.BibliographyStyle)
		fmt.Fprintf(&b, "\\addbibresource{%s.bib}\n", r.opts.BibliographyFile)
	}
	for _, cmd := range r.opts.CustomCommands {
		b.WriteString(cmd + "\n")
	}
	if r.opts.Preamble != "" {
		b.WriteString(r.opts.Preamble + "\n")
	}

	entry := doc.BibliographicEntry
	if entry.Title != "" {
		fmt.Fprintf(&b, "\\title{%s}\n", encoding.EscapeLaTeX(entry.Title))
	}
	if authors := entry.AuthorString(); authors != "" {
		fmt.Fprintf(&b, "\\author{%s}\n", encoding.EscapeLaTeX(authors))
	}
	if entry.Issued != "" {
		fmt.Fprintf(&b, "\\date{%s}\n", encoding.EscapeLaTeX(entry.Issued))
	}
	if r.opts.BeforeBeginDocument != "" {
		b.WriteString(r.opts.BeforeBeginDocument + "\n")
	}
	return []string{strings.TrimRight(b.String(), "\n")}
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

func (r *renderer) container(c *xats.Container) []string {
	var parts []string
	cmd := containerCommand(r.opts.DocumentClass, c.Kind)
	title := c.Title.Plain()
	if title != "" {
		head := fmt.Sprintf("%s{%s}", cmd, encoding.EscapeLaTeX(title))
		if c.ID != "" {
			head += fmt.Sprintf("\\label{%s}", c.ID)
			r.labels.Define(c.ID)
		}
		parts = append(parts, head)
	}
	for _, outcome := range c.LearningOutcomes {
		if text := outcome.Plain(); text != "" {
			parts = append(parts, fmt.Sprintf("\\textit{%s}", encoding.EscapeLaTeX(text)))
		}
	}
	for _, node := range c.Contents {
		parts = append(parts, r.node(node)...)
	}
	return parts
}

func (r *renderer) block(b *xats.ContentBlock) string {
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
		return "\\tableofcontents"
	case "bibliography":
		return r.bibliography()
	case "index":
		return "\\printindex"
	default:
		return r.fallback(b)
	}
}

func (r *renderer) heading(b *xats.ContentBlock) string {
	level, ok := b.IntField("level")
	if !ok {
		level = 1
	}
	cmd := headingCommand(r.opts.DocumentClass, level)
	head := fmt.Sprintf("%s{%s}", cmd, r.runs(b.SemanticTextField("text")))
	if b.ID != "" {
		head += fmt.Sprintf("\\label{%s}", b.ID)
		r.labels.Define(b.ID)
	}
	return head
}

func (r *renderer) list(b *xats.ContentBlock) string {
	env := "itemize"
	if b.StringField("listType") == "ordered" {
		env = "enumerate"
	}
	items, _ := b.Content["items"].([]any)
	var sb strings.Builder
	fmt.Fprintf(&sb, "\\begin{%s}\n", env)
	for _, item := range items {
		sb.WriteString("\\item " + r.runs(xats.AsSemanticText(item)) + "\n")
	}
	fmt.Fprintf(&sb, "\\end{%s}", env)
	return sb.String()
}

func (r *renderer) blockquote(b *xats.ContentBlock) string {
	var sb strings.Builder
	sb.WriteString("\\begin{quote}\n")
	sb.WriteString(r.runs(b.SemanticTextField("text")) + "\n")
	if attr := b.StringField("attribution"); attr != "" {
		fmt.Fprintf(&sb, "--- %s\n", encoding.EscapeLaTeX(attr))
	}
	sb.WriteString("\\end{quote}")
	return sb.String()
}

func (r *renderer) codeBlock(b *xats.ContentBlock) string {
	// Code is emitted raw inside verbatim; escaping would corrupt it.
	code := b.StringField("code")
	return "\\begin{verbatim}\n" + strings.TrimRight(code, "\n") + "\n\\end{verbatim}"
}

func (r *renderer) mathBlock(b *xats.ContentBlock) string {
	math := b.StringField("math")
	if label := b.StringField("label"); label != "" {
		r.labels.Define(label)
		return fmt.Sprintf("\\begin{equation}\\label{%s}\n%s\n\\end{equation}", label, math)
	}
	return "\\[\n" + math + "\n\\]"
}

func (r *renderer) table(b *xats.ContentBlock) string {
	headers, _ := b.Content["headers"].([]any)
	rows, _ := b.Content["rows"].([]any)

	width := len(headers)
	for _, row := range rows {
		if cells, ok := row.([]any); ok && len(cells) > width {
			width = len(cells)
		}
	}
	if width == 0 {
		return r.fallback(b)
	}

	var sb strings.Builder
	sb.WriteString("\\begin{table}[ht]\n")
	if caption := b.SemanticTextField("caption").Plain(); caption != "" {
		fmt.Fprintf(&sb, "\\caption{%s}\n", encoding.EscapeLaTeX(caption))
	}
	fmt.Fprintf(&sb, "\\begin{tabular}{%s}\n", strings.Repeat("l", width))
	if len(headers) > 0 {
		sb.WriteString(r.tableRow(headers) + " \\\\\n\\hline\n")
	}
	for _, row := range rows {
		if cells, ok := row.([]any); ok {
			sb.WriteString(r.tableRow(cells) + " \\\\\n")
		}
	}
	sb.WriteString("\\end{tabular}\n\\end{table}")
	return sb.String()
}

func (r *renderer) tableRow(cells []any) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = r.runs(xats.AsSemanticText(cell))
	}
	return strings.Join(parts, " & ")
}

func (r *renderer) figure(b *xats.ContentBlock) string {
	var sb strings.Builder
	sb.WriteString("\\begin{figure}[ht]\n\\centering\n")
	if src := b.StringField("src"); src != "" {
		fmt.Fprintf(&sb, "\\includegraphics[width=\\linewidth]{%s}\n", src)
	}
	if caption := b.SemanticTextField("caption").Plain(); caption != "" {
		fmt.Fprintf(&sb, "\\caption{%s}\n", encoding.EscapeLaTeX(caption))
	}
	if b.ID != "" {
		fmt.Fprintf(&sb, "\\label{%s}\n", b.ID)
		r.labels.Define(b.ID)
	}
	sb.WriteString("\\end{figure}")
	return sb.String()
}

func (r *renderer) bibliography() string {
	if r.opts.UseBiblatex && !r.opts.UseNatbib {
		return "\\printbibliography"
	}
	return fmt.Sprintf("\\bibliographystyle{%s}\n\\bibliography{%s}",
		r.opts.BibliographyStyle, r.opts.BibliographyFile)
}

// fallback renders an unrecognized blockType as a plain paragraph. Unknown
// block types never error; when no prose can be extracted the block leaves
// a comment so the output is still non-empty.
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
	return fmt.Sprintf("%% unsupported block: %s", xats.BlockKind(b.BlockType))
}

// runs renders a SemanticText through the run dispatcher.
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
	switch run.Type {
	case xats.RunText:
		return encoding.EscapeLaTeX(run.Text)
	case xats.RunEmphasis:
		return fmt.Sprintf("\\emph{%s}", encoding.EscapeLaTeX(run.Text))
	case xats.RunStrong:
		return fmt.Sprintf("\\textbf{%s}", encoding.EscapeLaTeX(run.Text))
	case xats.RunCode:
		return fmt.Sprintf("\\texttt{%s}", encoding.EscapeLaTeX(run.Text))
	case xats.RunCitation:
		cmd := "\\cite"
		if r.opts.UseNatbib {
			cmd = "\\citep"
		}
		return fmt.Sprintf("%s{%s}", cmd, strings.Join(run.CiteKey, ","))
	case xats.RunReference:
		r.labels.Use(run.Ref)
		return fmt.Sprintf("\\ref{%s}", run.Ref)
	case xats.RunIndex:
		return fmt.Sprintf("%s\\index{%s}", encoding.EscapeLaTeX(run.Text), encoding.EscapeLaTeX(run.Entry))
	case xats.RunSubscript:
		return fmt.Sprintf("\\textsubscript{%s}", encoding.EscapeLaTeX(run.Text))
	case xats.RunSuperscript:
		return fmt.Sprintf("\\textsuperscript{%s}", encoding.EscapeLaTeX(run.Text))
	case xats.RunStrikethrough:
		return fmt.Sprintf("\\sout{%s}", encoding.EscapeLaTeX(run.Text))
	case xats.RunUnderline:
		return fmt.Sprintf("\\underline{%s}", encoding.EscapeLaTeX(run.Text))
	case xats.RunMathInline:
		return "$" + run.Math + "$"
	default:
		r.result.Warnings = append(r.result.Warnings, converter.Warning{
			Code:    converter.CodeUnknownRunType,
			Message: fmt.Sprintf("unknown run type %q degraded to text", run.Type),
		})
		return encoding.EscapeLaTeX(run.Plain())
	}
}
