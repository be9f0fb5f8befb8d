package docx

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/encoding"
	"github.com/xats-org/convert/core/xats"
	"github.com/xats-org/convert/internal/formats/base"
)

// renderer carries per-call render state.
type renderer struct {
	result     *converter.RenderResult
	body       []string
	bookmarkID int
	words      int
}

// Render implements converter.Interface. The output is the OOXML package
// transported as base64.
func (c *Converter) Render(doc *xats.Document) *converter.RenderResult {
	start := time.Now()
	result := &converter.RenderResult{
		Metadata: converter.RenderMetadata{
			Format:   FormatName,
			Encoding: converter.EncodingBase64,
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

	r := &renderer{result: result}
	r.matter(doc.FrontMatter)
	r.matter(doc.BodyMatter)
	r.matter(doc.BackMatter)

	entry := doc.BibliographicEntry
	b := &builder{
		title:    entry.Title,
		subject:  doc.Subject,
		language: entry.Language,
		created:  entry.Issued,
		body:     r.body,
	}
	for _, author := range entry.Author {
		b.creator = append(b.creator, author.String())
	}

	data, err := b.build()
	if err != nil {
		result.Errors = append(result.Errors, converter.ConversionError{
			Code:        converter.CodeInternal,
			Message:     fmt.Sprintf("assembling package: %v", err),
			Recoverable: false,
		})
		return result
	}
	result.Content = base64.StdEncoding.EncodeToString(data)
	result.Metadata.WordCount = r.words
	return result
}

func (r *renderer) matter(m *xats.Matter) {
	if m == nil {
		return
	}
	for _, node := range m.Contents {
		r.node(node)
	}
}

func (r *renderer) node(n *xats.Node) {
	switch {
	case n == nil:
	case n.Container != nil:
		r.container(n.Container)
	case n.Block != nil:
		r.block(n.Block)
	}
}

func (r *renderer) container(c *xats.Container) {
	if title := c.Title.Plain(); title != "" {
		style := "Heading" + strconv.Itoa(c.Depth())
		r.body = append(r.body, r.paragraph(style, c.ID, r.textRun(title)))
	}
	for _, outcome := range c.LearningOutcomes {
		if text := outcome.Plain(); text != "" {
			r.body = append(r.body, r.paragraph("", "", r.styledRun("<w:i/>", text)))
		}
	}
	for _, node := range c.Contents {
		r.node(node)
	}
}

func (r *renderer) block(b *xats.ContentBlock) {
	switch xats.BlockKind(b.BlockType) {
	case "paragraph":
		r.body = append(r.body, r.paragraph("", b.ID, r.runs(b.SemanticTextField("text"))))
	case "heading":
		r.heading(b)
	case "list":
		r.list(b)
	case "blockquote":
		r.blockquote(b)
	case "codeBlock":
		r.codeBlock(b)
	case "mathBlock":
		math := strings.TrimSpace(b.StringField("math"))
		r.body = append(r.body, r.paragraph("MathBlock", b.ID, r.textRun(math)))
	case "table":
		r.table(b)
	case "figure":
		r.figure(b)
	case "tableOfContents":
		r.body = append(r.body, `<w:p><w:fldSimple w:instr=" TOC \o &quot;1-3&quot; \h "/></w:p>`)
	case "bibliography":
		r.body = append(r.body, r.paragraph("Bibliography", b.ID, ""))
	case "index":
		r.body = append(r.body, `<w:p><w:fldSimple w:instr=" INDEX \h "/></w:p>`)
	default:
		r.fallback(b)
	}
}

func (r *renderer) heading(b *xats.ContentBlock) {
	level, ok := b.IntField("level")
	if !ok {
		level = 1
	}
	// Heading blocks sit below the three container levels.
	level += 3
	if level > 6 {
		level = 6
	}
	style := "Heading" + strconv.Itoa(level)
	r.body = append(r.body, r.paragraph(style, b.ID, r.runs(b.SemanticTextField("text"))))
}

func (r *renderer) list(b *xats.ContentBlock) {
	numID := numIDBullet
	if b.StringField("listType") == "ordered" {
		numID = numIDDecimal
	}
	items, _ := b.Content["items"].([]any)
	for _, item := range items {
		runs := r.runs(xats.AsSemanticText(item))
		pPr := `<w:pPr><w:numPr><w:ilvl w:val="0"/><w:numId w:val="` + numID + `"/></w:numPr></w:pPr>`
		r.body = append(r.body, "<w:p>"+pPr+runs+"</w:p>")
	}
}

func (r *renderer) blockquote(b *xats.ContentBlock) {
	r.body = append(r.body, r.paragraph("Quote", b.ID, r.runs(b.SemanticTextField("text"))))
	if attr := b.StringField("attribution"); attr != "" {
		r.body = append(r.body, r.paragraph("Quote", "", r.textRun("— "+attr)))
	}
}

// codeBlock emits one Code-styled paragraph per source line. OOXML has no
// slot for the source language, so that field is reported as lost.
func (r *renderer) codeBlock(b *xats.ContentBlock) {
	if lang := b.StringField("language"); lang != "" {
		r.result.Warnings = append(r.result.Warnings, converter.Warning{
			Code:    converter.CodeUnmappedBlock,
			Message: fmt.Sprintf("code language %q has no OOXML representation", lang),
			Path:    b.ID,
		})
	}
	code := strings.TrimRight(b.StringField("code"), "\n")
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		id := ""
		if i == 0 {
			id = b.ID
		}
		r.body = append(r.body, r.paragraph("Code", id, r.rawRun(line)))
	}
}

func (r *renderer) table(b *xats.ContentBlock) {
	headers, _ := b.Content["headers"].([]any)
	rows, _ := b.Content["rows"].([]any)

	var sb strings.Builder
	sb.WriteString(`<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/></w:tblPr>`)
	writeRow := func(cells []any) {
		sb.WriteString("<w:tr>")
		for _, cell := range cells {
			sb.WriteString("<w:tc><w:p>" + r.runs(xats.AsSemanticText(cell)) + "</w:p></w:tc>")
		}
		sb.WriteString("</w:tr>")
	}
	if len(headers) > 0 {
		writeRow(headers)
	}
	for _, row := range rows {
		if cells, ok := row.([]any); ok {
			writeRow(cells)
		}
	}
	sb.WriteString("</w:tbl>")
	r.body = append(r.body, sb.String())
}

// figure keeps the caption; image payloads are outside this converter's
// scope, so the source reference is reported as lost.
func (r *renderer) figure(b *xats.ContentBlock) {
	if src := b.StringField("src"); src != "" {
		r.result.Warnings = append(r.result.Warnings, converter.Warning{
			Code:    converter.CodeUnmappedBlock,
			Message: fmt.Sprintf("figure source %q not embedded", src),
			Path:    b.ID,
		})
	}
	caption := b.SemanticTextField("caption").Plain()
	r.body = append(r.body, r.paragraph("Caption", b.ID, r.textRun(caption)))
}

func (r *renderer) fallback(b *xats.ContentBlock) {
	r.result.Warnings = append(r.result.Warnings, converter.Warning{
		Code:    converter.CodeUnmappedBlock,
		Message: fmt.Sprintf("unrecognized block type %q rendered as paragraph", b.BlockType),
		Path:    b.ID,
	})
	for _, key := range []string{"text", "content", "caption"} {
		if st := b.SemanticTextField(key); st != nil && !st.IsEmpty() {
			r.body = append(r.body, r.paragraph("", b.ID, r.runs(st)))
			return
		}
	}
	r.body = append(r.body, r.paragraph("", b.ID, ""))
}

// paragraph assembles a w:p, registering a bookmark when the source node
// carries an ID.
func (r *renderer) paragraph(style, id, runs string) string {
	var sb strings.Builder
	sb.WriteString("<w:p>")
	if style != "" {
		sb.WriteString(`<w:pPr><w:pStyle w:val="` + style + `"/></w:pPr>`)
	}
	if id != "" {
		n := strconv.Itoa(r.bookmarkID)
		r.bookmarkID++
		sb.WriteString(`<w:bookmarkStart w:id="` + n + `" w:name="` + encoding.EscapeXMLAttr(id) + `"/>`)
		sb.WriteString(`<w:bookmarkEnd w:id="` + n + `"/>`)
	}
	sb.WriteString(runs)
	sb.WriteString("</w:p>")
	return sb.String()
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
	switch run.Type {
	case xats.RunText:
		return r.textRun(run.Text)
	case xats.RunEmphasis:
		return r.styledRun("<w:i/>", run.Text)
	case xats.RunStrong:
		return r.styledRun("<w:b/>", run.Text)
	case xats.RunCode:
		return r.styledRun(`<w:rStyle w:val="CodeChar"/>`, run.Text)
	case xats.RunCitation:
		return r.styledRun(`<w:rStyle w:val="Citation"/>`, strings.Join(run.CiteKey, "; "))
	case xats.RunReference:
		return r.styledRun(`<w:rStyle w:val="CrossReference"/>`, run.Ref)
	case xats.RunIndex:
		return r.styledRun(`<w:rStyle w:val="IndexTerm"/>`, run.Entry)
	case xats.RunSubscript:
		return r.styledRun(`<w:vertAlign w:val="subscript"/>`, run.Text)
	case xats.RunSuperscript:
		return r.styledRun(`<w:vertAlign w:val="superscript"/>`, run.Text)
	case xats.RunStrikethrough:
		return r.styledRun("<w:strike/>", run.Text)
	case xats.RunUnderline:
		return r.styledRun(`<w:u w:val="single"/>`, run.Text)
	case xats.RunMathInline:
		return r.styledRun(`<w:rStyle w:val="MathInline"/>`, run.Math)
	default:
		r.result.Warnings = append(r.result.Warnings, converter.Warning{
			Code:    converter.CodeUnknownRunType,
			Message: fmt.Sprintf("unknown run type %q degraded to text", run.Type),
		})
		return r.textRun(run.Plain())
	}
}

func (r *renderer) textRun(text string) string {
	if text == "" {
		return ""
	}
	r.words += len(strings.Fields(text))
	return `<w:r><w:t xml:space="preserve">` + encoding.EscapeXMLText(text) + "</w:t></w:r>"
}

// rawRun emits a run without word counting, used for code lines.
func (r *renderer) rawRun(text string) string {
	return `<w:r><w:t xml:space="preserve">` + encoding.EscapeXMLText(text) + "</w:t></w:r>"
}

func (r *renderer) styledRun(rPr, text string) string {
	if text == "" {
		return ""
	}
	r.words += len(strings.Fields(text))
	return "<w:r><w:rPr>" + rPr + `</w:rPr><w:t xml:space="preserve">` + encoding.EscapeXMLText(text) + "</w:t></w:r>"
}
