package markdown

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/encoding"
	"github.com/xats-org/convert/core/xats"
	"github.com/xats-org/convert/internal/formats/base"
)

var (
	atxHeadingRegex = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	headingIDRegex  = regexp.MustCompile(`\s*\{#([^}]+)\}\s*$`)
	orderedRegex    = regexp.MustCompile(`^\d+\.\s+`)
	figureRegex     = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)]*)\)(?:\s*\{#([^}]+)\})?\s*$`)
	fenceRegex      = regexp.MustCompile("^(```+)\\s*([^`]*?)\\s*$")
	indexNoteRegex  = regexp.MustCompile(`^<!-- index: (.*?) -->`)
)

type parseState struct {
	opts     Options
	result   *converter.ParseResult
	labels   *base.Labels
	mapped   int
	unmapped int
}

func (s *parseState) mapOne() { s.mapped++ }

func (s *parseState) unmap(kind, raw, reason string) {
	s.unmapped++
	if len(raw) > 80 {
		raw = raw[:80]
	}
	s.result.Unmapped = append(s.result.Unmapped, converter.UnmappedElement{
		Kind: kind, Raw: raw, Reason: reason,
	})
}

func (s *parseState) warn(code, message string) {
	s.result.Warnings = append(s.result.Warnings, converter.Warning{Code: code, Message: message})
}

// Parse implements converter.Interface.
func (c *Converter) Parse(content string) *converter.ParseResult {
	start := time.Now()
	result := &converter.ParseResult{
		Document: xats.EmptyDocument(""),
		Metadata: converter.ParseMetadata{Format: FormatName},
	}
	defer func() { result.Metadata.ParseTime = time.Since(start) }()
	defer base.RecoverParse(result)

	if strings.ContainsRune(content, 0) {
		result.Errors = append(result.Errors, converter.ConversionError{
			Code:        converter.CodeInvalidFormat,
			Message:     "content contains NUL bytes; not a text document",
			Recoverable: false,
		})
		return result
	}

	state := &parseState{opts: c.opts, result: result, labels: base.NewLabels()}
	doc := result.Document

	fm, body, err := splitFrontMatter(content)
	if err != nil {
		// Broken front matter degrades: the whole input parses as body.
		result.Errors = append(result.Errors, converter.ConversionError{
			Code:        converter.CodeInvalidFormat,
			Message:     err.Error(),
			Recoverable: true,
		})
		body = content
	}
	if fm != nil {
		applyFrontMatter(doc, fm, state)
	}

	parseBody(body, doc.BodyMatter, state)

	result.Metadata.MappedElements = state.mapped
	result.Metadata.UnmappedElements = state.unmapped
	result.Metadata.FidelityScore = converter.Score(state.mapped, state.unmapped, len(result.Errors), len(result.Warnings))
	return result
}

func applyFrontMatter(doc *xats.Document, fm *frontMatter, state *parseState) {
	entry := doc.BibliographicEntry
	if fm.Title != "" {
		entry.Title = fm.Title
		state.mapOne()
	}
	for _, name := range fm.authors() {
		entry.Author = append(entry.Author, xats.Name{Literal: name})
	}
	if len(entry.Author) > 0 {
		state.mapOne()
	}
	entry.Issued = fm.Date
	entry.Language = fm.Lang
	doc.Subject = fm.Subject
}

// containerTarget tracks where parsed blocks land: the innermost open
// container, falling back to body matter.
type containerTarget struct {
	matter *xats.Matter
	stack  []*xats.Container
}

func (t *containerTarget) push(c *xats.Container) {
	for len(t.stack) > 0 && t.stack[len(t.stack)-1].Depth() >= c.Depth() {
		t.stack = t.stack[:len(t.stack)-1]
	}
	if len(t.stack) == 0 {
		t.matter.Contents = append(t.matter.Contents, xats.ContainerNode(c))
	} else {
		parent := t.stack[len(t.stack)-1]
		parent.Contents = append(parent.Contents, xats.ContainerNode(c))
	}
	t.stack = append(t.stack, c)
}

func (t *containerTarget) addBlock(b *xats.ContentBlock) {
	if len(t.stack) == 0 {
		t.matter.Contents = append(t.matter.Contents, xats.BlockNode(b))
	} else {
		parent := t.stack[len(t.stack)-1]
		parent.Contents = append(parent.Contents, xats.BlockNode(b))
	}
}

// headingTarget maps an ATX heading level to a container kind (levels one
// through three) or a heading block level (four through six).
func headingTarget(level int) (kind xats.ContainerKind, blockLevel int) {
	switch level {
	case 1:
		return xats.KindUnit, 0
	case 2:
		return xats.KindChapter, 0
	case 3:
		return xats.KindSection, 0
	default:
		return "", level - 3
	}
}

func parseBody(body string, matter *xats.Matter, state *parseState) {
	target := &containerTarget{matter: matter}
	lines := strings.Split(body, "\n")
	var para []string

	flushPara := func() {
		text := strings.TrimSpace(strings.Join(para, " "))
		para = para[:0]
		if text == "" {
			return
		}
		state.mapOne()
		target.addBlock(&xats.ContentBlock{
			ID:        state.labels.Next("block"),
			BlockType: xats.BlockParagraph,
			Content:   map[string]any{"text": runsContent(parseRuns(text, state))},
		})
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flushPara()

		case trimmed == "[TOC]":
			flushPara()
			state.mapOne()
			target.addBlock(&xats.ContentBlock{
				ID:        state.labels.Next("block"),
				BlockType: xats.PlaceholderTableOfContents,
			})

		case strings.HasPrefix(trimmed, "::: {#refs}"):
			flushPara()
			state.mapOne()
			target.addBlock(&xats.ContentBlock{
				ID:        state.labels.Next("block"),
				BlockType: xats.PlaceholderBibliography,
			})
			// Skip the closing fence if present.
			if i+1 < len(lines) && strings.TrimSpace(lines[i+1]) == ":::" {
				i++
			}

		case trimmed == "<!-- index -->":
			flushPara()
			state.mapOne()
			target.addBlock(&xats.ContentBlock{
				ID:        state.labels.Next("block"),
				BlockType: xats.PlaceholderIndex,
			})

		case fenceRegex.MatchString(trimmed):
			flushPara()
			i = parseCodeFence(lines, i, target, state)

		case trimmed == "$$":
			flushPara()
			i = parseMathBlock(lines, i, target, state)

		case atxHeadingRegex.MatchString(trimmed):
			flushPara()
			parseHeading(trimmed, target, state)

		case strings.HasPrefix(trimmed, ">"):
			flushPara()
			i = parseBlockquote(lines, i, target, state)

		case figureRegex.MatchString(trimmed):
			flushPara()
			parseFigureLine(trimmed, target, state)

		case isListLine(trimmed):
			flushPara()
			i = parseList(lines, i, target, state)

		case strings.HasPrefix(trimmed, "|") && i+1 < len(lines) && isTableSeparator(lines[i+1]):
			flushPara()
			i = parseTable(lines, i, target, state)

		default:
			para = append(para, trimmed)
		}
	}
	flushPara()
}

func parseHeading(line string, target *containerTarget, state *parseState) {
	m := atxHeadingRegex.FindStringSubmatch(line)
	level := len(m[1])
	title := m[2]

	id := ""
	if idm := headingIDRegex.FindStringSubmatch(title); idm != nil {
		id = idm[1]
		title = headingIDRegex.ReplaceAllString(title, "")
		state.labels.Define(id)
	}

	state.mapOne()
	kind, blockLevel := headingTarget(level)
	if kind != "" {
		c := xats.NewContainer(kind, xats.FromRuns(parseRuns(title, state)...))
		c.ID = id
		target.push(c)
		return
	}
	target.addBlock(&xats.ContentBlock{
		ID:        id,
		BlockType: xats.BlockHeading,
		Content: map[string]any{
			"text":  runsContent(parseRuns(title, state)),
			"level": blockLevel,
		},
	})
}

func parseCodeFence(lines []string, start int, target *containerTarget, state *parseState) int {
	m := fenceRegex.FindStringSubmatch(strings.TrimSpace(lines[start]))
	fence, lang := m[1], m[2]

	var code []string
	i := start + 1
	for ; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == fence {
			break
		}
		code = append(code, lines[i])
	}
	if state.opts.ParseFence != nil && strings.HasPrefix(lang, "{") {
		if block, warnings, ok := state.opts.ParseFence(lang, strings.Join(code, "\n")); ok {
			state.result.Warnings = append(state.result.Warnings, warnings...)
			if block.ID == "" {
				block.ID = state.labels.Next("block")
			}
			state.mapOne()
			target.addBlock(block)
			return i
		}
	}
	content := map[string]any{"code": strings.Join(code, "\n")}
	if lang != "" {
		content["language"] = lang
	}
	state.mapOne()
	target.addBlock(&xats.ContentBlock{
		ID:        state.labels.Next("block"),
		BlockType: xats.BlockCodeBlock,
		Content:   content,
	})
	return i
}

func parseMathBlock(lines []string, start int, target *containerTarget, state *parseState) int {
	var math []string
	i := start + 1
	for ; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "$$" {
			break
		}
		math = append(math, lines[i])
	}
	state.mapOne()
	target.addBlock(&xats.ContentBlock{
		ID:        state.labels.Next("block"),
		BlockType: xats.BlockMathBlock,
		Content:   map[string]any{"math": strings.TrimSpace(strings.Join(math, "\n"))},
	})
	return i
}

func parseBlockquote(lines []string, start int, target *containerTarget, state *parseState) int {
	var quoted []string
	i := start
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, ">") {
			i--
			break
		}
		quoted = append(quoted, strings.TrimSpace(strings.TrimPrefix(trimmed, ">")))
	}
	if i == len(lines) {
		i--
	}

	text := quoted
	attribution := ""
	for j := len(quoted) - 1; j >= 0; j-- {
		if strings.HasPrefix(quoted[j], "— ") {
			attribution = strings.TrimPrefix(quoted[j], "— ")
			text = quoted[:j]
			break
		}
	}

	content := map[string]any{
		"text": runsContent(parseRuns(strings.TrimSpace(strings.Join(text, " ")), state)),
	}
	if attribution != "" {
		content["attribution"] = encoding.UnescapeMarkdown(attribution)
	}
	state.mapOne()
	target.addBlock(&xats.ContentBlock{
		ID:        state.labels.Next("block"),
		BlockType: xats.BlockBlockquote,
		Content:   content,
	})
	return i
}

func parseFigureLine(line string, target *containerTarget, state *parseState) {
	m := figureRegex.FindStringSubmatch(line)
	content := map[string]any{}
	if m[1] != "" {
		content["caption"] = encoding.UnescapeMarkdown(m[1])
	}
	if m[2] != "" {
		content["src"] = m[2]
	}
	id := m[3]
	if id != "" {
		state.labels.Define(id)
	}
	state.mapOne()
	target.addBlock(&xats.ContentBlock{
		ID:        id,
		BlockType: xats.BlockFigure,
		Content:   content,
	})
}

func isListLine(line string) bool {
	return strings.HasPrefix(line, "- ") ||
		strings.HasPrefix(line, "* ") ||
		orderedRegex.MatchString(line)
}

func parseList(lines []string, start int, target *containerTarget, state *parseState) int {
	ordered := orderedRegex.MatchString(strings.TrimSpace(lines[start]))
	var items []any
	i := start
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !isListLine(trimmed) {
			i--
			break
		}
		item := trimmed
		switch {
		case strings.HasPrefix(item, "- "):
			item = item[2:]
		case strings.HasPrefix(item, "* "):
			item = item[2:]
		default:
			item = orderedRegex.ReplaceAllString(item, "")
		}
		items = append(items, runsContent(parseRuns(item, state)))
	}
	if i == len(lines) {
		i--
	}

	listType := "unordered"
	if ordered {
		listType = "ordered"
	}
	state.mapOne()
	target.addBlock(&xats.ContentBlock{
		ID:        state.labels.Next("block"),
		BlockType: xats.BlockList,
		Content:   map[string]any{"listType": listType, "items": items},
	})
	return i
}

func isTableSeparator(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "|") {
		return false
	}
	stripped := strings.Trim(line, "| ")
	if stripped == "" {
		return false
	}
	for _, cell := range strings.Split(stripped, "|") {
		cell = strings.TrimSpace(cell)
		if cell == "" || strings.Trim(cell, ":-") != "" {
			return false
		}
	}
	return true
}

func splitTableRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func parseTable(lines []string, start int, target *containerTarget, state *parseState) int {
	headerCells := splitTableRow(lines[start])
	headers := make([]any, 0, len(headerCells))
	for _, cell := range headerCells {
		headers = append(headers, runsContent(parseRuns(cell, state)))
	}

	var rows []any
	i := start + 2 // skip the separator row
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "|") {
			i--
			break
		}
		var cells []any
		for _, cell := range splitTableRow(trimmed) {
			cells = append(cells, runsContent(parseRuns(cell, state)))
		}
		rows = append(rows, cells)
	}
	if i == len(lines) {
		i--
	}

	state.mapOne()
	target.addBlock(&xats.ContentBlock{
		ID:        state.labels.Next("block"),
		BlockType: xats.BlockTable,
		Content:   map[string]any{"headers": headers, "rows": rows},
	})
	return i
}

// parseRuns scans inline text left to right: inline code first (its content
// is opaque), then math, strikethrough before subscript (both use tildes),
// strong before emphasis, links and citation groups, inline HTML, and
// backslash escapes, which are carried to the flush and resolved by
// UnescapeMarkdown. Putting code and math ahead of citation and reference
// markers deviates from the nominal citation-first priority: markers with
// distinct lead bytes never compete, and where spans overlap the opaque
// spans must win so a "@key" inside backticks stays literal code.
func parseRuns(text string, state *parseState) []xats.Run {
	var runs []xats.Run
	var literal strings.Builder

	flush := func() {
		if literal.Len() == 0 {
			return
		}
		runs = append(runs, xats.Run{Type: xats.RunText, Text: encoding.UnescapeMarkdown(literal.String())})
		literal.Reset()
	}
	spanned := func(runType xats.RunType, marker string, i int) (int, bool) {
		end := strings.Index(text[i+len(marker):], marker)
		if end < 0 {
			return 0, false
		}
		inner := text[i+len(marker) : i+len(marker)+end]
		flush()
		runs = append(runs, xats.Run{Type: runType, Text: encoding.UnescapeMarkdown(inner)})
		return i + 2*len(marker) + end, true
	}

	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case strings.HasPrefix(text[i:], `\@ref(`):
			// bookdown cross-reference form.
			end := strings.IndexByte(text[i+6:], ')')
			if end < 0 {
				literal.WriteString(`\@`)
				i += 2
				continue
			}
			flush()
			ref := text[i+6 : i+6+end]
			state.labels.Use(ref)
			runs = append(runs, xats.Run{Type: xats.RunReference, Ref: ref})
			i += 6 + end + 1

		case c == '\\' && i+1 < len(text):
			literal.WriteByte(c)
			literal.WriteByte(text[i+1])
			i += 2

		case c == '`':
			end := strings.IndexByte(text[i+1:], '`')
			if end < 0 {
				literal.WriteByte(c)
				i++
				continue
			}
			flush()
			runs = append(runs, xats.Run{Type: xats.RunCode, Text: text[i+1 : i+1+end]})
			i += end + 2

		case c == '$':
			end := strings.IndexByte(text[i+1:], '$')
			if end < 0 {
				literal.WriteByte(c)
				i++
				continue
			}
			flush()
			runs = append(runs, xats.Run{Type: xats.RunMathInline, Math: text[i+1 : i+1+end]})
			i += end + 2

		case strings.HasPrefix(text[i:], "**"):
			if next, ok := spanned(xats.RunStrong, "**", i); ok {
				i = next
				continue
			}
			literal.WriteString("**")
			i += 2

		case c == '*':
			if next, ok := spanned(xats.RunEmphasis, "*", i); ok {
				i = next
				continue
			}
			literal.WriteByte(c)
			i++

		case strings.HasPrefix(text[i:], "~~"):
			if next, ok := spanned(xats.RunStrikethrough, "~~", i); ok {
				i = next
				continue
			}
			literal.WriteString("~~")
			i += 2

		case c == '~':
			if next, ok := spanned(xats.RunSubscript, "~", i); ok {
				i = next
				continue
			}
			literal.WriteByte(c)
			i++

		case c == '^':
			if next, ok := spanned(xats.RunSuperscript, "^", i); ok {
				i = next
				continue
			}
			literal.WriteByte(c)
			i++

		case strings.HasPrefix(text[i:], "<u>"):
			if next, ok := htmlSpan(text, i, "u", &runs, &literal, xats.RunUnderline); ok {
				i = next
				continue
			}
			literal.WriteByte(c)
			i++

		case strings.HasPrefix(text[i:], "<del>"):
			if next, ok := htmlSpan(text, i, "del", &runs, &literal, xats.RunStrikethrough); ok {
				i = next
				continue
			}
			literal.WriteByte(c)
			i++

		case strings.HasPrefix(text[i:], "<!-- index: "):
			m := indexNoteRegex.FindStringSubmatch(text[i:])
			if m == nil {
				literal.WriteByte(c)
				i++
				continue
			}
			flush()
			runs = append(runs, xats.Run{Type: xats.RunIndex, Entry: m[1]})
			i += len(m[0])

		case c == '[':
			next, ok := parseBracket(text, i, &runs, &literal, state)
			if ok {
				i = next
				continue
			}
			literal.WriteByte(c)
			i++

		default:
			literal.WriteByte(c)
			i++
		}
	}
	flush()
	return runs
}

func htmlSpan(text string, i int, tag string, runs *[]xats.Run, literal *strings.Builder, runType xats.RunType) (int, bool) {
	open := "<" + tag + ">"
	closing := "</" + tag + ">"
	end := strings.Index(text[i+len(open):], closing)
	if end < 0 {
		return 0, false
	}
	inner := text[i+len(open) : i+len(open)+end]
	if literal.Len() > 0 {
		*runs = append(*runs, xats.Run{Type: xats.RunText, Text: encoding.UnescapeMarkdown(literal.String())})
		literal.Reset()
	}
	*runs = append(*runs, xats.Run{Type: runType, Text: encoding.UnescapeMarkdown(inner)})
	return i + len(open) + end + len(closing), true
}

// parseBracket handles "[...]" spans: "[text](#target)" cross-references,
// "[text](url)" external links (kept as text, the URL is dropped with a
// warning), and "[@key; ...]" citation groups.
func parseBracket(text string, i int, runs *[]xats.Run, literal *strings.Builder, state *parseState) (int, bool) {
	end := strings.IndexByte(text[i:], ']')
	if end < 0 {
		return 0, false
	}
	inner := text[i+1 : i+end]
	after := i + end + 1

	flush := func() {
		if literal.Len() > 0 {
			*runs = append(*runs, xats.Run{Type: xats.RunText, Text: encoding.UnescapeMarkdown(literal.String())})
			literal.Reset()
		}
	}

	// Link form.
	if after < len(text) && text[after] == '(' {
		closeParen := strings.IndexByte(text[after:], ')')
		if closeParen < 0 {
			return 0, false
		}
		targetText := text[after+1 : after+closeParen]
		if strings.HasPrefix(targetText, "#") {
			flush()
			ref := strings.TrimPrefix(targetText, "#")
			state.labels.Use(ref)
			*runs = append(*runs, xats.Run{Type: xats.RunReference, Ref: ref})
			return after + closeParen + 1, true
		}
		// External link: keep the visible text.
		state.warn(converter.CodeUnmappedBlock,
			fmt.Sprintf("external link target %q dropped", targetText))
		literal.WriteString(inner)
		return after + closeParen + 1, true
	}

	// Citation group form.
	if strings.Contains(inner, "@") {
		citations, err := ParseCitationGroup(inner)
		if err == nil {
			flush()
			keys := make([]string, 0, len(citations))
			var prefix, suffix string
			for n, cite := range citations {
				keys = append(keys, cite.Key)
				if n == 0 {
					prefix = cite.Prefix
				}
				if n == len(citations)-1 {
					suffix = cite.Suffix
				}
			}
			if prefix != "" {
				*runs = append(*runs, xats.Run{Type: xats.RunText, Text: prefix + " "})
			}
			*runs = append(*runs, xats.Run{Type: xats.RunCitation, CiteKey: keys})
			if suffix != "" {
				*runs = append(*runs, xats.Run{Type: xats.RunText, Text: ", " + suffix})
			}
			return after, true
		}
	}
	return 0, false
}

// runsContent converts parsed runs to the generic map shape stored in
// ContentBlock.Content.
func runsContent(runs []xats.Run) map[string]any {
	out := make([]any, 0, len(runs))
	for _, r := range runs {
		m := map[string]any{"type": string(r.Type)}
		if r.Text != "" {
			m["text"] = r.Text
		}
		if len(r.CiteKey) > 0 {
			if len(r.CiteKey) == 1 {
				m["citeKey"] = r.CiteKey[0]
			} else {
				keys := make([]any, len(r.CiteKey))
				for i, k := range r.CiteKey {
					keys[i] = k
				}
				m["citeKey"] = keys
			}
		}
		if r.Ref != "" {
			m["ref"] = r.Ref
		}
		if r.Entry != "" {
			m["entry"] = r.Entry
		}
		if r.Math != "" {
			m["math"] = r.Math
		}
		out = append(out, m)
	}
	return map[string]any{"runs": out}
}
