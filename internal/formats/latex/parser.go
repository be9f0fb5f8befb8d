package latex

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
	commandRegex  = regexp.MustCompile(`\\[a-zA-Z]+`)
	beginEnvRegex = regexp.MustCompile(`\\begin\{([a-zA-Z*]+)\}`)
	endEnvRegex   = regexp.MustCompile(`\\end\{([a-zA-Z*]+)\}`)
)

// parseState carries per-call parse bookkeeping threaded through the
// recursive walk. Every Parse call constructs a fresh state.
type parseState struct {
	result   *converter.ParseResult
	labels   *base.Labels
	class    string
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

	// Fail-fast gate: clearly-wrong input short-circuits the pipeline.
	if !looksLikeLaTeX(content) {
		result.Errors = append(result.Errors, converter.ConversionError{
			Code:        converter.CodeInvalidFormat,
			Message:     "content does not look like LaTeX",
			Recoverable: false,
		})
		return result
	}

	if issues := checkBraceBalance(content); len(issues) > 0 {
		rejectStructural(result, issues)
		return result
	}
	if issues := checkEnvironmentBalance(content); len(issues) > 0 {
		rejectStructural(result, issues)
		return result
	}

	state := &parseState{result: result, labels: base.NewLabels(), class: "article"}
	if class := commandArg(content, "\\documentclass"); class != "" {
		state.class = class
	}

	doc := result.Document
	if title := commandArg(content, "\\title"); title != "" {
		doc.BibliographicEntry.Title = encoding.UnescapeLaTeX(title)
		state.mapOne()
	}
	if author := commandArg(content, "\\author"); author != "" {
		doc.BibliographicEntry.Author = []xats.Name{{Literal: encoding.UnescapeLaTeX(author)}}
		state.mapOne()
	}
	if date := commandArg(content, "\\date"); date != "" {
		doc.BibliographicEntry.Issued = encoding.UnescapeLaTeX(date)
	}

	body := documentBody(content)
	parseBody(stripComments(body), doc.BodyMatter, state)

	errCount := len(result.Errors)
	result.Metadata.MappedElements = state.mapped
	result.Metadata.UnmappedElements = state.unmapped
	result.Metadata.FidelityScore = converter.Score(state.mapped, state.unmapped, errCount, len(result.Warnings))
	return result
}

func rejectStructural(result *converter.ParseResult, issues []converter.ValidationIssue) {
	for _, issue := range issues {
		result.Errors = append(result.Errors, converter.ConversionError{
			Code:        converter.CodeInvalidFormat,
			Message:     issue.Message,
			Recoverable: false,
		})
	}
	result.Metadata.FidelityScore = 0
}

// looksLikeLaTeX reports whether content plausibly is LaTeX: empty input
// or at least one backslash command.
func looksLikeLaTeX(content string) bool {
	if strings.TrimSpace(content) == "" {
		return true
	}
	return commandRegex.MatchString(content)
}

// stripComments removes % comments (to end of line) unless escaped as \%.
func stripComments(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	inComment := false
	var prev rune
	for _, r := range content {
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
				b.WriteRune(r)
			}
		case r == '%' && prev != '\\':
			inComment = true
		default:
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

// checkBraceBalance verifies { and } pair up: a running counter that never
// drops below zero and ends at zero. Escaped braces and comment text are
// skipped.
func checkBraceBalance(content string) []converter.ValidationIssue {
	var issues []converter.ValidationIssue
	depth := 0
	line := 1
	inComment := false
	var prev rune
	for _, r := range content {
		switch {
		case r == '\n':
			line++
			inComment = false
		case inComment:
		case r == '%' && prev != '\\':
			inComment = true
		case r == '{' && prev != '\\':
			depth++
		case r == '}' && prev != '\\':
			depth--
			if depth < 0 {
				issues = append(issues, converter.ValidationIssue{
					Severity: converter.SeverityError,
					Code:     "unbalanced-braces",
					Message:  fmt.Sprintf("unexpected closing brace at line %d", line),
					Line:     line,
				})
				depth = 0
			}
		}
		prev = r
	}
	if depth > 0 {
		issues = append(issues, converter.ValidationIssue{
			Severity: converter.SeverityError,
			Code:     "unbalanced-braces",
			Message:  fmt.Sprintf("%d unclosed brace(s) at end of input", depth),
		})
	}
	return issues
}

// checkEnvironmentBalance verifies \begin/\end pairs nest properly: a stack
// pushed on \begin and popped-with-comparison on \end. A mismatch or a
// non-empty stack at EOF is an error.
func checkEnvironmentBalance(content string) []converter.ValidationIssue {
	content = stripComments(content)
	var issues []converter.ValidationIssue
	type envEntry struct {
		name string
		pos  int
	}
	var stack []envEntry

	begins := beginEnvRegex.FindAllStringSubmatchIndex(content, -1)
	ends := endEnvRegex.FindAllStringSubmatchIndex(content, -1)

	type marker struct {
		pos   int
		name  string
		begin bool
	}
	markers := make([]marker, 0, len(begins)+len(ends))
	for _, m := range begins {
		markers = append(markers, marker{pos: m[0], name: content[m[2]:m[3]], begin: true})
	}
	for _, m := range ends {
		markers = append(markers, marker{pos: m[0], name: content[m[2]:m[3]], begin: false})
	}
	// Positions from two anchored scans interleave; sort by position.
	for i := 1; i < len(markers); i++ {
		for j := i; j > 0 && markers[j].pos < markers[j-1].pos; j-- {
			markers[j], markers[j-1] = markers[j-1], markers[j]
		}
	}

	for _, m := range markers {
		if m.begin {
			stack = append(stack, envEntry{name: m.name, pos: m.pos})
			continue
		}
		if len(stack) == 0 {
			issues = append(issues, converter.ValidationIssue{
				Severity: converter.SeverityError,
				Code:     "unbalanced-environment",
				Message:  fmt.Sprintf("\\end{%s} without matching \\begin", m.name),
				Line:     lineAt(content, m.pos),
			})
			continue
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.name != m.name {
			issues = append(issues, converter.ValidationIssue{
				Severity: converter.SeverityError,
				Code:     "mismatched-environment",
				Message:  fmt.Sprintf("\\begin{%s} closed by \\end{%s}", top.name, m.name),
				Line:     lineAt(content, m.pos),
			})
		}
	}
	for _, open := range stack {
		issues = append(issues, converter.ValidationIssue{
			Severity: converter.SeverityError,
			Code:     "unbalanced-environment",
			Message:  fmt.Sprintf("\\begin{%s} is never closed", open.name),
			Line:     lineAt(content, open.pos),
		})
	}
	return issues
}

func lineAt(content string, pos int) int {
	if pos > len(content) {
		pos = len(content)
	}
	return strings.Count(content[:pos], "\n") + 1
}

// commandArg extracts the braced argument of the first occurrence of a
// command, skipping an optional [...] option group.
func commandArg(content, command string) string {
	idx := strings.Index(content, command)
	for idx >= 0 {
		i := idx + len(command)
		// Reject partial matches like \titlepage for \title.
		if i < len(content) && isCommandLetter(content[i]) {
			idx = indexFrom(content, command, i)
			continue
		}
		if i < len(content) && content[i] == '[' {
			if close := strings.IndexByte(content[i:], ']'); close >= 0 {
				i += close + 1
			}
		}
		if i < len(content) && content[i] == '{' {
			inner, _ := extractBraced(content, i)
			return inner
		}
		idx = indexFrom(content, command, i)
	}
	return ""
}

func indexFrom(content, needle string, from int) int {
	if from >= len(content) {
		return -1
	}
	rel := strings.Index(content[from:], needle)
	if rel < 0 {
		return -1
	}
	return from + rel
}

func isCommandLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// extractBraced returns the content of the balanced brace group starting at
// content[start] == '{' and the index just past the closing brace.
func extractBraced(content string, start int) (string, int) {
	if start >= len(content) || content[start] != '{' {
		return "", start
	}
	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '\\':
			i++ // skip escaped char
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start+1 : i], i + 1
			}
		}
	}
	return content[start+1:], len(content)
}

// documentBody returns the content between \begin{document} and
// \end{document}, or the whole content when the markers are absent.
func documentBody(content string) string {
	begin := strings.Index(content, "\\begin{document}")
	if begin < 0 {
		return content
	}
	body := content[begin+len("\\begin{document}"):]
	if end := strings.Index(body, "\\end{document}"); end >= 0 {
		body = body[:end]
	}
	return body
}

// containerTarget tracks where parsed blocks are appended: the innermost
// open container, falling back to body matter.
type containerTarget struct {
	matter *xats.Matter
	stack  []*xats.Container
}

func (t *containerTarget) push(c *xats.Container) {
	// Close any container at the same or deeper level first.
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

// sectioning maps a sectioning command to either a container kind or a
// heading level for the given class.
func sectioning(class, command string) (kind xats.ContainerKind, level int, ok bool) {
	if command == "\\part" {
		return xats.KindUnit, 0, true
	}
	cmds, found := headingCommands[class]
	if !found {
		cmds = headingCommands["article"]
	}
	for i, c := range cmds {
		if c == command {
			switch i {
			case 0:
				return xats.KindChapter, 0, true
			case 1:
				return xats.KindSection, 0, true
			default:
				return "", i + 1, true
			}
		}
	}
	return "", 0, false
}

// parseBody walks the document body line by line, converting structural
// markers into containers and blocks and accumulating prose into paragraph
// blocks split on blank lines.
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
		line := strings.TrimSpace(lines[i])
		switch {
		case line == "":
			flushPara()

		case strings.HasPrefix(line, "\\maketitle"),
			strings.HasPrefix(line, "\\bibliographystyle"):
			// Preamble-ish directives carried in the body; nothing to map.

		case strings.HasPrefix(line, "\\tableofcontents"):
			flushPara()
			state.mapOne()
			target.addBlock(&xats.ContentBlock{
				ID:        state.labels.Next("block"),
				BlockType: xats.PlaceholderTableOfContents,
			})

		case strings.HasPrefix(line, "\\printindex"):
			flushPara()
			state.mapOne()
			target.addBlock(&xats.ContentBlock{
				ID:        state.labels.Next("block"),
				BlockType: xats.PlaceholderIndex,
			})

		case strings.HasPrefix(line, "\\printbibliography"), strings.HasPrefix(line, "\\bibliography{"):
			flushPara()
			state.mapOne()
			target.addBlock(&xats.ContentBlock{
				ID:        state.labels.Next("block"),
				BlockType: xats.PlaceholderBibliography,
			})

		case strings.HasPrefix(line, "\\["):
			flushPara()
			math, consumed := collectUntil(lines, i, "\\]")
			math = strings.TrimPrefix(strings.TrimSpace(math), "\\[")
			math = strings.TrimSuffix(strings.TrimSpace(math), "\\]")
			state.mapOne()
			target.addBlock(&xats.ContentBlock{
				ID:        state.labels.Next("block"),
				BlockType: xats.BlockMathBlock,
				Content:   map[string]any{"math": strings.TrimSpace(math)},
			})
			i = consumed

		case strings.HasPrefix(line, "\\begin{"):
			flushPara()
			env := envName(line)
			raw, consumed := collectEnv(lines, i, env)
			parseEnvironment(env, raw, target, state)
			i = consumed

		default:
			if handled, consumedKind, level := matchSectioning(line, state); handled {
				flushPara()
				title, id := headingParts(line)
				state.mapOne()
				if consumedKind != "" {
					c := xats.NewContainer(consumedKind, xats.FromRuns(parseRuns(title, state)...))
					c.ID = id
					if id != "" {
						state.labels.Define(id)
					}
					target.push(c)
				} else {
					content := map[string]any{
						"text":  runsContent(parseRuns(title, state)),
						"level": level,
					}
					target.addBlock(&xats.ContentBlock{
						ID:        id,
						BlockType: xats.BlockHeading,
						Content:   content,
					})
				}
				continue
			}
			para = append(para, line)
		}
	}
	flushPara()
}

// matchSectioning reports whether the line starts with a sectioning command
// for the current class.
func matchSectioning(line string, state *parseState) (bool, xats.ContainerKind, int) {
	if !strings.HasPrefix(line, "\\") {
		return false, "", 0
	}
	m := commandRegex.FindString(line)
	if m == "" {
		return false, "", 0
	}
	kind, level, ok := sectioning(state.class, m)
	if !ok {
		return false, "", 0
	}
	return true, kind, level
}

// headingParts splits "\section{Title}\label{id}" into title and label.
func headingParts(line string) (title, id string) {
	if open := strings.IndexByte(line, '{'); open >= 0 {
		title, _ = extractBraced(line, open)
	}
	if idx := strings.Index(line, "\\label{"); idx >= 0 {
		id, _ = extractBraced(line, idx+len("\\label"))
	}
	return title, id
}

func envName(line string) string {
	m := beginEnvRegex.FindStringSubmatch(line)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// collectEnv gathers lines from start through the matching \end{env},
// returning the raw inner content and the index of the closing line.
func collectEnv(lines []string, start int, env string) (string, int) {
	depth := 0
	var inner []string
	for i := start; i < len(lines); i++ {
		line := lines[i]
		depth += strings.Count(line, "\\begin{"+env+"}")
		depth -= strings.Count(line, "\\end{"+env+"}")
		inner = append(inner, line)
		if depth == 0 {
			joined := strings.Join(inner, "\n")
			joined = strings.TrimPrefix(strings.TrimSpace(joined), "\\begin{"+env+"}")
			joined = strings.TrimSuffix(strings.TrimSpace(joined), "\\end{"+env+"}")
			return strings.TrimSpace(joined), i
		}
	}
	return strings.Join(inner, "\n"), len(lines) - 1
}

func collectUntil(lines []string, start int, terminator string) (string, int) {
	var inner []string
	for i := start; i < len(lines); i++ {
		inner = append(inner, lines[i])
		if strings.Contains(lines[i], terminator) {
			return strings.Join(inner, "\n"), i
		}
	}
	return strings.Join(inner, "\n"), len(lines) - 1
}

// parseEnvironment converts a balanced environment into the matching block.
// Environments with no mapping fall back to a generic paragraph and are
// recorded as unmapped, never dropped.
func parseEnvironment(env, raw string, target *containerTarget, state *parseState) {
	switch env {
	case "itemize", "enumerate":
		listType := "unordered"
		if env == "enumerate" {
			listType = "ordered"
		}
		var items []any
		for _, part := range strings.Split(raw, "\\item") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			items = append(items, runsContent(parseRuns(part, state)))
		}
		state.mapOne()
		target.addBlock(&xats.ContentBlock{
			ID:        state.labels.Next("block"),
			BlockType: xats.BlockList,
			Content:   map[string]any{"listType": listType, "items": items},
		})

	case "quote", "quotation":
		text := raw
		attribution := ""
		if idx := strings.LastIndex(raw, "--- "); idx >= 0 {
			text = strings.TrimSpace(raw[:idx])
			attribution = encoding.UnescapeLaTeX(strings.TrimSpace(raw[idx+4:]))
		}
		content := map[string]any{"text": runsContent(parseRuns(collapseLines(text), state))}
		if attribution != "" {
			content["attribution"] = attribution
		}
		state.mapOne()
		target.addBlock(&xats.ContentBlock{
			ID:        state.labels.Next("block"),
			BlockType: xats.BlockBlockquote,
			Content:   content,
		})

	case "verbatim", "lstlisting":
		state.mapOne()
		target.addBlock(&xats.ContentBlock{
			ID:        state.labels.Next("block"),
			BlockType: xats.BlockCodeBlock,
			Content:   map[string]any{"code": raw},
		})

	case "equation", "equation*", "align", "align*", "displaymath":
		content := map[string]any{}
		math := raw
		if idx := strings.Index(math, "\\label{"); idx >= 0 {
			label, end := extractBraced(math, idx+len("\\label"))
			content["label"] = label
			state.labels.Define(label)
			math = math[:idx] + math[end:]
		}
		content["math"] = strings.TrimSpace(math)
		state.mapOne()
		target.addBlock(&xats.ContentBlock{
			ID:        state.labels.Next("block"),
			BlockType: xats.BlockMathBlock,
			Content:   content,
		})

	case "table", "tabular":
		parseTable(raw, target, state)

	case "figure":
		parseFigure(raw, target, state)

	case "thebibliography":
		state.mapOne()
		target.addBlock(&xats.ContentBlock{
			ID:        state.labels.Next("block"),
			BlockType: xats.PlaceholderBibliography,
		})

	case "abstract", "center", "flushleft", "flushright":
		state.mapOne()
		target.addBlock(&xats.ContentBlock{
			ID:        state.labels.Next("block"),
			BlockType: xats.BlockParagraph,
			Content:   map[string]any{"text": runsContent(parseRuns(collapseLines(raw), state))},
		})

	default:
		state.unmap("environment", "\\begin{"+env+"}", "no xats mapping for environment")
		text := collapseLines(stripMarkup(raw))
		target.addBlock(&xats.ContentBlock{
			ID:        state.labels.Next("block"),
			BlockType: xats.BlockParagraph,
			Content:   map[string]any{"text": map[string]any{"runs": []any{map[string]any{"type": "text", "text": text}}}},
		})
	}
}

// parseTable recovers headers and rows from tabular content. Structure the
// cell scan cannot handle degrades to an unmapped fallback paragraph.
func parseTable(raw string, target *containerTarget, state *parseState) {
	content := map[string]any{}
	if idx := strings.Index(raw, "\\caption{"); idx >= 0 {
		caption, _ := extractBraced(raw, idx+len("\\caption"))
		content["caption"] = encoding.UnescapeLaTeX(caption)
	}

	tabular := raw
	if idx := strings.Index(raw, "\\begin{tabular}"); idx >= 0 {
		tabular, _ = collectEnv(strings.Split(raw[idx:], "\n"), 0, "tabular")
		// Drop the column spec group left at the front.
		if open := strings.IndexByte(tabular, '{'); open == 0 {
			_, next := extractBraced(tabular, 0)
			tabular = tabular[next:]
		}
	}

	var headers []any
	var rows []any
	rawRows := strings.Split(tabular, "\\\\")
	for i, rawRow := range rawRows {
		rawRow = strings.ReplaceAll(rawRow, "\\hline", "")
		rawRow = strings.TrimSpace(rawRow)
		if rawRow == "" || strings.HasPrefix(rawRow, "\\begin") || strings.HasPrefix(rawRow, "\\end") {
			continue
		}
		var cells []any
		for _, cell := range strings.Split(rawRow, "&") {
			cells = append(cells, runsContent(parseRuns(strings.TrimSpace(cell), state)))
		}
		if i == 0 {
			headers = cells
		} else {
			rows = append(rows, cells)
		}
	}
	if len(headers) == 0 && len(rows) == 0 {
		state.unmap("table", raw, "tabular content not recoverable")
		target.addBlock(&xats.ContentBlock{
			ID:        state.labels.Next("block"),
			BlockType: xats.BlockParagraph,
			Content:   map[string]any{"text": map[string]any{"runs": []any{map[string]any{"type": "text", "text": collapseLines(stripMarkup(raw))}}}},
		})
		return
	}
	content["headers"] = headers
	content["rows"] = rows
	state.mapOne()
	target.addBlock(&xats.ContentBlock{
		ID:        state.labels.Next("block"),
		BlockType: xats.BlockTable,
		Content:   content,
	})
}

func parseFigure(raw string, target *containerTarget, state *parseState) {
	content := map[string]any{}
	id := ""
	if idx := strings.Index(raw, "\\includegraphics"); idx >= 0 {
		rest := raw[idx+len("\\includegraphics"):]
		if open := strings.IndexByte(rest, '['); open == 0 {
			if close := strings.IndexByte(rest, ']'); close >= 0 {
				rest = rest[close+1:]
			}
		}
		if open := strings.IndexByte(rest, '{'); open >= 0 {
			src, _ := extractBraced(rest, open)
			content["src"] = src
		}
	}
	if idx := strings.Index(raw, "\\caption{"); idx >= 0 {
		caption, _ := extractBraced(raw, idx+len("\\caption"))
		content["caption"] = encoding.UnescapeLaTeX(caption)
	}
	if idx := strings.Index(raw, "\\label{"); idx >= 0 {
		id, _ = extractBraced(raw, idx+len("\\label"))
		state.labels.Define(id)
	}
	state.mapOne()
	target.addBlock(&xats.ContentBlock{
		ID:        id,
		BlockType: xats.BlockFigure,
		Content:   content,
	})
}

func collapseLines(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// inlineCommands maps inline formatting commands to run constructors over
// their braced argument.
var inlineCommands = map[string]func(arg string) xats.Run{
	"emph":            func(a string) xats.Run { return xats.Run{Type: xats.RunEmphasis, Text: encoding.UnescapeLaTeX(a)} },
	"textit":          func(a string) xats.Run { return xats.Run{Type: xats.RunEmphasis, Text: encoding.UnescapeLaTeX(a)} },
	"textbf":          func(a string) xats.Run { return xats.Run{Type: xats.RunStrong, Text: encoding.UnescapeLaTeX(a)} },
	"texttt":          func(a string) xats.Run { return xats.Run{Type: xats.RunCode, Text: encoding.UnescapeLaTeX(a)} },
	"textsubscript":   func(a string) xats.Run { return xats.Run{Type: xats.RunSubscript, Text: encoding.UnescapeLaTeX(a)} },
	"textsuperscript": func(a string) xats.Run { return xats.Run{Type: xats.RunSuperscript, Text: encoding.UnescapeLaTeX(a)} },
	"sout":            func(a string) xats.Run { return xats.Run{Type: xats.RunStrikethrough, Text: encoding.UnescapeLaTeX(a)} },
	"underline":       func(a string) xats.Run { return xats.Run{Type: xats.RunUnderline, Text: encoding.UnescapeLaTeX(a)} },
	"index":           func(a string) xats.Run { return xats.Run{Type: xats.RunIndex, Entry: encoding.UnescapeLaTeX(a)} },
}

// parseRuns scans inline text left to right, recognizing citation markers,
// cross-references, formatting commands, and inline math in priority order.
// Each match consumes its span and appends a typed run; there is no
// backtracking across already-emitted runs.
func parseRuns(text string, state *parseState) []xats.Run {
	var runs []xats.Run
	var literal strings.Builder

	flush := func() {
		if literal.Len() == 0 {
			return
		}
		runs = append(runs, xats.Run{Type: xats.RunText, Text: encoding.UnescapeLaTeX(literal.String())})
		literal.Reset()
	}

	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == '$':
			end := findUnescaped(text, i+1, '$')
			if end < 0 {
				literal.WriteByte(c)
				i++
				continue
			}
			flush()
			runs = append(runs, xats.Run{Type: xats.RunMathInline, Math: text[i+1 : end]})
			i = end + 1

		case c == '\\' && i+1 < len(text) && isCommandLetter(text[i+1]):
			name, nameEnd := commandName(text, i)
			if name == "textbackslash" {
				flush()
				literal.WriteByte('\\')
				i = skipEmptyGroup(text, nameEnd)
				continue
			}
			switch name {
			case "cite", "citep", "citet":
				arg, next, ok := bracedAt(text, nameEnd)
				if ok {
					flush()
					keys := splitKeys(arg)
					runs = append(runs, xats.Run{Type: xats.RunCitation, CiteKey: keys})
					i = next
					continue
				}
			case "ref", "autoref", "cref":
				arg, next, ok := bracedAt(text, nameEnd)
				if ok {
					flush()
					state.labels.Use(arg)
					runs = append(runs, xats.Run{Type: xats.RunReference, Ref: arg})
					i = next
					continue
				}
			default:
				if build, known := inlineCommands[name]; known {
					arg, next, ok := bracedAt(text, nameEnd)
					if ok {
						flush()
						runs = append(runs, build(arg))
						i = next
						continue
					}
				}
			}
			// Unknown command: degrade to its argument text, or skip a
			// bare command entirely.
			arg, next, ok := bracedAt(text, nameEnd)
			if ok {
				state.warn(converter.CodeUnknownRunType,
					fmt.Sprintf("unknown command \\%s degraded to text", name))
				literal.WriteString(arg)
				i = next
			} else {
				i = nameEnd
			}

		case c == '\\' && i+1 < len(text):
			// Escape sequence: keep for UnescapeLaTeX at flush time.
			literal.WriteByte(c)
			literal.WriteByte(text[i+1])
			i += 2

		default:
			literal.WriteByte(c)
			i++
		}
	}
	flush()
	return runs
}

func commandName(text string, backslash int) (string, int) {
	i := backslash + 1
	for i < len(text) && isCommandLetter(text[i]) {
		i++
	}
	return text[backslash+1 : i], i
}

func bracedAt(text string, i int) (arg string, next int, ok bool) {
	if i >= len(text) || text[i] != '{' {
		return "", i, false
	}
	arg, next = extractBraced(text, i)
	return arg, next, true
}

func skipEmptyGroup(text string, i int) int {
	if i+1 < len(text) && text[i] == '{' && text[i+1] == '}' {
		return i + 2
	}
	return i
}

func splitKeys(arg string) []string {
	parts := strings.Split(arg, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

func findUnescaped(text string, from int, target byte) int {
	for i := from; i < len(text); i++ {
		if text[i] == '\\' {
			i++
			continue
		}
		if text[i] == target {
			return i
		}
	}
	return -1
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

// stripMarkup removes comments, commands, brace groups' markers, and math
// delimiters, leaving approximate prose for word counting.
func stripMarkup(content string) string {
	content = stripComments(content)
	content = commandRegex.ReplaceAllString(content, " ")
	replacer := strings.NewReplacer("{", " ", "}", " ", "$", " ", "&", " ", "\\\\", " ", "[", " ", "]", " ")
	return replacer.Replace(content)
}
