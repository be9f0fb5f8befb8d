package docx

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/xats"
	"github.com/xats-org/convert/internal/formats/base"
)

var bodyQuery = xpath.MustCompile("//w:body")

type parseState struct {
	result   *converter.ParseResult
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

func (s *parseState) fail(message string) {
	s.result.Errors = append(s.result.Errors, converter.ConversionError{
		Code:        converter.CodeInvalidFormat,
		Message:     message,
		Recoverable: false,
	})
}

// Parse implements converter.Interface. Content may be the base64 transport
// form produced by Render or a raw zip payload.
func (c *Converter) Parse(content string) *converter.ParseResult {
	start := time.Now()
	result := &converter.ParseResult{
		Document: xats.EmptyDocument(""),
		Metadata: converter.ParseMetadata{Format: FormatName},
	}
	defer func() { result.Metadata.ParseTime = time.Since(start) }()
	defer base.RecoverParse(result)

	state := &parseState{result: result}

	data, err := decodePayload(content)
	if err != nil {
		state.fail(err.Error())
		return result
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		state.fail(fmt.Sprintf("not a zip archive: %v", err))
		return result
	}

	if coreData, err := readPart(zr, "docProps/core.xml"); err == nil {
		applyCoreProperties(result.Document, coreData, state)
	}

	docData, err := readPart(zr, "word/document.xml")
	if err != nil {
		state.fail("word/document.xml not found in package")
		return result
	}
	root, err := xmlquery.Parse(bytes.NewReader(docData))
	if err != nil {
		state.fail(fmt.Sprintf("parsing word/document.xml: %v", err))
		return result
	}
	body := xmlquery.QuerySelector(root, bodyQuery)
	if body == nil {
		state.fail("word/document.xml has no body")
		return result
	}

	p := &bodyParser{state: state, target: &containerTarget{matter: result.Document.BodyMatter}}
	for node := body.FirstChild; node != nil; node = node.NextSibling {
		if node.Type != xmlquery.ElementNode {
			continue
		}
		switch node.Data {
		case "p":
			p.paragraph(node)
		case "tbl":
			p.flush()
			p.table(node)
		case "sectPr", "bookmarkStart", "bookmarkEnd":
		default:
			p.flush()
			state.unmap(node.Data, node.OutputXML(true), "unsupported body element")
		}
	}
	p.flush()

	result.Metadata.MappedElements = state.mapped
	result.Metadata.UnmappedElements = state.unmapped
	result.Metadata.FidelityScore = converter.Score(state.mapped, state.unmapped, len(result.Errors), len(result.Warnings))
	return result
}

// decodePayload accepts the base64 transport form or a raw zip payload,
// recognized by its PK signature.
func decodePayload(content string) ([]byte, error) {
	if strings.HasPrefix(content, "PK") {
		return []byte(content), nil
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, content)
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("content is neither a zip archive nor base64: %v", err)
	}
	return data, nil
}

func readPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("part %s not found", name)
}

func applyCoreProperties(doc *xats.Document, data []byte, state *parseState) {
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		state.warn(converter.CodeInvalidFormat, fmt.Sprintf("unreadable docProps/core.xml: %v", err))
		return
	}
	entry := doc.BibliographicEntry
	if title := elementText(root, "title"); title != "" {
		entry.Title = title
		state.mapOne()
	}
	if creator := elementText(root, "creator"); creator != "" {
		for _, name := range strings.Split(creator, ";") {
			if name = strings.TrimSpace(name); name != "" {
				entry.Author = append(entry.Author, xats.Name{Literal: name})
			}
		}
		state.mapOne()
	}
	entry.Issued = elementText(root, "created")
	entry.Language = elementText(root, "language")
	doc.Subject = elementText(root, "subject")
}

// elementText finds the first element with the given local name and returns
// its text, depth first.
func elementText(n *xmlquery.Node, local string) string {
	if n.Type == xmlquery.ElementNode && n.Data == local {
		return strings.TrimSpace(n.InnerText())
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if text := elementText(c, local); text != "" {
			return text
		}
	}
	return ""
}

func childElement(n *xmlquery.Node, local string) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == local {
			return c
		}
	}
	return nil
}

func attrValue(n *xmlquery.Node, local string) string {
	for _, a := range n.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
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

// paraInfo is one classified w:p.
type paraInfo struct {
	style    string
	numID    string
	field    string
	bookmark string
	runs     []xats.Run
}

func (p *paraInfo) plain() string {
	var sb strings.Builder
	for _, r := range p.runs {
		sb.WriteString(r.Plain())
	}
	return sb.String()
}

// bodyParser walks the body elements, grouping consecutive Code, Quote, and
// list paragraphs into single blocks.
type bodyParser struct {
	state  *parseState
	target *containerTarget

	codeLines []string
	codeID    string

	quoteLines []string
	quoteID    string

	listItems []any
	listNumID string
	listID    string
}

var headingKinds = map[string]xats.ContainerKind{
	"Heading1": xats.KindUnit,
	"Heading2": xats.KindChapter,
	"Heading3": xats.KindSection,
}

func (p *bodyParser) paragraph(node *xmlquery.Node) {
	info := p.classify(node)

	switch {
	case strings.Contains(info.field, "TOC"):
		p.flush()
		p.state.mapOne()
		p.target.addBlock(&xats.ContentBlock{BlockType: xats.PlaceholderTableOfContents})

	case strings.Contains(info.field, "INDEX"):
		p.flush()
		p.state.mapOne()
		p.target.addBlock(&xats.ContentBlock{BlockType: xats.PlaceholderIndex})

	case headingKinds[info.style] != "":
		p.flush()
		p.state.mapOne()
		c := xats.NewContainer(headingKinds[info.style], xats.FromRuns(info.runs...))
		c.ID = info.bookmark
		p.target.push(c)

	case len(info.style) == len("Heading")+1 && strings.HasPrefix(info.style, "Heading") &&
		info.style[7] >= '4' && info.style[7] <= '9':
		p.flush()
		p.state.mapOne()
		level := int(info.style[7] - '0')
		p.target.addBlock(&xats.ContentBlock{
			ID:        info.bookmark,
			BlockType: xats.BlockHeading,
			Content: map[string]any{
				"text":  &xats.SemanticText{Runs: info.runs},
				"level": level - 3,
			},
		})

	case info.style == "Code":
		p.flushExcept("code")
		if len(p.codeLines) == 0 {
			p.codeID = info.bookmark
		}
		p.codeLines = append(p.codeLines, info.plain())

	case info.style == "Quote":
		p.flushExcept("quote")
		if len(p.quoteLines) == 0 {
			p.quoteID = info.bookmark
		}
		p.quoteLines = append(p.quoteLines, info.plain())

	case info.numID != "":
		if p.listNumID != "" && p.listNumID != info.numID {
			p.flush()
		} else {
			p.flushExcept("list")
		}
		if len(p.listItems) == 0 {
			p.listNumID = info.numID
			p.listID = info.bookmark
		}
		p.listItems = append(p.listItems, &xats.SemanticText{Runs: info.runs})

	case info.style == "Caption":
		p.flush()
		p.state.mapOne()
		p.target.addBlock(&xats.ContentBlock{
			ID:        info.bookmark,
			BlockType: xats.BlockFigure,
			Content:   map[string]any{"caption": info.plain()},
		})

	case info.style == "Bibliography":
		p.flush()
		p.state.mapOne()
		p.target.addBlock(&xats.ContentBlock{
			ID:        info.bookmark,
			BlockType: xats.PlaceholderBibliography,
		})

	case info.style == "MathBlock":
		p.flush()
		p.state.mapOne()
		p.target.addBlock(&xats.ContentBlock{
			ID:        info.bookmark,
			BlockType: xats.BlockMathBlock,
			Content:   map[string]any{"math": info.plain()},
		})

	default:
		p.flush()
		if len(info.runs) == 0 {
			return
		}
		if info.style != "" && info.style != "Normal" {
			p.state.unmap("paragraph-style", info.style, "unknown paragraph style")
		} else {
			p.state.mapOne()
		}
		p.target.addBlock(&xats.ContentBlock{
			ID:        info.bookmark,
			BlockType: xats.BlockParagraph,
			Content:   map[string]any{"text": &xats.SemanticText{Runs: info.runs}},
		})
	}
}

// flushExcept closes every pending group but the named one.
func (p *bodyParser) flushExcept(keep string) {
	if keep != "code" {
		p.flushCode()
	}
	if keep != "quote" {
		p.flushQuote()
	}
	if keep != "list" {
		p.flushList()
	}
}

func (p *bodyParser) flush() { p.flushExcept("") }

func (p *bodyParser) flushCode() {
	if len(p.codeLines) == 0 {
		return
	}
	p.state.mapOne()
	p.target.addBlock(&xats.ContentBlock{
		ID:        p.codeID,
		BlockType: xats.BlockCodeBlock,
		Content:   map[string]any{"code": strings.Join(p.codeLines, "\n")},
	})
	p.codeLines = nil
	p.codeID = ""
}

func (p *bodyParser) flushQuote() {
	if len(p.quoteLines) == 0 {
		return
	}
	lines := p.quoteLines
	attribution := ""
	if last := lines[len(lines)-1]; strings.HasPrefix(last, "— ") {
		attribution = strings.TrimPrefix(last, "— ")
		lines = lines[:len(lines)-1]
	}
	content := map[string]any{
		"text": xats.Text(strings.TrimSpace(strings.Join(lines, " "))),
	}
	if attribution != "" {
		content["attribution"] = attribution
	}
	p.state.mapOne()
	p.target.addBlock(&xats.ContentBlock{
		ID:        p.quoteID,
		BlockType: xats.BlockBlockquote,
		Content:   content,
	})
	p.quoteLines = nil
	p.quoteID = ""
}

func (p *bodyParser) flushList() {
	if len(p.listItems) == 0 {
		return
	}
	listType := "unordered"
	if p.listNumID == numIDDecimal {
		listType = "ordered"
	}
	p.state.mapOne()
	p.target.addBlock(&xats.ContentBlock{
		ID:        p.listID,
		BlockType: xats.BlockList,
		Content:   map[string]any{"listType": listType, "items": p.listItems},
	})
	p.listItems = nil
	p.listNumID = ""
	p.listID = ""
}

func (p *bodyParser) classify(node *xmlquery.Node) *paraInfo {
	info := &paraInfo{}
	if pPr := childElement(node, "pPr"); pPr != nil {
		if style := childElement(pPr, "pStyle"); style != nil {
			info.style = attrValue(style, "val")
		}
		if numPr := childElement(pPr, "numPr"); numPr != nil {
			if numID := childElement(numPr, "numId"); numID != nil {
				info.numID = attrValue(numID, "val")
			}
		}
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		switch c.Data {
		case "fldSimple":
			info.field = attrValue(c, "instr")
		case "bookmarkStart":
			if info.bookmark == "" {
				info.bookmark = attrValue(c, "name")
			}
		case "r":
			if run, ok := p.parseRun(c); ok {
				info.runs = append(info.runs, run)
			}
		}
	}
	return info
}

func (p *bodyParser) parseRun(node *xmlquery.Node) (xats.Run, bool) {
	text := runText(node)
	rPr := childElement(node, "rPr")
	if rPr == nil {
		if text == "" {
			return xats.Run{}, false
		}
		return xats.Run{Type: xats.RunText, Text: text}, true
	}

	if style := childElement(rPr, "rStyle"); style != nil {
		switch attrValue(style, "val") {
		case "CodeChar":
			return xats.Run{Type: xats.RunCode, Text: text}, true
		case "Citation":
			var keys []string
			for _, key := range strings.Split(text, ";") {
				if key = strings.TrimSpace(key); key != "" {
					keys = append(keys, key)
				}
			}
			return xats.Run{Type: xats.RunCitation, CiteKey: keys}, true
		case "CrossReference":
			return xats.Run{Type: xats.RunReference, Ref: text}, true
		case "IndexTerm":
			return xats.Run{Type: xats.RunIndex, Entry: text}, true
		case "MathInline":
			return xats.Run{Type: xats.RunMathInline, Math: text}, true
		default:
			p.state.warn(converter.CodeUnknownRunType,
				fmt.Sprintf("unknown character style %q degraded to text", attrValue(style, "val")))
			return xats.Run{Type: xats.RunText, Text: text}, text != ""
		}
	}
	if vert := childElement(rPr, "vertAlign"); vert != nil {
		switch attrValue(vert, "val") {
		case "subscript":
			return xats.Run{Type: xats.RunSubscript, Text: text}, true
		case "superscript":
			return xats.Run{Type: xats.RunSuperscript, Text: text}, true
		}
	}
	switch {
	case boolProp(rPr, "strike"):
		return xats.Run{Type: xats.RunStrikethrough, Text: text}, true
	case boolProp(rPr, "u"):
		return xats.Run{Type: xats.RunUnderline, Text: text}, true
	case boolProp(rPr, "b"):
		return xats.Run{Type: xats.RunStrong, Text: text}, true
	case boolProp(rPr, "i"):
		return xats.Run{Type: xats.RunEmphasis, Text: text}, true
	}
	if text == "" {
		return xats.Run{}, false
	}
	return xats.Run{Type: xats.RunText, Text: text}, true
}

// boolProp reports a toggle run property: present and not explicitly "0" or
// "false".
func boolProp(rPr *xmlquery.Node, local string) bool {
	prop := childElement(rPr, local)
	if prop == nil {
		return false
	}
	val := attrValue(prop, "val")
	return val != "0" && val != "false" && val != "none"
}

func runText(node *xmlquery.Node) string {
	var sb strings.Builder
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		switch c.Data {
		case "t":
			sb.WriteString(c.InnerText())
		case "br", "cr":
			sb.WriteString("\n")
		case "tab":
			sb.WriteString("\t")
		}
	}
	return sb.String()
}

func (p *bodyParser) table(node *xmlquery.Node) {
	var allRows [][]any
	for tr := node.FirstChild; tr != nil; tr = tr.NextSibling {
		if tr.Type != xmlquery.ElementNode || tr.Data != "tr" {
			continue
		}
		var cells []any
		for tc := tr.FirstChild; tc != nil; tc = tc.NextSibling {
			if tc.Type != xmlquery.ElementNode || tc.Data != "tc" {
				continue
			}
			var runs []xats.Run
			for cp := tc.FirstChild; cp != nil; cp = cp.NextSibling {
				if cp.Type != xmlquery.ElementNode || cp.Data != "p" {
					continue
				}
				info := p.classify(cp)
				runs = append(runs, info.runs...)
			}
			cells = append(cells, &xats.SemanticText{Runs: runs})
		}
		allRows = append(allRows, cells)
	}

	content := map[string]any{}
	if len(allRows) > 0 {
		content["headers"] = allRows[0]
	}
	rows := make([]any, 0, len(allRows))
	for _, row := range allRows[min(1, len(allRows)):] {
		rows = append(rows, row)
	}
	content["rows"] = rows

	p.state.mapOne()
	p.target.addBlock(&xats.ContentBlock{
		BlockType: xats.BlockTable,
		Content:   content,
	})
}
