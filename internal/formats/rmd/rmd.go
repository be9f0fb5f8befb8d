// Package rmd converts between xats documents and R Markdown. The prose
// dialect is the Markdown converter's; this package layers knitr code
// chunks ("```{r label, eval=TRUE}") and the output declaration in the
// front matter on top of it.
package rmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/xats"
	"github.com/xats-org/convert/internal/formats/markdown"
)

// FormatName is the registry name of this converter.
const FormatName = "rmd"

// Threshold is the round-trip fidelity score this format must meet. Chunk
// option vocabularies vary across knitr versions, so the bar sits below
// plain Markdown's.
const Threshold = 0.85

// Options configures R Markdown rendering.
type Options struct {
	// Output is the knitr output format written to the front matter,
	// for example "html_document" or "bookdown::gitbook". Defaults to
	// "html_document", or to the extension's own format when UseBookdown
	// or UseDistill is set.
	Output string

	// BaseHeadingLevel passes through to the underlying Markdown
	// renderer.
	BaseHeadingLevel int

	// UseBookdown targets the bookdown extension: cross-references are
	// emitted in its \@ref(label) form and Output defaults to
	// "bookdown::gitbook".
	UseBookdown bool

	// UseDistill targets the distill extension; Output defaults to
	// "distill::distill_article". Distill keeps pandoc citation syntax,
	// so only the output declaration changes.
	UseDistill bool

	// DefaultChunkOptions are merged into every emitted chunk header for
	// keys the chunk does not carry itself, e.g. {"echo": false}.
	DefaultChunkOptions map[string]any

	// CitationStyle names a CSL style file declared in the front matter
	// csl field.
	CitationStyle string
}

// Converter implements the uniform converter contract for R Markdown.
type Converter struct {
	opts Options
	md   *markdown.Converter
}

// New constructs an R Markdown converter, filling unset options with
// defaults.
func New(opts Options) *Converter {
	if opts.Output == "" {
		switch {
		case opts.UseBookdown:
			opts.Output = "bookdown::gitbook"
		case opts.UseDistill:
			opts.Output = "distill::distill_article"
		default:
			opts.Output = "html_document"
		}
	}
	noFM := false
	mdOpts := markdown.Options{
		FrontMatter:      &noFM,
		BaseHeadingLevel: opts.BaseHeadingLevel,
		RenderBlock: func(b *xats.ContentBlock) (string, bool) {
			return renderChunk(b, opts.DefaultChunkOptions)
		},
		ParseFence: parseChunkFence,
	}
	if opts.UseBookdown {
		mdOpts.RenderRun = renderBookdownRef
	}
	return &Converter{
		opts: opts,
		md:   markdown.New(mdOpts),
	}
}

// renderBookdownRef emits cross-references in bookdown's \@ref(label)
// form; every other run keeps the stock Markdown rendering.
func renderBookdownRef(run xats.Run) (string, bool) {
	if run.Type != xats.RunReference {
		return "", false
	}
	return fmt.Sprintf(`\@ref(%s)`, run.Ref), true
}

// Format implements converter.Interface.
func (c *Converter) Format() string { return FormatName }

// RoundTrip implements converter.Interface.
func (c *Converter) RoundTrip(doc *xats.Document) *converter.RoundTripResult {
	return converter.RoundTrip(c, doc, Threshold)
}

// Render implements converter.Interface. The Markdown renderer produces the
// body with chunks intercepted by renderChunk; this wrapper prepends the
// R Markdown front matter, which always carries the output declaration.
func (c *Converter) Render(doc *xats.Document) *converter.RenderResult {
	result := c.md.Render(doc)
	result.Metadata.Format = FormatName
	if !result.OK() {
		return result
	}
	result.Content = c.renderFrontMatter(doc) + "\n\n" + result.Content
	return result
}

// frontMatter mirrors the Markdown front matter plus the knitr output
// declaration.
type frontMatter struct {
	Title   string `yaml:"title,omitempty"`
	Author  any    `yaml:"author,omitempty"` // string or []string
	Date    string `yaml:"date,omitempty"`
	Subject string `yaml:"subject,omitempty"`
	Lang    string `yaml:"lang,omitempty"`
	Output  string `yaml:"output,omitempty"`
	Csl     string `yaml:"csl,omitempty"`
}

func (c *Converter) renderFrontMatter(doc *xats.Document) string {
	entry := doc.BibliographicEntry
	fm := frontMatter{
		Title:   entry.Title,
		Date:    entry.Issued,
		Subject: doc.Subject,
		Lang:    entry.Language,
		Output:  c.opts.Output,
		Csl:     c.opts.CitationStyle,
	}
	switch len(entry.Author) {
	case 0:
	case 1:
		fm.Author = entry.Author[0].String()
	default:
		names := make([]any, len(entry.Author))
		for i, a := range entry.Author {
			names[i] = a.String()
		}
		fm.Author = names
	}
	out, err := yaml.Marshal(&fm)
	if err != nil {
		return ""
	}
	return "---\n" + string(out) + "---"
}

// Parse implements converter.Interface. The Markdown parser handles the
// prose and front matter; chunk fences route through parseChunkFence. A
// chunk header that does not decode degrades to a plain code block, so the
// fidelity bookkeeping moves it from mapped to unmapped here.
func (c *Converter) Parse(content string) *converter.ParseResult {
	result := c.md.Parse(content)
	result.Metadata.Format = FormatName

	if bad := undecodableHeaders(content); bad > 0 {
		for i := 0; i < bad; i++ {
			if result.Metadata.MappedElements > 0 {
				result.Metadata.MappedElements--
			}
			result.Metadata.UnmappedElements++
		}
		result.Metadata.FidelityScore = converter.Score(
			result.Metadata.MappedElements,
			result.Metadata.UnmappedElements,
			len(result.Errors),
			len(result.Warnings),
		)
	}
	return result
}

// undecodableHeaders counts braced fence headers that fail to decode.
func undecodableHeaders(content string) int {
	bad := 0
	fence := ""
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if fence != "" {
			if trimmed == fence {
				fence = ""
			}
			continue
		}
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		marker := trimmed[:lastFenceIndex(trimmed)]
		info := strings.TrimSpace(trimmed[len(marker):])
		fence = marker
		if !strings.HasPrefix(info, "{") {
			continue
		}
		if _, err := ParseChunkHeader(info); err != nil {
			bad++
		}
	}
	return bad
}

// Validate implements converter.Interface. On top of the Markdown checks
// this decodes every chunk header and flags bad headers, duplicate labels,
// out-of-vocabulary options, and eval requests on non-executable engines.
func (c *Converter) Validate(content string) *converter.ValidationResult {
	result := c.md.Validate(content)

	seenLabels := make(map[string]int)
	fence := ""
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if fence != "" {
			if trimmed == fence {
				fence = ""
			}
			continue
		}
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		marker := trimmed[:lastFenceIndex(trimmed)]
		info := strings.TrimSpace(trimmed[len(marker):])
		fence = marker
		if !strings.HasPrefix(info, "{") {
			continue
		}

		header, err := ParseChunkHeader(info)
		if err != nil {
			result.AddError("invalid-chunk-header", err.Error(), i+1)
			continue
		}
		if header.Label != "" {
			if prev, dup := seenLabels[header.Label]; dup {
				result.AddWarning("duplicate-chunk-label",
					fmt.Sprintf("chunk label %q already used at line %d", header.Label, prev), i+1)
			} else {
				seenLabels[header.Label] = i + 1
			}
		}
		for _, key := range header.UnknownOptions() {
			result.AddWarning("unknown-chunk-option",
				fmt.Sprintf("unknown chunk option %q", key), i+1)
		}
		if wantsEval(header.Options) && !EngineExecutable(header.Engine) {
			result.AddWarning("engine-not-executable",
				fmt.Sprintf("engine %q cannot execute; eval is ignored", header.Engine), i+1)
		}
	}
	return result
}

// lastFenceIndex returns the length of the leading backtick run.
func lastFenceIndex(line string) int {
	n := 0
	for n < len(line) && line[n] == '`' {
		n++
	}
	return n
}

// Metadata implements converter.Interface. Beyond the Markdown metadata it
// reports the chunk count, the engines in use, and the declared output
// format.
func (c *Converter) Metadata(content string) *converter.FormatMetadata {
	meta := c.md.Metadata(content)
	meta.Format = FormatName
	if meta.Extra == nil {
		meta.Extra = make(map[string]string)
	}

	chunks := 0
	engines := make(map[string]bool)
	fence := ""
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if fence != "" {
			if trimmed == fence {
				fence = ""
			}
			continue
		}
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		marker := trimmed[:lastFenceIndex(trimmed)]
		info := strings.TrimSpace(trimmed[len(marker):])
		fence = marker
		if !strings.HasPrefix(info, "{") {
			continue
		}
		if header, err := ParseChunkHeader(info); err == nil {
			chunks++
			engines[strings.ToLower(header.Engine)] = true
		}
	}
	meta.Extra["chunks"] = strconv.Itoa(chunks)
	if len(engines) > 0 {
		names := make([]string, 0, len(engines))
		for name := range engines {
			names = append(names, name)
		}
		sort.Strings(names)
		meta.Extra["engines"] = strings.Join(names, ",")
	}
	if output := declaredOutput(content); output != "" {
		meta.Extra["output"] = output
	}
	return meta
}

// declaredOutput pulls the output format from the front matter. The field
// may be a plain string or a map keyed by format name.
func declaredOutput(content string) string {
	if !strings.HasPrefix(content, "---\n") {
		return ""
	}
	rest := strings.TrimPrefix(content, "---\n")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return ""
	}
	var fm struct {
		Output any `yaml:"output"`
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return ""
	}
	switch v := fm.Output.(type) {
	case string:
		return v
	case map[string]any:
		for key := range v {
			return key
		}
	}
	return ""
}

// renderChunk intercepts code blocks that carry chunk metadata and emits
// them as knitr chunks. Plain code blocks fall through to the Markdown
// renderer. defaults fill option keys the chunk does not set itself.
func renderChunk(b *xats.ContentBlock, defaults map[string]any) (string, bool) {
	if xats.BlockKind(b.BlockType) != "codeBlock" {
		return "", false
	}
	options, hasOptions := b.Content["chunkOptions"].(map[string]any)
	executable, hasExecutable := b.BoolField("executable")
	label := b.StringField("label")
	if !hasOptions && !hasExecutable && label == "" {
		return "", false
	}

	engine := b.StringField("language")
	if engine == "" {
		engine = "r"
	}
	// Only allow-listed engines may become chunk headers. knitr defaults a
	// chunk to eval=TRUE, so a shell block that turned into "```{bash}"
	// would execute on knit; it stays a plain fenced block instead.
	if !EngineExecutable(engine) {
		return "", false
	}
	header := &ChunkHeader{Engine: engine, Label: label}
	if len(options) > 0 {
		header.Options = make(map[string]any, len(options))
		for key, value := range options {
			header.Options[key] = value
		}
	}
	// An explicit opt-out survives as eval=FALSE.
	if hasExecutable && !executable {
		if _, ok := header.Options["eval"]; !ok {
			if header.Options == nil {
				header.Options = make(map[string]any, 1)
			}
			header.Options["eval"] = false
		}
	}
	// Chunk-level options win over document defaults.
	for key, value := range defaults {
		if _, ok := header.Options[key]; ok {
			continue
		}
		if header.Options == nil {
			header.Options = make(map[string]any, len(defaults))
		}
		header.Options[key] = value
	}

	code := strings.TrimRight(b.StringField("code"), "\n")
	fence := "```"
	for strings.Contains(code, fence) {
		fence += "`"
	}
	return fence + FormatChunkHeader(header) + "\n" + code + "\n" + fence, true
}

// wantsEval reports an explicit eval=TRUE request.
func wantsEval(options map[string]any) bool {
	v, ok := options["eval"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// parseChunkFence decodes a braced fence info string into a code block with
// chunk metadata. A header that does not decode degrades to a plain code
// block with a warning, never a failure.
func parseChunkFence(info, code string) (*xats.ContentBlock, []converter.Warning, bool) {
	header, err := ParseChunkHeader(info)
	if err != nil {
		block := &xats.ContentBlock{
			BlockType: xats.BlockCodeBlock,
			Content:   map[string]any{"code": code},
		}
		return block, []converter.Warning{{
			Code:    converter.CodeInvalidFormat,
			Message: err.Error(),
		}}, true
	}

	var warnings []converter.Warning
	for _, key := range header.UnknownOptions() {
		warnings = append(warnings, converter.Warning{
			Code:    converter.CodeUnknownOption,
			Message: fmt.Sprintf("unknown chunk option %q on %s chunk", key, header.Engine),
		})
	}
	if wantsEval(header.Options) && !EngineExecutable(header.Engine) {
		warnings = append(warnings, converter.Warning{
			Code:    converter.CodeInvalidFormat,
			Message: fmt.Sprintf("engine %q cannot execute; eval is ignored", header.Engine),
		})
	}

	content := map[string]any{
		"code":       code,
		"language":   header.Engine,
		"executable": header.Executable(),
	}
	if header.Label != "" {
		content["label"] = header.Label
	}
	if len(header.Options) > 0 {
		content["chunkOptions"] = header.Options
	}
	return &xats.ContentBlock{
		ID:        header.Label,
		BlockType: xats.BlockCodeBlock,
		Content:   content,
	}, warnings, true
}

func init() {
	converter.Register(FormatName, func() converter.Interface {
		return New(Options{})
	})
}
