// Package markdown converts between xats documents and Markdown with YAML
// front matter. The dialect is CommonMark plus the GFM extensions (tables,
// strikethrough) and Pandoc-style citations ([@key]).
package markdown

import (
	"strings"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/xats"
)

// FormatName is the registry name of this converter.
const FormatName = "markdown"

// Threshold is the round-trip fidelity score this format must meet.
// Markdown maps cleanly onto the document model, so the bar is high.
const Threshold = 0.95

// Options configures Markdown rendering. Parsing accepts all dialect
// features regardless of options.
type Options struct {
	// Variant selects the dialect flavor: "gfm" (default) or "commonmark".
	// CommonMark output avoids tables and strikethrough.
	Variant string

	// EnableTables emits GFM pipe tables; when false, tables degrade to
	// paragraphs of row text. Defaults to true under the gfm variant.
	EnableTables bool

	// BaseHeadingLevel shifts all emitted headings down. 1 (the default)
	// maps a unit to "#"; a value of 2 maps it to "##", for embedding
	// output under an existing heading hierarchy.
	BaseHeadingLevel int

	// FrontMatter controls whether a YAML front matter block is emitted.
	// Defaults to true.
	FrontMatter *bool

	// RenderBlock, when set, is consulted before the built-in block
	// dispatch. Returning ok lets a dialect (R Markdown) take over
	// rendering of specific blocks, such as executable code chunks.
	RenderBlock func(b *xats.ContentBlock) (string, bool)

	// RenderRun, when set, is consulted before the built-in inline run
	// dispatch, letting a dialect change inline syntax (bookdown
	// cross-references).
	RenderRun func(run xats.Run) (string, bool)

	// ParseFence, when set, is consulted for fenced code with a braced
	// info string. It receives the info string and the fence body and may
	// return the block to emit plus any warnings raised while decoding
	// the info string.
	ParseFence func(info, code string) (*xats.ContentBlock, []converter.Warning, bool)
}

// VariantGFM and VariantCommonMark are the accepted Variant values.
const (
	VariantGFM        = "gfm"
	VariantCommonMark = "commonmark"
)

// Converter implements the uniform converter contract for Markdown.
type Converter struct {
	opts Options
}

// New constructs a Markdown converter, filling unset options with defaults.
func New(opts Options) *Converter {
	if opts.Variant == "" {
		opts.Variant = VariantGFM
	}
	if opts.Variant == VariantGFM {
		opts.EnableTables = true
	}
	if opts.BaseHeadingLevel < 1 {
		opts.BaseHeadingLevel = 1
	}
	if opts.FrontMatter == nil {
		on := true
		opts.FrontMatter = &on
	}
	return &Converter{opts: opts}
}

// Format implements converter.Interface.
func (c *Converter) Format() string { return FormatName }

// RoundTrip implements converter.Interface.
func (c *Converter) RoundTrip(doc *xats.Document) *converter.RoundTripResult {
	return converter.RoundTrip(c, doc, Threshold)
}

// Metadata implements converter.Interface. Title, author, and date come
// from the YAML front matter; without front matter the first heading
// stands in for the title.
func (c *Converter) Metadata(content string) *converter.FormatMetadata {
	meta := &converter.FormatMetadata{Format: FormatName}
	fm, body, _ := splitFrontMatter(content)
	if fm != nil {
		meta.Title = fm.Title
		meta.Author = strings.Join(fm.authors(), ", ")
		meta.Date = fm.Date
		if fm.Subject != "" {
			meta.Extra = map[string]string{"subject": fm.Subject}
		}
	}
	if meta.Title == "" {
		for _, line := range strings.Split(body, "\n") {
			if strings.HasPrefix(line, "#") {
				meta.Title = strings.TrimSpace(strings.TrimLeft(line, "# "))
				break
			}
		}
	}
	meta.WordCount = markdownWordCount(body)
	return meta
}

func markdownWordCount(body string) int {
	count := 0
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		line = strings.NewReplacer("#", "", "*", "", "`", "", ">", "", "|", "").Replace(line)
		count += len(strings.Fields(line))
	}
	return count
}

func init() {
	converter.Register(FormatName, func() converter.Interface {
		return New(Options{})
	})
}
