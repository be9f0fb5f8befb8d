package xats

import "strings"

// Vocabulary URI bases. Block and hint types are consumed as opaque string
// keys for dispatch; conformance of the URIs against the schema is the
// schema validator's responsibility, not the converters'.
const (
	BlockURIBase       = "https://xats.org/vocabularies/blocks/"
	HintURIBase        = "https://xats.org/vocabularies/hints/"
	PlaceholderURIBase = "https://xats.org/vocabularies/placeholders/"
)

// Core block type URIs.
const (
	BlockParagraph  = BlockURIBase + "paragraph"
	BlockHeading    = BlockURIBase + "heading"
	BlockList       = BlockURIBase + "list"
	BlockBlockquote = BlockURIBase + "blockquote"
	BlockCodeBlock  = BlockURIBase + "codeBlock"
	BlockMathBlock  = BlockURIBase + "mathBlock"
	BlockTable      = BlockURIBase + "table"
	BlockFigure     = BlockURIBase + "figure"
)

// Placeholder block URIs. Placeholder blocks carry no authored content;
// their output is generated at render time from document-wide state.
const (
	PlaceholderTableOfContents = PlaceholderURIBase + "tableOfContents"
	PlaceholderBibliography    = PlaceholderURIBase + "bibliography"
	PlaceholderIndex           = PlaceholderURIBase + "index"
)

// BlockKind returns the trailing path segment of a blockType URI, the key
// renderers dispatch on (e.g., "paragraph", "tableOfContents"). An empty
// or slash-terminated URI yields "".
func BlockKind(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// IsPlaceholder reports whether the blockType URI names a placeholder block.
func IsPlaceholder(uri string) bool {
	return strings.HasPrefix(uri, PlaceholderURIBase)
}
