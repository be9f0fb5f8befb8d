// Package converter defines the uniform contract every format converter
// implements, the shared result types, the fidelity scoring used by all
// parsers, and the render→parse→compare round-trip driver.
//
// The contract is deliberately non-throwing: Render, Parse, Validate, and
// RoundTrip report every conversion failure through the result's error and
// warning lists and never panic across the package boundary. Callers decide
// success by inspecting those lists, not by checking a Go error.
package converter

import (
	"github.com/xats-org/convert/core/xats"
)

// Interface is implemented identically by every format converter. Format
// options are fixed when the converter is constructed; all methods are pure
// over their input, build fresh per-call state, and are safe for concurrent
// use across independent documents.
type Interface interface {
	// Format returns the canonical lowercase format name (e.g., "latex").
	Format() string

	// Render serializes a document to the target format. Failures are
	// reported in the result's Errors list; the method never panics.
	Render(doc *xats.Document) *RenderResult

	// Parse reconstructs a document from target-format content. Content
	// that fails the format sanity check yields an empty placeholder
	// document, a zero fidelity score, and an invalid-format error.
	Parse(content string) *ParseResult

	// Validate runs format-specific syntax and structural checks on raw
	// content, independent of any document.
	Validate(content string) *ValidationResult

	// RoundTrip renders the document, parses the result back, and compares
	// the reconstruction against the original.
	RoundTrip(doc *xats.Document) *RoundTripResult

	// Metadata probes content for document-level metadata without a full
	// structural parse.
	Metadata(content string) *FormatMetadata
}
