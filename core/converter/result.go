package converter

import (
	"time"

	"github.com/xats-org/convert/core/xats"
)

// Encoding tags how RenderResult.Content is encoded.
type Encoding string

// Content encoding constants.
const (
	// EncodingUTF8 marks plain text content.
	EncodingUTF8 Encoding = "utf8"

	// EncodingBase64 marks binary content transported as base64 text
	// (DOCX). The explicit tag keeps the content field uniform across
	// formats without callers having to guess.
	EncodingBase64 Encoding = "base64"
)

// Error codes shared across converters.
const (
	CodeMissingField   = "missing-field"
	CodeInvalidFormat  = "invalid-format"
	CodeInternal       = "internal"
	CodeUnmappedBlock  = "unmapped-block"
	CodeUnknownRunType = "unknown-run-type"
	CodeUnknownOption  = "unknown-option"
)

// ConversionError is a failure captured during render or parse. Fatal,
// non-recoverable errors leave the result with empty or minimal content;
// recoverable errors mean the converter degraded the affected element and
// continued.
type ConversionError struct {
	// Code is a stable machine-readable identifier (e.g., "invalid-format").
	Code string `json:"code"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Recoverable is false for structural failures that abort conversion.
	Recoverable bool `json:"recoverable"`

	// Path locates the failing element when known (e.g., "bodyMatter[2]").
	Path string `json:"path,omitempty"`
}

// Warning is a non-fatal issue: the converter degraded to a safe default
// and continued.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// UnmappedElement records source content a parser recognized but could not
// classify. Unmapped content is never dropped silently; it falls back to a
// generic paragraph block and is listed here.
type UnmappedElement struct {
	// Kind names the construct (e.g., "environment", "chunk-engine").
	Kind string `json:"kind"`

	// Raw is a snippet of the original content.
	Raw string `json:"raw,omitempty"`

	// Reason explains why it could not be mapped.
	Reason string `json:"reason"`
}

// RenderMetadata describes a completed render.
type RenderMetadata struct {
	// Format is the target format name.
	Format string `json:"format"`

	// Encoding tags how Content is encoded.
	Encoding Encoding `json:"encoding"`

	// RenderTime is the wall-clock duration of the render call.
	RenderTime time.Duration `json:"renderTime"`

	// WordCount is the estimated word count of the rendered prose,
	// tokenized on whitespace after stripping format markup.
	WordCount int `json:"wordCount,omitempty"`
}

// RenderResult is the outcome of rendering a document.
type RenderResult struct {
	// Content is the serialized output: target-format text, or base64 for
	// binary formats (see Metadata.Encoding).
	Content string `json:"content"`

	Metadata RenderMetadata    `json:"metadata"`
	Errors   []ConversionError `json:"errors,omitempty"`
	Warnings []Warning         `json:"warnings,omitempty"`
}

// OK reports whether the render completed without a fatal error.
func (r *RenderResult) OK() bool {
	for _, e := range r.Errors {
		if !e.Recoverable {
			return false
		}
	}
	return true
}

// ParseMetadata describes a completed parse.
type ParseMetadata struct {
	// Format is the source format name.
	Format string `json:"format"`

	// ParseTime is the wall-clock duration of the parse call.
	ParseTime time.Duration `json:"parseTime"`

	// MappedElements counts source constructs mapped to xats structure.
	MappedElements int `json:"mappedElements"`

	// UnmappedElements counts constructs that fell back to generic blocks.
	UnmappedElements int `json:"unmappedElements"`

	// FidelityScore is the heuristic [0,1] structure-survival score.
	FidelityScore float64 `json:"fidelityScore"`
}

// ParseResult is the outcome of parsing target-format content.
type ParseResult struct {
	// Document is the reconstructed document; an empty placeholder when
	// the input was rejected.
	Document *xats.Document `json:"document"`

	Metadata ParseMetadata     `json:"metadata"`
	Warnings []Warning         `json:"warnings,omitempty"`
	Errors   []ConversionError `json:"errors,omitempty"`
	Unmapped []UnmappedElement `json:"unmappedData,omitempty"`
}

// OK reports whether the parse completed without a fatal error.
func (r *ParseResult) OK() bool {
	for _, e := range r.Errors {
		if !e.Recoverable {
			return false
		}
	}
	return true
}

// Severity classifies validation issues.
type Severity string

// Validation severity constants.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one finding from a format validator.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`

	// Line is the 1-based source line when known, 0 otherwise.
	Line int `json:"line,omitempty"`
}

// ValidationResult is the outcome of format-specific syntax checks.
type ValidationResult struct {
	// Valid is true when no error-severity issues were found.
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// Errors returns the error-severity issues.
func (v *ValidationResult) Errors() []ValidationIssue {
	return v.filter(SeverityError)
}

// Warnings returns the warning-severity issues.
func (v *ValidationResult) Warnings() []ValidationIssue {
	return v.filter(SeverityWarning)
}

func (v *ValidationResult) filter(s Severity) []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range v.Issues {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

// AddError appends an error-severity issue and marks the result invalid.
func (v *ValidationResult) AddError(code, message string, line int) {
	v.Valid = false
	v.Issues = append(v.Issues, ValidationIssue{
		Severity: SeverityError, Code: code, Message: message, Line: line,
	})
}

// AddWarning appends a warning-severity issue.
func (v *ValidationResult) AddWarning(code, message string, line int) {
	v.Issues = append(v.Issues, ValidationIssue{
		Severity: SeverityWarning, Code: code, Message: message, Line: line,
	})
}

// FormatMetadata is the cheap metadata probe result.
type FormatMetadata struct {
	Format    string            `json:"format"`
	Title     string            `json:"title,omitempty"`
	Author    string            `json:"author,omitempty"`
	Date      string            `json:"date,omitempty"`
	WordCount int               `json:"wordCount,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}
