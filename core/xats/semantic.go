package xats

import (
	"encoding/json"
	"strings"
)

// RunType identifies the kind of an inline run.
type RunType string

// Run type constants.
const (
	RunText          RunType = "text"
	RunEmphasis      RunType = "emphasis"
	RunStrong        RunType = "strong"
	RunCode          RunType = "code"
	RunCitation      RunType = "citation"
	RunReference     RunType = "reference"
	RunIndex         RunType = "index"
	RunSubscript     RunType = "subscript"
	RunSuperscript   RunType = "superscript"
	RunStrikethrough RunType = "strikethrough"
	RunUnderline     RunType = "underline"
	RunMathInline    RunType = "mathInline"
)

// validRunTypes is the set of run types every converter understands.
var validRunTypes = map[RunType]bool{
	RunText:          true,
	RunEmphasis:      true,
	RunStrong:        true,
	RunCode:          true,
	RunCitation:      true,
	RunReference:     true,
	RunIndex:         true,
	RunSubscript:     true,
	RunSuperscript:   true,
	RunStrikethrough: true,
	RunUnderline:     true,
	RunMathInline:    true,
}

// IsValid returns true if the run type is one every converter understands.
// Unknown types are still carried through conversion; they degrade to their
// raw text payload rather than failing (forward-compatibility contract).
func (t RunType) IsValid() bool {
	return validRunTypes[t]
}

// CiteKeys holds the citation keys of a citation run. The xats JSON form
// allows either a single string or an array of strings for citeKey.
type CiteKeys []string

// UnmarshalJSON accepts both "key" and ["key1", "key2"].
func (c *CiteKeys) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*c = CiteKeys{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*c = CiteKeys(many)
	return nil
}

// MarshalJSON emits a bare string for a single key, an array otherwise.
func (c CiteKeys) MarshalJSON() ([]byte, error) {
	if len(c) == 1 {
		return json.Marshal(c[0])
	}
	return json.Marshal([]string(c))
}

// Run is a typed span of inline formatted text. It is a tagged union
// discriminated by Type; which payload fields are meaningful depends on the
// tag. Formatting runs (emphasis, strong, code, subscript, ...) carry Text.
// Citation runs carry CiteKey, reference runs carry Ref, index runs carry
// Text plus Entry, and math runs carry Math.
type Run struct {
	// Type is the discriminator tag.
	Type RunType `json:"type"`

	// Text is the literal text payload for text and formatting runs.
	Text string `json:"text,omitempty"`

	// CiteKey holds the citation key(s) for citation runs.
	CiteKey CiteKeys `json:"citeKey,omitempty"`

	// Ref is the target id for cross-reference runs.
	Ref string `json:"ref,omitempty"`

	// Entry is the index term for index runs (the visible text is Text).
	Entry string `json:"entry,omitempty"`

	// Math is the raw math source for mathInline runs.
	Math string `json:"math,omitempty"`
}

// Plain returns the plain-text projection of the run: the human-readable
// text with all markup semantics stripped. Unknown run types project their
// Text payload so that future vocabulary additions never lose prose.
func (r Run) Plain() string {
	switch r.Type {
	case RunCitation:
		return strings.Join(r.CiteKey, "; ")
	case RunReference:
		return r.Ref
	case RunMathInline:
		return r.Math
	default:
		return r.Text
	}
}

// SemanticText is an ordered sequence of runs. Run order is significant:
// concatenating the plain projection of every run in order reproduces the
// human-readable text, and no converter may reorder runs.
type SemanticText struct {
	Runs []Run `json:"runs"`
}

// Plain returns the concatenated plain-text projection of all runs.
func (s *SemanticText) Plain() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	for _, r := range s.Runs {
		b.WriteString(r.Plain())
	}
	return b.String()
}

// IsEmpty reports whether the text has no runs with non-empty projection.
func (s *SemanticText) IsEmpty() bool {
	return s.Plain() == ""
}

// Text builds a SemanticText holding a single plain text run.
func Text(text string) *SemanticText {
	return &SemanticText{Runs: []Run{{Type: RunText, Text: text}}}
}

// FromRuns builds a SemanticText from the given runs.
func FromRuns(runs ...Run) *SemanticText {
	return &SemanticText{Runs: runs}
}

// AsSemanticText coerces a decoded JSON value into a SemanticText.
// It accepts a plain string, a {"runs": [...]} object, or an existing
// *SemanticText, returning nil when the value has no usable text form.
func AsSemanticText(v any) *SemanticText {
	switch val := v.(type) {
	case nil:
		return nil
	case *SemanticText:
		return val
	case SemanticText:
		return &val
	case string:
		if val == "" {
			return nil
		}
		return Text(val)
	case map[string]any:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		var st SemanticText
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil
		}
		return &st
	default:
		return nil
	}
}
