package converter

import (
	"time"

	"github.com/xats-org/convert/core/xats"
)

// Impact classifies how much a round-trip difference matters.
type Impact string

// Impact severity constants, most severe first.
const (
	ImpactCritical Impact = "critical"
	ImpactMajor    Impact = "major"
	ImpactMinor    Impact = "minor"
	ImpactCosmetic Impact = "cosmetic"
)

// Difference is one divergence detected between the original document and
// its round-tripped reconstruction.
type Difference struct {
	// Dimension names what was compared (e.g., "bibliographicEntry.title").
	Dimension string `json:"dimension"`

	Impact   Impact `json:"impact"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// RoundTripResult is the outcome of a render→parse→compare cycle.
type RoundTripResult struct {
	Format string `json:"format"`

	// Success is true when the fidelity score met the format's threshold.
	Success bool `json:"success"`

	// FidelityScore is the parse-side score, 0 when rendering failed.
	FidelityScore float64 `json:"fidelityScore"`

	// Threshold is the score the format had to meet.
	Threshold float64 `json:"threshold"`

	Differences []Difference `json:"differences,omitempty"`

	// Timing and size metrics, reported regardless of success.
	RenderTime   time.Duration `json:"renderTime"`
	ParseTime    time.Duration `json:"parseTime"`
	TotalTime    time.Duration `json:"totalTime"`
	RenderedSize int           `json:"renderedSize"`

	// DocumentHash is the BLAKE3 hash of the original document, for
	// correlating results across runs.
	DocumentHash string `json:"documentHash,omitempty"`
}

// RoundTrip drives render→parse→compare for one converter. The structural
// diff is deliberately shallow: schema version, bibliographic title, and
// gross content presence. Full semantic equality is not attempted — finer
// loss shows up in the fidelity score instead.
func RoundTrip(c Interface, doc *xats.Document, threshold float64) *RoundTripResult {
	start := time.Now()
	result := &RoundTripResult{
		Format:    c.Format(),
		Threshold: threshold,
	}
	if doc != nil {
		if hash, err := doc.Hash(); err == nil {
			result.DocumentHash = hash
		}
	}

	rendered := c.Render(doc)
	result.RenderTime = rendered.Metadata.RenderTime
	result.RenderedSize = len(rendered.Content)
	if !rendered.OK() {
		result.Differences = append(result.Differences, Difference{
			Dimension: "render",
			Impact:    ImpactCritical,
			Expected:  "renderable document",
			Actual:    firstErrorMessage(rendered.Errors),
		})
		result.TotalTime = time.Since(start)
		return result
	}

	parsed := c.Parse(rendered.Content)
	result.ParseTime = parsed.Metadata.ParseTime
	result.FidelityScore = parsed.Metadata.FidelityScore
	result.Differences = append(result.Differences, Compare(doc, parsed.Document)...)
	result.Success = result.FidelityScore >= threshold
	result.TotalTime = time.Since(start)
	return result
}

// Compare performs the shallow structural diff between an original document
// and a reconstruction.
func Compare(original, reconstructed *xats.Document) []Difference {
	var diffs []Difference
	if original == nil || reconstructed == nil {
		return []Difference{{
			Dimension: "document",
			Impact:    ImpactCritical,
			Expected:  "both documents present",
		}}
	}

	if original.SchemaVersion != reconstructed.SchemaVersion {
		diffs = append(diffs, Difference{
			Dimension: "schemaVersion",
			Impact:    ImpactMinor,
			Expected:  original.SchemaVersion,
			Actual:    reconstructed.SchemaVersion,
		})
	}

	origTitle := entryTitle(original)
	reconTitle := entryTitle(reconstructed)
	if origTitle != reconTitle {
		diffs = append(diffs, Difference{
			Dimension: "bibliographicEntry.title",
			Impact:    ImpactMajor,
			Expected:  origTitle,
			Actual:    reconTitle,
		})
	}

	origEmpty := original.BodyMatter.IsEmpty()
	reconEmpty := reconstructed.BodyMatter.IsEmpty()
	if origEmpty != reconEmpty {
		diffs = append(diffs, Difference{
			Dimension: "bodyMatter.contents",
			Impact:    ImpactCritical,
			Expected:  presence(origEmpty),
			Actual:    presence(reconEmpty),
		})
	}

	return diffs
}

func entryTitle(d *xats.Document) string {
	if d.BibliographicEntry == nil {
		return ""
	}
	return d.BibliographicEntry.Title
}

func presence(empty bool) string {
	if empty {
		return "empty"
	}
	return "non-empty"
}

func firstErrorMessage(errs []ConversionError) string {
	for _, e := range errs {
		if !e.Recoverable {
			return e.Message
		}
	}
	if len(errs) > 0 {
		return errs[0].Message
	}
	return ""
}
