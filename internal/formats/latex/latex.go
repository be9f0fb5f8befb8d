// Package latex converts between xats documents and LaTeX.
package latex

import (
	"strings"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/xats"
)

// FormatName is the registry name of this converter.
const FormatName = "latex"

// Threshold is the round-trip fidelity score LaTeX must meet. LaTeX is the
// most mature converter pair, so the bar is high.
const Threshold = 0.9

// Options configures LaTeX rendering. The zero value is usable; New fills
// in defaults.
type Options struct {
	// DocumentClass selects the LaTeX class: "article" (default), "book",
	// or "report". The class drives the heading-command mapping.
	DocumentClass string

	// Packages lists the \usepackage entries. Defaults to amsmath,
	// amssymb, graphicx, hyperref, ulem.
	Packages []string

	// UseNatbib emits natbib citation commands and bibliography setup.
	UseNatbib bool

	// UseBiblatex emits biblatex setup instead. Mutually exclusive with
	// UseNatbib; when both are set natbib wins and a warning is recorded.
	UseBiblatex bool

	// BibliographyStyle is the \bibliographystyle argument. Default "plain"
	// ("plainnat" under natbib).
	BibliographyStyle string

	// BibliographyFile is the bibliography database name without extension.
	// Default "references".
	BibliographyFile string

	// PaperSize is an optional class option (e.g., "a4paper").
	PaperSize string

	// FontSize is an optional class option (e.g., "12pt").
	FontSize string

	// CustomCommands are raw preamble lines emitted after the packages.
	CustomCommands []string

	// Preamble is a raw block emitted after CustomCommands.
	Preamble string

	// BeforeBeginDocument is a raw block emitted immediately before
	// \begin{document}.
	BeforeBeginDocument string
}

// DefaultPackages is the package list used when Options.Packages is empty.
var DefaultPackages = []string{"amsmath", "amssymb", "graphicx", "hyperref", "ulem"}

// Converter implements the uniform converter contract for LaTeX.
type Converter struct {
	opts Options
}

// New constructs a LaTeX converter, filling unset options with defaults.
func New(opts Options) *Converter {
	if opts.DocumentClass == "" {
		opts.DocumentClass = "article"
	}
	if len(opts.Packages) == 0 {
		opts.Packages = append([]string(nil), DefaultPackages...)
	}
	if opts.BibliographyFile == "" {
		opts.BibliographyFile = "references"
	}
	if opts.BibliographyStyle == "" {
		if opts.UseNatbib {
			opts.BibliographyStyle = "plainnat"
		} else {
			opts.BibliographyStyle = "plain"
		}
	}
	return &Converter{opts: opts}
}

// Format implements converter.Interface.
func (c *Converter) Format() string { return FormatName }

// RoundTrip implements converter.Interface.
func (c *Converter) RoundTrip(doc *xats.Document) *converter.RoundTripResult {
	return converter.RoundTrip(c, doc, Threshold)
}

// Metadata implements converter.Interface. It probes \title, \author, and
// \date without a structural parse.
func (c *Converter) Metadata(content string) *converter.FormatMetadata {
	meta := &converter.FormatMetadata{Format: FormatName}
	meta.Title = commandArg(content, "\\title")
	meta.Author = commandArg(content, "\\author")
	meta.Date = commandArg(content, "\\date")
	meta.WordCount = converterWordCount(content)
	if class := commandArg(content, "\\documentclass"); class != "" {
		meta.Extra = map[string]string{"documentClass": class}
	}
	return meta
}

func converterWordCount(content string) int {
	return len(strings.Fields(stripMarkup(content)))
}

func init() {
	converter.Register(FormatName, func() converter.Interface {
		return New(Options{})
	})
}
