package api

import (
	"fmt"
	"strconv"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/internal/formats/docx"
	"github.com/xats-org/convert/internal/formats/latex"
	"github.com/xats-org/convert/internal/formats/markdown"
	"github.com/xats-org/convert/internal/formats/rmd"
)

// BuildConverter constructs a converter for format with the given request
// options applied. Unrecognized option keys do not fail the request; each
// produces an unknown-option warning and is otherwise ignored, matching the
// converters' own never-throw posture. An unknown format is an error.
func BuildConverter(format string, options map[string]string) (converter.Interface, []converter.Warning, error) {
	if !converter.Has(format) {
		c, err := converter.New(format)
		return c, nil, err
	}

	var warnings []converter.Warning
	warn := func(key string) {
		warnings = append(warnings, converter.Warning{
			Code:    converter.CodeUnknownOption,
			Message: fmt.Sprintf("option %q is not recognized for format %q", key, format),
		})
	}

	switch format {
	case markdown.FormatName:
		var opts markdown.Options
		for key, value := range options {
			switch key {
			case "variant":
				opts.Variant = value
			case "baseHeadingLevel":
				opts.BaseHeadingLevel = atoiOption(value)
			case "tables":
				opts.EnableTables = value == "true"
			case "frontMatter":
				fm := value == "true"
				opts.FrontMatter = &fm
			default:
				warn(key)
			}
		}
		return markdown.New(opts), warnings, nil

	case rmd.FormatName:
		var opts rmd.Options
		for key, value := range options {
			switch key {
			case "output", "outputFormat":
				opts.Output = value
			case "baseHeadingLevel":
				opts.BaseHeadingLevel = atoiOption(value)
			case "useBookdown":
				opts.UseBookdown = value == "true"
			case "useDistill":
				opts.UseDistill = value == "true"
			case "defaultChunkOptions":
				// The value uses chunk option syntax, e.g. "echo=FALSE, dpi=300".
				header, err := rmd.ParseChunkHeader("{r, " + value + "}")
				if err != nil {
					warnings = append(warnings, converter.Warning{
						Code:    converter.CodeInvalidFormat,
						Message: fmt.Sprintf("defaultChunkOptions %q does not decode: %v", value, err),
					})
					continue
				}
				opts.DefaultChunkOptions = header.Options
			case "citationStyle":
				opts.CitationStyle = value
			default:
				warn(key)
			}
		}
		return rmd.New(opts), warnings, nil

	case latex.FormatName:
		var opts latex.Options
		for key, value := range options {
			switch key {
			case "documentClass":
				opts.DocumentClass = value
			case "citations":
				switch value {
				case "natbib":
					opts.UseNatbib = true
				case "biblatex":
					opts.UseBiblatex = true
				case "plain":
				default:
					warn(key)
				}
			case "bibliographyStyle":
				opts.BibliographyStyle = value
			case "bibliographyFile":
				opts.BibliographyFile = value
			case "paperSize":
				opts.PaperSize = value
			case "fontSize":
				opts.FontSize = value
			default:
				warn(key)
			}
		}
		return latex.New(opts), warnings, nil

	case docx.FormatName:
		for key := range options {
			warn(key)
		}
		return docx.New(), warnings, nil
	}

	// Registered through the registry but not known here; serve it with
	// its default options.
	c, err := converter.New(format)
	return c, warnings, err
}

func atoiOption(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}

// FormatInfo describes a supported conversion format.
type FormatInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Extensions  []string `json:"extensions"`
	Threshold   float64  `json:"threshold"`
	Description string   `json:"description"`
	Binary      bool     `json:"binary"`
}

// formatCatalog is the static description of the built-in converters.
// Availability is still checked against the registry at request time.
var formatCatalog = []FormatInfo{
	{ID: docx.FormatName, Name: "Office Open XML", Extensions: []string{".docx"}, Threshold: docx.Threshold, Description: "WordprocessingML document, base64-encoded on the wire", Binary: true},
	{ID: latex.FormatName, Name: "LaTeX", Extensions: []string{".tex"}, Threshold: latex.Threshold, Description: "LaTeX article/book/report source"},
	{ID: markdown.FormatName, Name: "Markdown", Extensions: []string{".md", ".markdown"}, Threshold: markdown.Threshold, Description: "CommonMark/GFM with YAML front matter"},
	{ID: rmd.FormatName, Name: "R Markdown", Extensions: []string{".Rmd"}, Threshold: rmd.Threshold, Description: "Markdown with knitr code chunks"},
}

// formatThreshold returns the round-trip fidelity threshold for a format,
// falling back to a conservative default for formats missing from the
// catalog.
func formatThreshold(format string) float64 {
	for _, info := range formatCatalog {
		if info.ID == format {
			return info.Threshold
		}
	}
	return 0.8
}
