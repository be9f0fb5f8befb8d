// Package docx converts between xats documents and Office Open XML word
// processing packages. The package is assembled in pure Go; content crosses
// the converter boundary as base64 since the payload is a zip archive.
//
// Structure maps onto a fixed style vocabulary: Heading1-3 carry the
// container hierarchy, further Heading levels become heading blocks, and
// Quote/Code/Caption/MathBlock style runs of paragraphs become their
// corresponding blocks.
package docx

import (
	"archive/zip"
	"bytes"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/xats"
)

// FormatName is the registry name of this converter.
const FormatName = "docx"

// Threshold is the round-trip fidelity score this format must meet. A word
// processing package carries the least model detail of the supported
// formats, so the bar is lowest.
const Threshold = 0.7

// Converter implements the uniform converter contract for OOXML packages.
type Converter struct{}

// New constructs a docx converter. The format has no tunable options; the
// emitted style vocabulary is fixed so output parses back deterministically.
func New() *Converter { return &Converter{} }

// Format implements converter.Interface.
func (c *Converter) Format() string { return FormatName }

// RoundTrip implements converter.Interface.
func (c *Converter) RoundTrip(doc *xats.Document) *converter.RoundTripResult {
	return converter.RoundTrip(c, doc, Threshold)
}

// Metadata implements converter.Interface. Title, author, and date come
// from docProps/core.xml; the word count from the document body.
func (c *Converter) Metadata(content string) *converter.FormatMetadata {
	meta := &converter.FormatMetadata{Format: FormatName}

	data, err := decodePayload(content)
	if err != nil {
		return meta
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return meta
	}

	if coreData, err := readPart(zr, "docProps/core.xml"); err == nil {
		if root, err := xmlquery.Parse(bytes.NewReader(coreData)); err == nil {
			meta.Title = elementText(root, "title")
			meta.Author = elementText(root, "creator")
			meta.Date = elementText(root, "created")
			if subject := elementText(root, "subject"); subject != "" {
				meta.Extra = map[string]string{"subject": subject}
			}
		}
	}
	if docData, err := readPart(zr, "word/document.xml"); err == nil {
		if root, err := xmlquery.Parse(bytes.NewReader(docData)); err == nil {
			if body := xmlquery.QuerySelector(root, bodyQuery); body != nil {
				meta.WordCount = len(strings.Fields(body.InnerText()))
			}
		}
	}
	return meta
}

func init() {
	converter.Register(FormatName, func() converter.Interface {
		return New()
	})
}
