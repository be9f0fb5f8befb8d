package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/xats-org/convert/core/converter"
)

// Validate implements converter.Interface. Errors are structural: the
// payload must be a zip archive carrying well-formed required parts.
// Style-vocabulary drift is a warning since foreign producers use their
// own style sets.
func (c *Converter) Validate(content string) *converter.ValidationResult {
	result := &converter.ValidationResult{Valid: true}

	data, err := decodePayload(content)
	if err != nil {
		result.AddError("not-an-archive", err.Error(), 0)
		return result
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		result.AddError("not-an-archive", fmt.Sprintf("not a zip archive: %v", err), 0)
		return result
	}

	for _, part := range []string{"[Content_Types].xml", "word/document.xml"} {
		if _, err := readPart(zr, part); err != nil {
			result.AddError("missing-part", fmt.Sprintf("required part %s is missing", part), 0)
		}
	}
	docData, err := readPart(zr, "word/document.xml")
	if err != nil {
		return result
	}

	if err := checkWellFormed(docData); err != nil {
		result.AddError("malformed-xml", fmt.Sprintf("word/document.xml: %v", err), 0)
		return result
	}
	if !strings.Contains(string(docData), "<w:body") {
		result.AddError("missing-body", "word/document.xml has no w:body element", 0)
	}

	checkStyles(docData, result)
	return result
}

// checkWellFormed runs the token stream to completion. Entity expansion is
// disabled so hostile payloads cannot smuggle external entities.
func checkWellFormed(data []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Entity = map[string]string{}
	for {
		_, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// checkStyles flags referenced paragraph styles outside the emitted
// vocabulary, once per style.
func checkStyles(data []byte, result *converter.ValidationResult) {
	known := map[string]bool{"Normal": true}
	for _, id := range paragraphStyles {
		known[id] = true
	}

	seen := map[string]bool{}
	rest := string(data)
	for {
		i := strings.Index(rest, `<w:pStyle w:val="`)
		if i < 0 {
			break
		}
		rest = rest[i+len(`<w:pStyle w:val="`):]
		j := strings.IndexByte(rest, '"')
		if j < 0 {
			break
		}
		style := rest[:j]
		rest = rest[j:]
		if !known[style] && !seen[style] {
			seen[style] = true
			result.AddWarning("unknown-style",
				fmt.Sprintf("paragraph style %q is outside the emitted vocabulary", style), 0)
		}
	}
}
