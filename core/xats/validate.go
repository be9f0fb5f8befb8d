package xats

import (
	"github.com/xats-org/convert/core/errors"
)

// ValidateForRender checks the top-level fields every renderer requires.
// Absence of a required field is fatal for rendering; the returned slice
// lists one error per missing field and is empty for a renderable document.
func ValidateForRender(d *Document) []error {
	var errs []error
	if d == nil {
		return []error{errors.NewValidation("document", "document is nil")}
	}
	if d.BibliographicEntry == nil {
		errs = append(errs, errors.NewValidation("bibliographicEntry", "required field is missing"))
	}
	if d.BodyMatter == nil {
		errs = append(errs, errors.NewValidation("bodyMatter", "required field is missing"))
	}
	return errs
}

// EmptyDocument returns the minimal placeholder document parsers hand back
// when input is rejected before structural parsing.
func EmptyDocument(schemaVersion string) *Document {
	if schemaVersion == "" {
		schemaVersion = DefaultSchemaVersion
	}
	return &Document{
		SchemaVersion:      schemaVersion,
		BibliographicEntry: &BibliographicEntry{},
		BodyMatter:         &Matter{Contents: []*Node{}},
	}
}

// DefaultSchemaVersion is the schema version stamped on parser-constructed
// documents.
const DefaultSchemaVersion = "0.5.0"
