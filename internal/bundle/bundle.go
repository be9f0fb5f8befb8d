// Package bundle exports a document together with its rendered outputs as
// one portable archive: manifest.json, document.json, and one file per
// format under outputs/. Bundles pack to tar.gz or tar.xz and unpack from
// either, detected by content.
package bundle

import (
	"archive/tar"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/errors"
	"github.com/xats-org/convert/core/xats"
	"github.com/xats-org/convert/internal/archive"
)

// ManifestVersion is the current bundle manifest schema version.
const ManifestVersion = 1

// Manifest describes the contents of a bundle archive.
type Manifest struct {
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"createdAt"`
	DocumentHash string         `json:"documentHash"`
	Title        string         `json:"title,omitempty"`
	Outputs      []OutputRecord `json:"outputs"`
}

// OutputRecord describes one rendered output in the bundle.
type OutputRecord struct {
	Format    string `json:"format"`
	File      string `json:"file"`
	Encoding  string `json:"encoding"`
	WordCount int    `json:"wordCount,omitempty"`
	Warnings  int    `json:"warnings,omitempty"`
}

// Bundle holds a document and its rendered outputs keyed by format.
type Bundle struct {
	Document *xats.Document
	Outputs  map[string]*converter.RenderResult
}

// extensions maps format names to output file extensions. Formats without
// an entry use their name as the extension.
var extensions = map[string]string{
	"markdown": "md",
	"latex":    "tex",
	"rmd":      "Rmd",
}

// OutputFile returns the archive entry name for a format's output.
func OutputFile(format string) string {
	ext, ok := extensions[format]
	if !ok {
		ext = format
	}
	return "outputs/document." + ext
}

// Build renders doc to every requested format. A format that is not
// registered or fails to render aborts the build.
func Build(doc *xats.Document, formats []string) (*Bundle, error) {
	b := &Bundle{
		Document: doc,
		Outputs:  make(map[string]*converter.RenderResult, len(formats)),
	}
	for _, format := range formats {
		c, err := converter.New(format)
		if err != nil {
			return nil, err
		}
		result := c.Render(doc)
		if !result.OK() {
			return nil, errors.Wrapf(fmt.Errorf("%s", result.Errors[0].Message),
				"rendering %s", format)
		}
		b.Outputs[format] = result
	}
	return b, nil
}

// Manifest builds the manifest for the bundle's current contents.
func (b *Bundle) Manifest() (*Manifest, error) {
	hash, err := b.Document.Hash()
	if err != nil {
		return nil, errors.Wrap(err, "hashing document")
	}
	m := &Manifest{
		Version:      ManifestVersion,
		CreatedAt:    time.Now().UTC(),
		DocumentHash: hash,
	}
	if b.Document.BibliographicEntry != nil {
		m.Title = b.Document.BibliographicEntry.Title
	}
	for _, format := range sortedFormats(b.Outputs) {
		result := b.Outputs[format]
		m.Outputs = append(m.Outputs, OutputRecord{
			Format:    format,
			File:      OutputFile(format),
			Encoding:  string(result.Metadata.Encoding),
			WordCount: result.Metadata.WordCount,
			Warnings:  len(result.Warnings),
		})
	}
	return m, nil
}

// Pack writes the bundle to path. Binary outputs transported as base64 are
// decoded and stored as raw bytes.
func (b *Bundle) Pack(archivePath string, compression archive.Compression) error {
	manifest, err := b.Manifest()
	if err != nil {
		return err
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.Wrap(err, "serializing manifest")
	}
	docData, err := json.MarshalIndent(b.Document, "", "  ")
	if err != nil {
		return errors.Wrap(err, "serializing document")
	}

	w, err := archive.NewWriter(archivePath, compression)
	if err != nil {
		return errors.NewIO("create", archivePath, err)
	}

	if err := b.writeEntries(w, manifest, manifestData, docData); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (b *Bundle) writeEntries(w *archive.Writer, manifest *Manifest, manifestData, docData []byte) error {
	if err := w.Add("manifest.json", manifestData); err != nil {
		return err
	}
	if err := w.Add("document.json", docData); err != nil {
		return err
	}
	for _, record := range manifest.Outputs {
		result := b.Outputs[record.Format]
		data := []byte(result.Content)
		if result.Metadata.Encoding == converter.EncodingBase64 {
			var err error
			data, err = base64.StdEncoding.DecodeString(result.Content)
			if err != nil {
				return errors.Wrapf(err, "decoding %s output", record.Format)
			}
		}
		if err := w.Add(record.File, data); err != nil {
			return err
		}
	}
	return nil
}

// Unpack reads a bundle archive. Outputs recorded as base64 in the
// manifest are re-encoded into their transport form.
func Unpack(archivePath string) (*Bundle, *Manifest, error) {
	var manifest *Manifest
	var docData []byte
	outputs := map[string][]byte{}

	err := archive.IterateArchive(archivePath, func(header *tar.Header, r io.Reader) (bool, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return true, err
		}
		switch {
		case header.Name == "manifest.json":
			manifest = &Manifest{}
			if err := json.Unmarshal(data, manifest); err != nil {
				return true, errors.Wrap(err, "parsing manifest")
			}
		case header.Name == "document.json":
			docData = data
		case strings.HasPrefix(header.Name, "outputs/"):
			outputs[header.Name] = data
		}
		return false, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if manifest == nil {
		return nil, nil, errors.NewValidation("manifest.json", "missing from bundle")
	}
	if manifest.Version > ManifestVersion {
		return nil, nil, errors.NewUnsupported("bundle manifest",
			fmt.Sprintf("version %d is newer than this tool", manifest.Version))
	}
	if docData == nil {
		return nil, nil, errors.NewValidation("document.json", "missing from bundle")
	}

	doc := &xats.Document{}
	if err := json.Unmarshal(docData, doc); err != nil {
		return nil, nil, errors.Wrap(err, "parsing document")
	}
	doc.Normalize()

	b := &Bundle{
		Document: doc,
		Outputs:  make(map[string]*converter.RenderResult, len(manifest.Outputs)),
	}
	for _, record := range manifest.Outputs {
		data, ok := outputs[record.File]
		if !ok {
			return nil, nil, errors.NewValidation(record.File, "listed in manifest but missing from archive")
		}
		content := string(data)
		if converter.Encoding(record.Encoding) == converter.EncodingBase64 {
			content = base64.StdEncoding.EncodeToString(data)
		}
		b.Outputs[record.Format] = &converter.RenderResult{
			Content: content,
			Metadata: converter.RenderMetadata{
				Format:    record.Format,
				Encoding:  converter.Encoding(record.Encoding),
				WordCount: record.WordCount,
			},
		}
	}
	return b, manifest, nil
}

func sortedFormats(outputs map[string]*converter.RenderResult) []string {
	formats := make([]string, 0, len(outputs))
	for format := range outputs {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}
