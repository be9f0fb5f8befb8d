// Format conversion pipeline integration tests.
// These tests verify that document conversions work correctly end-to-end.
package integration

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/xats"
	"github.com/xats-org/convert/internal/archive"
	"github.com/xats-org/convert/internal/bundle"
	"github.com/xats-org/convert/internal/cache"

	_ "github.com/xats-org/convert/internal/embedded"
)

func testbookDocument() *xats.Document {
	return &xats.Document{
		SchemaVersion: xats.DefaultSchemaVersion,
		BibliographicEntry: &xats.BibliographicEntry{
			Type:  "book",
			Title: "Sediment Transport",
			Author: []xats.Name{
				{Given: "Ines", Family: "Moreno"},
			},
		},
		BodyMatter: &xats.Matter{Contents: []*xats.Node{
			xats.ContainerNode(&xats.Container{
				Kind:  xats.KindChapter,
				ID:    "ch-bedload",
				Title: xats.Text("Bedload"),
				Contents: []*xats.Node{
					xats.BlockNode(&xats.ContentBlock{
						ID:        "p1",
						BlockType: xats.BlockParagraph,
						Content:   map[string]any{"text": xats.Text("Grains roll and saltate along the bed.")},
					}),
					xats.BlockNode(&xats.ContentBlock{
						ID:        "lst1",
						BlockType: xats.BlockList,
						Content: map[string]any{
							"listType": "unordered",
							"items":    []any{xats.Text("rolling"), xats.Text("saltation")},
						},
					}),
				},
			}),
		}},
	}
}

// TestRegistryCoversAllFormats verifies every built-in converter is registered.
func TestRegistryCoversAllFormats(t *testing.T) {
	want := []string{"docx", "latex", "markdown", "rmd"}
	got := converter.Formats()
	for _, format := range want {
		if !converter.Has(format) {
			t.Errorf("format %q not registered (have %v)", format, got)
		}
	}
}

// TestRenderAllFormats renders one document through every registered
// converter and checks the result is usable.
func TestRenderAllFormats(t *testing.T) {
	doc := testbookDocument()

	for _, format := range converter.Formats() {
		t.Run(format, func(t *testing.T) {
			c, err := converter.New(format)
			if err != nil {
				t.Fatalf("converter.New(%q): %v", format, err)
			}

			result := c.Render(doc)
			if !result.OK() {
				t.Fatalf("render failed: %+v", result.Errors)
			}
			if result.Content == "" {
				t.Fatal("render produced empty content")
			}
			if result.Metadata.Format != format {
				t.Errorf("metadata format = %q, want %q", result.Metadata.Format, format)
			}
			if result.Metadata.WordCount == 0 {
				t.Error("word count = 0 for non-empty document")
			}
		})
	}
}

// TestRoundTripAllFormats checks each format reconstructs the document
// above its own fidelity threshold.
func TestRoundTripAllFormats(t *testing.T) {
	doc := testbookDocument()

	for _, format := range converter.Formats() {
		t.Run(format, func(t *testing.T) {
			c, err := converter.New(format)
			if err != nil {
				t.Fatalf("converter.New(%q): %v", format, err)
			}

			result := c.RoundTrip(doc)
			if !result.Success {
				t.Fatalf("round trip failed: fidelity %.3f < threshold %.3f, differences %+v",
					result.FidelityScore, result.Threshold, result.Differences)
			}
			if result.DocumentHash == "" {
				t.Error("round trip missing document hash")
			}
			for _, diff := range result.Differences {
				if diff.Impact == converter.ImpactCritical {
					t.Errorf("critical difference: %+v", diff)
				}
			}
		})
	}
}

// TestParseRecoversStructure parses rendered markdown back and verifies the
// chapter structure survived.
func TestParseRecoversStructure(t *testing.T) {
	doc := testbookDocument()
	c, err := converter.New("markdown")
	if err != nil {
		t.Fatalf("converter.New: %v", err)
	}

	rendered := c.Render(doc)
	if !rendered.OK() {
		t.Fatalf("render failed: %+v", rendered.Errors)
	}

	parsed := c.Parse(rendered.Content)
	if !parsed.OK() {
		t.Fatalf("parse failed: %+v", parsed.Errors)
	}
	if parsed.Document.BibliographicEntry.Title != "Sediment Transport" {
		t.Errorf("title = %q", parsed.Document.BibliographicEntry.Title)
	}
	if parsed.Document.BodyMatter.IsEmpty() {
		t.Fatal("parsed document body is empty")
	}

	container := parsed.Document.BodyMatter.Contents[0].Container
	if container == nil {
		t.Fatal("first body node is not a container")
	}
	if got := container.Title.Plain(); got != "Bedload" {
		t.Errorf("chapter title = %q, want %q", got, "Bedload")
	}
}

// TestBundleLifecycle packs a multi-format bundle, unpacks it, and verifies
// the manifest and outputs agree with the original document.
func TestBundleLifecycle(t *testing.T) {
	doc := testbookDocument()
	formats := []string{"markdown", "latex", "docx"}

	b, err := bundle.Build(doc, formats)
	if err != nil {
		t.Fatalf("bundle.Build: %v", err)
	}

	for _, compression := range []archive.Compression{archive.CompressionXZ, archive.CompressionGzip} {
		t.Run(string(compression), func(t *testing.T) {
			ext := ".tar.xz"
			if compression == archive.CompressionGzip {
				ext = ".tar.gz"
			}
			archivePath := filepath.Join(t.TempDir(), "testbook"+ext)

			if err := b.Pack(archivePath, compression); err != nil {
				t.Fatalf("Pack: %v", err)
			}

			detected, err := archive.DetectCompression(archivePath)
			if err != nil {
				t.Fatalf("DetectCompression: %v", err)
			}
			if detected != compression {
				t.Errorf("detected compression = %q, want %q", detected, compression)
			}

			unpacked, manifest, err := bundle.Unpack(archivePath)
			if err != nil {
				t.Fatalf("Unpack: %v", err)
			}
			if manifest.Title != "Sediment Transport" {
				t.Errorf("manifest title = %q", manifest.Title)
			}
			if len(manifest.Outputs) != len(formats) {
				t.Fatalf("manifest outputs = %d, want %d", len(manifest.Outputs), len(formats))
			}

			wantHash, err := doc.Hash()
			if err != nil {
				t.Fatalf("Hash: %v", err)
			}
			if manifest.DocumentHash != wantHash {
				t.Errorf("document hash changed across pack/unpack")
			}

			md, ok := unpacked.Outputs["markdown"]
			if !ok {
				t.Fatal("markdown output missing after unpack")
			}
			if !strings.Contains(md.Content, "## Bedload") {
				t.Errorf("unpacked markdown missing chapter heading:\n%s", md.Content)
			}
		})
	}
}

// TestCachedRenderPipeline routes renders through the sqlite cache and
// verifies hit behavior and content stability.
func TestCachedRenderPipeline(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "render.db"), time.Hour)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer store.Close()

	doc := testbookDocument()
	c, err := converter.New("latex")
	if err != nil {
		t.Fatalf("converter.New: %v", err)
	}
	ctx := context.Background()

	first, hit, err := store.Render(ctx, c, doc, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if hit {
		t.Error("first render must miss the cache")
	}

	second, hit, err := store.Render(ctx, c, doc, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !hit {
		t.Error("second render must hit the cache")
	}
	if first.Content != second.Content {
		t.Error("cached content differs from rendered content")
	}

	// Different options must produce a distinct cache entry.
	_, hit, err = store.Render(ctx, c, doc, map[string]string{"documentClass": "report"})
	if err != nil {
		t.Fatalf("Render with options: %v", err)
	}
	if hit {
		t.Error("render with different options must not hit the plain entry")
	}

	n, err := store.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 2 {
		t.Errorf("cache entries = %d, want 2", n)
	}
}

// TestDocumentJSONStability verifies marshal/unmarshal preserves the
// document hash, which the bundle manifest depends on.
func TestDocumentJSONStability(t *testing.T) {
	doc := testbookDocument()
	before, err := doc.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded xats.Document
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	decoded.Normalize()

	after, err := decoded.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if before != after {
		t.Error("document hash changed across JSON round trip")
	}
}
