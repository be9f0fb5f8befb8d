package archive

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeArchive(t *testing.T, compression Compression, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.tar")
	w, err := NewWriter(path, compression)
	if err != nil {
		t.Fatalf("creating writer: %v", err)
	}
	for name, content := range entries {
		if err := w.Add(name, []byte(content)); err != nil {
			t.Fatalf("adding %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
	return path
}

func TestDetectCompression(t *testing.T) {
	gz := writeArchive(t, CompressionGzip, map[string]string{"a.txt": "a"})
	xzPath := writeArchive(t, CompressionXZ, map[string]string{"a.txt": "a"})

	if c, err := DetectCompression(gz); err != nil || c != CompressionGzip {
		t.Errorf("DetectCompression(gzip archive) = %q, %v", c, err)
	}
	if c, err := DetectCompression(xzPath); err != nil || c != CompressionXZ {
		t.Errorf("DetectCompression(xz archive) = %q, %v", c, err)
	}

	plain := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(plain, []byte("just text"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := DetectCompression(plain); err == nil {
		t.Error("plain text must not detect as an archive")
	}
}

func TestRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionGzip, CompressionXZ} {
		t.Run(string(compression), func(t *testing.T) {
			entries := map[string]string{
				"manifest.json":      `{"version":1}`,
				"outputs/chapter.md": "# Chapter\n",
			}
			path := writeArchive(t, compression, entries)

			// Compression is detected from content, not the extension
			names, err := List(path)
			if err != nil {
				t.Fatalf("listing: %v", err)
			}
			if len(names) != 2 {
				t.Fatalf("List = %v; want 2 entries", names)
			}

			for name, want := range entries {
				data, err := ReadFile(path, name)
				if err != nil {
					t.Fatalf("reading %s: %v", name, err)
				}
				if string(data) != want {
					t.Errorf("%s = %q; want %q", name, data, want)
				}
			}
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	path := writeArchive(t, CompressionGzip, map[string]string{"a.txt": "a"})
	if _, err := ReadFile(path, "nope.txt"); err == nil {
		t.Error("missing entry must error")
	}
}

func TestContainsPath(t *testing.T) {
	path := writeArchive(t, CompressionXZ, map[string]string{
		"manifest.json":    "{}",
		"outputs/body.tex": "x",
	})

	found, err := ContainsPath(path, func(name string) bool {
		return name == "manifest.json"
	})
	if err != nil || !found {
		t.Errorf("ContainsPath(manifest.json) = %v, %v; want true", found, err)
	}

	found, err = ContainsPath(path, func(name string) bool {
		return name == "absent"
	})
	if err != nil || found {
		t.Errorf("ContainsPath(absent) = %v, %v; want false", found, err)
	}
}

func TestIterate_StopAndError(t *testing.T) {
	path := writeArchive(t, CompressionGzip, map[string]string{
		"one": "1", "two": "2", "three": "3",
	})

	var seen int
	err := IterateArchive(path, func(*tar.Header, io.Reader) (bool, error) {
		seen++
		return true, nil // stop after the first entry
	})
	if err != nil || seen != 1 {
		t.Errorf("early stop saw %d entries, err=%v; want 1, nil", seen, err)
	}

	wantErr := errors.New("visitor failure")
	err = IterateArchive(path, func(*tar.Header, io.Reader) (bool, error) {
		return false, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("visitor error not propagated: %v", err)
	}
}

func TestAddDir(t *testing.T) {
	srcDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(srcDir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "top.txt"), []byte("top"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "nested", "deep.txt"), []byte("deep"), 0o644); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "dir.tar.gz")
	w, err := NewWriter(path, CompressionGzip)
	if err != nil {
		t.Fatalf("creating writer: %v", err)
	}
	if err := w.AddDir(srcDir, "base"); err != nil {
		t.Fatalf("AddDir: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	data, err := ReadFile(path, "base/nested/deep.txt")
	if err != nil {
		t.Fatalf("reading nested entry: %v", err)
	}
	if string(data) != "deep" {
		t.Errorf("nested entry = %q; want %q", data, "deep")
	}
}

func TestNewReader_Corrupted(t *testing.T) {
	dir := t.TempDir()

	gz := filepath.Join(dir, "bad.tar.gz")
	if err := os.WriteFile(gz, []byte{0x1f, 0x8b, 0xff, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}
	if r, err := NewReader(gz); err == nil {
		r.Close()
		t.Error("corrupted gzip must fail to open")
	}

	missing := filepath.Join(dir, "missing.tar.gz")
	if _, err := NewReader(missing); err == nil {
		t.Error("missing file must fail to open")
	}
}
