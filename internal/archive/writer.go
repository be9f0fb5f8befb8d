package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
)

// Writer assembles a compressed tar archive entry by entry. Entries share
// one timestamp so repeated packs of the same content are comparable.
type Writer struct {
	file       *os.File
	compressor io.WriteCloser
	tw         *tar.Writer
	modTime    time.Time
}

// NewWriter creates an archive at path with the given compression,
// creating parent directories as needed.
func NewWriter(path string, compression Compression) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive file: %w", err)
	}

	var compressor io.WriteCloser
	switch compression {
	case CompressionGzip:
		compressor, err = gzip.NewWriterLevel(f, gzip.BestCompression)
	case CompressionXZ, "":
		compressor, err = xz.NewWriter(f)
	default:
		err = fmt.Errorf("unsupported compression %q", compression)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{
		file:       f,
		compressor: compressor,
		tw:         tar.NewWriter(compressor),
		modTime:    time.Now(),
	}, nil
}

// Add writes one file entry.
func (w *Writer) Add(name string, data []byte) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: w.modTime,
	}
	if err := w.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}

// AddDir walks srcDir and adds every regular file under the baseDir prefix
// inside the archive.
func (w *Writer) AddDir(srcDir, baseDir string) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return w.Add(baseDir+"/"+filepath.ToSlash(relPath), data)
	})
}

// Close flushes the tar stream and the compressor and closes the file.
func (w *Writer) Close() error {
	var errs []error
	if err := w.tw.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := w.compressor.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
