// Package validation guards the upload and bundle-serving surfaces of the
// API: path containment, filename hygiene, and magic-byte typing of
// uploaded archives.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	// MaxFileSize caps uploads at 256 MB. Packed bundles for even large
	// textbooks sit well under this.
	MaxFileSize = 256 << 20
	// MaxFilenameLength matches the common filesystem limit.
	MaxFilenameLength = 255
	// MaxPathLength matches PATH_MAX on Linux.
	MaxPathLength = 4096
)

var (
	ErrPathTraversal   = errors.New("path traversal detected")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrPathTooLong     = errors.New("path too long")
	ErrFilenameTooLong = errors.New("filename too long")
	ErrEmptyPath       = errors.New("path cannot be empty")
)

// SanitizePath confines a client-supplied path to baseDir. The returned
// path is cleaned and relative; anything that would resolve outside the
// base is ErrPathTraversal.
func SanitizePath(baseDir, userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}
	if len(userPath) > MaxPathLength {
		return "", ErrPathTooLong
	}

	clean := filepath.Clean(userPath)
	if strings.Contains(clean, "..") {
		return "", ErrPathTraversal
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute path not allowed", ErrPathTraversal)
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(baseDir, clean))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", ErrPathTraversal
	}
	return clean, nil
}

// ValidateFilename rejects names that could escape a directory, smuggle
// control bytes, or read as command flags.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}
	if strings.Contains(filename, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidFilename)
	}
	for _, r := range filename {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}
	return nil
}

// SanitizeFilename rewrites a name derived from user input (a document
// title, say) into something ValidateFilename accepts, or fails if nothing
// usable remains.
func SanitizeFilename(filename string) (string, error) {
	if filename == "" {
		return "", ErrInvalidFilename
	}
	filename = strings.TrimSpace(filename)
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "\x00", "")

	var cleaned strings.Builder
	for _, r := range filename {
		if !unicode.IsControl(r) {
			cleaned.WriteRune(r)
		}
	}
	filename = strings.TrimLeft(cleaned.String(), "-")

	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	return filename, nil
}

// FileType labels the content kinds the upload surface accepts: packed
// bundles and their compression wrappers, OOXML packages, and the text
// document formats.
type FileType string

const (
	FileTypeBundleXZ FileType = "tar.xz"
	FileTypeBundleGZ FileType = "tar.gz"
	FileTypeTar      FileType = "tar"
	FileTypeZip      FileType = "zip"
	FileTypeGzip     FileType = "gzip"
	FileTypeXZ       FileType = "xz"
	FileTypeJSON     FileType = "json"
	FileTypeText     FileType = "text"
	FileTypeUnknown  FileType = "unknown"
)

var magicBytes = []struct {
	fileType FileType
	magic    []byte
	offset   int
}{
	{FileTypeTar, []byte("ustar"), 257},
	{FileTypeGzip, []byte{0x1f, 0x8b}, 0},
	{FileTypeXZ, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}, 0},
	{FileTypeZip, []byte{0x50, 0x4b, 0x03, 0x04}, 0},
}

// ValidateFileType reads the file header and checks the content against
// what the filename extension claims. A mismatch between two recognized
// types is an error; unrecognized content defers to the extension.
func ValidateFileType(reader io.Reader, filename string) (FileType, error) {
	// 512 bytes covers the tar ustar marker at offset 257.
	buf := make([]byte, 512)
	n, err := io.ReadFull(reader, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileTypeUnknown, fmt.Errorf("read file header: %w", err)
	}
	buf = buf[:n]

	detected := detectFromMagic(buf)
	expected := detectFromExtension(filename)

	// A packed bundle reads as its compression wrapper until decompressed.
	if expected == FileTypeBundleXZ && detected == FileTypeXZ {
		return FileTypeBundleXZ, nil
	}
	if expected == FileTypeBundleGZ && detected == FileTypeGzip {
		return FileTypeBundleGZ, nil
	}
	if detected == expected {
		return detected, nil
	}

	// Text formats carry no magic bytes; accept them on a content sniff.
	if detected == FileTypeUnknown && (expected == FileTypeJSON || expected == FileTypeText) {
		if isLikelyText(buf) {
			return expected, nil
		}
	}

	if detected != FileTypeUnknown && expected != FileTypeUnknown {
		return FileTypeUnknown, fmt.Errorf("file type mismatch: extension suggests %s but content is %s", expected, detected)
	}
	if detected == FileTypeUnknown {
		return expected, nil
	}
	return detected, nil
}

func detectFromMagic(buf []byte) FileType {
	for _, sig := range magicBytes {
		if sig.offset+len(sig.magic) <= len(buf) &&
			bytes.Equal(buf[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			return sig.fileType
		}
	}
	return FileTypeUnknown
}

func detectFromExtension(filename string) FileType {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".tar.xz") {
		return FileTypeBundleXZ
	}
	if strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
		return FileTypeBundleGZ
	}

	switch filepath.Ext(lower) {
	case ".tar":
		return FileTypeTar
	case ".xz":
		return FileTypeXZ
	case ".gz":
		return FileTypeGzip
	case ".zip", ".docx":
		// OOXML packages are zip archives.
		return FileTypeZip
	case ".json", ".xats":
		return FileTypeJSON
	case ".txt", ".md", ".markdown", ".tex", ".rmd":
		return FileTypeText
	default:
		return FileTypeUnknown
	}
}

// isLikelyText reports whether the header bytes read as text. A NUL byte
// means binary; otherwise at least 95% of the single-byte range must be
// printable. Multi-byte UTF-8 sequences count as neither.
func isLikelyText(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	if bytes.IndexByte(buf, 0) != -1 {
		return false
	}
	printable, control := 0, 0
	for _, b := range buf {
		switch {
		case b >= 0x20 && b <= 0x7e, b == '\t', b == '\n', b == '\r':
			printable++
		case b < 0x20:
			control++
		}
	}
	return printable > 0 && float64(printable)/float64(printable+control) > 0.95
}
