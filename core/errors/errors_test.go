package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	err := NewNotFound("format", "docbook")
	if err.Error() != "format not found: docbook" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !Is(err, ErrNotFound) {
		t.Error("NotFoundError must match ErrNotFound")
	}

	bare := NewNotFound("cache entry", "")
	if bare.Error() != "cache entry not found" {
		t.Errorf("unexpected message: %s", bare.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidation("bibliographicEntry", "required field is missing")
	if err.Error() != "validation failed for bibliographicEntry: required field is missing" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !Is(err, ErrInvalidInput) {
		t.Error("ValidationError must match ErrInvalidInput")
	}

	var ve *ValidationError
	if !As(err, &ve) || ve.Field != "bibliographicEntry" {
		t.Error("As failed to recover ValidationError")
	}
}

func TestParseError(t *testing.T) {
	withLine := NewParse("latex", 12, "unexpected closing brace")
	if withLine.Error() != "failed to parse latex at line 12: unexpected closing brace" {
		t.Errorf("unexpected message: %s", withLine.Error())
	}
	noLine := NewParse("markdown", 0, "empty front matter")
	if noLine.Error() != "failed to parse markdown: empty front matter" {
		t.Errorf("unexpected message: %s", noLine.Error())
	}
	if !Is(withLine, ErrInvalidInput) {
		t.Error("ParseError must match ErrInvalidInput")
	}
}

func TestUnsupportedError(t *testing.T) {
	err := NewUnsupported("odt output", "no writer implemented")
	if !Is(err, ErrUnsupported) {
		t.Error("UnsupportedError must match ErrUnsupported")
	}
}

func TestIOError(t *testing.T) {
	underlying := errors.New("permission denied")
	err := NewIO("write", "/tmp/out.tex", underlying)
	if err.Error() != "failed to write /tmp/out.tex: permission denied" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !Is(err, underlying) {
		t.Error("IOError must unwrap to its underlying error")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) must return nil")
	}
	base := NewNotFound("format", "rtf")
	wrapped := Wrap(base, "loading converter")
	if wrapped.Error() != "loading converter: format not found: rtf" {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
	if !Is(wrapped, ErrNotFound) {
		t.Error("wrapping must preserve the error chain")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "op %d", 1) != nil {
		t.Error("Wrapf(nil) must return nil")
	}
	wrapped := Wrapf(ErrInternal, "render pass %d", 2)
	if wrapped.Error() != "render pass 2: internal error" {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
}

func TestExplicitUnderlyingError(t *testing.T) {
	// An explicit Err takes over the unwrap chain from the sentinel.
	cause := fmt.Errorf("disk offline")
	err := &NotFoundError{Resource: "bundle", ID: "b1", Err: cause}
	if !Is(err, cause) {
		t.Error("explicit underlying error must be reachable")
	}
	if Is(err, ErrNotFound) {
		t.Error("sentinel must be displaced by the explicit underlying error")
	}
}
