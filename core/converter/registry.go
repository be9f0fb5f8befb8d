package converter

import (
	"sort"

	"github.com/xats-org/convert/core/errors"
)

// Factory constructs a converter with its default options.
type Factory func() Interface

// registry holds all registered converter factories, keyed by format name.
// Format packages register themselves from init; internal/embedded pulls
// them all in with blank imports.
var registry = make(map[string]Factory)

// Register registers a converter factory by format name. Later
// registrations for the same name win, which lets tests install stubs.
func Register(format string, f Factory) {
	if format != "" && f != nil {
		registry[format] = f
	}
}

// New constructs a converter for the given format name.
func New(format string) (Interface, error) {
	f, ok := registry[format]
	if !ok {
		return nil, errors.NewNotFound("format", format)
	}
	return f(), nil
}

// Has reports whether a converter is registered for the format name.
func Has(format string) bool {
	_, ok := registry[format]
	return ok
}

// Formats returns the registered format names, sorted.
func Formats() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
