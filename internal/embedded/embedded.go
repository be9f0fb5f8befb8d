// Package embedded pulls in every built-in format converter so that a
// single blank import registers the full set with the converter registry.
package embedded

import (
	_ "github.com/xats-org/convert/internal/formats/docx"
	_ "github.com/xats-org/convert/internal/formats/latex"
	_ "github.com/xats-org/convert/internal/formats/markdown"
	_ "github.com/xats-org/convert/internal/formats/rmd"
)
