// Package xats defines the canonical in-memory representation of xats
// documents used by every format converter.
//
// The model mirrors the xats JSON vocabulary: a Document carries
// bibliographic metadata plus front, body, and back matter; matter contents
// nest as Unit > Chapter > Section containers holding ContentBlocks; inline
// formatted text is a SemanticText, an ordered sequence of typed Runs.
//
// Converters never mutate a Document in place. A parser constructs a fresh
// Document; a renderer only reads one. Container kinds are explicit tags
// assigned when a document is decoded, so traversal dispatches on the tag
// rather than inspecting child shapes.
package xats
