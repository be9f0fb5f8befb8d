package xats

import (
	"encoding/json"
	"fmt"
)

// ContainerKind identifies the structural level of a container.
type ContainerKind string

// Container kind constants, outermost first.
const (
	KindUnit    ContainerKind = "unit"
	KindChapter ContainerKind = "chapter"
	KindSection ContainerKind = "section"
)

// validContainerKinds is the set of valid container kinds.
var validContainerKinds = map[ContainerKind]bool{
	KindUnit:    true,
	KindChapter: true,
	KindSection: true,
}

// IsValid returns true if the container kind is valid.
func (k ContainerKind) IsValid() bool {
	return validContainerKinds[k]
}

// Document is the root of an xats document tree.
type Document struct {
	// SchemaVersion is the xats schema version this document conforms to
	// (e.g., "0.5.0"). The converters treat it as an opaque string.
	SchemaVersion string `json:"schemaVersion"`

	// BibliographicEntry is the CSL-like citation metadata for the document.
	// Required by every renderer.
	BibliographicEntry *BibliographicEntry `json:"bibliographicEntry,omitempty"`

	// Subject is the academic subject of the document (e.g., "Biology").
	Subject string `json:"subject,omitempty"`

	// FrontMatter holds preface content rendered before the body.
	FrontMatter *Matter `json:"frontMatter,omitempty"`

	// BodyMatter holds the main content. Required by every renderer.
	BodyMatter *Matter `json:"bodyMatter,omitempty"`

	// BackMatter holds appendix content rendered after the body.
	BackMatter *Matter `json:"backMatter,omitempty"`
}

// Matter is a front/body/back matter container holding an ordered sequence
// of containers and content blocks.
type Matter struct {
	Contents []*Node `json:"contents"`
}

// IsEmpty reports whether the matter has no contents.
func (m *Matter) IsEmpty() bool {
	return m == nil || len(m.Contents) == 0
}

// BibliographicEntry is CSL-like citation metadata. Only the fields the
// converters consume are modeled; unknown fields are preserved in Extra.
type BibliographicEntry struct {
	// Type is the CSL item type (e.g., "book", "article").
	Type string `json:"type,omitempty"`

	// Title is the document title.
	Title string `json:"title,omitempty"`

	// Author lists the document authors.
	Author []Name `json:"author,omitempty"`

	// Publisher is the publishing body.
	Publisher string `json:"publisher,omitempty"`

	// Issued is the publication date in raw form (e.g., "2024-01-15").
	Issued string `json:"issued,omitempty"`

	// Language is the BCP-47 language tag (e.g., "en").
	Language string `json:"language,omitempty"`
}

// Name is a CSL personal or institutional name.
type Name struct {
	Given   string `json:"given,omitempty"`
	Family  string `json:"family,omitempty"`
	Literal string `json:"literal,omitempty"`
}

// String returns the display form of the name.
func (n Name) String() string {
	if n.Literal != "" {
		return n.Literal
	}
	switch {
	case n.Given != "" && n.Family != "":
		return n.Given + " " + n.Family
	case n.Family != "":
		return n.Family
	default:
		return n.Given
	}
}

// AuthorString joins all author names with ", ".
func (b *BibliographicEntry) AuthorString() string {
	if b == nil {
		return ""
	}
	out := ""
	for i, a := range b.Author {
		if i > 0 {
			out += ", "
		}
		out += a.String()
	}
	return out
}

// Container is a structural node: a Unit, Chapter, or Section. The tree is
// shape-polymorphic — a Unit may contain Chapters or ContentBlocks directly,
// a Chapter may contain Sections or ContentBlocks — so Contents is a list of
// Nodes, each either a nested Container or a ContentBlock.
type Container struct {
	// Kind is the structural level tag, assigned at decode time or by the
	// constructor. Traversal dispatches on this tag only.
	Kind ContainerKind `json:"type,omitempty"`

	// ID is the optional stable identifier used as a cross-reference target.
	ID string `json:"id,omitempty"`

	// Label is the optional display label (e.g., "1.2").
	Label string `json:"label,omitempty"`

	// Title is the optional container title.
	Title *SemanticText `json:"title,omitempty"`

	// LearningOutcomes lists the optional learning outcomes.
	LearningOutcomes []*SemanticText `json:"learningOutcomes,omitempty"`

	// Contents is the ordered sequence of children.
	Contents []*Node `json:"contents,omitempty"`
}

// NewContainer constructs a container with an explicit kind tag.
func NewContainer(kind ContainerKind, title *SemanticText) *Container {
	return &Container{Kind: kind, Title: title}
}

// Depth returns the nesting level implied by the kind: 1 for units,
// 2 for chapters, 3 for sections.
func (c *Container) Depth() int {
	switch c.Kind {
	case KindUnit:
		return 1
	case KindChapter:
		return 2
	case KindSection:
		return 3
	default:
		return 3
	}
}

// RenderingHint is an advisory presentation hint attached to a block.
type RenderingHint struct {
	HintType string `json:"hintType"`
	Value    any    `json:"value,omitempty"`
}

// ContentBlock is a single semantic unit of document content. BlockType is
// a URI namespacing the block's semantic kind; Content's shape depends on
// the block type and is an open, URI-extensible variant set, so it is held
// as a generic map and block handlers pull typed fields defensively.
type ContentBlock struct {
	// ID is the block identifier, a cross-reference target.
	ID string `json:"id,omitempty"`

	// BlockType is the vocabulary URI identifying the block kind.
	BlockType string `json:"blockType"`

	// Content is the block payload, shaped by BlockType.
	Content map[string]any `json:"content,omitempty"`

	// RenderingHints are advisory presentation hints.
	RenderingHints []RenderingHint `json:"renderingHints,omitempty"`
}

// SemanticTextField extracts a SemanticText-valued content field.
func (b *ContentBlock) SemanticTextField(key string) *SemanticText {
	if b == nil || b.Content == nil {
		return nil
	}
	return AsSemanticText(b.Content[key])
}

// StringField extracts a string-valued content field.
func (b *ContentBlock) StringField(key string) string {
	if b == nil || b.Content == nil {
		return ""
	}
	s, _ := b.Content[key].(string)
	return s
}

// BoolField extracts a bool-valued content field.
func (b *ContentBlock) BoolField(key string) (value, ok bool) {
	if b == nil || b.Content == nil {
		return false, false
	}
	v, ok := b.Content[key].(bool)
	return v, ok
}

// IntField extracts an integer content field, accepting JSON numbers.
func (b *ContentBlock) IntField(key string) (int, bool) {
	if b == nil || b.Content == nil {
		return 0, false
	}
	switch v := b.Content[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// Node is one element of a contents list: exactly one of Container or Block
// is non-nil.
type Node struct {
	Container *Container
	Block     *ContentBlock
}

// ContainerNode wraps a container as a node.
func ContainerNode(c *Container) *Node { return &Node{Container: c} }

// BlockNode wraps a content block as a node.
func BlockNode(b *ContentBlock) *Node { return &Node{Block: b} }

// UnmarshalJSON decodes a contents element, discriminating containers from
// content blocks by the presence of the blockType key. This is the only
// place shape inspection happens; after decode every node carries explicit
// tags.
func (n *Node) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("decoding contents node: %w", err)
	}
	if _, ok := probe["blockType"]; ok {
		var block ContentBlock
		if err := json.Unmarshal(data, &block); err != nil {
			return fmt.Errorf("decoding content block: %w", err)
		}
		n.Block = &block
		return nil
	}
	var container Container
	if err := json.Unmarshal(data, &container); err != nil {
		return fmt.Errorf("decoding container: %w", err)
	}
	n.Container = &container
	return nil
}

// MarshalJSON emits the wrapped container or block directly.
func (n *Node) MarshalJSON() ([]byte, error) {
	switch {
	case n.Block != nil:
		return json.Marshal(n.Block)
	case n.Container != nil:
		return json.Marshal(n.Container)
	default:
		return []byte("null"), nil
	}
}

// DecodeDocument parses a JSON-encoded xats document and normalizes
// container kind tags.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding xats document: %w", err)
	}
	doc.Normalize()
	return &doc, nil
}

// Encode serializes the document as indented JSON with deterministic key
// order.
func (d *Document) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Normalize assigns container kind tags throughout the tree. Explicit tags
// from the JSON always win. Untagged containers are classified once, here:
// a top-level container whose children include containers that themselves
// contain containers spans three structural levels and is a Unit, otherwise
// it is a Chapter; below the top level, a child of a Unit is a Chapter and
// anything deeper is a Section.
func (d *Document) Normalize() {
	for _, m := range []*Matter{d.FrontMatter, d.BodyMatter, d.BackMatter} {
		if m == nil {
			continue
		}
		for _, node := range m.Contents {
			if node.Container != nil {
				normalizeTop(node.Container)
			}
		}
	}
}

func normalizeTop(c *Container) {
	if !c.Kind.IsValid() {
		if hasGrandchildContainers(c) {
			c.Kind = KindUnit
		} else {
			c.Kind = KindChapter
		}
	}
	for _, node := range c.Contents {
		if node.Container != nil {
			normalizeChild(node.Container, c.Kind)
		}
	}
}

func normalizeChild(c *Container, parent ContainerKind) {
	if !c.Kind.IsValid() {
		if parent == KindUnit {
			c.Kind = KindChapter
		} else {
			c.Kind = KindSection
		}
	}
	for _, node := range c.Contents {
		if node.Container != nil {
			normalizeChild(node.Container, c.Kind)
		}
	}
}

func hasGrandchildContainers(c *Container) bool {
	for _, node := range c.Contents {
		if node.Container == nil {
			continue
		}
		for _, inner := range node.Container.Contents {
			if inner.Container != nil {
				return true
			}
		}
	}
	return false
}
