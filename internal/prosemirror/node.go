// Package prosemirror canonicalizes ProseMirror/TipTap document trees.
package prosemirror

// Node types with formatting rules. Any other type passes through.
const (
	TypeDoc       = "doc"
	TypeParagraph = "paragraph"
	TypeHeading   = "heading"
	TypeText      = "text"
	TypeImage     = "image"
)

// Node is one element of the document tree. A nil Content, Text, Attrs or
// Marks means the field was absent on the wire; an empty non-nil value is
// emitted as [] or {}.
type Node struct {
	Type    string
	Content []Node
	Text    *string
	Attrs   map[string]any
	Marks   []any
}

// IsText reports whether n is a text leaf.
func (n Node) IsText() bool {
	return n.Type == TypeText
}

// TextValue returns the node text, or "" when absent.
func (n Node) TextValue() string {
	if n.Text == nil {
		return ""
	}
	return *n.Text
}

// StringPtr is a helper for building text nodes.
func StringPtr(s string) *string {
	return &s
}
