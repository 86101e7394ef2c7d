package prosemirror

import "strings"

const typeHardBreak = "hardBreak"

// PlainText flattens a tree to its text, one line per block.
func PlainText(n Node) string {
	var b strings.Builder
	writePlainText(&b, n)
	return strings.TrimSpace(b.String())
}

func writePlainText(b *strings.Builder, n Node) {
	switch n.Type {
	case TypeText:
		b.WriteString(n.TextValue())
		return
	case typeHardBreak:
		b.WriteByte('\n')
		return
	}
	for _, child := range n.Content {
		writePlainText(b, child)
	}
	if n.Type != TypeDoc && n.Content != nil && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteByte('\n')
	}
}

// Title returns the text of the first heading, falling back to the first
// non-empty block.
func Title(doc Node) string {
	fallback := ""
	for _, block := range doc.Content {
		text := strings.TrimSpace(PlainText(block))
		if text == "" {
			continue
		}
		if block.Type == TypeHeading {
			return firstLine(text)
		}
		if fallback == "" {
			fallback = firstLine(text)
		}
	}
	return fallback
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
