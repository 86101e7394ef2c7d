package export

import (
	"fmt"
	"html"
	"strings"

	"synkdocs/api/internal/prosemirror"
)

// RenderHTML converts a canonical document tree to an HTML fragment
func RenderHTML(doc prosemirror.Node) string {
	var b strings.Builder
	renderNode(&b, doc)
	return b.String()
}

func renderNode(b *strings.Builder, node prosemirror.Node) {
	switch node.Type {
	case prosemirror.TypeDoc:
		renderContent(b, node.Content)
	case prosemirror.TypeParagraph:
		wrap(b, "<p>", node.Content, "</p>\n")
	case prosemirror.TypeHeading:
		level := prosemirror.HeadingLevel(node.Attrs)
		wrap(b, fmt.Sprintf("<h%d>", level), node.Content, fmt.Sprintf("</h%d>\n", level))
	case "bulletList":
		wrap(b, "<ul>\n", node.Content, "</ul>\n")
	case "orderedList":
		wrap(b, "<ol>\n", node.Content, "</ol>\n")
	case "listItem":
		wrap(b, "<li>", node.Content, "</li>\n")
	case "blockquote":
		wrap(b, "<blockquote>\n", node.Content, "</blockquote>\n")
	case "codeBlock":
		b.WriteString("<pre><code>")
		b.WriteString(html.EscapeString(prosemirror.PlainText(node)))
		b.WriteString("</code></pre>\n")
	case prosemirror.TypeText:
		b.WriteString(renderTextWithMarks(node.TextValue(), node.Marks))
	case prosemirror.TypeImage:
		src, _ := node.Attrs["src"].(string)
		alt, _ := node.Attrs["alt"].(string)
		fmt.Fprintf(b, `<img src="%s" alt="%s">`+"\n", html.EscapeString(src), html.EscapeString(alt))
	case "hardBreak":
		b.WriteString("<br>")
	case "table":
		wrap(b, "<table>\n", node.Content, "</table>\n")
	case "tableRow":
		wrap(b, "<tr>\n", node.Content, "</tr>\n")
	case "tableCell":
		wrap(b, "<td>", node.Content, "</td>\n")
	case "tableHeader":
		wrap(b, "<th>", node.Content, "</th>\n")
	case "horizontalRule":
		b.WriteString("<hr>\n")
	default:
		// Unknown node type - render content if any
		renderContent(b, node.Content)
	}
}

func wrap(b *strings.Builder, open string, content []prosemirror.Node, closing string) {
	b.WriteString(open)
	renderContent(b, content)
	b.WriteString(closing)
}

func renderContent(b *strings.Builder, content []prosemirror.Node) {
	for _, child := range content {
		renderNode(b, child)
	}
}

// renderTextWithMarks renders text with formatting marks
func renderTextWithMarks(text string, marks []any) string {
	if text == "" {
		return ""
	}

	htmlText := html.EscapeString(text)

	// Apply marks from outside in
	for i := len(marks) - 1; i >= 0; i-- {
		mark, ok := marks[i].(map[string]any)
		if !ok {
			continue
		}
		markType, _ := mark["type"].(string)

		switch markType {
		case "bold":
			htmlText = "<strong>" + htmlText + "</strong>"
		case "italic":
			htmlText = "<em>" + htmlText + "</em>"
		case "code":
			htmlText = "<code>" + htmlText + "</code>"
		case "link":
			href := ""
			if attrs, ok := mark["attrs"].(map[string]any); ok {
				href, _ = attrs["href"].(string)
			}
			htmlText = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), htmlText)
		case "strike":
			htmlText = "<s>" + htmlText + "</s>"
		case "underline":
			htmlText = "<u>" + htmlText + "</u>"
		}
	}

	return htmlText
}
