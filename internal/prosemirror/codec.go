package prosemirror

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Decode parses a JSON document into a Node tree. Numbers inside attrs and
// marks are kept as json.Number so they re-encode exactly.
func Decode(data []byte) (Node, error) {
	return decode(data, 0)
}

func decode(data []byte, maxDepth int) (Node, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return Node{}, fmt.Errorf("%w: invalid JSON: %v", ErrParse, err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return Node{}, fmt.Errorf("%w: invalid JSON: trailing data after document", ErrParse)
	}
	return nodeFromValue(raw, "$", 1, maxDepth)
}

func nodeFromValue(value any, path string, depth, maxDepth int) (Node, error) {
	if maxDepth > 0 && depth > maxDepth {
		return Node{}, fmt.Errorf("%w: %s is nested deeper than %d", ErrDepthExceeded, path, maxDepth)
	}

	object, ok := value.(map[string]any)
	if !ok {
		return Node{}, fmt.Errorf("%w: %s: expected object, got %s", ErrParse, path, kindOf(value))
	}

	var node Node
	rawType, ok := object["type"]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s: missing field \"type\"", ErrParse, path)
	}
	if node.Type, ok = rawType.(string); !ok {
		return Node{}, fmt.Errorf("%w: %s.type: expected string, got %s", ErrParse, path, kindOf(rawType))
	}

	if rawContent := object["content"]; rawContent != nil {
		items, ok := rawContent.([]any)
		if !ok {
			return Node{}, fmt.Errorf("%w: %s.content: expected array, got %s", ErrParse, path, kindOf(rawContent))
		}
		node.Content = make([]Node, 0, len(items))
		for i, item := range items {
			child, err := nodeFromValue(item, path+".content["+strconv.Itoa(i)+"]", depth+1, maxDepth)
			if err != nil {
				return Node{}, err
			}
			node.Content = append(node.Content, child)
		}
	}

	if rawText := object["text"]; rawText != nil {
		text, ok := rawText.(string)
		if !ok {
			return Node{}, fmt.Errorf("%w: %s.text: expected string, got %s", ErrParse, path, kindOf(rawText))
		}
		node.Text = StringPtr(text)
	}

	if rawAttrs := object["attrs"]; rawAttrs != nil {
		attrs, ok := rawAttrs.(map[string]any)
		if !ok {
			return Node{}, fmt.Errorf("%w: %s.attrs: expected object, got %s", ErrParse, path, kindOf(rawAttrs))
		}
		node.Attrs = attrs
	}

	if rawMarks := object["marks"]; rawMarks != nil {
		marks, ok := rawMarks.([]any)
		if !ok {
			return Node{}, fmt.Errorf("%w: %s.marks: expected array, got %s", ErrParse, path, kindOf(rawMarks))
		}
		node.Marks = marks
	}

	return node, nil
}

func kindOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// Encode writes n as compact JSON with fields in the order type, content,
// text, attrs, marks. HTML characters are not escaped.
func Encode(n Node) ([]byte, error) {
	enc := newNodeEncoder()
	if err := enc.node(&n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return enc.buf.Bytes(), nil
}

// EncodeIndent is Encode followed by json.Indent.
func EncodeIndent(n Node, prefix, indent string) ([]byte, error) {
	compact, err := Encode(n)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, prefix, indent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return out.Bytes(), nil
}

// MarshalJSON implements json.Marshaler.
func (n Node) MarshalJSON() ([]byte, error) {
	return Encode(n)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Node) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*n = decoded
	return nil
}

type nodeEncoder struct {
	buf bytes.Buffer
	enc *json.Encoder
}

func newNodeEncoder() *nodeEncoder {
	e := &nodeEncoder{}
	e.enc = json.NewEncoder(&e.buf)
	e.enc.SetEscapeHTML(false)
	return e
}

// value appends v without the newline json.Encoder adds.
func (e *nodeEncoder) value(v any) error {
	if err := e.enc.Encode(v); err != nil {
		return err
	}
	e.buf.Truncate(e.buf.Len() - 1)
	return nil
}

func (e *nodeEncoder) node(n *Node) error {
	e.buf.WriteString(`{"type":`)
	if err := e.value(n.Type); err != nil {
		return err
	}
	if n.Content != nil {
		e.buf.WriteString(`,"content":[`)
		for i := range n.Content {
			if i > 0 {
				e.buf.WriteByte(',')
			}
			if err := e.node(&n.Content[i]); err != nil {
				return err
			}
		}
		e.buf.WriteByte(']')
	}
	if n.Text != nil {
		e.buf.WriteString(`,"text":`)
		if err := e.value(*n.Text); err != nil {
			return err
		}
	}
	if n.Attrs != nil {
		e.buf.WriteString(`,"attrs":`)
		if err := e.value(n.Attrs); err != nil {
			return fmt.Errorf("attrs of %s node: %w", n.Type, err)
		}
	}
	if n.Marks != nil {
		e.buf.WriteString(`,"marks":`)
		if err := e.value(n.Marks); err != nil {
			return fmt.Errorf("marks of %s node: %w", n.Type, err)
		}
	}
	e.buf.WriteByte('}')
	return nil
}
