package prosemirror

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
)

// FormatterVersion is reported to callers for compatibility checks.
const FormatterVersion = "1.0.0"

const (
	minHeadingLevel     = 1
	maxHeadingLevel     = 6
	defaultHeadingLevel = 2
)

// Version returns the formatter version.
func Version() string {
	return FormatterVersion
}

// Options tunes a Formatter. The zero value imposes no depth limit.
type Options struct {
	// MaxDepth bounds node nesting (the doc is depth 1). Zero means unbounded.
	MaxDepth int
}

// Diagnostic describes an input the formatter accepted but silently changed.
type Diagnostic struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Stats summarizes one formatting pass.
type Stats struct {
	Nodes              int          `json:"nodes"`
	TextCollapsed      int          `json:"textCollapsed"`
	TextDropped        int          `json:"textDropped"`
	HeadingsNormalized int          `json:"headingsNormalized"`
	HeadingsDropped    int          `json:"headingsDropped"`
	ImagesDropped      int          `json:"imagesDropped"`
	Diagnostics        []Diagnostic `json:"diagnostics,omitempty"`
}

// Changed reports whether the pass altered the tree.
func (s Stats) Changed() bool {
	return s.TextCollapsed+s.TextDropped+s.HeadingsNormalized+s.HeadingsDropped+s.ImagesDropped > 0
}

// Formatter canonicalizes documents. It holds no mutable state and is safe
// for concurrent use.
type Formatter struct {
	opts Options
}

// New returns a Formatter with the given options.
func New(opts Options) *Formatter {
	return &Formatter{opts: opts}
}

var defaultFormatter = New(Options{})

// Format decodes a JSON document, canonicalizes it and re-encodes it.
func Format(input []byte) ([]byte, error) {
	return defaultFormatter.Format(input)
}

// FormatNode canonicalizes an in-memory doc. The input tree is not modified.
func FormatNode(doc Node) (Node, error) {
	return defaultFormatter.FormatNode(doc)
}

// Format decodes a JSON document, canonicalizes it and re-encodes it.
func (f *Formatter) Format(input []byte) ([]byte, error) {
	out, _, err := f.FormatWithStats(input)
	return out, err
}

// FormatWithStats is Format that also reports what the pass changed.
func (f *Formatter) FormatWithStats(input []byte) ([]byte, Stats, error) {
	var stats Stats
	doc, err := decode(input, f.opts.MaxDepth)
	if err != nil {
		return nil, stats, err
	}
	formatted, err := f.formatNode(doc, &stats)
	if err != nil {
		return nil, stats, err
	}
	encoded, err := Encode(formatted)
	if err != nil {
		return nil, stats, err
	}
	return encoded, stats, nil
}

// FormatNode canonicalizes an in-memory doc. The input tree is not modified.
func (f *Formatter) FormatNode(doc Node) (Node, error) {
	return f.formatNode(doc, nil)
}

func (f *Formatter) formatNode(doc Node, stats *Stats) (Node, error) {
	if doc.Type != TypeDoc {
		return Node{}, fmt.Errorf("%w: root node must be of type %q, got %q", ErrValidation, TypeDoc, doc.Type)
	}
	if stats != nil {
		stats.Nodes++
	}
	if doc.Content == nil {
		return doc, nil
	}
	p := pass{maxDepth: f.opts.MaxDepth, stats: stats}
	content, err := p.content(doc.Content, "$", 2)
	if err != nil {
		return Node{}, err
	}
	doc.Content = content
	return doc, nil
}

// ProcessContent runs the normalize-and-filter pass over a sibling sequence
// without a depth bound. Survivors keep their relative order.
func ProcessContent(nodes []Node) []Node {
	out, _ := pass{}.content(nodes, "", 0)
	return out
}

type pass struct {
	maxDepth int
	stats    *Stats
}

func (p pass) content(nodes []Node, parentPath string, depth int) ([]Node, error) {
	if p.maxDepth > 0 && depth > p.maxDepth && len(nodes) > 0 {
		return nil, fmt.Errorf("%w: %s has children deeper than %d", ErrDepthExceeded, parentPath, p.maxDepth)
	}

	kept := make([]Node, 0, len(nodes))
	for i, node := range nodes {
		var path string
		if p.stats != nil {
			p.stats.Nodes++
			path = parentPath + ".content[" + strconv.Itoa(i) + "]"
		}

		if node.Type == TypeText {
			collapsed := CollapseSpaces(node.TextValue())
			if collapsed == "" {
				p.count(func(s *Stats) { s.TextDropped++ })
				continue
			}
			if node.Text == nil || collapsed != *node.Text {
				p.count(func(s *Stats) { s.TextCollapsed++ })
				node.Text = StringPtr(collapsed)
			}
			kept = append(kept, node)
			continue
		}

		if node.Type == TypeHeading {
			attrs, outcome := normalizeHeadingAttrs(node.Attrs)
			node.Attrs = attrs
			if outcome != levelKept {
				p.count(func(s *Stats) { s.HeadingsNormalized++ })
			}
			if outcome == levelCoerced {
				p.count(func(s *Stats) {
					s.Diagnostics = append(s.Diagnostics, Diagnostic{
						Path:    path + ".attrs.level",
						Message: fmt.Sprintf("non-integer heading level replaced with %d", defaultHeadingLevel),
					})
				})
			}
		}

		if node.Content != nil {
			children, err := p.content(node.Content, path, depth+1)
			if err != nil {
				return nil, err
			}
			node.Content = children
		}

		if !IsValid(node) {
			switch node.Type {
			case TypeHeading:
				p.count(func(s *Stats) { s.HeadingsDropped++ })
			case TypeImage:
				p.count(func(s *Stats) { s.ImagesDropped++ })
			}
			continue
		}
		kept = append(kept, node)
	}
	return kept, nil
}

func (p pass) count(update func(*Stats)) {
	if p.stats != nil {
		update(p.stats)
	}
}

// CollapseSpaces replaces every run of two or more U+0020 characters with a
// single space. Tabs, newlines and other whitespace are left untouched and
// nothing is trimmed.
func CollapseSpaces(text string) string {
	if !strings.Contains(text, "  ") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	previousSpace := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' {
			if previousSpace {
				continue
			}
			previousSpace = true
		} else {
			previousSpace = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

type levelOutcome int

const (
	levelKept levelOutcome = iota
	levelClamped
	levelDefaulted
	levelCoerced
)

// NormalizeHeadingAttrs returns heading attrs whose level is an integer in
// [1,6]. Absent attrs become {level: 2}; a missing or non-integer level is
// treated as 2. Other keys pass through. The input map is not modified.
func NormalizeHeadingAttrs(attrs map[string]any) map[string]any {
	out, _ := normalizeHeadingAttrs(attrs)
	return out
}

func normalizeHeadingAttrs(attrs map[string]any) (map[string]any, levelOutcome) {
	if attrs == nil {
		return map[string]any{"level": levelValue(defaultHeadingLevel)}, levelDefaulted
	}

	raw, present := attrs["level"]
	level, integer := integerLevel(raw)
	outcome := levelKept
	switch {
	case !present:
		level, outcome = defaultHeadingLevel, levelDefaulted
	case !integer:
		level, outcome = defaultHeadingLevel, levelCoerced
	}
	clamped := min(max(level, minHeadingLevel), maxHeadingLevel)
	if clamped != level && outcome == levelKept {
		outcome = levelClamped
	}

	next := levelValue(clamped)
	if current, ok := raw.(json.Number); ok && current == next {
		return attrs, outcome
	}
	out := maps.Clone(attrs)
	out["level"] = next
	return out, outcome
}

// HeadingLevel returns the level a heading with these attrs renders at.
func HeadingLevel(attrs map[string]any) int {
	level, _ := integerLevel(NormalizeHeadingAttrs(attrs)["level"])
	return int(level)
}

func levelValue(level int64) json.Number {
	return json.Number(strconv.FormatInt(level, 10))
}

// integerLevel reports the integer value of a decoded level. Wire numbers
// with a fraction or exponent are not integers. Integral float64 values are
// accepted for trees built in memory.
func integerLevel(value any) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

// IsValid is the keep/drop rule applied after a node's subtree is processed.
func IsValid(n Node) bool {
	switch n.Type {
	case TypeParagraph:
		return true
	case TypeHeading:
		return len(n.Content) > 0
	case TypeImage:
		return n.Attrs != nil
	default:
		return true
	}
}
