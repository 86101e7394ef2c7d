package export

import (
	"context"
	"errors"
	"html/template"
	"strings"
	"testing"
	"time"

	"synkdocs/api/internal/prosemirror"
)

func mustDecode(t *testing.T, raw string) prosemirror.Node {
	t.Helper()
	doc, err := prosemirror.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return doc
}

func TestRenderHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty doc",
			input:    `{"type":"doc","content":[]}`,
			expected: "",
		},
		{
			name:     "simple paragraph",
			input:    `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Hello world"}]}]}`,
			expected: "<p>Hello world</p>",
		},
		{
			name:     "heading with level",
			input:    `{"type":"doc","content":[{"type":"heading","attrs":{"level":2},"content":[{"type":"text","text":"Section Title"}]}]}`,
			expected: "<h2>Section Title</h2>",
		},
		{
			name:     "heading level clamped",
			input:    `{"type":"doc","content":[{"type":"heading","attrs":{"level":9},"content":[{"type":"text","text":"Deep"}]}]}`,
			expected: "<h6>Deep</h6>",
		},
		{
			name:     "bold and italic text",
			input:    `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Bold and italic","marks":[{"type":"bold"},{"type":"italic"}]}]}]}`,
			expected: "<strong><em>Bold and italic</em></strong>",
		},
		{
			name:     "link mark",
			input:    `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"site","marks":[{"type":"link","attrs":{"href":"https://example.com/?a=1&b=2"}}]}]}]}`,
			expected: `<a href="https://example.com/?a=1&amp;b=2">site</a>`,
		},
		{
			name:     "bullet list",
			input:    `{"type":"doc","content":[{"type":"bulletList","content":[{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"Item 1"}]}]}]}]}`,
			expected: "<ul>\n<li><p>Item 1</p>\n</li>\n</ul>",
		},
		{
			name:     "code block",
			input:    `{"type":"doc","content":[{"type":"codeBlock","content":[{"type":"text","text":"if a < b {}"}]}]}`,
			expected: "<pre><code>if a &lt; b {}</code></pre>",
		},
		{
			name:     "image",
			input:    `{"type":"doc","content":[{"type":"image","attrs":{"src":"/a.png","alt":"\"quoted\""}}]}`,
			expected: `<img src="/a.png" alt="&#34;quoted&#34;">`,
		},
		{
			name:     "unknown node renders children",
			input:    `{"type":"doc","content":[{"type":"callout","content":[{"type":"paragraph","content":[{"type":"text","text":"inside"}]}]}]}`,
			expected: "<p>inside</p>",
		},
		{
			name:     "text is escaped",
			input:    `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"<script>"}]}]}`,
			expected: "<p>&lt;script&gt;</p>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := strings.TrimSpace(RenderHTML(mustDecode(t, tt.input)))
			if !strings.Contains(result, tt.expected) {
				t.Errorf("RenderHTML() = %q, want it to contain %q", result, tt.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{"pdf": FormatPDF, " DOCX ": FormatDOCX} {
		got, err := ParseFormat(input)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseFormat("odt"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ParseFormat(odt) error = %v, want %v", err, ErrUnsupportedFormat)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Document v1.2", "My-Document-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "document"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderDocumentHTML(t *testing.T) {
	html, err := RenderDocumentHTML(TemplateData{
		Title:       "Test <Document>",
		ContentHTML: template.HTML("<p>This is the content.</p>"),
		Author:      "Test Author",
		Version:     "abc1234",
		UpdatedAt:   time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}

	for _, want := range []string{"Test &lt;Document&gt;", "Test Author", "Mar 4, 2026", "version abc1234"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "&lt;p&gt;") {
		t.Error("content HTML was escaped")
	}
	if !strings.Contains(html, "<p>This is the content.</p>") {
		t.Error("HTML content should contain unescaped <p> tags")
	}
}

type stubSource struct {
	doc Document
	err error
}

func (s stubSource) LoadExportDocument(_ context.Context, documentID, version string) (Document, error) {
	if s.err != nil {
		return Document{}, s.err
	}
	doc := s.doc
	doc.ID = documentID
	doc.Version = version
	return doc, nil
}

type memoryArchive struct {
	objects map[string][]byte
	types   map[string]string
}

func (a *memoryArchive) Put(_ context.Context, key string, data []byte, contentType string) error {
	a.objects[key] = data
	a.types[key] = contentType
	return nil
}

func (a *memoryArchive) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.local/" + key, nil
}

func captureConverter(captured *string) Converter {
	return func(_ context.Context, html, title string) (*Result, error) {
		*captured = html
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}
}

func TestServiceExport(t *testing.T) {
	source := stubSource{doc: Document{
		Title:  "Quarterly Plan",
		Doc:    mustDecode(t, `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Body text"}]}]}`),
		Author: "Avery",
	}}
	archive := &memoryArchive{objects: map[string][]byte{}, types: map[string]string{}}

	var html string
	svc := NewService(source, archive).WithConverter(FormatPDF, captureConverter(&html))

	result, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Version: "abc1234", Format: FormatPDF})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Quarterly-Plan.pdf" {
		t.Fatalf("Filename = %q", result.Filename)
	}
	if !strings.Contains(html, "<p>Body text</p>") {
		t.Fatalf("converter received unexpected html:\n%s", html)
	}
	wantKey := "exports/doc-1/abc1234/Quarterly-Plan.pdf"
	if result.ArchiveKey != wantKey {
		t.Fatalf("ArchiveKey = %q, want %q", result.ArchiveKey, wantKey)
	}
	if string(archive.objects[wantKey]) != "%PDF" || archive.types[wantKey] != "application/pdf" {
		t.Fatalf("archive not written: %v", archive.types)
	}
	if result.ArchiveURL != "https://objects.local/"+wantKey {
		t.Fatalf("ArchiveURL = %q", result.ArchiveURL)
	}
}

func TestServiceExportWithoutArchive(t *testing.T) {
	var html string
	source := stubSource{doc: Document{Title: "T", Doc: prosemirror.Node{Type: prosemirror.TypeDoc}}}
	svc := NewService(source, nil).WithConverter(FormatDOCX, captureConverter(&html))

	result, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Version: "latest", Format: FormatDOCX})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.ArchiveKey != "" || result.ArchiveURL != "" {
		t.Fatalf("unexpected archive fields: %+v", result)
	}
}

func TestServiceExportErrors(t *testing.T) {
	svc := NewService(stubSource{err: errors.New("boom")}, nil).
		WithConverter(FormatPDF, func(context.Context, string, string) (*Result, error) {
			t.Fatal("converter should not run")
			return nil, nil
		})

	if _, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatPDF}); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("Export() error = %v, want %v", err, ErrContentUnavailable)
	}
	if _, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: "odt"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Export() error = %v, want %v", err, ErrUnsupportedFormat)
	}
}

func TestArchiveKey(t *testing.T) {
	if got := ArchiveKey("doc-1", "", "a.pdf"); got != "exports/doc-1/latest/a.pdf" {
		t.Fatalf("ArchiveKey() = %q", got)
	}
}
