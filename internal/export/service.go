package export

import (
	"context"
	"fmt"
	"html/template"
	"path"
	"time"
)

// ContentSource loads the canonical document for a version ("latest" or a
// commit hash).
type ContentSource interface {
	LoadExportDocument(ctx context.Context, documentID, version string) (Document, error)
}

// Archive stores rendered exports. It is optional.
type Archive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Converter turns rendered HTML into a downloadable file
type Converter func(ctx context.Context, html, title string) (*Result, error)

const archiveLinkTTL = 24 * time.Hour

// Service provides document export functionality
type Service struct {
	source     ContentSource
	archive    Archive
	converters map[Format]Converter
}

// NewService creates an export service using chromedp for PDF and pandoc for
// DOCX. archive may be nil.
func NewService(source ContentSource, archive Archive) *Service {
	return &Service{
		source:  source,
		archive: archive,
		converters: map[Format]Converter{
			FormatPDF:  exportPDF,
			FormatDOCX: exportDOCX,
		},
	}
}

// WithConverter replaces the converter for a format.
func (s *Service) WithConverter(format Format, converter Converter) *Service {
	s.converters[format] = converter
	return s
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	convert, ok := s.converters[req.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	doc, err := s.source.LoadExportDocument(ctx, req.DocumentID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContentUnavailable, err)
	}

	html, err := RenderDocumentHTML(TemplateData{
		Title:       doc.Title,
		ContentHTML: template.HTML(RenderHTML(doc.Doc)),
		Author:      doc.Author,
		Version:     doc.Version,
		UpdatedAt:   doc.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	result, err := convert(ctx, html, doc.Title)
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		key := ArchiveKey(doc.ID, doc.Version, result.Filename)
		if err := s.archive.Put(ctx, key, result.Data, result.MimeType); err != nil {
			return nil, fmt.Errorf("archive export: %w", err)
		}
		result.ArchiveKey = key
		url, err := s.archive.PresignGet(ctx, key, archiveLinkTTL)
		if err != nil {
			return nil, fmt.Errorf("presign export: %w", err)
		}
		result.ArchiveURL = url
	}
	return result, nil
}

// ArchiveKey is the object key an export is stored under
func ArchiveKey(documentID, version, filename string) string {
	if version == "" {
		version = "latest"
	}
	return path.Join("exports", documentID, version, filename)
}
