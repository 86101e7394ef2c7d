// Package export renders canonical documents to PDF and DOCX.
package export

import (
	"errors"
	"strings"
	"time"

	"synkdocs/api/internal/prosemirror"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation
type Request struct {
	DocumentID string
	Version    string // "latest" or commit hash
	Format     Format
}

// Document is the canonical content handed to the renderer
type Document struct {
	ID        string
	Title     string
	Doc       prosemirror.Node
	Author    string
	Version   string
	UpdatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data       []byte
	Filename   string
	MimeType   string
	ArchiveKey string
	ArchiveURL string
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrUnsupportedFormat indicates the requested format has no converter.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

// ParseFormat accepts "pdf" or "docx", case-insensitively.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

