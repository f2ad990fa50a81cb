package export

import (
	"context"
	"fmt"
	"html/template"
	"log"

	"inkwell/api/internal/richtext"
	"inkwell/api/internal/store"
)

// DataStore is the slice of the document store the exporter needs.
type DataStore interface {
	GetDocument(ctx context.Context, id, ownerID string) (store.Document, error)
}

// Service renders documents into portable formats. The object store is
// optional; when present, every export is also archived as an artifact.
type Service struct {
	store   DataStore
	objects *ObjectStore
	author  func(ctx context.Context, ownerID string) string
}

func NewService(dataStore DataStore, objects *ObjectStore, author func(ctx context.Context, ownerID string) string) *Service {
	return &Service{store: dataStore, objects: objects, author: author}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.store.GetDocument(ctx, req.DocumentID, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	authorName := ""
	if s.author != nil {
		authorName = s.author(ctx, doc.OwnerID)
	}

	body, err := RenderDocumentHTML(TemplateData{
		Title:       doc.Title,
		ContentHTML: template.HTML(richtext.RenderHTML(doc.Content)),
		Author:      authorName,
		UpdatedAt:   doc.UpdatedAt,
		WordCount:   doc.WordCount,
		PageCount:   doc.PageCount,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var result *Result
	switch req.Format {
	case FormatHTML:
		result = &Result{
			Data:     []byte(body),
			Filename: sanitizeFilename(doc.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}
	case FormatPDF:
		result, err = exportPDF(body, doc.Title)
	case FormatDOCX:
		result, err = exportDOCX(body, doc.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
	if err != nil {
		return nil, err
	}

	s.archive(ctx, doc, result)
	return result, nil
}

// archive stores the rendered artifact, best effort. Export succeeds even
// when the object store is down.
func (s *Service) archive(ctx context.Context, doc store.Document, result *Result) {
	if s.objects == nil {
		return
	}
	key := fmt.Sprintf("exports/%s/%s", doc.ID, result.Filename)
	if err := s.objects.Put(ctx, key, result.Data, result.MimeType); err != nil {
		log.Printf("export: archive %s: %v", key, err)
		return
	}
	result.ArtifactKey = key
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	result := ""
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result += string(r)
		case r == ' ':
			result += "-"
		case r == '-', r == '_':
			result += string(r)
		default:
		}
	}
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "document"
	}
	return result
}
