// Package normalize converts acquired inputs (raw text, PDF, CSV, web pages)
// into uniform chunks ready for embedding and indexing. It is a pure
// transformation: no network, no storage.
package normalize

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/quillbase/quillbase/engine/domain"
)

// Normalize maps a payload of the given kind to one or more chunks.
//
// Text input becomes a single chunk attributed to user input. CSV files are
// deliberately kept as one chunk: row-level splitting loses cross-row
// context. Web pages are stripped of markup into one chunk per page. PDFs
// yield one chunk per extracted page, never merged or split further.
//
// Fails with domain.ErrUnsupportedKind for an unknown kind and with
// domain.ErrEmptyExtraction (wrapped in *domain.ExtractionError) when
// extraction produces no non-whitespace content.
func Normalize(kind domain.SourceKind, payload []byte, origin string) ([]domain.Chunk, error) {
	if err := domain.ValidateIngest(kind, payload, origin); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	switch kind {
	case domain.KindText:
		return textChunks(payload, now)
	case domain.KindCSV:
		return csvChunks(payload, origin, now)
	case domain.KindWeb:
		return webChunks(payload, origin, now)
	case domain.KindPDF, domain.KindWebPDF:
		return pdfChunks(kind, payload, origin, now)
	default:
		return nil, fmt.Errorf("normalize: kind %q: %w", kind, domain.ErrUnsupportedKind)
	}
}

func textChunks(payload []byte, now time.Time) ([]domain.Chunk, error) {
	content := strings.TrimSpace(string(payload))
	if content == "" {
		return nil, &domain.ExtractionError{Kind: domain.KindText, Origin: domain.UserInputSource, Wrapped: domain.ErrEmptyExtraction}
	}
	return []domain.Chunk{{
		Content:   content,
		Source:    domain.UserInputSource,
		Kind:      domain.KindText,
		CreatedAt: now,
	}}, nil
}

func csvChunks(payload []byte, origin string, now time.Time) ([]domain.Chunk, error) {
	content := strings.TrimSpace(string(payload))
	if content == "" {
		return nil, &domain.ExtractionError{Kind: domain.KindCSV, Origin: origin, Wrapped: domain.ErrEmptyExtraction}
	}
	return []domain.Chunk{{
		Content:   content,
		Source:    fileSource(origin),
		Kind:      domain.KindCSV,
		CreatedAt: now,
	}}, nil
}

func webChunks(payload []byte, origin string, now time.Time) ([]domain.Chunk, error) {
	content := StripHTML(string(payload))
	if content == "" {
		return nil, &domain.ExtractionError{Kind: domain.KindWeb, Origin: origin, Chars: 0, Wrapped: domain.ErrEmptyExtraction}
	}
	return []domain.Chunk{{
		Content:   content,
		Source:    origin, // the URL, kept verbatim
		Kind:      domain.KindWeb,
		CreatedAt: now,
	}}, nil
}

func pdfChunks(kind domain.SourceKind, payload []byte, origin string, now time.Time) ([]domain.Chunk, error) {
	pages, err := extractPDFPages(payload)
	if err != nil {
		return nil, &domain.ExtractionError{Kind: kind, Origin: origin, Wrapped: domain.ErrEmptyExtraction}
	}

	source := origin
	if kind == domain.KindPDF {
		source = fileSource(origin)
	}

	chunks := make([]domain.Chunk, 0, len(pages))
	extracted := 0
	for i, text := range pages {
		text = strings.TrimSpace(text)
		extracted += len(text)
		if text == "" {
			continue // blank page, keep original numbering for the rest
		}
		chunks = append(chunks, domain.Chunk{
			Content:   text,
			Source:    source,
			Kind:      kind,
			Page:      i + 1,
			CreatedAt: now,
		})
	}
	if len(chunks) == 0 {
		return nil, &domain.ExtractionError{Kind: kind, Origin: origin, Chars: extracted, Wrapped: domain.ErrEmptyExtraction}
	}
	return chunks, nil
}

// fileSource reduces an upload path to the bare filename the citation
// contract expects, stripping the upload-time uniqueness prefix here rather
// than at parse time.
func fileSource(origin string) string {
	base := filepath.Base(strings.ReplaceAll(origin, `\`, "/"))
	if i := strings.IndexByte(base, '-'); i > 0 && allDigits(base[:i]) && i+1 < len(base) {
		base = base[i+1:]
	}
	return base
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
