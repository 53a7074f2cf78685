package domain

import (
	"fmt"
	"strings"
)

// ValidateIngest checks an ingestion request before the pipeline runs.
func ValidateIngest(kind SourceKind, payload []byte, origin string) error {
	if !ValidKinds[kind] {
		return fmt.Errorf("validate: kind %q: %w", kind, ErrUnsupportedKind)
	}
	if len(payload) == 0 {
		return &ExtractionError{Kind: kind, Origin: origin, Chars: 0, Wrapped: ErrEmptyExtraction}
	}
	return nil
}

// ValidateQuestion checks a user question before the query pipeline runs.
func ValidateQuestion(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("validate: empty question: %w", ErrInvalidArgument)
	}
	return nil
}

// ValidateChunk enforces the chunk invariants at the indexing boundary.
func ValidateChunk(c Chunk) error {
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("validate: empty chunk content: %w", ErrInvalidArgument)
	}
	if c.Source == "" {
		return fmt.Errorf("validate: chunk without source: %w", ErrInvalidArgument)
	}
	if !ValidKinds[c.Kind] {
		return fmt.Errorf("validate: chunk kind %q: %w", c.Kind, ErrUnsupportedKind)
	}
	if c.Page < 0 {
		return fmt.Errorf("validate: negative page %d: %w", c.Page, ErrInvalidArgument)
	}
	return nil
}
