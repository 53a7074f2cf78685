package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the pipeline error taxonomy.
//
// ErrUnsupportedKind and ErrEmptyExtraction are user input problems and are
// never retried. ErrEmbeddingUnavailable, ErrGenerationUnavailable and
// ErrStoreUnavailable are transient infrastructure problems; only store
// unavailability is retried, at most once. ErrSchemaMismatch is a fatal
// configuration error and must halt further indexing into the collection.
var (
	ErrUnsupportedKind       = errors.New("unsupported source kind")
	ErrEmptyExtraction       = errors.New("extraction yielded no content")
	ErrEmbeddingUnavailable  = errors.New("embedding service unavailable")
	ErrGenerationUnavailable = errors.New("generation service unavailable")
	ErrStoreUnavailable      = errors.New("vector store unavailable")
	ErrSchemaMismatch        = errors.New("vector dimensionality mismatch")
	ErrInvalidArgument       = errors.New("invalid argument")
)

// ExtractionError reports a normalization failure with enough detail to
// diagnose without retrying: the offending kind and how many characters
// extraction produced before being rejected.
type ExtractionError struct {
	Kind    SourceKind
	Origin  string
	Chars   int
	Wrapped error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("normalize %s %q: %s (extracted %d chars)", e.Kind, e.Origin, e.Wrapped, e.Chars)
}

func (e *ExtractionError) Unwrap() error { return e.Wrapped }

// UpsertError reports a partially failed upsert. FailedIndexes lists the
// positions, within the submitted batch of Total chunks, that were not
// written; all other positions are durably stored.
type UpsertError struct {
	Total         int
	FailedIndexes []int
	Wrapped       error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert: %d of %d failed (indexes %v): %s", len(e.FailedIndexes), e.Total, e.FailedIndexes, e.Wrapped)
}

func (e *UpsertError) Unwrap() error { return e.Wrapped }
