// Package ingest runs the write path: normalize a payload into chunks,
// embed them, and upsert the vectors into the index. It is exposed both
// synchronously (HTTP upload) and as a NATS consumer with retry and DLQ.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillbase/quillbase/engine/domain"
	"github.com/quillbase/quillbase/engine/normalize"
	"github.com/quillbase/quillbase/pkg/fn"
	"github.com/quillbase/quillbase/pkg/resilience"
)

const (
	// Subject carries ingestion requests for the async worker.
	Subject = "quill.ingest"
	// DLQSubject receives requests that exhausted their retries.
	DLQSubject = "quill.ingest.dlq"
	// MaxRetries before a failed request is parked on the DLQ.
	MaxRetries = 3
	// embedWorkers bounds concurrent embedding calls per request.
	embedWorkers = 4
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store writes chunk vectors into the index.
type Store interface {
	Upsert(ctx context.Context, chunks []domain.Chunk, embeddings [][]float32) error
}

// Options configures the ingestion pipeline.
type Options struct {
	// RetryWait is the backoff before the single retry on a transient
	// store failure.
	RetryWait time.Duration
}

// Service runs the ingestion pipeline.
type Service struct {
	pipeline fn.Stage[Request, Report]
	logger   *slog.Logger
}

// New wires the pipeline stages. limiter may be nil to disable
// embedding-rate limiting.
func New(embedder Embedder, store Store, limiter *resilience.Limiter, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 250 * time.Millisecond
	}

	embed := newEmbedStage(embedder, limiter)
	storeStage := fn.RetryStage(fn.RetryOpts{
		MaxAttempts: 2,
		Wait:        opts.RetryWait,
		RetryIf: func(err error) bool {
			return errors.Is(err, domain.ErrStoreUnavailable)
		},
	}, newStoreStage(store))

	pipeline := fn.Then(
		fn.Traced("ingest.normalize", normalizeStage),
		fn.Then(
			fn.Traced("ingest.embed", embed),
			fn.Traced("ingest.store", storeStage),
		),
	)

	return &Service{pipeline: pipeline, logger: logger}
}

// Ingest runs one request through the pipeline. On a partial upsert
// failure the report still counts the chunks that made it in, and the
// returned error is the *domain.UpsertError naming the rest.
func (s *Service) Ingest(ctx context.Context, req Request) (Report, error) {
	report, err := s.pipeline(ctx, req).Unwrap()
	if err != nil {
		var ue *domain.UpsertError
		if errors.As(err, &ue) {
			report.Chunks = ue.Total
			report.Indexed = ue.Total - len(ue.FailedIndexes)
			report.Failed = ue.FailedIndexes
		}
		s.logger.Error("ingest failed", "kind", req.Kind, "origin", req.Origin, "error", err)
		return report, err
	}
	s.logger.Info("ingest done", "kind", req.Kind, "origin", req.Origin, "chunks", report.Chunks)
	return report, nil
}

// normalizeStage is pure: no network, no storage.
var normalizeStage fn.Stage[Request, []domain.Chunk] = func(_ context.Context, req Request) fn.Result[[]domain.Chunk] {
	return fn.FromPair(normalize.Normalize(req.Kind, req.Payload, req.Origin))
}

func newEmbedStage(embedder Embedder, limiter *resilience.Limiter) fn.Stage[[]domain.Chunk, embedded] {
	// Each chunk waits for a limiter token, so one large PDF cannot flood
	// the embedding backend.
	one := resilience.LimitStage(limiter, func(ctx context.Context, c domain.Chunk) fn.Result[[]float32] {
		return fn.FromPair(embedder.Embed(ctx, c.Content))
	})
	return func(ctx context.Context, chunks []domain.Chunk) fn.Result[embedded] {
		results := fn.ParMapResult(chunks, embedWorkers, func(c domain.Chunk) fn.Result[[]float32] {
			return one(ctx, c)
		})
		vectors, err := fn.Collect(results).Unwrap()
		if err != nil {
			return fn.Err[embedded](fmt.Errorf("ingest: embed: %w", errors.Join(domain.ErrEmbeddingUnavailable, err)))
		}
		return fn.Ok(embedded{chunks: chunks, vectors: vectors})
	}
}

func newStoreStage(store Store) fn.Stage[embedded, Report] {
	return func(ctx context.Context, e embedded) fn.Result[Report] {
		if err := store.Upsert(ctx, e.chunks, e.vectors); err != nil {
			return fn.Err[Report](fmt.Errorf("ingest: store: %w", err))
		}
		return fn.Ok(Report{Chunks: len(e.chunks), Indexed: len(e.chunks)})
	}
}

// retryable reports whether re-running the request could help. User
// errors and schema mismatches never resolve on their own.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrUnsupportedKind),
		errors.Is(err, domain.ErrEmptyExtraction),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrSchemaMismatch):
		return false
	}
	return true
}
