// Package rag orchestrates the query path: embed the question, retrieve
// nearest chunks, build a grounded prompt, generate an answer, and parse
// the trailing citation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillbase/quillbase/engine/cite"
	"github.com/quillbase/quillbase/engine/domain"
	"github.com/quillbase/quillbase/engine/semantic"
	"github.com/quillbase/quillbase/pkg/fn"
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a completion from a system instruction and a user query.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Searcher abstracts nearest-neighbor search over the vector index.
type Searcher interface {
	Query(ctx context.Context, vector []float32, k int) ([]semantic.SearchResult, error)
}

// Options configures the query pipeline.
type Options struct {
	// TopK is how many chunks to retrieve. Results are passed to the
	// generator unfiltered by score; the model decides relevance.
	TopK          int
	SearchTimeout time.Duration
	// RetryWait is the backoff before the single retry on a transient
	// store failure.
	RetryWait time.Duration
}

// DefaultOptions returns the tested defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		SearchTimeout: 5 * time.Second,
		RetryWait:     250 * time.Millisecond,
	}
}

// Source is one retrieved chunk backing the answer.
type Source struct {
	Identifier string  `json:"identifier"`
	Page       int     `json:"page,omitempty"`
	Score      float32 `json:"score"`
}

// Answer is the structured response for one question.
type Answer struct {
	Text     string        `json:"text"`
	Citation cite.Citation `json:"citation"`
	Sources  []Source      `json:"sources"`
}

// Service runs the query pipeline.
type Service struct {
	embed    Embedder
	generate Generator
	search   Searcher
	opts     Options
	logger   *slog.Logger
}

// New creates a query service.
func New(embed Embedder, generate Generator, search Searcher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	return &Service{
		embed:    embed,
		generate: generate,
		search:   search,
		opts:     opts,
		logger:   logger,
	}
}

// Ask answers a question from the indexed corpus. The question is embedded
// with a single call (no retry: embedding failures fail fast), the index is
// queried with at most one retry on transient unavailability, and the
// generated answer has its trailing citation parsed out. A missing or
// malformed citation is not an error; the answer just carries no citation.
func (s *Service) Ask(ctx context.Context, question string) (*Answer, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return nil, err
	}
	s.logger.Info("ask start", "question_len", len(question))

	vector, err := s.embed.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("rag: embed question: %w", errors.Join(domain.ErrEmbeddingUnavailable, err))
	}

	searchCtx := ctx
	if s.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, s.opts.SearchTimeout)
		defer cancel()
	}

	results, err := fn.Retry(searchCtx, fn.RetryOpts{
		MaxAttempts: 2,
		Wait:        s.opts.RetryWait,
		RetryIf: func(err error) bool {
			return errors.Is(err, domain.ErrStoreUnavailable)
		},
	}, func(ctx context.Context) fn.Result[[]semantic.SearchResult] {
		return fn.FromPair(s.search.Query(ctx, vector, s.opts.TopK))
	}).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	s.logger.Info("ask search done", "results", len(results))

	raw, err := s.generate.Generate(ctx, buildSystemPrompt(results), question)
	if err != nil {
		return nil, fmt.Errorf("rag: generate: %w", errors.Join(domain.ErrGenerationUnavailable, err))
	}

	text, citation := cite.Parse(raw)

	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			Identifier: r.Chunk.Source,
			Page:       r.Chunk.Page,
			Score:      r.Score,
		}
	}

	return &Answer{
		Text:     text,
		Citation: citation,
		Sources:  sources,
	}, nil
}
