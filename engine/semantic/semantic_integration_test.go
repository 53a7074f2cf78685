//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillbase/quillbase/engine/domain"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_ADDR"); v != "" {
		return v
	}
	return "localhost:6334"
}

func liveStore(t *testing.T, collection string) *VectorStore {
	t.Helper()
	vs, err := New(qdrantAddr(), collection, 4)
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		vs.DeleteCollection(context.Background())
		vs.Close()
	})
	return vs
}

func TestQdrant_EnsureCollectionIdempotent(t *testing.T) {
	vs := liveStore(t, "quill_test_ensure")
	ctx := context.Background()

	require.NoError(t, vs.EnsureCollection(ctx))
	require.NoError(t, vs.EnsureCollection(ctx))
}

func TestQdrant_UpsertAndQuery(t *testing.T) {
	vs := liveStore(t, "quill_test_upsert_query")
	ctx := context.Background()

	require.NoError(t, vs.EnsureCollection(ctx))

	created := time.Now().UTC().Truncate(time.Second)
	chunks := []domain.Chunk{
		{Content: "oil change interval", Source: "manual.pdf", Kind: domain.KindPDF, Page: 12, CreatedAt: created},
		{Content: "brake pad wear", Source: "https://example.com/brakes", Kind: domain.KindWeb, CreatedAt: created},
		{Content: "oil filter part number", Source: domain.UserInputSource, Kind: domain.KindText, CreatedAt: created},
	}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}
	require.NoError(t, vs.Upsert(ctx, chunks, vectors))

	got, err := vs.Query(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "manual.pdf", got[0].Chunk.Source)
	require.Equal(t, 12, got[0].Chunk.Page)
	require.Equal(t, domain.UserInputSource, got[1].Chunk.Source)
}

func TestQdrant_ReupsertOverwrites(t *testing.T) {
	vs := liveStore(t, "quill_test_reupsert")
	ctx := context.Background()

	require.NoError(t, vs.EnsureCollection(ctx))

	created := time.Now().UTC().Truncate(time.Second)
	chunks := []domain.Chunk{
		{Content: "same chunk", Source: "a.txt", Kind: domain.KindText, CreatedAt: created},
	}
	vectors := [][]float32{{0, 0, 1, 0}}
	require.NoError(t, vs.Upsert(ctx, chunks, vectors))
	require.NoError(t, vs.Upsert(ctx, chunks, vectors))

	got, err := vs.Query(ctx, []float32{0, 0, 1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
