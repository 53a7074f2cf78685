package semantic

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/quillbase/quillbase/engine/domain"
)

type mockPoints struct {
	upsertFn func(in *pb.UpsertPoints) (*pb.PointsOperationResponse, error)
	searchFn func(in *pb.SearchPoints) (*pb.SearchResponse, error)
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	if m.upsertFn == nil {
		return &pb.PointsOperationResponse{}, nil
	}
	return m.upsertFn(in)
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	if m.searchFn == nil {
		return &pb.SearchResponse{}, nil
	}
	return m.searchFn(in)
}

type mockCollections struct {
	existsFn func(in *pb.CollectionExistsRequest) (*pb.CollectionExistsResponse, error)
	createFn func(in *pb.CreateCollection) (*pb.CollectionOperationResponse, error)
	deleteFn func(in *pb.DeleteCollection) (*pb.CollectionOperationResponse, error)
}

func (m *mockCollections) CollectionExists(_ context.Context, in *pb.CollectionExistsRequest, _ ...grpc.CallOption) (*pb.CollectionExistsResponse, error) {
	if m.existsFn == nil {
		return &pb.CollectionExistsResponse{Result: &pb.CollectionExists{Exists: false}}, nil
	}
	return m.existsFn(in)
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	if m.createFn == nil {
		return &pb.CollectionOperationResponse{}, nil
	}
	return m.createFn(in)
}

func (m *mockCollections) Delete(_ context.Context, in *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	if m.deleteFn == nil {
		return &pb.CollectionOperationResponse{}, nil
	}
	return m.deleteFn(in)
}

func newTestStore(t *testing.T, points *mockPoints, collections *mockCollections) *VectorStore {
	t.Helper()
	vs, err := NewWithClients(points, collections, "quill-test", 4)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, vs.Close()) })
	return vs
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New("localhost:6334", "", 4)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = New("localhost:6334", "c", 0)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = NewWithClients(&mockPoints{}, &mockCollections{}, "", 4)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestEnsureCollectionSkipsCreateWhenPresent(t *testing.T) {
	var creates int32
	cols := &mockCollections{
		existsFn: func(*pb.CollectionExistsRequest) (*pb.CollectionExistsResponse, error) {
			return &pb.CollectionExistsResponse{Result: &pb.CollectionExists{Exists: true}}, nil
		},
		createFn: func(*pb.CreateCollection) (*pb.CollectionOperationResponse, error) {
			atomic.AddInt32(&creates, 1)
			return &pb.CollectionOperationResponse{}, nil
		},
	}
	vs := newTestStore(t, &mockPoints{}, cols)

	require.NoError(t, vs.EnsureCollection(context.Background()))
	require.Zero(t, atomic.LoadInt32(&creates))
}

func TestEnsureCollectionCreatesWithDeclaredDims(t *testing.T) {
	var got *pb.CreateCollection
	cols := &mockCollections{
		createFn: func(in *pb.CreateCollection) (*pb.CollectionOperationResponse, error) {
			got = in
			return &pb.CollectionOperationResponse{}, nil
		},
	}
	vs := newTestStore(t, &mockPoints{}, cols)

	require.NoError(t, vs.EnsureCollection(context.Background()))
	require.NotNil(t, got)
	require.Equal(t, "quill-test", got.GetCollectionName())
	require.Equal(t, uint64(4), got.GetVectorsConfig().GetParams().GetSize())
	require.Equal(t, pb.Distance_Cosine, got.GetVectorsConfig().GetParams().GetDistance())
}

func TestEnsureCollectionToleratesLostCreationRace(t *testing.T) {
	cols := &mockCollections{
		createFn: func(*pb.CreateCollection) (*pb.CollectionOperationResponse, error) {
			return nil, status.Error(codes.AlreadyExists, "collection `quill-test` already exists")
		},
	}
	vs := newTestStore(t, &mockPoints{}, cols)

	require.NoError(t, vs.EnsureCollection(context.Background()))
}

func TestEnsureCollectionConcurrentFirstBoot(t *testing.T) {
	// Several processes booting against an empty Qdrant must end up with one
	// physical collection and no caller seeing an error.
	var created int32
	cols := &mockCollections{
		createFn: func(*pb.CreateCollection) (*pb.CollectionOperationResponse, error) {
			if !atomic.CompareAndSwapInt32(&created, 0, 1) {
				return nil, status.Error(codes.AlreadyExists, "collection `quill-test` already exists")
			}
			return &pb.CollectionOperationResponse{}, nil
		},
	}
	vs := newTestStore(t, &mockPoints{}, cols)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = vs.EnsureCollection(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&created))
}

func TestEnsureCollectionMapsUnavailable(t *testing.T) {
	cols := &mockCollections{
		existsFn: func(*pb.CollectionExistsRequest) (*pb.CollectionExistsResponse, error) {
			return nil, status.Error(codes.Unavailable, "connection refused")
		},
	}
	vs := newTestStore(t, &mockPoints{}, cols)

	require.ErrorIs(t, vs.EnsureCollection(context.Background()), domain.ErrStoreUnavailable)
}

func TestQueryRejectsNonPositiveK(t *testing.T) {
	vs := newTestStore(t, &mockPoints{}, &mockCollections{})
	_, err := vs.Query(context.Background(), []float32{1, 2, 3, 4}, 0)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = vs.Query(context.Background(), []float32{1, 2, 3, 4}, -3)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestQueryRejectsWrongDimensionality(t *testing.T) {
	vs := newTestStore(t, &mockPoints{}, &mockCollections{})
	_, err := vs.Query(context.Background(), []float32{1, 2}, 5)
	require.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestQueryMapsScoredPoints(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	pts := &mockPoints{
		searchFn: func(in *pb.SearchPoints) (*pb.SearchResponse, error) {
			if got := in.GetLimit(); got != 3 {
				return nil, status.Errorf(codes.InvalidArgument, "limit %d", got)
			}
			return &pb.SearchResponse{Result: []*pb.ScoredPoint{
				{
					Score: 0.92,
					Payload: chunkPayload(domain.Chunk{
						Content: "page text", Source: "report.pdf", Kind: domain.KindPDF, Page: 7, CreatedAt: created,
					}),
				},
				{
					Score: 0.48,
					Payload: chunkPayload(domain.Chunk{
						Content: "pasted", Source: domain.UserInputSource, Kind: domain.KindText, CreatedAt: created,
					}),
				},
			}}, nil
		},
	}
	vs := newTestStore(t, pts, &mockCollections{})

	got, err := vs.Query(context.Background(), []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "report.pdf", got[0].Chunk.Source)
	require.Equal(t, 7, got[0].Chunk.Page)
	require.Equal(t, float32(0.92), got[0].Score)
	require.Equal(t, domain.UserInputSource, got[1].Chunk.Source)
}

func TestQueryEmptyCollection(t *testing.T) {
	vs := newTestStore(t, &mockPoints{}, &mockCollections{})
	got, err := vs.Query(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestQueryMapsUnavailable(t *testing.T) {
	pts := &mockPoints{
		searchFn: func(*pb.SearchPoints) (*pb.SearchResponse, error) {
			return nil, status.Error(codes.Unavailable, "connection refused")
		},
	}
	vs := newTestStore(t, pts, &mockCollections{})

	_, err := vs.Query(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestUpsertRejectsDimensionMismatchBeforeWriting(t *testing.T) {
	var calls int32
	pts := &mockPoints{
		upsertFn: func(*pb.UpsertPoints) (*pb.PointsOperationResponse, error) {
			atomic.AddInt32(&calls, 1)
			return &pb.PointsOperationResponse{}, nil
		},
	}
	vs := newTestStore(t, pts, &mockCollections{})
	chunks := []domain.Chunk{
		{Content: "a", Source: "a.txt", Kind: domain.KindText, CreatedAt: time.Now()},
	}
	err := vs.Upsert(context.Background(), chunks, [][]float32{{1, 2}})
	require.ErrorIs(t, err, domain.ErrSchemaMismatch)
	require.Zero(t, atomic.LoadInt32(&calls))
}

func TestUpsertRejectsLengthMismatch(t *testing.T) {
	vs := newTestStore(t, &mockPoints{}, &mockCollections{})
	err := vs.Upsert(context.Background(), []domain.Chunk{{Content: "a"}}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpsertEmptyBatchIsNoop(t *testing.T) {
	vs := newTestStore(t, &mockPoints{}, &mockCollections{})
	require.NoError(t, vs.Upsert(context.Background(), nil, nil))
}

func TestUpsertSplitsIntoBatches(t *testing.T) {
	var sizes []int
	pts := &mockPoints{
		upsertFn: func(in *pb.UpsertPoints) (*pb.PointsOperationResponse, error) {
			sizes = append(sizes, len(in.GetPoints()))
			return &pb.PointsOperationResponse{}, nil
		},
	}
	vs := newTestStore(t, pts, &mockCollections{})

	chunks, vectors := testBatch(150)
	require.NoError(t, vs.Upsert(context.Background(), chunks, vectors))
	require.Equal(t, []int{64, 64, 22}, sizes)
}

func TestUpsertReportsFailedBatchIndexes(t *testing.T) {
	var call int32
	pts := &mockPoints{
		upsertFn: func(*pb.UpsertPoints) (*pb.PointsOperationResponse, error) {
			if atomic.AddInt32(&call, 1) == 2 {
				return nil, status.Error(codes.Unavailable, "connection refused")
			}
			return &pb.PointsOperationResponse{}, nil
		},
	}
	vs := newTestStore(t, pts, &mockCollections{})

	chunks, vectors := testBatch(100)
	err := vs.Upsert(context.Background(), chunks, vectors)

	var ue *domain.UpsertError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, 100, ue.Total)
	require.Len(t, ue.FailedIndexes, 36)
	require.Equal(t, 64, ue.FailedIndexes[0])
	require.Equal(t, 99, ue.FailedIndexes[len(ue.FailedIndexes)-1])
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func testBatch(n int) ([]domain.Chunk, [][]float32) {
	chunks := make([]domain.Chunk, n)
	vectors := make([][]float32, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			Content:   "chunk",
			Source:    "corpus.txt",
			Kind:      domain.KindText,
			CreatedAt: time.Unix(int64(i), 0),
		}
		vectors[i] = []float32{1, 0, 0, 0}
	}
	return chunks, vectors
}

func TestChunkPayloadRoundTrip(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	in := domain.Chunk{
		Content:   "page text",
		Source:    "report.pdf",
		Kind:      domain.KindPDF,
		Page:      7,
		CreatedAt: created,
	}
	out := chunkFromPayload(chunkPayload(in))
	require.Equal(t, in, out)
}

func TestChunkPayloadOmitsPageForUnpaginated(t *testing.T) {
	in := domain.Chunk{Content: "x", Source: domain.UserInputSource, Kind: domain.KindText, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	p := chunkPayload(in)
	_, ok := p[payloadPage]
	require.False(t, ok)
	require.Zero(t, chunkFromPayload(p).Page)
}

func TestPointIDDeterministic(t *testing.T) {
	ts := time.Now()
	a := domain.Chunk{Content: "same", Source: "a.txt", Kind: domain.KindText, CreatedAt: ts}
	b := domain.Chunk{Content: "same", Source: "a.txt", Kind: domain.KindText, CreatedAt: ts}
	require.Equal(t, pointID(a), pointID(b))
}

func TestPointIDSeparatesReingestedContent(t *testing.T) {
	// Identical text ingested twice (distinct timestamps) stays independent:
	// the design deliberately does not dedupe by content.
	a := domain.Chunk{Content: "same", Source: domain.UserInputSource, Kind: domain.KindText, CreatedAt: time.Unix(1, 0)}
	b := domain.Chunk{Content: "same", Source: domain.UserInputSource, Kind: domain.KindText, CreatedAt: time.Unix(2, 0)}
	require.NotEqual(t, pointID(a), pointID(b))
}
