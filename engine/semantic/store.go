package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/quillbase/quillbase/engine/domain"
)

// upsertBatchSize bounds points per upsert call so a partial failure can be
// reported per batch rather than all-or-nothing.
const upsertBatchSize = 64

// pointsAPI is the slice of Qdrant's points service the store calls.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the slice of Qdrant's collections service the store calls.
type collectionsAPI interface {
	CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption) (*pb.CollectionExistsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore talks to one Qdrant collection of fixed dimensionality. The
// collection name and its dimensionality are explicit construction-time
// configuration; there is no ambient "current collection".
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dims        int
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr, collection string, dims int) (*VectorStore, error) {
	if collection == "" || dims <= 0 {
		return nil, fmt.Errorf("semantic: collection %q dims %d: %w", collection, dims, domain.ErrInvalidArgument)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
	}, nil
}

// NewWithClients builds a VectorStore over pre-built service clients. It
// exists so tests can substitute in-memory clients for a live Qdrant.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, dims int) (*VectorStore, error) {
	if collection == "" || dims <= 0 {
		return nil, fmt.Errorf("semantic: collection %q dims %d: %w", collection, dims, domain.ErrInvalidArgument)
	}
	return &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
		dims:        dims,
	}, nil
}

// Close closes the underlying gRPC connection, if the store owns one.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Dims returns the collection's declared dimensionality.
func (v *VectorStore) Dims() int { return v.dims }

// EnsureCollection creates the collection if it does not exist. It is
// idempotent and safe under a concurrent first call: a racing creation
// surfacing as "already exists" is treated as success, so at most one
// physical collection results and both callers see a queryable (possibly
// empty) collection.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	exists, err := v.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: v.collection,
	})
	if err != nil {
		return mapStoreErr(fmt.Errorf("semantic: collection exists %s", v.collection), err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		if alreadyExists(err) {
			return nil
		}
		return mapStoreErr(fmt.Errorf("semantic: create collection %s", v.collection), err)
	}
	return nil
}

// DeleteCollection drops the collection and everything in it. Serving paths
// never call it; it exists for tests and operational resets.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection})
	if err != nil {
		return mapStoreErr(fmt.Errorf("semantic: delete collection %s", v.collection), err)
	}
	return nil
}

// Upsert writes chunks with their embeddings. A dimensionality mismatch is
// rejected before any write as a fatal schema error. Store failures are
// reported as *domain.UpsertError naming exactly the indexes that were not
// written; indexes absent from the error are durably stored.
func (v *VectorStore) Upsert(ctx context.Context, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("semantic: %d chunks vs %d embeddings: %w", len(chunks), len(embeddings), domain.ErrInvalidArgument)
	}
	if len(chunks) == 0 {
		return nil
	}
	for i, e := range embeddings {
		if len(e) != v.dims {
			return fmt.Errorf("semantic: embedding %d has %d dims, collection %s wants %d: %w",
				i, len(e), v.collection, v.dims, domain.ErrSchemaMismatch)
		}
	}

	var failed []int
	var firstErr error
	wait := true

	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))

		points := make([]*pb.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &pb.PointStruct{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(chunks[i])},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: embeddings[i]},
					},
				},
				Payload: chunkPayload(chunks[i]),
			})
		}

		_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: v.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			for i := start; i < end; i++ {
				failed = append(failed, i)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return &domain.UpsertError{
			Total:         len(chunks),
			FailedIndexes: failed,
			Wrapped:       mapStoreErr(fmt.Errorf("semantic: upsert into %s", v.collection), firstErr),
		}
	}
	return nil
}

// Query returns up to k nearest chunks by cosine similarity, descending by
// score. An empty collection yields an empty result, not an error.
func (v *VectorStore) Query(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("semantic: k=%d: %w", k, domain.ErrInvalidArgument)
	}
	if len(vector) != v.dims {
		return nil, fmt.Errorf("semantic: query vector has %d dims, collection %s wants %d: %w",
			len(vector), v.collection, v.dims, domain.ErrSchemaMismatch)
	}

	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, mapStoreErr(fmt.Errorf("semantic: search %s", v.collection), err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = SearchResult{
			Chunk: chunkFromPayload(r.GetPayload()),
			Score: r.GetScore(),
		}
	}
	return results, nil
}

// pointID derives a deterministic UUID for a chunk from its provenance, so
// re-upserting the exact same chunk overwrites rather than duplicates, while
// distinct ingestions of identical text (different timestamps) stay
// independent.
func pointID(c domain.Chunk) string {
	key := fmt.Sprintf("%s|%d|%d|%s", c.Source, c.Page, c.CreatedAt.UnixNano(), c.Content)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// mapStoreErr classifies a Qdrant error into the pipeline taxonomy.
func mapStoreErr(prefix error, err error) error {
	st, ok := status.FromError(err)
	if ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
			return fmt.Errorf("%s: %w: %v", prefix, domain.ErrStoreUnavailable, err)
		case codes.InvalidArgument:
			if strings.Contains(strings.ToLower(st.Message()), "dim") {
				return fmt.Errorf("%s: %w: %v", prefix, domain.ErrSchemaMismatch, err)
			}
		}
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

// alreadyExists recognises the benign race where another caller created the
// collection between our existence check and create call.
func alreadyExists(err error) bool {
	if status.Code(err) == codes.AlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
