// Package semantic is the sole owner of all Qdrant operations: collection
// bootstrap, chunk upserts and k-nearest-neighbour queries over one named,
// dimensionality-fixed collection.
package semantic

import (
	"time"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/quillbase/quillbase/engine/domain"
)

// Payload keys under which chunk fields are stored in Qdrant.
const (
	payloadContent   = "content"
	payloadSource    = "source"
	payloadKind      = "kind"
	payloadPage      = "page"
	payloadTimestamp = "timestamp"
)

// SearchResult is one retrieved chunk with its similarity score, ephemeral
// to a single query.
type SearchResult struct {
	Chunk domain.Chunk
	Score float32
}

// chunkPayload converts a chunk into a Qdrant payload map.
func chunkPayload(c domain.Chunk) map[string]*pb.Value {
	p := map[string]*pb.Value{
		payloadContent:   {Kind: &pb.Value_StringValue{StringValue: c.Content}},
		payloadSource:    {Kind: &pb.Value_StringValue{StringValue: c.Source}},
		payloadKind:      {Kind: &pb.Value_StringValue{StringValue: string(c.Kind)}},
		payloadTimestamp: {Kind: &pb.Value_StringValue{StringValue: c.CreatedAt.UTC().Format(time.RFC3339)}},
	}
	if c.Page > 0 {
		p[payloadPage] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Page)}}
	}
	return p
}

// chunkFromPayload reconstructs the chunk embedded in a Qdrant payload.
func chunkFromPayload(p map[string]*pb.Value) domain.Chunk {
	c := domain.Chunk{}
	if v, ok := p[payloadContent]; ok {
		c.Content = v.GetStringValue()
	}
	if v, ok := p[payloadSource]; ok {
		c.Source = v.GetStringValue()
	}
	if v, ok := p[payloadKind]; ok {
		c.Kind = domain.SourceKind(v.GetStringValue())
	}
	if v, ok := p[payloadPage]; ok {
		c.Page = int(v.GetIntegerValue())
	}
	if v, ok := p[payloadTimestamp]; ok {
		if t, err := time.Parse(time.RFC3339, v.GetStringValue()); err == nil {
			c.CreatedAt = t
		}
	}
	return c
}
