package ingest

import "github.com/quillbase/quillbase/engine/domain"

// Request is one ingestion unit of work: a payload of a declared kind
// plus the identifier it should be cited under. Payload is base64 on the
// wire via encoding/json's []byte handling.
type Request struct {
	Kind    domain.SourceKind `json:"kind"`
	Payload []byte            `json:"payload"`
	Origin  string            `json:"origin"`
}

// Report summarizes what one request contributed to the index.
type Report struct {
	Chunks  int   `json:"chunks"`
	Indexed int   `json:"indexed"`
	Failed  []int `json:"failed,omitempty"`
}

// embedded pairs chunks with their vectors between the embed and store stages.
type embedded struct {
	chunks  []domain.Chunk
	vectors [][]float32
}
