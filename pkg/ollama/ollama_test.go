package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quillbase/quillbase/pkg/resilience"
)

func TestEmbedDecodesVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "test-model" || req.Prompt != "hello" {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "test-model")
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[0] != float32(0.1) {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "test-model")
	if _, err := c.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestEmbedEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResp{})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "test-model")
	if _, err := c.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on empty embedding")
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedReq
		json.NewDecoder(r.Body).Decode(&req)
		v := 1.0
		if req.Prompt == "b" {
			v = 2.0
		}
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: []float64{v}})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "test-model")
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("batch order lost: %v", vecs)
	}
}

func TestGenerateReturnsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaGenerateReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Stream {
			t.Error("streaming must be disabled")
		}
		if req.System == "" {
			t.Error("system message missing")
		}
		json.NewEncoder(w).Encode(ollamaGenerateResp{Response: "the answer (Source: a.txt)"})
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, "test-model", nil)
	out, err := c.Generate(context.Background(), "you are helpful", "question")
	if err != nil {
		t.Fatal(err)
	}
	if out != "the answer (Source: a.txt)" {
		t.Fatalf("unexpected response %q", out)
	}
}

func TestGenerateBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	c := NewChatClient(srv.URL, "test-model", b)
	ctx := context.Background()

	_, _ = c.Generate(ctx, "", "q")
	_, _ = c.Generate(ctx, "", "q")
	if _, err := c.Generate(ctx, "", "q"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
