// Command api serves the Quill HTTP API: document ingestion into the
// vector index and grounded question answering over it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/quillbase/quillbase/engine/ingest"
	"github.com/quillbase/quillbase/engine/rag"
	"github.com/quillbase/quillbase/engine/semantic"
	"github.com/quillbase/quillbase/pkg/metrics"
	"github.com/quillbase/quillbase/pkg/mid"
	"github.com/quillbase/quillbase/pkg/ollama"
	"github.com/quillbase/quillbase/pkg/resilience"
)

var met = metrics.New()

var (
	mAskTotal = func(outcome string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("quill_ask_total", "outcome", outcome), "Total questions answered")
	}
	mIngestTotal = func(kind string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("quill_ingest_total", "kind", kind), "Total ingestion requests")
	}
	mCitations = func(kind string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("quill_citations_total", "kind", kind), "Parsed citation kinds")
	}
	mIngestChunks = met.Counter("quill_ingest_chunks_total", "Total chunks indexed")
	mAskDur       = met.Histogram("quill_ask_duration_seconds", "Ask latency", nil)
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	OllamaURL   string
	EmbedModel  string
	ChatModel   string
	QdrantAddr  string
	Collection  string
	Dims        int
	NATSURL     string
	CORSOrigin  string
	EmbedRPS    float64
	MaxBodyMB   int64
	TopK        int
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		OllamaURL:  envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel: envOr("EMBED_MODEL", "nomic-embed-text"),
		ChatModel:  envOr("CHAT_MODEL", "llama3.1"),
		QdrantAddr: envOr("QDRANT_ADDR", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", "quill"),
		Dims:       envIntOr("EMBED_DIMS", 768),
		NATSURL:    os.Getenv("NATS_URL"), // empty disables async ingestion
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		EmbedRPS:   envFloatOr("EMBED_RPS", 20),
		MaxBodyMB:  int64(envIntOr("MAX_BODY_MB", 32)),
		TopK:       envIntOr("RETRIEVE_TOP_K", 5),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantAddr, cfg.Collection, cfg.Dims)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	bootCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := vectorStore.EnsureCollection(bootCtx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	// --- Model clients ---
	embedClient := ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel)
	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
	chatClient := ollama.NewChatClient(cfg.OllamaURL, cfg.ChatModel, breaker)

	// --- Services ---
	ragOpts := rag.DefaultOptions()
	ragOpts.TopK = cfg.TopK
	ragSvc := rag.New(embedClient, chatClient, vectorStore, ragOpts, logger)

	limiter := resilience.NewLimiter(cfg.EmbedRPS, int(cfg.EmbedRPS))
	ingestSvc := ingest.New(embedClient, vectorStore, limiter, ingest.Options{}, logger)

	// --- Optional NATS for async ingestion ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("quill-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/ask", handleAsk(ragSvc, logger))
	mux.HandleFunc("POST /api/ingest", handleIngest(ingestSvc, nc, logger))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("quill-api"),
		mid.MaxBody(cfg.MaxBodyMB<<20),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
