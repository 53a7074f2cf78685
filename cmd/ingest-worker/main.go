// Command ingest-worker consumes queued ingestion requests from NATS and
// indexes them into the vector collection, with retry and DLQ handling.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/quillbase/quillbase/engine/ingest"
	"github.com/quillbase/quillbase/engine/semantic"
	"github.com/quillbase/quillbase/pkg/metrics"
	"github.com/quillbase/quillbase/pkg/ollama"
	"github.com/quillbase/quillbase/pkg/resilience"
)

var met = metrics.New()

var (
	mConsumed = met.Counter("quill_worker_consumed_total", "Messages consumed")
	mUptime   = met.Gauge("quill_worker_start_timestamp", "Worker start time (epoch)")
)

func main() {
	_ = godotenv.Load()

	var (
		natsURL     = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
		ollamaURL   = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		embedModel  = flag.String("model", envOr("EMBED_MODEL", "nomic-embed-text"), "embedding model")
		qdrantAddr  = flag.String("qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("QDRANT_COLLECTION", "quill"), "Qdrant collection")
		dims        = flag.Int("dims", 768, "embedding dimensionality")
		embedRPS    = flag.Float64("embed-rps", 20, "embedding calls per second")
		metricsPort = flag.Int("metrics-port", 9091, "metrics HTTP port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	met.ServeAsync(*metricsPort)
	mUptime.Set(time.Now().Unix())

	if err := run(*natsURL, *ollamaURL, *embedModel, *qdrantAddr, *collection, *dims, *embedRPS, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(natsURL, ollamaURL, embedModel, qdrantAddr, collection string, dims int, embedRPS float64, logger *slog.Logger) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	vectorStore, err := semantic.New(qdrantAddr, collection, dims)
	if err != nil {
		return err
	}
	defer vectorStore.Close()

	bootCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := vectorStore.EnsureCollection(bootCtx); err != nil {
		return err
	}

	embedClient := ollama.NewEmbedClient(ollamaURL, embedModel)
	limiter := resilience.NewLimiter(embedRPS, int(embedRPS))
	svc := ingest.New(embedClient, vectorStore, limiter, ingest.Options{}, logger)

	nc, err := nats.Connect(natsURL,
		nats.Name("quill-ingest-worker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return err
	}
	defer nc.Drain()

	sub, err := ingest.StartConsumer(nc, svc, logger)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	// Count deliveries for the metrics endpoint until shutdown.
	done := make(chan struct{})
	defer close(done)
	go pollDelivered(sub, 15*time.Second, done)

	logger.Info("ingest worker started", "subject", ingest.Subject, "nats", natsURL)
	<-sig
	logger.Info("ingest worker stopping")
	return nil
}

// deliveryCounter is the one method of *nats.Subscription the poller reads.
type deliveryCounter interface {
	Delivered() (int64, error)
}

func pollDelivered(sub deliveryCounter, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if delivered, err := sub.Delivered(); err == nil {
				mConsumed.Add(delivered - mConsumed.Value())
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
