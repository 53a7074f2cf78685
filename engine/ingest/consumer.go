package ingest

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/quillbase/quillbase/pkg/natsutil"
)

// dlqMessage is parked on the DLQ when a request exhausts its retries or
// fails in a way retrying cannot fix.
type dlqMessage struct {
	Request Request `json:"request"`
	Error   string  `json:"error"`
	Retries int     `json:"retries"`
}

// StartConsumer subscribes the service to the ingest subject. Transient
// failures are requeued with a retry-count header up to MaxRetries; user
// errors and exhausted requests go to the DLQ.
func StartConsumer(nc *nats.Conn, svc *Service, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}

	return natsutil.Subscribe(nc, Subject, func(ctx context.Context, req Request, msg *nats.Msg) {
		retries := natsutil.Retries(msg)

		_, err := svc.Ingest(ctx, req)
		if err == nil {
			return
		}
		retries++

		if !retryable(err) || retries >= MaxRetries {
			logger.Error("ingest: parking on DLQ",
				"origin", req.Origin,
				"retries", retries,
				"error", err,
			)
			dlq := dlqMessage{Request: req, Error: err.Error(), Retries: retries}
			if pubErr := natsutil.Publish(ctx, nc, DLQSubject, dlq); pubErr != nil {
				logger.Error("ingest: DLQ publish failed", "error", pubErr)
			}
			return
		}

		logger.Warn("ingest: requeueing",
			"origin", req.Origin,
			"retry", retries,
			"error", err,
		)
		if pubErr := natsutil.PublishRetry(ctx, nc, Subject, req, retries); pubErr != nil {
			logger.Error("ingest: retry publish failed", "error", pubErr)
		}
	})
}
