package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/quillbase/quillbase/engine/domain"
	"github.com/quillbase/quillbase/engine/ingest"
	"github.com/quillbase/quillbase/engine/rag"
	"github.com/quillbase/quillbase/pkg/natsutil"
)

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse is the JSON response for POST /api/ask.
type AskResponse struct {
	Answer   string        `json:"answer"`
	Citation *CitationView `json:"citation,omitempty"`
	Sources  []rag.Source  `json:"sources"`
}

// CitationView is the citation as shown to the user.
type CitationView struct {
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
	Page       int    `json:"page,omitempty"`
}

func handleAsk(svc *rag.Service, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		answer, err := svc.Ask(r.Context(), req.Question)
		if err != nil {
			mAskTotal("error").Inc()
			logger.Error("ask failed", "err", err)
			if errors.Is(err, domain.ErrInvalidArgument) {
				writeError(w, http.StatusBadRequest, "question is required")
				return
			}
			// Never leak which collaborator failed to the user.
			writeError(w, http.StatusServiceUnavailable, "could not answer right now")
			return
		}
		mAskTotal("ok").Inc()
		mCitations(string(answer.Citation.Kind)).Inc()
		mAskDur.Since(start)

		resp := AskResponse{Answer: answer.Text, Sources: answer.Sources}
		if answer.Citation.Raw != "" {
			resp.Citation = &CitationView{
				Kind:       string(answer.Citation.Kind),
				Identifier: answer.Citation.Identifier,
				Page:       answer.Citation.Page,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// IngestResponse is the JSON response for POST /api/ingest.
type IngestResponse struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks,omitempty"`
	Failed []int  `json:"failed,omitempty"`
}

// handleIngest accepts either a JSON ingest.Request (payload base64) or a
// multipart upload with a "file" part and optional "kind" field. With
// "async" set the request is queued over NATS instead of processed inline;
// asking for async on a deployment without NATS is an error, not a silent
// inline fallback.
func handleIngest(svc *ingest.Service, nc *nats.Conn, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		req, async, err := decodeIngest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if async {
			if nc == nil {
				writeError(w, http.StatusServiceUnavailable, "async ingestion is not enabled")
				return
			}
			if err := natsutil.Publish(r.Context(), nc, ingest.Subject, req); err != nil {
				logger.Error("ingest enqueue failed", "err", err)
				writeError(w, http.StatusServiceUnavailable, "could not queue document")
				return
			}
			mIngestTotal(string(req.Kind)).Inc()
			writeJSON(w, http.StatusAccepted, IngestResponse{Status: "queued"})
			return
		}

		report, err := svc.Ingest(r.Context(), req)
		if err != nil {
			var ue *domain.UpsertError
			switch {
			case errors.As(err, &ue):
				// Some chunks made it in; tell the caller which did not.
				mIngestTotal(string(req.Kind)).Inc()
				writeJSON(w, http.StatusBadGateway, IngestResponse{
					Status: "partial",
					Chunks: report.Indexed,
					Failed: report.Failed,
				})
			case errors.Is(err, domain.ErrUnsupportedKind),
				errors.Is(err, domain.ErrEmptyExtraction),
				errors.Is(err, domain.ErrInvalidArgument):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				logger.Error("ingest failed", "err", err)
				writeError(w, http.StatusServiceUnavailable, "could not index document")
			}
			return
		}
		mIngestTotal(string(req.Kind)).Inc()
		mIngestChunks.Add(int64(report.Indexed))
		writeJSON(w, http.StatusOK, IngestResponse{Status: "indexed", Chunks: report.Indexed})
	}
}

func decodeIngest(r *http.Request) (ingest.Request, bool, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		req, err := decodeMultipart(r)
		return req, r.FormValue("async") == "true", err
	}

	var body struct {
		ingest.Request
		Async bool `json:"async"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return ingest.Request{}, false, errors.New("invalid request body")
	}
	return body.Request, body.Async, nil
}

func decodeMultipart(r *http.Request) (ingest.Request, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return ingest.Request{}, errors.New("missing file part")
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		return ingest.Request{}, errors.New("could not read file")
	}

	kind := domain.SourceKind(r.FormValue("kind"))
	if kind == "" {
		kind = kindFromName(header.Filename)
	}
	return ingest.Request{Kind: kind, Payload: payload, Origin: header.Filename}, nil
}

// kindFromName guesses the source kind from the upload's extension.
func kindFromName(name string) domain.SourceKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return domain.KindPDF
	case ".csv":
		return domain.KindCSV
	case ".html", ".htm":
		return domain.KindWeb
	default:
		return domain.KindText
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
