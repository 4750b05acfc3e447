package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tvidz/inspector/internal/config"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Post("/notify", notifyHandler(cfg))
	r.Get("/status/{filename}", statusHandler(cfg))
	r.Get("/status/stream/{filename}", streamHandler(cfg))
	r.Post("/admin/reset", resetHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cfg.Repository.CountVideos(r.Context())
		if err != nil {
			cfg.Logger.Error("failed to count videos", "error", err)
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:         "ok",
			Version:        config.Version,
			UptimeS:        int64(time.Since(cfg.StartTime).Seconds()),
			VideosIndexed:  videos,
			ActiveSessions: cfg.Sessions.Len(),
		})
	}
}

func notifyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req NotifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid notification body", "BAD_REQUEST")
			return
		}
		if len(req.Records) == 0 {
			WriteError(w, http.StatusBadRequest, "notification has no records", "BAD_REQUEST")
			return
		}

		record := req.Records[0]
		bucket := record.S3.Bucket.Name
		key := decodeObjectKey(record.S3.Object.Key)
		if bucket == "" || key == "" {
			WriteError(w, http.StatusBadRequest, "notification is missing bucket or key", "BAD_REQUEST")
			return
		}

		h, err := cfg.Service.AnalyzeObject(bucket, key)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		cfg.Logger.Info("analysis triggered by notification",
			"bucket", bucket,
			"key", key,
			"session_id", h.SessionID,
		)
		WriteJSON(w, http.StatusAccepted, NotifyResponse{Status: "Analysis started", File: key})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" {
			WriteError(w, http.StatusBadRequest, "filename required", "BAD_REQUEST")
			return
		}

		snap, ok := cfg.Sessions.Latest(filename)
		if !ok {
			// Unknown means "not seen yet", never an error: the
			// notification may simply not have arrived.
			WriteJSON(w, http.StatusOK, StatusResponse{
				Filename:   filename,
				Status:     "pending",
				Cuts:       []float64{},
				Duplicates: []string{},
			})
			return
		}
		WriteJSON(w, http.StatusOK, SessionToResponse(snap))
	}
}

func streamHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" {
			WriteError(w, http.StatusBadRequest, "filename required", "BAD_REQUEST")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, "streaming unsupported", "INTERNAL_ERROR")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for snap := range cfg.Publisher.Subscribe(r.Context(), filename) {
			payload, err := json.Marshal(SessionToResponse(snap))
			if err != nil {
				cfg.Logger.Error("failed to encode stream event", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func resetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Repository.Reset(r.Context()); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to reset index", "INTERNAL_ERROR")
			return
		}
		cfg.Sessions.Reset()
		cfg.Logger.Info("index and sessions reset")
		WriteJSON(w, http.StatusOK, ResetResponse{Status: "reset"})
	}
}

// decodeObjectKey undoes the URL-encoding bucket notifications apply to
// object keys. A key that fails to decode is used as delivered.
func decodeObjectKey(key string) string {
	decoded, err := url.QueryUnescape(strings.ReplaceAll(key, "+", "%20"))
	if err != nil {
		return key
	}
	return decoded
}
