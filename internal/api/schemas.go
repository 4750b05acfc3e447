package api

import (
	"time"

	"github.com/tvidz/inspector/internal/session"
)

// NotifyRequest mirrors the bucket notification envelope delivered on
// object creation. Only the bucket name and object key are read.
type NotifyRequest struct {
	Records []NotifyRecord `json:"Records"`
}

type NotifyRecord struct {
	S3 NotifyS3 `json:"s3"`
}

type NotifyS3 struct {
	Bucket NotifyBucket `json:"bucket"`
	Object NotifyObject `json:"object"`
}

type NotifyBucket struct {
	Name string `json:"name"`
}

type NotifyObject struct {
	Key string `json:"key"`
}

type NotifyResponse struct {
	Status string `json:"status"`
	File   string `json:"file"`
}

// StatusResponse is one session snapshot as served to clients, both on
// the polling endpoint and as the payload of each stream event.
type StatusResponse struct {
	SessionID  string    `json:"session_id,omitempty"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress"`
	Cuts       []float64 `json:"cuts"`
	Duplicates []string  `json:"duplicates"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  string    `json:"updated_at,omitempty"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	UptimeS        int64  `json:"uptime_s"`
	VideosIndexed  int    `json:"videos_indexed"`
	ActiveSessions int    `json:"active_sessions"`
}

type ResetResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SessionToResponse(s session.Session) StatusResponse {
	resp := StatusResponse{
		SessionID:  s.ID,
		Filename:   s.Filename,
		Status:     string(s.Status),
		Progress:   s.Progress,
		Cuts:       s.Cuts,
		Duplicates: s.Duplicates,
		Error:      s.Error,
	}
	if resp.Cuts == nil {
		resp.Cuts = []float64{}
	}
	if resp.Duplicates == nil {
		resp.Duplicates = []string{}
	}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = s.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}
