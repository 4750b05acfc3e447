// Package fetch downloads uploaded objects from an S3-compatible store
// into the scratch sandbox for analysis.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fetcher resolves a (bucket, key) trigger to a local file inside the
// scratch directory. The caller owns the returned file and removes it
// when the analysis ends.
type Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) (string, error)
}

// HTTPFetcher streams objects over plain HTTP, the access path
// LocalStack and path-style S3 endpoints expose.
type HTTPFetcher struct {
	endpoint   string
	scratchDir string
	client     *http.Client
	logger     *slog.Logger
}

func NewHTTPFetcher(endpoint, scratchDir string, logger *slog.Logger) (*HTTPFetcher, error) {
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create scratch dir: %w", err)
	}
	return &HTTPFetcher{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		scratchDir: scratchDir,
		client:     &http.Client{Timeout: 10 * time.Minute},
		logger:     logger,
	}, nil
}

// Fetch downloads the object to a uniquely named scratch file. The name
// carries a random prefix so concurrent uploads of identically named
// files never collide on disk.
func (f *HTTPFetcher) Fetch(ctx context.Context, bucket, key string) (string, error) {
	objectURL := fmt.Sprintf("%s/%s/%s", f.endpoint, url.PathEscape(bucket), escapeKey(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, objectURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid object URL: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("object download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("object download failed: %s returned %s", objectURL, resp.Status)
	}

	// filepath.Base strips any traversal the key smuggles in.
	base := filepath.Base(strings.ReplaceAll(key, "\\", "/"))
	localPath := filepath.Join(f.scratchDir, uuid.NewString()[:8]+"_"+base)

	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("cannot create scratch file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("object download interrupted: %w", err)
	}
	if closeErr != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("cannot finish scratch file: %w", closeErr)
	}

	if f.logger != nil {
		f.logger.Info("object downloaded",
			"bucket", bucket,
			"key", key,
			"bytes", written,
		)
	}
	return localPath, nil
}

// escapeKey escapes each segment of an object key while keeping the
// separators, matching path-style S3 addressing.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
