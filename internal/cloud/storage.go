package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/storage"
)

// HTTPStorage is a storage.Store backed by a remote object service.
// Objects are written with PUT <base>/objects/<path>.
type HTTPStorage struct {
	base
}

type uploadResponse struct {
	URL string `json:"url"`
}

func NewHTTPStorage(baseURL, token string, logger *slog.Logger) *HTTPStorage {
	return &HTTPStorage{base{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}}
}

// Download fetches url. Credentials are only sent to the configured host.
func (s *HTTPStorage) Download(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, s.baseURL+"/") {
		return storage.Fetch(ctx, s.httpClient, url)
	}

	req, err := s.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Op: "download", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

func (s *HTTPStorage) Upload(ctx context.Context, data []byte, objectPath, contentType string) (string, error) {
	rel, err := storage.CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	url := s.baseURL + "/objects/" + rel

	req, err := s.newRequest(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	s.logger.Info("uploading object",
		"path", rel,
		"body_bytes", len(data),
	)

	var out uploadResponse
	if err := s.do(req, "upload", &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		out.URL = url
	}

	s.logger.Info("object upload succeeded", "url", logging.SanitizeURL(out.URL))
	return out.URL, nil
}
