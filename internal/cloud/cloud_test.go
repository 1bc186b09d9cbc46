package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStatusError_IsRetryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		if got := (&StatusError{StatusCode: tt.code}).IsRetryable(); got != tt.want {
			t.Errorf("StatusError{%d}.IsRetryable() = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestHTTPStorage_Upload(t *testing.T) {
	var gotPath, gotAuth, gotType, gotReqID string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method: %s", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotReqID = r.Header.Get(requestIDHeader)
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(uploadResponse{URL: "https://cdn.example/final.mp4"})
	}))
	defer server.Close()

	s := NewHTTPStorage(server.URL+"/", "test-token", testLogger())

	url, err := s.Upload(context.Background(), []byte("mp4"), "workspaces/w/projects/p/final.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://cdn.example/final.mp4" {
		t.Errorf("url = %q", url)
	}
	if gotPath != "/objects/workspaces/w/projects/p/final.mp4" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-token" || gotType != "video/mp4" || gotReqID == "" {
		t.Errorf("headers: auth=%q type=%q request_id=%q", gotAuth, gotType, gotReqID)
	}
	if string(gotBody) != "mp4" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestHTTPStorage_UploadFallbackURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	s := NewHTTPStorage(server.URL, "", testLogger())
	url, err := s.Upload(context.Background(), []byte("x"), "a/b.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != server.URL+"/objects/a/b.mp4" {
		t.Errorf("url = %q", url)
	}
}

func TestHTTPStorage_UploadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}))
	defer server.Close()

	s := NewHTTPStorage(server.URL, "tok", testLogger())
	_, err := s.Upload(context.Background(), []byte("x"), "a.mp4", "video/mp4")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusServiceUnavailable || !se.IsRetryable() || !strings.Contains(se.Body, "overloaded") {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestHTTPStorage_DownloadSendsTokenOnlyToOwnHost(t *testing.T) {
	var ownAuth, foreignAuth string

	own := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownAuth = r.Header.Get("Authorization")
		w.Write([]byte("own"))
	}))
	defer own.Close()
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignAuth = r.Header.Get("Authorization")
		w.Write([]byte("foreign"))
	}))
	defer foreign.Close()

	s := NewHTTPStorage(own.URL, "secret-token", testLogger())
	ctx := context.Background()

	if data, err := s.Download(ctx, own.URL+"/objects/a.mp4"); err != nil || string(data) != "own" {
		t.Fatalf("own Download() = %q, %v", data, err)
	}
	if data, err := s.Download(ctx, foreign.URL+"/clip.mp4"); err != nil || string(data) != "foreign" {
		t.Fatalf("foreign Download() = %q, %v", data, err)
	}
	if ownAuth != "Bearer secret-token" {
		t.Errorf("own auth = %q", ownAuth)
	}
	if foreignAuth != "" {
		t.Errorf("token leaked to foreign host: %q", foreignAuth)
	}
}

func TestHTTPGenerator_SubmitAndPoll(t *testing.T) {
	var polls atomic.Int32
	var submitted GenerationRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/generations":
			json.NewDecoder(r.Body).Decode(&submitted)
			json.NewEncoder(w).Encode(GenerationTask{ID: "task-1", Status: TaskQueued})
		case r.Method == http.MethodGet && r.URL.Path == "/generations/task-1":
			n := polls.Add(1)
			switch n {
			case 1:
				json.NewEncoder(w).Encode(GenerationTask{ID: "task-1", Status: TaskRunning})
			case 2:
				w.WriteHeader(http.StatusBadGateway)
			default:
				json.NewEncoder(w).Encode(GenerationTask{ID: "task-1", Status: TaskSucceeded, VideoURL: "https://cdn.example/c1.mp4"})
			}
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	g := NewHTTPGenerator(server.URL, "tok", 5*time.Millisecond, testLogger())
	url, err := g.Generate(context.Background(), GenerationRequest{
		ImageURL:        "https://img.example/1.png",
		AspectRatio:     "9:16",
		DurationSeconds: 5,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if url != "https://cdn.example/c1.mp4" {
		t.Errorf("url = %q", url)
	}
	if polls.Load() != 3 {
		t.Errorf("polls = %d, want 3 (running, 502, succeeded)", polls.Load())
	}
	if submitted.ImageURL != "https://img.example/1.png" || submitted.AspectRatio != "9:16" {
		t.Errorf("submitted = %+v", submitted)
	}
}

func TestHTTPGenerator_TaskFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(GenerationTask{ID: "t", Status: TaskQueued})
			return
		}
		json.NewEncoder(w).Encode(GenerationTask{ID: "t", Status: TaskFailed, Error: "content policy"})
	}))
	defer server.Close()

	g := NewHTTPGenerator(server.URL, "", time.Millisecond, testLogger())
	_, err := g.Generate(context.Background(), GenerationRequest{ImageURL: "x"})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("Generate() error = %v, want ErrGenerationFailed", err)
	}
	if !strings.Contains(err.Error(), "content policy") {
		t.Errorf("error = %q, want remote reason", err)
	}
}

func TestHTTPGenerator_PermanentPollError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(GenerationTask{ID: "t", Status: TaskQueued})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	g := NewHTTPGenerator(server.URL, "", time.Millisecond, testLogger())
	_, err := g.Generate(context.Background(), GenerationRequest{ImageURL: "x"})

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("Generate() error = %v, want 404 StatusError", err)
	}
}

func TestHTTPGenerator_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerationTask{ID: "t", Status: TaskRunning})
	}))
	defer server.Close()

	g := NewHTTPGenerator(server.URL, "", 5*time.Millisecond, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := g.Generate(ctx, GenerationRequest{ImageURL: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Generate() error = %v, want deadline exceeded", err)
	}
}
