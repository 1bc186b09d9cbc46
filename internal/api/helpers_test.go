package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/reelforge/internal/db"
	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/progress"
	"github.com/heimdex/reelforge/internal/project"
	"github.com/heimdex/reelforge/internal/transcode"
)

const testToken = "test-token-0123456789"

type fakeRunQueue struct {
	notified atomic.Int32
	paused   atomic.Bool
	active   int
}

func (f *fakeRunQueue) Notify()         { f.notified.Add(1) }
func (f *fakeRunQueue) Pause()          { f.paused.Store(true) }
func (f *fakeRunQueue) Resume()         { f.paused.Store(false) }
func (f *fakeRunQueue) IsPaused() bool  { return f.paused.Load() }
func (f *fakeRunQueue) IsRunning() bool { return true }
func (f *fakeRunQueue) ActiveRuns() int { return f.active }

type fakeTranscoder struct {
	caps *transcode.Capabilities
}

func (f *fakeTranscoder) Transcode(context.Context, transcode.Request) (transcode.RunResult, error) {
	return transcode.RunResult{}, nil
}

func (f *fakeTranscoder) Probe(context.Context) (*transcode.Capabilities, error) {
	return f.caps, nil
}

type testAPI struct {
	cfg      ServerConfig
	repo     *project.SQLiteRepository
	progress *progress.MemoryStore
	runner   *fakeRunQueue
	router   http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := project.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), "auth_token", testToken); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}

	api := &testAPI{
		repo:     repo,
		progress: progress.NewMemoryStore(),
		runner:   &fakeRunQueue{},
	}
	api.cfg = ServerConfig{
		Service:    project.NewService(repo, logging.Discard()),
		Repository: repo,
		Progress:   api.progress,
		Runner:     api.runner,
		Probe: transcode.NewCachedProbe(&fakeTranscoder{caps: &transcode.Capabilities{
			Available: true,
			Version:   "6.1.1",
			Path:      "/usr/bin/ffmpeg",
			ProbedAt:  time.Now(),
		}}, logging.Discard()),
		Logger:    logging.Discard(),
		StartTime: time.Now(),
		Version:   "test",
	}
	api.router = NewRouter(api.cfg)
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rr.Body.String(), err)
	}
	return body
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rr.Body.String(), err)
	}
}
