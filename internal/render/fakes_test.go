package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/heimdex/reelforge/internal/db"
	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/progress"
	"github.com/heimdex/reelforge/internal/project"
	"github.com/heimdex/reelforge/internal/transcode"
	"github.com/heimdex/reelforge/internal/workdir"
)

type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failURLs  map[string]bool
	downloads []string
	uploads   map[string][]byte
	uploadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, failURLs: map[string]bool{}, uploads: map[string][]byte{}}
}

func (s *fakeStore) Download(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, url)
	if s.failURLs[url] {
		return nil, errors.New("download failed: HTTP 403")
	}
	data, ok := s.objects[url]
	if !ok {
		return nil, errors.New("download failed: HTTP 404")
	}
	return data, nil
}

func (s *fakeStore) Upload(_ context.Context, data []byte, objectPath, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.uploads[objectPath] = data
	return "https://cdn.test/" + objectPath, nil
}

type fakeTranscoder struct {
	calls    int
	exitCode int
	noOutput bool
	req      transcode.Request
	manifest string
	dirFiles []string
}

func (f *fakeTranscoder) Transcode(_ context.Context, req transcode.Request) (transcode.RunResult, error) {
	f.calls++
	f.req = req
	data, _ := os.ReadFile(req.ManifestPath)
	f.manifest = string(data)

	f.dirFiles = nil
	entries, _ := os.ReadDir(filepath.Dir(req.ManifestPath))
	for _, e := range entries {
		f.dirFiles = append(f.dirFiles, e.Name())
	}

	if f.exitCode != 0 {
		return transcode.RunResult{ExitCode: f.exitCode, StderrTail: "Invalid data found when processing input /secret/path"}, nil
	}
	if !f.noOutput {
		os.WriteFile(req.OutputPath, []byte("final-video"), 0644)
	}
	return transcode.RunResult{OutputPath: req.OutputPath}, nil
}

func (f *fakeTranscoder) Probe(context.Context) (*transcode.Capabilities, error) {
	return &transcode.Capabilities{Available: true}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []progress.Progress
}

func (r *recordingPublisher) Publish(_ context.Context, _ string, p progress.Progress) error {
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
	return nil
}

type testEnv struct {
	repo       *project.SQLiteRepository
	store      *fakeStore
	transcoder *fakeTranscoder
	progress   *recordingPublisher
	workRoot   string
	compiler   *Compiler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	env := &testEnv{
		repo:       project.NewRepository(database.Conn()),
		store:      newFakeStore(),
		transcoder: &fakeTranscoder{},
		progress:   &recordingPublisher{},
		workRoot:   t.TempDir(),
	}
	env.compiler = NewCompiler(env.repo, env.store, workdir.NewFS(env.workRoot), env.transcoder, env.progress, time.Minute, logging.Discard())
	return env
}

// seed creates a compiling project with one clip per status, in sequence
// order 1..N, inserting them in reverse to make sure ordering comes from
// sequence_order rather than insertion.
func (e *testEnv) seed(t *testing.T, musicURL string, statuses ...string) *project.Project {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	p := &project.Project{
		ID:          project.NewID(),
		WorkspaceID: "ws-1",
		AspectRatio: "16:9",
		MusicURL:    musicURL,
		MusicVolume: 50,
		Status:      project.StatusCompiling,
		ClipCount:   len(statuses),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.repo.CreateProject(ctx, p); err != nil {
		t.Fatalf("create project: %v", err)
	}

	for i := len(statuses) - 1; i >= 0; i-- {
		seq := i + 1
		c := &project.Clip{
			ID:              project.NewID(),
			ProjectID:       p.ID,
			SequenceOrder:   seq,
			ImageURL:        imageURL(seq),
			Status:          statuses[i],
			TransitionMode:  project.TransitionCut,
			DurationSeconds: project.DefaultClipDuration,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if statuses[i] == project.ClipStatusCompleted {
			c.ClipURL = clipURL(seq)
			e.store.objects[c.ClipURL] = []byte(c.ClipURL)
		}
		if err := e.repo.CreateClip(ctx, c); err != nil {
			t.Fatalf("create clip: %v", err)
		}
	}
	return p
}

func imageURL(seq int) string { return "https://img.test/" + string(rune('0'+seq)) + ".png" }
func clipURL(seq int) string  { return "https://clips.test/" + string(rune('0'+seq)) + ".mp4" }

func (e *testEnv) workDirEmpty(t *testing.T) bool {
	t.Helper()
	entries, err := os.ReadDir(e.workRoot)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries) == 0
}

func manifestLines(m string) []string {
	return strings.Split(strings.TrimSpace(m), "\n")
}
