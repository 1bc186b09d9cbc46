package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/reelforge/internal/db"
	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/progress"
	"github.com/heimdex/reelforge/internal/project"
	"github.com/heimdex/reelforge/internal/render"
	"github.com/heimdex/reelforge/internal/transcode"
	"github.com/heimdex/reelforge/internal/workdir"
)

const unitCost = 0.25

func newTestRepo(t *testing.T) *project.SQLiteRepository {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return project.NewRepository(database.Conn())
}

// seedProject creates a draft project with n pending clips.
func seedProject(t *testing.T, repo project.Repository, n int) *project.Project {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	p := &project.Project{
		ID:          project.NewID(),
		WorkspaceID: "ws-1",
		AspectRatio: "16:9",
		MusicVolume: 50,
		Status:      project.StatusDraft,
		ClipCount:   n,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.CreateProject(ctx, p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	for i := 1; i <= n; i++ {
		c := &project.Clip{
			ID:              project.NewID(),
			ProjectID:       p.ID,
			SequenceOrder:   i,
			ImageURL:        fmt.Sprintf("https://img.test/%d.png", i),
			Status:          project.ClipStatusPending,
			TransitionMode:  project.TransitionCut,
			DurationSeconds: project.DefaultClipDuration,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := repo.CreateClip(ctx, c); err != nil {
			t.Fatalf("create clip: %v", err)
		}
	}
	return p
}

// fakeDispatcher plays the generation sub-task: it records a terminal state
// on the clip row and returns it.
type fakeDispatcher struct {
	repo     project.Repository
	calls    atomic.Int32
	failSeq  map[int]bool // generation fails
	errSeq   map[int]bool // dispatch itself errors
	blockFor func(ctx context.Context) error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, clipID string) (Outcome, error) {
	f.calls.Add(1)
	clip, err := f.repo.GetClip(ctx, clipID)
	if err != nil || clip == nil {
		return Outcome{}, errors.New("clip not found")
	}
	if f.blockFor != nil {
		if err := f.blockFor(ctx); err != nil {
			return Outcome{}, err
		}
	}
	if f.errSeq[clip.SequenceOrder] {
		return Outcome{}, errors.New("dial tcp: connection refused")
	}
	if f.failSeq[clip.SequenceOrder] {
		f.repo.UpdateClip(ctx, clipID, project.ClipUpdate{Status: project.Ptr(project.ClipStatusFailed), Error: project.Ptr("generation failed")})
		return Outcome{ClipID: clipID, Status: project.ClipStatusFailed, Error: "generation failed"}, nil
	}
	url := "https://clips.test/" + clipID + ".mp4"
	f.repo.UpdateClip(ctx, clipID, project.ClipUpdate{Status: project.Ptr(project.ClipStatusCompleted), ClipURL: project.Ptr(url)})
	return Outcome{ClipID: clipID, Status: project.ClipStatusCompleted, ClipURL: url}, nil
}

type fakeCompiler struct {
	calls atomic.Int32
	fn    func(ctx context.Context, projectID string) (*render.Result, error)
}

func (f *fakeCompiler) Run(ctx context.Context, projectID string) (*render.Result, error) {
	f.calls.Add(1)
	return f.fn(ctx, projectID)
}

// memStore serves every download with the URL as content.
type memStore struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

func (s *memStore) Download(_ context.Context, url string) ([]byte, error) {
	return []byte(url), nil
}

func (s *memStore) Upload(_ context.Context, data []byte, objectPath, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploads == nil {
		s.uploads = map[string][]byte{}
	}
	s.uploads[objectPath] = data
	return "https://cdn.test/" + objectPath, nil
}

type copyTranscoder struct {
	manifest string
}

func (c *copyTranscoder) Transcode(_ context.Context, req transcode.Request) (transcode.RunResult, error) {
	data, _ := os.ReadFile(req.ManifestPath)
	c.manifest = string(data)
	return transcode.RunResult{OutputPath: req.OutputPath}, os.WriteFile(req.OutputPath, data, 0644)
}

func (c *copyTranscoder) Probe(context.Context) (*transcode.Capabilities, error) {
	return &transcode.Capabilities{Available: true}, nil
}

type orchestratorEnv struct {
	repo         *project.SQLiteRepository
	dispatcher   *fakeDispatcher
	transcoder   *copyTranscoder
	progress     *progress.MemoryStore
	orchestrator *Orchestrator
}

func newOrchestratorEnv(t *testing.T) *orchestratorEnv {
	t.Helper()
	repo := newTestRepo(t)
	env := &orchestratorEnv{
		repo:       repo,
		dispatcher: &fakeDispatcher{repo: repo, failSeq: map[int]bool{}, errSeq: map[int]bool{}},
		transcoder: &copyTranscoder{},
		progress:   progress.NewMemoryStore(),
	}
	compiler := render.NewCompiler(repo, &memStore{}, workdir.NewFS(t.TempDir()), env.transcoder, env.progress, time.Minute, logging.Discard())
	env.orchestrator = NewOrchestrator(repo, env.dispatcher, compiler, env.progress, Options{ClipUnitCost: unitCost, Timeout: time.Minute}, logging.Discard())
	return env
}

// failingRepo rejects updates that would mark a project failed.
type failingRepo struct {
	*project.SQLiteRepository
}

func (f *failingRepo) UpdateProject(ctx context.Context, id string, u project.ProjectUpdate) error {
	if u.Status != nil && *u.Status == project.StatusFailed {
		return errors.New("database is locked")
	}
	return f.SQLiteRepository.UpdateProject(ctx, id, u)
}
