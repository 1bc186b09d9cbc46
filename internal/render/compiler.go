// Package render assembles a project's generated clips into the final video.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/progress"
	"github.com/heimdex/reelforge/internal/project"
	"github.com/heimdex/reelforge/internal/storage"
	"github.com/heimdex/reelforge/internal/transcode"
	"github.com/heimdex/reelforge/internal/workdir"
)

const (
	DefaultTimeout = 10 * time.Minute

	finalName    = "final.mp4"
	manifestName = "list.txt"

	reasonTranscode = "video compilation failed"
	reasonDownload  = "failed to download clips"
	reasonUpload    = "failed to upload video"
	reasonSave      = "failed to save video"
)

// Result describes a compiled video.
type Result struct {
	FinalVideoURL   string `json:"final_video_url"`
	DurationSeconds int    `json:"duration_seconds"`
	ThumbnailURL    string `json:"thumbnail_url"`
	ClipCount       int    `json:"clip_count"`
	MusicMixed      bool   `json:"music_mixed"`
}

// Runner is anything that compiles a project.
type Runner interface {
	Run(ctx context.Context, projectID string) (*Result, error)
}

// Compiler runs one compilation attempt from scratch.
type Compiler struct {
	repo       project.Repository
	store      storage.Store
	dirs       workdir.Provider
	transcoder transcode.Runner
	progress   progress.Publisher
	timeout    time.Duration
	logger     *slog.Logger
}

func NewCompiler(
	repo project.Repository,
	store storage.Store,
	dirs workdir.Provider,
	transcoder transcode.Runner,
	pub progress.Publisher,
	timeout time.Duration,
	logger *slog.Logger,
) *Compiler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Compiler{
		repo:       repo,
		store:      store,
		dirs:       dirs,
		transcoder: transcoder,
		progress:   pub,
		timeout:    timeout,
		logger:     logging.WithComponent(logger, "compiler"),
	}
}

// Run downloads the completed clips in sequence order, concatenates them,
// uploads the result and marks the project completed. The project must be
// in the compiling state.
func (c *Compiler) Run(ctx context.Context, projectID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	logger := logging.WithProjectID(c.logger, projectID)

	p, err := c.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("project %s: %w", projectID, project.ErrNotFound)
	}
	if p.Status != project.StatusCompiling {
		return nil, fmt.Errorf("project %s is %s: %w", projectID, p.Status, project.ErrInvalidState)
	}

	clips, err := c.repo.ListClips(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load clips: %w", err)
	}
	included := compilable(clips)
	if len(included) == 0 {
		return nil, project.Fail(project.ErrNoCompletedClips.Error(), project.ErrNoCompletedClips)
	}

	dir, err := c.dirs.Prepare(projectID)
	if err != nil {
		return nil, project.Fail(reasonTranscode, err)
	}
	defer func() {
		if err := c.dirs.Remove(projectID); err != nil {
			logger.Warn("failed to remove work dir", "error", err)
		}
	}()

	files, err := c.downloadClips(ctx, logger, projectID, dir, included)
	if err != nil {
		return nil, err
	}

	musicPath := ""
	if p.MusicURL != "" {
		musicPath, err = c.downloadMusic(ctx, dir, p.MusicURL)
		if err != nil {
			logger.Warn("music download failed, compiling without music",
				"music_url", logging.SanitizeURL(p.MusicURL),
				"error", err,
			)
			musicPath = ""
		}
	}

	c.publish(ctx, logger, projectID, progress.Percent(progress.StepEncoding, "Encoding video", 45))

	outPath, err := c.encode(ctx, logger, dir, files, musicPath, p.MusicVolume)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, project.Fail(reasonTranscode, fmt.Errorf("read output: %w: %w", err, project.ErrTranscode))
	}

	c.publish(ctx, logger, projectID, progress.Percent(progress.StepUploading, "Uploading video", 80))

	videoURL, err := c.store.Upload(ctx, data, storage.ObjectPath(p.WorkspaceID, p.ID, finalName), "video/mp4")
	if err != nil {
		return nil, project.Fail(reasonUpload, err)
	}

	result := &Result{
		FinalVideoURL:   videoURL,
		DurationSeconds: totalDuration(included),
		ThumbnailURL:    included[0].ImageURL,
		ClipCount:       len(included),
		MusicMixed:      musicPath != "",
	}

	if err := c.repo.UpdateProject(ctx, projectID, project.ProjectUpdate{
		Status:          project.Ptr(project.StatusCompleted),
		FinalVideoURL:   project.Ptr(result.FinalVideoURL),
		DurationSeconds: project.Ptr(result.DurationSeconds),
		ThumbnailURL:    project.Ptr(result.ThumbnailURL),
	}); err != nil {
		return nil, project.Fail(reasonSave, err)
	}

	logger.Info("compilation complete",
		"clips", result.ClipCount,
		"duration_seconds", result.DurationSeconds,
		"music", result.MusicMixed,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (c *Compiler) downloadClips(ctx context.Context, logger *slog.Logger, projectID, dir string, clips []*project.Clip) ([]string, error) {
	total := len(clips)
	c.publish(ctx, logger, projectID, progress.Counted(progress.StepDownloading, fmt.Sprintf("Downloaded 0/%d clips", total), 0, total).WithPercent(10))

	files := make([]string, 0, total)
	for i, clip := range clips {
		data, err := c.store.Download(ctx, clip.ClipURL)
		if err != nil {
			logger.Error("clip download failed",
				"clip_id", clip.ID,
				"sequence_order", clip.SequenceOrder,
				"error", err,
			)
			return nil, project.Fail(reasonDownload, err)
		}

		name := fmt.Sprintf("clip_%03d.mp4", i+1)
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			return nil, project.Fail(reasonDownload, err)
		}
		files = append(files, name)

		done := i + 1
		pct := 10 + 30*done/total
		c.publish(ctx, logger, projectID, progress.Counted(progress.StepDownloading, fmt.Sprintf("Downloaded %d/%d clips", done, total), done, total).WithPercent(pct))
	}
	return files, nil
}

func (c *Compiler) downloadMusic(ctx context.Context, dir, musicURL string) (string, error) {
	data, err := c.store.Download(ctx, musicURL)
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, "music"+musicExt(musicURL))
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", err
	}
	return p, nil
}

func (c *Compiler) encode(ctx context.Context, logger *slog.Logger, dir string, files []string, musicPath string, volume int) (string, error) {
	manifest := filepath.Join(dir, manifestName)
	if err := transcode.WriteManifest(manifest, files); err != nil {
		return "", project.Fail(reasonTranscode, err)
	}

	outPath := filepath.Join(dir, finalName)
	result, err := c.transcoder.Transcode(ctx, transcode.Request{
		ManifestPath: manifest,
		MusicPath:    musicPath,
		MusicVolume:  volume,
		OutputPath:   outPath,
	})
	if err != nil {
		return "", project.Fail(reasonTranscode, fmt.Errorf("%w: %w", project.ErrTranscode, err))
	}
	if !result.IsSuccess() {
		logger.Error("ffmpeg failed",
			"exit_code", result.ExitCode,
			"stderr_tail", result.StderrTail,
		)
		return "", project.Fail(reasonTranscode, fmt.Errorf("ffmpeg exited %d: %w", result.ExitCode, project.ErrTranscode))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		logger.Error("ffmpeg produced no output", "exit_code", result.ExitCode)
		return "", project.Fail(reasonTranscode, fmt.Errorf("missing or empty output: %w", project.ErrTranscode))
	}
	return outPath, nil
}

func (c *Compiler) publish(ctx context.Context, logger *slog.Logger, projectID string, p progress.Progress) {
	if err := c.progress.Publish(ctx, projectID, p); err != nil {
		logger.Warn("failed to publish progress", "step", p.Step, "error", err)
	}
}

// compilable returns completed clips with a video, in sequence order.
func compilable(clips []*project.Clip) []*project.Clip {
	var out []*project.Clip
	for _, c := range clips {
		if c.Compilable() {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out
}

func totalDuration(clips []*project.Clip) int {
	total := 0
	for _, c := range clips {
		total += c.DurationSeconds
	}
	return total
}

func musicExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ".mp3"
	}
	if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".mp3"
}
