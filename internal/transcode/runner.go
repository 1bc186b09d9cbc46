package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Runner executes ffmpeg commands as subprocesses.
type Runner interface {
	// Transcode concatenates the clips listed in req.ManifestPath into
	// req.OutputPath. A non-nil error means the command could not be started
	// at all; a failed encode is reported through RunResult.
	Transcode(ctx context.Context, req Request) (RunResult, error)

	// Probe runs `ffmpeg -version` and reports availability.
	Probe(ctx context.Context) (*Capabilities, error)
}

// Config holds the runner's configuration.
type Config struct {
	FFmpegPath   string        // path or name of the ffmpeg binary
	Timeout      time.Duration // hard ceiling per transcode
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	DebugPaths   bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FFmpegPath:   "ffmpeg",
		Timeout:      5 * time.Minute,
		ProbeTimeout: 10 * time.Second,
		Logger:       logger,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg    Config
	ffmpeg string // resolved binary path
}

// NewRunner creates a SubprocessRunner. A binary missing from PATH is not an
// error here; Probe reports it and Transcode fails with exit code -1.
func NewRunner(cfg Config) *SubprocessRunner {
	bin := cfg.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	if p, err := exec.LookPath(bin); err == nil {
		bin = p
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	cfg.Logger.Info("transcode runner initialised", "ffmpeg", bin, "timeout", cfg.Timeout)
	return &SubprocessRunner{cfg: cfg, ffmpeg: bin}
}

func (r *SubprocessRunner) Transcode(ctx context.Context, req Request) (RunResult, error) {
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return RunResult{ExitCode: -1}, fmt.Errorf("cannot create output dir: %w", err)
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	result := r.exec(ctx, io.Discard, BuildArgs(req)...)
	result.OutputPath = req.OutputPath

	if !result.IsSuccess() {
		r.cfg.Logger.Warn("ffmpeg failed",
			"exit_code", result.ExitCode,
			"duration_ms", result.Duration.Milliseconds(),
			"stderr_tail", truncate(result.StderrTail, 512),
		)
	} else {
		r.cfg.Logger.Info("ffmpeg succeeded",
			"duration_ms", result.Duration.Milliseconds(),
			"output", r.safePath(req.OutputPath),
		)
	}
	return result, nil
}

func (r *SubprocessRunner) Probe(ctx context.Context) (*Capabilities, error) {
	timeout := r.cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout bytes.Buffer
	result := r.exec(ctx, &stdout, "-version")

	caps := &Capabilities{Path: r.ffmpeg, ProbedAt: time.Now()}
	if !result.IsSuccess() {
		caps.Error = truncate(strings.TrimSpace(result.StderrTail), 256)
		if caps.Error == "" {
			caps.Error = fmt.Sprintf("exit code %d", result.ExitCode)
		}
		return caps, fmt.Errorf("ffmpeg probe exited %d", result.ExitCode)
	}

	caps.Available = true
	caps.Version = parseVersion(stdout.String())
	r.cfg.Logger.Info("ffmpeg probe complete", "version", caps.Version)
	return caps, nil
}

// exec is the core subprocess execution helper.
func (r *SubprocessRunner) exec(ctx context.Context, stdout io.Writer, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = stdout
	// Bound the wait for pipes held open by orphaned children after a kill.
	cmd.WaitDelay = 5 * time.Second

	r.cfg.Logger.Debug("executing ffmpeg", "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderrBuf.WriteString(err.Error())
		}
	}

	return RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	return filepath.Base(path)
}

// parseVersion pulls "6.1.1" out of "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	words := strings.Fields(line)
	if len(words) >= 3 && words[0] == "ffmpeg" && words[1] == "version" {
		return words[2]
	}
	return strings.TrimSpace(line)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
