package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/reelforge/internal/export"
	"github.com/heimdex/reelforge/internal/project"
)

const listLimit = 50

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	if cfg.Media != nil {
		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/media/*", cfg.Media.ServeHTTP)
			r.Head("/media/*", cfg.Media.ServeHTTP)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/projects", createProjectHandler(cfg))
		r.Get("/projects/{id}", getProjectHandler(cfg))
		r.Get("/projects/{id}/clips", listClipsHandler(cfg))
		r.Get("/projects/{id}/progress", getProgressHandler(cfg))
		r.Get("/projects/{id}/edl", exportEDLHandler(cfg))
		r.Post("/projects/{id}/runs", requestRunHandler(cfg))
		r.Get("/runs", listRunsHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))
		r.Post("/runner/pause", pauseHandler(cfg))
		r.Post("/runner/resume", resumeHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		pending, _ := cfg.Repository.ListPendingRuns(ctx)
		runs, _ := cfg.Repository.ListRuns(ctx, 10)

		resp := StatusResponse{State: "stopped", PendingRuns: len(pending)}
		if cfg.Runner != nil {
			resp.ActiveRuns = cfg.Runner.ActiveRuns()
			switch {
			case cfg.Runner.IsPaused():
				resp.State = "paused"
			case resp.ActiveRuns > 0:
				resp.State = "rendering"
			case cfg.Runner.IsRunning():
				resp.State = "idle"
			}
		}

		for _, run := range runs {
			if run.Status == project.RunStatusFailed {
				resp.LastError = run.Error
				break
			}
		}

		if cfg.Probe != nil {
			caps, _ := cfg.Probe.Get(ctx)
			if caps != nil {
				resp.FFmpeg = &FFmpegResponse{
					Available: caps.Available,
					Version:   caps.Version,
					Path:      caps.Path,
					Error:     caps.Error,
				}
				if !caps.ProbedAt.IsZero() {
					resp.FFmpeg.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req project.NewProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		p, clips, err := cfg.Service.CreateProject(r.Context(), req)
		if err != nil {
			writeServiceError(cfg, w, err)
			return
		}

		WriteJSON(w, http.StatusCreated, CreateProjectResponse{
			Project: ProjectToResponse(p),
			Clips:   ClipsToResponse(clips),
		})
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := loadProject(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(p))
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := loadProject(cfg, w, r)
		if !ok {
			return
		}

		clips, err := cfg.Service.GetClips(r.Context(), p.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list clips", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, ClipsResponse{Clips: ClipsToResponse(clips)})
	}
}

func getProgressHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		p, err := cfg.Progress.Latest(r.Context(), id)
		if err != nil {
			cfg.Logger.Error("failed to read progress", "project_id", id, "error", err)
			WriteError(w, http.StatusServiceUnavailable, "progress unavailable", "UNAVAILABLE")
			return
		}
		if p == nil {
			WriteError(w, http.StatusNotFound, "no progress recorded", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, ProgressToResponse(p))
	}
}

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := loadProject(cfg, w, r)
		if !ok {
			return
		}
		if p.Status != project.StatusCompleted {
			WriteError(w, http.StatusConflict, "project has no compiled video yet", "CONFLICT")
			return
		}

		clips, err := cfg.Service.GetClips(r.Context(), p.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list clips", "INTERNAL_ERROR")
			return
		}

		title := p.Title
		if title == "" {
			title = p.ID
		}
		name := export.Filename(p.Title, p.ID) + ".edl"

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, export.EDL(title, export.Events(clips), export.DefaultFrameRate))
	}
}

func requestRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := cfg.Service.RequestRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(cfg, w, err)
			return
		}

		if cfg.Runner != nil {
			cfg.Runner.Notify()
		}
		WriteJSON(w, http.StatusAccepted, RunToResponse(run))
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := cfg.Repository.ListRuns(r.Context(), listLimit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := cfg.Service.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load run", "INTERNAL_ERROR")
			return
		}
		if run == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, RunToResponse(run))
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not available", "UNAVAILABLE")
			return
		}
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, RunnerStateResponse{Paused: true, Running: cfg.Runner.IsRunning()})
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not available", "UNAVAILABLE")
			return
		}
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, RunnerStateResponse{Paused: false, Running: cfg.Runner.IsRunning()})
	}
}

func loadProject(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*project.Project, bool) {
	p, err := cfg.Service.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load project", "INTERNAL_ERROR")
		return nil, false
	}
	if p == nil {
		WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
		return nil, false
	}
	return p, true
}

// writeServiceError maps service sentinels to status codes. Anything
// unrecognised is an internal error and its text is not echoed.
func writeServiceError(cfg ServerConfig, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, project.ErrInvalidRequest):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, project.ErrNotFound):
		WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
	case errors.Is(err, project.ErrInvalidState):
		WriteError(w, http.StatusConflict, project.ErrInvalidState.Error(), "CONFLICT")
	default:
		cfg.Logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
