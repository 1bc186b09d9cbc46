package project

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Repository is the persistence boundary for projects, clips and runs.
// Callers only read whole records and apply partial-field updates.
type Repository interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context, limit int) ([]*Project, error)
	UpdateProject(ctx context.Context, id string, u ProjectUpdate) error

	CreateClip(ctx context.Context, c *Clip) error
	GetClip(ctx context.Context, id string) (*Clip, error)
	ListClips(ctx context.Context, projectID string) ([]*Clip, error)
	UpdateClip(ctx context.Context, id string, u ClipUpdate) error
	UpdateClipAggregates(ctx context.Context, projectID string) (ClipAggregates, error)

	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	ListPendingRuns(ctx context.Context) ([]*Run, error)
	FindActiveRun(ctx context.Context, projectID string) (*Run, error)
	UpdateRun(ctx context.Context, r *Run) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const projectColumns = `id, workspace_id, title, aspect_ratio, music_url, music_volume, generate_audio, status,
	clip_count, completed_clip_count, estimated_cost, actual_cost, final_video_url, duration_seconds,
	thumbnail_url, error, created_at, updated_at`

func (r *SQLiteRepository) CreateProject(ctx context.Context, p *Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.WorkspaceID, p.Title, p.AspectRatio, nullString(p.MusicURL), p.MusicVolume, boolToInt(p.GenerateAudio),
		p.Status, p.ClipCount, p.CompletedClipCount, p.EstimatedCost, p.ActualCost, nullString(p.FinalVideoURL),
		p.DurationSeconds, nullString(p.ThumbnailURL), nullString(p.Error),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *SQLiteRepository) ListProjects(ctx context.Context, limit int) ([]*Project, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *SQLiteRepository) UpdateProject(ctx context.Context, id string, u ProjectUpdate) error {
	var sets []string
	var args []any

	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.ClipCount != nil {
		add("clip_count", *u.ClipCount)
	}
	if u.CompletedClipCount != nil {
		add("completed_clip_count", *u.CompletedClipCount)
	}
	if u.EstimatedCost != nil {
		add("estimated_cost", *u.EstimatedCost)
	}
	if u.ActualCost != nil {
		add("actual_cost", *u.ActualCost)
	}
	if u.FinalVideoURL != nil {
		add("final_video_url", nullString(*u.FinalVideoURL))
	}
	if u.DurationSeconds != nil {
		add("duration_seconds", *u.DurationSeconds)
	}
	if u.ThumbnailURL != nil {
		add("thumbnail_url", nullString(*u.ThumbnailURL))
	}
	if u.Error != nil {
		add("error", nullString(*u.Error))
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", formatTime(time.Now()))
	args = append(args, id)

	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE projects SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	return requireRow(res, "project", id)
}

const clipColumns = `id, project_id, sequence_order, image_url, end_image_url, status, clip_url, transition_url,
	transition_mode, duration_seconds, error, created_at, updated_at`

func (r *SQLiteRepository) CreateClip(ctx context.Context, c *Clip) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (`+clipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ProjectID, c.SequenceOrder, c.ImageURL, nullString(c.EndImageURL), c.Status, nullString(c.ClipURL),
		nullString(c.TransitionURL), c.TransitionMode, c.DurationSeconds, nullString(c.Error),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE id = ?`, id)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *SQLiteRepository) ListClips(ctx context.Context, projectID string) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+clipColumns+` FROM clips WHERE project_id = ? ORDER BY sequence_order ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) UpdateClip(ctx context.Context, id string, u ClipUpdate) error {
	var sets []string
	var args []any
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.ClipURL != nil {
		sets = append(sets, "clip_url = ?")
		args = append(args, nullString(*u.ClipURL))
	}
	if u.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullString(*u.Error))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()), id)

	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE clips SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	return requireRow(res, "clip", id)
}

// UpdateClipAggregates recounts clip states and stores the completed count
// on the project.
func (r *SQLiteRepository) UpdateClipAggregates(ctx context.Context, projectID string) (ClipAggregates, error) {
	var agg ClipAggregates
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' AND clip_url IS NOT NULL AND clip_url != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM clips WHERE project_id = ?
	`, projectID).Scan(&agg.Total, &agg.Completed, &agg.Failed)
	if err != nil {
		return agg, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE projects SET completed_clip_count = ?, updated_at = ? WHERE id = ?
	`, agg.Completed, formatTime(time.Now()), projectID)
	if err != nil {
		return agg, err
	}
	return agg, requireRow(res, "project", projectID)
}

const runColumns = `id, project_id, status, error, final_video_url, succeeded_count, failed_count, actual_cost,
	created_at, updated_at`

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.ProjectID, run.Status, nullString(run.Error), nullString(run.FinalVideoURL),
		run.SucceededCount, run.FailedCount, run.ActualCost, formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (r *SQLiteRepository) ListPendingRuns(ctx context.Context) ([]*Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs WHERE status = 'pending' ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (r *SQLiteRepository) FindActiveRun(ctx context.Context, projectID string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE project_id = ? AND status IN ('pending', 'running')
		ORDER BY created_at ASC LIMIT 1
	`, projectID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteRepository) UpdateRun(ctx context.Context, run *Run) error {
	run.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, final_video_url = ?, succeeded_count = ?, failed_count = ?,
			actual_cost = ?, updated_at = ?
		WHERE id = ?
	`, run.Status, nullString(run.Error), nullString(run.FinalVideoURL), run.SucceededCount, run.FailedCount,
		run.ActualCost, formatTime(run.UpdatedAt), run.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "run", run.ID)
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (*Project, error) {
	var p Project
	var musicURL, finalURL, thumbURL, errMsg sql.NullString
	var generateAudio int
	var createdAt, updatedAt string

	err := s.Scan(&p.ID, &p.WorkspaceID, &p.Title, &p.AspectRatio, &musicURL, &p.MusicVolume, &generateAudio,
		&p.Status, &p.ClipCount, &p.CompletedClipCount, &p.EstimatedCost, &p.ActualCost, &finalURL,
		&p.DurationSeconds, &thumbURL, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.MusicURL = musicURL.String
	p.GenerateAudio = generateAudio == 1
	p.FinalVideoURL = finalURL.String
	p.ThumbnailURL = thumbURL.String
	p.Error = errMsg.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func scanClip(s scanner) (*Clip, error) {
	var c Clip
	var endImage, clipURL, transitionURL, errMsg sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&c.ID, &c.ProjectID, &c.SequenceOrder, &c.ImageURL, &endImage, &c.Status, &clipURL,
		&transitionURL, &c.TransitionMode, &c.DurationSeconds, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.EndImageURL = endImage.String
	c.ClipURL = clipURL.String
	c.TransitionURL = transitionURL.String
	c.Error = errMsg.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var errMsg, finalURL sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&run.ID, &run.ProjectID, &run.Status, &errMsg, &finalURL, &run.SucceededCount,
		&run.FailedCount, &run.ActualCost, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	run.Error = errMsg.String
	run.FinalVideoURL = finalURL.String
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
