package generate

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository persists job records in sqlite. The orchestrator writes stage
// transitions through it; the API layer reads job history from it.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, stage, caption_style, target_duration_s, pitch_up, video_url, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.UserID, job.Stage, job.CaptionStyle, job.TargetDurationS,
		boolToInt(job.PitchUp), job.VideoURL, job.Error,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("cannot create job %s: %w", job.ID, err)
	}
	return nil
}

// SetStage records a stage transition. VideoURL and errMessage are only
// meaningful for the terminal stages and are empty otherwise.
func (r *Repository) SetStage(ctx context.Context, jobID, stage, videoURL, errMessage string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET stage = ?, video_url = ?, error = ?, updated_at = ? WHERE id = ?
	`, stage, videoURL, errMessage, now, jobID)
	if err != nil {
		return fmt.Errorf("cannot update job %s: %w", jobID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, jobID string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, stage, caption_style, target_duration_s, pitch_up, video_url, error, created_at, updated_at
		FROM jobs WHERE id = ?
	`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read job %s: %w", jobID, err)
	}
	return job, nil
}

// List returns recent jobs, newest first. An empty userID lists all users.
func (r *Repository) List(ctx context.Context, userID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, stage, caption_style, target_duration_s, pitch_up, video_url, error, created_at, updated_at
		FROM jobs`
	args := []any{}
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("cannot scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var pitchUp int
	var createdAt, updatedAt string

	err := row.Scan(&job.ID, &job.UserID, &job.Stage, &job.CaptionStyle,
		&job.TargetDurationS, &pitchUp, &job.VideoURL, &job.Error,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.PitchUp = pitchUp != 0
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
