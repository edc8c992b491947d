// Package storage persists jobs, analyses, and rendered clips to
// Postgres. The schema is created on startup; all writes are upserts so
// retried jobs never violate uniqueness.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/charo360/revo3/repurpose-worker/internal/logging"
	"github.com/charo360/revo3/repurpose-worker/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = fmt.Errorf("not found")

// Manager owns the Postgres connection pool.
type Manager struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewManager connects to Postgres and ensures the schema exists.
func NewManager(postgresURL string) (*Manager, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	m := &Manager{db: db, log: logging.WithComponent("storage")}
	if err := m.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS repurpose`,
		`CREATE TABLE IF NOT EXISTS repurpose.jobs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			source_url TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INT NOT NULL DEFAULT 0,
			error_message TEXT,
			options JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS jobs_status_idx ON repurpose.jobs (status)`,
		`CREATE TABLE IF NOT EXISTS repurpose.repurposed_videos (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES repurpose.jobs(id),
			source_url TEXT NOT NULL,
			duration DOUBLE PRECISION NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			clip_count INT NOT NULL,
			mean_virality_score DOUBLE PRECISION NOT NULL,
			processing_time_ms BIGINT NOT NULL,
			total_output_bytes BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS repurpose.viral_clips (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES repurpose.jobs(id),
			moment_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			duration DOUBLE PRECISION NOT NULL,
			virality_score DOUBLE PRECISION NOT NULL,
			aspect_ratio TEXT NOT NULL,
			resolution TEXT NOT NULL,
			file_path TEXT NOT NULL,
			thumbnail_path TEXT,
			file_size BIGINT NOT NULL,
			frame_count INT NOT NULL,
			fps INT NOT NULL,
			audio_enabled BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS viral_clips_job_idx ON repurpose.viral_clips (job_id)`,
		`CREATE TABLE IF NOT EXISTS repurpose.ml_analyses (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES repurpose.jobs(id),
			analysis_version TEXT NOT NULL,
			processing_time_ms BIGINT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, s := range stmts {
		if _, err := m.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// StoreJob inserts or refreshes a job row.
func (m *Manager) StoreJob(ctx context.Context, job *models.RepurposeJob) error {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal job options: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO repurpose.jobs (id, user_id, source_url, status, progress, error_message, options)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			error_message = EXCLUDED.error_message,
			options = EXCLUDED.options,
			updated_at = now()`,
		job.ID, job.UserID, job.SourceURL, string(job.Status), job.Progress,
		nullIfEmpty(job.ErrorMessage), opts)
	if err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJobStatus transitions a job's status. errMsg is only persisted
// for failures.
func (m *Manager) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE repurpose.jobs
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1`,
		jobID, string(status), nullIfEmpty(errMsg))
	if err != nil {
		return fmt.Errorf("failed to update status for job %s: %w", jobID, err)
	}
	return nil
}

// UpdateJobProgress records the current progress percentage.
func (m *Manager) UpdateJobProgress(ctx context.Context, jobID string, progress int) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE repurpose.jobs
		SET progress = $2, updated_at = now()
		WHERE id = $1`,
		jobID, progress)
	if err != nil {
		return fmt.Errorf("failed to update progress for job %s: %w", jobID, err)
	}
	return nil
}

// GetJob loads one job row.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*models.RepurposeJob, error) {
	var (
		job     models.RepurposeJob
		status  string
		errMsg  sql.NullString
		rawOpts []byte
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, source_url, status, progress, error_message, options
		FROM repurpose.jobs WHERE id = $1`, jobID).
		Scan(&job.ID, &job.UserID, &job.SourceURL, &status, &job.Progress, &errMsg, &rawOpts)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	job.Status = models.JobStatus(status)
	job.ErrorMessage = errMsg.String
	if len(rawOpts) > 0 {
		if err := json.Unmarshal(rawOpts, &job.Options); err != nil {
			return nil, fmt.Errorf("failed to decode options for job %s: %w", jobID, err)
		}
	}
	return &job, nil
}

// StoreRepurposedVideo persists the per-job result summary.
func (m *Manager) StoreRepurposedVideo(ctx context.Context, v *models.RepurposedVideo) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO repurpose.repurposed_videos
			(id, job_id, source_url, duration, width, height, clip_count,
			 mean_virality_score, processing_time_ms, total_output_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			clip_count = EXCLUDED.clip_count,
			mean_virality_score = EXCLUDED.mean_virality_score,
			processing_time_ms = EXCLUDED.processing_time_ms,
			total_output_bytes = EXCLUDED.total_output_bytes`,
		v.ID, v.JobID, v.SourceURL, v.Duration, v.Width, v.Height,
		v.ClipCount, v.MeanViralityScore, v.ProcessingTimeMs, v.TotalOutputBytes)
	if err != nil {
		return fmt.Errorf("failed to store repurposed video for job %s: %w", v.JobID, err)
	}
	return nil
}

// StoreViralClips persists rendered clips in one transaction.
func (m *Manager) StoreViralClips(ctx context.Context, clips []models.ViralClip) error {
	if len(clips) == 0 {
		return nil
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clip transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range clips {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO repurpose.viral_clips
				(id, job_id, moment_id, platform, start_time, end_time, duration,
				 virality_score, aspect_ratio, resolution, file_path, thumbnail_path,
				 file_size, frame_count, fps, audio_enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (id) DO NOTHING`,
			c.ID, c.JobID, c.MomentID, string(c.Platform), c.StartTime, c.EndTime,
			c.Duration, c.ViralityScore, c.AspectRatio, c.Resolution, c.FilePath,
			nullIfEmpty(c.ThumbnailPath), c.FileSize, c.FrameCount, c.FPS, c.AudioEnabled)
		if err != nil {
			return fmt.Errorf("failed to store clip %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clips: %w", err)
	}
	return nil
}

// StoreMLAnalysis persists the full analysis payload as JSON.
func (m *Manager) StoreMLAnalysis(ctx context.Context, a *models.MLAnalysis) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO repurpose.ml_analyses (id, job_id, analysis_version, processing_time_ms, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.JobID, a.AnalysisVersion, a.ProcessingTimeMs, payload)
	if err != nil {
		return fmt.Errorf("failed to store analysis for job %s: %w", a.JobID, err)
	}
	return nil
}

// FailStuckJobs marks jobs that have been processing longer than the
// deadline as failed and returns how many were failed.
func (m *Manager) FailStuckJobs(ctx context.Context, deadline time.Duration) (int, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE repurpose.jobs
		SET status = $1, error_message = 'job exceeded processing deadline', updated_at = now()
		WHERE status = $2 AND updated_at < now() - $3::interval`,
		string(models.StatusFailed), string(models.StatusProcessing),
		fmt.Sprintf("%d seconds", int(deadline.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to fail stuck jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	return m.db.Close()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
