package jobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/database"
	"github.com/fedutinova/everwalk/internal/job"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Postgres stores jobs in video_jobs. The version column is the CAS token.
type Postgres struct {
	q database.Querier
}

func NewPostgres(q database.Querier) *Postgres {
	return &Postgres{q: q}
}

const jobColumns = `id, pet_id, owner_id, interaction_type, status, provider_job_id,
	progress_percent, error_message, error_kind, version, created_at, completed_at`

func (p *Postgres) Create(ctx context.Context, j *job.Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Version = 1

	_, err := p.q.Exec(ctx, `
		INSERT INTO video_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		j.ID, j.SubjectID, j.OwnerID, j.InteractionKind, j.Status, j.ProviderJobID,
		j.ProgressPercent, j.ErrorMessage, j.ErrorKind, j.Version, j.CreatedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert video job: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	var j job.Job
	err := p.q.QueryRow(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE id = $1`, id).Scan(
		&j.ID,
		&j.SubjectID,
		&j.OwnerID,
		&j.InteractionKind,
		&j.Status,
		&j.ProviderJobID,
		&j.ProgressPercent,
		&j.ErrorMessage,
		&j.ErrorKind,
		&j.Version,
		&j.CreatedAt,
		&j.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select video job: %w", err)
	}
	return &j, nil
}

func (p *Postgres) CompareAndSwap(ctx context.Context, current, next job.Job) (*job.Job, error) {
	tag, err := p.q.Exec(ctx, `
		UPDATE video_jobs SET
			status           = $1,
			provider_job_id  = $2,
			progress_percent = $3,
			error_message    = $4,
			error_kind       = $5,
			completed_at     = $6,
			version          = version + 1
		WHERE id = $7
		  AND version = $8`,
		next.Status, next.ProviderJobID, next.ProgressPercent, next.ErrorMessage,
		next.ErrorKind, next.CompletedAt, current.ID, current.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update video job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		next.ID = current.ID
		next.Version = current.Version + 1
		return &next, nil
	}

	// Zero rows: tell a missing row apart from a stale version.
	var exists bool
	if err := p.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM video_jobs WHERE id = $1)`, current.ID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check video job: %w", err)
	}
	if !exists {
		return nil, common.ErrJobNotFound
	}
	return nil, fmt.Errorf("job %s moved past version %d: %w", current.ID, current.Version, common.ErrConflict)
}

// ListUnfinished returns jobs that never reached a terminal state, oldest first.
func (p *Postgres) ListUnfinished(ctx context.Context) ([]job.Job, error) {
	rows, err := p.q.Query(ctx, `SELECT `+jobColumns+`
		FROM video_jobs
		WHERE status IN ('PENDING', 'PROCESSING')
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		var j job.Job
		if err := rows.Scan(
			&j.ID, &j.SubjectID, &j.OwnerID, &j.InteractionKind, &j.Status, &j.ProviderJobID,
			&j.ProgressPercent, &j.ErrorMessage, &j.ErrorKind, &j.Version, &j.CreatedAt, &j.CompletedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
