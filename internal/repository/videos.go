package repository

import (
	"context"

	"github.com/fedutinova/everwalk/internal/job"
	"github.com/google/uuid"
)

// SaveArtifact records a finished video.
func (r *Repository) SaveArtifact(ctx context.Context, a *job.Artifact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.DurationSeconds <= 0 {
		a.DurationSeconds = job.DefaultDurationSeconds
	}

	return r.db.Pool().QueryRow(ctx, `
		INSERT INTO videos (id, pet_id, interaction_type, video_url, thumbnail_url, duration_seconds, provider_job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at`,
		a.ID, a.SubjectID, a.InteractionKind, a.VideoURL, a.ThumbnailURL, a.DurationSeconds, a.ProviderJobID,
	).Scan(&a.CreatedAt)
}

// ListVideos returns a pet's videos, newest first.
func (r *Repository) ListVideos(ctx context.Context, petID uuid.UUID) ([]job.Artifact, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, pet_id, interaction_type, video_url, thumbnail_url, duration_seconds, provider_job_id, created_at
		FROM videos
		WHERE pet_id = $1
		ORDER BY created_at DESC`, petID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []job.Artifact
	for rows.Next() {
		var a job.Artifact
		if err := rows.Scan(
			&a.ID,
			&a.SubjectID,
			&a.InteractionKind,
			&a.VideoURL,
			&a.ThumbnailURL,
			&a.DurationSeconds,
			&a.ProviderJobID,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		videos = append(videos, a)
	}
	return videos, rows.Err()
}
