package repository

import (
	"context"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/models"
	"github.com/google/uuid"
)

func (r *Repository) CreateDiaryEntry(ctx context.Context, e *models.DiaryEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.db.Pool().QueryRow(ctx, `
		INSERT INTO diary_entries (id, pet_id, title, content, mood, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at`,
		e.ID, e.PetID, e.Title, e.Content, e.Mood, e.IsRead,
	).Scan(&e.CreatedAt)
}

func (r *Repository) ListDiaryEntries(ctx context.Context, petID uuid.UUID) ([]models.DiaryEntry, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, pet_id, title, content, mood, is_read, created_at
		FROM diary_entries
		WHERE pet_id = $1
		ORDER BY created_at DESC`, petID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.DiaryEntry
	for rows.Next() {
		var e models.DiaryEntry
		if err := rows.Scan(&e.ID, &e.PetID, &e.Title, &e.Content, &e.Mood, &e.IsRead, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetDiaryEntryForOwner hides entries of other users' or deleted pets.
func (r *Repository) GetDiaryEntryForOwner(ctx context.Context, diaryID, userID uuid.UUID) (*models.DiaryEntry, error) {
	var e models.DiaryEntry
	err := r.db.Pool().QueryRow(ctx, `
		SELECT d.id, d.pet_id, d.title, d.content, d.mood, d.is_read, d.created_at
		FROM diary_entries d
		INNER JOIN pets p ON p.id = d.pet_id
		WHERE d.id = $1 AND p.user_id = $2 AND p.is_active`, diaryID, userID,
	).Scan(&e.ID, &e.PetID, &e.Title, &e.Content, &e.Mood, &e.IsRead, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err, common.ErrDiaryNotFound)
	}
	return &e, nil
}

func (r *Repository) MarkDiaryRead(ctx context.Context, diaryID, userID uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE diary_entries d SET is_read = TRUE
		FROM pets p
		WHERE d.id = $1 AND p.id = d.pet_id AND p.user_id = $2 AND p.is_active`, diaryID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.ErrDiaryNotFound
	}
	return nil
}

func (r *Repository) CountUnreadDiaries(ctx context.Context, petID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM diary_entries WHERE pet_id = $1 AND NOT is_read`, petID,
	).Scan(&n)
	return n, err
}
