package repository

import (
	"context"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/models"
	"github.com/google/uuid"
)

func (r *Repository) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return r.db.Pool().QueryRow(ctx, `
		INSERT INTO messages (id, pet_id, sender_type, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at`,
		m.ID, m.PetID, m.SenderType, m.Content, m.IsRead,
	).Scan(&m.CreatedAt)
}

// ListMessages returns a conversation oldest first.
func (r *Repository) ListMessages(ctx context.Context, petID uuid.UUID) ([]models.Message, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, pet_id, sender_type, content, is_read, created_at
		FROM messages
		WHERE pet_id = $1
		ORDER BY created_at`, petID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.PetID, &m.SenderType, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *Repository) MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE messages m SET is_read = TRUE
		FROM pets p
		WHERE m.id = $1 AND p.id = m.pet_id AND p.user_id = $2 AND p.is_active`, messageID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.ErrMessageNotFound
	}
	return nil
}

func (r *Repository) CountUnreadMessages(ctx context.Context, petID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE pet_id = $1 AND sender_type = $2 AND NOT is_read`,
		petID, models.SenderPet,
	).Scan(&n)
	return n, err
}
