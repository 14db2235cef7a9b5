package repository

import (
	"context"
	"fmt"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/database"
	"github.com/fedutinova/everwalk/internal/job"
	"github.com/fedutinova/everwalk/internal/models"
	"github.com/google/uuid"
)

const petColumns = `id, user_id, name, species, ai_description, primary_image_url,
	is_active, memorial_date, created_at, updated_at`

// CreatePet inserts a pet and its images in one transaction. The first image
// becomes the primary one.
func (r *Repository) CreatePet(ctx context.Context, pet *models.Pet) error {
	if pet.ID == uuid.Nil {
		pet.ID = uuid.New()
	}
	pet.IsActive = true
	for i := range pet.Images {
		if pet.Images[i].ID == uuid.Nil {
			pet.Images[i].ID = uuid.New()
		}
		pet.Images[i].PetID = pet.ID
		pet.Images[i].IsPrimary = i == 0
	}
	if len(pet.Images) > 0 {
		pet.PrimaryImageURL = pet.Images[0].ImageURL
	}

	return r.db.WithTx(ctx, func(tx database.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO pets (id, user_id, name, species, ai_description, primary_image_url, is_active, memorial_date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, NOW(), NOW())
			RETURNING created_at, updated_at`,
			pet.ID, pet.UserID, pet.Name, pet.Species, pet.AIDescription, pet.PrimaryImageURL, pet.MemorialDate,
		).Scan(&pet.CreatedAt, &pet.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert pet: %w", err)
		}

		for i := range pet.Images {
			img := &pet.Images[i]
			err := tx.QueryRow(ctx, `
				INSERT INTO pet_images (id, pet_id, image_url, is_primary, uploaded_at)
				VALUES ($1, $2, $3, $4, NOW())
				RETURNING uploaded_at`,
				img.ID, img.PetID, img.ImageURL, img.IsPrimary,
			).Scan(&img.UploadedAt)
			if err != nil {
				return fmt.Errorf("insert pet image: %w", err)
			}
		}
		return nil
	})
}

func scanPet(row interface{ Scan(dest ...any) error }, pet *models.Pet) error {
	return row.Scan(
		&pet.ID,
		&pet.UserID,
		&pet.Name,
		&pet.Species,
		&pet.AIDescription,
		&pet.PrimaryImageURL,
		&pet.IsActive,
		&pet.MemorialDate,
		&pet.CreatedAt,
		&pet.UpdatedAt,
	)
}

// GetPetForOwner returns an active pet owned by userID. Pets that are
// missing, deleted or owned by someone else all read as ErrPetNotFound.
func (r *Repository) GetPetForOwner(ctx context.Context, petID, userID uuid.UUID) (*models.Pet, error) {
	var pet models.Pet
	err := scanPet(r.db.Pool().QueryRow(ctx, `SELECT `+petColumns+`
		FROM pets
		WHERE id = $1 AND user_id = $2 AND is_active`, petID, userID), &pet)
	if err != nil {
		return nil, notFound(err, common.ErrPetNotFound)
	}

	images, err := r.GetPetImages(ctx, pet.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pet images: %w", err)
	}
	pet.Images = images
	return &pet, nil
}

func (r *Repository) GetPetImages(ctx context.Context, petID uuid.UUID) ([]models.PetImage, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, pet_id, image_url, is_primary, uploaded_at
		FROM pet_images
		WHERE pet_id = $1
		ORDER BY is_primary DESC, uploaded_at`, petID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []models.PetImage
	for rows.Next() {
		var img models.PetImage
		if err := rows.Scan(&img.ID, &img.PetID, &img.ImageURL, &img.IsPrimary, &img.UploadedAt); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// ListPets returns the user's active pets, newest first.
func (r *Repository) ListPets(ctx context.Context, userID uuid.UUID) ([]models.Pet, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT `+petColumns+`
		FROM pets
		WHERE user_id = $1 AND is_active
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pets []models.Pet
	for rows.Next() {
		var pet models.Pet
		if err := scanPet(rows, &pet); err != nil {
			return nil, err
		}
		pets = append(pets, pet)
	}
	return pets, rows.Err()
}

// ListActivePets returns every active pet, for scheduled diary writing.
func (r *Repository) ListActivePets(ctx context.Context) ([]models.Pet, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT `+petColumns+`
		FROM pets
		WHERE is_active
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pets []models.Pet
	for rows.Next() {
		var pet models.Pet
		if err := scanPet(rows, &pet); err != nil {
			return nil, err
		}
		pets = append(pets, pet)
	}
	return pets, rows.Err()
}

// DeactivatePet soft deletes a pet.
func (r *Repository) DeactivatePet(ctx context.Context, petID, userID uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE pets SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND is_active`, petID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.ErrPetNotFound
	}
	return nil
}

// ResolveSubject loads what the video worker needs about a pet.
func (r *Repository) ResolveSubject(ctx context.Context, petID, ownerID uuid.UUID) (*job.Subject, error) {
	pet, err := r.GetPetForOwner(ctx, petID, ownerID)
	if err != nil {
		return nil, err
	}
	return &job.Subject{
		ID:             pet.ID,
		OwnerID:        pet.UserID,
		Name:           pet.Name,
		SourceImageURL: pet.PrimaryImageURL,
		Description:    pet.AIDescription,
	}, nil
}
