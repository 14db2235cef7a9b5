package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	// Roles holds role names; their permissions are resolved by the auth package.
	Roles []string `json:"roles,omitempty"`
}

type RefreshToken struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	TokenHash string     `json:"-" db:"token_hash"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Pet is a memorialized companion. Deleting a pet only clears IsActive.
type Pet struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	UserID          uuid.UUID  `json:"user_id" db:"user_id"`
	Name            string     `json:"name" db:"name"`
	Species         string     `json:"species,omitempty" db:"species"`
	AIDescription   string     `json:"ai_description,omitempty" db:"ai_description"`
	PrimaryImageURL string     `json:"primary_image_url,omitempty" db:"primary_image_url"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	MemorialDate    *time.Time `json:"memorial_date,omitempty" db:"memorial_date"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	Images          []PetImage `json:"images,omitempty"`
}

type PetImage struct {
	ID         uuid.UUID `json:"id" db:"id"`
	PetID      uuid.UUID `json:"pet_id" db:"pet_id"`
	ImageURL   string    `json:"image_url" db:"image_url"`
	IsPrimary  bool      `json:"is_primary" db:"is_primary"`
	UploadedAt time.Time `json:"uploaded_at" db:"uploaded_at"`
}

type Mood string

const (
	MoodHappy      Mood = "HAPPY"
	MoodPlayful    Mood = "PLAYFUL"
	MoodSleepy     Mood = "SLEEPY"
	MoodMissingYou Mood = "MISSING_YOU"
	MoodGrateful   Mood = "GRATEFUL"
)

// ParseMood accepts lower case names; anything unknown is HAPPY.
func ParseMood(raw string) Mood {
	switch m := Mood(strings.ToUpper(strings.TrimSpace(raw))); m {
	case MoodHappy, MoodPlayful, MoodSleepy, MoodMissingYou, MoodGrateful:
		return m
	default:
		return MoodHappy
	}
}

type DiaryEntry struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PetID     uuid.UUID `json:"pet_id" db:"pet_id"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"`
	Mood      Mood      `json:"mood" db:"mood"`
	IsRead    bool      `json:"is_read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type SenderType string

const (
	SenderUser SenderType = "USER"
	SenderPet  SenderType = "PET"
)

type Message struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	PetID      uuid.UUID  `json:"pet_id" db:"pet_id"`
	SenderType SenderType `json:"sender_type" db:"sender_type"`
	Content    string     `json:"content" db:"content"`
	IsRead     bool       `json:"is_read" db:"is_read"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
