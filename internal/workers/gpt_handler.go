package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/gpt"
	"github.com/fedutinova/everwalk/internal/memq"
	"github.com/fedutinova/everwalk/internal/models"
	"github.com/google/uuid"
)

// PetWriter produces text in a pet's voice.
type PetWriter interface {
	WritePetReply(ctx context.Context, petName, description, userMessage string) (string, error)
	WriteDiary(ctx context.Context, petName, description string) (*gpt.DiaryDraft, error)
}

// CompanionRepo is the storage the pet's messages and diary need.
type CompanionRepo interface {
	GetPetForOwner(ctx context.Context, petID, userID uuid.UUID) (*models.Pet, error)
	ListActivePets(ctx context.Context) ([]models.Pet, error)
	CreateMessage(ctx context.Context, m *models.Message) error
	CreateDiaryEntry(ctx context.Context, e *models.DiaryEntry) error
}

type PetReplyPayload struct {
	PetID   uuid.UUID `json:"pet_id"`
	UserID  uuid.UUID `json:"user_id"`
	Message string    `json:"message"`
}

// CompanionService handles messages to a pet and the pet's diary.
type CompanionService struct {
	repo   CompanionRepo
	writer PetWriter
	queue  memq.Dispatcher
}

func NewCompanionService(repo CompanionRepo, writer PetWriter, queue memq.Dispatcher) *CompanionService {
	return &CompanionService{repo: repo, writer: writer, queue: queue}
}

// SendMessage stores the owner's message as read and schedules the pet's
// reply. A reply that cannot be scheduled is logged; the message stays.
func (s *CompanionService) SendMessage(ctx context.Context, petID, userID uuid.UUID, content string) (*models.Message, error) {
	if _, err := s.repo.GetPetForOwner(ctx, petID, userID); err != nil {
		return nil, err
	}
	msg := &models.Message{
		PetID:      petID,
		SenderType: models.SenderUser,
		Content:    content,
		IsRead:     true,
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, common.WrapInternal("save message", err)
	}

	task, err := memq.NewTask(memq.TypePetReply, PetReplyPayload{PetID: petID, UserID: userID, Message: content})
	if err != nil {
		return nil, common.WrapInternal("build reply task", err)
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		slog.Warn("pet reply not scheduled", "pet_id", petID, "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

// HandleReplyTask writes the pet's answer to a message.
func (s *CompanionService) HandleReplyTask(ctx context.Context, t *memq.Task) error {
	if t.Type != memq.TypePetReply {
		return fmt.Errorf("unexpected task type: %s", t.Type)
	}

	var payload PetReplyPayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	pet, err := s.repo.GetPetForOwner(ctx, payload.PetID, payload.UserID)
	if err != nil {
		return fmt.Errorf("failed to load pet: %w", err)
	}

	start := time.Now()
	reply, err := s.writer.WritePetReply(ctx, pet.Name, pet.AIDescription, payload.Message)
	if err != nil {
		slog.Error("pet reply failed", "pet_id", pet.ID, "error", err)
		return fmt.Errorf("pet reply failed: %w", err)
	}

	msg := &models.Message{
		PetID:      pet.ID,
		SenderType: models.SenderPet,
		Content:    reply,
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to save reply: %w", err)
	}

	slog.Info("pet reply saved",
		"pet_id", pet.ID,
		"message_id", msg.ID,
		"processing_time_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// WriteDiary writes a new diary entry for one of the user's pets.
func (s *CompanionService) WriteDiary(ctx context.Context, petID, userID uuid.UUID) (*models.DiaryEntry, error) {
	pet, err := s.repo.GetPetForOwner(ctx, petID, userID)
	if err != nil {
		return nil, err
	}
	return s.writeDiary(ctx, pet)
}

func (s *CompanionService) writeDiary(ctx context.Context, pet *models.Pet) (*models.DiaryEntry, error) {
	draft, err := s.writer.WriteDiary(ctx, pet.Name, pet.AIDescription)
	if err != nil {
		return nil, fmt.Errorf("failed to write diary: %w", err)
	}
	entry := &models.DiaryEntry{
		PetID:   pet.ID,
		Title:   draft.Title,
		Content: draft.Content,
		Mood:    draft.Mood,
	}
	if err := s.repo.CreateDiaryEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save diary: %w", err)
	}
	slog.Info("diary entry written", "pet_id", pet.ID, "diary_id", entry.ID, "mood", entry.Mood)
	return entry, nil
}

// WriteDailyDiaries writes one entry for every active pet. A failure for one
// pet does not stop the others.
func (s *CompanionService) WriteDailyDiaries(ctx context.Context) (int, error) {
	pets, err := s.repo.ListActivePets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active pets: %w", err)
	}
	var written int
	for i := range pets {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		if _, err := s.writeDiary(ctx, &pets[i]); err != nil {
			slog.Error("daily diary failed", "pet_id", pets[i].ID, "error", err)
			continue
		}
		written++
	}
	slog.Info("daily diaries written", "count", written, "pets", len(pets))
	return written, nil
}

// RunDailyDiaries writes the daily diaries at every local midnight until ctx
// ends.
func (s *CompanionService) RunDailyDiaries(ctx context.Context) {
	for {
		wait := time.Until(nextMidnight(time.Now()))
		slog.Info("next daily diary run", "in", wait.Round(time.Second))
		if err := SleepWaiter(ctx, wait); err != nil {
			return
		}
		if _, err := s.WriteDailyDiaries(ctx); err != nil {
			slog.Error("daily diary run failed", "error", err)
		}
	}
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
