package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/gpt"
	"github.com/fedutinova/everwalk/internal/memq"
	"github.com/fedutinova/everwalk/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCompanionRepo struct {
	pets     map[uuid.UUID]models.Pet
	messages []models.Message
	diaries  []models.DiaryEntry
}

func newMockCompanionRepo(pets ...models.Pet) *mockCompanionRepo {
	r := &mockCompanionRepo{pets: make(map[uuid.UUID]models.Pet)}
	for _, p := range pets {
		r.pets[p.ID] = p
	}
	return r
}

func (r *mockCompanionRepo) GetPetForOwner(_ context.Context, petID, userID uuid.UUID) (*models.Pet, error) {
	p, ok := r.pets[petID]
	if !ok || p.UserID != userID || !p.IsActive {
		return nil, common.ErrPetNotFound
	}
	return &p, nil
}

func (r *mockCompanionRepo) ListActivePets(context.Context) ([]models.Pet, error) {
	var out []models.Pet
	for _, p := range r.pets {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *mockCompanionRepo) CreateMessage(_ context.Context, m *models.Message) error {
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	r.messages = append(r.messages, *m)
	return nil
}

func (r *mockCompanionRepo) CreateDiaryEntry(_ context.Context, e *models.DiaryEntry) error {
	e.ID = uuid.New()
	r.diaries = append(r.diaries, *e)
	return nil
}

type mockWriter struct {
	replyErr error
	diaryErr func(petName string) error
}

func (w *mockWriter) WritePetReply(_ context.Context, petName, _, userMessage string) (string, error) {
	if w.replyErr != nil {
		return "", w.replyErr
	}
	return petName + " heard: " + userMessage, nil
}

func (w *mockWriter) WriteDiary(_ context.Context, petName, _ string) (*gpt.DiaryDraft, error) {
	if w.diaryErr != nil {
		if err := w.diaryErr(petName); err != nil {
			return nil, err
		}
	}
	return &gpt.DiaryDraft{Title: "Clouds", Content: petName + " ran on the clouds.", Mood: models.MoodPlayful}, nil
}

func testPet(name string) models.Pet {
	return models.Pet{ID: uuid.New(), UserID: uuid.New(), Name: name, IsActive: true}
}

func TestCompanion_SendMessageSchedulesReply(t *testing.T) {
	pet := testPet("Coco")
	repo := newMockCompanionRepo(pet)
	queue := &mockDispatcher{}
	svc := NewCompanionService(repo, &mockWriter{}, queue)
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, pet.ID, pet.UserID, "I miss you")
	require.NoError(t, err)
	assert.Equal(t, models.SenderUser, msg.SenderType)
	assert.True(t, msg.IsRead)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, memq.TypePetReply, queue.tasks[0].Type)

	require.NoError(t, svc.HandleReplyTask(ctx, queue.tasks[0]))
	require.Len(t, repo.messages, 2)
	reply := repo.messages[1]
	assert.Equal(t, models.SenderPet, reply.SenderType)
	assert.False(t, reply.IsRead)
	assert.Equal(t, "Coco heard: I miss you", reply.Content)
}

func TestCompanion_SendMessageToForeignPet(t *testing.T) {
	pet := testPet("Coco")
	repo := newMockCompanionRepo(pet)
	queue := &mockDispatcher{}
	svc := NewCompanionService(repo, &mockWriter{}, queue)

	_, err := svc.SendMessage(context.Background(), pet.ID, uuid.New(), "hi")
	assert.True(t, common.IsNotFound(err))
	assert.Empty(t, repo.messages)
	assert.Empty(t, queue.tasks)
}

func TestCompanion_MessageKeptWhenReplyCannotBeScheduled(t *testing.T) {
	pet := testPet("Coco")
	repo := newMockCompanionRepo(pet)
	queue := &mockDispatcher{enqueueFunc: func(context.Context, *memq.Task) error {
		return common.ErrQueueFull
	}}
	svc := NewCompanionService(repo, &mockWriter{}, queue)

	msg, err := svc.SendMessage(context.Background(), pet.ID, pet.UserID, "hi")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, msg.ID)
	assert.Len(t, repo.messages, 1)
}

func TestCompanion_ReplyFailureStoresNothing(t *testing.T) {
	pet := testPet("Coco")
	repo := newMockCompanionRepo(pet)
	svc := NewCompanionService(repo, &mockWriter{replyErr: errors.New("rate limited")}, &mockDispatcher{})

	task, err := memq.NewTask(memq.TypePetReply, PetReplyPayload{PetID: pet.ID, UserID: pet.UserID, Message: "hi"})
	require.NoError(t, err)
	assert.Error(t, svc.HandleReplyTask(context.Background(), task))
	assert.Empty(t, repo.messages)
}

func TestCompanion_WriteDiary(t *testing.T) {
	pet := testPet("Coco")
	repo := newMockCompanionRepo(pet)
	svc := NewCompanionService(repo, &mockWriter{}, &mockDispatcher{})

	entry, err := svc.WriteDiary(context.Background(), pet.ID, pet.UserID)
	require.NoError(t, err)
	assert.Equal(t, pet.ID, entry.PetID)
	assert.Equal(t, models.MoodPlayful, entry.Mood)
	assert.False(t, entry.IsRead)

	_, err = svc.WriteDiary(context.Background(), pet.ID, uuid.New())
	assert.True(t, common.IsNotFound(err))
}

func TestCompanion_DailyDiariesSkipFailures(t *testing.T) {
	coco, bori, inactive := testPet("Coco"), testPet("Bori"), testPet("Nabi")
	inactive.IsActive = false
	repo := newMockCompanionRepo(coco, bori, inactive)
	writer := &mockWriter{diaryErr: func(name string) error {
		if name == "Bori" {
			return errors.New("model overloaded")
		}
		return nil
	}}
	svc := NewCompanionService(repo, writer, &mockDispatcher{})

	n, err := svc.WriteDailyDiaries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, repo.diaries, 1)
	assert.Equal(t, coco.ID, repo.diaries[0].PetID)
}

func TestNextMidnight(t *testing.T) {
	loc := time.FixedZone("KST", 9*60*60)
	now := time.Date(2026, 3, 31, 23, 59, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, loc), nextMidnight(now))

	now = time.Date(2026, 4, 1, 0, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 4, 2, 0, 0, 0, 0, loc), nextMidnight(now))
}
