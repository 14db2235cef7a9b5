package gpt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/fedutinova/everwalk/internal/models"
	"github.com/fedutinova/everwalk/internal/storage"
	"github.com/sashabaranov/go-openai"
)

// Client writes the pet's voice: image descriptions, replies and diary
// entries. Without an API key it answers with canned text.
type Client struct {
	openAI  *openai.Client
	model   string
	storage storage.Storage
}

type DiaryDraft struct {
	Title   string      `json:"title"`
	Content string      `json:"content"`
	Mood    models.Mood `json:"mood"`
}

func NewClient(apiKey, model string, storageService storage.Storage) *Client {
	c := &Client{model: model, storage: storageService}
	if c.model == "" {
		c.model = openai.GPT4o
	}
	if apiKey != "" {
		c.openAI = openai.NewClient(apiKey)
	} else {
		slog.Warn("OPENAI_API_KEY not set, using canned pet texts")
	}
	return c
}

const describePrompt = "Describe the pet in these photos so a video model can render it faithfully. " +
	"Answer with a JSON object with the keys species, fur_color, eye_color, unique_features, " +
	"body_type and estimated_age (young, adult or senior)."

// DescribePet analyses pet photos. Each ref is either an http(s) URL or a
// storage key, in which case the image is inlined as base64.
func (c *Client) DescribePet(ctx context.Context, imageRefs []string) (string, error) {
	if c.openAI == nil {
		return mockDescription, nil
	}

	var content []openai.ChatMessagePart
	for _, ref := range imageRefs {
		part, err := c.imagePart(ctx, ref)
		if err != nil {
			slog.Error("failed to prepare pet image", "ref", ref, "error", err)
			continue
		}
		content = append(content, *part)
	}
	if len(content) == 0 {
		return "", fmt.Errorf("no usable images to describe")
	}
	content = append(content, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: describePrompt,
	})

	return c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, MultiContent: content},
	}, true)
}

// WritePetReply answers a message from the owner in the pet's voice.
func (c *Client) WritePetReply(ctx context.Context, petName, description, userMessage string) (string, error) {
	if c.openAI == nil {
		return mockReply(userMessage), nil
	}

	system := fmt.Sprintf("You are a pet named '%s' who has passed away and now lives somewhere peaceful. "+
		"Your traits: %s. Reply to your owner warmly and affectionately, from the pet's point of view, "+
		"in 3 to 5 sentences and in the language of the owner's message.", petName, description)

	return c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: userMessage},
	}, false)
}

// WriteDiary writes today's secret diary entry for a pet.
func (c *Client) WriteDiary(ctx context.Context, petName, description string) (*DiaryDraft, error) {
	if c.openAI == nil {
		return mockDiary(), nil
	}

	prompt := fmt.Sprintf("You are a pet named '%s'. Your traits: %s. "+
		"Write today's secret diary entry: a short emotional title, 5 to 7 sentences about missing your owner, "+
		"happy memories or gratitude, and a mood that is one of happy, playful, sleepy, missing_you, grateful. "+
		`Answer with JSON: {"title": "...", "content": "...", "mood": "..."}`, petName, description)

	out, err := c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, true)
	if err != nil {
		return nil, err
	}
	return ParseDiary(out)
}

// ParseDiary reads a diary JSON answer. Unknown moods become HAPPY.
func ParseDiary(raw string) (*DiaryDraft, error) {
	var d struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		Mood    string `json:"mood"`
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("failed to parse diary: %w", err)
	}
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Content) == "" {
		return nil, fmt.Errorf("diary is missing title or content")
	}
	return &DiaryDraft{Title: d.Title, Content: d.Content, Mood: models.ParseMood(d.Mood)}, nil
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage, jsonOut bool) (string, error) {
	start := time.Now()
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: 800,
	}
	if jsonOut {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.openAI.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API error", "error", err, "model", c.model)
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content
	slog.Info("received response from OpenAI",
		"model", resp.Model,
		"tokens_used", resp.Usage.TotalTokens,
		"response_length", len(content),
		"took_ms", time.Since(start).Milliseconds())
	return content, nil
}

func (c *Client) imagePart(ctx context.Context, ref string) (*openai.ChatMessagePart, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return &openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: ref, Detail: openai.ImageURLDetailAuto},
		}, nil
	}

	reader, contentType, err := c.storage.GetFile(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get file from storage: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file is empty: %s", ref)
	}
	if !isImageType(contentType) {
		return nil, fmt.Errorf("not an image: %s (%s)", ref, contentType)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	// OpenAI rejects inline images above roughly 20MB
	if len(encoded) > 20*1024*1024 {
		return nil, fmt.Errorf("image too large: %d bytes (encoded)", len(encoded))
	}

	return &openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    fmt.Sprintf("data:%s;base64,%s", contentType, encoded),
			Detail: openai.ImageURLDetailAuto,
		},
	}, nil
}

func isImageType(contentType string) bool {
	imageTypes := map[string]bool{
		"image/jpeg": true,
		"image/jpg":  true,
		"image/png":  true,
		"image/gif":  true,
		"image/webp": true,
	}
	return imageTypes[contentType]
}

const mockDescription = `{"species": "Golden Retriever", "fur_color": "golden blonde with slightly wavy coat", ` +
	`"eye_color": "warm dark brown", "unique_features": "friendly expression, black nose, fluffy tail", ` +
	`"body_type": "medium to large, athletic build", "estimated_age": "adult"}`

func mockReply(userMessage string) string {
	opener := "Wow"
	if strings.Contains(strings.ToLower(userMessage), "love") || strings.Contains(userMessage, "사랑") {
		opener = "I love you so much too"
	}
	return fmt.Sprintf("%s! I missed you! Hearing from you makes me so happy. I'm always right beside you. Love you!", opener)
}

var mockDiaries = []DiaryDraft{
	{Title: "Missing you", Mood: models.MoodMissingYou,
		Content: "I thought about you a lot today. I miss the path we used to walk together. I'm happy here, so please don't worry. I'm always watching over you."},
	{Title: "A happy day", Mood: models.MoodHappy,
		Content: "I ran around on the clouds today! It is beautiful here. It would be even better with you, but I know we will meet again one day. I'll wait happily until then."},
	{Title: "Thank you", Mood: models.MoodGrateful,
		Content: "Every day I think about how much you loved me. The tasty treats, your warm arms, your kind voice. I miss it all, but they are grateful memories. I hope you are happy too."},
	{Title: "In my dream", Mood: models.MoodPlayful,
		Content: "I met you in my dream today. I miss the times we played together. I was happy to see you, even in a dream. I'll always be by your side."},
	{Title: "Memories", Mood: models.MoodSleepy,
		Content: "I remember the day we first met. Your warm touch, your gentle eyes. I've been happy ever since. We'll be together forever."},
}

func mockDiary() *DiaryDraft {
	d := mockDiaries[rand.IntN(len(mockDiaries))]
	return &d
}
