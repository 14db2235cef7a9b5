// Package provider talks to the external video generation service.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fedutinova/everwalk/internal/job"
)

// Provider starts a remote render and reports on it. Submit returns the
// provider's own job id.
type Provider interface {
	Submit(ctx context.Context, imageURL, description string, kind job.InteractionKind) (string, error)
	Poll(ctx context.Context, providerJobID string) (job.Observation, error)
}

// ProviderError wraps any failure talking to the provider.
type ProviderError struct {
	Op    string
	Cause error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NormalizeState folds provider state names onto the four states the job
// worker understands. Unknown states count as processing.
func NormalizeState(raw string) job.RemoteState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending", "in_queue", "waiting":
		return job.RemoteQueued
	case "completed", "complete", "succeeded", "success", "done":
		return job.RemoteCompleted
	case "failed", "error", "cancelled", "canceled", "timed_out":
		return job.RemoteFailed
	default:
		return job.RemoteProcessing
	}
}

var actionPhrases = map[job.InteractionKind]string{
	job.InteractionFeeding: "eating food from a bowl with happy, natural movements",
	job.InteractionPetting: "being petted and showing affection, looking content",
	job.InteractionPlaying: "playing with a toy energetically and joyfully",
	job.InteractionWalking: "walking naturally with a gentle, relaxed gait",
}

// BuildPrompt turns a pet description and interaction into a render prompt.
func BuildPrompt(description string, kind job.InteractionKind) string {
	description = subjectPhrase(description)
	if strings.TrimSpace(description) == "" {
		description = "a beloved pet"
	}
	action, ok := actionPhrases[kind]
	if !ok {
		action = "moving naturally"
	}
	return fmt.Sprintf("A realistic video of %s, %s. High quality, natural motion, %d seconds.",
		description, action, job.DefaultDurationSeconds)
}

type petTraits struct {
	Species        string `json:"species"`
	FurColor       string `json:"fur_color"`
	EyeColor       string `json:"eye_color"`
	UniqueFeatures string `json:"unique_features"`
	BodyType       string `json:"body_type"`
}

// subjectPhrase turns a structured pet description into prose. Plain text
// passes through unchanged.
func subjectPhrase(description string) string {
	trimmed := strings.TrimSpace(description)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	var t petTraits
	if err := json.Unmarshal([]byte(trimmed), &t); err != nil || t.Species == "" {
		return trimmed
	}

	phrase := "a " + t.Species
	var traits []string
	if t.FurColor != "" {
		traits = append(traits, t.FurColor+" fur")
	}
	if t.EyeColor != "" {
		traits = append(traits, t.EyeColor+" eyes")
	}
	if t.BodyType != "" {
		traits = append(traits, t.BodyType)
	}
	if t.UniqueFeatures != "" {
		traits = append(traits, t.UniqueFeatures)
	}
	if len(traits) > 0 {
		phrase += " with " + strings.Join(traits, "; ")
	}
	return phrase
}
