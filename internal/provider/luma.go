package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fedutinova/everwalk/internal/job"
)

const maxResponseBytes = 1 << 20

// LumaClient calls a Luma style generations API.
type LumaClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewLumaClient(baseURL, apiKey string) *LumaClient {
	return &LumaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type generationRequest struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url,omitempty"`
	Duration int    `json:"duration"`
}

type generationAssets struct {
	Video string `json:"video"`
	Image string `json:"image"`
}

type generationResponse struct {
	ID            string           `json:"id"`
	State         string           `json:"state"`
	Status        string           `json:"status"`
	Progress      int              `json:"progress"`
	VideoURL      string           `json:"video_url"`
	ThumbnailURL  string           `json:"thumbnail_url"`
	Duration      int              `json:"duration"`
	FailureReason string           `json:"failure_reason"`
	Assets        generationAssets `json:"assets"`
}

func (c *LumaClient) Submit(ctx context.Context, imageURL, description string, kind job.InteractionKind) (string, error) {
	body, err := json.Marshal(generationRequest{
		Prompt:   BuildPrompt(description, kind),
		ImageURL: imageURL,
		Duration: job.DefaultDurationSeconds,
	})
	if err != nil {
		return "", &ProviderError{Op: "submit", Cause: err}
	}

	slog.Info("submitting video generation", "interaction", kind)

	var resp generationResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/generations", body, &resp); err != nil {
		return "", &ProviderError{Op: "submit", Cause: err}
	}
	if resp.ID == "" {
		return "", &ProviderError{Op: "submit", Cause: errors.New("response carried no generation id")}
	}
	return resp.ID, nil
}

func (c *LumaClient) Poll(ctx context.Context, providerJobID string) (job.Observation, error) {
	var resp generationResponse
	endpoint := c.baseURL + "/generations/" + url.PathEscape(providerJobID)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return job.Observation{}, &ProviderError{Op: "poll", Cause: err}
	}

	state := resp.State
	if state == "" {
		state = resp.Status
	}
	obs := job.Observation{
		State:           NormalizeState(state),
		Percent:         resp.Progress,
		ArtifactURL:     firstNonEmpty(resp.Assets.Video, resp.VideoURL),
		ThumbnailURL:    firstNonEmpty(resp.Assets.Image, resp.ThumbnailURL),
		DurationSeconds: resp.Duration,
		FailureReason:   resp.FailureReason,
	}
	if obs.State == job.RemoteCompleted && obs.ArtifactURL == "" {
		return job.Observation{}, &ProviderError{Op: "poll", Cause: errors.New("completed generation has no video url")}
	}
	return obs, nil
}

func (c *LumaClient) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Everwalk-Video/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
