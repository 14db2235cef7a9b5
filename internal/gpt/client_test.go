package gpt

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fedutinova/everwalk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDiary(t *testing.T) {
	d, err := ParseDiary(`{"title":"Clouds","content":"I played all day.","mood":"missing_you"}`)
	require.NoError(t, err)
	assert.Equal(t, "Clouds", d.Title)
	assert.Equal(t, models.MoodMissingYou, d.Mood)

	d, err = ParseDiary(`{"title":"x","content":"y","mood":"ecstatic"}`)
	require.NoError(t, err)
	assert.Equal(t, models.MoodHappy, d.Mood)

	_, err = ParseDiary(`{"title":"","content":"y"}`)
	assert.Error(t, err)

	_, err = ParseDiary(`not json`)
	assert.Error(t, err)
}

func TestClient_WithoutKeyUsesCannedTexts(t *testing.T) {
	c := NewClient("", "", nil)
	ctx := context.Background()

	desc, err := c.DescribePet(ctx, []string{"https://img.test/a.jpg"})
	require.NoError(t, err)
	var fields map[string]string
	require.NoError(t, json.Unmarshal([]byte(desc), &fields))
	assert.Equal(t, "Golden Retriever", fields["species"])

	reply, err := c.WritePetReply(ctx, "Coco", desc, "I love you")
	require.NoError(t, err)
	assert.Contains(t, reply, "I love you so much too")

	d, err := c.WriteDiary(ctx, "Coco", desc)
	require.NoError(t, err)
	assert.NotEmpty(t, d.Title)
	assert.NotEmpty(t, d.Content)
	assert.Contains(t, []models.Mood{
		models.MoodHappy, models.MoodPlayful, models.MoodSleepy, models.MoodMissingYou, models.MoodGrateful,
	}, d.Mood)
}
