package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBuildSummarizerPrompt(t *testing.T) {
	payload, err := buildSummarizerPrompt([]string{"what is Go?", "show me an example"})
	require.NoError(t, err)

	body := gjson.ParseBytes(payload)
	assert.Equal(t, derivedCallModel, body.Get("model").String())
	assert.Equal(t, "system", body.Get("messages.0.role").String())
	assert.Equal(t, summarizerSystemPrompt, body.Get("messages.0.content").String())
	assert.Contains(t, body.Get("messages.1.content").String(), "what is Go?")

	// Zero temperature must survive serialization for deterministic output.
	temp := body.Get("temperature")
	require.True(t, temp.Exists())
	assert.Zero(t, temp.Float())
}

func TestBuildMetadataPrompt(t *testing.T) {
	payload, err := buildMetadataPrompt("engineer", `{"messages":[],"model":"gpt-4"}`)
	require.NoError(t, err)

	body := gjson.ParseBytes(payload)
	assert.Equal(t, metadataSystemPrompt, body.Get("messages.0.content").String())
	user := body.Get("messages.1.content").String()
	assert.Contains(t, user, "engineer")
	assert.Contains(t, user, `"model":"gpt-4"`)
	assert.True(t, body.Get("temperature").Exists())
}
