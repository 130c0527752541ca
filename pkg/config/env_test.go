package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvVarsInData(t *testing.T) {
	t.Setenv("KEPLER_TEST_HOST", "db.internal")
	t.Setenv("KEPLER_TEST_PORT", "5433")
	t.Setenv("KEPLER_TEST_FLAG", "true")

	in := map[string]any{
		"host":    "${KEPLER_TEST_HOST}",
		"port":    "${KEPLER_TEST_PORT}",
		"enabled": "$KEPLER_TEST_FLAG",
		"name":    "${KEPLER_TEST_MISSING:-kepler}",
		"ratio":   "${KEPLER_TEST_RATIO:-0.5}",
		"plain":   "no dollar here",
		"nested": []any{
			"${KEPLER_TEST_HOST}",
			42,
		},
	}

	out, ok := ExpandEnvVarsInData(in).(map[string]any)
	assert.True(t, ok)

	assert.Equal(t, "db.internal", out["host"])
	// Expanded scalars are re-typed.
	assert.Equal(t, 5433, out["port"])
	assert.Equal(t, true, out["enabled"])
	// The default kicks in when the variable is unset.
	assert.Equal(t, "kepler", out["name"])
	assert.Equal(t, 0.5, out["ratio"])
	// Untouched values keep their type and content.
	assert.Equal(t, "no dollar here", out["plain"])
	assert.Equal(t, []any{"db.internal", 42}, out["nested"])
}

func TestExpandEnvVarsInDataUnsetBracedIsEmpty(t *testing.T) {
	out := ExpandEnvVarsInData("${KEPLER_TEST_NEVER_SET}")
	assert.Equal(t, "", out)
}

func TestProviderAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	assert.Equal(t, "sk-test", ProviderAPIKey("openai"))
	assert.Equal(t, "", ProviderAPIKey("ollama"))
}
