package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-studio/tools/config"
	"canvas-studio/tools/dsl"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studio.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func clearEnv(t *testing.T) {
	for _, name := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "CANVAS_WIDTH", "CANVAS_HEIGHT", "CANVAS_BACKGROUND",
		"CANVAS_PLANNER_PROVIDER", "CANVAS_PLANNER_MODEL", "CANVAS_CRITIC_PROVIDER", "CANVAS_CRITIC_MODEL",
		"CANVAS_MAX_ITERATIONS", "CANVAS_ARCHIVE_DIR", "CANVAS_ASSETS_DIR", "CANVAS_OUTPUT", "CANVAS_LOG_LEVEL",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(name, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, dsl.CanvasSpec{Width: 800, Height: 600, Background: dsl.White}, cfg.Canvas)
	assert.Equal(t, 4, cfg.Loop.MaxIterations)
	assert.Equal(t, 0.3, cfg.Loop.SnapshotScale)
	assert.Equal(t, "sk-test", cfg.Planner.APIKey)
	assert.Equal(t, "sk-test", cfg.Critic.APIKey)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Planner.Model)
	assert.Equal(t, "claude-haiku-4-5", cfg.Critic.Model)
	assert.NotEqual(t, cfg.Planner.Model, cfg.Critic.Model)
	planner, critic := cfg.Pricing[cfg.Planner.Model], cfg.Pricing[cfg.Critic.Model]
	assert.Less(t, critic.Output, planner.Output, "critique routes to the cheaper model")
	assert.Empty(t, cfg.Telemetry.Endpoint)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	path := writeConfig(t, `
[canvas]
width = 320
height = 240
background = "#F0F0F0"

[planner]
provider = "anthropic"
model = "claude-opus-4-5"
api_key = "sk-file"
timeout = "90s"
rate_per_minute = 30

[critic]
provider = "openai"
model = "gpt-4.1-mini"
strict = true

[loop]
max_iterations = 6
corrective_retries = 1
transport_retries = 1
snapshot_scale = 0.5
present_scale = 2

[backoff]
base = "500ms"
max = "10s"
attempts = 3

[archive]
dir = "/tmp/archive"

[pricing."gpt-4.1-mini"]
input = 0.4
output = 1.6
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, dsl.CanvasSpec{Width: 320, Height: 240, Background: dsl.MustColor("#F0F0F0")}, cfg.Canvas)
	assert.Equal(t, "claude-opus-4-5", cfg.Planner.Model)
	assert.Equal(t, "sk-file", cfg.Planner.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Planner.Timeout)
	assert.Equal(t, 30.0, cfg.Planner.RatePerMinute)
	assert.Equal(t, 8192, cfg.Planner.MaxTokens, "unset keys keep their defaults")
	assert.Equal(t, "sk-openai", cfg.Critic.APIKey)
	assert.True(t, cfg.Critic.Strict)
	assert.Equal(t, 6, cfg.Loop.MaxIterations)
	assert.Equal(t, 2.0, cfg.Loop.PresentScale)
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff.Gateway().Base)
	assert.Equal(t, "/tmp/archive", cfg.Archive.Dir)
	assert.Equal(t, 1.6, cfg.Pricing["gpt-4.1-mini"].Output)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[canvas]
width = 320
height = 240

[planner]
api_key = "sk-file"

[critic]
api_key = "sk-file"
`)
	t.Setenv("CANVAS_WIDTH", "1024")
	t.Setenv("CANVAS_BACKGROUND", "#000000")
	t.Setenv("CANVAS_PLANNER_MODEL", "claude-haiku-4-5")
	t.Setenv("CANVAS_MAX_ITERATIONS", "2")
	t.Setenv("CANVAS_LOG_LEVEL", "debug")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Canvas.Width)
	assert.Equal(t, 240, cfg.Canvas.Height)
	assert.Equal(t, dsl.MustColor("#000000"), cfg.Canvas.Background)
	assert.Equal(t, "claude-haiku-4-5", cfg.Planner.Model)
	assert.Equal(t, 2, cfg.Loop.MaxIterations)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(writeConfig(t, "[canvas]\nwidht = 3\n"))
	assert.ErrorContains(t, err, "unknown keys: canvas.widht")

	_, err = config.Load(writeConfig(t, "[canvas\n"))
	assert.Error(t, err)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	t.Setenv("CANVAS_WIDTH", "wide")
	t.Setenv("CANVAS_BACKGROUND", "blue")
	_, err = config.Load("")
	assert.ErrorContains(t, err, "CANVAS_WIDTH")
	assert.ErrorContains(t, err, "CANVAS_BACKGROUND")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg := config.Default()
	cfg.Canvas.Width = 0
	cfg.Critic.Provider = "local"
	cfg.Loop.MaxIterations = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"canvas:", "planner: API key required", "critic: unknown provider", "loop:", "log:"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestSystemPrompt(t *testing.T) {
	m := config.Model{}
	prompt, err := m.SystemPrompt()
	require.NoError(t, err)
	assert.Empty(t, prompt)

	m.SystemPromptFile = filepath.Join(t.TempDir(), "system.txt")
	require.NoError(t, os.WriteFile(m.SystemPromptFile, []byte("Design calm interfaces."), 0644))
	prompt, err = m.SystemPrompt()
	require.NoError(t, err)
	assert.Equal(t, "Design calm interfaces.", prompt)
}
