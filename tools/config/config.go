// Package config loads the studio configuration from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"canvas-studio/entities/gateway"
	"canvas-studio/entities/orchestrator"
	"canvas-studio/tools/dsl"
	"canvas-studio/tools/logger"
	"canvas-studio/tools/telemetry"
)

// Providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Model configures one gateway route.
type Model struct {
	Provider  string        `toml:"provider"`
	Model     string        `toml:"model"`
	APIKey    string        `toml:"api_key"`
	BaseURL   string        `toml:"base_url"`
	MaxTokens int           `toml:"max_tokens"`
	Timeout   time.Duration `toml:"timeout"`
	// RatePerMinute paces requests on this route; zero disables pacing.
	RatePerMinute float64 `toml:"rate_per_minute"`
	// SystemPromptFile replaces the built-in system framing.
	SystemPromptFile string `toml:"system_prompt_file"`
	// Strict asks providers that support it to enforce the schema
	// server-side.
	Strict bool `toml:"strict"`
}

// Backoff mirrors gateway.Backoff for the file format.
type Backoff struct {
	Base     time.Duration `toml:"base"`
	Max      time.Duration `toml:"max"`
	Attempts int           `toml:"attempts"`
}

// Gateway converts b.
func (b Backoff) Gateway() gateway.Backoff {
	return gateway.Backoff{Base: b.Base, Max: b.Max, Attempts: b.Attempts}
}

// Fonts lists fallback font files. An empty list probes the usual system
// locations.
type Fonts struct {
	Fallbacks []string `toml:"fallbacks"`
}

// Assets locates images referenced by name.
type Assets struct {
	Dir string `toml:"dir"`
}

// Archive enables per-iteration output when Dir is set.
type Archive struct {
	Dir string `toml:"dir"`
}

// Output is where presented interfaces are written.
type Output struct {
	Path string `toml:"path"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level"`
}

// Config is the whole studio configuration.
type Config struct {
	Canvas    dsl.CanvasSpec             `toml:"canvas"`
	Planner   Model                      `toml:"planner"`
	Critic    Model                      `toml:"critic"`
	Loop      orchestrator.Config        `toml:"loop"`
	Backoff   Backoff                    `toml:"backoff"`
	Fonts     Fonts                      `toml:"fonts"`
	Assets    Assets                     `toml:"assets"`
	Archive   Archive                    `toml:"archive"`
	Output    Output                     `toml:"output"`
	Log       Log                        `toml:"log"`
	Telemetry telemetry.Config           `toml:"telemetry"`
	Pricing   map[string]gateway.Pricing `toml:"pricing"`
}

// Default returns a configuration that works with only an API key set.
func Default() *Config {
	return &Config{
		Canvas: dsl.CanvasSpec{Width: 800, Height: 600, Background: dsl.White},
		Planner: Model{
			Provider:  ProviderAnthropic,
			Model:     "claude-sonnet-4-5",
			MaxTokens: 8192,
			Timeout:   3 * time.Minute,
		},
		// Critique is a yes/no judgement; a cheaper model than the planner.
		Critic: Model{
			Provider:  ProviderAnthropic,
			Model:     "claude-haiku-4-5",
			MaxTokens: 1024,
			Timeout:   time.Minute,
		},
		Loop:      orchestrator.DefaultConfig(),
		Backoff:   Backoff{Base: gateway.DefaultBackoff.Base, Max: gateway.DefaultBackoff.Max, Attempts: gateway.DefaultBackoff.Attempts},
		Output:    Output{Path: "./output/interface.png"},
		Log:       Log{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
		Pricing: map[string]gateway.Pricing{
			"claude-sonnet-4-5": {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
			"claude-haiku-4-5":  {Input: 1, Output: 5, CacheRead: 0.1, CacheWrite: 1.25},
			"gpt-4.1":           {Input: 2, Output: 8, CacheRead: 0.5},
			"gpt-4.1-mini":      {Input: 0.4, Output: 1.6, CacheRead: 0.1},
		},
	}
}

// Load reads path on top of the defaults and then applies environment
// overrides. An empty path skips the file. Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	num("CANVAS_WIDTH", &c.Canvas.Width)
	num("CANVAS_HEIGHT", &c.Canvas.Height)
	if v := os.Getenv("CANVAS_BACKGROUND"); v != "" {
		bg, err := dsl.ParseColor(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CANVAS_BACKGROUND: %w", err))
		} else {
			c.Canvas.Background = bg
		}
	}
	str("CANVAS_PLANNER_PROVIDER", &c.Planner.Provider)
	str("CANVAS_PLANNER_MODEL", &c.Planner.Model)
	str("CANVAS_CRITIC_PROVIDER", &c.Critic.Provider)
	str("CANVAS_CRITIC_MODEL", &c.Critic.Model)
	num("CANVAS_MAX_ITERATIONS", &c.Loop.MaxIterations)
	str("CANVAS_ARCHIVE_DIR", &c.Archive.Dir)
	str("CANVAS_ASSETS_DIR", &c.Assets.Dir)
	str("CANVAS_OUTPUT", &c.Output.Path)
	str("CANVAS_LOG_LEVEL", &c.Log.Level)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	c.Planner.APIKey = keyFor(c.Planner)
	c.Critic.APIKey = keyFor(c.Critic)
	return errors.Join(errs...)
}

// keyFor falls back to the provider's conventional environment variable.
func keyFor(m Model) string {
	if m.APIKey != "" {
		return m.APIKey
	}
	switch m.Provider {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Canvas.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("canvas: %w", err))
	}
	for _, route := range []struct {
		name string
		m    Model
	}{{"planner", c.Planner}, {"critic", c.Critic}} {
		name, m := route.name, route.m
		switch m.Provider {
		case ProviderAnthropic, ProviderOpenAI:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown provider %q", name, m.Provider))
		}
		if m.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: API key required (api_key or the provider's environment variable)", name))
		}
		if m.MaxTokens < 0 || m.Timeout < 0 || m.RatePerMinute < 0 {
			errs = append(errs, fmt.Errorf("%s: max_tokens, timeout and rate_per_minute must not be negative", name))
		}
	}
	if err := c.Loop.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("loop: %w", err))
	}
	if c.Backoff.Attempts < 1 || c.Backoff.Base <= 0 || c.Backoff.Max < c.Backoff.Base {
		errs = append(errs, errors.New("backoff: need attempts >= 1 and 0 < base <= max"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry: sample_rate must be within [0, 1]"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	return errors.Join(errs...)
}

// SystemPrompt reads m's prompt override, if any.
func (m Model) SystemPrompt() (string, error) {
	if m.SystemPromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(m.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return string(data), nil
}
