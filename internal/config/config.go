// Package config loads the sidekick configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/alexsjones/sidekick/internal/logging"
	"github.com/alexsjones/sidekick/internal/sidecar"
)

// Config is the root of sidekick.yaml.
type Config struct {
	LogLevel string   `yaml:"logLevel"`
	Sidecars Sidecars `yaml:"sidecars"`
	LLM      LLM      `yaml:"llm"`
	Memory   Memory   `yaml:"memory"`
	Bot      Bot      `yaml:"bot"`
	TTS      TTS      `yaml:"tts"`
	EventBus EventBus `yaml:"eventBus"`
	HTTP     HTTP     `yaml:"http"`
}

// Sidecars holds the process settings of each sidecar kind.
type Sidecars struct {
	LLM    Sidecar `yaml:"llm"`
	Memory Sidecar `yaml:"memory"`
	Bot    Sidecar `yaml:"bot"`
	TTS    Sidecar `yaml:"tts"`
}

// Sidecar describes how one sidecar process is launched and supervised.
type Sidecar struct {
	Enabled         bool          `yaml:"enabled"`
	Path            string        `yaml:"path"`
	Args            []string      `yaml:"args"`
	Env             []string      `yaml:"env"`
	Stderr          string        `yaml:"stderr"`
	ReadyTimeout    time.Duration `yaml:"readyTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	SettleDelay     time.Duration `yaml:"settleDelay"`
	EventBuffer     int           `yaml:"eventBuffer"`
}

// LLM configures the inference sidecar backend.
type LLM struct {
	// Provider is "openai" (any OpenAI-compatible server) or "anthropic".
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"baseURL"`
	APIKeyEnv string `yaml:"apiKeyEnv"`
	// ModelPath is loaded on start when set.
	ModelPath string `yaml:"modelPath"`
	MaxTokens int    `yaml:"maxTokens"`
}

// Memory configures the memory sidecar.
type Memory struct {
	// Store is "sqlite" or "postgres".
	Store           string `yaml:"store"`
	DSN             string `yaml:"dsn"`
	EmbeddingModel  string `yaml:"embeddingModel"`
	TTLDays         int    `yaml:"ttlDays"`
	CleanupSchedule string `yaml:"cleanupSchedule"`
}

// Bot configures the voice bot sidecar.
type Bot struct {
	Token    string `yaml:"token"`
	TokenEnv string `yaml:"tokenEnv"`
	// GuildID and ChannelID, when both set, are joined on start.
	GuildID   string `yaml:"guildID"`
	ChannelID string `yaml:"channelID"`
	Listen    bool   `yaml:"listen"`
}

// TTS configures the speech sidecar.
type TTS struct {
	BaseURL   string `yaml:"baseURL"`
	APIKeyEnv string `yaml:"apiKeyEnv"`
	// ModelPath is a voice profile loaded on start when set.
	ModelPath    string `yaml:"modelPath"`
	OutputDevice string `yaml:"outputDevice"`
	// Aplay overrides the playback executable.
	Aplay string `yaml:"aplay"`
}

// EventBus configures where bot events are published. An empty URL keeps
// events in process.
type EventBus struct {
	URL string `yaml:"url"`
}

// HTTP configures the daemon's API listener.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Sidecars: Sidecars{
			LLM: Sidecar{
				Enabled:        true,
				Path:           DefaultSidecarPath("llm-sidecar"),
				Stderr:         string(sidecar.StderrSuppress),
				ReadyTimeout:   sidecar.DefaultReadyTimeout,
				RequestTimeout: 5 * time.Minute,
				SettleDelay:    500 * time.Millisecond,
			},
			Memory: Sidecar{
				Enabled:        true,
				Path:           DefaultSidecarPath("memory-sidecar"),
				Stderr:         string(sidecar.StderrSuppress),
				ReadyTimeout:   sidecar.DefaultReadyTimeout,
				RequestTimeout: sidecar.DefaultRequestTimeout,
				SettleDelay:    500 * time.Millisecond,
			},
			Bot: Sidecar{
				Enabled:        false,
				Path:           DefaultSidecarPath("bot-sidecar"),
				Stderr:         string(sidecar.StderrInherit),
				ReadyTimeout:   sidecar.DefaultReadyTimeout,
				RequestTimeout: sidecar.DefaultRequestTimeout,
				SettleDelay:    100 * time.Millisecond,
				EventBuffer:    sidecar.DefaultEventBuffer,
			},
			TTS: Sidecar{
				Enabled:        false,
				Path:           DefaultSidecarPath("tts-sidecar"),
				Stderr:         string(sidecar.StderrInherit),
				ReadyTimeout:   sidecar.DefaultReadyTimeout,
				RequestTimeout: 2 * time.Minute,
				SettleDelay:    100 * time.Millisecond,
			},
		},
		LLM: LLM{
			Provider:  "openai",
			APIKeyEnv: "OPENAI_API_KEY",
			MaxTokens: 512,
		},
		Memory: Memory{
			Store:           "sqlite",
			DSN:             filepath.Join(dataDir(), "memory.db"),
			EmbeddingModel:  "hash-256",
			TTLDays:         30,
			CleanupSchedule: "@daily",
		},
		Bot: Bot{
			TokenEnv: "DISCORD_BOT_TOKEN",
		},
		TTS: TTS{
			APIKeyEnv: "OPENAI_API_KEY",
		},
		HTTP: HTTP{Addr: "127.0.0.1:8686"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"SIDEKICK_LLM_SIDECAR", &c.Sidecars.LLM.Path},
		{"SIDEKICK_MEMORY_SIDECAR", &c.Sidecars.Memory.Path},
		{"SIDEKICK_BOT_SIDECAR", &c.Sidecars.Bot.Path},
		{"SIDEKICK_TTS_SIDECAR", &c.Sidecars.TTS.Path},
		{"SIDEKICK_EVENT_BUS_URL", &c.EventBus.URL},
		{"SIDEKICK_HTTP_ADDR", &c.HTTP.Addr},
		{"SIDEKICK_MEMORY_DSN", &c.Memory.DSN},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.Sidecars.LLM.Path,
		&c.Sidecars.Memory.Path,
		&c.Sidecars.Bot.Path,
		&c.Sidecars.TTS.Path,
		&c.LLM.ModelPath,
		&c.TTS.ModelPath,
	} {
		*p = ExpandPath(*p)
	}
	if c.Memory.Store == "sqlite" {
		c.Memory.DSN = ExpandPath(c.Memory.DSN)
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	for name, sc := range map[string]Sidecar{
		"llm":    c.Sidecars.LLM,
		"memory": c.Sidecars.Memory,
		"bot":    c.Sidecars.Bot,
		"tts":    c.Sidecars.TTS,
	} {
		if !sc.Enabled {
			continue
		}
		if sc.Path == "" {
			errs = append(errs, fmt.Errorf("sidecars.%s.path is required", name))
		}
		switch sidecar.StderrPolicy(sc.Stderr) {
		case "", sidecar.StderrSuppress, sidecar.StderrInherit, sidecar.StderrLog:
		default:
			errs = append(errs, fmt.Errorf("sidecars.%s.stderr: unknown policy %q", name, sc.Stderr))
		}
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	switch c.Memory.Store {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("memory.store: unknown store %q", c.Memory.Store))
	}
	if c.Memory.TTLDays < 0 {
		errs = append(errs, errors.New("memory.ttlDays must not be negative"))
	}
	return errors.Join(errs...)
}

// BotToken resolves the bot token from the file or its environment variable.
func (c *Config) BotToken() string {
	if c.Bot.Token != "" {
		return c.Bot.Token
	}
	if c.Bot.TokenEnv != "" {
		return os.Getenv(c.Bot.TokenEnv)
	}
	return ""
}

// SidecarConfig converts sc into the supervisor's process config.
func (sc Sidecar) SidecarConfig(name string, log logr.Logger, metrics sidecar.Metrics) sidecar.Config {
	return sidecar.Config{
		Name:            name,
		Path:            sc.Path,
		Args:            sc.Args,
		Env:             sc.Env,
		Stderr:          sidecar.StderrPolicy(sc.Stderr),
		ReadyTimeout:    sc.ReadyTimeout,
		RequestTimeout:  sc.RequestTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
		Log:             log.WithName(name),
		Metrics:         metrics,
	}
}

// LLMSidecar returns the process config of the inference sidecar. Backend
// selection travels as flags; backend logging is silenced.
func (c *Config) LLMSidecar(log logr.Logger, metrics sidecar.Metrics) sidecar.Config {
	sc := c.Sidecars.LLM.SidecarConfig("llm", log, metrics)
	sc.Args = append([]string{"--provider", c.LLM.Provider}, sc.Args...)
	if c.LLM.BaseURL != "" {
		sc.Args = append(sc.Args, "--base-url", c.LLM.BaseURL)
	}
	if c.LLM.APIKeyEnv != "" {
		sc.Args = append(sc.Args, "--api-key-env", c.LLM.APIKeyEnv)
	}
	sc.Env = append([]string{logging.EnvLevel + "=error"}, sc.Env...)
	return sc
}

// MemorySidecar returns the process config of the memory sidecar.
func (c *Config) MemorySidecar(log logr.Logger, metrics sidecar.Metrics) sidecar.Config {
	sc := c.Sidecars.Memory.SidecarConfig("memory", log, metrics)
	sc.Args = append([]string{"--store", c.Memory.Store, "--dsn", c.Memory.DSN, "--model", c.Memory.EmbeddingModel}, sc.Args...)
	sc.Env = append([]string{logging.EnvLevel + "=error"}, sc.Env...)
	return sc
}

// BotSidecar returns the process config of the voice bot sidecar.
func (c *Config) BotSidecar(log logr.Logger, metrics sidecar.Metrics) sidecar.Config {
	return c.Sidecars.Bot.SidecarConfig("bot", log, metrics)
}

// TTSSidecar returns the process config of the speech sidecar.
func (c *Config) TTSSidecar(log logr.Logger, metrics sidecar.Metrics) sidecar.Config {
	sc := c.Sidecars.TTS.SidecarConfig("tts", log, metrics)
	var args []string
	if c.TTS.BaseURL != "" {
		args = append(args, "--base-url", c.TTS.BaseURL)
	}
	if c.TTS.APIKeyEnv != "" {
		args = append(args, "--api-key-env", c.TTS.APIKeyEnv)
	}
	if c.TTS.Aplay != "" {
		args = append(args, "--aplay", c.TTS.Aplay)
	}
	sc.Args = append(args, sc.Args...)
	return sc
}

// DefaultSidecarPath looks for name next to the running executable, then
// falls back to the bare name for a PATH lookup.
func DefaultSidecarPath(name string) string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return name
}

func dataDir() string {
	if d := os.Getenv("SIDEKICK_DATA_DIR"); d != "" {
		return d
	}
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "sidekick")
	}
	return "."
}

// ExpandPath resolves a leading ~ in p.
func ExpandPath(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
