// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Provider identifiers. Both OpenAI-compatible providers are addressed by
// base URL; the aggregator additionally requires attribution headers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGroq       = "groq"
	ProviderGemini     = "gemini"
)

// LoggerConfig controls the zap bootstrap.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig locates the running browser and bounds its operations.
type BrowserConfig struct {
	// DevToolsURL is the ws:// or http://host:port endpoint of a running
	// Chrome instance started with --remote-debugging-port.
	DevToolsURL       string        `mapstructure:"devtools_url" yaml:"devtools_url"`
	FrameTimeout      time.Duration `mapstructure:"frame_timeout" yaml:"frame_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	NavigationSettle  time.Duration `mapstructure:"navigation_settle" yaml:"navigation_settle"`
}

// LLMConfig configures the dispatcher and its providers.
type LLMConfig struct {
	Provider      string        `mapstructure:"provider" yaml:"provider"`
	Model         string        `mapstructure:"model" yaml:"model"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	VisionModel   string        `mapstructure:"vision_model" yaml:"vision_model"`
	SearchEnabled bool          `mapstructure:"search_enabled" yaml:"search_enabled"`
	SearchModel   string        `mapstructure:"search_model" yaml:"search_model"`
	Temperature   float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// RequestsPerMinute caps outbound chat calls across all providers.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	// HistoryTokenBudget bounds the rolling conversation window in tokens,
	// on top of the six-entry cap.
	HistoryTokenBudget int `mapstructure:"history_token_budget" yaml:"history_token_budget"`
	// Referer and AppTitle feed the aggregator's attribution headers.
	Referer  string `mapstructure:"referer" yaml:"referer"`
	AppTitle string `mapstructure:"app_title" yaml:"app_title"`
}

// LoopConfig bounds the agent loop.
type LoopConfig struct {
	MaxStepsNormal int           `mapstructure:"max_steps_normal" yaml:"max_steps_normal"`
	MaxStepsQuiz   int           `mapstructure:"max_steps_quiz" yaml:"max_steps_quiz"`
	StepPause      time.Duration `mapstructure:"step_pause" yaml:"step_pause"`
	QuizClickPause time.Duration `mapstructure:"quiz_click_pause" yaml:"quiz_click_pause"`
	DragSettle     time.Duration `mapstructure:"drag_settle" yaml:"drag_settle"`
}

// StorageConfig selects and locates the settings backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "file" or "postgres"
	Path    string `mapstructure:"path" yaml:"path"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// Config is the root configuration object. Access goes through getters so
// callers can be handed the narrow section they need.
type Config struct {
	logger  LoggerConfig  `mapstructure:"-"`
	browser BrowserConfig `mapstructure:"-"`
	llm     LLMConfig     `mapstructure:"-"`
	loop    LoopConfig    `mapstructure:"-"`
	storage StorageConfig `mapstructure:"-"`
}

func (c *Config) Logger() LoggerConfig   { return c.logger }
func (c *Config) Browser() BrowserConfig { return c.browser }
func (c *Config) LLM() LLMConfig         { return c.llm }
func (c *Config) Loop() LoopConfig       { return c.loop }
func (c *Config) Storage() StorageConfig { return c.storage }

func (c *Config) SetLLMProvider(p string)    { c.llm.Provider = p }
func (c *Config) SetLLMModel(m string)       { c.llm.Model = m }
func (c *Config) SetLLMAPIKey(k string)      { c.llm.APIKey = k }
func (c *Config) SetLLMVisionModel(m string) { c.llm.VisionModel = m }
func (c *Config) SetSearchEnabled(b bool)    { c.llm.SearchEnabled = b }
func (c *Config) SetSearchModel(m string)    { c.llm.SearchModel = m }

// DefaultDir returns the per-user configuration directory.
func DefaultDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".tabpilot"), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "tabpilot")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.devtools_url", "http://127.0.0.1:9222")
	v.SetDefault("browser.frame_timeout", 3*time.Second)
	v.SetDefault("browser.navigation_timeout", 15*time.Second)
	v.SetDefault("browser.navigation_settle", 500*time.Millisecond)

	v.SetDefault("llm.provider", ProviderOpenRouter)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.history_token_budget", 24000)
	v.SetDefault("llm.referer", "https://github.com/nv4re/tabpilot")
	v.SetDefault("llm.app_title", "tabpilot")

	v.SetDefault("loop.max_steps_normal", 15)
	v.SetDefault("loop.max_steps_quiz", 25)
	v.SetDefault("loop.step_pause", 800*time.Millisecond)
	v.SetDefault("loop.quiz_click_pause", 2500*time.Millisecond)
	v.SetDefault("loop.drag_settle", 800*time.Millisecond)

	v.SetDefault("storage.backend", "file")
}

// Load reads configuration from the given file (or the default location when
// empty), layering environment variables with the TABPILOT_ prefix on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TABPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicit file must exist; the default location may not.
		var notFound viper.ConfigFileNotFoundError
		if path != "" {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var raw struct {
		Logger  LoggerConfig  `mapstructure:"logger"`
		Browser BrowserConfig `mapstructure:"browser"`
		LLM     LLMConfig     `mapstructure:"llm"`
		Loop    LoopConfig    `mapstructure:"loop"`
		Storage StorageConfig `mapstructure:"storage"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg := &Config{
		logger:  raw.Logger,
		browser: raw.Browser,
		llm:     raw.LLM,
		loop:    raw.Loop,
		storage: raw.Storage,
	}
	if cfg.storage.Path == "" {
		if dir, err := DefaultDir(); err == nil {
			cfg.storage.Path = filepath.Join(dir, "settings.json")
		}
	}
	return cfg, nil
}

// Validate checks the fields a run cannot proceed without.
func (c *Config) Validate() error {
	if c.llm.APIKey == "" {
		return fmt.Errorf("llm.api_key is not configured")
	}
	if c.llm.Model == "" {
		return fmt.Errorf("llm.model is not configured")
	}
	switch c.llm.Provider {
	case ProviderOpenRouter, ProviderGroq, ProviderGemini:
	default:
		return fmt.Errorf("unknown llm.provider %q, supported: [%s %s %s]",
			c.llm.Provider, ProviderOpenRouter, ProviderGroq, ProviderGemini)
	}
	return nil
}
