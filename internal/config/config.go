// Package config loads the YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for chatsum.
type Config struct {
	OneBot   OneBotConfig   `yaml:"onebot" json:"onebot"`
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
	Prompts  PromptsConfig  `yaml:"prompts" json:"prompts"`
	Triggers TriggersConfig `yaml:"triggers" json:"triggers"`
	Retry    RetryConfig    `yaml:"retry" json:"retry"`
	Extract  ExtractConfig  `yaml:"extract" json:"extract"`
	Render   RenderConfig   `yaml:"render" json:"render"`
	Dispatch DispatchConfig `yaml:"dispatch" json:"dispatch"`
	Admin    AdminConfig    `yaml:"admin" json:"admin"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// OneBotConfig points at the forward websocket of a OneBot v11
// implementation (NapCat, Lagrange, go-cqhttp).
type OneBotConfig struct {
	URL                   string `yaml:"url" json:"url"`
	AccessToken           string `yaml:"accessToken,omitempty" json:"accessToken,omitempty"`
	ActionTimeoutSeconds  int    `yaml:"actionTimeoutSeconds" json:"actionTimeoutSeconds"`
	ReconnectDelaySeconds int    `yaml:"reconnectDelaySeconds" json:"reconnectDelaySeconds"`
}

type LLMConfig struct {
	APIBase        string           `yaml:"apiBase" json:"apiBase"`
	APIKey         string           `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	Model          string           `yaml:"model" json:"model"`
	TimeoutSeconds int              `yaml:"timeoutSeconds" json:"timeoutSeconds"`
	MaxRetries     int              `yaml:"maxRetries" json:"maxRetries"`
	Fallbacks      []EndpointConfig `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"` // tried in order when the primary fails
}

// EndpointConfig is an additional OpenAI-compatible endpoint.
type EndpointConfig struct {
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	APIBase string `yaml:"apiBase" json:"apiBase"`
	APIKey  string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	Model   string `yaml:"model" json:"model"`
}

type PromptsConfig struct {
	System   string `yaml:"system" json:"system"`     // persona for summaries
	Identify string `yaml:"identify" json:"identify"` // instruction for image identification
}

type TriggersConfig struct {
	Summarize string `yaml:"summarize" json:"summarize"`
	Identify  string `yaml:"identify" json:"identify"`
}

type RetryConfig struct {
	TopLevel BudgetConfig `yaml:"topLevel" json:"topLevel"`
	Nested   BudgetConfig `yaml:"nested" json:"nested"`
}

type BudgetConfig struct {
	Attempts    int `yaml:"attempts" json:"attempts"`
	BaseDelayMs int `yaml:"baseDelayMs" json:"baseDelayMs"`
}

type ExtractConfig struct {
	MaxDepth int `yaml:"maxDepth" json:"maxDepth"`
}

type RenderConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	ChromePath     string `yaml:"chromePath,omitempty" json:"chromePath,omitempty"`
	NoSandbox      bool   `yaml:"noSandbox" json:"noSandbox"`
	Width          int    `yaml:"width" json:"width"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" json:"timeoutSeconds"`
}

type DispatchConfig struct {
	Concurrency      int `yaml:"concurrency" json:"concurrency"`
	RateBurst        int `yaml:"rateBurst" json:"rateBurst"`               // per-user burst; 0 disables the per-user limit
	RatePerMinute    int `yaml:"ratePerMinute" json:"ratePerMinute"`       // per-user refill
	LLMRatePerMinute int `yaml:"llmRatePerMinute" json:"llmRatePerMinute"` // global; 0 disables
}

// AdminConfig configures the health and metrics endpoint.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug | info | warn | error
	Format string `yaml:"format" json:"format"` // text | json
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.chatsum).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatsum"
	}
	return filepath.Join(home, ".chatsum")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// LoadDotEnv reads .env.local and .env from dir, if present. Variables that
// are already set in the environment win.
func LoadDotEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	cfg, err := decode(path, []byte(ExpandEnvVars(string(data))))
	if err != nil {
		return nil, err
	}

	cfg.Logging.File = ExpandPath(cfg.Logging.File)
	cfg.Render.ChromePath = ExpandPath(cfg.Render.ChromePath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadRaw reads the file without env substitution or validation, for
// editing it in place.
func LoadRaw(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	return decode(path, data)
}

func decode(path string, data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file holds the API key.
	return os.WriteFile(path, data, 0o600)
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config validation errors")

// Validate checks that the config has valid values and reports all
// violations at once.
func Validate(cfg *Config) error {
	var errs []string

	u := strings.TrimSpace(cfg.OneBot.URL)
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		errs = append(errs, "onebot.url must start with ws:// or wss://")
	}
	if cfg.OneBot.ActionTimeoutSeconds < 1 {
		errs = append(errs, "onebot.actionTimeoutSeconds must be >= 1")
	}
	if cfg.OneBot.ReconnectDelaySeconds < 1 {
		errs = append(errs, "onebot.reconnectDelaySeconds must be >= 1")
	}

	if strings.TrimSpace(cfg.LLM.APIBase) == "" {
		errs = append(errs, "llm.apiBase is required")
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		errs = append(errs, "llm.model is required")
	}
	if cfg.LLM.TimeoutSeconds < 1 {
		errs = append(errs, "llm.timeoutSeconds must be >= 1")
	}
	if cfg.LLM.MaxRetries < 0 || cfg.LLM.MaxRetries > 10 {
		errs = append(errs, "llm.maxRetries must be between 0 and 10")
	}
	for i, fb := range cfg.LLM.Fallbacks {
		if strings.TrimSpace(fb.APIBase) == "" || strings.TrimSpace(fb.Model) == "" {
			errs = append(errs, fmt.Sprintf("llm.fallbacks.%d: apiBase and model are required", i))
		}
	}

	if strings.TrimSpace(cfg.Prompts.System) == "" {
		errs = append(errs, "prompts.system is required")
	}
	if strings.TrimSpace(cfg.Prompts.Identify) == "" {
		errs = append(errs, "prompts.identify is required")
	}

	sum, ident := strings.TrimSpace(cfg.Triggers.Summarize), strings.TrimSpace(cfg.Triggers.Identify)
	if sum == "" || ident == "" {
		errs = append(errs, "triggers.summarize and triggers.identify are required")
	} else if sum == ident {
		errs = append(errs, "triggers.summarize and triggers.identify must differ")
	}

	errs = append(errs, validateBudget("retry.topLevel", cfg.Retry.TopLevel)...)
	errs = append(errs, validateBudget("retry.nested", cfg.Retry.Nested)...)

	if cfg.Extract.MaxDepth < 1 || cfg.Extract.MaxDepth > 50 {
		errs = append(errs, "extract.maxDepth must be between 1 and 50")
	}

	if cfg.Render.Width < 200 || cfg.Render.Width > 2000 {
		errs = append(errs, "render.width must be between 200 and 2000")
	}
	if cfg.Render.TimeoutSeconds < 1 {
		errs = append(errs, "render.timeoutSeconds must be >= 1")
	}

	if cfg.Dispatch.Concurrency < 1 || cfg.Dispatch.Concurrency > 100 {
		errs = append(errs, "dispatch.concurrency must be between 1 and 100")
	}
	if cfg.Dispatch.RateBurst < 0 || cfg.Dispatch.RatePerMinute < 0 || cfg.Dispatch.LLMRatePerMinute < 0 {
		errs = append(errs, "dispatch rates must be >= 0")
	}
	if cfg.Dispatch.RateBurst > 0 && cfg.Dispatch.RatePerMinute == 0 {
		errs = append(errs, "dispatch.ratePerMinute must be > 0 when rateBurst is set")
	}

	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		errs = append(errs, "admin.addr is required when admin is enabled")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be one of: text, json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateBudget(name string, b BudgetConfig) []string {
	var errs []string
	if b.Attempts < 1 || b.Attempts > 10 {
		errs = append(errs, name+".attempts must be between 1 and 10")
	}
	if b.BaseDelayMs < 0 || b.BaseDelayMs > 60000 {
		errs = append(errs, name+".baseDelayMs must be between 0 and 60000")
	}
	return errs
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
