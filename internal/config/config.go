package config

import (
	"fmt"
	"os"
	"time"

	"post-curator/internal/llm"
	"post-curator/internal/repository"
	"post-curator/internal/source"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port"`
		// AdminSecret guards mutating routes; empty denies them all.
		AdminSecret string `yaml:"admin_secret"`
	} `yaml:"server"`

	Log struct {
		Development bool   `yaml:"development"`
		Level       string `yaml:"level"`
	} `yaml:"log"`

	Database struct {
		Path string `yaml:"path"` // SQLite path or PostgreSQL URL
		Type string `yaml:"type"` // "sqlite" or "postgres"
	} `yaml:"database"`

	Judge struct {
		Provider llm.ProviderConfig `yaml:"provider"`

		ReasoningEffort      string `yaml:"reasoning_effort"`
		QuickModel           string `yaml:"quick_model"`
		QuickReasoningEffort string `yaml:"quick_reasoning_effort"`

		MaxAttempts       int           `yaml:"max_attempts"`
		DefaultRetryDelay time.Duration `yaml:"default_retry_delay"`

		PersonaPath          string `yaml:"persona_path"`
		QuickInstructionPath string `yaml:"quick_instruction_path"`
		WatchPersona         bool   `yaml:"watch_persona"`
		ChainResponses       bool   `yaml:"chain_responses"`
	} `yaml:"judge"`

	Curation struct {
		SelfUsername       string `yaml:"self_username"`
		MaxExamplesPerType int    `yaml:"max_examples_per_type"`
		ExampleTextLimit   int    `yaml:"example_text_limit"`
	} `yaml:"curation"`

	Sources []source.FeedConfig `yaml:"sources"`

	Schedule struct {
		Enabled  bool   `yaml:"enabled"`
		Cron     string `yaml:"cron"`
		Timezone string `yaml:"timezone"`
	} `yaml:"schedule"`
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	config.expandEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Database.Type == "" {
		c.Database.Type = repository.TypeSQLite
	}

	if c.Database.Path == "" {
		c.Database.Path = "./data/curator.db"
	}

	if c.Judge.Provider.Type == "" {
		c.Judge.Provider.Type = llm.ProviderOpenAI
	}

	if c.Judge.ReasoningEffort == "" {
		c.Judge.ReasoningEffort = "medium"
	}

	if c.Judge.QuickReasoningEffort == "" {
		c.Judge.QuickReasoningEffort = "minimal"
	}

	if c.Judge.MaxAttempts == 0 {
		c.Judge.MaxAttempts = llm.DefaultRetryConfig().MaxAttempts
	}

	if c.Judge.DefaultRetryDelay == 0 {
		c.Judge.DefaultRetryDelay = llm.DefaultRetryConfig().DefaultDelay
	}

	if c.Judge.PersonaPath == "" {
		c.Judge.PersonaPath = "./configs/persona.md"
	}

	if c.Curation.MaxExamplesPerType == 0 {
		c.Curation.MaxExamplesPerType = 5
	}

	if c.Curation.ExampleTextLimit == 0 {
		c.Curation.ExampleTextLimit = 200
	}

	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "0 */30 * * * *"
	}
}

// Secrets may be given as ${VAR} references.
func (c *Config) expandEnv() {
	c.Server.AdminSecret = os.ExpandEnv(c.Server.AdminSecret)
	c.Database.Path = os.ExpandEnv(c.Database.Path)
	c.Judge.Provider.APIKey = os.ExpandEnv(c.Judge.Provider.APIKey)
	for i := range c.Sources {
		c.Sources[i].URL = os.ExpandEnv(c.Sources[i].URL)
		c.Sources[i].Token = os.ExpandEnv(c.Sources[i].Token)
	}
}

// Validate rejects unsupported backends and out-of-range values.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case repository.TypeSQLite, repository.TypePostgres:
	default:
		return fmt.Errorf("unsupported database type: %q", c.Database.Type)
	}

	switch c.Judge.Provider.Type {
	case llm.ProviderOpenAI, llm.ProviderGroq, llm.ProviderOpenRouter, llm.ProviderGemini, llm.ProviderAnthropic:
	default:
		return fmt.Errorf("unsupported judge provider: %q", c.Judge.Provider.Type)
	}

	if c.Judge.MaxAttempts < 1 {
		return fmt.Errorf("judge.max_attempts must be at least 1")
	}
	if c.Judge.DefaultRetryDelay < 0 {
		return fmt.Errorf("judge.default_retry_delay must not be negative")
	}
	if c.Curation.MaxExamplesPerType < 0 || c.Curation.ExampleTextLimit < 0 {
		return fmt.Errorf("curation limits must not be negative")
	}
	return nil
}
