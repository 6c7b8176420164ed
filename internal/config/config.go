package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devcrew/internal/crew"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DefaultLLM string                `toml:"default_llm"`
	ManagerLLM string                `toml:"manager_llm"`
	LLMs       map[string]*LLMConfig `toml:"llm"`
	Gateway    GatewayConfig         `toml:"gateway"`
	Crew       CrewConfig            `toml:"crew"`
	Log        LogConfig             `toml:"log"`
	Services   ServicesConfig        `toml:"services"`
	Policy     PolicyConfig          `toml:"policy"`
	Tracing    TracingConfig         `toml:"tracing"`
}

type LLMConfig struct {
	Model       string  `toml:"model"`
	BaseURL     string  `toml:"base_url"`
	APIKey      string  `toml:"api_key"`
	APIKeyEnv   string  `toml:"api_key_env"`
	Temperature float64 `toml:"temperature"`
	MaxRetries  int     `toml:"max_retries"`
}

type GatewayConfig struct {
	Addr string `toml:"addr"`
}

type CrewConfig struct {
	Process       string `toml:"process"`
	MaxIterations int    `toml:"max_iterations"`
	// Definitions is an optional YAML file replacing the built-in crew.
	Definitions string `toml:"definitions"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServicesConfig struct {
	Brave BraveConfig `toml:"brave"`
}

type BraveConfig struct {
	APIKey string `toml:"api_key"`
}

type PolicyConfig struct {
	File string `toml:"file"`
}

type TracingConfig struct {
	Endpoint string `toml:"endpoint"`
	URLPath  string `toml:"url_path"`
	APIKey   string `toml:"api_key"`
}

func Default() *Config {
	return &Config{
		DefaultLLM: "openai",
		LLMs: map[string]*LLMConfig{
			"openai": {
				Model:       "gpt-4o-mini",
				BaseURL:     "https://api.openai.com/v1",
				APIKeyEnv:   "OPENAI_API_KEY",
				Temperature: 0.7,
				MaxRetries:  2,
			},
		},
		Gateway: GatewayConfig{
			Addr: ":8000",
		},
		Crew: CrewConfig{
			Process:       crew.ProcessHierarchical,
			MaxIterations: 25,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("DEVCREW_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		path = configPath()
	}

	if _, err := os.Stat(path); err == nil {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		inheritDefaults(md, cfg.LLMs)
	} else if explicit {
		return nil, fmt.Errorf("config file: %w", err)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BRAVE_API_KEY"); v != "" && cfg.Services.Brave.APIKey == "" {
		cfg.Services.Brave.APIKey = v
	}

	for _, l := range cfg.LLMs {
		if l.APIKey == "" && l.APIKeyEnv != "" {
			l.APIKey = os.Getenv(l.APIKeyEnv)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// inheritDefaults fills the keys a file leaves out of a built-in [llm.<name>]
// table. The decoder allocates a fresh entry per table, dropping the defaults.
func inheritDefaults(md toml.MetaData, llms map[string]*LLMConfig) {
	builtin := Default().LLMs
	for name, l := range llms {
		d, ok := builtin[name]
		if !ok || l == nil {
			continue
		}
		unset := func(key string) bool { return !md.IsDefined("llm", name, key) }
		if unset("model") {
			l.Model = d.Model
		}
		if unset("base_url") {
			l.BaseURL = d.BaseURL
		}
		if unset("api_key_env") {
			l.APIKeyEnv = d.APIKeyEnv
		}
		if unset("temperature") {
			l.Temperature = d.Temperature
		}
		if unset("max_retries") {
			l.MaxRetries = d.MaxRetries
		}
	}
}

func (c *Config) validate() error {
	if _, ok := c.LLMs[c.DefaultLLM]; !ok {
		return fmt.Errorf("default LLM %q not found in config", c.DefaultLLM)
	}
	if c.ManagerLLM != "" {
		if _, ok := c.LLMs[c.ManagerLLM]; !ok {
			return fmt.Errorf("manager LLM %q not found in config", c.ManagerLLM)
		}
	}
	switch strings.ToLower(c.Crew.Process) {
	case crew.ProcessHierarchical, crew.ProcessSequential:
		c.Crew.Process = strings.ToLower(c.Crew.Process)
	default:
		return fmt.Errorf("unknown crew process %q", c.Crew.Process)
	}
	if c.Crew.MaxIterations <= 0 {
		c.Crew.MaxIterations = 25
	}
	return nil
}

// Agent returns the LLM used by crew members.
func (c *Config) Agent() *LLMConfig {
	return c.LLMs[c.DefaultLLM]
}

// Manager returns the LLM used by the supervising agent.
func (c *Config) Manager() *LLMConfig {
	if c.ManagerLLM == "" {
		return c.Agent()
	}
	return c.LLMs[c.ManagerLLM]
}

// RequireCredentials fails when an LLM the crew needs has no API key.
func (c *Config) RequireCredentials() error {
	names := []string{c.DefaultLLM}
	if c.ManagerLLM != "" && c.ManagerLLM != c.DefaultLLM {
		names = append(names, c.ManagerLLM)
	}
	for _, name := range names {
		l := c.LLMs[name]
		if l.APIKey != "" {
			continue
		}
		if l.APIKeyEnv != "" {
			return fmt.Errorf("LLM %q: no API key (set %s or llm.%s.api_key)", name, l.APIKeyEnv, name)
		}
		return fmt.Errorf("LLM %q: no API key (set llm.%s.api_key)", name, name)
	}
	return nil
}

func configPath() string {
	dir, _ := os.UserConfigDir()
	return filepath.Join(dir, "devcrew", "config.toml")
}
