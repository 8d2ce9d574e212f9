package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	BackendLangChain = "langchain"
	BackendOpenAI    = "openai"
)

type Config struct {
	App       AppConfig                 `json:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways" validate:"dive"`
	Providers map[string]ProviderConfig `json:"providers" validate:"required,min=1,dive"`
	Memory    MemoryConfig              `json:"memory"`
	Tenants   TenantsConfig             `json:"tenants"`
	Prompts   PromptsConfig             `json:"prompts"`
	Pipeline  PipelineConfig            `json:"pipeline"`
}

type AppConfig struct {
	Name      string `json:"name"`
	Dashboard bool   `json:"dashboard"`
	LLMLog    string `json:"llm_log"`
}

type GatewayConfig struct {
	Token   string `json:"token,omitempty"`
	Addr    string `json:"addr,omitempty"`
	Tenant  string `json:"tenant,omitempty"`
	Enabled bool   `json:"enabled"`
}

type ProviderConfig struct {
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model" validate:"required_if=Enabled true"`
	BaseURL     string  `json:"base_url,omitempty" validate:"omitempty,url"`
	Backend     string  `json:"backend,omitempty" validate:"omitempty,oneof=langchain openai"`
	Temperature float64 `json:"temperature,omitempty" validate:"gte=0,lte=2"`
	Enabled     bool    `json:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type" validate:"oneof=sqlite"`
	Path string `json:"path"`
}

type TenantsConfig struct {
	Path string `json:"path" validate:"required"`
}

type PromptsConfig struct {
	Directory string `json:"directory,omitempty"`
}

type PipelineConfig struct {
	MaxAttempts      int      `json:"max_attempts" validate:"min=1,max=10"`
	RunTimeout       Duration `json:"run_timeout"`
	StatementTimeout Duration `json:"statement_timeout"`
	MaxRows          int      `json:"max_rows" validate:"min=0"`
	AllowWrites      bool     `json:"allow_writes"`
}

// Duration reads either a Go duration string ("45s") or a number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = v
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

var validate = validator.New()

// Load reads, expands ${ENV} references in, defaults and validates the
// config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	decoder := json.NewDecoder(bytes.NewReader([]byte(expanded)))
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.applyDefaults()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig is Load for callers that cannot continue without a config.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "querypilot"
	}
	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "querypilot.db"
	}
	if c.Tenants.Path == "" {
		c.Tenants.Path = "tenants.yaml"
	}
	if c.Pipeline.MaxAttempts == 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.RunTimeout.Duration == 0 {
		c.Pipeline.RunTimeout.Duration = 60 * time.Second
	}
	if c.Pipeline.StatementTimeout.Duration == 0 {
		c.Pipeline.StatementTimeout.Duration = 15 * time.Second
	}
	if c.Pipeline.MaxRows == 0 {
		c.Pipeline.MaxRows = 1000
	}
	for name, p := range c.Providers {
		if p.Backend == "" {
			p.Backend = BackendLangChain
			c.Providers[name] = p
		}
	}
}

// GetDefaultProvider returns the first enabled provider in name order.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	var (
		best string
		cfg  ProviderConfig
	)
	for name, p := range c.Providers {
		if p.Enabled && (best == "" || name < best) {
			best, cfg = name, p
		}
	}
	return best, cfg
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled && tg.Token != "" {
		return tg, true
	}
	return GatewayConfig{}, false
}

// GetHTTPConfig returns the HTTP gateway config. The HTTP gateway is on
// unless explicitly disabled.
func (c *Config) GetHTTPConfig() (GatewayConfig, bool) {
	h, ok := c.Gateways["http"]
	if !ok {
		return GatewayConfig{Addr: ":8080", Enabled: true}, true
	}
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	return h, h.Enabled
}
