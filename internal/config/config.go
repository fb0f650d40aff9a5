package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmorgan81/imagegateway/internal/bytez"
	"github.com/dmorgan81/imagegateway/internal/horde"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const DefaultGatewayBaseURL = "https://ai-gateway.sherpa.software/bytez/v1"

type GatewayConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// APIKeyParam names an SSM parameter holding the key. It wins over APIKey.
	APIKeyParam string `yaml:"api_key_param"`
}

type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type HordeConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ClientAgent  string        `yaml:"client_agent"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type BytezConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	APIKeyParam string `yaml:"api_key_param"`
}

type ArchiveConfig struct {
	Bucket       string `yaml:"bucket"`
	Distribution string `yaml:"distribution"`
	PromptsParam string `yaml:"prompts_param"`
	Site         string `yaml:"site"`
	Dir          string `yaml:"dir"`
}

type Config struct {
	LogLevel string        `yaml:"log_level"`
	Gateway  GatewayConfig `yaml:"gateway"`
	Server   ServerConfig  `yaml:"server"`
	Horde    HordeConfig   `yaml:"horde"`
	Bytez    BytezConfig   `yaml:"bytez"`
	Archive  ArchiveConfig `yaml:"archive"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		Gateway:  GatewayConfig{BaseURL: DefaultGatewayBaseURL},
		Server:   ServerConfig{Addr: ":3000", AllowOrigins: []string{"*"}},
		Horde: HordeConfig{
			BaseURL:      horde.DefaultBaseURL,
			ClientAgent:  horde.DefaultClientAgent,
			PollInterval: horde.DefaultPollInterval,
			MaxAttempts:  horde.DefaultMaxAttempts,
		},
		Bytez:   BytezConfig{BaseURL: bytez.DefaultBaseURL},
		Archive: ArchiveConfig{Site: "https://example.com", Dir: "."},
	}
}

// Load reads the YAML file at path, if any, over the defaults and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("GATEWAY_BASE_URL", &c.Gateway.BaseURL)
	str("GATEWAY_API_KEY", &c.Gateway.APIKey)
	str("GATEWAY_API_KEY_PARAM", &c.Gateway.APIKeyParam)
	str("HORDE_BASE_URL", &c.Horde.BaseURL)
	str("HORDE_CLIENT_AGENT", &c.Horde.ClientAgent)
	str("BYTEZ_BASE_URL", &c.Bytez.BaseURL)
	str("BYTEZ_API_KEY", &c.Bytez.APIKey)
	str("BYTEZ_API_KEY_PARAM", &c.Bytez.APIKeyParam)
	str("BUCKET", &c.Archive.Bucket)
	str("DISTRIBUTION", &c.Archive.Distribution)
	str("PROMPTS_PARAM", &c.Archive.PromptsParam)
	str("SITE", &c.Archive.Site)
	str("ARCHIVE_DIR", &c.Archive.Dir)

	if v, ok := lookup("PORT"); ok && v != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v, ok := lookup("ALLOW_ORIGINS"); ok && v != "" {
		c.Server.AllowOrigins = lo.FilterMap(strings.Split(v, ","), func(s string, _ int) (string, bool) {
			s = strings.TrimSpace(s)
			return s, s != ""
		})
	}
	if v, ok := lookup("HORDE_POLL_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HORDE_POLL_INTERVAL: %w", err)
		}
		c.Horde.PollInterval = d
	}
	if v, ok := lookup("HORDE_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HORDE_MAX_ATTEMPTS: %w", err)
		}
		c.Horde.MaxAttempts = n
	}
	return nil
}

func (c *Config) HordeOptions() horde.Options {
	return horde.Options{
		BaseURL:      c.Horde.BaseURL,
		ClientAgent:  c.Horde.ClientAgent,
		PollInterval: c.Horde.PollInterval,
		MaxAttempts:  c.Horde.MaxAttempts,
	}
}
