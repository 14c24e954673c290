package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Vault     VaultConfig     `yaml:"vault"`
}

type AgentConfig struct {
	// CLIBinary is the agent CLI used for triage and background runs.
	CLIBinary string `yaml:"cli_binary"`
	// InitTimeout bounds the initialize and session/new handshakes.
	InitTimeout time.Duration `yaml:"init_timeout"`
}

type DispatchConfig struct {
	MaxBackground     int    `yaml:"max_background"`
	TriageModel       string `yaml:"triage_model"`
	TriagePromptLimit int    `yaml:"triage_prompt_limit"`
}

type DiscoveryConfig struct {
	RescanInterval time.Duration `yaml:"rescan_interval"`
	Ports          []int         `yaml:"ports"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Agent: AgentConfig{
			CLIBinary:   "claude",
			InitTimeout: 5 * time.Second,
		},
		Dispatch: DispatchConfig{
			MaxBackground:     2,
			TriageModel:       "haiku",
			TriagePromptLimit: 500,
		},
		Discovery: DiscoveryConfig{
			RescanInterval: 30 * time.Second,
			ProbeTimeout:   500 * time.Millisecond,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/agentdeck.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("AGENTDECK_CONFIG")
	if path == "" {
		path = "config/agentdeck.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CLAUDE_CLI_BIN"); v != "" {
		cfg.Agent.CLIBinary = v
	}
	if v := os.Getenv("AGENTDECK_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("AGENTDECK_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("AGENTDECK_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("AGENTDECK_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("AGENTDECK_MAX_BACKGROUND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.MaxBackground = n
		}
	}
	if v := os.Getenv("AGENTDECK_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}
