package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type AgentConfig struct {
	Name                string `mapstructure:"name"`
	IntervalMs          int    `mapstructure:"interval_ms"`
	SendIntervalMs      int    `mapstructure:"send_interval_ms"`
	BatchSize           int    `mapstructure:"batch_size"`
	MaxQueueSize        int    `mapstructure:"max_queue_size"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	BackendAuthTokenEnv string `mapstructure:"backend_auth_token_env"` // e.g. DASHLINE_BACKEND_TOKEN
	InsecureSkipVerify  bool   `mapstructure:"insecure_skip_verify"`
	ScriptPath          string `mapstructure:"script_path"`
}

type SourceConfig struct {
	Type   string `mapstructure:"type"` // file, http or static
	Path   string `mapstructure:"path"`
	URL    string `mapstructure:"url"`
	Format string `mapstructure:"format"` // overrides the file extension
}

type OutputConfig struct {
	Type    string   `mapstructure:"type"` // stdout, file, tcp, http or kafka
	Path    string   `mapstructure:"path"`
	Address string   `mapstructure:"address"`
	URL     string   `mapstructure:"url"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LinkConfig struct {
	FailCount   int `mapstructure:"fail_count"`
	CooldownMs  int `mapstructure:"cooldown_ms"`
	LostAfterMs int `mapstructure:"lost_after_ms"`
}

type HealthConfig struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Agent   AgentConfig   `mapstructure:"agent"`
	Source  SourceConfig  `mapstructure:"source"`
	Output  OutputConfig  `mapstructure:"output"`
	Link    LinkConfig    `mapstructure:"link"`
	Health  HealthConfig  `mapstructure:"health"`
	Logging LoggingConfig `mapstructure:"logging"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// env overrides: DASHLINE_AGENT_NAME, DASHLINE_OUTPUT_ADDRESS etc.
	v.SetEnvPrefix("dashline")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// quick sanity checks
	if cfg.Agent.IntervalMs < 1 {
		cfg.Agent.IntervalMs = 100
	}
	if cfg.Agent.SendIntervalMs < 1 {
		cfg.Agent.SendIntervalMs = 100
	}
	if cfg.Agent.BatchSize < 1 {
		cfg.Agent.BatchSize = 1
	}
	if cfg.Agent.TimeoutSeconds == 0 {
		cfg.Agent.TimeoutSeconds = 5
	}
	if cfg.Agent.MaxAttempts < 1 {
		cfg.Agent.MaxAttempts = 1
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.name", "dashline")
	v.SetDefault("agent.interval_ms", 100)
	v.SetDefault("agent.send_interval_ms", 100)
	v.SetDefault("agent.batch_size", 1)
	v.SetDefault("agent.max_queue_size", 256)
	v.SetDefault("agent.timeout_seconds", 5)
	v.SetDefault("agent.max_attempts", 3)
	v.SetDefault("agent.insecure_skip_verify", false)
	v.SetDefault("source.type", "file")
	v.SetDefault("output.type", "stdout")
	v.SetDefault("output.topic", "dashline.frames")
	v.SetDefault("link.fail_count", 3)
	v.SetDefault("link.cooldown_ms", 1000)
	v.SetDefault("link.lost_after_ms", 5000)
	v.SetDefault("health.addr", "127.0.0.1:8085")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that the chosen source and output have what they need.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case "file":
		if c.Source.Path == "" {
			return fmt.Errorf("%w: source.path is required for file source", ErrInvalid)
		}
	case "http":
		if c.Source.URL == "" {
			return fmt.Errorf("%w: source.url is required for http source", ErrInvalid)
		}
	case "static":
	default:
		return fmt.Errorf("%w: unknown source.type %q", ErrInvalid, c.Source.Type)
	}

	switch c.Output.Type {
	case "stdout":
	case "file":
		if c.Output.Path == "" {
			return fmt.Errorf("%w: output.path is required for file output", ErrInvalid)
		}
	case "tcp":
		if c.Output.Address == "" {
			return fmt.Errorf("%w: output.address is required for tcp output", ErrInvalid)
		}
	case "http":
		if c.Output.URL == "" {
			return fmt.Errorf("%w: output.url is required for http output", ErrInvalid)
		}
	case "kafka":
		if len(c.Output.Brokers) == 0 {
			return fmt.Errorf("%w: output.brokers is required for kafka output", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown output.type %q", ErrInvalid, c.Output.Type)
	}

	if c.Link.FailCount < 1 {
		return fmt.Errorf("%w: link.fail_count must be > 0", ErrInvalid)
	}
	if c.Agent.MaxQueueSize < 1 {
		return fmt.Errorf("%w: agent.max_queue_size must be > 0", ErrInvalid)
	}
	return nil
}

func (a AgentConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMs) * time.Millisecond
}

func (a AgentConfig) SendInterval() time.Duration {
	return time.Duration(a.SendIntervalMs) * time.Millisecond
}

func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func (l LinkConfig) Cooldown() time.Duration {
	return time.Duration(l.CooldownMs) * time.Millisecond
}

func (l LinkConfig) LostAfter() time.Duration {
	return time.Duration(l.LostAfterMs) * time.Millisecond
}
