package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Room      RoomConfig      `yaml:"room"`
	Transport TransportConfig `yaml:"transport"`
	Presence  PresenceConfig  `yaml:"presence"`
	Persist   PersistConfig   `yaml:"persist"`
	Relay     RelayConfig     `yaml:"relay"`
}

// NodeConfig is the participant identity.
type NodeConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

type RoomConfig struct {
	ID       string `yaml:"id"`
	Language string `yaml:"language"`
}

type TransportConfig struct {
	Kind    string `yaml:"kind"`
	Address string `yaml:"address"`
	Prefix  string `yaml:"prefix"`
}

type PresenceConfig struct {
	MarkerDwell   Duration `yaml:"marker_dwell"`
	StaleTimeout  Duration `yaml:"stale_timeout"`
	RenewInterval Duration `yaml:"renew_interval"`
}

type PersistConfig struct {
	Debounce Duration `yaml:"debounce"`
	DSN      string   `yaml:"dsn"`
	Table    string   `yaml:"table"`
}

type RelayConfig struct {
	BindAddress     string `yaml:"bind_address"`
	Port            int    `yaml:"port"`
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
	Shards          int    `yaml:"shards"`
	RedisAddress    string `yaml:"redis_address"`
	RedisPrefix     string `yaml:"redis_prefix"`
	MaxFrameSize    int64  `yaml:"max_frame_size"`
}

func (c *RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Duration reads "1500ms" style strings.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("%w: line %d", ErrInvalidDuration, node.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %q at line %d", ErrInvalidDuration, s, node.Line)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads path, fills defaults and validates.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
