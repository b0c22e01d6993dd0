package config

import (
	"time"

	"github.com/google/uuid"

	"collabsync/pkg/persist"
	"collabsync/pkg/relay"
	"collabsync/pkg/structs"
	"collabsync/pkg/transport/redistransport"
)

const (
	TransportMemory    = "memory"
	TransportRedis     = "redis"
	TransportWebsocket = "websocket"
)

var knownTransports = structs.NewSet(TransportMemory, TransportRedis, TransportWebsocket)

var defaultRoom = RoomConfig{
	Language: "plaintext",
}

var defaultTransport = TransportConfig{
	Kind:   TransportMemory,
	Prefix: redistransport.DefaultPrefix,
}

var defaultPresence = PresenceConfig{
	MarkerDwell:   Duration(3 * time.Second),
	StaleTimeout:  Duration(30 * time.Second),
	RenewInterval: Duration(15 * time.Second),
}

var defaultPersist = PersistConfig{
	Debounce: Duration(2 * time.Second),
	Table:    persist.DefaultTable,
}

var defaultRelay = RelayConfig{
	BindAddress:     "127.0.0.1",
	Port:            8080,
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Shards:          64,
	RedisPrefix:     relay.DefaultBridgePrefix,
	MaxFrameSize:    relay.DefaultMaxFrameSize,
}

func Default() *Config {
	cfg := &Config{
		Room:      defaultRoom,
		Transport: defaultTransport,
		Presence:  defaultPresence,
		Persist:   defaultPersist,
		Relay:     defaultRelay,
	}
	cfg.Node.PopulateDefaults()
	return cfg
}

func (c *NodeConfig) PopulateDefaults() {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	if c.Name == "" {
		c.Name = "anonymous"
	}
}

func (c *RoomConfig) PopulateDefaults() {
	if c.Language == "" {
		c.Language = defaultRoom.Language
	}
}

func (c *TransportConfig) PopulateDefaults() {
	if c.Kind == "" {
		c.Kind = defaultTransport.Kind
	}

	if c.Prefix == "" {
		c.Prefix = defaultTransport.Prefix
	}
}

func (c *PresenceConfig) PopulateDefaults() {
	if c.MarkerDwell == 0 {
		c.MarkerDwell = defaultPresence.MarkerDwell
	}

	if c.StaleTimeout == 0 {
		c.StaleTimeout = defaultPresence.StaleTimeout
	}

	if c.RenewInterval == 0 {
		c.RenewInterval = defaultPresence.RenewInterval
	}
}

func (c *PersistConfig) PopulateDefaults() {
	if c.Debounce == 0 {
		c.Debounce = defaultPersist.Debounce
	}

	if c.Table == "" {
		c.Table = defaultPersist.Table
	}
}

func (c *RelayConfig) PopulateDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = defaultRelay.BindAddress
	}

	if c.Port == 0 {
		c.Port = defaultRelay.Port
	}

	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaultRelay.ReadBufferSize
	}

	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaultRelay.WriteBufferSize
	}

	if c.Shards == 0 {
		c.Shards = defaultRelay.Shards
	}

	if c.RedisPrefix == "" {
		c.RedisPrefix = defaultRelay.RedisPrefix
	}

	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = defaultRelay.MaxFrameSize
	}
}

func (c *Config) PopulateDefaults() {
	c.Node.PopulateDefaults()
	c.Room.PopulateDefaults()
	c.Transport.PopulateDefaults()
	c.Presence.PopulateDefaults()
	c.Persist.PopulateDefaults()
	c.Relay.PopulateDefaults()
}
