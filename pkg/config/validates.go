package config

import (
	"fmt"
	"strings"
)

func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigIsNil
	}
	if err := c.Node.Validate(); err != nil {
		return err
	}
	if err := c.Room.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Presence.Validate(); err != nil {
		return err
	}
	if err := c.Persist.Validate(); err != nil {
		return err
	}
	if err := c.Relay.Validate(); err != nil {
		return err
	}
	// clients of a redis transport would read the relay's wrapped frames
	if c.Transport.Kind == TransportRedis && c.Relay.RedisAddress != "" &&
		(strings.HasPrefix(c.Transport.Prefix, c.Relay.RedisPrefix) || strings.HasPrefix(c.Relay.RedisPrefix, c.Transport.Prefix)) {
		return fmt.Errorf("%w: %q and %q", ErrPrefixClash, c.Transport.Prefix, c.Relay.RedisPrefix)
	}
	return nil
}

func (c *NodeConfig) Validate() error {
	return nil
}

// Validate accepts an empty room id; the relay serves every room.
func (c *RoomConfig) Validate() error {
	return nil
}

// RequireRoom is for participants, which always act in one room.
func (c *RoomConfig) RequireRoom() error {
	if c.ID == "" {
		return ErrMissingRoom
	}
	return nil
}

func (c *TransportConfig) Validate() error {

	if !knownTransports.Contains(c.Kind) {
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Kind)
	}

	if c.Kind != TransportMemory && c.Address == "" {
		return fmt.Errorf("%w: %s", ErrMissingAddress, c.Kind)
	}

	return nil
}

func (c *PresenceConfig) Validate() error {
	if c.MarkerDwell < 0 || c.StaleTimeout < 0 || c.RenewInterval < 0 {
		return ErrInvalidDuration
	}
	if c.RenewInterval >= c.StaleTimeout {
		return ErrRenewTooSlow
	}
	return nil
}

func (c *PersistConfig) Validate() error {
	if c.Debounce < 0 {
		return ErrInvalidDuration
	}
	return nil
}

func (c *RelayConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.MaxFrameSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidFrameSize, c.MaxFrameSize)
	}
	return nil
}
