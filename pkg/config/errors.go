package config

import "errors"

var ErrConfigIsNil = errors.New("config is nil")
var ErrUnknownTransport = errors.New("unknown transport")
var ErrMissingRoom = errors.New("missing room id")
var ErrMissingAddress = errors.New("missing transport address")
var ErrInvalidDuration = errors.New("invalid duration")
var ErrInvalidPort = errors.New("invalid port")
var ErrRenewTooSlow = errors.New("renew interval must be shorter than stale timeout")
var ErrInvalidFrameSize = errors.New("invalid max frame size")
var ErrPrefixClash = errors.New("transport and relay bridge share a redis prefix")
