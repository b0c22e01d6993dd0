package session

import "errors"

var (
	ErrMissingRoom      = errors.New("room id is required")
	ErrMissingTransport = errors.New("transport is required")
)
