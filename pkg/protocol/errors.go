package protocol

import "errors"

var ErrUnknownKind = errors.New("unknown message type")
var ErrMissingRoom = errors.New("message without room id")
var ErrMissingField = errors.New("message missing required field")
