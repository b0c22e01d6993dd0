package crdt

import "errors"

var ErrInvalidDeltaType = errors.New("invalid delta type")
var ErrUnsupportedVersion = errors.New("unsupported format version")
var ErrForeignDocument = errors.New("delta belongs to another document")
var ErrMalformedOp = errors.New("malformed op")
var ErrPositionOutOfRange = errors.New("position out of range")
