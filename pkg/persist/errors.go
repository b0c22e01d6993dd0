package persist

import "errors"

var ErrEmptyRoom = errors.New("persist request without room")
var ErrNoDSN = errors.New("postgres dsn is empty")
