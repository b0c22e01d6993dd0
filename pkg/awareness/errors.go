package awareness

import "errors"

var ErrNotObject = errors.New("presence state is not a JSON object")
var ErrSelfUpdate = errors.New("remote update names the local client")
var ErrClosed = errors.New("awareness registry closed")
