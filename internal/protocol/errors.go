package protocol

import "errors"

// ErrMalformed marks a frame that cannot be routed.
var ErrMalformed = errors.New("protocol: malformed envelope")
