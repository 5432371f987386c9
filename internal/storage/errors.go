package storage

import "errors"

// ErrTooLarge is returned by StreamToFile when the source produces more
// than maxBytes before EOF.
var ErrTooLarge = errors.New("storage: stream exceeded maximum size")
