package history

import "errors"

// ErrStoreClosed is returned for writes submitted after Close.
var ErrStoreClosed = errors.New("history store is closed")
