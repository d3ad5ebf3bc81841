package match

import "errors"

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("matchmaker closed")
