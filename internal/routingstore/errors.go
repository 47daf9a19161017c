package routingstore

import "errors"

// ErrNotFound is returned when a value has never been persisted.
var ErrNotFound = errors.New("routingstore: not found")
