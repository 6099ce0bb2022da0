package store

import (
	"errors"
)

// ErrNotFound is returned when a lookup by id matches no row
var ErrNotFound = errors.New("not found")
