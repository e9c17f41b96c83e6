// Package storage holds the blob store backends batch reports are written to.
package storage

import "errors"

// ErrNotFound is returned by GetObject when no object exists at the path.
var ErrNotFound = errors.New("object not found")
