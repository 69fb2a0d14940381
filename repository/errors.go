package repository

import "errors"

// ErrNotFound signals that a lookup matched no active row.
var ErrNotFound = errors.New("record not found")
