package domain

import "errors"

// ErrNotFound is returned (wrapped) by repository lookups that match no row.
var ErrNotFound = errors.New("not found")
