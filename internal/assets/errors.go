package assets

import "errors"

var (
	ErrNotFound     = errors.New("asset not found")
	ErrTypeMismatch = errors.New("asset type mismatch")
	ErrDecode       = errors.New("asset decode error")
	ErrCancelled    = errors.New("asset load cancelled")
	ErrMisuse       = errors.New("cache misuse")
)
