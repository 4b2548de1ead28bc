package models

import "errors"

// ErrInvalidInput indicates a malformed value at a core construction
// boundary (score out of range, negative top_k, empty identifier).
// Callers wrap it with context via fmt.Errorf("...: %w", ErrInvalidInput).
var ErrInvalidInput = errors.New("invalid input")
