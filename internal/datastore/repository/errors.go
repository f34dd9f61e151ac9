package repository

import "github.com/staysense/staysense-go/internal/errors"

var (
	// ErrKVNotFound is returned when a key has no stored value.
	ErrKVNotFound = errors.NewStd("kv entry not found")
	// ErrResponseNotFound is returned when a partition holds no response for a request.
	ErrResponseNotFound = errors.NewStd("cached response not found")
)
