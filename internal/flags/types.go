package flags

import (
	"errors"
	"time"
)

// Flag is a runtime feature toggle.
type Flag struct {
	Key       string    `json:"key"`
	Value     bool      `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrNotFound is returned when a flag does not exist.
var ErrNotFound = errors.New("flag not found")
