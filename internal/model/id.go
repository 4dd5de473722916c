package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string used for run identifiers and cloud names.
func NewID() string {
	return ulid.Make().String()
}
