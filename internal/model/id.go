package model

import "github.com/oklog/ulid/v2"

// NewID returns a fresh ULID string. Executions and model definitions
// share the same identifier scheme; ULIDs sort by creation time, which
// keeps primary-key ordering close to insertion order.
func NewID() string {
	return ulid.Make().String()
}
