package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// profileRow is the SQLite representation of a profile. Notes are stored
// as a JSON array.
type profileRow struct {
	UserID    string
	Name      string
	Mood      string
	Condition string
	Notes     string
	UpdatedAt time.Time
}
