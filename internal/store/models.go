// models.go -- Shared domain types for the store package.
// Used by both relational backends (Postgres, SQLite) and the state ledgers.
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrNotFound is returned when a lookup matches no row.
// Callers use errors.Is to distinguish a true miss from an infrastructure failure.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint
// (users.external_user_id). Turns a concurrent duplicate create into a
// deterministic rejection instead of a second row.
var ErrDuplicate = errors.New("duplicate row")

// ErrLedgerDisabled is returned by CheckHealth on ledgers with no backing service.
var ErrLedgerDisabled = errors.New("ledger disabled")

// User represents a row in the users table.
// ExternalUserID is the provider's stable id; unique and never updated.
// Nullable columns are pointers; nil means SQL NULL.
type User struct {
	ID             uuid.UUID
	ExternalUserID string
	DisplayName    string
	AvatarURL      *string
	FirstLoginAt   time.Time
	IsBanned       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Badge represents a row in the badges catalog.
// WindowStart/WindowEnd are only meaningful when IsTimeLimited is set;
// a time-limited badge with either bound nil is never eligible.
type Badge struct {
	ID            string
	Name          string
	Description   string
	Mission       string
	IsTimeLimited bool
	WindowStart   *time.Time
	WindowEnd     *time.Time
	Position      int // catalog display order
}

// Award represents a row in user_badges. (UserID, BadgeID) is unique.
type Award struct {
	UserID     uuid.UUID
	BadgeID    string
	UnlockedAt time.Time
}
