// sqlite.go -- embedded SQLite backend (modernc.org/sqlite, no cgo).
//
// Same contract as PostgresStore. Timestamps are stored as unix millis,
// booleans as 0/1, UUIDs as their canonical text form.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteStore persists users, badges and awards in a SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// NewSQLiteStore opens (creating if needed) the SQLite database at path.
// ":memory:" is accepted and pinned to a single connection so every query
// sees the same database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// CheckHealth pings the database.
func (s *SQLiteStore) CheckHealth(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inTx runs fn inside a transaction, committing on nil and rolling back otherwise.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// GetUserByExternalID fetches the user anchored to the provider id.
// Returns ErrNotFound if no user has that external id.
func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	var u User
	var id string
	var avatar sql.NullString
	var banned int
	var firstLogin, created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, external_user_id, display_name, avatar_url, first_login_at,
			is_banned, created_at, updated_at
		FROM users WHERE external_user_id = ?
	`, externalID).Scan(&id, &u.ExternalUserID, &u.DisplayName, &avatar, &firstLogin,
		&banned, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting user by external id: %w", err)
	}

	u.ID, err = uuid.FromString(id)
	if err != nil {
		return nil, fmt.Errorf("parsing user id %q: %w", id, err)
	}
	if avatar.Valid {
		u.AvatarURL = &avatar.String
	}
	u.IsBanned = banned != 0
	u.FirstLoginAt = fromMillis(firstLogin)
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

// CreateUser inserts a new user. The caller generates the UUID v7 and sets FirstLoginAt.
// Returns ErrDuplicate if external_user_id is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	now := toMillis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, external_user_id, display_name, avatar_url, first_login_at, is_banned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, u.ID.String(), u.ExternalUserID, u.DisplayName, u.AvatarURL, toMillis(u.FirstLoginAt), now, now)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// UpdateUserProfile overwrites display_name and avatar_url with provider values.
// Returns ErrNotFound if no user has that external id.
func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, externalID, displayName string, avatarURL *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET display_name = ?, avatar_url = ?, updated_at = ?
		WHERE external_user_id = ?
	`, displayName, avatarURL, toMillis(s.now()), externalID)
	if err != nil {
		return fmt.Errorf("updating user profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating user profile: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsBanned reports the current ban flag for userID.
// Returns ErrNotFound if the user does not exist.
func (s *SQLiteStore) IsBanned(ctx context.Context, userID uuid.UUID) (bool, error) {
	var banned int
	err := s.db.QueryRowContext(ctx, "SELECT is_banned FROM users WHERE id = ?", userID.String()).Scan(&banned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("selecting ban flag: %w", err)
	}
	return banned != 0, nil
}

// SeedBadges upserts the catalog by badge_id in a single transaction.
func (s *SQLiteStore) SeedBadges(ctx context.Context, badges []Badge) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, b := range badges {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO badges (badge_id, name, description, mission, is_time_limited, window_start, window_end, position)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (badge_id) DO UPDATE SET
					name = excluded.name,
					description = excluded.description,
					mission = excluded.mission,
					is_time_limited = excluded.is_time_limited,
					window_start = excluded.window_start,
					window_end = excluded.window_end,
					position = excluded.position
			`, b.ID, b.Name, b.Description, b.Mission, boolToInt(b.IsTimeLimited),
				nullMillis(b.WindowStart), nullMillis(b.WindowEnd), b.Position); err != nil {
				return fmt.Errorf("seeding badge %s: %w", b.ID, err)
			}
		}
		return nil
	})
}

// ListBadges returns the catalog in display order.
func (s *SQLiteStore) ListBadges(ctx context.Context) ([]Badge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT badge_id, name, description, mission, is_time_limited, window_start, window_end, position
		FROM badges ORDER BY position, badge_id
	`)
	if err != nil {
		return nil, fmt.Errorf("selecting badges: %w", err)
	}
	defer rows.Close()

	var badges []Badge
	for rows.Next() {
		var b Badge
		var limited int
		var start, end sql.NullInt64
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.Mission, &limited,
			&start, &end, &b.Position); err != nil {
			return nil, fmt.Errorf("scanning badge: %w", err)
		}
		b.IsTimeLimited = limited != 0
		b.WindowStart = timeFromNull(start)
		b.WindowEnd = timeFromNull(end)
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

// InsertAwardIfAbsent records (userID, badgeID) unless it already exists.
// Returns true only for the insert that created the row.
func (s *SQLiteStore) InsertAwardIfAbsent(ctx context.Context, userID uuid.UUID, badgeID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_badges (user_id, badge_id, unlocked_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`, userID.String(), badgeID, toMillis(at))
	if err != nil {
		return false, fmt.Errorf("inserting award: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting award: %w", err)
	}
	return n == 1, nil
}

// ListAwardsForUser returns every badge held by userID, oldest first.
func (s *SQLiteStore) ListAwardsForUser(ctx context.Context, userID uuid.UUID) ([]Award, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT badge_id, unlocked_at FROM user_badges
		WHERE user_id = ? ORDER BY unlocked_at, badge_id
	`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("selecting awards: %w", err)
	}
	defer rows.Close()

	var awards []Award
	for rows.Next() {
		a := Award{UserID: userID}
		var unlocked int64
		if err := rows.Scan(&a.BadgeID, &unlocked); err != nil {
			return nil, fmt.Errorf("scanning award: %w", err)
		}
		a.UnlockedAt = fromMillis(unlocked)
		awards = append(awards, a)
	}
	return awards, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
