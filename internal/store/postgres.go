// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore is the store used by the program to talk to Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a verified connection pool to PostgreSQL
// and returns a ready-to-use store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings the pool.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetUserByExternalID fetches the user anchored to the provider id.
// Returns ErrNotFound if no user has that external id.
func (s *PostgresStore) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, external_user_id, display_name, avatar_url, first_login_at,
			is_banned, created_at, updated_at
		FROM users WHERE external_user_id = $1
	`, externalID).Scan(
		&u.ID, &u.ExternalUserID, &u.DisplayName, &u.AvatarURL, &u.FirstLoginAt,
		&u.IsBanned, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting user by external id: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new user. The caller generates the UUID v7 and sets FirstLoginAt.
// Returns ErrDuplicate if external_user_id is already taken.
func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, external_user_id, display_name, avatar_url, first_login_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.ExternalUserID, u.DisplayName, u.AvatarURL, u.FirstLoginAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// UpdateUserProfile overwrites display_name and avatar_url with provider values.
// Returns ErrNotFound if no user has that external id.
func (s *PostgresStore) UpdateUserProfile(ctx context.Context, externalID, displayName string, avatarURL *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET display_name = $1, avatar_url = $2, updated_at = now()
		WHERE external_user_id = $3
	`, displayName, avatarURL, externalID)
	if err != nil {
		return fmt.Errorf("updating user profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsBanned reports the current ban flag for userID.
// Returns ErrNotFound if the user does not exist.
func (s *PostgresStore) IsBanned(ctx context.Context, userID uuid.UUID) (bool, error) {
	var banned bool
	err := s.pool.QueryRow(ctx, "SELECT is_banned FROM users WHERE id = $1", userID).Scan(&banned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("selecting ban flag: %w", err)
	}
	return banned, nil
}

// SeedBadges upserts the catalog by badge_id in a single transaction.
func (s *PostgresStore) SeedBadges(ctx context.Context, badges []Badge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, b := range badges {
		if _, err := tx.Exec(ctx, `
			INSERT INTO badges (badge_id, name, description, mission, is_time_limited, window_start, window_end, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (badge_id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				mission = EXCLUDED.mission,
				is_time_limited = EXCLUDED.is_time_limited,
				window_start = EXCLUDED.window_start,
				window_end = EXCLUDED.window_end,
				position = EXCLUDED.position
		`, b.ID, b.Name, b.Description, b.Mission, b.IsTimeLimited, b.WindowStart, b.WindowEnd, b.Position); err != nil {
			return fmt.Errorf("seeding badge %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing badge seed: %w", err)
	}
	return nil
}

// ListBadges returns the catalog in display order.
func (s *PostgresStore) ListBadges(ctx context.Context) ([]Badge, error) {
	rows, err := s.pool.Query(ctx, `
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
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.Mission, &b.IsTimeLimited,
			&b.WindowStart, &b.WindowEnd, &b.Position); err != nil {
			return nil, fmt.Errorf("scanning badge: %w", err)
		}
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

// InsertAwardIfAbsent records (userID, badgeID) unless it already exists.
// Returns true only for the insert that created the row; concurrent callers
// racing on the same pair see exactly one true.
func (s *PostgresStore) InsertAwardIfAbsent(ctx context.Context, userID uuid.UUID, badgeID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO user_badges (user_id, badge_id, unlocked_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`, userID, badgeID, at)
	if err != nil {
		return false, fmt.Errorf("inserting award: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListAwardsForUser returns every badge held by userID, oldest first.
func (s *PostgresStore) ListAwardsForUser(ctx context.Context, userID uuid.UUID) ([]Award, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, badge_id, unlocked_at FROM user_badges
		WHERE user_id = $1 ORDER BY unlocked_at, badge_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("selecting awards: %w", err)
	}
	defer rows.Close()

	var awards []Award
	for rows.Next() {
		var a Award
		if err := rows.Scan(&a.UserID, &a.BadgeID, &a.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scanning award: %w", err)
		}
		awards = append(awards, a)
	}
	return awards, rows.Err()
}
