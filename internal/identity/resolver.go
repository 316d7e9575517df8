// resolver.go -- maps a provider profile to the local user record.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/yellowcatz/badgegate/internal/oauth"
	"github.com/yellowcatz/badgegate/internal/store"
)

// Store is the user persistence the resolver needs.
type Store interface {
	GetUserByExternalID(ctx context.Context, externalID string) (*store.User, error)
	CreateUser(ctx context.Context, u *store.User) error
	UpdateUserProfile(ctx context.Context, externalID, displayName string, avatarURL *string) error
}

// Resolver creates or refreshes users from provider profiles.
type Resolver struct {
	store Store
	now   func() time.Time
}

// NewResolver returns a Resolver backed by s.
func NewResolver(s Store) *Resolver {
	return &Resolver{store: s, now: time.Now}
}

// WithClock overrides the time source for FirstLoginAt. Used by tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve looks up the user anchored to p.ID, creating it on first sight.
// Existing users get display name and avatar overwritten with the provider's values.
// isNew is true only for the call that created the row; a concurrent duplicate
// create loses on the unique constraint and is resolved as an existing user.
func (r *Resolver) Resolve(ctx context.Context, p *oauth.Profile) (u *store.User, isNew bool, err error) {
	if p == nil || p.ID == "" {
		return nil, false, errors.New("profile has no external id")
	}
	avatar := avatarPtr(p.AvatarURL)

	existing, err := r.store.GetUserByExternalID(ctx, p.ID)
	switch {
	case err == nil:
		return r.refresh(ctx, existing, p, avatar)
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, fmt.Errorf("looking up user: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("generating user id: %w", err)
	}
	created := &store.User{
		ID:             id,
		ExternalUserID: p.ID,
		DisplayName:    p.Username,
		AvatarURL:      avatar,
		FirstLoginAt:   r.now().UTC(),
	}
	err = r.store.CreateUser(ctx, created)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return nil, false, fmt.Errorf("creating user: %w", err)
	}

	// Lost the insert race; the winner's row is the user.
	existing, err = r.store.GetUserByExternalID(ctx, p.ID)
	if err != nil {
		return nil, false, fmt.Errorf("looking up user after duplicate: %w", err)
	}
	return r.refresh(ctx, existing, p, avatar)
}

func (r *Resolver) refresh(ctx context.Context, u *store.User, p *oauth.Profile, avatar *string) (*store.User, bool, error) {
	if err := r.store.UpdateUserProfile(ctx, p.ID, p.Username, avatar); err != nil {
		return nil, false, fmt.Errorf("updating user profile: %w", err)
	}
	u.DisplayName = p.Username
	u.AvatarURL = avatar
	return u, false, nil
}

func avatarPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
