// policy.go -- badge eligibility, claiming and the founding auto-award.
package badge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/yellowcatz/badgegate/internal/store"
)

// Claim rejections. All are expected outcomes, not failures.
var (
	ErrBanned         = errors.New("user is banned")
	ErrUnknownBadge   = errors.New("unknown badge")
	ErrNotClaimable   = errors.New("badge cannot be claimed here")
	ErrAlreadyClaimed = errors.New("badge already claimed")
	ErrWindowClosed   = errors.New("badge window closed")
)

// Store is the award persistence the policy needs.
type Store interface {
	IsBanned(ctx context.Context, userID uuid.UUID) (bool, error)
	ListAwardsForUser(ctx context.Context, userID uuid.UUID) ([]store.Award, error)
	InsertAwardIfAbsent(ctx context.Context, userID uuid.UUID, badgeID string, at time.Time) (bool, error)
}

// Policy decides and records badge awards against a fixed catalog.
// The catalog is read-only after construction; Policy is safe for concurrent use.
type Policy struct {
	store     Store
	catalog   []store.Badge
	byID      map[string]store.Badge
	claimable map[string]bool
}

// NewPolicy builds a Policy over catalog (display order is preserved).
func NewPolicy(s Store, catalog []store.Badge) *Policy {
	p := &Policy{
		store:     s,
		catalog:   append([]store.Badge(nil), catalog...),
		byID:      make(map[string]store.Badge, len(catalog)),
		claimable: make(map[string]bool, len(claimableIDs)),
	}
	for _, b := range p.catalog {
		p.byID[b.ID] = b
	}
	for _, id := range claimableIDs {
		p.claimable[id] = true
	}
	return p
}

// Catalog returns the badges in display order.
func (p *Policy) Catalog() []store.Badge {
	return p.catalog
}

// IsEligible reports whether badgeID can be awarded at now, ignoring what the user holds.
// Time-limited badges are eligible only inside their inclusive window; one with
// no window configured is never eligible.
func (p *Policy) IsEligible(badgeID string, now time.Time) bool {
	b, ok := p.byID[badgeID]
	if !ok {
		return false
	}
	if !b.IsTimeLimited {
		return true
	}
	if b.WindowStart == nil || b.WindowEnd == nil {
		return false
	}
	return !now.Before(*b.WindowStart) && !now.After(*b.WindowEnd)
}

// FoundingWindowActive reports whether the founding badge can be earned at now.
func (p *Policy) FoundingWindowActive(now time.Time) bool {
	return p.IsEligible(FoundingBadgeID, now)
}

// Claim awards badgeID to userID, or returns one of the rejection errors.
// Checks run in order: ban, catalog/claimable, already held, window.
// Concurrent claims for the same pair produce one row; the loser gets ErrAlreadyClaimed.
func (p *Policy) Claim(ctx context.Context, userID uuid.UUID, badgeID string, now time.Time) error {
	banned, err := p.store.IsBanned(ctx, userID)
	if err != nil {
		return fmt.Errorf("checking ban: %w", err)
	}
	if banned {
		return ErrBanned
	}

	if _, ok := p.byID[badgeID]; !ok {
		return ErrUnknownBadge
	}
	if !p.claimable[badgeID] {
		return ErrNotClaimable
	}

	awards, err := p.store.ListAwardsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing awards: %w", err)
	}
	for _, a := range awards {
		if a.BadgeID == badgeID {
			return ErrAlreadyClaimed
		}
	}

	if !p.IsEligible(badgeID, now) {
		return ErrWindowClosed
	}

	inserted, err := p.store.InsertAwardIfAbsent(ctx, userID, badgeID, now)
	if err != nil {
		return fmt.Errorf("inserting award: %w", err)
	}
	if !inserted {
		return ErrAlreadyClaimed
	}
	return nil
}

// AutoAward grants the founding badge on a user's first login inside the window.
// Returns true when a new award row was written.
func (p *Policy) AutoAward(ctx context.Context, userID uuid.UUID, isNew bool, now time.Time) (bool, error) {
	if !isNew || !p.FoundingWindowActive(now) {
		return false, nil
	}
	inserted, err := p.store.InsertAwardIfAbsent(ctx, userID, FoundingBadgeID, now)
	if err != nil {
		return false, fmt.Errorf("auto-awarding %s: %w", FoundingBadgeID, err)
	}
	return inserted, nil
}

// Unlocked returns the set of badge ids userID holds.
func (p *Policy) Unlocked(ctx context.Context, userID uuid.UUID) (map[string]bool, error) {
	awards, err := p.store.ListAwardsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing awards: %w", err)
	}
	held := make(map[string]bool, len(awards))
	for _, a := range awards {
		held[a.BadgeID] = true
	}
	return held, nil
}
