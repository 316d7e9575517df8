// catalog.go -- the campaign's badge catalog, seeded at startup.
package badge

import (
	"time"

	"github.com/yellowcatz/badgegate/internal/store"
)

// FoundingBadgeID is the time-limited badge awarded during the founding window.
const FoundingBadgeID = "og"

// claimableIDs are the badges users may claim themselves through the claim endpoint.
// badge_9 and badge_10 exist in the catalog but are granted out of band.
var claimableIDs = []string{
	FoundingBadgeID, "badge_2", "badge_3", "badge_4", "badge_5", "badge_6", "badge_7", "badge_8",
}

// Catalog returns the full badge catalog in display order.
// The founding badge window is [launch, launch+window]; a zero launch leaves
// the window unset, so the badge is never eligible. Both bounds are held at
// millisecond precision, the coarsest a store backend keeps.
func Catalog(launch time.Time, window time.Duration) []store.Badge {
	og := store.Badge{
		ID:            FoundingBadgeID,
		Name:          "OG",
		Description:   "First 24 hours founder",
		Mission:       "Connect within the first 24 hours of launch",
		IsTimeLimited: true,
	}
	if !launch.IsZero() {
		start := launch.UTC().Truncate(time.Millisecond)
		end := start.Add(window).Truncate(time.Millisecond)
		og.WindowStart = &start
		og.WindowEnd = &end
	}

	badges := []store.Badge{
		og,
		{ID: "badge_2", Name: "Supporter", Description: "Community supporter", Mission: "Like and RT the official tweet"},
		{ID: "badge_3", Name: "Yellow Army", Description: "Spread the yellow", Mission: "Post a tweet with your new PFP and #YELLOWCATZ"},
		{ID: "badge_4", Name: "Reach the Moon", Description: "You reached the moon!", Mission: "Complete the YellowGame challenge and click the green button"},
		{ID: "badge_5", Name: "X Hunter", Description: "Found the X secret", Mission: "Find and download the hidden YellowCatzX image"},
		{ID: "badge_6", Name: "M Hunter", Description: "Found the M secret", Mission: "Find and download the hidden YellowCatzM image"},
		{ID: "badge_7", Name: "???", Description: "Mystery badge", Mission: "???"},
		{ID: "badge_8", Name: "???", Description: "Mystery badge", Mission: "???"},
		{ID: "badge_9", Name: "???", Description: "Mystery badge", Mission: "???"},
		{ID: "badge_10", Name: "???", Description: "Mystery badge", Mission: "???"},
	}
	for i := range badges {
		badges[i].Position = i
	}
	return badges
}
