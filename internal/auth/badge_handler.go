// badge_handler.go -- POST /badge, self-service badge claims.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/yellowcatz/badgegate/internal/badge"
	"github.com/yellowcatz/badgegate/internal/store"
)

// maxClaimBody caps the claim request body.
const maxClaimBody = 4 << 10

// ClaimBadge handles POST /badge -- awards {"badgeId"} to the session's user.
// Must run behind RequireSession. Rejections are 4xx {"error"}; success is
// 200 {"success":true,"message":"Badge <id> unlocked!","badgeId":<id>}.
func (h *AuthHandler) ClaimBadge(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		Unauthorized(w, "Not authenticated")
		return
	}

	user, err := h.PS.GetUserByExternalID(r.Context(), sess.ExternalUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logInfo(r, "badge claim: session user no longer exists", "external_user_id", sess.ExternalUserID)
			Unauthorized(w, "User not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	// Rejects banned users before the body is read. Policy.Claim checks again.
	if user.IsBanned {
		logInfo(r, "badge claim rejected", "reason", "banned", "user_id", user.ID)
		Forbidden(w, "User is banned")
		return
	}

	var input struct {
		BadgeID string `json:"badgeId"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxClaimBody)).Decode(&input); err != nil {
		logInfo(r, "badge claim: undecodable body", "error", err)
	}
	badgeID := strings.TrimSpace(input.BadgeID)
	if badgeID == "" {
		BadRequest(w, "Missing badgeId")
		return
	}

	err = h.Policy.Claim(r.Context(), user.ID, badgeID, h.now())
	switch {
	case err == nil:
	case errors.Is(err, badge.ErrBanned):
		// Ban landed after the user lookup above.
		logInfo(r, "badge claim rejected", "reason", "banned", "user_id", user.ID)
		Forbidden(w, "User is banned")
		return
	case errors.Is(err, badge.ErrUnknownBadge):
		logInfo(r, "badge claim rejected", "reason", "unknown_badge", "user_id", user.ID, "badge_id", badgeID)
		BadRequest(w, "Unknown badge")
		return
	case errors.Is(err, badge.ErrNotClaimable):
		logInfo(r, "badge claim rejected", "reason", "not_claimable", "user_id", user.ID, "badge_id", badgeID)
		BadRequest(w, "This badge cannot be claimed here")
		return
	case errors.Is(err, badge.ErrAlreadyClaimed):
		logInfo(r, "badge claim rejected", "reason", "already_claimed", "user_id", user.ID, "badge_id", badgeID)
		BadRequest(w, "Badge already claimed")
		return
	case errors.Is(err, badge.ErrWindowClosed):
		logInfo(r, "badge claim rejected", "reason", "window_closed", "user_id", user.ID, "badge_id", badgeID)
		BadRequest(w, "OG badge period has ended. You missed it.")
		return
	case errors.Is(err, store.ErrNotFound):
		Unauthorized(w, "User not found")
		return
	default:
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "badge claimed", "user_id", user.ID, "badge_id", badgeID)
	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		BadgeID string `json:"badgeId"`
	}{true, "Badge " + badgeID + " unlocked!", badgeID})
}
