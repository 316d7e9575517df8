// status_handler.go -- GET /status, the signed-in user's profile and badge board.
package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/yellowcatz/badgegate/internal/store"
)

type statusUser struct {
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatarUrl"`
	JoinDate  string  `json:"joinDate"`
}

type statusBadge struct {
	ID       string `json:"id"`
	Unlocked bool   `json:"unlocked"`
}

type statusResponse struct {
	Authenticated  bool          `json:"authenticated"`
	User           *statusUser   `json:"user,omitempty"`
	OGPeriodActive *bool         `json:"ogPeriodActive,omitempty"`
	Badges         []statusBadge `json:"badges,omitempty"`
}

// Status handles GET /status. Session is optional: without one, or when the
// session's user no longer exists, it answers {"authenticated":false}.
// Otherwise lists every catalog badge in order with its unlocked flag.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, statusResponse{Authenticated: false})
		return
	}

	user, err := h.PS.GetUserByExternalID(r.Context(), sess.ExternalUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, statusResponse{Authenticated: false})
			return
		}
		InternalServerError(w, r, err)
		return
	}

	held, err := h.Policy.Unlocked(r.Context(), user.ID)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	catalog := h.Policy.Catalog()
	badges := make([]statusBadge, 0, len(catalog))
	for _, b := range catalog {
		badges = append(badges, statusBadge{ID: b.ID, Unlocked: held[b.ID]})
	}
	active := h.Policy.FoundingWindowActive(h.now())

	writeJSON(w, http.StatusOK, statusResponse{
		Authenticated: true,
		User: &statusUser{
			Username:  "@" + user.DisplayName,
			AvatarURL: user.AvatarURL,
			JoinDate:  user.FirstLoginAt.UTC().Format(time.RFC3339),
		},
		OGPeriodActive: &active,
		Badges:         badges,
	})
}
