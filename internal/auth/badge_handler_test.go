// badge_handler_test.go

// unit tests for ClaimBadge.

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/yellowcatz/badgegate/internal/badge"
	"github.com/yellowcatz/badgegate/internal/store"
	"github.com/yellowcatz/badgegate/internal/testutil"
)

// bannedAtClaim reports every user as banned to the policy while the user row
// read by the handler still shows them active.
type bannedAtClaim struct {
	*testutil.MockStore
}

func (bannedAtClaim) IsBanned(context.Context, uuid.UUID) (bool, error) {
	return true, nil
}

func claimRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/badge", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// claim posts body as u through LoadSession + RequireSession + ClaimBadge.
// A nil u sends no session cookie.
func (env *testEnv) claim(t *testing.T, u *store.User, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := claimRequest(body)
	if u != nil {
		r = env.authed(t, r, u)
	}
	w := httptest.NewRecorder()
	env.h.LoadSession(env.h.RequireSession(http.HandlerFunc(env.h.ClaimBadge))).ServeHTTP(w, r)
	return w
}

func TestClaimBadge(t *testing.T) {
	inWindow := launch.Add(2 * time.Hour)
	afterWindow := launch.Add(24*time.Hour + time.Second)

	t.Run("claims og inside window", func(t *testing.T) {
		env := newTestEnv(t, inWindow)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))
		w := env.claim(t, u, `{"badgeId":"og"}`)

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d (%s)", w.Code, w.Body.String())
		}
		var body struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
			BadgeID string `json:"badgeId"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if !body.Success || body.Message != "Badge og unlocked!" || body.BadgeID != "og" {
			t.Errorf("unexpected body %+v", body)
		}
		if !env.ms.HasAward(u.ID, "og") {
			t.Error("expected og award stored")
		}
	})

	t.Run("claims an open mission badge after the window", func(t *testing.T) {
		env := newTestEnv(t, afterWindow)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))
		w := env.claim(t, u, `{"badgeId":"badge_5"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d (%s)", w.Code, w.Body.String())
		}
		if !env.ms.HasAward(u.ID, "badge_5") {
			t.Error("expected badge_5 award stored")
		}
	})

	t.Run("og after window is rejected", func(t *testing.T) {
		env := newTestEnv(t, afterWindow)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))
		assertJSONError(t, env.claim(t, u, `{"badgeId":"og"}`), http.StatusBadRequest,
			"OG badge period has ended. You missed it.")
		if env.ms.HasAward(u.ID, "og") {
			t.Error("expected no award")
		}
	})

	t.Run("second claim is already claimed", func(t *testing.T) {
		env := newTestEnv(t, inWindow)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))
		if w := env.claim(t, u, `{"badgeId":"badge_2"}`); w.Code != http.StatusOK {
			t.Fatalf("first claim: expected 200, got %d", w.Code)
		}
		assertJSONError(t, env.claim(t, u, `{"badgeId":"badge_2"}`), http.StatusBadRequest, "Badge already claimed")
	})

	t.Run("held og after window reports already claimed", func(t *testing.T) {
		env := newTestEnv(t, afterWindow)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))
		env.ms.Awards[u.ID] = map[string]time.Time{"og": launch}
		assertJSONError(t, env.claim(t, u, `{"badgeId":"og"}`), http.StatusBadRequest, "Badge already claimed")
	})

	rejections := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"unknown badge", `{"badgeId":"badge_99"}`, http.StatusBadRequest, "Unknown badge"},
		{"unclaimable badge", `{"badgeId":"badge_9"}`, http.StatusBadRequest, "This badge cannot be claimed here"},
		{"unclaimable badge_10", `{"badgeId":"badge_10"}`, http.StatusBadRequest, "This badge cannot be claimed here"},
		{"missing badgeId", `{}`, http.StatusBadRequest, "Missing badgeId"},
		{"blank badgeId", `{"badgeId":"   "}`, http.StatusBadRequest, "Missing badgeId"},
		{"empty body", ``, http.StatusBadRequest, "Missing badgeId"},
		{"malformed json", `{"badgeId":`, http.StatusBadRequest, "Missing badgeId"},
		{"wrong type", `{"badgeId":7}`, http.StatusBadRequest, "Missing badgeId"},
	}
	for _, tc := range rejections {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, inWindow)
			u := env.seedUser(t, "1001", launch.Add(-time.Hour))
			assertJSONError(t, env.claim(t, u, tc.body), tc.status, tc.msg)
			if env.ms.MutationCount() != 0 {
				t.Error("expected no writes")
			}
		})
	}

	t.Run("no session is 401", func(t *testing.T) {
		env := newTestEnv(t, inWindow)
		assertJSONError(t, env.claim(t, nil, `{"badgeId":"og"}`), http.StatusUnauthorized, "Not authenticated")
	})

	t.Run("session for deleted user is 401", func(t *testing.T) {
		env := newTestEnv(t, inWindow)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))
		delete(env.ms.Users, "1001")
		assertJSONError(t, env.claim(t, u, `{"badgeId":"og"}`), http.StatusUnauthorized, "User not found")
	})

	t.Run("banned user is 403", func(t *testing.T) {
		env := newTestEnv(t, inWindow)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))
		u.IsBanned = true
		assertJSONError(t, env.claim(t, u, `{"badgeId":"og"}`), http.StatusForbidden, "User is banned")
		if env.ms.HasAward(u.ID, "og") {
			t.Error("banned user must not be awarded")
		}
	})

	t.Run("ban after user lookup is 403", func(t *testing.T) {
		env := newTestEnv(t, inWindow)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))
		env.h.Policy = badge.NewPolicy(bannedAtClaim{env.ms}, badge.Catalog(launch, 24*time.Hour))

		assertJSONError(t, env.claim(t, u, `{"badgeId":"og"}`), http.StatusForbidden, "User is banned")
		if env.ms.HasAward(u.ID, "og") {
			t.Error("user banned at claim time must not be awarded")
		}
	})

	t.Run("user lookup failure is 500", func(t *testing.T) {
		env := newTestEnv(t, inWindow)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))
		env.ms.GetUserErr = errors.New("db down")
		assertJSONError(t, env.claim(t, u, `{"badgeId":"og"}`), http.StatusInternalServerError, "Server error")
	})

	t.Run("award insert failure is 500", func(t *testing.T) {
		env := newTestEnv(t, inWindow)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))
		env.ms.InsertAwardErr = errors.New("db down")
		assertJSONError(t, env.claim(t, u, `{"badgeId":"og"}`), http.StatusInternalServerError, "Server error")
	})

	t.Run("concurrent claims award once", func(t *testing.T) {
		env := newTestEnv(t, inWindow)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))

		tok, err := env.h.Sessions.CreateToken(u)
		if err != nil {
			t.Fatalf("CreateToken returned error: %v", err)
		}
		handler := env.h.LoadSession(env.h.RequireSession(http.HandlerFunc(env.h.ClaimBadge)))

		const n = 16
		codes := make([]int, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r := claimRequest(`{"badgeId":"badge_3"}`)
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tok})
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, r)
				codes[i] = w.Code
			}()
		}
		wg.Wait()

		ok := 0
		for _, c := range codes {
			switch c {
			case http.StatusOK:
				ok++
			case http.StatusBadRequest:
			default:
				t.Errorf("unexpected status %d", c)
			}
		}
		if ok != 1 {
			t.Errorf("successful claims: expected 1, got %d", ok)
		}
	})
}
