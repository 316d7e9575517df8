// oauth_handler_test.go

// unit tests for Login, Callback and Logout.

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/yellowcatz/badgegate/internal/badge"
	"github.com/yellowcatz/badgegate/internal/oauth"
	"golang.org/x/oauth2"
)

// login runs GET /login and returns the state and verifier cookies it set.
func (env *testEnv) login(t *testing.T) (state, verifier string) {
	t.Helper()
	w := httptest.NewRecorder()
	env.h.Login(w, httptest.NewRequest(http.MethodGet, "/login", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("login status: expected 302, got %d", w.Code)
	}
	cookies := w.Result().Cookies()
	sc := findCookie(cookies, oauthStateCookie)
	vc := findCookie(cookies, codeVerifierCookie)
	if sc == nil || vc == nil {
		t.Fatal("login did not set pkce cookies")
	}
	return sc.Value, vc.Value
}

// callbackRequest builds GET /callback with the given query and pkce cookies.
// Empty cookie values are omitted.
func callbackRequest(query url.Values, stateCookie, verifierCookie string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/callback?"+query.Encode(), nil)
	if stateCookie != "" {
		r.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: stateCookie})
	}
	if verifierCookie != "" {
		r.AddCookie(&http.Cookie{Name: codeVerifierCookie, Value: verifierCookie})
	}
	return r
}

// callback runs the full callback leg for a fresh login.
func (env *testEnv) callback(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	state, verifier := env.login(t)
	w := httptest.NewRecorder()
	env.h.Callback(w, callbackRequest(url.Values{"code": {"c0de"}, "state": {state}}, state, verifier))
	return w
}

// --- Login ---

func TestLogin(t *testing.T) {
	t.Run("redirects to provider with challenge and sets pkce cookies", func(t *testing.T) {
		env := newTestEnv(t, launch)
		w := httptest.NewRecorder()
		env.h.Login(w, httptest.NewRequest(http.MethodGet, "/login", nil))

		if w.Code != http.StatusFound {
			t.Fatalf("status: expected 302, got %d", w.Code)
		}
		loc, err := url.Parse(w.Header().Get("Location"))
		if err != nil {
			t.Fatalf("parsing Location: %v", err)
		}
		if loc.Host != "provider.test" {
			t.Errorf("Location host: expected provider.test, got %q", loc.Host)
		}

		cookies := w.Result().Cookies()
		sc := findCookie(cookies, oauthStateCookie)
		vc := findCookie(cookies, codeVerifierCookie)
		if sc == nil || vc == nil {
			t.Fatal("expected state and verifier cookies")
		}
		for _, c := range []*http.Cookie{sc, vc} {
			if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || c.Path != "/" {
				t.Errorf("%s: unexpected attributes %+v", c.Name, c)
			}
			if c.MaxAge != 600 {
				t.Errorf("%s MaxAge: expected 600, got %d", c.Name, c.MaxAge)
			}
		}

		q := loc.Query()
		if q.Get("state") != sc.Value {
			t.Errorf("state: cookie %q does not match redirect %q", sc.Value, q.Get("state"))
		}
		if q.Get("code_challenge") != oauth2.S256ChallengeFromVerifier(vc.Value) {
			t.Error("code_challenge is not S256 of the verifier cookie")
		}
		if q.Get("code_challenge_method") != "S256" {
			t.Errorf("code_challenge_method: expected S256, got %q", q.Get("code_challenge_method"))
		}
	})

	t.Run("secure pkce cookies in production", func(t *testing.T) {
		env := newTestEnv(t, launch)
		env.h.Secure = true
		w := httptest.NewRecorder()
		env.h.Login(w, httptest.NewRequest(http.MethodGet, "/login", nil))
		if c := findCookie(w.Result().Cookies(), oauthStateCookie); c == nil || !c.Secure {
			t.Error("expected Secure state cookie")
		}
	})

	t.Run("each login gets fresh values", func(t *testing.T) {
		env := newTestEnv(t, launch)
		s1, v1 := env.login(t)
		s2, v2 := env.login(t)
		if s1 == s2 || v1 == v2 {
			t.Error("expected distinct state and verifier per login")
		}
	})

	t.Run("unconfigured provider redirects config_error", func(t *testing.T) {
		env := newTestEnv(t, launch)
		env.h.Provider = nil
		w := httptest.NewRecorder()
		env.h.Login(w, httptest.NewRequest(http.MethodGet, "/login", nil))

		assertErrorRedirect(t, w, TagConfigError)
		if findCookie(w.Result().Cookies(), oauthStateCookie) != nil {
			t.Error("expected no pkce cookies")
		}
	})

	t.Run("entropy failure redirects login_failed", func(t *testing.T) {
		orig := randReader
		randReader = failingReader{}
		t.Cleanup(func() { randReader = orig })

		env := newTestEnv(t, launch)
		w := httptest.NewRecorder()
		env.h.Login(w, httptest.NewRequest(http.MethodGet, "/login", nil))
		assertErrorRedirect(t, w, TagLoginFailed)
	})
}

// --- Callback ---

func TestCallback_Rejections(t *testing.T) {
	const state = "Zq3Jm8pLx0aT5cWv9RbN2yKd7HfE4uGs"
	const verifier = "verifier-verifier-verifier-verifier-verifier-verifier-verifier-v"

	cases := []struct {
		name           string
		query          url.Values
		stateCookie    string
		verifierCookie string
		tag            string
	}{
		{
			name:           "provider error param",
			query:          url.Values{"error": {"access_denied"}, "state": {state}},
			stateCookie:    state,
			verifierCookie: verifier,
			tag:            TagAccessDenied,
		},
		{
			name:           "provider error wins over code",
			query:          url.Values{"error": {"server_error"}, "code": {"c"}, "state": {state}},
			stateCookie:    state,
			verifierCookie: verifier,
			tag:            TagAccessDenied,
		},
		{
			name:           "missing code",
			query:          url.Values{"state": {state}},
			stateCookie:    state,
			verifierCookie: verifier,
			tag:            TagNoCode,
		},
		{
			name:           "missing state cookie",
			query:          url.Values{"code": {"c"}, "state": {state}},
			verifierCookie: verifier,
			tag:            TagInvalidState,
		},
		{
			name:           "missing state param",
			query:          url.Values{"code": {"c"}},
			stateCookie:    state,
			verifierCookie: verifier,
			tag:            TagInvalidState,
		},
		{
			name:           "empty state param with no cookie",
			query:          url.Values{"code": {"c"}, "state": {""}},
			verifierCookie: verifier,
			tag:            TagInvalidState,
		},
		{
			name:           "state differs only in case",
			query:          url.Values{"code": {"c"}, "state": {"zq3Jm8pLx0aT5cWv9RbN2yKd7HfE4uGs"}},
			stateCookie:    state,
			verifierCookie: verifier,
			tag:            TagInvalidState,
		},
		{
			name:           "state is a prefix",
			query:          url.Values{"code": {"c"}, "state": {state[:31]}},
			stateCookie:    state,
			verifierCookie: verifier,
			tag:            TagInvalidState,
		},
		{
			name:        "missing verifier cookie",
			query:       url.Values{"code": {"c"}, "state": {state}},
			stateCookie: state,
			tag:         TagMissingVerifier,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, launch)
			w := httptest.NewRecorder()
			env.h.Callback(w, callbackRequest(tc.query, tc.stateCookie, tc.verifierCookie))

			assertErrorRedirect(t, w, tc.tag)
			assertNoSessionCookie(t, w)
			if env.provider.exchanges != 0 {
				t.Errorf("expected no token exchange, got %d", env.provider.exchanges)
			}
			if len(env.ms.Users) != 0 {
				t.Error("expected no user created")
			}
		})
	}

	t.Run("unconfigured provider redirects config_error", func(t *testing.T) {
		env := newTestEnv(t, launch)
		env.h.Provider = nil
		w := httptest.NewRecorder()
		env.h.Callback(w, callbackRequest(url.Values{"code": {"c"}, "state": {state}}, state, verifier))
		assertErrorRedirect(t, w, TagConfigError)
	})
}

func TestCallback_Failures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(env *testEnv)
		tag   string
	}{
		{
			name: "token exchange rejected",
			setup: func(env *testEnv) {
				env.provider.exchangeErr = &oauth.UpstreamError{
					Kind: oauth.ErrTokenExchangeFailed, Status: 400, Body: `{"error":"invalid_grant"}`,
				}
			},
			tag: TagTokenFailed,
		},
		{
			name: "token endpoint unreachable",
			setup: func(env *testEnv) {
				env.provider.exchangeErr = &oauth.UpstreamError{Kind: oauth.ErrTransport, Err: context.DeadlineExceeded}
			},
			tag: TagTokenFailed,
		},
		{
			name: "profile fetch rejected",
			setup: func(env *testEnv) {
				env.provider.profileErr = &oauth.UpstreamError{Kind: oauth.ErrProfileFetchFailed, Status: 401}
			},
			tag: TagUserFailed,
		},
		{
			name:  "ledger unavailable",
			setup: func(env *testEnv) { env.ledger.ConsumeErr = errors.New("redis down") },
			tag:   TagCallbackFailed,
		},
		{
			name:  "user lookup fails",
			setup: func(env *testEnv) { env.ms.GetUserErr = errors.New("db down") },
			tag:   TagCallbackFailed,
		},
		{
			name:  "user create fails",
			setup: func(env *testEnv) { env.ms.CreateUserErr = errors.New("db down") },
			tag:   TagCallbackFailed,
		},
		{
			name:  "founding auto-award fails",
			setup: func(env *testEnv) { env.ms.InsertAwardErr = errors.New("db down") },
			tag:   TagCallbackFailed,
		},
		{
			name:  "panic during exchange",
			setup: func(env *testEnv) { env.provider.panicOn = "exchange" },
			tag:   TagCallbackFailed,
		},
		{
			name:  "panic during profile fetch",
			setup: func(env *testEnv) { env.provider.panicOn = "profile" },
			tag:   TagCallbackFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, launch.Add(time.Hour))
			tc.setup(env)
			w := env.callback(t)

			assertErrorRedirect(t, w, tc.tag)
			assertNoSessionCookie(t, w)
		})
	}

	t.Run("upstream error tags distinguish exchange from profile", func(t *testing.T) {
		env := newTestEnv(t, launch)
		env.provider.exchangeErr = errors.New("unclassified")
		assertErrorRedirect(t, env.callback(t), TagTokenFailed)

		env = newTestEnv(t, launch)
		env.provider.profileErr = errors.New("unclassified")
		assertErrorRedirect(t, env.callback(t), TagUserFailed)
	})
}

func TestCallback_ClearsPKCECookies(t *testing.T) {
	assertCleared := func(t *testing.T, w *httptest.ResponseRecorder) {
		t.Helper()
		for _, name := range []string{oauthStateCookie, codeVerifierCookie} {
			c := findCookie(w.Result().Cookies(), name)
			if c == nil {
				t.Errorf("%s: expected clearing cookie", name)
				continue
			}
			if c.Value != "" || c.MaxAge >= 0 {
				t.Errorf("%s: expected expired empty cookie, got %+v", name, c)
			}
		}
	}

	t.Run("on success", func(t *testing.T) {
		env := newTestEnv(t, launch)
		assertCleared(t, env.callback(t))
	})

	t.Run("on provider error", func(t *testing.T) {
		env := newTestEnv(t, launch)
		w := httptest.NewRecorder()
		env.h.Callback(w, callbackRequest(url.Values{"error": {"access_denied"}}, "s", "v"))
		assertCleared(t, w)
	})

	t.Run("on token failure", func(t *testing.T) {
		env := newTestEnv(t, launch)
		env.provider.exchangeErr = errors.New("nope")
		assertCleared(t, env.callback(t))
	})
}

func TestCallback_PassesCodeAndVerifier(t *testing.T) {
	env := newTestEnv(t, launch)
	state, verifier := env.login(t)
	w := httptest.NewRecorder()
	env.h.Callback(w, callbackRequest(url.Values{"code": {"the-code"}, "state": {state}}, state, verifier))

	assertRedirect(t, w, "/status.html")
	if env.provider.gotCode != "the-code" {
		t.Errorf("code: expected the-code, got %q", env.provider.gotCode)
	}
	if env.provider.gotVerifier != verifier {
		t.Error("verifier: expected the cookie value to reach the exchange")
	}
}

// --- Login scenarios ---

func TestCallback_Scenarios(t *testing.T) {
	t.Run("first login inside founding window earns og", func(t *testing.T) {
		env := newTestEnv(t, launch.Add(3*time.Hour))
		w := env.callback(t)

		assertRedirect(t, w, "/status.html")
		sc := findCookie(w.Result().Cookies(), SessionCookieName)
		if sc == nil || sc.Value == "" {
			t.Fatal("expected session cookie")
		}
		sess, ok := env.h.Sessions.VerifyToken(sc.Value)
		if !ok {
			t.Fatal("session cookie does not verify")
		}
		u := env.ms.Users["1001"]
		if u == nil {
			t.Fatal("expected user created")
		}
		if sess.UserID != u.ID || sess.ExternalUserID != "1001" || sess.ExternalUsername != "yellowcat" {
			t.Errorf("unexpected session %+v", sess)
		}
		if !u.FirstLoginAt.Equal(env.now) {
			t.Errorf("FirstLoginAt: expected %v, got %v", env.now, u.FirstLoginAt)
		}
		if !env.ms.HasAward(u.ID, badge.FoundingBadgeID) {
			t.Error("expected og awarded")
		}
	})

	t.Run("first login after window gets no og", func(t *testing.T) {
		env := newTestEnv(t, launch.Add(25*time.Hour))
		assertRedirect(t, env.callback(t), "/status.html")

		u := env.ms.Users["1001"]
		if u == nil {
			t.Fatal("expected user created")
		}
		if env.ms.HasAward(u.ID, badge.FoundingBadgeID) {
			t.Error("expected no og after the window")
		}
	})

	t.Run("returning user inside window gets no auto-award", func(t *testing.T) {
		env := newTestEnv(t, launch.Add(time.Hour))
		u := env.seedUser(t, "1001", launch.Add(-48*time.Hour))

		assertRedirect(t, env.callback(t), "/status.html")
		if env.ms.HasAward(u.ID, badge.FoundingBadgeID) {
			t.Error("returning user must not be auto-awarded")
		}
		if got := env.ms.Users["1001"]; !got.FirstLoginAt.Equal(launch.Add(-48 * time.Hour)) {
			t.Error("FirstLoginAt must not change on return")
		}
	})

	t.Run("returning user gets profile refreshed", func(t *testing.T) {
		env := newTestEnv(t, launch)
		env.seedUser(t, "1001", launch.Add(-time.Hour))
		env.provider.profile = &oauth.Profile{ID: "1001", Username: "renamedcat"}

		assertRedirect(t, env.callback(t), "/status.html")
		u := env.ms.Users["1001"]
		if u.DisplayName != "renamedcat" {
			t.Errorf("DisplayName: expected renamedcat, got %q", u.DisplayName)
		}
		if u.AvatarURL != nil {
			t.Errorf("AvatarURL: expected nil, got %q", *u.AvatarURL)
		}
	})

	t.Run("returning user outside window is refreshed without badge side effect", func(t *testing.T) {
		env := newTestEnv(t, launch.Add(72*time.Hour))
		u := env.seedUser(t, "1001", launch.Add(-48*time.Hour))
		u.DisplayName = "oldname"
		env.provider.profile = &oauth.Profile{ID: "1001", Username: "newname", AvatarURL: "https://pbs.twimg.com/new.png"}

		w := env.callback(t)
		assertRedirect(t, w, "/status.html")
		if c := findCookie(w.Result().Cookies(), SessionCookieName); c == nil || c.Value == "" {
			t.Error("expected session cookie")
		}
		got := env.ms.Users["1001"]
		if got.DisplayName != "newname" || got.AvatarURL == nil || *got.AvatarURL != "https://pbs.twimg.com/new.png" {
			t.Errorf("display fields not refreshed: %+v", got)
		}
		if len(env.ms.Awards[u.ID]) != 0 {
			t.Errorf("expected no awards, got %v", env.ms.Awards[u.ID])
		}
	})

	t.Run("state mismatch sets no session and mutates nothing", func(t *testing.T) {
		env := newTestEnv(t, launch)
		_, verifier := env.login(t)
		w := httptest.NewRecorder()
		env.h.Callback(w, callbackRequest(url.Values{"code": {"c0de"}, "state": {"X"}}, "Y", verifier))

		assertErrorRedirect(t, w, TagInvalidState)
		assertNoSessionCookie(t, w)
		if env.ms.MutationCount() != 0 {
			t.Errorf("expected no store mutation, got %d", env.ms.MutationCount())
		}
		if len(env.ledger.Used) != 0 {
			t.Error("mismatched state must not be recorded as consumed")
		}
	})

	t.Run("replayed callback is invalid_state", func(t *testing.T) {
		env := newTestEnv(t, launch)
		state, verifier := env.login(t)
		q := url.Values{"code": {"c0de"}, "state": {state}}

		w := httptest.NewRecorder()
		env.h.Callback(w, callbackRequest(q, state, verifier))
		assertRedirect(t, w, "/status.html")

		// Same state and cookies presented again.
		w = httptest.NewRecorder()
		env.h.Callback(w, callbackRequest(q, state, verifier))
		assertErrorRedirect(t, w, TagInvalidState)
		assertNoSessionCookie(t, w)
		if env.provider.exchanges != 1 {
			t.Errorf("exchanges: expected 1, got %d", env.provider.exchanges)
		}
	})

	t.Run("banned user still logs in", func(t *testing.T) {
		env := newTestEnv(t, launch)
		u := env.seedUser(t, "1001", launch.Add(-time.Hour))
		u.IsBanned = true
		assertRedirect(t, env.callback(t), "/status.html")
	})
}

// --- Logout ---

func TestLogout(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method+" clears session and redirects home", func(t *testing.T) {
			env := newTestEnv(t, launch)
			u := env.seedUser(t, "1001", launch)
			r := env.authed(t, httptest.NewRequest(method, "/logout", nil), u)
			w := env.serve(env.h.Logout, r)

			assertRedirect(t, w, "/index.html")
			c := findCookie(w.Result().Cookies(), SessionCookieName)
			if c == nil || c.Value != "" || c.MaxAge >= 0 {
				t.Errorf("expected cleared session cookie, got %+v", c)
			}
		})
	}

	t.Run("works without a session", func(t *testing.T) {
		env := newTestEnv(t, launch)
		w := env.serve(env.h.Logout, httptest.NewRequest(http.MethodGet, "/logout", nil))
		assertRedirect(t, w, "/index.html")
	})
}
