package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standby/internal/config"
	"standby/internal/display"
	"standby/internal/model"
)

type fakeScreen struct {
	frame   display.Frame
	redraws int
}

func (f *fakeScreen) Snapshot() display.Frame { return f.frame }
func (f *fakeScreen) Redraw()                 { f.redraws++ }

type fakeRefresher struct {
	ev  *model.Event
	err error
}

func (f *fakeRefresher) FetchNow(context.Context) (*model.Event, error) { return f.ev, f.err }

type fakeSession struct {
	configured bool
	account    string
	signedOut  bool
}

func (f *fakeSession) Configured() bool { return f.configured }

func (f *fakeSession) Current() (string, bool) { return f.account, f.account != "" }

func (f *fakeSession) AuthCodeURL() (string, error) {
	return "https://accounts.example.com/o/oauth2/auth?state=s1", nil
}

func (f *fakeSession) Complete(_ context.Context, state, code string) (string, error) {
	if state != "s1" || code != "c1" {
		return "", errors.New("bad state")
	}
	f.account = "a@example.com"
	return f.account, nil
}

func (f *fakeSession) SignOut() error {
	f.account, f.signedOut = "", true
	return nil
}

func newTestServer(t *testing.T, mutate func(*config.Config), deps Deps) http.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Normalize()
	if deps.Screen == nil {
		deps.Screen = &fakeScreen{}
	}
	if deps.Refresher == nil {
		deps.Refresher = &fakeRefresher{}
	}
	return NewServer(cfg, deps).Handler()
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil, Deps{})
	rec := do(h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStandbyPage(t *testing.T) {
	screen := &fakeScreen{frame: display.Frame{
		Clock:      "9:05",
		Date:       "Friday, March 15, 2024",
		HasEvent:   true,
		EventTitle: "Design <review>",
		Countdown:  "in 55m",
		Battery:    "57%",
		Charging:   true,
	}}
	h := newTestServer(t, nil, Deps{Screen: screen})

	rec := do(h, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, "9:05")
	assert.Contains(t, body, "Friday, March 15, 2024")
	assert.Contains(t, body, "Design &lt;review&gt; in 55m")
	assert.Contains(t, body, `class="charging">57%`)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/nope").Code)
}

func TestState(t *testing.T) {
	screen := &fakeScreen{frame: display.Frame{Clock: "10:00", SignedIn: true, Account: "a@example.com"}}
	h := newTestServer(t, nil, Deps{Screen: screen})

	rec := do(h, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	var got display.Frame
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, screen.frame, got)
}

func TestRefresh(t *testing.T) {
	start := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	tests := []struct {
		name   string
		ref    *fakeRefresher
		status string
	}{
		{"fetched", &fakeRefresher{ev: model.NewEvent(start, "Dentist")}, "Fetched: Dentist at Friday, March 15, 2024 2:30 PM"},
		{"nothing", &fakeRefresher{}, "No upcoming events"},
		{"failed", &fakeRefresher{err: errors.New("dial tcp: timeout")}, "Fetch failed: dial tcp: timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			screen := &fakeScreen{}
			h := newTestServer(t, nil, Deps{Screen: screen, Refresher: tt.ref})

			rec := do(h, http.MethodPost, "/api/refresh")
			require.Equal(t, http.StatusOK, rec.Code)
			var got refreshResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.ref.ev != nil, got.Event != nil)
			assert.Equal(t, 1, screen.redraws)
		})
	}

	h := newTestServer(t, nil, Deps{})
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/api/refresh").Code)
}

func TestSignInFlow(t *testing.T) {
	sess := &fakeSession{configured: true}
	screen := &fakeScreen{}
	h := newTestServer(t, nil, Deps{Screen: screen, Session: sess})

	rec := do(h, http.MethodGet, "/auth/login")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://accounts.example.com/o/oauth2/auth?state=s1", rec.Header().Get("Location"))

	rec = do(h, http.MethodGet, "/auth/callback?state=s1&code=c1")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/settings", loc.Path)
	assert.Equal(t, "Signed in as a@example.com", loc.Query().Get("status"))

	rec = do(h, http.MethodGet, "/settings")
	assert.Contains(t, rec.Body.String(), "Signed in as <strong>a@example.com</strong>")

	rec = do(h, http.MethodPost, "/auth/signout")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, sess.signedOut)
	assert.Equal(t, 2, screen.redraws)

	rec = do(h, http.MethodGet, "/settings")
	assert.Contains(t, rec.Body.String(), "Sign in with Google")
}

func TestCallbackErrors(t *testing.T) {
	h := newTestServer(t, nil, Deps{Session: &fakeSession{configured: true}})

	rec := do(h, http.MethodGet, "/auth/callback?error=access_denied")
	assert.Contains(t, rec.Header().Get("Location"), url.QueryEscape("Sign-in cancelled: access_denied"))

	rec = do(h, http.MethodGet, "/auth/callback?state=forged&code=c1")
	assert.Contains(t, rec.Header().Get("Location"), url.QueryEscape("Sign-in failed: bad state"))
}

func TestLoginUnconfigured(t *testing.T) {
	h := newTestServer(t, nil, Deps{Session: &fakeSession{}})
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/auth/login").Code)

	rec := do(h, http.MethodGet, "/settings")
	assert.Contains(t, rec.Body.String(), "not configured")
}

func TestICSModeSettings(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.Calendar.Provider = config.ProviderICS
	}, Deps{})

	rec := do(h, http.MethodGet, "/settings")
	assert.Contains(t, rec.Body.String(), "ICS subscriptions")
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/auth/signout").Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("standby_up 1\n"))
	})
	h := newTestServer(t, nil, Deps{Metrics: metrics})
	rec := do(h, http.MethodGet, "/metrics")
	assert.Equal(t, "standby_up 1\n", rec.Body.String())

	h = newTestServer(t, nil, Deps{})
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/metrics").Code)
}

func TestBasicAuth(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "s3cret"}
	}, Deps{})

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health").Code)
	rec := do(h, http.MethodGet, "/")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Basic"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
