// Package session keeps track of the signed-in Google account.
//
// Sign-in uses the OAuth2 authorization-code flow with a loopback redirect
// handled by the web UI. The resulting token is stored with 0600 perms and
// refreshed transparently; refreshed tokens are written back to disk.
// Subscribers are told about every identity change ("" means signed out).
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"standby/internal/fileutil"
	appLog "standby/internal/log"
)

// CalendarScope is the read-only Google Calendar scope.
const CalendarScope = "https://www.googleapis.com/auth/calendar.readonly"

const stateTTL = 10 * time.Minute

var (
	// ErrNotSignedIn means no account is available; no fetch should be attempted.
	ErrNotSignedIn = errors.New("session: not signed in")
	// ErrBadState means the OAuth callback did not match a pending sign-in.
	ErrBadState = errors.New("session: unknown or expired sign-in state")
)

// IdentifyFunc resolves the account identity (email) for a fresh token.
type IdentifyFunc func(ctx context.Context, ts oauth2.TokenSource) (string, error)

// account is the on-disk shape of the token file.
type account struct {
	Email string        `json:"email"`
	Token *oauth2.Token `json:"token"`
}

// Manager owns the signed-in account.
type Manager struct {
	conf     *oauth2.Config
	path     string
	identify IdentifyFunc

	mu      sync.Mutex
	current *account
	pending map[string]time.Time
	subs    map[int]chan string
	nextSub int
}

// GoogleOAuthConfig builds the OAuth2 client for Google sign-in.
func GoogleOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{CalendarScope},
	}
}

// NewManager returns a Manager persisting to path. Call Load to pick up a
// previous session.
func NewManager(conf *oauth2.Config, path string, identify IdentifyFunc) *Manager {
	return &Manager{
		conf:     conf,
		path:     path,
		identify: identify,
		pending:  make(map[string]time.Time),
		subs:     make(map[int]chan string),
	}
}

// Load restores the account saved by a previous sign-in. A missing file is
// not an error.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	var acct account
	if err := json.Unmarshal(data, &acct); err != nil {
		return fmt.Errorf("session: decode %s: %w", m.path, err)
	}
	if acct.Email == "" || acct.Token == nil {
		return nil
	}

	m.mu.Lock()
	m.current = &acct
	m.mu.Unlock()
	appLog.Info("session restored", "account", acct.Email)
	return nil
}

// Current returns the signed-in email, if any.
func (m *Manager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.Email, true
}

// Configured reports whether an OAuth client id is set.
func (m *Manager) Configured() bool {
	return m.conf != nil && m.conf.ClientID != ""
}

// AuthCodeURL starts a sign-in and returns the consent page URL.
func (m *Manager) AuthCodeURL() (string, error) {
	state, err := randomState()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	now := time.Now()
	for s, created := range m.pending {
		if now.Sub(created) > stateTTL {
			delete(m.pending, s)
		}
	}
	m.pending[state] = now
	m.mu.Unlock()

	return m.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Complete finishes a sign-in: it checks state, exchanges code for a token,
// resolves the account email, persists it and notifies subscribers.
func (m *Manager) Complete(ctx context.Context, state, code string) (string, error) {
	m.mu.Lock()
	created, ok := m.pending[state]
	delete(m.pending, state)
	m.mu.Unlock()
	if !ok || time.Since(created) > stateTTL {
		return "", ErrBadState
	}

	tok, err := m.conf.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("session: exchange code: %w", err)
	}

	email, err := m.identify(ctx, m.conf.TokenSource(ctx, tok))
	if err != nil {
		return "", fmt.Errorf("session: identify account: %w", err)
	}

	acct := &account{Email: email, Token: tok}
	if err := m.save(acct); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.current = acct
	m.mu.Unlock()

	appLog.Info("signed in", "account", email)
	m.notify(email)
	return email, nil
}

// SignOut forgets the account and removes the stored token.
func (m *Manager) SignOut() error {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if err := fileutil.RemoveIfExists(m.path); err != nil {
		return fmt.Errorf("session: remove token: %w", err)
	}
	if prev != nil {
		appLog.Info("signed out", "account", prev.Email)
	}
	m.notify("")
	return nil
}

// TokenSource returns a token source for the signed-in account. Refreshed
// tokens are persisted as long as that account stays signed in.
func (m *Manager) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	m.mu.Lock()
	acct := m.current
	m.mu.Unlock()
	if acct == nil {
		return nil, ErrNotSignedIn
	}

	base := oauth2.ReuseTokenSource(acct.Token, m.conf.TokenSource(ctx, acct.Token))
	return &persistingSource{m: m, email: acct.Email, base: base, last: acct.Token.AccessToken}, nil
}

// Subscribe returns a channel carrying the identity after each change. A slow
// reader sees at least the last two changes, so a sign-out followed by a
// sign-in of the same account is never collapsed into no change. Call the
// returned func to unsubscribe.
func (m *Manager) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 2)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- email:
			continue
		default:
		}
		// Full: drop the oldest pending change.
		select {
		case <-ch:
		default:
		}
		ch <- email
	}
}

func (m *Manager) save(acct *account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(m.path, data, 0o600); err != nil {
		return fmt.Errorf("session: save token: %w", err)
	}
	return nil
}

// updateToken persists a refreshed token if email is still signed in.
func (m *Manager) updateToken(email string, tok *oauth2.Token) {
	m.mu.Lock()
	if m.current == nil || m.current.Email != email {
		m.mu.Unlock()
		return
	}
	acct := &account{Email: email, Token: tok}
	m.current = acct
	m.mu.Unlock()

	if err := m.save(acct); err != nil {
		appLog.Error("persist refreshed token failed", err, "account", email)
	}
}

type persistingSource struct {
	m     *Manager
	email string
	base  oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	changed := tok.AccessToken != p.last
	p.last = tok.AccessToken
	p.mu.Unlock()

	if changed {
		p.m.updateToken(p.email, tok)
	}
	return tok, nil
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
