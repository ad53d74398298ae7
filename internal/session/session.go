// Package session owns the credential pair shared by every API call.
//
// A Session is created once per process and handed to the API client; nothing
// else reads or writes tokens. Writes go through the Store immediately so a
// refreshed access token survives a restart.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/waabox/stockdeck/internal/redact"
)

// Credentials is the access/refresh token pair issued at login.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// EndReason tells listeners why the session ended.
type EndReason int

const (
	// EndExpired means the refresh token was rejected or unusable.
	EndExpired EndReason = iota + 1
	// EndLoggedOut means the user logged out.
	EndLoggedOut
)

func (r EndReason) String() string {
	switch r {
	case EndExpired:
		return "expired"
	case EndLoggedOut:
		return "logged out"
	default:
		return "unknown"
	}
}

// Listener is notified after the session has been wiped. cause is nil on logout.
type Listener func(reason EndReason, cause error)

// Session holds the credential pair and the remembered login email.
// It is safe for concurrent use.
type Session struct {
	mu    sync.RWMutex
	state State
	store Store
	log   *slog.Logger

	lmu       sync.Mutex
	listeners []Listener
}

// New loads the persisted state from store. A nil logger uses slog.Default().
func New(store Store, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	st, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return &Session{state: st, store: store, log: log}, nil
}

// AccessToken returns the current access token, or "".
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AccessToken
}

// RefreshToken returns the current refresh token, or "".
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RefreshToken
}

// Credentials returns a copy of the current token pair.
func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Credentials{AccessToken: s.state.AccessToken, RefreshToken: s.state.RefreshToken}
}

// HasRefreshToken reports whether a refresh can be attempted.
func (s *Session) HasRefreshToken() bool {
	return s.RefreshToken() != ""
}

// Authenticated reports whether an access token is stored.
func (s *Session) Authenticated() bool {
	return s.AccessToken() != ""
}

// UserEmail returns the email of the logged-in user.
func (s *Session) UserEmail() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.UserEmail
}

// RememberedEmail returns the email to prefill on the login form.
func (s *Session) RememberedEmail() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RememberedEmail
}

// Begin stores a freshly issued credential pair after login.
func (s *Session) Begin(creds Credentials, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AccessToken = creds.AccessToken
	s.state.RefreshToken = creds.RefreshToken
	s.state.UserEmail = email
	s.log.Debug("session started", slog.String("email", redact.Email(email)))
	return s.persistLocked()
}

// UpdateAccess replaces the access token after a successful refresh.
// rotatedRefresh replaces the refresh token when the backend rotates it; pass "" to keep it.
// The in-memory token stays usable even when persisting fails.
func (s *Session) UpdateAccess(access, rotatedRefresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AccessToken = access
	if rotatedRefresh != "" {
		s.state.RefreshToken = rotatedRefresh
	}
	return s.persistLocked()
}

// RememberEmail keeps email for the next login prompt.
func (s *Session) RememberEmail(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RememberedEmail = email
	return s.persistLocked()
}

// ForgetEmail drops the remembered email.
func (s *Session) ForgetEmail() error {
	return s.RememberEmail("")
}

// OnEnd registers fn to be called every time the session ends.
func (s *Session) OnEnd(fn Listener) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, fn)
	s.lmu.Unlock()
}

// Expire wipes all stored state, the remembered email included, and notifies
// listeners with EndExpired.
func (s *Session) Expire(cause error) {
	s.mu.Lock()
	s.state = State{}
	if err := s.store.Clear(); err != nil {
		s.log.Warn("clearing session store failed", slog.String("err", err.Error()))
	}
	s.mu.Unlock()
	s.log.Info("session expired", slog.Any("cause", cause))
	s.notify(EndExpired, cause)
}

// End wipes the credential pair on logout and notifies listeners with EndLoggedOut.
// The remembered email is kept. End never fails; storage errors are logged.
func (s *Session) End() {
	s.mu.Lock()
	remembered := s.state.RememberedEmail
	s.state = State{RememberedEmail: remembered}
	var err error
	if remembered == "" {
		err = s.store.Clear()
	} else {
		err = s.store.Save(s.state)
	}
	if err != nil {
		s.log.Warn("clearing session store failed", slog.String("err", err.Error()))
	}
	s.mu.Unlock()
	s.notify(EndLoggedOut, nil)
}

func (s *Session) notify(reason EndReason, cause error) {
	s.lmu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.lmu.Unlock()
	for _, fn := range listeners {
		fn(reason, cause)
	}
}

func (s *Session) persistLocked() error {
	if err := s.store.Save(s.state); err != nil {
		s.log.Warn("persisting session failed", slog.String("err", err.Error()))
		return fmt.Errorf("persisting session: %w", err)
	}
	return nil
}

// AccessExpiry returns the exp claim of the access token. The signature is not
// verified; the backend remains the authority on validity.
func (s *Session) AccessExpiry() (time.Time, bool) {
	return TokenExpiry(s.AccessToken())
}

// AccessTokenValid reports whether an access token is stored and its exp claim
// lies after now. Undecodable tokens and tokens without exp count as invalid.
func (s *Session) AccessTokenValid(now time.Time) bool {
	exp, ok := s.AccessExpiry()
	return ok && exp.After(now)
}

// TokenExpiry decodes the exp claim of a JWT without verifying it.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
