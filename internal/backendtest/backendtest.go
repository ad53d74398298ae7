// Package backendtest runs an in-process stand-in for the inventory backend.
//
// It serves the authentication endpoints and a generic CRUD surface under /api/,
// issues short JWT access tokens, and lets tests expire or revoke credentials
// to drive the refresh protocol.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/waabox/stockdeck/internal/domain"
)

// CSRFCookie is the cookie the server sets on every response.
const CSRFCookie = "csrftoken"

// User is an account the server accepts at login.
type User struct {
	ID       int64
	Email    string
	Password string
	FullName string
	Role     string
}

// Options tunes the server behaviour.
type Options struct {
	// AccessTTL is the exp claim lifetime of issued access tokens. Zero means five minutes.
	AccessTTL time.Duration
	// RotateRefresh makes the refresh endpoint issue a new refresh token each time.
	RotateRefresh bool
	// RequireCSRF rejects mutating resource calls without a matching X-CSRFToken header.
	RequireCSRF bool
	// Paginate wraps list answers in {"count": n, "results": [...]}.
	Paginate bool
	// RefreshGate, when set, holds every refresh call until it is closed.
	RefreshGate chan struct{}
}

// Server is a running fake backend.
type Server struct {
	*httptest.Server

	opts Options

	mu      sync.Mutex
	users   map[string]User
	access  map[string]string
	refresh map[string]string
	avatars map[string]string
	records map[string][]domain.Record
	nextID  int64

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	csrfValue    string
}

// New starts a server and stops it when the test ends.
func New(t testing.TB, opts Options, users ...User) *Server {
	t.Helper()
	if opts.AccessTTL == 0 {
		opts.AccessTTL = 5 * time.Minute
	}
	s := &Server{
		opts:      opts,
		users:     map[string]User{},
		access:    map[string]string{},
		refresh:   map[string]string{},
		avatars:   map[string]string{},
		records:   map[string][]domain.Record{},
		nextID:    1,
		csrfValue: uuid.NewString(),
	}
	for _, u := range users {
		s.users[u.Email] = u
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root clients should be configured with.
func (s *Server) BaseURL() string {
	return s.URL + "/api/"
}

// CSRFToken is the value of the csrftoken cookie.
func (s *Server) CSRFToken() string {
	return s.csrfValue
}

// RefreshCalls counts hits on the refresh endpoint.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// LogoutCalls counts hits on the logout endpoint.
func (s *Server) LogoutCalls() int {
	return int(s.logoutCalls.Load())
}

// IssueTokens mints a credential pair for email without going through login.
func (s *Server) IssueTokens(email string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	access = s.mintAccessLocked(email)
	refresh = "refresh-" + uuid.NewString()
	s.refresh[refresh] = email
	return access, refresh
}

// ExpireAccessTokens makes every issued access token answer 401.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	s.access = map[string]string{}
	s.mu.Unlock()
}

// RevokeRefreshTokens makes every issued refresh token unusable.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	s.refresh = map[string]string{}
	s.mu.Unlock()
}

// RefreshTokenValid reports whether token is still accepted by the refresh endpoint.
func (s *Server) RefreshTokenValid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refresh[token]
	return ok
}

// Seed adds records to the collection served at path, e.g. "inventory/items/".
// Records without an id get one assigned.
func (s *Server) Seed(path string, records ...domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.Trim(path, "/")
	for _, r := range records {
		rec := domain.Record{}
		for k, v := range r {
			rec[k] = v
		}
		if _, ok := rec["id"]; !ok {
			rec["id"] = s.nextID
			s.nextID++
		}
		s.records[key] = append(s.records[key], rec)
	}
}

// Records returns a copy of the collection served at path.
func (s *Server) Records(path string) []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Record(nil), s.records[strings.Trim(path, "/")]...)
}

// Avatar returns the stored profile image name for email.
func (s *Server) Avatar(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avatars[email]
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.csrfCookie)
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login/", s.login)
		r.Post("/token/refresh/", s.refreshToken)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticated)
			r.Post("/auth/logout/", s.logout)
			r.Get("/auth/me/", s.me)
			r.Get("/auth/profile/", s.me)
			r.Patch("/auth/profile/", s.updateProfile)
			r.Post("/auth/profile/upload/", s.uploadAvatar)

			r.Group(func(r chi.Router) {
				r.Use(s.checkCSRF)
				r.Get("/{group}/{name}/", s.list)
				r.Post("/{group}/{name}/", s.create)
				r.Get("/{group}/{name}/{id}/", s.get)
				r.Patch("/{group}/{name}/{id}/", s.update)
				r.Put("/{group}/{name}/{id}/", s.update)
				r.Delete("/{group}/{name}/{id}/", s.delete)
			})
		})
	})
	return r
}

type ctxKey struct{}

func withEmail(r *http.Request, email string) context.Context {
	return context.WithValue(r.Context(), ctxKey{}, email)
}

func emailFrom(r *http.Request) string {
	email, _ := r.Context().Value(ctxKey{}).(string)
	return email
}

func (s *Server) csrfCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(CSRFCookie); err != nil {
			http.SetCookie(w, &http.Cookie{Name: CSRFCookie, Value: s.csrfValue, Path: "/"})
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.RequireCSRF && r.Method != http.MethodGet && r.Header.Get("X-CSRFToken") != s.csrfValue {
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "CSRF Failed: CSRF token missing."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		s.mu.Lock()
		email, ok := s.access[token]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(withEmail(r, email)))
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Malformed request."})
		return
	}
	s.mu.Lock()
	u, ok := s.users[in.Email]
	s.mu.Unlock()
	if !ok || u.Password != in.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}
	access, refresh := s.IssueTokens(u.Email)
	writeJSON(w, http.StatusOK, map[string]any{
		"access":  access,
		"refresh": refresh,
		"user":    profileOf(u),
	})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if s.opts.RefreshGate != nil {
		<-s.opts.RefreshGate
	}
	var in struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.refresh[in.Refresh]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	out := map[string]string{"access": s.mintAccessLocked(email)}
	if s.opts.RotateRefresh {
		delete(s.refresh, in.Refresh)
		rotated := "refresh-" + uuid.NewString()
		s.refresh[rotated] = email
		out["refresh"] = rotated
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)
	var in struct {
		Refresh string `json:"refresh"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	if in.Refresh != "" {
		s.mu.Lock()
		delete(s.refresh, in.Refresh)
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Successfully logged out."})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u := s.users[emailFrom(r)]
	avatar := s.avatars[u.Email]
	s.mu.Unlock()
	p := profileOf(u)
	if avatar != "" {
		p["profile_image"] = avatar
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FullName *string `json:"full_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Malformed request."})
		return
	}
	s.mu.Lock()
	u := s.users[emailFrom(r)]
	if in.FullName != nil {
		u.FullName = *in.FullName
		s.users[u.Email] = u
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, profileOf(u))
}

func (s *Server) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("profile_image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"profile_image": {"No file was submitted."}})
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Upload failed."})
		return
	}
	name := "/media/profile/" + header.Filename
	s.mu.Lock()
	s.avatars[emailFrom(r)] = name
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"profile_image": name})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	recs := s.Records(collection(r))
	if !s.opts.Paginate {
		writeJSON(w, http.StatusOK, recs)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(recs), "results": recs})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, rec, ok := s.findLocked(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var rec domain.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || len(rec) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"Invalid data."}})
		return
	}
	s.mu.Lock()
	rec["id"] = s.nextID
	s.nextID++
	key := collection(r)
	s.records[key] = append(s.records[key], rec)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	var patch domain.Record
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"Invalid data."}})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, rec, ok := s.findLocked(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	for k, v := range patch {
		if k != "id" {
			rec[k] = v
		}
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, _, ok := s.findLocked(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	key := collection(r)
	s.records[key] = append(s.records[key][:i], s.records[key][i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) findLocked(r *http.Request) (int, domain.Record, bool) {
	id := chi.URLParam(r, "id")
	for i, rec := range s.records[collection(r)] {
		if rec.ID() == id {
			return i, rec, true
		}
	}
	return 0, nil, false
}

func (s *Server) mintAccessLocked(email string) string {
	claims := jwt.MapClaims{
		"sub": email,
		"jti": uuid.NewString(),
		"exp": time.Now().Add(s.opts.AccessTTL).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backendtest"))
	if err != nil {
		panic(fmt.Sprintf("signing access token: %v", err))
	}
	s.access[tok] = email
	return tok
}

func collection(r *http.Request) string {
	return chi.URLParam(r, "group") + "/" + chi.URLParam(r, "name")
}

func profileOf(u User) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"email":     u.Email,
		"full_name": u.FullName,
		"role":      u.Role,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
