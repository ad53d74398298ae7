// Package auth implements login, logout and profile calls on top of the API client.
package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/waabox/stockdeck/internal/apiclient"
	"github.com/waabox/stockdeck/internal/domain"
	"github.com/waabox/stockdeck/internal/redact"
	"github.com/waabox/stockdeck/internal/session"
)

// avatarField is the multipart field the profile upload endpoint reads.
const avatarField = "profile_image"

// Service performs the account operations of the dashboard.
type Service struct {
	client *apiclient.Client
	log    *slog.Logger
}

// NewService creates a Service. A nil logger uses slog.Default().
func NewService(client *apiclient.Client, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{client: client, log: log}
}

type loginResponse struct {
	Access  string          `json:"access"`
	Refresh string          `json:"refresh"`
	User    *domain.Profile `json:"user,omitempty"`
}

// Login exchanges email and password for a token pair and starts the session.
// remember keeps email for the next login prompt; otherwise any remembered email is dropped.
// The returned profile comes from auth/me/; if that call fails the login still
// stands and a profile holding only the email is returned.
func (s *Service) Login(ctx context.Context, email, password string, remember bool) (domain.Profile, error) {
	email = strings.TrimSpace(email)
	if err := ValidateCredentials(email, password); err != nil {
		return domain.Profile{}, err
	}

	resp, err := s.client.Post(ctx, s.client.Endpoints().Login,
		map[string]string{"email": email, "password": password},
		apiclient.WithoutAuth(), apiclient.WithoutRefresh())
	if err != nil {
		return domain.Profile{}, err
	}
	var out loginResponse
	if err := resp.Decode(&out); err != nil {
		return domain.Profile{}, fmt.Errorf("%w: %w", ErrMissingTokens, err)
	}
	if out.Access == "" || out.Refresh == "" {
		return domain.Profile{}, ErrMissingTokens
	}

	sess := s.client.Session()
	if err := sess.Begin(session.Credentials{AccessToken: out.Access, RefreshToken: out.Refresh}, email); err != nil {
		s.log.Warn("session not persisted", slog.String("err", err.Error()))
	}
	if remember {
		err = sess.RememberEmail(email)
	} else {
		err = sess.ForgetEmail()
	}
	if err != nil {
		s.log.Warn("remembered email not persisted", slog.String("err", err.Error()))
	}
	s.log.Info("logged in", slog.String("email", redact.Email(email)))

	profile, err := s.Me(ctx)
	if err != nil {
		s.log.Warn("fetching user after login failed", slog.String("err", err.Error()))
		if out.User != nil {
			return *out.User, nil
		}
		return domain.Profile{Email: email}, nil
	}
	return profile, nil
}

// Me returns the logged-in user from auth/me/.
func (s *Service) Me(ctx context.Context) (domain.Profile, error) {
	return s.fetchProfile(ctx, s.client.Endpoints().Me)
}

// Profile returns the editable profile from auth/profile/.
func (s *Service) Profile(ctx context.Context) (domain.Profile, error) {
	return s.fetchProfile(ctx, s.client.Endpoints().Profile)
}

// UpdateProfile patches the profile with the given fields and returns the result.
func (s *Service) UpdateProfile(ctx context.Context, fields map[string]any) (domain.Profile, error) {
	resp, err := s.client.Patch(ctx, s.client.Endpoints().Profile, fields)
	if err != nil {
		return domain.Profile{}, err
	}
	var p domain.Profile
	if err := resp.Decode(&p); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// UploadAvatar sends r as the profile image and returns the stored image path.
func (s *Service) UploadAvatar(ctx context.Context, filename string, r io.Reader) (string, error) {
	form := apiclient.NewForm()
	if err := form.File(avatarField, filename, r); err != nil {
		return "", err
	}
	resp, err := s.client.Post(ctx, s.client.Endpoints().Avatar, form)
	if err != nil {
		return "", err
	}
	var out struct {
		ProfileImage string `json:"profile_image"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", err
	}
	return out.ProfileImage, nil
}

// Logout ends the session; see apiclient.Client.Logout.
func (s *Service) Logout(ctx context.Context) {
	email := s.client.Session().UserEmail()
	s.client.Logout(ctx)
	s.log.Info("logged out", slog.String("email", redact.Email(email)))
}

func (s *Service) fetchProfile(ctx context.Context, path string) (domain.Profile, error) {
	resp, err := s.client.Get(ctx, path)
	if err != nil {
		return domain.Profile{}, err
	}
	var p domain.Profile
	if err := resp.Decode(&p); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}
