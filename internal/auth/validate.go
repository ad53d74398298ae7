package auth

import (
	"errors"
	"regexp"
	"strings"

	"github.com/waabox/stockdeck/internal/domain"
)

// MinPasswordLength is the shortest password the login form accepts.
const MinPasswordLength = 6

var (
	ErrInvalidEmail     = errors.New("enter a valid email address")
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	// ErrMissingTokens is returned when the login endpoint answers without a token pair.
	ErrMissingTokens = errors.New("login failed: no token returned")
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// ValidateCredentials checks the login form before anything is sent.
// Both problems are reported when both fields are wrong.
func ValidateCredentials(email, password string) error {
	var errs []error
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		errs = append(errs, ErrInvalidEmail)
	}
	if len(password) < MinPasswordLength {
		errs = append(errs, ErrPasswordTooShort)
	}
	return errors.Join(errs...)
}

// LoginMessage turns a Login error into the sentence shown to the user.
func LoginMessage(err error) string {
	if err == nil {
		return ""
	}
	var reqErr *domain.RequestError
	var netErr *domain.NetworkError
	switch {
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrPasswordTooShort), errors.Is(err, ErrMissingTokens):
		return err.Error()
	case errors.As(err, &reqErr):
		if reqErr.Detail != "" {
			return reqErr.Detail
		}
		return "Invalid email or password. Please try again."
	case errors.As(err, &netErr):
		return "No response from server. Please check your connection."
	default:
		return "Something went wrong. Please try again."
	}
}
