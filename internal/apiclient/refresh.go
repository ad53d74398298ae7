package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/waabox/stockdeck/internal/domain"
)

// RefreshState reports whether a token refresh is in flight.
type RefreshState int32

const (
	RefreshIdle RefreshState = iota
	RefreshRefreshing
)

func (s RefreshState) String() string {
	if s == RefreshRefreshing {
		return "refreshing"
	}
	return "idle"
}

const refreshKey = "refresh"

// refresher collapses concurrent refreshes onto one call to the refresh endpoint.
type refresher struct {
	c     *Client
	group singleflight.Group
	state atomic.Int32
}

// refresh returns a usable access token for a request that was rejected while
// carrying stale. Callers arriving while a refresh is in flight wait for its result.
// The refresh itself is not cancelled when ctx is; only this caller stops waiting.
func (r *refresher) refresh(ctx context.Context, stale string) (string, error) {
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(refreshKey, func() (any, error) {
		return r.run(detached, stale)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *refresher) run(ctx context.Context, stale string) (string, error) {
	r.state.Store(int32(RefreshRefreshing))
	defer r.state.Store(int32(RefreshIdle))

	sess := r.c.session
	creds := sess.Credentials()
	if creds.RefreshToken == "" {
		// The session ended while this caller was in flight.
		return "", &domain.AuthExpiredError{Reason: domain.ErrNoRefreshToken}
	}
	if creds.AccessToken != "" && creds.AccessToken != stale {
		// A refresh that finished after the caller's attempt already replaced the token.
		r.c.metrics.observeRefresh(refreshReused)
		return creds.AccessToken, nil
	}

	access, rotated, err := r.exchange(ctx, creds.RefreshToken)
	if err != nil {
		r.c.metrics.observeRefresh(refreshFailed)
		r.c.log.Warn("token refresh failed", slog.String("err", err.Error()))
		sess.Expire(err)
		return "", &domain.AuthExpiredError{Reason: err}
	}
	// A failed write is logged by the session; the new token is still used in memory.
	_ = sess.UpdateAccess(access, rotated)
	r.c.metrics.observeRefresh(refreshSucceeded)
	r.c.log.Debug("access token refreshed", slog.Bool("rotated", rotated != ""))
	return access, nil
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// exchange posts the refresh token and returns the new access token and, when the
// backend rotates it, the new refresh token.
func (r *refresher) exchange(ctx context.Context, refreshToken string) (string, string, error) {
	p, err := r.c.prepare(http.MethodPost, r.c.endpoints.Refresh, map[string]string{"refresh": refreshToken}, requestOptions{noAuth: true})
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", domain.ErrRefreshRejected, err)
	}
	resp, err := r.c.send(ctx, p)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", domain.ErrRefreshRejected, err)
	}
	var out refreshResponse
	if err := resp.Decode(&out); err != nil {
		return "", "", fmt.Errorf("%w: %w", domain.ErrRefreshRejected, err)
	}
	if out.Access == "" {
		return "", "", fmt.Errorf("%w: response carried no access token", domain.ErrRefreshRejected)
	}
	return out.Access, out.Refresh, nil
}

// Refresh exchanges the stored refresh token for a new access token now, joining a
// refresh already in flight. When it fails the session is expired and the error is
// a *domain.AuthExpiredError.
func (c *Client) Refresh(ctx context.Context) error {
	if !c.session.HasRefreshToken() {
		return &domain.AuthExpiredError{Reason: domain.ErrNoRefreshToken}
	}
	_, err := c.refresher.refresh(ctx, c.session.AccessToken())
	return err
}

// RefreshState reports whether a refresh is currently in flight.
func (c *Client) RefreshState() RefreshState {
	return RefreshState(c.refresher.state.Load())
}
