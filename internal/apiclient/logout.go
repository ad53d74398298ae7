package apiclient

import (
	"context"
	"log/slog"
)

// Logout asks the backend to invalidate the refresh token, then ends the session.
// The backend is only contacted when an access token is stored, and its answer
// is logged and otherwise ignored. Logout is idempotent and never fails.
func (c *Client) Logout(ctx context.Context) {
	creds := c.session.Credentials()
	if creds.AccessToken != "" {
		var body any
		if creds.RefreshToken != "" {
			body = map[string]string{"refresh": creds.RefreshToken}
		}
		if _, err := c.Post(ctx, c.endpoints.Logout, body, WithoutRefresh()); err != nil {
			c.log.Warn("logout request failed", slog.String("err", err.Error()))
		}
	}
	c.session.End()
}
