package apiclient

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/waabox/stockdeck/internal/redact"
)

// Doer sends a prepared request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Middleware wraps the transport around every attempt, the retry after a
// refresh and the refresh call itself included.
type Middleware func(next Doer) Doer

// Chain applies mws to d in the order they are listed: the first one is outermost.
func Chain(d Doer, mws ...Middleware) Doer {
	for i := len(mws) - 1; i >= 0; i-- {
		d = mws[i](d)
	}
	return d
}

// stage decorates an outgoing request before it enters the middleware chain.
// Stages run on every attempt so a retry picks up the refreshed token.
type stage func(c *Client, req *http.Request, p *pendingRequest)

var defaultStages = []stage{
	contentTypeStage,
	requestIDStage,
	bearerStage,
	csrfStage,
}

func contentTypeStage(c *Client, req *http.Request, p *pendingRequest) {
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", p.contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", jsonContentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

// requestIDStage tags every attempt of one logical request with the same X-Request-Id.
func requestIDStage(_ *Client, req *http.Request, p *pendingRequest) {
	if req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, p.requestID)
	}
}

// bearerStage records the token it attached so a later 401 can tell whether the
// session moved on in the meantime.
func bearerStage(c *Client, req *http.Request, p *pendingRequest) {
	p.token = ""
	if p.noAuth {
		return
	}
	if tok := c.session.AccessToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
		p.token = tok
	}
}

// csrfStage copies the CSRF cookie into its header. The cookie is only ever read.
func csrfStage(c *Client, req *http.Request, _ *pendingRequest) {
	if c.http.Jar == nil || c.csrfCookie == "" {
		return
	}
	for _, ck := range c.http.Jar.Cookies(req.URL) {
		if ck.Name == c.csrfCookie && ck.Value != "" {
			req.Header.Set(c.csrfHeader, ck.Value)
			return
		}
	}
}

// Logging writes one record per attempt. Failed attempts log at warn, the rest at debug.
func Logging(l *slog.Logger) Middleware {
	if l == nil {
		l = slog.Default()
	}
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.Do(req)
			attrs := []slog.Attr{
				slog.String("request_id", req.Header.Get(requestIDHeader)),
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("auth", redact.Token(req.Header.Get("Authorization"))),
				slog.Duration("dur", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs, slog.String("err", err.Error()))
				l.LogAttrs(req.Context(), slog.LevelWarn, "http", attrs...)
				return resp, err
			}
			attrs = append(attrs, slog.Int("status", resp.StatusCode))
			l.LogAttrs(req.Context(), slog.LevelDebug, "http", attrs...)
			return resp, nil
		})
	}
}
