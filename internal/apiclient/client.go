// Package apiclient is the authenticated HTTP client for the stockdeck backend.
//
// Every call is decorated with the bearer token from the session and the CSRF
// header from the cookie jar. A 401 on a call that has not been retried yet
// triggers one token refresh shared by all concurrent callers, after which the
// call is replayed once with the new token. If the refresh fails the session is
// expired and every waiting caller gets a *domain.AuthExpiredError.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waabox/stockdeck/internal/domain"
	"github.com/waabox/stockdeck/internal/session"
)

const requestIDHeader = "X-Request-Id"

// Django's CSRF cookie and header names.
const (
	DefaultCSRFCookie = "csrftoken"
	DefaultCSRFHeader = "X-CSRFToken"
)

// Endpoints are the authentication paths, relative to the base URL.
type Endpoints struct {
	Login   string
	Refresh string
	Logout  string
	Me      string
	Profile string
	Avatar  string
}

// DefaultEndpoints returns the paths served by the inventory backend.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:   "auth/login/",
		Refresh: "token/refresh/",
		Logout:  "auth/logout/",
		Me:      "auth/me/",
		Profile: "auth/profile/",
		Avatar:  "auth/profile/upload/",
	}
}

// withDefaults fills empty paths from DefaultEndpoints.
func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.Login == "" {
		e.Login = d.Login
	}
	if e.Refresh == "" {
		e.Refresh = d.Refresh
	}
	if e.Logout == "" {
		e.Logout = d.Logout
	}
	if e.Me == "" {
		e.Me = d.Me
	}
	if e.Profile == "" {
		e.Profile = d.Profile
	}
	if e.Avatar == "" {
		e.Avatar = d.Avatar
	}
	return e
}

// Client issues requests against the backend on behalf of a Session.
type Client struct {
	base        *url.URL
	http        *http.Client
	session     *session.Session
	log         *slog.Logger
	endpoints   Endpoints
	csrfCookie  string
	csrfHeader  string
	userAgent   string
	middlewares []Middleware
	metrics     *Metrics

	stages    []stage
	doer      Doer
	refresher *refresher
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. A cookie jar is added to a copy
// of it when it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for request and refresh diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMiddleware appends transport middlewares after the built-in ones.
func WithMiddleware(mws ...Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

// WithEndpoints overrides the authentication paths. Empty fields keep their defaults.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) { c.endpoints = e.withDefaults() }
}

// WithCSRF sets the cookie the CSRF token is read from and the header it is sent in.
func WithCSRF(cookie, header string) Option {
	return func(c *Client) {
		if cookie != "" {
			c.csrfCookie = cookie
		}
		if header != "" {
			c.csrfHeader = header
		}
	}
}

// WithMetrics records request and refresh counters on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a Client. baseURL must be absolute; every request path is resolved against it.
func New(baseURL string, sess *session.Session, opts ...Option) (*Client, error) {
	if sess == nil {
		return nil, errors.New("apiclient: nil session")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	c := &Client{
		base:       base,
		http:       &http.Client{Timeout: 15 * time.Second},
		session:    sess,
		log:        slog.Default(),
		endpoints:  DefaultEndpoints(),
		csrfCookie: DefaultCSRFCookie,
		csrfHeader: DefaultCSRFHeader,
		stages:     defaultStages,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		hc := *c.http
		hc.Jar = jar
		c.http = &hc
	}

	var mws []Middleware
	if c.metrics != nil {
		mws = append(mws, c.metrics.middleware())
	}
	mws = append(mws, Logging(c.log))
	mws = append(mws, c.middlewares...)
	c.doer = Chain(c.http, mws...)
	c.refresher = &refresher{c: c}
	return c, nil
}

// Session returns the session the client authenticates with.
func (c *Client) Session() *session.Session {
	return c.session
}

// Endpoints returns the authentication paths in use.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// BaseURL returns the resolved base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Jar exposes the cookie jar the CSRF token is read from.
func (c *Client) Jar() http.CookieJar {
	return c.http.Jar
}

// Response is a successful (2xx/3xx) backend answer with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return errors.New("decoding response: empty body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// RequestOption tunes a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	query     url.Values
	header    http.Header
	noAuth    bool
	noRefresh bool
}

// WithQuery adds query parameters to the request URL.
func WithQuery(q url.Values) RequestOption {
	return func(o *requestOptions) {
		if o.query == nil {
			o.query = url.Values{}
		}
		for k, vs := range q {
			o.query[k] = append(o.query[k], vs...)
		}
	}
}

// WithHeader sets an extra request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Set(key, value)
	}
}

// WithoutAuth sends the request without the Authorization header. A 401 on such a
// request is never recovered.
func WithoutAuth() RequestOption {
	return func(o *requestOptions) { o.noAuth = true }
}

// WithoutRefresh propagates a 401 unchanged instead of refreshing the token.
func WithoutRefresh() RequestOption {
	return func(o *requestOptions) { o.noRefresh = true }
}

// pendingRequest is one logical call. Its body is kept so it can be replayed.
type pendingRequest struct {
	method      string
	path        string
	url         *url.URL
	header      http.Header
	body        []byte
	contentType string
	requestID   string
	noAuth      bool
	retried     bool
	// token is the access token attached on the latest attempt.
	token string
}

// Request sends method to path with body and returns the response.
// body may be nil, raw JSON ([]byte or json.RawMessage), a *Form, or any value
// encoding/json can marshal.
//
// Errors are *domain.RequestError for non-2xx answers, *domain.NetworkError when
// nothing came back, and *domain.AuthExpiredError when the token could not be refreshed.
func (c *Client) Request(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}
	p, err := c.prepare(method, path, body, ro)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, p, ro.noRefresh)
}

func (c *Client) prepare(method, path string, body any, ro requestOptions) (*pendingRequest, error) {
	u, err := c.resolve(path, ro.query)
	if err != nil {
		return nil, err
	}
	payload, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	return &pendingRequest{
		method:      method,
		path:        path,
		url:         u,
		header:      ro.header,
		body:        payload,
		contentType: contentType,
		requestID:   uuid.NewString(),
		noAuth:      ro.noAuth,
	}, nil
}

// Get is Request with GET and no body.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, nil, opts...)
}

// Post is Request with POST.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, body, opts...)
}

// Put is Request with PUT.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPut, path, body, opts...)
}

// Patch is Request with PATCH.
func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPatch, path, body, opts...)
}

// Delete is Request with DELETE. body is usually nil.
func (c *Client) Delete(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, body, opts...)
}

// do runs the retry-on-401 protocol around send.
func (c *Client) do(ctx context.Context, p *pendingRequest, noRefresh bool) (*Response, error) {
	resp, err := c.send(ctx, p)
	if err == nil || noRefresh || p.noAuth || !errors.Is(err, domain.ErrUnauthorized) {
		return resp, err
	}
	if p.retried || !c.session.HasRefreshToken() {
		return nil, err
	}
	p.retried = true
	if _, rerr := c.refresher.refresh(ctx, p.token); rerr != nil {
		return nil, rerr
	}
	return c.send(ctx, p)
}

// send performs a single attempt.
func (c *Client) send(ctx context.Context, p *pendingRequest) (*Response, error) {
	var body io.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}
	req, err := http.NewRequestWithContext(ctx, p.method, p.url.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range p.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for _, st := range c.stages {
		st(c, req, p)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Method: p.method, Path: p.path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.NetworkError{Method: p.method, Path: p.path, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return nil, &domain.RequestError{
			Method:     p.method,
			Path:       p.path,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Detail:     errorDetail(data),
			Body:       data,
		}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// resolve turns a base-relative path (optionally carrying a query string) into a URL.
// Absolute URLs are rejected so credentials never leave the configured backend.
func (c *Client) resolve(path string, query url.Values) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing path %q: %w", path, err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return nil, fmt.Errorf("path %q must be relative to the base URL", path)
	}
	u := c.base.ResolveReference(ref)
	if !strings.HasPrefix(u.Path, c.base.Path) {
		return nil, fmt.Errorf("path %q leaves the base URL", path)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}
