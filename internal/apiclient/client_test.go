package apiclient_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/stockdeck/internal/apiclient"
	"github.com/waabox/stockdeck/internal/domain"
	"github.com/waabox/stockdeck/internal/session"
)

func newClient(t *testing.T, baseURL string, st session.State, opts ...apiclient.Option) (*apiclient.Client, *session.Session) {
	t.Helper()
	sess, err := session.New(session.NewMemoryStore(st), nil)
	require.NoError(t, err)
	c, err := apiclient.New(baseURL, sess, opts...)
	require.NoError(t, err)
	return c, sess
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func refreshBody(t *testing.T, r *http.Request) string {
	t.Helper()
	var in struct {
		Refresh string `json:"refresh"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
	return in.Refresh
}

func TestNew_RequiresAbsoluteBaseURL(t *testing.T) {
	sess, err := session.New(session.NewMemoryStore(session.State{}), nil)
	require.NoError(t, err)

	_, err = apiclient.New("api/", sess)
	assert.Error(t, err)

	c, err := apiclient.New("http://127.0.0.1:8000/api", sess)
	require.NoError(t, err)
	assert.Equal(t, "/api/", c.BaseURL().Path)
}

func TestRequest_RejectsAbsolutePath(t *testing.T) {
	c, _ := newClient(t, "http://127.0.0.1:8000/api/", session.State{AccessToken: "abc"})
	_, err := c.Get(context.Background(), "http://evil.example.com/steal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relative")
}

func TestRequest_InjectsBearerAndCSRFHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "abc", RefreshToken: "r"})
	u, _ := url.Parse(srv.URL)
	c.Jar().SetCookies(u, []*http.Cookie{{Name: "csrftoken", Value: "xyz", Path: "/"}})

	_, err := c.Get(context.Background(), "inventory/items/")
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", got.Get("Authorization"))
	assert.Equal(t, "xyz", got.Get("X-CSRFToken"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.NotEmpty(t, got.Get("X-Request-Id"))
}

func TestRequest_OmitsHeadersWhenNothingStored(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL+"/api/", session.State{})
	_, err := c.Get(context.Background(), "inventory/items/")
	require.NoError(t, err)
	assert.Empty(t, got.Get("Authorization"))
	assert.Empty(t, got.Get("X-CSRFToken"))
}

func TestRequest_CSRFCookieSetByServerIsSentBack(t *testing.T) {
	var csrf []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		csrf = append(csrf, r.Header.Get("X-CSRFToken"))
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "from-server", Path: "/"})
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "abc"})
	_, err := c.Get(context.Background(), "auth/me/")
	require.NoError(t, err)
	_, err = c.Post(context.Background(), "inventory/items/", map[string]string{"name": "bolt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "from-server"}, csrf)
}

func TestRequest_FormSwitchesToMultipart(t *testing.T) {
	var contentType, field, filename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		field = r.FormValue("note")
		_, fh, err := r.FormFile("profile_image")
		require.NoError(t, err)
		filename = fh.Filename
		writeJSON(w, http.StatusOK, map[string]string{"profile_image": "/media/" + fh.Filename})
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "abc"})
	form := apiclient.NewForm().Field("note", "hello")
	require.NoError(t, form.File("profile_image", "me.png", strings.NewReader("png-bytes")))

	resp, err := c.Post(context.Background(), "auth/profile/upload/", form)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(contentType, "multipart/form-data; boundary="), contentType)
	assert.Equal(t, "hello", field)
	assert.Equal(t, "me.png", filename)

	var out map[string]string
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, "/media/me.png", out["profile_image"])
}

func TestRequest_NonUnauthorizedErrorPassesThrough(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			refreshes.Add(1)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "abc", RefreshToken: "r"})
	_, err := c.Get(context.Background(), "inventory/items/99/")

	var reqErr *domain.RequestError
	require.True(t, errors.As(err, &reqErr), "expected RequestError, got %v", err)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
	assert.Equal(t, "Not found.", reqErr.Detail)
	assert.Zero(t, refreshes.Load())
}

func TestRequest_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL + "/api/"
	srv.Close()

	c, _ := newClient(t, base, session.State{AccessToken: "abc"})
	_, err := c.Get(context.Background(), "inventory/items/")

	var netErr *domain.NetworkError
	assert.True(t, errors.As(err, &netErr), "expected NetworkError, got %v", err)
}

func TestRequest_RefreshesExpiredAccessTokenAndRetries(t *testing.T) {
	var refreshed []string
	var itemAuth []string
	var requestIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token/refresh/":
			assert.Empty(t, r.Header.Get("Authorization"), "refresh must not carry the stale bearer")
			refreshed = append(refreshed, refreshBody(t, r))
			writeJSON(w, http.StatusOK, map[string]string{"access": "freshA"})
		case "/api/inventory/items/":
			itemAuth = append(itemAuth, bearer(r))
			requestIDs = append(requestIDs, r.Header.Get("X-Request-Id"))
			if bearer(r) != "freshA" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
				return
			}
			writeJSON(w, http.StatusOK, []map[string]any{{"id": 1, "name": "bolt"}})
		}
	}))
	defer srv.Close()

	c, sess := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "goodR"})
	ended := 0
	sess.OnEnd(func(session.EndReason, error) { ended++ })

	resp, err := c.Get(context.Background(), "/inventory/items/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var items []domain.Record
	require.NoError(t, resp.Decode(&items))
	assert.Len(t, items, 1)

	assert.Equal(t, []string{"goodR"}, refreshed)
	assert.Equal(t, []string{"expiredA", "freshA"}, itemAuth)
	assert.Equal(t, requestIDs[0], requestIDs[1], "retry keeps the request id")
	assert.Equal(t, session.Credentials{AccessToken: "freshA", RefreshToken: "goodR"}, sess.Credentials())
	assert.Zero(t, ended)
	assert.Equal(t, apiclient.RefreshIdle, c.RefreshState())
}

func TestRequest_RejectedRefreshExpiresSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token/refresh/":
			assert.Equal(t, "badR", refreshBody(t, r))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired"})
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
		}
	}))
	defer srv.Close()

	c, sess := newClient(t, srv.URL+"/api/", session.State{
		AccessToken:     "expiredA",
		RefreshToken:    "badR",
		RememberedEmail: "ops@example.com",
	})
	var reasons []session.EndReason
	sess.OnEnd(func(reason session.EndReason, _ error) { reasons = append(reasons, reason) })

	_, err := c.Get(context.Background(), "inventory/items/")

	var expired *domain.AuthExpiredError
	require.True(t, errors.As(err, &expired), "expected AuthExpiredError, got %v", err)
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.ErrorIs(t, err, domain.ErrRefreshRejected)
	assert.Equal(t, session.Credentials{}, sess.Credentials())
	assert.Empty(t, sess.RememberedEmail())
	assert.Equal(t, []session.EndReason{session.EndExpired}, reasons)
}

func TestRequest_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 8
	gate := make(chan struct{})
	var refreshes, rejected atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token/refresh/":
			refreshes.Add(1)
			<-gate
			writeJSON(w, http.StatusOK, map[string]string{"access": "freshA"})
		default:
			if bearer(r) != "freshA" {
				rejected.Add(1)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"path": r.URL.Path})
		}
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "goodR"})

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), "inventory/items/")
		}(i)
	}

	require.Eventually(t, func() bool { return rejected.Load() == n && refreshes.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, apiclient.RefreshRefreshing, c.RefreshState())
	close(gate)
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, apiclient.RefreshIdle, c.RefreshState())
}

func TestRequest_ConcurrentRefreshFailureEndsSessionOnce(t *testing.T) {
	const n = 6
	gate := make(chan struct{})
	var refreshes, rejected atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			refreshes.Add(1)
			<-gate
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired"})
			return
		}
		rejected.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	}))
	defer srv.Close()

	// delivered counts 401s handed back to the client, after the server wrote them.
	var delivered atomic.Int32
	countRejected := func(next apiclient.Doer) apiclient.Doer {
		return apiclient.DoerFunc(func(req *http.Request) (*http.Response, error) {
			resp, err := next.Do(req)
			if err == nil && resp.StatusCode == http.StatusUnauthorized && req.URL.Path != "/api/token/refresh/" {
				delivered.Add(1)
			}
			return resp, err
		})
	}
	c, sess := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "badR"},
		apiclient.WithMiddleware(countRejected))
	var ends atomic.Int32
	sess.OnEnd(func(reason session.EndReason, _ error) {
		assert.Equal(t, session.EndExpired, reason)
		ends.Add(1)
	})

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), "inventory/items/")
		}(i)
	}
	require.Eventually(t, func() bool {
		return rejected.Load() == n && delivered.Load() == n && c.RefreshState() == apiclient.RefreshRefreshing
	}, 5*time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		assert.ErrorIs(t, err, domain.ErrAuthExpired, "request %d", i)
	}
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(1), ends.Load())
	assert.False(t, sess.Authenticated())
	assert.False(t, sess.HasRefreshToken())
}

func TestRequest_RetriesAtMostOnce(t *testing.T) {
	var refreshes, attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			refreshes.Add(1)
			writeJSON(w, http.StatusOK, map[string]string{"access": "freshA"})
			return
		}
		attempts.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "You do not have access."})
	}))
	defer srv.Close()

	c, sess := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "goodR"})
	_, err := c.Get(context.Background(), "finance/overview/")

	var reqErr *domain.RequestError
	require.True(t, errors.As(err, &reqErr), "expected RequestError, got %v", err)
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(2), attempts.Load())
	assert.True(t, sess.Authenticated(), "a second 401 does not end the session")
}

func TestRequest_UnauthorizedWithoutRefreshTokenPropagates(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			refreshes.Add(1)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA"})
	_, err := c.Get(context.Background(), "inventory/items/")

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.NotErrorIs(t, err, domain.ErrAuthExpired)
	assert.Zero(t, refreshes.Load())
}

func TestRequest_WithoutRefreshPropagatesUnauthorized(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			refreshes.Add(1)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "goodR"})
	_, err := c.Get(context.Background(), "inventory/items/", apiclient.WithoutRefresh())

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Zero(t, refreshes.Load())
}

func TestRequest_StoresRotatedRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			writeJSON(w, http.StatusOK, map[string]string{"access": "freshA", "refresh": "r2"})
			return
		}
		if bearer(r) != "freshA" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	c, sess := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "r1"})
	_, err := c.Get(context.Background(), "inventory/stocks/")
	require.NoError(t, err)
	assert.Equal(t, session.Credentials{AccessToken: "freshA", RefreshToken: "r2"}, sess.Credentials())
}

func TestRequest_RefreshWithoutAccessTokenIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			writeJSON(w, http.StatusOK, map[string]string{})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	}))
	defer srv.Close()

	c, sess := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "goodR"})
	_, err := c.Get(context.Background(), "inventory/items/")
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.ErrorIs(t, err, domain.ErrRefreshRejected)
	assert.False(t, sess.HasRefreshToken())
}

func TestRequest_WaiterStopsOnContextCancel(t *testing.T) {
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			<-gate
			writeJSON(w, http.StatusOK, map[string]string{"access": "freshA"})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	}))
	defer srv.Close()
	defer close(gate)

	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "goodR"})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, "inventory/items/")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRefresh_ExplicitCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/token/refresh/", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{"access": "freshA"})
	}))
	defer srv.Close()

	c, sess := newClient(t, srv.URL+"/api/", session.State{AccessToken: "oldA", RefreshToken: "goodR"})
	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, "freshA", sess.AccessToken())

	empty, _ := newClient(t, srv.URL+"/api/", session.State{})
	err := empty.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoRefreshToken)
}

func TestLogout_WithoutTokensSkipsBackend(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c, sess := newClient(t, srv.URL+"/api/", session.State{})
	var reasons []session.EndReason
	sess.OnEnd(func(reason session.EndReason, _ error) { reasons = append(reasons, reason) })

	c.Logout(context.Background())
	c.Logout(context.Background())

	assert.Zero(t, calls.Load())
	assert.Equal(t, []session.EndReason{session.EndLoggedOut, session.EndLoggedOut}, reasons)
}

func TestLogout_ToleratesBackendFailure(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/logout/", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "boom"})
	}))
	defer srv.Close()

	c, sess := newClient(t, srv.URL+"/api/", session.State{
		AccessToken:     "a",
		RefreshToken:    "r",
		UserEmail:       "ops@example.com",
		RememberedEmail: "ops@example.com",
	})
	c.Logout(context.Background())

	assert.JSONEq(t, `{"refresh":"r"}`, body)
	assert.False(t, sess.Authenticated())
	assert.Equal(t, "ops@example.com", sess.RememberedEmail())
}

func TestLogout_DoesNotRefreshOnUnauthorized(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			refreshes.Add(1)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	}))
	defer srv.Close()

	c, sess := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "r"})
	c.Logout(context.Background())
	assert.Zero(t, refreshes.Load())
	assert.False(t, sess.Authenticated())
}

func TestMiddleware_SeesEveryAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			writeJSON(w, http.StatusOK, map[string]string{"access": "freshA"})
			return
		}
		if bearer(r) != "freshA" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	var mu sync.Mutex
	var seen []string
	record := func(next apiclient.Doer) apiclient.Doer {
		return apiclient.DoerFunc(func(req *http.Request) (*http.Response, error) {
			mu.Lock()
			seen = append(seen, req.URL.Path)
			mu.Unlock()
			return next.Do(req)
		})
	}

	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "goodR"},
		apiclient.WithMiddleware(record))
	_, err := c.Get(context.Background(), "inventory/items/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/inventory/items/", "/api/token/refresh/", "/api/inventory/items/"}, seen)
}

func TestMetrics_CountRequestsAndRefreshes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			writeJSON(w, http.StatusOK, map[string]string{"access": "freshA"})
			return
		}
		if bearer(r) != "freshA" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m, err := apiclient.NewMetrics(reg)
	require.NoError(t, err)

	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "goodR"},
		apiclient.WithMetrics(m))
	_, err = c.Get(context.Background(), "inventory/items/")
	require.NoError(t, err)

	counters := gatherCounters(t, reg)
	assert.Equal(t, 1.0, counters["stockdeck_http_requests_total,code=401,method=GET"])
	assert.Equal(t, 1.0, counters["stockdeck_http_requests_total,code=200,method=GET"])
	assert.Equal(t, 1.0, counters["stockdeck_http_requests_total,code=200,method=POST"])
	assert.Equal(t, 1.0, counters["stockdeck_token_refresh_total,result=succeeded"])
}

// gatherCounters flattens every counter in reg to "name,label=value,..." keys.
func gatherCounters(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	counters := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if metric.GetCounter() == nil {
				continue
			}
			key := mf.GetName()
			for _, lp := range metric.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			counters[key] = metric.GetCounter().GetValue()
		}
	}
	return counters
}

func TestRequest_LateUnauthorizedReusesRefreshedToken(t *testing.T) {
	slowArrived := make(chan struct{})
	releaseSlow := make(chan struct{})
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token/refresh/":
			refreshes.Add(1)
			writeJSON(w, http.StatusOK, map[string]string{"access": "freshA"})
		case "/api/slow/":
			if bearer(r) == "expiredA" {
				close(slowArrived)
				<-releaseSlow
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"path": "slow"})
		default:
			if bearer(r) != "freshA" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"path": "fast"})
		}
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m, err := apiclient.NewMetrics(reg)
	require.NoError(t, err)
	c, sess := newClient(t, srv.URL+"/api/", session.State{AccessToken: "expiredA", RefreshToken: "goodR"},
		apiclient.WithMetrics(m))

	slowErr := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "slow/")
		slowErr <- err
	}()
	<-slowArrived

	// The second request is rejected, refreshes and succeeds while the first is held.
	_, err = c.Get(context.Background(), "fast/")
	require.NoError(t, err)
	require.Equal(t, "freshA", sess.AccessToken())

	close(releaseSlow)
	require.NoError(t, <-slowErr)

	assert.Equal(t, int32(1), refreshes.Load())
	counters := gatherCounters(t, reg)
	assert.Equal(t, 1.0, counters["stockdeck_token_refresh_total,result=succeeded"])
	assert.Equal(t, 1.0, counters["stockdeck_token_refresh_total,result=reused"])
	assert.Zero(t, counters["stockdeck_token_refresh_total,result=failed"])
}

func TestRequest_RejectsPathOutsideBase(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "abc"})
	_, err := c.Get(context.Background(), "inventory/items/../../../../outside/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leaves the base URL")

	_, err = c.Get(context.Background(), "inventory/items/../stocks/")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLogging_RedactsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, _ := newClient(t, srv.URL+"/api/", session.State{AccessToken: "secret-access"}, apiclient.WithLogger(logger))

	_, err := c.Get(context.Background(), "inventory/items/")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "auth=[REDACTED_TOKEN]")
	assert.NotContains(t, buf.String(), "secret-access")
}
