package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sifan077/shorturl/internal/app/model"
	"github.com/sifan077/shorturl/internal/app/repository"
	"github.com/sifan077/shorturl/internal/app/service"
	inthttp "github.com/sifan077/shorturl/internal/http/handler"
	"github.com/sifan077/shorturl/internal/http/middleware"
	infraPrometheus "github.com/sifan077/shorturl/internal/infra/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSecret = []byte("server-test-secret")

type testEnv struct {
	server  *Server
	mem     *repository.Memory
	metrics *infraPrometheus.Metrics
}

func newTestEnv(t *testing.T, checks map[string]inthttp.ReadinessCheck) *testEnv {
	t.Helper()
	return newTestEnvWithNotifier(t, checks, nil)
}

func newTestEnvWithNotifier(t *testing.T, checks map[string]inthttp.ReadinessCheck, notifier service.ClickNotifier) *testEnv {
	t.Helper()

	mem := repository.NewMemory()
	links, analytics := NewServices(zap.NewNop(), mem.Store(), notifier, time.Second, time.UTC)
	metrics := infraPrometheus.NewMetrics(prometheus.NewRegistry())

	srv := New(Dependencies{
		Logger:         zap.NewNop(),
		Links:          links,
		Analytics:      analytics,
		Metrics:        metrics,
		Checks:         checks,
		JWTSecret:      testSecret,
		Location:       time.UTC,
		RequestTimeout: 5 * time.Second,
	})
	return &testEnv{server: srv, mem: mem, metrics: metrics}
}

func bearer(t *testing.T, ownerID, username string) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.OwnerClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)
	return "Bearer " + token
}

func (e *testEnv) do(t *testing.T, method, path, auth, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := e.server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) shorten(t *testing.T, auth, url string) inthttp.LinkResponse {
	t.Helper()

	resp := e.do(t, "POST", "/api/urls/shorten", auth, `{"originalUrl":"`+url+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[inthttp.LinkResponse](t, resp)
}

func TestShortenAndRedirect(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := bearer(t, "1", "alice")

	link := env.shorten(t, alice, "https://example.com/a")
	assert.Equal(t, int64(1), link.ID)
	assert.Equal(t, "B", link.ShortURL)
	assert.Equal(t, "https://example.com/a", link.OriginalURL)
	assert.Equal(t, int64(0), link.ClickCount)
	assert.Equal(t, "alice", link.Username)
	assert.False(t, link.CreatedDate.IsZero())

	resp := env.do(t, "GET", "/B", "", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com/a", resp.Header.Get("Location"))

	list := decode[[]inthttp.LinkResponse](t, env.do(t, "GET", "/api/urls/myurls", alice, ""))
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].ClickCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.LinksCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Resolutions.WithLabelValues(infraPrometheus.ResultFound)))
}

func TestShorten_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := bearer(t, "1", "alice")

	tests := []struct {
		name string
		body string
	}{
		{name: "missing field", body: `{}`},
		{name: "empty url", body: `{"originalUrl":""}`},
		{name: "blank url", body: `{"originalUrl":"   "}`},
		{name: "malformed json", body: `{"originalUrl":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, "POST", "/api/urls/shorten", alice, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	list := decode[[]inthttp.LinkResponse](t, env.do(t, "GET", "/api/urls/myurls", alice, ""))
	assert.Empty(t, list)
}

func TestAPI_RequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/api/urls/myurls", "/api/urls/totalClicks", "/api/urls/analytics/B"} {
		resp := env.do(t, "GET", path, "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp := env.do(t, "POST", "/api/urls/shorten", "", `{"originalUrl":"https://example.com"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRedirect_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	env.shorten(t, bearer(t, "1", "alice"), "https://example.com")

	for _, path := range []string{"/b", "/ZZZ", "/favicon.ico"} {
		resp := env.do(t, "GET", path, "", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	link, err := env.mem.FindByCode(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, int64(0), link.ClickCount)
	assert.Equal(t, 3.0, testutil.ToFloat64(env.metrics.Resolutions.WithLabelValues(infraPrometheus.ResultNotFound)))
}

func TestMyURLs_OnlyOwnLinks(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := bearer(t, "1", "alice")
	bob := bearer(t, "2", "bob")

	env.shorten(t, alice, "https://a.example")
	env.shorten(t, bob, "https://b.example")
	env.shorten(t, alice, "https://c.example")

	list := decode[[]inthttp.LinkResponse](t, env.do(t, "GET", "/api/urls/myurls", alice, ""))
	require.Len(t, list, 2)
	assert.Equal(t, "B", list[0].ShortURL)
	assert.Equal(t, "D", list[1].ShortURL)

	list = decode[[]inthttp.LinkResponse](t, env.do(t, "GET", "/api/urls/myurls", bearer(t, "3", "carol"), ""))
	assert.Empty(t, list)
}

func TestAnalyticsByCode(t *testing.T) {
	env := newTestEnv(t, nil)
	link := env.shorten(t, bearer(t, "1", "alice"), "https://example.com")

	for _, at := range []time.Time{
		time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 7, 0, 0, 0, time.UTC),
	} {
		_, err := env.mem.RecordClick(context.Background(), &model.ClickEvent{LinkID: link.ID, OccurredAt: at})
		require.NoError(t, err)
	}

	resp := env.do(t, "GET", "/api/urls/analytics/B?startDate=2024-01-01T00:00:00&endDate=2024-01-04T00:00:00", bearer(t, "1", "alice"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[[]model.DailyClickCount](t, resp)
	assert.Equal(t, []model.DailyClickCount{
		{Date: "2024-01-01", Count: 2},
		{Date: "2024-01-03", Count: 1},
	}, got)
}

func TestAnalyticsByCode_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := bearer(t, "1", "alice")
	env.shorten(t, alice, "https://example.com")

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{
			name:   "unknown code",
			path:   "/api/urls/analytics/Q?startDate=2024-01-01T00:00:00&endDate=2024-01-02T00:00:00",
			status: http.StatusNotFound,
		},
		{
			name:   "missing start",
			path:   "/api/urls/analytics/B?endDate=2024-01-02T00:00:00",
			status: http.StatusBadRequest,
		},
		{
			name:   "date without time",
			path:   "/api/urls/analytics/B?startDate=2024-01-01&endDate=2024-01-02T00:00:00",
			status: http.StatusBadRequest,
		},
		{
			name:   "empty range",
			path:   "/api/urls/analytics/B?startDate=2024-01-02T00:00:00&endDate=2024-01-01T00:00:00",
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, "GET", tt.path, alice, "")
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestTotalClicks(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := bearer(t, "1", "alice")
	first := env.shorten(t, alice, "https://a.example")
	second := env.shorten(t, alice, "https://b.example")

	clicks := map[int64][]time.Time{
		first.ID: {
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 2, 23, 59, 59, 0, time.UTC),
		},
		second.ID: {
			time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		},
	}
	for id, times := range clicks {
		for _, at := range times {
			_, err := env.mem.RecordClick(context.Background(), &model.ClickEvent{LinkID: id, OccurredAt: at})
			require.NoError(t, err)
		}
	}

	resp := env.do(t, "GET", "/api/urls/totalClicks?startDate=2024-01-01&endDate=2024-01-02", alice, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int64{"2024-01-01": 1, "2024-01-02": 2}, decode[map[string]int64](t, resp))

	resp = env.do(t, "GET", "/api/urls/totalClicks?startDate=2024-01-01&endDate=2024-01-01", bearer(t, "9", "nobody"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[map[string]int64](t, resp))

	resp = env.do(t, "GET", "/api/urls/totalClicks?startDate=01/01/2024&endDate=2024-01-02", alice, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}

func TestReady(t *testing.T) {
	healthy := newTestEnv(t, map[string]inthttp.ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
	})
	resp := healthy.do(t, "GET", "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	failing := newTestEnv(t, map[string]inthttp.ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	resp = failing.do(t, "GET", "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "unavailable", body["status"])
	assert.Equal(t, map[string]any{"postgres": "ok", "redis": "connection refused"}, body["checks"])
}

// heldNotifier parks every notification until release is closed.
type heldNotifier struct {
	release chan struct{}
	wg      sync.WaitGroup

	mu  sync.Mutex
	got []model.ClickNotification
}

func (n *heldNotifier) NotifyClick(ctx context.Context, click model.ClickNotification) error {
	defer n.wg.Done()

	select {
	case <-n.release:
	case <-ctx.Done():
		return ctx.Err()
	}

	n.mu.Lock()
	n.got = append(n.got, click)
	n.mu.Unlock()
	return nil
}

func TestRedirect_NotificationKeepsShortCode(t *testing.T) {
	notifier := &heldNotifier{release: make(chan struct{})}
	env := newTestEnvWithNotifier(t, nil, notifier)
	alice := bearer(t, "1", "alice")

	const links = 40
	want := make(map[string]int64, links)
	for i := 0; i < links; i++ {
		link := env.shorten(t, alice, "https://example.com/page")
		want[link.ShortURL] = link.ID
	}

	notifier.wg.Add(links)
	for code := range want {
		resp := env.do(t, "GET", "/"+code, "", "")
		require.Equal(t, http.StatusFound, resp.StatusCode)
	}

	// Later requests reuse the buffers the redirects above were parsed from.
	for i := 0; i < 50; i++ {
		env.do(t, "GET", "/health", "", "")
		env.do(t, "GET", "/zzzzzzzzzz", "", "")
	}

	close(notifier.release)
	done := make(chan struct{})
	go func() {
		notifier.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("notifications were not delivered")
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()

	require.Len(t, notifier.got, links)
	for _, n := range notifier.got {
		id, ok := want[n.ShortCode]
		if assert.True(t, ok, "unexpected short code %q", n.ShortCode) {
			assert.Equal(t, id, n.LinkID, "code %q", n.ShortCode)
		}
	}
}
