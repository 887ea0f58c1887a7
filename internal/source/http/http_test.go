package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unlimited returns a limiter/breaker pair with no effective throttling,
// for tests that only care about pagination/auth/retry behavior.
func unlimited() (*resilience.Limiter, *resilience.Breaker) {
	limiter := resilience.NewLimiter(0, 1<<30)
	breaker := resilience.NewBreakerRegistry(1<<30, time.Second).Get(resilience.BreakerKey{Backend: "test", Source: "http"})
	return limiter, breaker
}

func drain(t *testing.T, a *Adapter, ctx context.Context) []map[string]any {
	t.Helper()
	ch, err := a.Extract(ctx, "")
	require.NoError(t, err)

	var got []map[string]any
	for item := range ch {
		require.NoError(t, item.Err)
		got = append(got, item.Record)
	}
	return got
}

func TestAdapter_NoPagination(t *testing.T) {
	limiter, breaker := unlimited()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"id": "1"}, {"id": "2"}},
		})
	}))
	defer srv.Close()

	a := New(config.HTTPSourceSpec{
		BaseURL:     srv.URL,
		Path:        "/records",
		Pagination:  config.PaginationNone,
		RecordsPath: "items",
	}, config.DefaultResilience(), limiter, breaker)

	got := drain(t, a, context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0]["id"])
}

func TestAdapter_OffsetPagination(t *testing.T) {
	limiter, breaker := unlimited()
	pageSize := 2
	total := []map[string]any{{"id": "1"}, {"id": "2"}, {"id": "3"}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := 0
		if v := r.URL.Query().Get("offset"); v != "" {
			offset = atoiOrZero(v)
		}
		end := offset + pageSize
		if end > len(total) {
			end = len(total)
		}
		var page []map[string]any
		if offset < len(total) {
			page = total[offset:end]
		}
		json.NewEncoder(w).Encode(map[string]any{"items": page})
	}))
	defer srv.Close()

	a := New(config.HTTPSourceSpec{
		BaseURL:     srv.URL,
		Path:        "/records",
		Pagination:  config.PaginationOffset,
		OffsetParam: "offset",
		OffsetSize:  pageSize,
		RecordsPath: "items",
	}, config.DefaultResilience(), limiter, breaker)

	got := drain(t, a, context.Background())
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[2]["id"])
}

func TestAdapter_CursorPagination(t *testing.T) {
	limiter, breaker := unlimited()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{{"id": "1"}},
				"next":  "cursor-2",
			})
		case 2:
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{{"id": "2"}},
			})
		}
	}))
	defer srv.Close()

	a := New(config.HTTPSourceSpec{
		BaseURL:         srv.URL,
		Path:            "/records",
		Pagination:      config.PaginationCursor,
		CursorParam:     "cursor",
		CursorNextField: "next",
		RecordsPath:     "items",
	}, config.DefaultResilience(), limiter, breaker)

	got := drain(t, a, context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, 2, calls)
}

func TestAdapter_BearerAuth(t *testing.T) {
	limiter, breaker := unlimited()
	t.Setenv("TEST_TOKEN", "secret-token")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}})
	}))
	defer srv.Close()

	a := New(config.HTTPSourceSpec{
		BaseURL:     srv.URL,
		Path:        "/records",
		Auth:        config.AuthBearer,
		AuthEnvVar:  "TEST_TOKEN",
		RecordsPath: "items",
	}, config.DefaultResilience(), limiter, breaker)

	drain(t, a, context.Background())
}

func TestAdapter_AuthFailureIsClassified(t *testing.T) {
	limiter, breaker := unlimited()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	resil := config.DefaultResilience()
	resil.MaxAttempts = 1
	a := New(config.HTTPSourceSpec{
		BaseURL:     srv.URL,
		Path:        "/records",
		RecordsPath: "items",
	}, resil, limiter, breaker)

	ch, err := a.Extract(context.Background(), "")
	require.NoError(t, err)
	item := <-ch
	require.Error(t, item.Err)
}

func TestAdapter_RetriesOn503ThenSucceeds(t *testing.T) {
	limiter, breaker := unlimited()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{{"id": "ok"}}})
	}))
	defer srv.Close()

	resil := config.DefaultResilience()
	resil.BaseDelay = time.Millisecond
	resil.MaxDelay = 5 * time.Millisecond
	resil.MaxAttempts = 5

	a := New(config.HTTPSourceSpec{
		BaseURL:     srv.URL,
		Path:        "/records",
		RecordsPath: "items",
	}, resil, limiter, breaker)

	got := drain(t, a, context.Background())
	require.Len(t, got, 1)
	assert.GreaterOrEqual(t, calls, 3)
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
