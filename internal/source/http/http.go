// Package http implements the HTTP source adapter of §4.3: a paginated,
// authenticated REST client built on hashicorp/go-retryablehttp, with a
// custom jittered backoff and retriable-status classification shared
// with the rest of the pipeline's resilience substrate.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/model"
	"github.com/cuemby/medallion/internal/resilience"
	"github.com/cuemby/medallion/internal/source"
)

// Adapter implements source.Adapter for config.SourceHTTP specs.
type Adapter struct {
	spec    config.HTTPSourceSpec
	client  *retryablehttp.Client
	limiter *resilience.Limiter
	breaker *resilience.Breaker

	cursor string
}

// New builds an HTTP adapter, wiring spec.Pagination/Auth into request
// construction and resil into retryablehttp's Backoff/CheckRetry hooks.
// limiter and breaker are the run's shared instances: every page fetch
// acquires limiter and runs through breaker, not just the first one
// (§4.2 "retries share the same breaker and limiter").
func New(spec config.HTTPSourceSpec, resil config.ResilienceSpec, limiter *resilience.Limiter, breaker *resilience.Breaker) *Adapter {
	policy := resilience.NewRetryPolicy(resil)

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = resil.MaxAttempts - 1
	if client.RetryMax < 0 {
		client.RetryMax = 0
	}
	client.HTTPClient.Timeout = spec.RequestTimeout
	if client.HTTPClient.Timeout == 0 {
		client.HTTPClient.Timeout = 30 * time.Second
	}

	client.Backoff = func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
		var retryAfter *int64
		if resp != nil {
			if ra := parseRetryAfter(resp); ra != nil {
				retryAfter = ra
			}
		}
		return policy.DelayFor(attempt+2, retryAfter)
	}

	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return true, nil
		}
		if resp.StatusCode >= 500 {
			return true, nil
		}
		return false, nil
	}

	return &Adapter{spec: spec, client: client, limiter: limiter, breaker: breaker}
}

func parseRetryAfter(resp *http.Response) *int64 {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	ms := secs * 1000
	return &ms
}

// Extract streams records from cursor, honoring the configured
// pagination variant. The returned channel is closed once the source
// is exhausted, the context is cancelled, or a terminal error occurs
// (delivered as the final Item.Err).
func (a *Adapter) Extract(ctx context.Context, cursor string) (<-chan source.Item, error) {
	depth := a.spec.PrefetchDepth
	if depth <= 0 {
		depth = 1
	}
	out := make(chan source.Item, depth)

	go func() {
		defer close(out)
		a.run(ctx, cursor, out)
	}()

	return out, nil
}

func (a *Adapter) Cursor() string { return a.cursor }

func (a *Adapter) run(ctx context.Context, cursor string, out chan<- source.Item) {
	state := paginationState{
		offset: 0,
		page:   1,
		cursor: cursor,
	}

	for {
		req, err := a.buildRequest(ctx, state)
		if err != nil {
			out <- source.Item{Err: err}
			return
		}

		if err := a.limiter.Wait(ctx); err != nil {
			out <- source.Item{Err: resilience.NewFailure(resilience.KindCancelled, err)}
			return
		}

		var resp *http.Response
		err = a.breaker.Do(ctx, func(ctx context.Context) error {
			r, doErr := a.client.Do(req)
			if doErr != nil {
				return resilience.NewFailure(resilience.KindNetwork, doErr)
			}
			resp = r
			return nil
		})
		if err != nil {
			out <- source.Item{Err: err}
			return
		}

		records, next, err := a.parseResponse(resp, state)
		resp.Body.Close()
		if err != nil {
			out <- source.Item{Err: err}
			return
		}

		for _, r := range records {
			select {
			case out <- source.Item{Record: r}:
			case <-ctx.Done():
				out <- source.Item{Err: ctx.Err()}
				return
			}
		}

		if next == nil {
			return
		}
		state = *next
		a.cursor = state.cursorValue()
	}
}

// paginationState tracks progress across one or more of the pagination
// variants; only the fields relevant to the configured variant are
// used.
type paginationState struct {
	offset int
	page   int
	cursor string
	done   bool
}

func (s paginationState) cursorValue() string {
	switch {
	case s.cursor != "":
		return s.cursor
	case s.offset > 0:
		return strconv.Itoa(s.offset)
	default:
		return strconv.Itoa(s.page)
	}
}

func (a *Adapter) buildRequest(ctx context.Context, state paginationState) (*retryablehttp.Request, error) {
	url := strings.TrimSuffix(a.spec.BaseURL, "/") + "/" + strings.TrimPrefix(a.spec.Path, "/")
	req, err := retryablehttp.NewRequestWithContext(ctx, methodOrDefault(a.spec.Method), url, nil)
	if err != nil {
		return nil, err
	}

	q := req.URL.Query()
	for k, v := range a.spec.Query {
		q.Set(k, v)
	}

	switch a.spec.Pagination {
	case config.PaginationOffset:
		q.Set(a.spec.OffsetParam, strconv.Itoa(state.offset))
		if a.spec.LimitParam != "" {
			q.Set(a.spec.LimitParam, strconv.Itoa(a.spec.OffsetSize))
		}
	case config.PaginationPage:
		q.Set(a.spec.PageParam, strconv.Itoa(state.page))
		if a.spec.PageSizeParam != "" && a.spec.OffsetSize > 0 {
			q.Set(a.spec.PageSizeParam, strconv.Itoa(a.spec.OffsetSize))
		}
	case config.PaginationCursor:
		if state.cursor != "" {
			q.Set(a.spec.CursorParam, state.cursor)
		}
	}
	req.URL.RawQuery = q.Encode()

	for k, v := range a.spec.Headers {
		req.Header.Set(k, v)
	}
	if err := a.applyAuth(req); err != nil {
		return nil, err
	}

	return req, nil
}

func methodOrDefault(m string) string {
	if m == "" {
		return http.MethodGet
	}
	return m
}

func (a *Adapter) applyAuth(req *retryablehttp.Request) error {
	switch a.spec.Auth {
	case config.AuthNone, "":
		return nil
	case config.AuthBearer:
		token := os.Getenv(a.spec.AuthEnvVar)
		if token == "" {
			return fmt.Errorf("http source: env var %q for bearer auth is empty", a.spec.AuthEnvVar)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case config.AuthHeaderKey:
		key := os.Getenv(a.spec.AuthEnvVar)
		if key == "" {
			return fmt.Errorf("http source: env var %q for header-key auth is empty", a.spec.AuthEnvVar)
		}
		req.Header.Set(a.spec.AuthHeaderKey, key)
	case config.AuthBasic:
		cred := os.Getenv(a.spec.AuthEnvVar)
		parts := strings.SplitN(cred, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("http source: env var %q for basic auth must be user:pass", a.spec.AuthEnvVar)
		}
		req.SetBasicAuth(parts[0], parts[1])
	default:
		return fmt.Errorf("http source: unknown auth variant %q", a.spec.Auth)
	}
	return nil
}

func (a *Adapter) parseResponse(resp *http.Response, state paginationState) ([]model.Record, *paginationState, error) {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil, resilience.NewFailure(resilience.KindAuth, fmt.Errorf("http source: status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil, resilience.NewFailure(resilience.KindNotFound, fmt.Errorf("http source: status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, nil, resilience.NewFailure(resilience.KindPermanent, fmt.Errorf("http source: status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, resilience.NewFailure(resilience.KindNetwork, err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, fmt.Errorf("http source: decode response: %w", err)
	}

	records, err := extractRecords(doc, a.spec.RecordsPath)
	if err != nil {
		return nil, nil, err
	}

	if a.spec.Pagination == config.PaginationNone || a.spec.Pagination == "" || len(records) == 0 {
		return records, nil, nil
	}

	next := state
	switch a.spec.Pagination {
	case config.PaginationOffset:
		next.offset += a.spec.OffsetSize
		if a.spec.OffsetSize == 0 || len(records) < a.spec.OffsetSize {
			return records, nil, nil
		}
	case config.PaginationPage:
		next.page++
	case config.PaginationCursor:
		cursorVal, ok := lookupField(doc, a.spec.CursorNextField)
		if !ok || cursorVal == "" {
			return records, nil, nil
		}
		next.cursor = cursorVal
	}
	return records, &next, nil
}

// extractRecords navigates a dotted field path (empty path means the
// whole document is the record array) and converts the resulting JSON
// array of objects into model.Record values.
func extractRecords(doc any, path string) ([]model.Record, error) {
	target := doc
	if path != "" {
		v, ok := lookupPath(doc, path)
		if !ok {
			return nil, fmt.Errorf("http source: records_path %q not found in response", path)
		}
		target = v
	}

	arr, ok := target.([]any)
	if !ok {
		return nil, fmt.Errorf("http source: records_path %q is not an array", path)
	}

	out := make([]model.Record, 0, len(arr))
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("http source: array element is not an object")
		}
		out = append(out, model.Record(obj))
	}
	return out, nil
}

func lookupPath(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func lookupField(doc any, field string) (string, bool) {
	v, ok := lookupPath(doc, field)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
