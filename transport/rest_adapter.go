package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session-sync/core"
)

const (
	defaultRESTClientTimeout           = 30 * time.Second
	defaultRESTResponseBodyLimit int64 = 1 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RESTAdapter executes JSON-over-HTTP requests against the remote record
// service. GET requests that fail at the network level or with a 502, 503
// or 504 are retried up to Retries more times, waiting Backoff between
// attempts. Other methods run once.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Retries              int
	Backoff              core.BackoffScheduler
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
		Backoff:              core.ExponentialBackoffScheduler{Initial: 100 * time.Millisecond, Max: 2 * time.Second},
	}
}

func (a *RESTAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.Client == nil {
		return Response{}, transportError(
			"transport: rest adapter requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := resolveURL(req.URL, req.Query)
	if err != nil {
		return Response{}, err
	}

	attempts := 1
	if method == http.MethodGet && a.Retries > 0 {
		attempts += a.Retries
	}
	var (
		res     Response
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := a.wait(ctx, attempt-1); err != nil {
				return res, lastErr
			}
		}
		res, lastErr = a.once(ctx, method, target, req)
		res.Attempts = attempt
		if lastErr == nil && !retryableStatus(res.StatusCode) {
			return res, nil
		}
		if lastErr != nil && ctx.Err() != nil {
			break
		}
	}
	return res, lastErr
}

func (a *RESTAdapter) once(ctx context.Context, method string, target string, req Request) (Response, error) {
	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, target, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"method": method, "url": target},
		)
	}
	setHeaders(httpReq.Header, a.DefaultHeaders)
	setHeaders(httpReq.Header, req.Headers)

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"method": method, "url": target},
		)
	}
	defer httpRes.Body.Close()

	limit := firstPositive(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes, defaultRESTResponseBodyLimit)
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}
	if int64(len(body)) > limit {
		return Response{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode, "response_limit_b": limit},
		)
	}

	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Duration:   time.Since(startedAt),
	}, nil
}

func (a *RESTAdapter) wait(ctx context.Context, retry int) error {
	backoff := a.Backoff
	if backoff == nil {
		backoff = core.ExponentialBackoffScheduler{}
	}
	timer := time.NewTimer(backoff.NextDelay(retry))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func resolveURL(raw string, query map[string]string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", transportError("transport: request url is required", goerrors.CategoryBadInput, http.StatusBadRequest, nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid request url",
			http.StatusBadRequest,
			map[string]any{"url": raw},
		)
	}
	if len(query) > 0 {
		values := parsed.Query()
		for key, value := range query {
			if key = strings.TrimSpace(key); key != "" {
				values.Set(key, strings.TrimSpace(value))
			}
		}
		parsed.RawQuery = values.Encode()
	}
	return parsed.String(), nil
}

func setHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func firstPositive(values ...int64) int64 {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}
