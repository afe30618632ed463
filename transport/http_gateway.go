package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session-sync/core"
	"github.com/goliatone/go-session-sync/ratelimit"
)

// HTTPGateway implements core.RemoteGateway against a REST backend exposing
// the routes served by GatewayHandler.
type HTTPGateway struct {
	baseURL  *url.URL
	adapter  *RESTAdapter
	token    string
	timeout  time.Duration
	observer *core.Observer
	limiter  RateLimitPolicy
}

// RateLimitPolicy gates remote calls per route. ratelimit.AdaptivePolicy
// implements it.
type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, bucket string) error
	AfterCall(ctx context.Context, bucket string, res ratelimit.ResponseMeta) error
}

type HTTPGatewayOption func(*HTTPGateway)

func WithHTTPClient(client HTTPDoer) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		if client != nil {
			g.adapter.Client = client
		}
	}
}

func WithBearerToken(token string) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		g.token = strings.TrimSpace(token)
	}
}

// WithRequestTimeout bounds each remote call. Zero leaves the caller context
// as the only deadline.
func WithRequestTimeout(timeout time.Duration) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		if timeout >= 0 {
			g.timeout = timeout
		}
	}
}

func WithObserver(observer *core.Observer) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		if observer != nil {
			g.observer = observer
		}
	}
}

// WithRateLimitPolicy makes the gateway honor remote throttling signals. A
// throttled route fails fast with a rate limit error until its window ends.
func WithRateLimitPolicy(policy RateLimitPolicy) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		g.limiter = policy
	}
}

func WithResponseBodyLimit(limit int64) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		if limit > 0 {
			g.adapter.MaxResponseBodyBytes = limit
		}
	}
}

// WithReadRetries retries GET calls that hit a network failure or a 502,
// 503 or 504 up to retries more times.
func WithReadRetries(retries int, backoff core.BackoffScheduler) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		if retries >= 0 {
			g.adapter.Retries = retries
		}
		if backoff != nil {
			g.adapter.Backoff = backoff
		}
	}
}

func NewHTTPGateway(baseURL string, opts ...HTTPGatewayOption) (*HTTPGateway, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, core.BadInputError("transport: invalid gateway base url")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, core.BadInputError("transport: gateway base url requires scheme and host")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	g := &HTTPGateway{
		baseURL:  parsed,
		adapter:  NewRESTAdapter(nil),
		observer: core.NewObserver(core.DefaultServiceName, nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *HTTPGateway) EnsureUser(ctx context.Context, email string, displayName string) (core.EnsureUserResult, error) {
	startedAt := time.Now()
	var out ensureUserResponse
	_, err := g.call(ctx, http.MethodPost, RouteEnsureUser, RouteEnsureUser, nil, ensureUserRequest{
		Email:       email,
		DisplayName: displayName,
	}, &out)
	g.observer.ObserveOperation(ctx, startedAt, "remote_ensure_user", err, nil)
	if err != nil {
		return core.EnsureUserResult{}, err
	}
	if strings.TrimSpace(out.UserID) == "" {
		return core.EnsureUserResult{}, transportError(
			"transport: ensure user response missing user_id",
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"route": RouteEnsureUser},
		)
	}
	return core.EnsureUserResult{UserID: out.UserID, Created: out.Created}, nil
}

func (g *HTTPGateway) ResolveUserIDByEmail(ctx context.Context, email string) (string, error) {
	startedAt := time.Now()
	var out resolveUserResponse
	status, err := g.call(ctx, http.MethodGet, RouteResolveUser, RouteResolveUser, map[string]string{"email": email}, nil, &out)
	g.observer.ObserveOperation(ctx, startedAt, "remote_resolve_user", err, nil)
	if status == http.StatusNotFound {
		return "", goerrors.Wrap(core.ErrUserNotResolved, goerrors.CategoryNotFound, "transport: user not resolved").
			WithCode(http.StatusNotFound).
			WithTextCode(core.ErrorUserNotResolved)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.UserID) == "" {
		return "", core.ErrUserNotResolved
	}
	return out.UserID, nil
}

func (g *HTTPGateway) FetchUnreadNotifications(ctx context.Context, userID string) ([]core.Notification, error) {
	startedAt := time.Now()
	var out unreadResponse
	_, err := g.call(ctx, http.MethodGet, RouteUnread, expandRoute(RouteUnread, "{user_id}", userID), nil, nil, &out)
	g.observer.ObserveOperation(ctx, startedAt, "remote_fetch_unread", err, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	items := make([]core.Notification, 0, len(out.Notifications))
	for _, payload := range out.Notifications {
		items = append(items, payload.toDomain())
	}
	return items, nil
}

// AcknowledgeNotification treats a 404 as success: the id is unknown or
// already gone.
func (g *HTTPGateway) AcknowledgeNotification(ctx context.Context, id string) error {
	startedAt := time.Now()
	status, err := g.call(ctx, http.MethodPost, RouteAcknowledge, expandRoute(RouteAcknowledge, "{id}", id), nil, nil, nil)
	if status == http.StatusNotFound {
		err = nil
	}
	g.observer.ObserveOperation(ctx, startedAt, "remote_acknowledge", err, map[string]any{"notification_id": id})
	return err
}

func (g *HTTPGateway) FetchBalance(ctx context.Context, userID string) (float64, error) {
	startedAt := time.Now()
	var out balanceResponse
	_, err := g.call(ctx, http.MethodGet, RouteBalance, expandRoute(RouteBalance, "{user_id}", userID), nil, nil, &out)
	g.observer.ObserveOperation(ctx, startedAt, "remote_fetch_balance", err, map[string]any{"user_id": userID})
	if err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// call returns the response status alongside any error so callers can give
// specific statuses their own meaning. route is the unexpanded template and
// keys the rate limit bucket.
func (g *HTTPGateway) call(
	ctx context.Context,
	method string,
	route string,
	path string,
	query map[string]string,
	body any,
	out any,
) (int, error) {
	if g == nil {
		return 0, core.InternalError("transport: http gateway is nil")
	}
	if g.limiter != nil {
		if err := g.limiter.BeforeCall(ctx, route); err != nil {
			return 0, err
		}
	}
	headers := map[string]string{"Accept": contentTypeJSON}
	if g.token != "" {
		headers[headerAuthorization] = "Bearer " + g.token
	}
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, transportWrapError(err, goerrors.CategoryBadInput, "transport: encode request body", http.StatusBadRequest, nil)
		}
		payload = encoded
		headers[headerContentType] = contentTypeJSON
	}

	res, err := g.adapter.Do(ctx, Request{
		Method:  method,
		URL:     g.baseURL.String() + path,
		Headers: headers,
		Query:   query,
		Body:    payload,
		Timeout: g.timeout,
	})
	if err != nil {
		return 0, err
	}
	if g.limiter != nil {
		if err := g.limiter.AfterCall(ctx, route, ratelimit.ResponseMeta{StatusCode: res.StatusCode, Headers: res.Headers}); err != nil {
			g.observer.Warn(ctx, "rate limit state update failed", map[string]any{"route": route, "error": err.Error()})
		}
	}
	if !res.Success() {
		return res.StatusCode, remoteError(method, path, res)
	}
	if out == nil || len(res.Body) == 0 {
		return res.StatusCode, nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return res.StatusCode, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: decode response body",
			http.StatusBadGateway,
			map[string]any{"method": method, "path": path},
		)
	}
	return res.StatusCode, nil
}

func remoteError(method string, path string, res Response) error {
	category := categoryForStatus(res.StatusCode)
	metadata := map[string]any{
		"method":      method,
		"path":        path,
		"status_code": res.StatusCode,
	}
	message := fmt.Sprintf("transport: remote returned status %d", res.StatusCode)

	var envelope errorResponse
	if err := json.Unmarshal(res.Body, &envelope); err == nil && envelope.Error.Message != "" {
		message = "transport: " + envelope.Error.Message
		if envelope.Error.TextCode != "" {
			metadata["remote_text_code"] = envelope.Error.TextCode
		}
	}
	return transportError(message, category, res.StatusCode, metadata)
}

func expandRoute(route string, placeholder string, value string) string {
	return strings.ReplaceAll(route, placeholder, url.PathEscape(strings.TrimSpace(value)))
}

var _ core.RemoteGateway = (*HTTPGateway)(nil)
