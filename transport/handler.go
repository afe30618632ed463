package transport

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session-sync/core"
)

const defaultRequestBodyLimit int64 = 64 << 10

// GatewayHandler exposes a core.RemoteGateway over HTTP so a host holding the
// database can serve remote clients that use HTTPGateway.
type GatewayHandler struct {
	gateway  core.RemoteGateway
	token    string
	observer *core.Observer
	signals  *SignalHub
	mux      *http.ServeMux
}

type HandlerOption func(*GatewayHandler)

// RequireBearerToken rejects requests whose Authorization header does not
// carry token.
func RequireBearerToken(token string) HandlerOption {
	return func(h *GatewayHandler) {
		h.token = strings.TrimSpace(token)
	}
}

func WithHandlerObserver(observer *core.Observer) HandlerOption {
	return func(h *GatewayHandler) {
		if observer != nil {
			h.observer = observer
		}
	}
}

// WithSignalHub serves hub on RouteSignals behind the same bearer check.
func WithSignalHub(hub *SignalHub) HandlerOption {
	return func(h *GatewayHandler) {
		h.signals = hub
	}
}

func NewGatewayHandler(gateway core.RemoteGateway, opts ...HandlerOption) (*GatewayHandler, error) {
	if gateway == nil {
		return nil, core.InternalError("transport: gateway handler requires a remote gateway")
	}
	h := &GatewayHandler{
		gateway:  gateway,
		observer: core.NewObserver(core.DefaultServiceName, nil, nil),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.mux.HandleFunc("POST "+RouteEnsureUser, h.ensureUser)
	h.mux.HandleFunc("GET "+RouteResolveUser, h.resolveUser)
	h.mux.HandleFunc("GET "+RouteUnread, h.unread)
	h.mux.HandleFunc("GET "+RouteBalance, h.balance)
	h.mux.HandleFunc("POST "+RouteAcknowledge, h.acknowledge)
	if h.signals != nil {
		h.mux.Handle("GET "+RouteSignals, h.signals)
	}
	return h, nil
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && !h.authorized(r) {
		writeError(w, goerrors.New("missing or invalid bearer token", goerrors.CategoryAuth).
			WithCode(http.StatusUnauthorized).
			WithTextCode(ErrorRemoteRejected))
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *GatewayHandler) authorized(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get(headerAuthorization))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.token)) == 1
}

func (h *GatewayHandler) ensureUser(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()
	var in ensureUserRequest
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(in.Email) == "" {
		writeError(w, core.BadInputError("email is required"))
		return
	}
	result, err := h.gateway.EnsureUser(r.Context(), in.Email, in.DisplayName)
	h.observer.ObserveOperation(r.Context(), startedAt, "serve_ensure_user", err, map[string]any{"created": result.Created})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ensureUserResponse{UserID: result.UserID, Created: result.Created})
}

func (h *GatewayHandler) resolveUser(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, core.BadInputError("email is required"))
		return
	}
	userID, err := h.gateway.ResolveUserIDByEmail(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveUserResponse{UserID: userID})
}

func (h *GatewayHandler) unread(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()
	userID := r.PathValue("user_id")
	items, err := h.gateway.FetchUnreadNotifications(r.Context(), userID)
	h.observer.ObserveOperation(r.Context(), startedAt, "serve_fetch_unread", err, map[string]any{"user_id": userID})
	if err != nil {
		writeError(w, err)
		return
	}
	out := unreadResponse{Notifications: make([]notificationPayload, 0, len(items))}
	for _, item := range items {
		out.Notifications = append(out.Notifications, toPayload(item))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *GatewayHandler) balance(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	value, err := h.gateway.FetchBalance(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: value})
}

func (h *GatewayHandler) acknowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.gateway.AcknowledgeNotification(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, defaultRequestBodyLimit+1))
	if err != nil {
		return transportWrapError(err, goerrors.CategoryBadInput, "read request body", http.StatusBadRequest, nil)
	}
	if int64(len(body)) > defaultRequestBodyLimit {
		return transportError("request body too large", goerrors.CategoryBadInput, http.StatusRequestEntityTooLarge, nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return transportWrapError(err, goerrors.CategoryBadInput, "invalid json body", http.StatusBadRequest, nil)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	mapped := core.MapError(err)
	status := mapped.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorResponse{Error: errorPayload{
		Category: mapped.Category.String(),
		Code:     status,
		TextCode: mapped.TextCode,
		Message:  mapped.Message,
	}})
}
