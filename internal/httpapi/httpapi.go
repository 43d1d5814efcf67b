// Package httpapi serves the dev server's REST API under /api/v1 and the
// sales event stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"gaspos/client/internal/domain"
	"gaspos/client/internal/logger"
	"gaspos/client/internal/service"
	"gaspos/client/internal/store"
)

const maxNotificationPage = 500

type Options struct {
	AllowedOrigin string
	// LegacyShape renders responses with uppercase ids and PostgreSQL
	// timestamps, the way older API builds did.
	LegacyShape bool
	Logger      *zap.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	broker        *Broker
	allowedOrigin string
	legacy        bool
	logger        *zap.Logger
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, broker *Broker, opts Options) *API {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if broker == nil {
		broker = NewBroker(WithBrokerLogger(opts.Logger))
	}
	return &API{
		service:       svc,
		auth:          auth,
		broker:        broker,
		allowedOrigin: opts.AllowedOrigin,
		legacy:        opts.LegacyShape,
		logger:        logger.OrNop(opts.Logger).Named("httpapi"),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/sales/events", a.requireAuth(a.broker.ServeHTTP))

	mountResource[domain.Branch, domain.BranchPatch](a, mux, "/api/v1/branches", "branch", "branches", a.service.Branches, domain.RoleAdmin)
	mountResource[domain.Product, domain.ProductPatch](a, mux, "/api/v1/products", "product", "products", a.service.Products, domain.RoleAdmin)
	mountResource[domain.Sale, domain.SalePatch](a, mux, "/api/v1/sales", "sale", "sales", a.service.Sales, domain.RoleAdmin, domain.RoleSeller)
	mountResource[domain.User, domain.UserPatch](a, mux, "/api/v1/users", "user", "users", a.service.Users, domain.RoleAdmin)
	mountResource[domain.Expense, domain.ExpensePatch](a, mux, "/api/v1/expenses", "expense", "expenses", a.service.Expenses, domain.RoleAdmin, domain.RoleSeller)

	mux.HandleFunc("/api/v1/notifications", a.requireAuth(a.handleNotifications))
	mux.HandleFunc("/api/v1/notifications/", a.requireAuth(a.handleNotificationActions))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func actorFrom(r *http.Request) (domain.Actor, bool) {
	return service.ActorFromContext(r.Context())
}

// allowRoles writes 403 and reports false when the caller's role is not in
// roles. An empty roles list allows everyone.
func allowRoles(w http.ResponseWriter, r *http.Request, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	actor, ok := actorFrom(r)
	if !ok || !slices.Contains(roles, actor.Role) {
		writeError(w, http.StatusForbidden, errors.New("forbidden role"))
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"at":            time.Now().UTC().Format(time.RFC3339),
		"streamClients": a.broker.ClientCount(),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, decodeStatus(err), err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.fail(w, err)
		return
	}

	a.render(w, http.StatusOK, resp)
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := a.service.ListNotifications(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), maxNotificationPage, maxNotificationPage)
		if len(list) > limit {
			list = list[:limit]
		}
		a.render(w, http.StatusOK, list)
	case http.MethodDelete:
		if err := a.service.DeleteAllNotifications(r.Context()); err != nil {
			a.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleNotificationActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/notifications/"), "/")
	ctx := r.Context()

	switch {
	case rest == "unread-count":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		count, err := a.service.UnreadCount(ctx)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.UnreadCountResponse{Count: count})

	case rest == "read-all":
		if r.Method != http.MethodPatch && r.Method != http.MethodPut {
			writeMethodNotAllowed(w)
			return
		}
		if err := a.service.MarkAllNotificationsRead(ctx); err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case strings.HasSuffix(rest, "/read"):
		if r.Method != http.MethodPatch && r.Method != http.MethodPut {
			writeMethodNotAllowed(w)
			return
		}
		if err := a.service.MarkNotificationRead(ctx, strings.TrimSuffix(rest, "/read")); err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case rest != "" && !strings.Contains(rest, "/"):
		if r.Method != http.MethodDelete {
			writeMethodNotAllowed(w)
			return
		}
		if err := a.service.DeleteNotification(ctx, rest); err != nil {
			a.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusNotFound, errors.New("not found"))
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(startedAt)))
	})
}

// statusFor maps service and repository errors onto HTTP statuses.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInvalidDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err)
}

// render writes payload as JSON, in the legacy shape when configured.
func (a *API) render(w http.ResponseWriter, status int, payload any) {
	if !a.legacy {
		writeJSON(w, status, payload)
		return
	}
	legacy, err := legacyShape(payload)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, status, legacy)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx responses.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
