package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"possettle/internal/domain"
	"possettle/internal/metrics"
	"possettle/internal/reconcile"
	"possettle/internal/report"
	"possettle/internal/service"
)

const maxBodyBytes = 1 << 20

type Options struct {
	AllowedOrigin string
	// Location is the zone report day parameters are read in.
	Location *time.Location
	Logger   *zap.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	location      *time.Location
	loginLimiter  *attemptLimiter
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		location:      opts.Location,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		logger:        opts.Logger.Named("http"),
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
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(pattern, h))
	}

	handle("/healthz", a.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	handle("/api/v1/auth/login", a.handleLogin)

	handle("/api/v1/pending-transactions", a.requireAuth(a.handlePendingTransactions, domain.RoleCashier, domain.RoleAdmin))
	handle("/api/v1/pending-transactions/finalize-batch", a.requireAuth(a.handleFinalizeBatch, domain.RoleAdmin))
	handle("/api/v1/pending-transactions/{id}/finalize", a.requireAuth(a.handleFinalize, domain.RoleAdmin))
	handle("/api/v1/pending-transactions/{id}/void", a.requireAuth(a.handleVoid, domain.RoleAdmin))

	handle("/api/v1/invoices", a.requireAuth(a.handleInvoices, domain.RoleAdmin))
	handle("/api/v1/invoices/{id}", a.requireAuth(a.handleInvoice, domain.RoleAdmin))
	handle("/api/v1/voided-transactions", a.requireAuth(a.handleVoided, domain.RoleAdmin))
	handle("/api/v1/products", a.requireAuth(a.handleProducts, domain.RoleAdmin))
	handle("/api/v1/inventory/batches", a.requireAuth(a.handleReceiveBatch, domain.RoleAdmin))

	handle("/api/v1/reports/daily", a.requireAuth(a.handleDailyReport, domain.RoleAdmin))
	handle("/api/v1/reports/inventory", a.requireAuth(a.handleInventoryReport, domain.RoleAdmin))
	handle("/api/v1/reports/cash-drawer", a.requireAuth(a.handleCashDrawerReport, domain.RoleAdmin))
	handle("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

type actorKey struct{}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(r *http.Request) domain.Actor {
	actor, _ := r.Context().Value(actorKey{}).(domain.Actor)
	return actor
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(withActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePendingTransactions(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	switch r.Method {
	case http.MethodPost:
		var sale domain.Sale
		if err := decodeJSON(r, &sale); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreatePending(r.Context(), actor, sale)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transaction": created})
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
		txns, err := a.service.ListPending(r.Context(), actor, limit)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	result, err := a.service.Finalize(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleVoid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.VoidRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	voided, err := a.service.Void(r.Context(), actorFrom(r), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voided": voided})
}

func (a *API) handleFinalizeBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.FinalizeBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.FinalizeAll(r.Context(), actorFrom(r), req.TransactionIDs)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	from, to, err := a.parseOptionalRange(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	invoices, err := a.service.ListInvoices(r.Context(), actorFrom(r), from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	invoice, err := a.service.GetInvoice(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleVoided(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	from, to, err := a.parseOptionalRange(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	voided, err := a.service.ListVoided(r.Context(), actorFrom(r), from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voided": voided})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	products, err := a.service.ListProducts(r.Context(), actorFrom(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleReceiveBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.BatchReceiveRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	batch, err := a.service.ReceiveBatch(r.Context(), actorFrom(r), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"batch": batch})
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	format, err := exportFormat(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	from, to, err := a.parseRange(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := a.service.DailyReport(r.Context(), actorFrom(r), from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	switch format {
	case report.FormatJSON:
		writeJSON(w, http.StatusOK, map[string]any{"report": rep})
	case report.FormatCSV:
		writeExport(a, w, format, "daily-report", report.DailyCSV, rep)
	case report.FormatXLSX:
		writeExport(a, w, format, "daily-report", report.DailyXLSX, rep)
	case report.FormatPDF:
		writeExport(a, w, format, "daily-report", report.DailyPDF, rep)
	}
}

func (a *API) handleInventoryReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	format, err := exportFormat(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := a.service.InventoryReport(r.Context(), actorFrom(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	switch format {
	case report.FormatJSON:
		writeJSON(w, http.StatusOK, map[string]any{"report": rep})
	case report.FormatCSV:
		writeExport(a, w, format, "inventory-report", report.InventoryCSV, rep)
	case report.FormatXLSX:
		writeExport(a, w, format, "inventory-report", report.InventoryXLSX, rep)
	case report.FormatPDF:
		writeExport(a, w, format, "inventory-report", report.InventoryPDF, rep)
	}
}

func (a *API) handleCashDrawerReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	query := r.URL.Query()
	from, to, err := a.parseRange(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	includePending := false
	if raw := strings.TrimSpace(query.Get("include_pending")); raw != "" {
		includePending, err = strconv.ParseBool(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("include_pending must be a boolean"))
			return
		}
	}

	opts := reconcile.Options{OpeningFloat: decimal.Zero}
	if raw := strings.TrimSpace(query.Get("opening_float")); raw != "" {
		opts.OpeningFloat, err = decimal.NewFromString(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("opening_float must be a decimal amount"))
			return
		}
	}
	if raw := strings.TrimSpace(query.Get("counted_cash")); raw != "" {
		counted, err := decimal.NewFromString(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("counted_cash must be a decimal amount"))
			return
		}
		opts.CountedCash = &counted
	}

	rep, err := a.service.CashDrawerReport(r.Context(), actorFrom(r), from, to, includePending, opts)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": rep})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	from, to, err := a.parseOptionalRange(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	logs, err := a.service.ListAuditLogs(r.Context(), actorFrom(r), from, to, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// parseRange reads from/to as calendar days in the report zone. Missing
// values stay zero and are resolved to today by the service.
func (a *API) parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := a.parseDay(r.URL.Query().Get("from"), "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := a.parseDay(r.URL.Query().Get("to"), "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

// parseOptionalRange is parseRange for listings where an absent bound means
// unbounded; the upper day is made exclusive.
func (a *API) parseOptionalRange(r *http.Request) (time.Time, time.Time, error) {
	from, to, err := a.parseRange(r)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func (a *API) parseDay(raw string, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, a.location)
	if err != nil {
		return time.Time{}, errors.New(field + " must be a YYYY-MM-DD date")
	}
	return day, nil
}

func exportFormat(r *http.Request) (string, error) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	switch format {
	case "":
		return report.FormatJSON, nil
	case report.FormatJSON, report.FormatCSV, report.FormatXLSX, report.FormatPDF:
		return format, nil
	default:
		return "", errors.New("format must be one of json, csv, xlsx, pdf")
	}
}

func writeExport[T any](a *API, w http.ResponseWriter, format string, name string, render func(T) ([]byte, error), rep T) {
	body, err := render(rep)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+"."+format+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		if a.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := w.(*statusRecorder)
		if !ok {
			rec = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTP(route, r.Method, rec.status, time.Since(startedAt))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
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

// statusForKind maps the settlement error taxonomy onto HTTP status codes.
func statusForKind(kind string) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindAlreadySettled:
		return http.StatusConflict
	case service.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	case service.KindDependencyFailure:
		return http.StatusServiceUnavailable
	case service.KindPermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	kind := service.ErrorKind(err)
	status := statusForKind(kind)
	payload := map[string]any{"error": err.Error(), "kind": kind}

	var settled *service.AlreadySettledError
	if errors.As(err, &settled) {
		payload["state"] = settled.State
		if settled.InvoiceID != "" {
			payload["invoiceId"] = settled.InvoiceID
		}
	}
	var invalid *service.ValidationError
	if errors.As(err, &invalid) {
		payload["field"] = invalid.Field
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Int("status", status), zap.String("kind", kind), zap.Error(err))
		payload["error"] = http.StatusText(status)
	}
	writeJSON(w, status, payload)
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError masks 5xx messages; 4xx messages are user-facing.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
