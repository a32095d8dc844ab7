package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"booktrak/internal/ratelimit"
	"booktrak/internal/util"
	"booktrak/pkg/domain"
	"booktrak/services/bookstore/internal/app"
	"booktrak/services/bookstore/internal/security"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Limiters are optional; nil disables rate limiting for that route.
	RegistrationLimiter *ratelimit.FixedWindowLimiter
	LoginLimiter        *ratelimit.FixedWindowLimiter
	// Alerter is optional; nil only logs security events.
	Alerter            *security.AuditAlerter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
}

// Server exposes the BookTrak HTTP API.
type Server struct {
	app                 *app.App
	mux                 *http.ServeMux
	registrationLimiter *ratelimit.FixedWindowLimiter
	loginLimiter        *ratelimit.FixedWindowLimiter
	alerter             *security.AuditAlerter
	trustedProxies      *util.TrustedProxies
	corsAllowedOrigins  []string
	validate            *requestValidator
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:                 cfg.App,
		mux:                 http.NewServeMux(),
		registrationLimiter: cfg.RegistrationLimiter,
		loginLimiter:        cfg.LoginLimiter,
		alerter:             cfg.Alerter,
		trustedProxies:      cfg.TrustedProxies,
		corsAllowedOrigins:  cfg.CORSAllowedOrigins,
		validate:            newRequestValidator(),
	}
	s.routes()
	return s
}

// Router returns the routes wrapped in the middleware chain.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog(s.trustedProxies,
			util.WithSecurityHeaders(
				util.WithCORS(s.corsAllowedOrigins)(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// accounts
	s.mux.HandleFunc("/api/registration/", exact("/api/registration/", s.handleRegistration))
	s.mux.HandleFunc("/api/login/", exact("/api/login/", s.handleLogin))
	s.mux.HandleFunc("/api/logout/", exact("/api/logout/", s.authenticated(s.handleLogout)))

	// librarian
	s.mux.HandleFunc("/api/librarian/", exact("/api/librarian/", s.librarianOnly(s.handleLibrarianPanel)))
	s.mux.HandleFunc("/api/librarian/add-books/", exact("/api/librarian/add-books/", s.librarianOnly(s.handleBooks)))
	s.mux.HandleFunc("/api/librarian/delete-books/", s.librarianOnly(s.handleBookByID))
	s.mux.HandleFunc("/api/librarian/report/", exact("/api/librarian/report/", s.librarianOnly(s.handleReport)))

	// customer
	s.mux.HandleFunc("/api/customer/", exact("/api/customer/", s.customerOnly(s.handleCustomerPanel)))
	s.mux.HandleFunc("/api/customer/browse-book/", exact("/api/customer/browse-book/", s.customerOnly(s.handleBrowse)))
	s.mux.HandleFunc("/api/customer/save-book/", exact("/api/customer/save-book/", s.customerOnly(s.handleSaveBook)))
	s.mux.HandleFunc("/api/customer/add-to-cart/", exact("/api/customer/add-to-cart/", s.customerOnly(s.handleAddToCart)))
	s.mux.HandleFunc("/api/customer/remove-from-cart/", exact("/api/customer/remove-from-cart/", s.customerOnly(s.handleRemoveFromCart)))
	s.mux.HandleFunc("/api/customer/checkout/", exact("/api/customer/checkout/", s.customerOnly(s.handleCheckout)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// exact rejects paths below a subtree pattern before any auth runs.
func exact(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		next(w, r)
	}
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)
type roleHandler func(http.ResponseWriter, *http.Request, domain.User, domain.UserProfile)

func (s *Server) authenticated(next authHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, security.EventAuthenticate, security.OutcomeFail, "reason", "missing_token")
			s.writeAppError(w, r, app.ErrUnauthorized)
			return
		}
		user, err := s.app.UserFromToken(r.Context(), token)
		if err != nil {
			if app.KindOf(err) == app.KindUnauthorized {
				s.audit(r, security.EventAuthenticate, security.OutcomeFail, "reason", "invalid_token")
			}
			s.writeAppError(w, r, err)
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
		next(w, r.WithContext(ctx), user)
	}
}

func (s *Server) librarianOnly(next roleHandler) http.HandlerFunc {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		profile, err := s.app.RequireLibrarian(r.Context(), user)
		if err != nil {
			if app.KindOf(err) == app.KindForbidden {
				s.audit(r, security.EventLibrarian, security.OutcomeDenied, "user_id", user.ID)
			}
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, user, profile)
	})
}

func (s *Server) customerOnly(next roleHandler) http.HandlerFunc {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		profile, err := s.app.RequireCustomer(r.Context(), user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, user, profile)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(authHeader, " ")
	// Both "Bearer <token>" and "Token <token>" are accepted.
	if !ok || !(strings.EqualFold(scheme, "Bearer") || strings.EqualFold(scheme, "Token")) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trustedProxies)
	logger := util.LoggerFromContext(r.Context())
	logAttrs := append([]any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}, attrs...)
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter failed", "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, event string) bool {
	if limiter == nil {
		return true
	}
	decision := limiter.Allow(r.Context(), event+"|"+util.ClientIP(r, s.trustedProxies))
	if decision.Allowed {
		return true
	}
	s.audit(r, event, security.OutcomeRateLimited)
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
	s.writeAppError(w, r, app.ErrRateLimited)
	return false
}

var errInvalidJSON = &app.Error{Kind: app.KindValidation, Message: "invalid JSON body"}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errInvalidJSON
	}
	return data, nil
}

// decodeJSON decodes the body into dst. A wrongly typed field becomes a
// field error; any other decoding failure is errInvalidJSON.
func decodeJSON(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return &app.Error{
				Kind:    app.KindValidation,
				Message: typeMessage(typeErr),
				Fields:  map[string][]string{typeErr.Field: {typeMessage(typeErr)}},
			}
		}
		return errInvalidJSON
	}
	return nil
}

func typeMessage(err *json.UnmarshalTypeError) string {
	switch err.Type.Kind() {
	case reflect.Int, reflect.Int64:
		return "A valid integer is required."
	case reflect.Slice:
		return fmt.Sprintf("Expected a list of items but got type %q.", err.Value)
	case reflect.String:
		return "Not a valid string."
	}
	return "Invalid value."
}

// decodeRequest reads, decodes and validates a request body.
func (s *Server) decodeRequest(r *http.Request, dst any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	if err := decodeJSON(data, dst); err != nil {
		return err
	}
	return s.validate.Struct(dst)
}

func statusFor(kind app.Kind) int {
	switch kind {
	case app.KindValidation, app.KindConflict:
		return http.StatusBadRequest
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindUnauthorized:
		return http.StatusUnauthorized
	case app.KindForbidden:
		return http.StatusForbidden
	case app.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := app.AsError(err)
	if !ok {
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	body := map[string]any{"error": appErr.Message}
	if len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}
	for k, v := range appErr.Extra {
		body[k] = v
	}
	writeJSON(w, statusFor(appErr.Kind), body)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
