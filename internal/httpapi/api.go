package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"mediboard.org/internal/audit"
	"mediboard.org/internal/auth"
	"mediboard.org/internal/obs"
)

// Machine-readable failure codes carried in error responses.
const (
	CodeTokenExpired      = "TOKEN_EXPIRED"
	CodeTokenRevoked      = "TOKEN_REVOKED"
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeMissingCredential = "MISSING_CREDENTIAL"
	CodeForbidden         = "FORBIDDEN"
	CodeDeactivated       = "DEACTIVATED"
	CodeUnavailable       = "UNAVAILABLE"
)

// ReadyProbe checks backing-store health for readiness endpoints.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the HTTP layer over the authentication core.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	auth     *auth.Service
	patients auth.PatientDirectory

	rateBurst  int
	ratePerSec int
}

// New wires routes. The patients resource is the guarded read surface that
// demonstrates scope filtering; the remaining clinic CRUD lives in other
// services behind the same guard.
func New(rp ReadyProbe, version string, svc *auth.Service, patients auth.PatientDirectory) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       svc,
		patients:   patients,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)

	a.mux.HandleFunc("/patients", a.handlePatientsCollection)
	a.mux.HandleFunc("/patients/", a.handlePatientResource)

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service endpoints ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "mediboard-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "mediboard-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeFailure is the error shape carried by every protected endpoint:
// {success:false, error, code}.
func writeFailure(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// authFailure maps the auth error taxonomy onto statuses and codes. Scope
// denials deliberately collapse into FORBIDDEN so callers cannot probe for
// record existence.
func authFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		writeFailure(w, http.StatusUnauthorized, "Token expired", CodeTokenExpired)
	case errors.Is(err, auth.ErrTokenRevoked):
		writeFailure(w, http.StatusUnauthorized, "Token revoked", CodeTokenRevoked)
	case errors.Is(err, auth.ErrMissingCredential):
		writeFailure(w, http.StatusUnauthorized, "Missing credential", CodeMissingCredential)
	case errors.Is(err, auth.ErrDeactivated):
		writeFailure(w, http.StatusForbidden, "Account has been deactivated", CodeDeactivated)
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrOutOfScope):
		writeFailure(w, http.StatusForbidden, "Forbidden", CodeForbidden)
	case errors.Is(err, auth.ErrUnavailable):
		writeFailure(w, http.StatusServiceUnavailable, "Service unavailable", CodeUnavailable)
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, auth.ErrNotFound):
		writeFailure(w, http.StatusUnauthorized, "Invalid token", CodeInvalidToken)
	default:
		writeFailure(w, http.StatusInternalServerError, "Authentication error", CodeUnavailable)
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
