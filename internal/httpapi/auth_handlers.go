package httpapi

import (
	"errors"
	"net/http"
	"time"

	"mediboard.org/internal/auth"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userPayload struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Kind        string `json:"kind"`
	TenantID    string `json:"tenantId"`
	DisplayName string `json:"displayName"`
}

type tokenPairResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         userPayload `json:"user"`
}

func pairResponse(pair auth.TokenPair, p *auth.Principal) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User: userPayload{
			ID:          p.ID,
			Role:        string(p.Role),
			Kind:        string(p.Kind),
			TenantID:    p.TenantID,
			DisplayName: p.DisplayName,
		},
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, principal, err := a.auth.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if locked, ok := auth.AsLocked(err); ok {
			writeJSON(w, http.StatusLocked, map[string]any{
				"error": "Locked",
				"until": locked.Until.UTC().Format(time.RFC3339),
			})
			return
		}
		switch {
		case errors.Is(err, auth.ErrDeactivated):
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "Deactivated"})
		case errors.Is(err, auth.ErrUnavailable):
			writeFailure(w, http.StatusServiceUnavailable, "Service unavailable", CodeUnavailable)
		default:
			// Unknown identifier and wrong password share one shape.
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "InvalidCredentials"})
		}
		return
	}

	writeJSON(w, http.StatusOK, pairResponse(pair, principal))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refreshToken is required")
		return
	}

	pair, principal, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		authFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse(pair, principal))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		authFailure(w, auth.ErrMissingCredential)
		return
	}

	// The refresh token is optional; an empty body is fine.
	var req logoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := a.auth.Logout(r.Context(), token, req.RefreshToken); err != nil {
		authFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
