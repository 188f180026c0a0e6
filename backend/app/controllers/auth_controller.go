package controllers

import (
	"encoding/json"
	"net/http"

	"shaka-fleet/backend/app/apperr"
	"shaka-fleet/backend/app/dto"
	jwtutil "shaka-fleet/backend/app/jwt"
	"shaka-fleet/backend/app/middleware"
	"shaka-fleet/backend/app/repo"
	"shaka-fleet/backend/app/services"
	"shaka-fleet/backend/global"
)

type AuthController struct {
	Users    *services.UserService
	Signer   *jwtutil.Signer
	Sessions *repo.SessionRepository // nil when redis is disabled
}

func NewAuthController(users *services.UserService, signer *jwtutil.Signer, sessions *repo.SessionRepository) *AuthController {
	return &AuthController{Users: users, Signer: signer, Sessions: sessions}
}

func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("body", "malformed JSON"))
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, apperr.Validation("credentials", "username and password are required"))
		return
	}
	u, err := c.Users.ValidateCredentials(req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	token, id, err := c.Signer.Sign(u.ID, u.Username, u.Role)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token error"})
		return
	}
	if c.Sessions != nil {
		if err := c.Sessions.Save(r.Context(), id, u.Username, c.Signer.TTL()); err != nil {
			global.Logger.Error().Err(err).Msg("save session")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session error"})
			return
		}
	}
	global.Logger.Info().Str("user", u.Username).Msg("operator logged in")
	writeJSON(w, http.StatusOK, dto.TokenResponse{AccessToken: token})
}

// Logout revokes the caller's session. Without a session store tokens
// simply expire.
func (c *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if c.Sessions != nil {
		if err := c.Sessions.Revoke(r.Context(), claims.ID); err != nil {
			global.Logger.Error().Err(err).Msg("revoke session")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
