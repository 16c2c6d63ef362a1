package auth

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/herald/internal/httputil"
)

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers public auth routes (no auth middleware required).
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/register", h.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/login", h.handleLogin).Methods(http.MethodPost)
}

// RegisterProtectedRoutes registers auth routes that require authentication.
func (h *Handlers) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/api/users/me", h.handleMe).Methods(http.MethodGet)
	r.HandleFunc("/api/logout", h.handleLogout).Methods(http.MethodPost)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        *User  `json:"user,omitempty"`
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusCreated, user)
	case errors.Is(err, ErrEmailTaken):
		httputil.WriteError(w, http.StatusBadRequest, "email already registered")
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.service.log.Error().Err(err).Msg("registration failed")
		httputil.WriteError(w, http.StatusInternalServerError, "registration failed")
	}
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	token, user, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			h.service.log.Error().Err(err).Msg("login failed")
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		httputil.WriteError(w, http.StatusUnauthorized, "incorrect email or password")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	})
}

func (h *Handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.service.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "user not found")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.service.Logout(r.Context(), claims); err != nil {
		h.service.log.Error().Err(err).Msg("logout failed")
		httputil.WriteError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}
