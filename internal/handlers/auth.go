package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"quiz-session-backend/internal/models"
	"quiz-session-backend/internal/services"
)

// AuthHandler serves host accounts. Participants never authenticate.
type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type CredentialsRequest struct {
	Username string `json:"username" binding:"required,min=3,max=100" example:"host1"`
	Password string `json:"password" binding:"required,min=6" example:"password123"`
}

type HostProfile struct {
	ID        uint      `json:"id" example:"1"`
	Username  string    `json:"username" example:"host1"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthResponse carries the bearer token and the host it identifies, so a
// dashboard can scope its session list without a second round trip.
type AuthResponse struct {
	Token     string      `json:"token" example:"eyJhbGciOiJIUzI1NiIs..."`
	ExpiresAt time.Time   `json:"expires_at"`
	Host      HostProfile `json:"host"`
}

func profileOf(host models.Host) HostProfile {
	return HostProfile{ID: host.ID, Username: host.Username, CreatedAt: host.CreatedAt}
}

func authResponse(s *services.HostSession) AuthResponse {
	return AuthResponse{Token: s.Token, ExpiresAt: s.ExpiresAt, Host: profileOf(s.Host)}
}

// Register godoc
// @Summary      Register a host
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body CredentialsRequest true "Credentials"
// @Success      201 {object} AuthResponse
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := h.authService.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, authResponse(session))
}

// Login godoc
// @Summary      Login
// @Description  Wrong username and wrong password both answer 401
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body CredentialsRequest true "Credentials"
// @Success      200 {object} AuthResponse
// @Failure      401 {object} ErrorResponse
// @Router       /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if StatusFor(err) == http.StatusForbidden {
			_ = c.Error(err)
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse(session))
}

// Me godoc
// @Summary      Current host
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} HostProfile
// @Failure      401 {object} ErrorResponse
// @Router       /api/v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	host, err := h.authService.GetHost(c.Request.Context(), hostID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileOf(*host))
}
