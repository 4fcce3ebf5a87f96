package auth

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/apperr"
	"github.com/itranswarp/backend/pkg/request"
	"github.com/itranswarp/backend/pkg/response"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=100"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Name     string `json:"name" binding:"required,max=100"`
}

// CreateUserRequest is the body for POST /api/users.
type CreateUserRequest struct {
	RegisterRequest
	Role models.Role `json:"role" binding:"required"`
}

// Normalize trims the fields and lower-cases the email.
func (r *RegisterRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
	r.Name = strings.TrimSpace(r.Name)
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Normalize trims and lower-cases the email.
func (r *LoginRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token     string            `json:"token"`
	ExpiresAt int64             `json:"expires_at"`
	User      models.UserPublic `json:"user"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	users  Users
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(users Users, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, jwt: jwt, logger: logger}
}

// Register handles POST /auth/register. Self-registered accounts are subscribers.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := request.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	user, err := createUser(c.Request.Context(), h.users, req.Email, req.Password, req.Name, models.RoleSubscriber)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondToken(c, user, true)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := request.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	user, err := h.users.GetByEmail(c.Request.Context(), normalizeEmail(req.Email))
	if err != nil {
		response.Error(c, err)
		return
	}
	if user == nil || !CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "Invalid email or password.")
		return
	}
	h.respondToken(c, user, false)
}

// List handles GET /api/users (admin). Used to pick the sponsor of a reservation.
func (h *Handler) List(c *gin.Context) {
	list, err := h.users.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if list == nil {
		list = []models.UserPublic{}
	}
	response.OK(c, gin.H{"users": list})
}

// Create handles POST /api/users (admin). Any role may be assigned.
func (h *Handler) Create(c *gin.Context) {
	var req CreateUserRequest
	if err := request.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	if !req.Role.Valid() {
		response.BadRequest(c, "role", "Invalid role.")
		return
	}
	user, err := createUser(c.Request.Context(), h.users, req.Email, req.Password, req.Name, req.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("user created", zap.String("user_id", user.ID.String()), zap.String("role", string(user.Role)))
	response.Created(c, user.ToPublic())
}

func (h *Handler) respondToken(c *gin.Context, user *models.User, created bool) {
	token, expires, err := h.jwt.Generate(user)
	if err != nil {
		h.logger.Error("generate token failed", zap.Error(err))
		response.Error(c, err)
		return
	}
	body := TokenResponse{Token: token, ExpiresAt: expires.Unix(), User: user.ToPublic()}
	if created {
		response.Created(c, body)
		return
	}
	response.OK(c, body)
}

// EnsureAdmin creates the bootstrap administrator when no account uses email yet.
func EnsureAdmin(ctx context.Context, users Users, email, password string, logger *zap.Logger) error {
	if email == "" || password == "" {
		return nil
	}
	existing, err := users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Role != models.RoleAdmin {
			logger.Warn("bootstrap admin email belongs to a non-admin account", zap.String("email", existing.Email))
		}
		return nil
	}
	u, err := createUser(ctx, users, email, password, "Administrator", models.RoleAdmin)
	if err != nil {
		return err
	}
	logger.Info("bootstrap admin created", zap.String("user_id", u.ID.String()), zap.String("email", u.Email))
	return nil
}

func createUser(ctx context.Context, users Users, email, password, name string, role models.Role) (*models.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidParam("name", "Name is required.")
	}
	existing, err := users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.InvalidParam("email", "Email already registered.")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return users.Create(ctx, email, hash, name, role)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
