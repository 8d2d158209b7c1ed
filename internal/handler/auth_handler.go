package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agromind-map/internal/domain/model"
)

// AuthConfig 開発用バックエンドの固定資格情報
type AuthConfig struct {
	Token    string
	Email    string
	Password string
	User     model.User
}

// AuthHandler ログインとトークン検証のHTTPハンドラー
type AuthHandler struct {
	cfg AuthConfig
}

// NewAuthHandler AuthHandlerの新しいインスタンスを作成
func NewAuthHandler(cfg AuthConfig) *AuthHandler {
	if cfg.User.Email == "" {
		cfg.User.Email = cfg.Email
	}
	return &AuthHandler{cfg: cfg}
}

// Login POST /api/auth/login - トークンとユーザーを返す
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON format: " + err.Error(),
		})
		return
	}

	if !equal(req.Email, h.cfg.Email) || !equal(req.Password, h.cfg.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_credentials",
			"message": "Email or password is incorrect",
		})
		return
	}

	user := h.cfg.User
	c.JSON(http.StatusOK, model.LoginResponse{Token: h.cfg.Token, User: &user})
}

// Me GET /api/auth/me - トークンに対応するユーザーを返す
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg.User)
}

// RequireToken Authorization: Bearer <token> を検証するミドルウェア
func (h *AuthHandler) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || !equal(token, h.cfg.Token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "A valid bearer token is required",
			})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func equal(a, b string) bool {
	return b != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
