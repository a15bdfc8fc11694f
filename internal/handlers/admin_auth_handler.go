package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/config"
	"github.com/toncenter/examples/internal/types"
)

const (
	adminRole   = "admin"
	tokenIssuer = "withdrawer-admin"
)

// AdminAuthHandler operator login (password + TOTP) issuing short-lived JWTs
type AdminAuthHandler struct {
	username   string
	password   string
	totpSecret string
	jwtSecret  []byte
	tokenTTL   time.Duration
}

// AdminLoginResponse operator login response
type AdminLoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// AdminJWTClaims operator JWT claims
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminAuthHandler creates the handler from the admin config section
func NewAdminAuthHandler(cfg config.AdminConfig) *AdminAuthHandler {
	if cfg.TOTPSecret == "" || cfg.Password == "" {
		logrus.Warn("⚠️ Admin password or TOTP secret not configured, operator login is disabled")
	}
	if cfg.JWTSecret == "" {
		logrus.Warn("⚠️ Admin JWT secret not configured, operator endpoints reject every token")
	}

	username := cfg.Username
	if username == "" {
		username = "admin"
	}
	ttl := time.Duration(cfg.TokenTTL) * time.Hour
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	return &AdminAuthHandler{
		username:   username,
		password:   cfg.Password,
		totpSecret: cfg.TOTPSecret,
		jwtSecret:  []byte(cfg.JWTSecret),
		tokenTTL:   ttl,
	}
}

// AdminLoginHandler POST /api/admin/login
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if h.totpSecret == "" || h.password == "" || len(h.jwtSecret) == 0 {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{
			Success: false,
			Message: "Server misconfiguration: admin credentials not set",
		})
		return
	}

	var req types.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, AdminLoginResponse{
			Success: false,
			Message: fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) == 1
	if !userOK || !passOK {
		logrus.WithField("username", req.Username).Warn("Admin login rejected: invalid credentials")
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid credentials",
		})
		return
	}

	if !totp.Validate(req.TOTPCode, h.totpSecret) {
		logrus.WithField("username", req.Username).Warn("Admin login rejected: invalid TOTP code")
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid TOTP code",
		})
		return
	}

	token, err := h.GenerateToken(req.Username, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
		return
	}

	logrus.WithField("username", req.Username).Info("🔐 Admin login successful")
	c.JSON(http.StatusOK, AdminLoginResponse{
		Success: true,
		Token:   token,
		Message: "Login successful",
	})
}

// GenerateTOTPSecretHandler issues a fresh TOTP secret while none is configured
func (h *AdminAuthHandler) GenerateTOTPSecretHandler(c *gin.Context) {
	if h.totpSecret != "" {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "TOTP secret already configured",
		})
		return
	}

	key, err := GenerateTOTPKey(h.username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate TOTP secret",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"secret":  key.Secret(),
		"url":     key.URL(),
		"message": "Save this secret to ADMIN_TOTP_SECRET and restart the service.",
	})
}

// GenerateTOTPKey creates a TOTP key for the operator account
func GenerateTOTPKey(account string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      "Withdrawer Admin",
		AccountName: account,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// GenerateToken signs an operator JWT valid from now for the configured TTL
func (h *AdminAuthHandler) GenerateToken(username string, now time.Time) (string, error) {
	if len(h.jwtSecret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	claims := AdminJWTClaims{
		Username: username,
		Role:     adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses an operator JWT and returns its username and role
func (h *AdminAuthHandler) ValidateToken(tokenString string) (string, string, error) {
	if len(h.jwtSecret) == 0 {
		return "", "", errors.New("jwt secret not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdminJWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*AdminJWTClaims)
	if !ok || !token.Valid {
		return "", "", errors.New("invalid token")
	}
	return claims.Username, claims.Role, nil
}
