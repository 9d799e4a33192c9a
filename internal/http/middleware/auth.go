package middleware

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/rocoloco/brandguard-backend/internal/platform/envutil"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
	// AUTH_DISABLED is meant for local development only.
	disabled bool
}

func NewAuthMiddleware(log *logger.Logger) (*AuthMiddleware, error) {
	disabled := envutil.Bool("AUTH_DISABLED", false)
	secret := strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET"))
	if secret == "" && !disabled {
		return nil, fmt.Errorf("missing AUTH_JWT_SECRET")
	}
	return &AuthMiddleware{
		log:      log.With("Middleware", "AuthMiddleware"),
		secret:   []byte(secret),
		disabled: disabled,
	}, nil
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.disabled {
			c.Next()
			return
		}

		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return am.secret, nil
		})
		if err != nil {
			am.log.Debug("Token rejected", "error", err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}

		if sub, _ := claims.GetSubject(); sub != "" {
			c.Set("subject", sub)
		}
		c.Next()
	}
}

// extractToken prefers the query param so event-stream clients, which
// cannot set headers, can still authenticate.
func extractToken(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
