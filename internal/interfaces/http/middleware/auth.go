package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/infrastructure/auth"
	"github.com/crosslist/backend/internal/infrastructure/logger"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
)

// Operator context keys
const (
	OperatorClaimsKey = "operator_claims"
	AuthHeaderKey     = "Authorization"
	BearerPrefix      = "Bearer "
)

// TokenValidator validates operator bearer tokens
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// OperatorAuth requires a valid operator bearer token and stores its claims
func OperatorAuth(tokens TokenValidator, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		header := c.GetHeader(AuthHeaderKey)
		if header == "" {
			abortWithError(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Missing authorization header")
			return
		}
		if !strings.HasPrefix(header, BearerPrefix) {
			abortWithError(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Invalid authorization header format")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Missing token")
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			log.Warn("Operator authentication failed",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.Error(err),
			)
			code, message := dto.ErrCodeTokenInvalid, "Invalid token"
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				code, message = dto.ErrCodeTokenExpired, "Token has expired"
			case errors.Is(err, auth.ErrTokenNotYetValid):
				message = "Token is not yet valid"
			}
			abortWithError(c, http.StatusUnauthorized, code, message)
			return
		}

		c.Set(OperatorClaimsKey, claims)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), claims.Operator()))
		c.Next()
	}
}

// RequireScope rejects operators whose token lacks scope. It must run after OperatorAuth.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetOperatorClaims(c)
		if claims == nil {
			abortWithError(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Authentication required")
			return
		}
		if !claims.HasScope(scope) {
			abortWithError(c, http.StatusForbidden, dto.ErrCodeForbidden, "Token lacks the "+scope+" scope")
			return
		}
		c.Next()
	}
}

// GetOperatorClaims returns the claims stored by OperatorAuth
func GetOperatorClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(OperatorClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// GetOperator returns the authenticated operator or ""
func GetOperator(c *gin.Context) string {
	if claims := GetOperatorClaims(c); claims != nil {
		return claims.Operator()
	}
	return ""
}
