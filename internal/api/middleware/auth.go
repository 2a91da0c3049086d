package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/identity"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/service"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/types"
)

const identityKey = "identity"

// AuthMiddleware validates the bearer token and attaches the caller to both
// the gin context and the request context.
func AuthMiddleware(verifier *identity.Verifier, log *zap.Logger) gin.HandlerFunc {
	log = log.Named("auth")
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Debug("missing authorization header", zap.String("path", c.Request.URL.Path))
			abortUnauthorized(c, "Authorization header required")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			log.Debug("invalid header format", zap.String("path", c.Request.URL.Path))
			abortUnauthorized(c, "Invalid authorization header format")
			return
		}

		caller, err := verifier.Verify(parts[1])
		if err != nil {
			log.Debug("invalid token", zap.String("path", c.Request.URL.Path), zap.Error(err))
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(identityKey, caller)
		c.Request = c.Request.WithContext(identity.WithContext(c.Request.Context(), caller))
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   string(service.ErrAuthentication),
		"message": message,
	})
}

// RequireRole rejects callers below role. It must run after AuthMiddleware.
func RequireRole(role types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := GetIdentity(c)
		if !ok {
			abortUnauthorized(c, "User not authenticated")
			return
		}
		if !caller.AtLeast(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   string(service.ErrAuthorization),
				"message": "requires role " + string(role),
			})
			return
		}
		c.Next()
	}
}

// GetIdentity returns the caller set by AuthMiddleware.
func GetIdentity(c *gin.Context) (identity.Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return identity.Identity{}, false
	}
	caller, ok := v.(identity.Identity)
	return caller, ok
}

// RequestLogger logs all incoming requests with details
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			errs := make([]error, len(c.Errors))
			for i, e := range c.Errors {
				errs[i] = e.Err
			}
			fields = append(fields, zap.Errors("errors", errs))
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
