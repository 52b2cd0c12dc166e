package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// tokenSource extracts a raw token from a request, or "".
type tokenSource func(c *gin.Context) string

func fromBearerHeader(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// fromQuery serves browsers' WebSocket and EventSource clients, which cannot
// set headers.
func fromQuery(c *gin.Context) string {
	return c.Query("token")
}

// RequireProctorJWT admits admin tokens carrying every listed permission.
// The token comes from the Authorization header or ?token=.
func RequireProctorJWT(authService *service.AuthService, permissions ...string) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeAdmin, response.ErrProctorAccessOnly, permissions,
		fromBearerHeader, fromQuery)
}

// RequireStudentWSAuth admits learner tokens passed as ?token= on a
// WebSocket upgrade request.
func RequireStudentWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeStudent, response.ErrStudentAccessOnly, nil,
		fromQuery)
}

func requireToken(
	authService *service.AuthService,
	want service.TokenType,
	wrongType response.ErrCode,
	permissions []string,
	sources ...tokenSource,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var raw string
		for _, src := range sources {
			if raw = src(c); raw != "" {
				break
			}
		}
		if raw == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(raw)
		if err != nil {
			code := response.ErrTokenInvalid
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = response.ErrTokenExpired
			}
			response.AbortFail(c, http.StatusUnauthorized, code)
			return
		}

		if claims.TokenType != want {
			response.AbortFail(c, http.StatusForbidden, wrongType)
			return
		}
		for _, p := range permissions {
			if !claims.HasPermission(p) {
				response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
				return
			}
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}
