package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/unireg-api/internal/models"
	appErrors "github.com/noah-isme/unireg-api/pkg/errors"
	"github.com/noah-isme/unireg-api/pkg/response"
)

// ContextIdentityKey is the gin context key storing the resolved identity.
const ContextIdentityKey = "currentIdentity"

const (
	emailHeader = "X-User-Email"
	roleHeader  = "X-User-Role"
)

// Identity resolves the caller's email and role from either the override
// headers or decoded bearer-token claims, and rejects the request when no
// identity can be established. Signature validation is the identity
// provider's job; the claims are trusted as delivered by the gateway.
//
// A missing or unknown role never falls back to a default: the request is
// treated as unauthenticated.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := resolve(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

// IdentityFromContext returns the resolved identity, if any.
func IdentityFromContext(c *gin.Context) (models.Identity, bool) {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return models.Identity{}, false
	}
	identity, ok := value.(models.Identity)
	return identity, ok
}

func resolve(c *gin.Context) (models.Identity, bool) {
	email := models.NormalizeEmail(c.GetHeader(emailHeader))
	rawRole := c.GetHeader(roleHeader)

	if email == "" || rawRole == "" {
		claimEmail, claimRole := bearerClaims(c)
		if email == "" {
			email = claimEmail
		}
		if rawRole == "" {
			rawRole = claimRole
		}
	}

	if email == "" {
		return models.Identity{}, false
	}
	role, ok := models.ValidRole(rawRole)
	if !ok {
		return models.Identity{}, false
	}

	return models.Identity{Email: email, Role: role}, true
}

// bearerClaims decodes the bearer token payload without verifying the
// signature and extracts the email and role claims.
func bearerClaims(c *gin.Context) (email, role string) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(parts[1], claims); err != nil {
		return "", ""
	}

	if v, ok := claims["email"].(string); ok {
		email = models.NormalizeEmail(v)
	}
	if v, ok := claims["custom:role"].(string); ok {
		role = v
	} else if v, ok := claims["role"].(string); ok {
		role = v
	}
	return email, role
}
