package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketplace-service/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	userContextKey = "user"
	roleAdmin      = "admin"
	emailClaim     = "email"
	roleClaim      = "role"
)

// User is the caller identified by a bearer token
type User struct {
	ID    int64
	Email string
	Role  string
}

// Authenticator verifies HS256 bearer tokens
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// IssueToken signs a token for a user
func (a *Authenticator) IssueToken(user User, ttl time.Duration) (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(a.issuer).
		Subject(strconv.FormatInt(user.ID, 10)).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim(emailClaim, user.Email).
		Claim(roleClaim, user.Role).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, a.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// Verify parses and validates a raw token
func (a *Authenticator) Verify(raw string) (*User, error) {
	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, a.secret), jwt.WithIssuer(a.issuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	id, err := strconv.ParseInt(tok.Subject(), 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid subject %q", tok.Subject())
	}

	user := &User{ID: id}
	claims := tok.PrivateClaims()
	if email, ok := claims[emailClaim].(string); ok {
		user.Email = email
	}
	if role, ok := claims[roleClaim].(string); ok {
		user.Role = role
	}
	return user, nil
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireAuth rejects requests without a valid bearer token
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abortWithError(c, apierror.Unauthorized("Authentication required"))
			return
		}
		user, err := a.Verify(raw)
		if err != nil {
			abortWithError(c, apierror.Unauthorized("Invalid token"))
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

// OptionalAuth identifies the caller when a valid token is present
func (a *Authenticator) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearerToken(c); raw != "" {
			if user, err := a.Verify(raw); err == nil {
				c.Set(userContextKey, user)
			}
		}
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role. Use after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || user.Role != roleAdmin {
			abortWithError(c, apierror.Forbidden("Administrator access required"))
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, _ := v.(*User)
	return user
}

// viewerID is the caller's id, or 0 for anonymous requests
func viewerID(c *gin.Context) int64 {
	if user := currentUser(c); user != nil {
		return user.ID
	}
	return 0
}
