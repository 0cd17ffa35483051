package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/socialmap/socialmap/backend/go-services/internal/models"
	"github.com/socialmap/socialmap/backend/go-services/pkg/logger"
)

// UserKey is the gin context key holding the authenticated *models.User.
const UserKey = "user"

const msgNotAuthorized = "Not authorized to access this route"

// Reason explains why a request was not authenticated.
type Reason string

const (
	ReasonMissingToken Reason = "missing_token"
	ReasonInvalidToken Reason = "invalid_token"
	ReasonUserNotFound Reason = "user_not_found"
	ReasonLookupFailed Reason = "lookup_failed"
)

// Result is either Authenticated (User set) or Rejected (Reason set).
type Result struct {
	User   *models.User
	Reason Reason
}

func (r Result) Authenticated() bool { return r.User != nil }

// TokenVerifier maps a bearer token to a user id.
type TokenVerifier interface {
	Verify(raw string) (string, error)
}

// UserLookup loads the user a token refers to.
type UserLookup interface {
	FindByID(ctx context.Context, id string, withHash bool) (*models.User, error)
}

// Session resolves request headers to the calling user.
type Session struct {
	tokens TokenVerifier
	users  UserLookup
}

func NewSession(tokens TokenVerifier, users UserLookup) *Session {
	return &Session{tokens: tokens, users: users}
}

// Resolve reads the Authorization header, verifies the token and loads the
// user without its password hash.
func (s *Session) Resolve(ctx context.Context, h http.Header) Result {
	auth := h.Get("Authorization")
	if auth == "" {
		return Result{Reason: ReasonMissingToken}
	}
	// Expect 'Bearer <token>'
	var token string
	if n, _ := fmt.Sscanf(auth, "Bearer %s", &token); n != 1 {
		return Result{Reason: ReasonMissingToken}
	}
	id, err := s.tokens.Verify(token)
	if err != nil {
		return Result{Reason: ReasonInvalidToken}
	}
	u, err := s.users.FindByID(ctx, id, false)
	if err != nil {
		logger.WithFields(logger.Fields{"user_id": id, "error": err.Error()}).Error("session user lookup failed")
		return Result{Reason: ReasonLookupFailed}
	}
	if u == nil {
		return Result{Reason: ReasonUserNotFound}
	}
	return Result{User: u}
}

type userCtxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext returns the user stored by RequireAuth, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userCtxKey{}).(*models.User)
	return u, ok && u != nil
}

// CurrentUser returns the authenticated user from the gin context.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*models.User)
	return u, ok && u != nil
}

// RequireAuth rejects requests without a valid bearer token for an existing
// user. All rejections share one 401 body.
func RequireAuth(s *Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := s.Resolve(c.Request.Context(), c.Request.Header)
		if !res.Authenticated() {
			if res.Reason == ReasonLookupFailed {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Server error in authentication"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": msgNotAuthorized})
			return
		}
		c.Set(UserKey, res.User)
		c.Request = c.Request.WithContext(WithUser(c.Request.Context(), res.User))
		c.Next()
	}
}

// RequireRoles must run after RequireAuth; users outside roles get 403.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": msgNotAuthorized})
			return
		}
		for _, r := range roles {
			if u.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   fmt.Sprintf("User role %s is not authorized to access this route", u.Role),
		})
	}
}
