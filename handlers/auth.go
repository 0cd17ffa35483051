package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/socialmap/socialmap/backend/go-services/internal/auth"
	"github.com/socialmap/socialmap/backend/go-services/internal/models"
	"github.com/socialmap/socialmap/backend/go-services/internal/oidc"
	"github.com/socialmap/socialmap/backend/go-services/internal/storage"
	"github.com/socialmap/socialmap/backend/go-services/pkg/logger"
	"github.com/socialmap/socialmap/backend/go-services/pkg/middleware"
)

const (
	maxAvatarBytes   = 5 << 20
	avatarURLTTL     = 15 * time.Minute
	passwordSpecials = `!@#$%^&*(),.?":{}|<>`
)

// Authenticator is what the routes need from internal/auth.
type Authenticator interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Result, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.Result, error)
	FederatedLogin(ctx context.Context, in auth.FederatedInput) (*auth.Result, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	UpdateProfile(ctx context.Context, userID string, c auth.ProfileChanges) (*models.PublicUser, error)
	GetCurrentUser(ctx context.Context, userID string) (*models.PublicUser, error)
}

// StateSigner issues and checks the OAuth state parameter.
type StateSigner interface {
	IssueState() (string, error)
	VerifyState(raw string) error
}

// GoogleFlow is the server-side authorization-code flow.
type GoogleFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oidc.Identity, error)
}

// AvatarStore persists avatar images.
type AvatarStore interface {
	UploadFile(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	GetPresignedURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

type registerRequest struct {
	Name        string `json:"name" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=6,password_policy"`
	FederatedID string `json:"federatedId"`
}

type loginRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required_without=FederatedID"`
	FederatedID string `json:"federatedId"`
}

type federatedRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email" binding:"omitempty,email"`
	FederatedID string `json:"federatedId" binding:"required_without=IDToken"`
	Avatar      string `json:"avatar" binding:"omitempty,url"`
	IDToken     string `json:"idToken"`
}

type profileRequest struct {
	Name   *string `json:"name" binding:"omitempty,min=1"`
	Email  *string `json:"email" binding:"omitempty,email"`
	Avatar *string `json:"avatar" binding:"omitempty,url"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6,password_policy"`
}

var registerValidators sync.Once

// passwordPolicy requires an uppercase letter and one special character.
func passwordPolicy(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return strings.IndexFunc(s, unicode.IsUpper) >= 0 && strings.ContainsAny(s, passwordSpecials)
}

// AuthOption configures optional collaborators of AuthHandler.
type AuthOption func(*AuthHandler)

func WithGoogleFlow(g GoogleFlow) AuthOption { return func(h *AuthHandler) { h.google = g } }

func WithAvatarStore(s AvatarStore) AuthOption { return func(h *AuthHandler) { h.avatars = s } }

// WithFrontendURL makes the OAuth callback redirect there with the token in
// the URL fragment instead of answering with JSON.
func WithFrontendURL(u string) AuthOption {
	return func(h *AuthHandler) { h.frontendURL = strings.TrimRight(u, "/") }
}

// AuthHandler holds dependencies
type AuthHandler struct {
	auth        Authenticator
	session     *middleware.Session
	state       StateSigner
	google      GoogleFlow
	avatars     AvatarStore
	frontendURL string
}

func NewAuthHandler(a Authenticator, s *middleware.Session, st StateSigner, opts ...AuthOption) *AuthHandler {
	registerValidators.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			if err := v.RegisterValidation("password_policy", passwordPolicy); err != nil {
				logger.Errorf("register password_policy validator: %v", err)
			}
		}
	})
	h := &AuthHandler{auth: a, session: s, state: st}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the auth and admin routes on rg (normally /api). A non-nil
// limit runs before public routes and after authentication on the others, so
// anonymous callers are limited per IP and signed-in users per account.
func (h *AuthHandler) Register(rg *gin.RouterGroup, limit gin.HandlerFunc) {
	var public []gin.HandlerFunc
	authed := []gin.HandlerFunc{middleware.RequireAuth(h.session)}
	if limit != nil {
		public = append(public, limit)
		authed = append(authed, limit)
	}

	a := rg.Group("/auth")
	pub := a.Group("", public...)
	pub.POST("/register", h.RegisterUser)
	pub.POST("/login", h.Login)
	pub.POST("/google", h.GoogleLogin)
	pub.GET("/google/redirect", h.GoogleRedirect)
	pub.GET("/google/callback", h.GoogleCallback)
	pub.GET("/avatars/*key", h.Avatar)

	me := a.Group("", authed...)
	me.GET("/me", h.Me)
	me.PUT("/me", h.UpdateProfile)
	me.PUT("/me/avatar", h.UploadAvatar)
	me.PUT("/password", h.ChangePassword)

	admin := rg.Group("/admin", authed...)
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/users/:id", h.AdminGetUser)
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// writeError maps Authenticator failures onto status codes. Anything unknown
// is logged and reported as a bare 500.
func writeError(c *gin.Context, op string, err error) {
	switch {
	case auth.IsFederatedHint(err):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success":            false,
			"error":              "Please login using your social account",
			"isFederatedAccount": true,
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		fail(c, http.StatusBadRequest, auth.ErrDuplicateEmail.Error())
	case errors.Is(err, auth.ErrNotFound):
		fail(c, http.StatusNotFound, auth.ErrNotFound.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, auth.ErrUnauthorized.Error())
	case errors.Is(err, auth.ErrForbidden):
		fail(c, http.StatusForbidden, auth.ErrForbidden.Error())
	default:
		logger.WithFields(logger.Fields{"op": op, "error": err.Error()}).Error("request failed")
		fail(c, http.StatusInternalServerError, "Server error during "+op)
	}
}

// bindJSON binds and validates the body, answering 400 on failure.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "Invalid request body"
	}
	fe := ve[0]
	switch fe.Tag() {
	case "email":
		return "Please include a valid email"
	case "password_policy":
		return "Password must contain at least one uppercase letter and one special character"
	case "min":
		if fe.Field() == "Password" || fe.Field() == "NewPassword" {
			return "Password must be at least 6 characters long"
		}
		return fe.Field() + " is too short"
	case "required_without":
		if fe.Field() == "Password" {
			return "Password or federatedId is required"
		}
		return fe.Field() + " is required"
	case "url":
		return fe.Field() + " must be a valid URL"
	default:
		return fe.Field() + " is required"
	}
}

// RegisterUser creates a local account.
func (h *AuthHandler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.auth.Register(c.Request.Context(), auth.RegisterInput{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		FederatedID: req.FederatedID,
	})
	if err != nil {
		writeError(c, "registration", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "token": res.Token, "user": res.User})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.auth.Login(c.Request.Context(), auth.LoginInput{
		Email:       req.Email,
		Password:    req.Password,
		FederatedID: req.FederatedID,
	})
	if err != nil {
		writeError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": res.Token, "user": res.User})
}

// GoogleLogin accepts the result of a client-side Google sign-in.
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	var req federatedRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Email == "" && req.IDToken == "" {
		fail(c, http.StatusBadRequest, "Please include a valid email")
		return
	}
	res, err := h.auth.FederatedLogin(c.Request.Context(), auth.FederatedInput{
		Name:        displayName(req.Name, req.Email),
		Email:       req.Email,
		FederatedID: req.FederatedID,
		Avatar:      req.Avatar,
		IDToken:     req.IDToken,
	})
	if err != nil {
		writeError(c, "social authentication", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": res.Token, "user": res.User})
}

// displayName falls back to the local part of the email.
func displayName(name, email string) string {
	if name != "" {
		return name
	}
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// GoogleRedirect starts the server-side flow.
func (h *AuthHandler) GoogleRedirect(c *gin.Context) {
	if h.google == nil {
		fail(c, http.StatusServiceUnavailable, "Google sign-in is not configured")
		return
	}
	state, err := h.state.IssueState()
	if err != nil {
		writeError(c, "social authentication", err)
		return
	}
	c.Redirect(http.StatusFound, h.google.AuthCodeURL(state))
}

// GoogleCallback finishes the server-side flow and signs the user in.
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	if h.google == nil {
		fail(c, http.StatusServiceUnavailable, "Google sign-in is not configured")
		return
	}
	if e := c.Query("error"); e != "" {
		logger.WithFields(logger.Fields{"op": "google_callback", "error": e}).Warn("provider returned an error")
		fail(c, http.StatusUnauthorized, "Google authentication failed")
		return
	}
	if err := h.state.VerifyState(c.Query("state")); err != nil {
		fail(c, http.StatusBadRequest, "Invalid OAuth state")
		return
	}
	code := c.Query("code")
	if code == "" {
		fail(c, http.StatusBadRequest, "Missing authorization code")
		return
	}
	id, err := h.google.Exchange(c.Request.Context(), code)
	if err != nil {
		logger.WithFields(logger.Fields{"op": "google_callback", "error": err.Error()}).Warn("code exchange failed")
		fail(c, http.StatusUnauthorized, "Google authentication failed")
		return
	}
	res, err := h.auth.FederatedLogin(c.Request.Context(), auth.FederatedInput{
		Name:        displayName(id.Name, id.Email),
		Email:       id.Email,
		FederatedID: id.Subject,
		Avatar:      id.Picture,
		Verified:    true,
	})
	if err != nil {
		writeError(c, "social authentication", err)
		return
	}
	if h.frontendURL != "" {
		c.Redirect(http.StatusFound, h.frontendURL+"/auth/callback#token="+url.QueryEscape(res.Token))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": res.Token, "user": res.User})
}

// Me returns the caller's public record.
func (h *AuthHandler) Me(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	pu, err := h.auth.GetCurrentUser(c.Request.Context(), u.ID)
	if err != nil {
		writeError(c, "getting user profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": pu})
}

func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if !bindJSON(c, &req) {
		return
	}
	u, _ := middleware.CurrentUser(c)
	pu, err := h.auth.UpdateProfile(c.Request.Context(), u.ID, auth.ProfileChanges{
		Name:   req.Name,
		Email:  req.Email,
		Avatar: req.Avatar,
	})
	if err != nil {
		writeError(c, "updating profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": pu})
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req passwordRequest
	if !bindJSON(c, &req) {
		return
	}
	u, _ := middleware.CurrentUser(c)
	err := h.auth.ChangePassword(c.Request.Context(), u.ID, req.CurrentPassword, req.NewPassword)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		fail(c, http.StatusUnauthorized, "Current password is incorrect")
		return
	}
	if err != nil {
		writeError(c, "changing password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password updated successfully"})
}

// UploadAvatar stores the multipart "avatar" file and points the profile at it.
func (h *AuthHandler) UploadAvatar(c *gin.Context) {
	if h.avatars == nil {
		fail(c, http.StatusServiceUnavailable, "Avatar storage is not configured")
		return
	}
	fh, err := c.FormFile("avatar")
	if err != nil {
		fail(c, http.StatusBadRequest, "avatar file is required")
		return
	}
	if fh.Size > maxAvatarBytes {
		fail(c, http.StatusRequestEntityTooLarge, "avatar exceeds 5MB")
		return
	}
	ct := fh.Header.Get("Content-Type")
	if !storage.AllowedAvatarType(ct) {
		fail(c, http.StatusBadRequest, "avatar must be a JPEG, PNG, GIF or WebP image")
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, "uploading avatar", err)
		return
	}
	defer f.Close()

	u, _ := middleware.CurrentUser(c)
	key := storage.AvatarKey(u.ID, ct)
	if err := h.avatars.UploadFile(c.Request.Context(), key, f, fh.Size, ct); err != nil {
		writeError(c, "uploading avatar", err)
		return
	}
	avatar := "/api/auth/avatars/" + key
	pu, err := h.auth.UpdateProfile(c.Request.Context(), u.ID, auth.ProfileChanges{Avatar: &avatar})
	if err != nil {
		writeError(c, "uploading avatar", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": pu})
}

// Avatar redirects to a short-lived presigned URL for the stored image.
func (h *AuthHandler) Avatar(c *gin.Context) {
	if h.avatars == nil {
		fail(c, http.StatusServiceUnavailable, "Avatar storage is not configured")
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if !storage.ValidAvatarKey(key) {
		fail(c, http.StatusNotFound, "Avatar not found")
		return
	}
	u, err := h.avatars.GetPresignedURL(c.Request.Context(), key, avatarURLTTL)
	if err != nil {
		writeError(c, "loading avatar", err)
		return
	}
	c.Redirect(http.StatusFound, u)
}

// AdminGetUser looks up any user by id.
func (h *AuthHandler) AdminGetUser(c *gin.Context) {
	pu, err := h.auth.GetCurrentUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "getting user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": pu})
}
