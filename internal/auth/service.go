package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/socialmap/socialmap/backend/go-services/internal/models"
	"github.com/socialmap/socialmap/backend/go-services/internal/oidc"
	"github.com/socialmap/socialmap/backend/go-services/internal/users"
	"github.com/socialmap/socialmap/backend/go-services/pkg/logger"
	"github.com/socialmap/socialmap/backend/go-services/pkg/metrics"
)

// CredentialStore is the subset of users.Service the Authenticator drives.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string, withHash bool) (*models.User, error)
	FindByEmailAndFederatedID(ctx context.Context, email, federatedID string) (*models.User, error)
	FindByID(ctx context.Context, id string, withHash bool) (*models.User, error)
	Create(ctx context.Context, in users.NewUser) (*models.User, error)
	Update(ctx context.Context, id string, c users.Changes) (*models.User, error)
	UpdatePassword(ctx context.Context, id, plaintext string) error
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// TokenIssuer signs bearer tokens.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// Result is what a successful sign-in returns.
type Result struct {
	Token string            `json:"token"`
	User  models.PublicUser `json:"user"`
}

type RegisterInput struct {
	Name        string
	Email       string
	Password    string
	FederatedID string
}

type LoginInput struct {
	Email       string
	Password    string
	FederatedID string
}

// FederatedInput describes a sign-in vouched for by an identity provider.
// IDToken is the provider's raw token, checked when a verifier is configured.
// Verified marks input the caller already obtained from a verified token.
type FederatedInput struct {
	Name        string
	Email       string
	FederatedID string
	Avatar      string
	IDToken     string
	Verified    bool
}

// ProfileChanges holds the optional fields of a profile update.
type ProfileChanges struct {
	Name   *string
	Email  *string
	Avatar *string
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithVerifier checks federated ID tokens against an identity provider.
func WithVerifier(v oidc.IdentityVerifier) Option {
	return func(a *Authenticator) { a.verifier = v }
}

// WithRequireVerified makes a failed identity-provider check reject the
// federated login instead of only being logged.
func WithRequireVerified(required bool) Option {
	return func(a *Authenticator) { a.requireVerified = required }
}

// Authenticator implements registration, the login decision table, federated
// login with account linking, and the authenticated profile operations.
type Authenticator struct {
	store           CredentialStore
	hasher          PasswordHasher
	tokens          TokenIssuer
	verifier        oidc.IdentityVerifier
	requireVerified bool

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthenticator(store CredentialStore, hasher PasswordHasher, tokens TokenIssuer, opts ...Option) *Authenticator {
	a := &Authenticator{store: store, hasher: hasher, tokens: tokens}
	for _, o := range opts {
		o(a)
	}
	return a
}

func observe(op string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrDuplicateEmail),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrUnauthorized):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	metrics.AuthRequests.WithLabelValues(op, outcome).Inc()
}

func (a *Authenticator) issue(u *models.User) (*Result, error) {
	tok, err := a.tokens.Issue(u.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Result{Token: tok, User: u.Public()}, nil
}

// Register creates a local account. A supplied federatedId is stored next to
// the password hash so both sign-in paths work afterwards.
func (a *Authenticator) Register(ctx context.Context, in RegisterInput) (res *Result, err error) {
	defer func() { observe("register", err) }()

	existing, err := a.store.FindByEmail(ctx, in.Email, false)
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateEmail
	}
	u, err := a.store.Create(ctx, users.NewUser{
		Name:        in.Name,
		Email:       in.Email,
		Password:    in.Password,
		FederatedID: in.FederatedID,
	})
	if errors.Is(err, users.ErrDuplicateEmail) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, err
	}
	logger.WithFields(logger.Fields{"op": "register", "user_id": u.ID}).Info("user registered")
	return a.issue(u)
}

// Login runs the password or federated-id path. Unknown emails, wrong
// passwords and federated-id mismatches all fail with ErrInvalidCredentials;
// the only distinguishable case is a password attempt against an account that
// can only sign in through its identity provider (ErrFederatedAccount).
func (a *Authenticator) Login(ctx context.Context, in LoginInput) (res *Result, err error) {
	defer func() { observe("login", err) }()

	u, err := a.store.FindByEmail(ctx, in.Email, true)
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	if in.FederatedID != "" {
		if u == nil {
			return nil, ErrInvalidCredentials
		}
		match, err := a.store.FindByEmailAndFederatedID(ctx, in.Email, in.FederatedID)
		if err != nil {
			return nil, fmt.Errorf("lookup federated id: %w", err)
		}
		if match == nil {
			return nil, ErrInvalidCredentials
		}
		return a.issue(match)
	}

	if u != nil && u.FederatedID != "" && !u.HasPassword() {
		logger.WithFields(logger.Fields{"op": "login", "user_id": u.ID}).Debug("password attempt on federated account")
		return nil, ErrFederatedAccount
	}
	if u == nil || !u.HasPassword() {
		a.hasher.Verify(in.Password, a.dummy())
		return nil, ErrInvalidCredentials
	}
	if !a.hasher.Verify(in.Password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	u.PasswordHash = ""
	return a.issue(u)
}

// dummy returns a throwaway hash so that a miss costs about as much as a
// wrong password.
func (a *Authenticator) dummy() string {
	a.dummyOnce.Do(func() {
		h, err := a.hasher.Hash("not-a-real-password")
		if err != nil {
			logger.Warnf("auth: dummy hash unavailable: %v", err)
			return
		}
		a.dummyHash = h
	})
	return a.dummyHash
}

// FederatedLogin signs in through an identity provider, linking the
// federated id to an existing account with the same email or creating a
// password-less one. An account already linked to another federated id is
// returned unchanged.
func (a *Authenticator) FederatedLogin(ctx context.Context, in FederatedInput) (res *Result, err error) {
	defer func() { observe("federated_login", err) }()

	if err := a.checkIdentity(ctx, &in); err != nil {
		return nil, err
	}
	if in.Email == "" || in.FederatedID == "" {
		return nil, ErrInvalidCredentials
	}
	log := logger.WithFields(logger.Fields{"op": "federated_login", "email": models.NormalizeEmail(in.Email)})

	u, err := a.store.FindByEmail(ctx, in.Email, false)
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if u == nil {
		u, err = a.store.Create(ctx, users.NewUser{
			Name:        in.Name,
			Email:       in.Email,
			FederatedID: in.FederatedID,
			Avatar:      in.Avatar,
		})
		switch {
		case errors.Is(err, users.ErrDuplicateEmail):
			// lost a race with a concurrent first login; use the winner's record
			u, err = a.store.FindByEmail(ctx, in.Email, false)
			if err != nil {
				return nil, fmt.Errorf("re-read after duplicate: %w", err)
			}
			if u == nil {
				return nil, fmt.Errorf("user for %q vanished after duplicate insert", in.Email)
			}
		case err != nil:
			return nil, err
		default:
			log.WithField("user_id", u.ID).Info("federated user created")
		}
	}

	if u.FederatedID == "" {
		fid := in.FederatedID
		c := users.Changes{FederatedID: &fid}
		if in.Avatar != "" {
			avatar := in.Avatar
			c.Avatar = &avatar
		}
		linked, err := a.store.Update(ctx, u.ID, c)
		if err != nil {
			return nil, fmt.Errorf("link federated id: %w", err)
		}
		log.WithField("user_id", u.ID).Info("federated id linked to existing account")
		u = linked
	}
	return a.issue(u)
}

// checkIdentity verifies in.IDToken when both a token and a verifier are
// present. Claims fill in missing request fields; a failure is only fatal
// when verification is required.
func (a *Authenticator) checkIdentity(ctx context.Context, in *FederatedInput) error {
	if in.Verified {
		return nil
	}
	if a.verifier == nil || in.IDToken == "" {
		if a.requireVerified {
			return ErrInvalidCredentials
		}
		return nil
	}
	id, err := a.verifier.Verify(ctx, in.IDToken)
	if err == nil {
		if in.FederatedID == "" {
			in.FederatedID = id.Subject
		}
		if in.Email == "" {
			in.Email = id.Email
		}
		switch {
		case !id.EmailVerified:
			err = errors.New("identity provider has not verified the email")
		case id.Subject != in.FederatedID || models.NormalizeEmail(id.Email) != models.NormalizeEmail(in.Email):
			err = errors.New("token identity does not match request")
		}
	}
	if err != nil {
		metrics.FederatedVerificationFailures.Inc()
		logger.WithFields(logger.Fields{"op": "federated_login", "error": err.Error()}).Warn("identity token verification failed")
		if a.requireVerified {
			return ErrInvalidCredentials
		}
	}
	return nil
}

// ChangePassword replaces the password after checking the current one.
func (a *Authenticator) ChangePassword(ctx context.Context, userID, current, next string) (err error) {
	defer func() { observe("change_password", err) }()

	u, err := a.store.FindByID(ctx, userID, true)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return ErrNotFound
	}
	if !u.HasPassword() || !a.hasher.Verify(current, u.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := a.store.UpdatePassword(ctx, userID, next); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	logger.WithFields(logger.Fields{"op": "change_password", "user_id": userID}).Info("password changed")
	return nil
}

// UpdateProfile applies the supplied fields. Email uniqueness is not checked
// up front; a collision surfaces from the store as ErrDuplicateEmail.
func (a *Authenticator) UpdateProfile(ctx context.Context, userID string, c ProfileChanges) (pu *models.PublicUser, err error) {
	defer func() { observe("update_profile", err) }()

	u, err := a.store.Update(ctx, userID, users.Changes{Name: c.Name, Email: c.Email, Avatar: c.Avatar})
	switch {
	case errors.Is(err, users.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, users.ErrDuplicateEmail):
		return nil, ErrDuplicateEmail
	case err != nil:
		return nil, err
	}
	p := u.Public()
	return &p, nil
}

// GetCurrentUser returns the public record for userID.
func (a *Authenticator) GetCurrentUser(ctx context.Context, userID string) (*models.PublicUser, error) {
	u, err := a.store.FindByID(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}
	p := u.Public()
	return &p, nil
}
