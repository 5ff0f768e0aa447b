// Package accounts implements registration, authentication and profile
// lookups for storefront identities.
package accounts

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/beatforge/storefront/internal/apperr"
	"github.com/beatforge/storefront/internal/app/auth"
	"github.com/beatforge/storefront/internal/app/domain/account"
	"github.com/beatforge/storefront/internal/app/storage"
	"github.com/beatforge/storefront/pkg/logger"
)

// Service manages storefront identities.
type Service struct {
	store  storage.AccountStore
	tokens *auth.Manager
	log    *logger.Logger
}

// New constructs an accounts service.
func New(store storage.AccountStore, tokens *auth.Manager, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, tokens: tokens, log: log}
}

// NormalizeEmail applies the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new account with role user. The password is hashed with
// bcrypt before it touches storage and is never logged.
func (s *Service) Register(ctx context.Context, email, password, firstName, lastName string) (account.Account, error) {
	email = NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return account.Account{}, apperr.Validation("email is invalid")
	}
	if len(password) < 8 {
		return account.Account{}, apperr.Validation("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return account.Account{}, apperr.Internal(err)
	}

	acct, err := s.store.CreateAccount(ctx, account.Account{
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Role:         account.RoleUser,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return account.Account{}, apperr.ErrDuplicateEmail
		}
		return account.Account{}, apperr.Internal(err)
	}

	s.log.WithField("account_id", acct.ID).Info("account registered")
	return acct, nil
}

// Authenticate verifies credentials and issues a signed session token. The
// same error covers unknown email and wrong password so callers cannot probe
// which addresses are registered.
func (s *Service) Authenticate(ctx context.Context, email, password string) (account.Account, string, error) {
	acct, err := s.store.GetAccountByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, "", apperr.ErrInvalidCredentials
		}
		return account.Account{}, "", apperr.Internal(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return account.Account{}, "", apperr.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(acct)
	if err != nil {
		return account.Account{}, "", err
	}
	return acct, token, nil
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id string) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, apperr.NotFound("account not found")
		}
		return account.Account{}, apperr.Internal(err)
	}
	return acct, nil
}
