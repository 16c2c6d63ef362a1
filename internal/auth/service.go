package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// RegistrationHook is invoked once for every successfully registered user.
type RegistrationHook func(user User)

type Service struct {
	users   UserStore
	jwt     *JWTService
	revoked RevocationList
	log     zerolog.Logger

	hooksMu sync.RWMutex
	hooks   []RegistrationHook
}

func NewService(users UserStore, jwtService *JWTService, revoked RevocationList, log zerolog.Logger) *Service {
	return &Service{
		users:   users,
		jwt:     jwtService,
		revoked: revoked,
		log:     log.With().Str("component", "auth_service").Logger(),
	}
}

// OnRegister adds a hook called after each successful registration. Hooks run
// synchronously on the registering request and should not block.
func (s *Service) OnRegister(hook RegistrationHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.Create(ctx, email, string(hash))
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("user", user.ID).Str("email", user.Email).Msg("user registered")

	s.hooksMu.RLock()
	for _, hook := range s.hooks {
		hook(*user)
	}
	s.hooksMu.RUnlock()

	return user, nil
}

// Login checks credentials and returns a fresh access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if err := s.users.TouchLogin(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user", user.ID).Msg("failed to record last login")
	}

	token, err := s.jwt.GenerateToken(user.ID, user.Email)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	return token, user, nil
}

// Logout revokes the token described by claims until it would have expired.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if s.revoked == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	if err := s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func (s *Service) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}
