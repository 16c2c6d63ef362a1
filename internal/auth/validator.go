package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrUnauthorized is the single outcome of every failed validation. Callers
// cannot tell an expired token from a forged one.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the user a validated token resolves to.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// UserLookup resolves a token subject to a known user.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*User, error)
}

// Validator checks bearer tokens: signature, expiry, revocation and that the
// subject still exists.
type Validator struct {
	jwt     *JWTService
	revoked RevocationList
	users   UserLookup
	log     zerolog.Logger
}

// NewValidator wires a Validator. revoked and users may be nil, which skips
// the corresponding check.
func NewValidator(jwtService *JWTService, revoked RevocationList, users UserLookup, log zerolog.Logger) *Validator {
	return &Validator{
		jwt:     jwtService,
		revoked: revoked,
		users:   users,
		log:     log.With().Str("component", "token_validator").Logger(),
	}
}

// Validate returns the identity carried by token or ErrUnauthorized.
func (v *Validator) Validate(ctx context.Context, token string) (Identity, error) {
	claims, err := v.ValidateClaims(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

// ValidateClaims is Validate returning the full claim set.
func (v *Validator) ValidateClaims(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	claims, err := v.jwt.ValidateToken(token)
	if err != nil {
		v.log.Debug().Err(err).Msg("token rejected")
		return nil, ErrUnauthorized
	}

	if v.revoked != nil && claims.ID != "" {
		revoked, err := v.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			v.log.Error().Err(err).Str("jti", claims.ID).Msg("revocation check failed")
			return nil, ErrUnauthorized
		}
		if revoked {
			v.log.Debug().Str("jti", claims.ID).Msg("token revoked")
			return nil, ErrUnauthorized
		}
	}

	if v.users != nil {
		if _, err := v.users.GetByID(ctx, claims.UserID); err != nil {
			v.log.Debug().Err(err).Str("user", claims.UserID).Msg("token subject unknown")
			return nil, ErrUnauthorized
		}
	}

	return claims, nil
}
