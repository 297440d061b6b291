package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/allureboard/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "allureboard"

var errInvalidCredentials = errors.New("invalid email or password")

// userClaims is the token payload.
type userClaims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// authenticator checks the configured account and issues HS256 tokens.
type authenticator struct {
	email        string
	userID       string
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

func newAuthenticator(cfg *config.APIAuthConfig) (*authenticator, error) {
	hash := []byte(cfg.PasswordHash)

	if len(hash) == 0 {
		h, err := bcrypt.GenerateFromPassword(
			[]byte(cfg.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}

		hash = h
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = config.DefaultTokenTTL
	}

	email := strings.ToLower(strings.TrimSpace(cfg.Email))

	return &authenticator{
		email:        email,
		userID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String(),
		passwordHash: hash,
		secret:       []byte(cfg.JWTSecret),
		ttl:          ttl,
		now:          time.Now,
	}, nil
}

// checkCredentials returns the account claims for a matching email and
// password.
func (a *authenticator) checkCredentials(email, password string) (*userClaims, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(a.email)) == 1

	// Always run bcrypt so a wrong email costs the same as a wrong password.
	passwordOK := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil

	if !emailOK || !passwordOK {
		return nil, errInvalidCredentials
	}

	return &userClaims{ID: a.userID, Email: a.email}, nil
}

// issue signs a token for the user.
func (a *authenticator) issue(user *userClaims) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)

	claims := userClaims{
		ID:    user.ID,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	return signed, expires, nil
}

// verify parses and validates a token.
func (a *authenticator) verify(token string) (*userClaims, error) {
	claims := &userClaims{}

	_, err := jwt.ParseWithClaims(token, claims,
		func(_ *jwt.Token) (any, error) {
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	return claims, nil
}
