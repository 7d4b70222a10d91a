// Package auth verifies the session tokens issued by the hosted auth service
// and turns them into credvault principals.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/libopenstorage/credvault"
	"github.com/libopenstorage/credvault/docker"
)

const (
	// SecretKey is the HS256 signing secret. Falls back to the environment
	// variable, then the docker secret, of the same name.
	SecretKey = "CREDVAULT_JWT_SECRET"
	// AudienceKey is the expected aud claim.
	AudienceKey = "CREDVAULT_JWT_AUDIENCE"
	// ClockKey injects a k8s.io/utils/clock.PassiveClock.
	ClockKey = credvault.ClockKey

	DefaultAudience = "authenticated"
	// RoleAnonymous is carried by tokens of signed out visitors.
	RoleAnonymous = "anon"
)

var (
	ErrSecretNotSet = errors.New("CREDVAULT_JWT_SECRET not set")
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
	ErrAnonymous    = errors.New("session token is anonymous")
)

// Principal is the user a verified token speaks for.
type Principal struct {
	Subject string
	Role    string
	Email   string
}

func (p *Principal) OwnerID() string {
	return p.Subject
}

func (p *Principal) Authenticated() bool {
	return p.Subject != "" && p.Role != RoleAnonymous
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email"`
}

// Verifier checks HS256 session tokens.
type Verifier struct {
	secret   []byte
	audience string
	clock    clock.PassiveClock
}

func New(config map[string]interface{}) (*Verifier, error) {
	secret := getParam(config, SecretKey)
	if secret == "" {
		return nil, ErrSecretNotSet
	}
	audience := getParam(config, AudienceKey)
	if audience == "" {
		audience = DefaultAudience
	}
	clk, ok := config[ClockKey].(clock.PassiveClock)
	if !ok || clk == nil {
		clk = clock.RealClock{}
	}
	return &Verifier{
		secret:   []byte(secret),
		audience: audience,
		clock:    clk,
	}, nil
}

// Verify checks the signature, audience and expiry of token and returns the
// principal it names. Anonymous tokens are rejected.
func (v *Verifier) Verify(token string) (*Principal, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, ErrInvalidToken
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}

	p := &Principal{
		Subject: claims.Subject,
		Role:    claims.Role,
		Email:   claims.Email,
	}
	if p.Subject == "" {
		return nil, ErrInvalidToken
	}
	if p.Role == RoleAnonymous {
		return nil, ErrAnonymous
	}
	return p, nil
}

// Authenticate verifies token and returns ctx carrying its principal. Any
// verification failure is reported as credvault.ErrNotAuthenticated.
func (v *Verifier) Authenticate(ctx context.Context, token string) (context.Context, error) {
	p, err := v.Verify(token)
	if err != nil {
		logrus.WithField("reason", err.Error()).Debug("Rejected session token")
		return ctx, credvault.ErrNotAuthenticated
	}
	return credvault.WithPrincipal(ctx, p), nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}

func getParam(config map[string]interface{}, name string) string {
	if v, exists := config[name]; exists {
		s, _ := v.(string)
		return s
	}
	if v := os.Getenv(name); v != "" {
		return v
	}
	v, _ := docker.Lookup(name)
	return v
}
