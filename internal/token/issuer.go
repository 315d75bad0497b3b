package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind namespaces a token so an admin session can never authorize a premium
// feature and a premium token can never authorize admin actions.
type Kind string

const (
	KindAdmin   Kind = "admin"
	KindPremium Kind = "premium"
)

const (
	DefaultAdminTTL   = 12 * time.Hour
	DefaultPremiumTTL = 48 * time.Hour
)

var (
	ErrMissingSigningSecret = errors.New("token issuer: signing secret required")
	ErrMissingSubject       = errors.New("token issuer: subject required")
	ErrInvalidTTL           = errors.New("token issuer: ttl must be positive")
	ErrInvalidToken         = errors.New("token issuer: invalid token")
	ErrExpiredToken         = errors.New("token issuer: token expired")
	ErrWrongKind            = errors.New("token issuer: wrong token kind")
)

// Claims is the signed payload: an explicit kind tag plus the registered
// subject/expiry claims.
type Claims struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// IssuerConfig configures the signed-token issuer.
type IssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// Issuer mints and verifies stateless HS256 bearer tokens. Nothing is stored
// server-side; validity is the signature plus the embedded expiry.
type Issuer struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewIssuer constructs an Issuer. An empty signing secret is a configuration
// error and fails construction rather than producing unsigned tokens later.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuerName := strings.TrimSpace(cfg.Issuer)
	if issuerName == "" {
		issuerName = "twme-api"
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Issuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuerName,
		clock:         clock,
	}, nil
}

// Issue produces a signed token for the subject and returns it with its
// lifetime in seconds.
func (i *Issuer) Issue(kind Kind, subject string, ttl time.Duration) (string, int64, error) {
	if strings.TrimSpace(subject) == "" {
		return "", 0, ErrMissingSubject
	}
	if ttl <= 0 {
		return "", 0, ErrInvalidTTL
	}

	now := i.clock().UTC()
	expiresAt := now.Add(ttl)

	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(ttl.Seconds()), nil
}

// Verify checks signature, expiry, and kind, returning the embedded subject.
// Malformed input of any shape degrades to ErrInvalidToken.
func (i *Issuer) Verify(kind Kind, tokenString string) (string, error) {
	trimmed := strings.TrimSpace(tokenString)
	if trimmed == "" {
		return "", ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(
		trimmed,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithTimeFunc(i.clock),
		jwt.WithIssuer(i.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Kind != kind {
		return "", ErrWrongKind
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", ErrMissingSubject
	}
	return subject, nil
}
