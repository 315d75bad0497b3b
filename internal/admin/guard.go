package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/textswithmyex/backend/internal/token"
)

const (
	// SecretHeader carries the raw shared secret on API calls.
	SecretHeader = "X-Admin-Secret"
	// SessionCookieName holds the signed admin session token.
	SessionCookieName = "twme_admin_session"

	sessionSubject = "admin"
)

var (
	// ErrDisabled means no admin secret is configured; every admin call
	// fails closed.
	ErrDisabled     = errors.New("admin: guard disabled")
	ErrUnauthorized = errors.New("admin: unauthorized")
)

// GuardConfig configures the admin guard. An empty Secret leaves the guard
// disabled rather than failing construction.
type GuardConfig struct {
	Secret string
	Tokens *token.Issuer
	Logger *zap.Logger
}

// Guard authorizes administrative requests: either the raw shared secret
// (header or bearer) or a valid signed session cookie suffices.
type Guard struct {
	secret []byte
	tokens *token.Issuer
	logger *zap.Logger
}

// NewGuard constructs the guard.
func NewGuard(cfg GuardConfig) *Guard {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		secret: []byte(strings.TrimSpace(cfg.Secret)),
		tokens: cfg.Tokens,
		logger: logger,
	}
}

// Enabled reports whether an admin secret is configured.
func (g *Guard) Enabled() bool {
	return len(g.secret) > 0
}

// Authorize checks the request's credentials. The error does not distinguish
// which credential failed.
func (g *Guard) Authorize(r *http.Request) error {
	if !g.Enabled() {
		return ErrDisabled
	}
	if g.CheckSecret(extractSecret(r)) {
		return nil
	}
	if g.tokens != nil {
		if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie != nil {
			if _, err := g.tokens.Verify(token.KindAdmin, cookie.Value); err == nil {
				return nil
			}
		}
	}
	return ErrUnauthorized
}

// CheckSecret compares a presented secret in constant time.
func (g *Guard) CheckSecret(candidate string) bool {
	if !g.Enabled() || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare(g.secret, []byte(candidate)) == 1
}

// IssueSession mints a signed admin session token for the cookie.
func (g *Guard) IssueSession() (string, int64, error) {
	if !g.Enabled() {
		return "", 0, ErrDisabled
	}
	if g.tokens == nil {
		return "", 0, ErrDisabled
	}
	return g.tokens.Issue(token.KindAdmin, sessionSubject, token.DefaultAdminTTL)
}

func extractSecret(r *http.Request) string {
	if secret := strings.TrimSpace(r.Header.Get(SecretHeader)); secret != "" {
		return secret
	}
	authorization := r.Header.Get("Authorization")
	if strings.HasPrefix(authorization, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	}
	return ""
}
