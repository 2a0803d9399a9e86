// Package session is the only place that decides who the acting user is.
// Identity comes from a signed cookie, never from request payloads.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"recipeshare/internal/util"
	"recipeshare/pkg/domain"
)

const (
	DefaultCookieName = "cloud-project-recipe-token"
	DefaultTTL        = 24 * time.Hour
	MinSecretLen      = 32

	issuer = "recipeshare"
)

// ErrNoSession indicates the request carries no valid session.
var ErrNoSession = errors.New("no session")

type claims struct {
	Name       string `json:"name"`
	Username   string `json:"username"`
	IsLoggedIn bool   `json:"isLoggedIn"`
	jwt.RegisteredClaims
}

// Config configures a Gate.
type Config struct {
	Secret     string
	CookieName string
	TTL        time.Duration
	Secure     bool
	// Revoker defaults to an in-memory revoker.
	Revoker Revoker
	// Deny answers requests that reach Require without a session.
	// Defaults to a bare 401.
	Deny http.HandlerFunc
	Now  func() time.Time
}

// Gate issues, verifies and clears session cookies.
type Gate struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	revoker    Revoker
	deny       http.HandlerFunc
	now        func() time.Time
}

// NewGate validates cfg and builds a Gate.
func NewGate(cfg Config) (*Gate, error) {
	if len(cfg.Secret) < MinSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLen)
	}
	g := &Gate{
		secret:     []byte(cfg.Secret),
		cookieName: strings.TrimSpace(cfg.CookieName),
		ttl:        cfg.TTL,
		secure:     cfg.Secure,
		revoker:    cfg.Revoker,
		deny:       cfg.Deny,
		now:        cfg.Now,
	}
	if g.cookieName == "" {
		g.cookieName = DefaultCookieName
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	if g.revoker == nil {
		g.revoker = NewMemoryRevoker()
	}
	if g.deny == nil {
		g.deny = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// CookieName returns the name of the session cookie.
func (g *Gate) CookieName() string { return g.cookieName }

// Issue moves the client to Authenticated as u. Callers invoke it only after
// the user repository has accepted a login or signup.
func (g *Gate) Issue(w http.ResponseWriter, u domain.User) error {
	if strings.TrimSpace(u.Username) == "" {
		return errors.New("session user requires a username")
	}
	now := g.now().UTC()
	expires := now.Add(g.ttl)
	c := claims{
		Name:       u.Name,
		Username:   u.Username,
		IsLoggedIn: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.Username,
			ID:        util.NewID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(g.secret)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    signed,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(g.ttl / time.Second),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Identity returns the session user for r. Missing, malformed, expired and
// revoked sessions all yield ErrNoSession.
func (g *Gate) Identity(r *http.Request) (domain.SessionUser, error) {
	c, err := g.verify(r)
	if err != nil {
		return domain.SessionUser{IsLoggedIn: false}, err
	}
	return domain.SessionUser{IsLoggedIn: true, Name: c.Name, Username: c.Username}, nil
}

// Clear moves the client back to Anonymous: the token id is revoked until it
// would have expired and the cookie is dropped.
func (g *Gate) Clear(w http.ResponseWriter, r *http.Request) error {
	var revokeErr error
	if c, err := g.verify(r); err == nil && c.ExpiresAt != nil {
		ttl := c.ExpiresAt.Time.Sub(g.now())
		if err := g.revoker.Revoke(r.Context(), c.ID, ttl); err != nil {
			revokeErr = fmt.Errorf("revoke session: %w", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return revokeErr
}

// Handler is an http handler that runs on behalf of a verified session user.
type Handler func(http.ResponseWriter, *http.Request, domain.SessionUser)

// Require lets only authenticated requests through to next.
func (g *Gate) Require(next Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := g.Identity(r)
		if err != nil {
			util.LoggerFromContext(r.Context()).Info("audit",
				"event", "session.authorize",
				"outcome", "fail",
				"path", r.URL.Path,
			)
			g.deny(w, r)
			return
		}
		next(w, r.WithContext(WithUser(r.Context(), user)), user)
	})
}

func (g *Gate) verify(r *http.Request) (*claims, error) {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return nil, ErrNoSession
	}
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(cookie.Value, c, func(*jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrNoSession
	}
	if !c.IsLoggedIn || c.Username == "" || c.Username != c.Subject {
		return nil, ErrNoSession
	}
	revoked, err := g.revoker.IsRevoked(r.Context(), c.ID)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("session revocation check failed", "err", err)
		return nil, ErrNoSession
	}
	if revoked {
		return nil, ErrNoSession
	}
	return c, nil
}

type userKey struct{}

// WithUser stores the acting user in ctx.
func WithUser(ctx context.Context, u domain.SessionUser) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the acting user stored by Require.
func UserFrom(ctx context.Context) (domain.SessionUser, bool) {
	u, ok := ctx.Value(userKey{}).(domain.SessionUser)
	return u, ok && u.IsLoggedIn
}
