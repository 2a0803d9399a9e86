package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"recipeshare/pkg/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestGate(t *testing.T, cfg Config) *Gate {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = testSecret
	}
	g, err := NewGate(cfg)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return g
}

func issueCookie(t *testing.T, g *Gate, u domain.User) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := g.Issue(rec, u); err != nil {
		t.Fatalf("issue: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	return cookies[0]
}

func requestWith(c *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if c != nil {
		req.AddCookie(c)
	}
	return req
}

func TestNewGateRejectsShortSecret(t *testing.T) {
	if _, err := NewGate(Config{Secret: "short"}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestIssueAndIdentity(t *testing.T) {
	g := newTestGate(t, Config{})
	c := issueCookie(t, g, domain.User{Name: "Ann", Username: "ann1", PasswordHash: "secret-hash"})
	if c.Name != DefaultCookieName || !c.HttpOnly {
		t.Fatalf("unexpected cookie %+v", c)
	}
	if strings.Contains(c.Value, "secret-hash") {
		t.Fatalf("cookie must not carry the password hash")
	}

	got, err := g.Identity(requestWith(c))
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	want := domain.SessionUser{IsLoggedIn: true, Name: "Ann", Username: "ann1"}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestIdentityRejectsAnonymousAndForged(t *testing.T) {
	g := newTestGate(t, Config{})
	if _, err := g.Identity(requestWith(nil)); err != ErrNoSession {
		t.Fatalf("expected no session without cookie, got %v", err)
	}
	other := newTestGate(t, Config{Secret: strings.Repeat("x", 32)})
	forged := issueCookie(t, other, domain.User{Username: "ann1"})
	if _, err := g.Identity(requestWith(forged)); err != ErrNoSession {
		t.Fatalf("expected cookie signed with another secret to fail, got %v", err)
	}
	garbage := &http.Cookie{Name: DefaultCookieName, Value: "not-a-jwt"}
	if _, err := g.Identity(requestWith(garbage)); err != ErrNoSession {
		t.Fatalf("expected garbage cookie to fail, got %v", err)
	}
}

func TestIdentityExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGate(t, Config{TTL: time.Hour, Now: func() time.Time { return now }})
	c := issueCookie(t, g, domain.User{Username: "ann1"})
	if _, err := g.Identity(requestWith(c)); err != nil {
		t.Fatalf("fresh session should verify: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := g.Identity(requestWith(c)); err != ErrNoSession {
		t.Fatalf("expected expired session to be anonymous, got %v", err)
	}
}

func TestClearRevokesToken(t *testing.T) {
	g := newTestGate(t, Config{})
	c := issueCookie(t, g, domain.User{Username: "ann1"})

	rec := httptest.NewRecorder()
	if err := g.Clear(rec, requestWith(c)); err != nil {
		t.Fatalf("clear: %v", err)
	}
	cleared := rec.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 || cleared[0].Value != "" {
		t.Fatalf("expected expiring cookie, got %+v", cleared)
	}
	if _, err := g.Identity(requestWith(c)); err != ErrNoSession {
		t.Fatalf("expected replayed token to be revoked, got %v", err)
	}
}

func TestRequireUsesSessionIdentity(t *testing.T) {
	denied := false
	g := newTestGate(t, Config{Deny: func(w http.ResponseWriter, _ *http.Request) {
		denied = true
		w.WriteHeader(http.StatusUnauthorized)
	}})
	var seen domain.SessionUser
	h := g.Require(func(w http.ResponseWriter, r *http.Request, u domain.SessionUser) {
		seen = u
		if fromCtx, ok := UserFrom(r.Context()); !ok || fromCtx != u {
			t.Errorf("expected acting user in context, got %+v", fromCtx)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestWith(nil))
	if rec.Code != http.StatusUnauthorized || !denied {
		t.Fatalf("expected anonymous request to be denied, got %d", rec.Code)
	}

	c := issueCookie(t, g, domain.User{Name: "Ann", Username: "ann1"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestWith(c))
	if rec.Code != http.StatusNoContent || seen.Username != "ann1" {
		t.Fatalf("expected handler to run as ann1, got code=%d user=%+v", rec.Code, seen)
	}
}

func TestRedisRevoker(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := NewRedisRevoker(client, "")
	ctx := context.Background()

	if err := r.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}
	srv.FastForward(2 * time.Minute)
	revoked, err = r.IsRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected revocation to lapse, got %v err=%v", revoked, err)
	}
}

func TestMemoryRevokerLapses(t *testing.T) {
	r := NewMemoryRevoker()
	now := time.Now()
	r.now = func() time.Time { return now }
	ctx := context.Background()
	_ = r.Revoke(ctx, "jti-1", time.Minute)
	if revoked, _ := r.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatalf("expected revoked")
	}
	now = now.Add(2 * time.Minute)
	if revoked, _ := r.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatalf("expected revocation to lapse")
	}
	if err := r.Revoke(ctx, "jti-2", 0); err != nil {
		t.Fatalf("zero ttl revoke should be a no-op: %v", err)
	}
}
