package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	s, err := NewSigner("secret", time.Hour)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	tok, err := s.Sign("id-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != "id-1" {
		t.Fatalf("expected id-1, got %q", id)
	}
}

func TestSameSecretSurvivesRestart(t *testing.T) {
	a, _ := NewSigner("secret", time.Hour)
	b, _ := NewSigner("secret", time.Hour)
	tok, err := a.Sign("id-2")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if id, err := b.Verify(tok); err != nil || id != "id-2" {
		t.Fatalf("expected token to verify under same secret, id=%q err=%v", id, err)
	}

	other, _ := NewSigner("different", time.Hour)
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken under a different secret, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	s, _ := NewSigner("secret", time.Minute)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	tok, err := s.Sign("id-3")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	s.now = time.Now
	if _, err := s.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestRequireMiddleware(t *testing.T) {
	s, _ := NewSigner("", time.Hour)
	m := NewManager(s, false)

	forbidden := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusForbidden) }
	var seen string
	h := m.Require(forbidden)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentifierFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without cookie, got %d", rec.Code)
	}

	bindRec := httptest.NewRecorder()
	if err := m.Bind(bindRec, "id-4"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	for _, c := range bindRec.Result().Cookies() {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != "id-4" {
		t.Fatalf("expected identifier id-4 in context, got code=%d id=%q", rec.Code, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for forged cookie, got %d", rec.Code)
	}
}
