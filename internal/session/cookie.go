package session

import (
	"context"
	"net/http"

	obsmw "qrdrop/internal/observability/middleware"
)

const CookieName = "qrdrop_session"

type ctxKey struct{}

type Manager struct {
	signer *Signer
	secure bool
}

func NewManager(signer *Signer, secure bool) *Manager {
	return &Manager{signer: signer, secure: secure}
}

// Bind points the browser at id, replacing whatever identifier it held.
func (m *Manager) Bind(w http.ResponseWriter, id string) error {
	tok, err := m.signer.Sign(id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(m.signer.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) Identifier(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	id, err := m.signer.Verify(c.Value)
	if err != nil {
		obsmw.Logger(r.Context()).Debug("session cookie rejected", "error", err)
		return "", false
	}
	return id, true
}

// Require rejects requests without a valid session cookie with the given
// handler and stores the identifier in the request context otherwise.
func (m *Manager) Require(forbidden http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := m.Identifier(r)
			if !ok {
				forbidden(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentifier(r.Context(), id)))
		})
	}
}

func WithIdentifier(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentifierFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
