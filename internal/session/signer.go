// Package session binds a browser to its current identifier with a signed
// cookie. The cookie is the only thing the browser holds; all pairing state
// lives in the store.
package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const issuer = "qrdrop"

var ErrInvalidToken = errors.New("session: invalid token")

// Signer holds an Ed25519 keypair for issuing session tokens.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner derives the key from secret so sessions survive a restart.
// If secret is empty, it generates an ephemeral key (good for local dev).
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	seed := make([]byte, ed25519.SeedSize)
	if secret == "" {
		if _, err := io.ReadFull(rand.Reader, seed); err != nil {
			return nil, err
		}
	} else {
		kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("qrdrop session signing key"))
		if _, err := io.ReadFull(kdf, seed); err != nil {
			return nil, err
		}
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{
		private: priv,
		public:  priv.Public().(ed25519.PublicKey),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Sign issues a token whose subject is the identifier.
func (s *Signer) Sign(id string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.private)
}

// Verify returns the identifier carried by a valid token.
func (s *Signer) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.public, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
