// Package adminauth issues and validates JWT session tokens for the
// admin surface, and gates the admin route group behind either a valid
// session token or the static admin key. Mechanics are kept close to
// the original ingress auth layer this was adapted from; only the
// persistence behind token revocation changed, see Manager's doc.
package adminauth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrRevokedToken = errors.New("token has been revoked")
)

// Claims is the JWT payload for an admin session.
type Claims struct {
	UserName string `json:"name"`
	jwt.RegisteredClaims
}

// TokenInfo is the public view of an issued token, for admin listing.
type TokenInfo struct {
	ID        string    `json:"id"`
	UserName  string    `json:"user_name"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager issues and validates admin session tokens. Revocation is
// tracked in memory rather than in the sqlite enrichment store: admin
// sessions are short-lived and few, and the store's schema was trimmed
// to request-log/usage-stats enrichment only, so a durable revocation
// table has no home left to live in.
type Manager struct {
	secret []byte
	issuer string

	mu       sync.RWMutex
	revoked  map[string]struct{}
	issuedAt map[string]TokenInfo
}

// NewManager creates a token Manager signing with HMAC secret, stamping
// RegisteredClaims.Issuer with issuer.
func NewManager(secret, issuer string) *Manager {
	return &Manager{
		secret:   []byte(secret),
		issuer:   issuer,
		revoked:  make(map[string]struct{}),
		issuedAt: make(map[string]TokenInfo),
	}
}

// Issue generates a new session token for userName, valid for expiry.
func (m *Manager) Issue(userName string, expiry time.Duration) (string, *TokenInfo, error) {
	tokenID := uuid.New().String()
	now := time.Now()
	expiresAt := now.Add(expiry)

	claims := Claims{
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   userName,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", nil, err
	}

	info := TokenInfo{ID: tokenID, UserName: userName, IssuedAt: now, ExpiresAt: expiresAt}
	m.mu.Lock()
	m.issuedAt[tokenID] = info
	m.mu.Unlock()

	return signed, &info, nil
}

// Validate parses and verifies tokenString, returning its Claims if it
// is well-formed, unexpired and not revoked.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	m.mu.RLock()
	_, revoked := m.revoked[claims.ID]
	m.mu.RUnlock()
	if revoked {
		return nil, ErrRevokedToken
	}

	return claims, nil
}

// Revoke marks a token ID as no longer usable, even if it has not yet
// expired.
func (m *Manager) Revoke(tokenID string) {
	m.mu.Lock()
	m.revoked[tokenID] = struct{}{}
	m.mu.Unlock()
}

// List returns the public info of every issued token that is neither
// expired nor revoked.
func (m *Manager) List() []TokenInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	out := make([]TokenInfo, 0, len(m.issuedAt))
	for id, info := range m.issuedAt {
		if now.After(info.ExpiresAt) {
			continue
		}
		if _, revoked := m.revoked[id]; revoked {
			continue
		}
		out = append(out, info)
	}
	return out
}
