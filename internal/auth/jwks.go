// internal/auth/jwks.go
// Package auth verifies officer bearer tokens: EdDSA-signed JWTs whose keys
// are published as a JWKS document.
package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated wraps every verification failure.
var ErrUnauthenticated = errors.New("unauthenticated")

// CacheTTL is how long a fetched key set is reused.
const CacheTTL = 5 * time.Minute

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"` // Key type
	Kid string `json:"kid"` // Key ID
	Use string `json:"use"` // Public key use
	Alg string `json:"alg"` // Algorithm
	Crv string `json:"crv"` // Curve
	X   string `json:"x"`   // Public key
}

// Verifier validates tokens against a remote JWKS.
type Verifier struct {
	jwksURL    string
	issuer     string
	audience   string
	httpClient *http.Client
	now        func() time.Time

	mu        sync.RWMutex
	keys      *JWKS
	expiresAt time.Time
}

// NewVerifier creates a Verifier. issuer and audience are mandatory claims.
func NewVerifier(jwksURL, issuer, audience string) *Verifier {
	return &Verifier{
		jwksURL:    jwksURL,
		issuer:     issuer,
		audience:   audience,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Authenticate verifies an Authorization header value and returns the
// officer id carried in the sub claim.
func (v *Verifier) Authenticate(ctx context.Context, header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: missing Authorization header", ErrUnauthenticated)
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: invalid Authorization header format", ErrUnauthenticated)
	}
	return v.Verify(ctx, strings.TrimSpace(token))
}

// Verify checks signature, issuer, audience and expiry of a token and
// returns its subject.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (string, error) {
	keyFunc := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid in JWT header")
		}
		return v.publicKey(ctx, kid)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return claims.Subject, nil
}

func (v *Verifier) publicKey(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	keys, err := v.keySet(ctx, false)
	if err != nil {
		return nil, err
	}
	key, ok := find(keys, kid)
	if !ok {
		// the issuer may have rotated keys since the last fetch
		if keys, err = v.keySet(ctx, true); err != nil {
			return nil, err
		}
		if key, ok = find(keys, kid); !ok {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}
	}

	if key.Kty != "OKP" || key.Crv != "Ed25519" || (key.Alg != "" && key.Alg != "EdDSA") {
		return nil, errors.New("unsupported key type or algorithm")
	}
	x, err := base64.RawURLEncoding.DecodeString(key.X)
	if err != nil || len(x) != ed25519.PublicKeySize {
		return nil, errors.New("invalid Ed25519 public key")
	}
	return ed25519.PublicKey(x), nil
}

func find(keys *JWKS, kid string) (JWK, bool) {
	for _, k := range keys.Keys {
		if k.Kid == kid {
			return k, true
		}
	}
	return JWK{}, false
}

// keySet returns the cached key set, fetching when it is stale or refresh is set.
func (v *Verifier) keySet(ctx context.Context, refresh bool) (*JWKS, error) {
	if !refresh {
		v.mu.RLock()
		if v.keys != nil && v.now().Before(v.expiresAt) {
			keys := v.keys
			v.mu.RUnlock()
			return keys, nil
		}
		v.mu.RUnlock()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !refresh && v.keys != nil && v.now().Before(v.expiresAt) {
		return v.keys, nil
	}
	keys, err := v.fetch(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.expiresAt = v.now().Add(CacheTTL)
	return keys, nil
}

func (v *Verifier) fetch(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS fetch failed with status %d", resp.StatusCode)
	}
	var keys JWKS
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}
	return &keys, nil
}
