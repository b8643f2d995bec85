package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minKeyBytes = 32

var (
	// ErrTokenInvalid covers every malformed, forged or tampered token.
	ErrTokenInvalid = errors.New("challenge token invalid")
)

// Config holds HS256 key material.
type Config struct {
	SigningKey []byte
	KeyID      string
	// VerifyKeys holds keys accepted during rotation, by kid. The signing
	// key is always accepted under KeyID.
	VerifyKeys map[string][]byte
	Issuer     string
}

// ChallengeClaims is the payload of a challenge token. ID carries the
// challenge id and Subject the user id.
type ChallengeClaims struct {
	Kind string `json:"knd"`
	jwt.RegisteredClaims
}

// Manager signs and parses challenge tokens.
type Manager struct {
	config Config
	keys   map[string][]byte
}

// NewManager validates the key set.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.SigningKey) < minKeyBytes {
		return nil, errors.New("challenge signing key must be at least 32 bytes")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.KeyID == "" {
		cfg.KeyID = "primary"
	}

	keys := make(map[string][]byte, len(cfg.VerifyKeys)+1)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < minKeyBytes {
			return nil, fmt.Errorf("verify key for kid %q must be at least 32 bytes", kid)
		}
		keys[kid] = key
	}
	keys[cfg.KeyID] = cfg.SigningKey

	return &Manager{config: cfg, keys: keys}, nil
}

// Sign issues a token for challenge id bound to userID.
func (j *Manager) Sign(id, userID, kind string, issuedAt, expiresAt time.Time) (string, error) {
	claims := ChallengeClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   userID,
			Issuer:    j.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = j.config.KeyID
	return token.SignedString(j.config.SigningKey)
}

// Parse verifies the signature of tokenStr and returns its claims.
func (j *Manager) Parse(tokenStr string) (*ChallengeClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &ChallengeClaims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.keys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*ChallengeClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.ID == "" || claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing required claims", ErrTokenInvalid)
	}
	if j.config.Issuer != "" && claims.Issuer != j.config.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	return claims, nil
}
