// Package authn issues and verifies actor tokens.
//
// Tokens are compact HS256 JWTs whose subject is the actor id and whose
// groups claim lists the actor's candidate groups. The HMAC key is derived
// from the configured secret with PBKDF2.
package authn

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrInvalidSecretKey = errors.New("auth secret must be at least 32 characters")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenInvalid     = errors.New("token invalid")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrNoToken          = errors.New("no token found")
)

const (
	minSecretLen     = 32
	pbkdf2Iterations = 4096
	defaultSalt      = "humantask-actor-token"
	defaultIssuer    = "humantask"
)

// Claims are the token payload.
type Claims struct {
	Subject   string   `json:"sub"`
	Issuer    string   `json:"iss"`
	ExpiresAt int64    `json:"exp"`
	IssuedAt  int64    `json:"iat"`
	NotBefore int64    `json:"nbf,omitempty"`
	Groups    []string `json:"groups,omitempty"`
}

// Config configures a Signer.
type Config struct {
	Secret string
	Salt   string
	Issuer string
	TTL    time.Duration
}

// Signer issues and validates actor tokens.
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner derives the signing key from cfg.Secret.
func NewSigner(cfg Config) (*Signer, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, ErrInvalidSecretKey
	}
	salt := cfg.Salt
	if salt == "" {
		salt = defaultSalt
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	return &Signer{
		key:    pbkdf2.Key([]byte(cfg.Secret), []byte(salt), pbkdf2Iterations, 32, sha256.New),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

var tokenHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Issue returns a token for actorID valid for the configured TTL.
func (s *Signer) Issue(actorID string, groups []string) (string, error) {
	if strings.TrimSpace(actorID) == "" {
		return "", fmt.Errorf("%w: empty subject", ErrTokenInvalid)
	}
	now := s.now()
	payload, err := json.Marshal(Claims{
		Subject:   actorID,
		Issuer:    s.issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
		Groups:    groups,
	})
	if err != nil {
		return "", err
	}

	signingInput := tokenHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(s.sign(signingInput)), nil
}

func (s *Signer) sign(input string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(input))
	return h.Sum(nil)
}

// Validate verifies the signature and time bounds of token.
func (s *Signer) Validate(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrTokenMalformed
	}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, ErrTokenMalformed
	}
	if header.Alg != "HS256" {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrTokenInvalid, header.Alg)
	}

	sig, err := decodeSegment(parts[2])
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	if !hmac.Equal(s.sign(parts[0]+"."+parts[1]), sig) {
		return nil, ErrSignatureInvalid
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrTokenMalformed
	}

	now := s.now().Unix()
	if claims.ExpiresAt > 0 && now > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	if claims.NotBefore > 0 && now < claims.NotBefore {
		return nil, ErrTokenInvalid
	}
	if claims.Issuer != s.issuer || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// ExtractBearer returns the bearer token of the Authorization header.
func ExtractBearer(r *http.Request) (string, error) {
	return ParseBearer(r.Header.Get("Authorization"))
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrNoToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

type claimsKey struct{}

// WithClaims attaches the caller's claims to ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims set by WithClaims.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// ActorFromContext returns the acting actor id, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok || c.Subject == "" {
		return "", false
	}
	return c.Subject, true
}
