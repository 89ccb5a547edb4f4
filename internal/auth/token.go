// Package auth issues and verifies the short-lived HS256 tokens that
// internal services (cron, scheduler, scanner) present when calling the
// protected cache-update endpoints. Tokens are never persisted; expiry is
// the only invalidation mechanism.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the fixed iss claim on every service token.
const Issuer = "fibscan-internal"

// TokenTTL is fixed; exp is always iat + TokenTTL.
const TokenTTL = 3600 * time.Second

const minSecretLen = 32

// Verification reason codes. Callers branch on these rather than on errors.
const (
	ReasonNoToken             = "no-token"
	ReasonMissingSecret       = "missing-jwt-secret"
	ReasonTokenExpired        = "token-expired"
	ReasonInvalidSignature    = "invalid-signature"
	ReasonSignatureMismatch   = "signature-mismatch"
	ReasonVerificationFailed  = "verification-failed"
	ReasonUnknownService      = "unknown-service"
	ReasonMissingScope        = "missing-scope"
	ReasonMissingBearerHeader = "missing-bearer-header"
)

// ConfigError means the signing secret is absent or too short. Fail closed:
// no token is produced and issuance surfaces as 503.
type ConfigError struct{ msg string }

func (e *ConfigError) Error() string { return e.msg }

// Claims is the verified claim set of a service token.
type Claims struct {
	Scope []string `json:"scope"`
	jwt.RegisteredClaims
}

// Service returns the subject as a typed identity. Only valid on claims that
// came out of a successful Verify.
func (c *Claims) Service() Identity { return Identity(c.Subject) }

// HasScope reports whether the token carries the scope.
func (c *Claims) HasScope(s Scope) bool {
	for _, v := range c.Scope {
		if v == string(s) {
			return true
		}
	}
	return false
}

// Result is the outcome of a verification. Verification never returns an
// error; every failure path lands here with a reason code.
type Result struct {
	Valid  bool
	Reason string
	Claims *Claims
}

// TokenService signs and verifies service tokens with a single injected
// symmetric secret. The zero secret is tolerated at construction so the
// server can start degraded; Issue and Verify fail closed.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret), now: time.Now}
}

// Issue mints a token for a known service identity with a validated scope
// set, returning the signed token together with its claims so callers can
// report the exact iat/exp that went into the signature. Unlike verification,
// issuance is a controlled code path and returns errors:
// *UnknownIdentifierError for values outside the closed sets, *ConfigError
// when the secret is missing or shorter than 32 characters.
func (s *TokenService) Issue(service Identity, scopes []Scope) (string, *Claims, error) {
	if !knownIdentities[service] {
		return "", nil, &UnknownIdentifierError{Kind: "service", Value: string(service)}
	}
	for _, sc := range scopes {
		if !knownScopes[sc] {
			return "", nil, &UnknownIdentifierError{Kind: "scope", Value: string(sc)}
		}
	}
	if len(s.secret) < minSecretLen {
		return "", nil, &ConfigError{msg: fmt.Sprintf("service token secret must be at least %d characters", minSecretLen)}
	}

	scopeStrs := make([]string, len(scopes))
	for i, sc := range scopes {
		scopeStrs[i] = string(sc)
	}
	iat := s.now().UTC()
	claims := &Claims{
		Scope: scopeStrs,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   string(service),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(TokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Verify checks signature, algorithm, issuer, expiry, subject, and scope.
// It never returns an error; all failures map to a reason code.
func (s *TokenService) Verify(token string) Result {
	if strings.TrimSpace(token) == "" {
		return Result{Reason: ReasonNoToken}
	}
	if len(s.secret) == 0 {
		return Result{Reason: ReasonMissingSecret}
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Result{Reason: ReasonTokenExpired}
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Result{Reason: ReasonInvalidSignature}
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return Result{Reason: ReasonSignatureMismatch}
		default:
			return Result{Reason: ReasonVerificationFailed}
		}
	}
	if !knownIdentities[Identity(claims.Subject)] {
		return Result{Reason: ReasonUnknownService}
	}
	if len(claims.Scope) == 0 {
		return Result{Reason: ReasonMissingScope}
	}
	return Result{Valid: true, Claims: claims}
}

// VerifyBearer strips the "Bearer " prefix from an Authorization header and
// delegates to Verify. Absent or malformed headers fail without touching the
// signature path.
func (s *TokenService) VerifyBearer(header string) Result {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return Result{Reason: ReasonMissingBearerHeader}
	}
	return s.Verify(strings.TrimSpace(header[len(prefix):]))
}
