package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef" // 32 chars

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc := NewTokenService(testSecret)
	tok, issued, err := svc.Issue(IdentityCron, []Scope{ScopeWriteLatestRuns})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res := svc.Verify(tok)
	if !res.Valid {
		t.Fatalf("expected valid, reason=%s", res.Reason)
	}
	// The claims handed back by Issue are the signed ones, not a re-read of
	// the clock.
	if !res.Claims.ExpiresAt.Time.Equal(issued.ExpiresAt.Time) {
		t.Fatalf("issued exp %v != verified exp %v", issued.ExpiresAt.Time, res.Claims.ExpiresAt.Time)
	}
	if !res.Claims.IssuedAt.Time.Equal(issued.IssuedAt.Time) {
		t.Fatalf("issued iat %v != verified iat %v", issued.IssuedAt.Time, res.Claims.IssuedAt.Time)
	}
	if res.Claims.Subject != "cron" {
		t.Fatalf("subject: got %q", res.Claims.Subject)
	}
	if len(res.Claims.Scope) != 1 || res.Claims.Scope[0] != "write:latest-runs" {
		t.Fatalf("scope: got %v", res.Claims.Scope)
	}
	if !res.Claims.HasScope(ScopeWriteLatestRuns) {
		t.Fatal("HasScope should match")
	}
	if res.Claims.HasScope(ScopeReadUsage) {
		t.Fatal("HasScope matched a scope the token does not carry")
	}
	exp := res.Claims.ExpiresAt.Time
	iat := res.Claims.IssuedAt.Time
	if exp.Sub(iat) != time.Hour {
		t.Fatalf("ttl: got %v", exp.Sub(iat))
	}
}

func TestIssueUnknownService(t *testing.T) {
	svc := NewTokenService(testSecret)
	_, _, err := svc.Issue(Identity("ghost"), []Scope{ScopeReadUsage})
	var unk *UnknownIdentifierError
	if !errors.As(err, &unk) {
		t.Fatalf("expected UnknownIdentifierError, got %v", err)
	}
	if unk.Kind != "service" || unk.Value != "ghost" {
		t.Fatalf("error should name the offending value: %+v", unk)
	}
}

func TestIssueUnknownScope(t *testing.T) {
	svc := NewTokenService(testSecret)
	_, _, err := svc.Issue(IdentityCron, []Scope{Scope("write:everything")})
	var unk *UnknownIdentifierError
	if !errors.As(err, &unk) {
		t.Fatalf("expected UnknownIdentifierError, got %v", err)
	}
	if unk.Kind != "scope" {
		t.Fatalf("kind: %q", unk.Kind)
	}
}

func TestIssueShortSecret(t *testing.T) {
	svc := NewTokenService("tooshort")
	_, _, err := svc.Issue(IdentityCron, []Scope{ScopeReadUsage})
	var cfg *ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestVerifyNoToken(t *testing.T) {
	svc := NewTokenService(testSecret)
	for _, tok := range []string{"", "   "} {
		if res := svc.Verify(tok); res.Valid || res.Reason != ReasonNoToken {
			t.Fatalf("token %q: got %+v", tok, res)
		}
	}
}

func TestVerifyMissingSecret(t *testing.T) {
	svc := NewTokenService("")
	if res := svc.Verify("x.y.z"); res.Valid || res.Reason != ReasonMissingSecret {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyExpired(t *testing.T) {
	svc := NewTokenService(testSecret)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, _, err := svc.Issue(IdentityScheduler, []Scope{ScopeWriteScanCache})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if res := svc.Verify(tok); res.Valid || res.Reason != ReasonTokenExpired {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	svc := NewTokenService(testSecret)
	tok, _, err := svc.Issue(IdentityCron, []Scope{ScopeReadUsage})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	res := svc.Verify(parts[0] + "." + parts[1] + "." + string(sig))
	if res.Valid {
		t.Fatal("tampered token verified")
	}
	if res.Reason != ReasonInvalidSignature && res.Reason != ReasonSignatureMismatch {
		t.Fatalf("expected a signature reason, got %q", res.Reason)
	}
}

func TestVerifyWrongKey(t *testing.T) {
	tok, _, err := NewTokenService(testSecret).Issue(IdentityCron, []Scope{ScopeReadUsage})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other := NewTokenService("ffffffffffffffffffffffffffffffff")
	res := other.Verify(tok)
	if res.Valid {
		t.Fatal("token verified under a different secret")
	}
	if res.Reason != ReasonInvalidSignature && res.Reason != ReasonSignatureMismatch {
		t.Fatalf("expected a signature reason, got %q", res.Reason)
	}
}

// Tokens signed with the right key but claims outside the closed sets must
// still be rejected.
func signRaw(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestVerifyUnknownSubject(t *testing.T) {
	now := time.Now()
	tok := signRaw(t, Claims{
		Scope: []string{"read:usage"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "ghost",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	svc := NewTokenService(testSecret)
	if res := svc.Verify(tok); res.Valid || res.Reason != ReasonUnknownService {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyMissingScopeClaim(t *testing.T) {
	now := time.Now()
	tok := signRaw(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "cron",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	svc := NewTokenService(testSecret)
	if res := svc.Verify(tok); res.Valid || res.Reason != ReasonMissingScope {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyWrongIssuer(t *testing.T) {
	now := time.Now()
	tok := signRaw(t, Claims{
		Scope: []string{"read:usage"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "cron",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	svc := NewTokenService(testSecret)
	if res := svc.Verify(tok); res.Valid || res.Reason != ReasonVerificationFailed {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyBearer(t *testing.T) {
	svc := NewTokenService(testSecret)
	tok, _, err := svc.Issue(IdentityCron, []Scope{ScopeReadUsage})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if res := svc.VerifyBearer("Bearer " + tok); !res.Valid {
		t.Fatalf("bearer round trip: %+v", res)
	}
	for _, header := range []string{"", "Basic abc123", "bearer " + tok, tok} {
		res := svc.VerifyBearer(header)
		if res.Valid || res.Reason != ReasonMissingBearerHeader {
			t.Fatalf("header %q: got %+v", header, res)
		}
	}
}

func TestParseBoundaries(t *testing.T) {
	if _, err := ParseIdentity("cron"); err != nil {
		t.Fatalf("cron should parse: %v", err)
	}
	if _, err := ParseIdentity("root"); err == nil {
		t.Fatal("root should not parse")
	}
	if _, err := ParseScopes([]string{"read:usage", "write:latest-runs"}); err != nil {
		t.Fatalf("known scopes should parse: %v", err)
	}
	if _, err := ParseScopes([]string{"read:usage", "admin:*"}); err == nil {
		t.Fatal("unknown scope should not parse")
	}
}
