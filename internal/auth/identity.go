package auth

import "fmt"

// Identity names an internal caller allowed to hold service tokens. The set
// is closed; anything else is rejected at the boundary before a token is
// built.
type Identity string

const (
	IdentityCron      Identity = "cron"
	IdentityScheduler Identity = "scheduler"
	IdentityScanner   Identity = "scanner"
)

// Scope is a named permission embedded in a service token.
type Scope string

const (
	ScopeWriteLatestRuns Scope = "write:latest-runs"
	ScopeWriteScanCache  Scope = "write:scan-cache"
	ScopeReadUsage       Scope = "read:usage"
)

var knownIdentities = map[Identity]bool{
	IdentityCron:      true,
	IdentityScheduler: true,
	IdentityScanner:   true,
}

var knownScopes = map[Scope]bool{
	ScopeWriteLatestRuns: true,
	ScopeWriteScanCache:  true,
	ScopeReadUsage:       true,
}

// UnknownIdentifierError reports a service name or scope outside the closed
// sets, naming the offending value.
type UnknownIdentifierError struct {
	Kind  string // "service" or "scope"
	Value string
}

func (e *UnknownIdentifierError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Value)
}

// ParseIdentity validates untrusted input against the identity set.
func ParseIdentity(s string) (Identity, error) {
	id := Identity(s)
	if !knownIdentities[id] {
		return "", &UnknownIdentifierError{Kind: "service", Value: s}
	}
	return id, nil
}

// ParseScopes validates a list of untrusted scope strings.
func ParseScopes(raw []string) ([]Scope, error) {
	scopes := make([]Scope, 0, len(raw))
	for _, s := range raw {
		sc := Scope(s)
		if !knownScopes[sc] {
			return nil, &UnknownIdentifierError{Kind: "scope", Value: s}
		}
		scopes = append(scopes, sc)
	}
	return scopes, nil
}
