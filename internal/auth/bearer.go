package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the ops API. A "<resource>:rw" grant implies the
// matching ":ro" one.
const (
	ScopeAll           = "*"
	ScopePluginsRead   = "plugins:ro"
	ScopePluginsWrite  = "plugins:rw"
	ScopeConnsRead     = "connections:ro"
	ScopeEventsRead    = "events:ro"
	ScopeSystemControl = "system:rw"
)

var (
	ErrNoCredentials = errors.New("missing Authorization header")
	ErrNotBearer     = errors.New("authorization scheme must be Bearer")
	ErrEmptyBearer   = errors.New("missing API key")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// ScopeSet is the expanded set of grants held by a principal.
type ScopeSet map[string]struct{}

func newScopeSet(scopes []string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		set[s] = struct{}{}
		if resource, ok := strings.CutSuffix(s, ":rw"); ok {
			set[resource+":ro"] = struct{}{}
		}
	}
	return set
}

func (s ScopeSet) has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// Principal is an authenticated API caller.
type Principal struct {
	Token  string
	Scopes ScopeSet
}

// Admin reports whether the principal holds the wildcard scope.
func (p Principal) Admin() bool { return p.Scopes.has(ScopeAll) }

// HasAny reports whether the principal holds at least one of the scopes.
// No required scopes means any authenticated principal passes.
func (p Principal) HasAny(required ...string) bool {
	if len(required) == 0 || p.Admin() {
		return true
	}
	for _, s := range required {
		if p.Scopes.has(s) {
			return true
		}
	}
	return false
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken reads "Authorization: Bearer <token>". The scheme is
// matched case-insensitively.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNotBearer
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrEmptyBearer
	}
	return token, nil
}

// Authenticate resolves a presented bearer token. The admin key maps to the
// wildcard scope; otherwise the first matching configured token wins.
func Authenticate(presented, adminKey string, tokens []TokenConfig) (Principal, bool) {
	if ValidToken(presented, adminKey) {
		return Principal{Token: presented, Scopes: newScopeSet([]string{ScopeAll})}, true
	}
	for _, t := range tokens {
		if ValidToken(presented, t.Token) {
			return Principal{Token: presented, Scopes: newScopeSet(t.Scopes)}, true
		}
	}
	return Principal{}, false
}
