package access

import (
	"time"

	"github.com/google/uuid"
)

// Token is the verified content of a bearer token. It is constructed once
// per request from signature-verified claims and is immutable for the
// request's duration.
type Token struct {
	Issuer    string
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time
	UserID    string
	TenantID  uuid.UUID
	Audiences []string
	Roles     []string
	TokenID   string
	Critical  bool
}

// HasAudience returns the first candidate that is present verbatim in the
// token's audience list.
func (t *Token) HasAudience(candidates []string) (string, bool) {
	if t == nil {
		return "", false
	}
	for _, candidate := range candidates {
		for _, audience := range t.Audiences {
			if candidate == audience {
				return candidate, true
			}
		}
	}
	return "", false
}

// HasAudiences returns all candidates present in the token's audience list,
// preserving candidate order.
func (t *Token) HasAudiences(candidates []string) []string {
	var matches []string
	if t == nil {
		return matches
	}
	for _, candidate := range candidates {
		for _, audience := range t.Audiences {
			if candidate == audience {
				matches = append(matches, candidate)
				break
			}
		}
	}
	return matches
}

// ScopeList parses all audiences into scopes, skipping malformed entries
func (t *Token) ScopeList() []AccessScope {
	var scopes []AccessScope
	for _, audience := range t.Audiences {
		scope, err := ParseScope(audience)
		if err != nil {
			continue
		}
		scopes = append(scopes, scope)
	}
	return scopes
}

// Access wraps a decoded token plus the narrowed scope subset that satisfied
// the current endpoint's requirement, and optionally a resolved user object.
type Access struct {
	Token  *Token
	Scope  *AccessScope
	Scopes []AccessScope
	User   interface{}
}

// UserID returns the token subject
func (a *Access) UserID() string {
	if a == nil || a.Token == nil {
		return ""
	}
	return a.Token.UserID
}

// TenantID returns the token's tenant
func (a *Access) TenantID() uuid.UUID {
	if a == nil || a.Token == nil {
		return uuid.UUID{}
	}
	return a.Token.TenantID
}

// WithMatchedScopes returns a copy of the access narrowed to the scopes that
// satisfied an endpoint's requirement. The first match becomes Scope.
func (a *Access) WithMatchedScopes(matched []AccessScope) *Access {
	narrowed := &Access{Token: a.Token, User: a.User, Scopes: matched}
	if len(matched) > 0 {
		narrowed.Scope = &matched[0]
	}
	return narrowed
}
