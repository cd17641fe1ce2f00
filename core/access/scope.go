/*Package access provides the scope model and access-token utilities for
the generated REST routes.

A scope is a dotted permission string of the form

  service.resource.action[.selector]

granted to a bearer token as one of its audiences. Routes and schema fields
declare required scopes; the token's audience list decides whether the
caller qualifies.
*/
package access

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedScope is returned when a scope string has fewer than the
// mandatory service and resource segments.
var ErrMalformedScope = errors.New("malformed scope")

// AccessScope is an immutable parsed scope
type AccessScope struct {
	Service  string
	Resource string
	Action   string
	Selector string
}

// ParseScope parses a dotted scope string with 2 to 4 segments. Action and
// selector default to empty.
func ParseScope(s string) (AccessScope, error) {
	segments := strings.Split(s, ".")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return AccessScope{}, fmt.Errorf("%w: %q", ErrMalformedScope, s)
	}
	scope := AccessScope{
		Service:  segments[0],
		Resource: segments[1],
	}
	if len(segments) > 2 {
		scope.Action = segments[2]
	}
	if len(segments) > 3 {
		scope.Selector = segments[3]
	}
	return scope, nil
}

// MustParseScope parses a scope string and panics on error. Intended for
// static configuration.
func MustParseScope(s string) AccessScope {
	scope, err := ParseScope(s)
	if err != nil {
		panic(err)
	}
	return scope
}

// String returns the canonical dotted form. It round-trips with ParseScope
// for any scope produced by ParseScope.
func (s AccessScope) String() string {
	segments := make([]string, 0, 4)
	for _, segment := range []string{s.Service, s.Resource, s.Action, s.Selector} {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return strings.Join(segments, ".")
}
