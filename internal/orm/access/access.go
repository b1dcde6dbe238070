// Package access checks route policies of models against the acting principal
package access

import (
	"fmt"
	"sort"
	"strings"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
)

// Role is one alternative of a route policy
type Role string

const (
	// RolePublic allows anyone, authenticated or not
	RolePublic Role = "public"
	// RoleUser allows any authenticated principal
	RoleUser Role = "user"
	// RoleOwner allows the principal owning the document
	RoleOwner Role = "owner"
	// RoleAdmin allows administrators
	RoleAdmin Role = "admin"
)

// DefaultPolicy applies to actions a model declares no route for
const DefaultPolicy = "user"

// Principal is the identity an operation runs as
type Principal struct {
	ID    string
	Admin bool
	Roles []string
}

// System returns the principal internal operations run as
func System() *Principal {
	return &Principal{ID: "system", Admin: true}
}

// IsAdmin reports whether the principal has administrative rights
func (p *Principal) IsAdmin() bool {
	if p == nil {
		return false
	}
	if p.Admin {
		return true
	}
	for _, r := range p.Roles {
		if r == string(RoleAdmin) {
			return true
		}
	}
	return false
}

// Policy is a set of roles any one of which grants access
type Policy map[Role]bool

// ParsePolicy parses a route value such as "admin|owner"
func ParsePolicy(s string) (Policy, error) {
	if strings.TrimSpace(s) == "" {
		s = DefaultPolicy
	}
	p := make(Policy)
	for _, part := range strings.Split(s, "|") {
		role := Role(strings.TrimSpace(part))
		switch role {
		case RolePublic, RoleUser, RoleOwner, RoleAdmin:
			p[role] = true
		default:
			return nil, fmt.Errorf("unknown access role %q in %q", part, s)
		}
	}
	return p, nil
}

// String returns the policy in route notation
func (p Policy) String() string {
	roles := make([]string, 0, len(p))
	for r := range p {
		roles = append(roles, string(r))
	}
	sort.Strings(roles)
	return strings.Join(roles, "|")
}

// Allows reports whether principal may act on a document owned by ownerID
func (p Policy) Allows(principal *Principal, ownerID string) bool {
	if p[RolePublic] {
		return true
	}
	if principal == nil || principal.ID == "" {
		return false
	}
	if p[RoleUser] {
		return true
	}
	if p[RoleAdmin] && principal.IsAdmin() {
		return true
	}
	if p[RoleOwner] && ownerID != "" && principal.ID == ownerID {
		return true
	}
	return false
}

// Authorize checks the route policy declared for action on model
func Authorize(model, action string, routes map[string]string, principal *Principal, ownerID string) error {
	policy, err := ParsePolicy(routes[action])
	if err != nil {
		return ormerrors.NewValidationError(model, "model.routes."+action, "%v", err)
	}
	if !policy.Allows(principal, ownerID) {
		if principal == nil || principal.ID == "" {
			return ormerrors.NewAccessError(model, "%s requires an authenticated principal", action)
		}
		return ormerrors.NewAccessError(model, "%s requires %s", action, policy)
	}
	return nil
}

// OwnerOf reads the owner identity of a document from ownerField
func OwnerOf(doc map[string]interface{}, ownerField string) string {
	if doc == nil || ownerField == "" {
		return ""
	}
	switch v := doc[ownerField].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
