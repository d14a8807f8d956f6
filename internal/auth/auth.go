package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

const (
	RoleAnalyst = "analyst"
	RoleAdmin   = "admin"
)

// Identity is the caller behind an API key. Sessions are scoped to the
// principal, so two callers may use the same session id independently.
type Identity struct {
	Principal string
	Roles     []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// CanQuery reports whether the identity may configure sessions and ask questions.
func (i Identity) CanQuery() bool {
	return i.HasRole(RoleAnalyst) || i.HasRole(RoleAdmin)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses "key:principal:role|role" entries separated by commas.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		key, identity, err := parseStaticKey(strings.TrimSpace(entry))
		if err != nil {
			return nil, err
		}
		if _, exists := validator.keys[key]; exists {
			return nil, fmt.Errorf("duplicate static key entry for principal %q", identity.Principal)
		}
		validator.keys[key] = identity
	}
	return validator, nil
}

func parseStaticKey(entry string) (string, Identity, error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 {
		return "", Identity{}, fmt.Errorf("invalid static key entry %q: expected key:principal:role|role", entry)
	}
	key := strings.TrimSpace(parts[0])
	principal := strings.TrimSpace(parts[1])
	if key == "" || principal == "" {
		return "", Identity{}, fmt.Errorf("invalid static key entry %q: empty key/principal", entry)
	}

	var roles []string
	for _, role := range strings.Split(parts[2], "|") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
	}
	slices.Sort(roles)
	return key, Identity{Principal: principal, Roles: roles}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}
