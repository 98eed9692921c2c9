// Package session models who is driving the dashboard and how they got in.
package session

import (
	"context"
	"fmt"
)

// Role is the dashboard a session opens.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleFaculty Role = "faculty"
	RoleStudent Role = "student"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleFaculty, RoleStudent:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Method records how a session was established.
type Method string

const (
	// MethodGateway sessions were verified by the auth gateway.
	MethodGateway Method = "gateway"
	// MethodSimulated sessions come from the demo faculty and student logins, which accept any
	// non-empty credentials.
	MethodSimulated Method = "simulated"
)

// Session is the authenticated caller carried through request contexts.
type Session struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
	Method  Method `json:"method"`
	Name    string `json:"name,omitempty"`
}

// Verified reports whether the gateway vouched for this session.
func (s Session) Verified() bool {
	return s.Method == MethodGateway
}

// CanWrite reports whether the session may create or update records.
func (s Session) CanWrite() bool {
	return s.Verified() && s.Role == RoleAdmin
}

// Flags are the per-session values the demo logins set and logout clears.
type Flags struct {
	UserType string `json:"userType,omitempty"`
	UserName string `json:"userName,omitempty"`
}

type ctxKey struct{}

// WithSession stores s on ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored on ctx.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
