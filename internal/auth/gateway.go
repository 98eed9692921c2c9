package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"classlog/internal/relstore"
	"classlog/internal/session"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("Invalid login credentials")
	// ErrUserExists is returned when signing up an email that already has an identity.
	ErrUserExists = errors.New("User already registered")
)

// Identity is the authenticated user the gateway hands back.
type Identity struct {
	UserID   string       `json:"user_id"`
	Email    string       `json:"email"`
	FullName string       `json:"full_name"`
	Role     session.Role `json:"role"`
}

// SignUpRequest carries credentials plus the profile metadata stored alongside them.
type SignUpRequest struct {
	Email    string
	Password string
	FullName string
	Role     session.Role
}

// Gateway issues and checks identities.
type Gateway interface {
	SignUp(ctx context.Context, req SignUpRequest) (Identity, error)
	SignIn(ctx context.Context, email, password string) (Identity, error)
	SignOut(ctx context.Context, s session.Session) error
	DeleteIdentity(ctx context.Context, userID string) error
}

// Directory is the Gateway backed by the auth_users, profiles and user_roles tables.
type Directory struct {
	store    relstore.Client
	sessions session.Store
	cost     int
	// revokeTTL should cover the refresh token lifetime.
	revokeTTL time.Duration
}

// NewDirectory builds a gateway. A zero cost uses bcrypt.DefaultCost.
func NewDirectory(store relstore.Client, sessions session.Store, cost int, revokeTTL time.Duration) *Directory {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Directory{store: store, sessions: sessions, cost: cost, revokeTTL: revokeTTL}
}

// SignUp creates the identity with its profile and role rows.
func (d *Directory) SignUp(ctx context.Context, req SignUpRequest) (Identity, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return Identity{}, errors.New("email and password required")
	}
	if req.Role == "" {
		req.Role = session.RoleStudent
	}
	if _, err := session.ParseRole(string(req.Role)); err != nil {
		return Identity{}, err
	}

	existing, err := d.store.Select(ctx, relstore.Query{Table: "auth_users", Columns: []string{"id"}}.Where("email", email))
	if err != nil {
		return Identity{}, fmt.Errorf("lookup identity: %w", err)
	}
	if len(existing) > 0 {
		return Identity{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), d.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := d.store.Insert(ctx, "auth_users", relstore.Row{"email": email, "password_hash": string(hash)})
	if err != nil {
		// A concurrent sign-up can pass the lookup above; the unique key still decides.
		var dup *relstore.UniqueViolation
		if errors.As(err, &dup) && dup.Constraint == "auth_users_email_key" {
			return Identity{}, ErrUserExists
		}
		return Identity{}, err
	}
	userID := user.String("id")

	if _, err := d.store.Insert(ctx, "profiles", relstore.Row{"user_id": userID, "full_name": req.FullName, "email": email}); err != nil {
		return Identity{}, d.rollback(ctx, userID, err)
	}
	if _, err := d.store.Insert(ctx, "user_roles", relstore.Row{"user_id": userID, "role": string(req.Role)}); err != nil {
		return Identity{}, d.rollback(ctx, userID, err)
	}

	return Identity{UserID: userID, Email: email, FullName: req.FullName, Role: req.Role}, nil
}

// rollback deletes a half-created identity and reports cause together with any cleanup failure.
func (d *Directory) rollback(ctx context.Context, userID string, cause error) error {
	if err := d.DeleteIdentity(ctx, userID); err != nil {
		return errors.Join(cause, fmt.Errorf("roll back identity %s: %w", userID, err))
	}
	return cause
}

// SignIn checks the password and resolves the profile name and role.
func (d *Directory) SignIn(ctx context.Context, email, password string) (Identity, error) {
	rows, err := d.store.Select(ctx, relstore.Query{Table: "auth_users"}.Where("email", normalizeEmail(email)))
	if err != nil {
		return Identity{}, fmt.Errorf("lookup identity: %w", err)
	}
	if len(rows) == 0 {
		return Identity{}, ErrInvalidCredentials
	}
	user := rows[0]
	if bcrypt.CompareHashAndPassword([]byte(user.String("password_hash")), []byte(password)) != nil {
		return Identity{}, ErrInvalidCredentials
	}

	id := Identity{UserID: user.String("id"), Email: user.String("email"), Role: session.RoleStudent}

	profiles, err := d.store.Select(ctx, relstore.Query{Table: "profiles", Columns: []string{"full_name"}}.Where("user_id", id.UserID))
	if err != nil {
		return Identity{}, fmt.Errorf("load profile: %w", err)
	}
	if len(profiles) > 0 {
		id.FullName = profiles[0].String("full_name")
	}

	roles, err := d.store.Select(ctx, relstore.Query{Table: "user_roles", Columns: []string{"role"}}.Where("user_id", id.UserID))
	if err != nil {
		return Identity{}, fmt.Errorf("load role: %w", err)
	}
	id.Role = primaryRole(roles)
	return id, nil
}

// SignOut revokes the session and clears its flags.
func (d *Directory) SignOut(ctx context.Context, s session.Session) error {
	if err := d.sessions.Revoke(ctx, s.ID, d.revokeTTL); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return d.sessions.Clear(ctx, s.ID)
}

// DeleteIdentity removes the identity and the rows SignUp created for it.
func (d *Directory) DeleteIdentity(ctx context.Context, userID string) error {
	for _, table := range []string{"profiles", "user_roles"} {
		rows, err := d.store.Select(ctx, relstore.Query{Table: table, Columns: []string{"id"}}.Where("user_id", userID))
		if err != nil {
			return fmt.Errorf("list %s: %w", table, err)
		}
		for _, row := range rows {
			if err := d.store.Delete(ctx, table, row.String("id")); err != nil && !errors.Is(err, relstore.ErrNotFound) {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
	}
	if err := d.store.Delete(ctx, "auth_users", userID); err != nil {
		return fmt.Errorf("delete identity %s: %w", userID, err)
	}
	return nil
}

// primaryRole picks the most privileged role when a user holds several.
func primaryRole(rows []relstore.Row) session.Role {
	best := session.RoleStudent
	for _, row := range rows {
		switch session.Role(row.String("role")) {
		case session.RoleAdmin:
			return session.RoleAdmin
		case session.RoleFaculty:
			best = session.RoleFaculty
		}
	}
	return best
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
