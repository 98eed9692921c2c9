// Package shell is the role-specific dashboard frame: which sections a role sees, which one is
// active for a session, and which view is currently bound to it.
package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"classlog/internal/session"
)

// ErrUnknownSection is returned when selecting a section the role does not have.
var ErrUnknownSection = errors.New("unknown section")

// Dashboard is the section every role lands on.
const Dashboard = "dashboard"

var sections = map[session.Role][]string{
	session.RoleAdmin: {
		Dashboard, "students", "faculty", "departments", "classes", "subjects",
		"assignments", "timetable", "attendance", "users",
	},
	session.RoleFaculty: {
		Dashboard, "attendance", "students", "timetable", "assignments", "applications", "myattendance",
	},
	session.RoleStudent: {
		Dashboard, "attendance", "fees", "assignments",
	},
}

// Sections lists the sidebar entries of role in display order.
func Sections(role session.Role) []string {
	return append([]string(nil), sections[role]...)
}

// Allowed reports whether role has section.
func Allowed(role session.Role, section string) bool {
	for _, s := range sections[role] {
		if s == section {
			return true
		}
	}
	return false
}

// View is whatever a section renders while it is active. Closing it cancels pending work.
type View interface {
	Close()
}

// State is the shell as one session sees it.
type State struct {
	Role     session.Role `json:"role"`
	Name     string       `json:"name,omitempty"`
	Sections []string     `json:"sections"`
	Active   string       `json:"active"`
}

type binding struct {
	section string
	view    View
}

// Shell tracks the active section per session and the view bound to it.
type Shell struct {
	store session.Store
	ttl   time.Duration
	log   *zap.Logger

	mu    sync.Mutex
	bound map[string]binding
}

// New builds a shell persisting active sections in store for ttl.
func New(store session.Store, ttl time.Duration, log *zap.Logger) *Shell {
	if log == nil {
		log = zap.NewNop()
	}
	return &Shell{store: store, ttl: ttl, log: log, bound: map[string]binding{}}
}

// State returns the sections of the session's role and the active one, Dashboard when none was
// selected yet.
func (s *Shell) State(ctx context.Context, sess session.Session) (State, error) {
	active, err := s.Active(ctx, sess)
	if err != nil {
		return State{}, err
	}
	return State{Role: sess.Role, Name: sess.Name, Sections: Sections(sess.Role), Active: active}, nil
}

// Active returns the selected section of sess.
func (s *Shell) Active(ctx context.Context, sess session.Session) (string, error) {
	section, err := s.store.Section(ctx, sess.ID)
	if err != nil {
		return "", fmt.Errorf("read section: %w", err)
	}
	if section == "" || !Allowed(sess.Role, section) {
		return Dashboard, nil
	}
	return section, nil
}

// Select makes section active and closes the view bound to the previous one.
func (s *Shell) Select(ctx context.Context, sess session.Session, section string) error {
	if !Allowed(sess.Role, section) {
		return fmt.Errorf("%w: %q for %s", ErrUnknownSection, section, sess.Role)
	}
	if err := s.store.SetSection(ctx, sess.ID, section, s.ttl); err != nil {
		return fmt.Errorf("store section: %w", err)
	}

	s.mu.Lock()
	prev, ok := s.bound[sess.ID]
	if ok && prev.section != section {
		delete(s.bound, sess.ID)
	}
	s.mu.Unlock()

	if ok && prev.section != section {
		prev.view.Close()
		s.log.Debug("closed view", zap.String("session", sess.ID), zap.String("section", prev.section))
	}
	return nil
}

// Bind attaches view to the session's section, closing any view it replaces.
func (s *Shell) Bind(sessionID, section string, view View) {
	s.mu.Lock()
	prev, ok := s.bound[sessionID]
	s.bound[sessionID] = binding{section: section, view: view}
	s.mu.Unlock()

	if ok && prev.view != view {
		prev.view.Close()
	}
}

// Release closes the view of a signed-out session.
func (s *Shell) Release(sessionID string) {
	s.mu.Lock()
	prev, ok := s.bound[sessionID]
	delete(s.bound, sessionID)
	s.mu.Unlock()

	if ok {
		prev.view.Close()
	}
}
