package crud

import (
	"context"
	"errors"
	"sync"
	"time"

	"classlog/internal/auth"
	"classlog/internal/relstore"
	"classlog/internal/session"
)

type staffProfile struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

type staffDepartment struct {
	Name string `json:"name"`
}

type staffRecord struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	EmployeeID   string           `json:"employee_id"`
	DepartmentID string           `json:"department_id"`
	Status       string           `json:"status"`
	Profiles     *staffProfile    `json:"profiles"`
	Departments  *staffDepartment `json:"departments"`
}

type staffForm struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password,omitempty" validate:"-"`
	FullName     string `json:"full_name" validate:"required"`
	EmployeeID   string `json:"employee_id" validate:"required"`
	DepartmentID string `json:"department_id" validate:"required"`
}

func staffSpec() *Spec[staffRecord, staffForm] {
	return &Spec[staffRecord, staffForm]{
		Name:   "faculty",
		Noun:   "Faculty",
		Plural: "faculty",
		Table:  "faculty",
		Joins: []relstore.Join{
			{Alias: "profiles", Table: "profiles", LocalKey: "user_id", ForeignKey: "user_id", Columns: []string{"full_name", "email"}},
			{Alias: "departments", Table: "departments", LocalKey: "department_id", Columns: []string{"name"}},
		},
		Defaults: func(time.Time) staffForm { return staffForm{} },
		FromRecord: func(r staffRecord) staffForm {
			f := staffForm{EmployeeID: r.EmployeeID, DepartmentID: r.DepartmentID}
			if r.Profiles != nil {
				f.FullName = r.Profiles.FullName
				f.Email = r.Profiles.Email
			}
			return f
		},
		ID: func(r staffRecord) string { return r.ID },
		Row: func(f staffForm) relstore.Row {
			return relstore.Row{"employee_id": f.EmployeeID, "department_id": f.DepartmentID}
		},
		Redact: func(f staffForm) staffForm {
			f.Password = ""
			return f
		},
		References: []Reference{
			{Field: "department_id", Query: relstore.Query{Table: "departments", Columns: []string{"id", "name"}}},
		},
		Identity: &Identity[staffRecord, staffForm]{
			SignUp: func(f staffForm) auth.SignUpRequest {
				return auth.SignUpRequest{Email: f.Email, Password: f.Password, FullName: f.FullName, Role: session.RoleFaculty}
			},
			LinkColumn: "user_id",
			UserID:     func(r staffRecord) string { return r.UserID },
			Profile: func(f staffForm) relstore.Row {
				return relstore.Row{"full_name": f.FullName, "email": f.Email}
			},
		},
		Statuses: []string{"active", "inactive"},
	}
}

// recordingStore logs writes in order and injects per-table failures.
type recordingStore struct {
	*relstore.Memory

	mu        sync.Mutex
	calls     []string
	selects   map[string]int
	insertErr map[string]error
	selectErr map[string]error
	// block, when set, holds the first Select until its context ends.
	block chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		Memory:    relstore.NewMemory(),
		selects:   map[string]int{},
		insertErr: map[string]error{},
		selectErr: map[string]error{},
	}
}

func (s *recordingStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingStore) Select(ctx context.Context, q relstore.Query) ([]relstore.Row, error) {
	s.mu.Lock()
	s.selects[q.Table]++
	err := s.selectErr[q.Table]
	block := s.block
	s.block = nil
	s.mu.Unlock()

	if block != nil {
		close(block)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return s.Memory.Select(ctx, q)
}

func (s *recordingStore) Insert(ctx context.Context, table string, values relstore.Row) (relstore.Row, error) {
	s.record("insert:" + table)
	s.mu.Lock()
	err := s.insertErr[table]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Memory.Insert(ctx, table, values)
}

func (s *recordingStore) Update(ctx context.Context, table, id string, values relstore.Row) (relstore.Row, error) {
	s.record("update:" + table)
	return s.Memory.Update(ctx, table, id, values)
}

// fakeGateway hands out a fixed identity id and records every call on the shared store log.
type fakeGateway struct {
	store     *recordingStore
	userID    string
	signUpErr error
	deleteErr error

	mu      sync.Mutex
	signUps []auth.SignUpRequest
	deletes []string
}

func (g *fakeGateway) SignUp(_ context.Context, req auth.SignUpRequest) (auth.Identity, error) {
	g.store.record("signup")
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signUps = append(g.signUps, req)
	if g.signUpErr != nil {
		return auth.Identity{}, g.signUpErr
	}
	return auth.Identity{UserID: g.userID, Email: req.Email, FullName: req.FullName, Role: req.Role}, nil
}

func (g *fakeGateway) SignIn(context.Context, string, string) (auth.Identity, error) {
	return auth.Identity{}, errors.New("not used")
}

func (g *fakeGateway) SignOut(context.Context, session.Session) error { return nil }

func (g *fakeGateway) DeleteIdentity(_ context.Context, userID string) error {
	g.store.record("delete_identity")
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes = append(g.deletes, userID)
	return g.deleteErr
}
