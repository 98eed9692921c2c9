package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"classlog/internal/auth"
	"classlog/internal/cloudinary"
	"classlog/internal/config"
	"classlog/internal/metrics"
	"classlog/internal/queue"
	"classlog/internal/relstore"
	"classlog/internal/session"
)

type harness struct {
	t        *testing.T
	srv      *Server
	store    *relstore.Memory
	sessions *session.MemoryStore
	dir      *auth.Directory
	reg      *prometheus.Registry
}

func testConfig() config.App {
	return config.App{
		JWTIssuer:       "classlog-test",
		JWTSigningKey:   "test-signing-key",
		AccessTTL:       time.Minute,
		RefreshTTL:      time.Hour,
		DemoFacultyName: "Dr. John Smith",
		DemoStudentName: "Alice Johnson",
	}
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := relstore.NewMemory().
		Unique("auth_users", "email").
		Unique("departments", "code").
		Unique("students", "roll_number")
	sessions := session.NewMemoryStore()
	dir := auth.NewDirectory(store, sessions, bcrypt.MinCost, time.Hour)
	reg := prometheus.NewRegistry()

	deps := Deps{
		Config:   testConfig(),
		Store:    store,
		Gateway:  dir,
		Sessions: sessions,
		Queue:    queue.NewInMemory(4),
		Metrics:  metrics.New(reg),
		Gatherer: reg,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	_, err := dir.SignUp(context.Background(), auth.SignUpRequest{Email: "root@college.edu", Password: "secret1", FullName: "Root Admin", Role: session.RoleAdmin})
	require.NoError(t, err)

	return &harness{t: t, srv: New(deps), store: store, sessions: sessions, dir: dir, reg: reg}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (h *harness) admin() string {
	h.t.Helper()
	w := h.do(http.MethodPost, "/v1/auth/signin", "", gin.H{"email": "root@college.edu", "password": "secret1"})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	return decode(h.t, w)["tokens"].(map[string]any)["access_token"].(string)
}

func (h *harness) demo(role string) string {
	h.t.Helper()
	w := h.do(http.MethodPost, "/v1/auth/demo", "", gin.H{"role": role, "identifier": "demo-" + role, "password": "x"})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	return decode(h.t, w)["tokens"].(map[string]any)["access_token"].(string)
}

func notification(t *testing.T, body map[string]any) string {
	t.Helper()
	n, ok := body["notification"].(map[string]any)
	require.True(t, ok, "no notification in %v", body)
	return n["description"].(string)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Checks = map[string]Check{
			"db":    func(context.Context) bool { return true },
			"redis": func(context.Context) bool { return false },
		}
	})
	w := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, true, body["db"])
	assert.Equal(t, false, body["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodGet, "/healthz", "", nil)
	w := h.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `classlog_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
}

func TestSignIn(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/v1/auth/signin", "", gin.H{"email": "root@college.edu", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid login credentials", notification(t, decode(t, w)))

	w = h.do(http.MethodPost, "/v1/auth/signin", "", gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.do(http.MethodPost, "/v1/auth/signin", "", gin.H{"email": "ROOT@college.edu", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Logged in successfully", notification(t, body))
	sess := body["session"].(map[string]any)
	assert.Equal(t, "admin", sess["role"])
	assert.Equal(t, "gateway", sess["method"])
	assert.Equal(t, "Root Admin", sess["name"])
}

func TestDemoSignInSetsFlags(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/v1/auth/demo", "", gin.H{"role": "faculty", "identifier": "", "password": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = h.do(http.MethodPost, "/v1/auth/demo", "", gin.H{"role": "admin", "identifier": "a", "password": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	token := h.demo("faculty")
	w = h.do(http.MethodGet, "/v1/session", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, map[string]any{"userType": "faculty", "userName": "Dr. John Smith"}, body["flags"])
	assert.Equal(t, false, body["can_write"])
	assert.Equal(t, "simulated", body["session"].(map[string]any)["method"])
}

func TestReadAccessFollowsShell(t *testing.T) {
	h := newHarness(t)
	faculty := h.demo("faculty")
	student := h.demo("student")

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/students", faculty, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/v1/departments", faculty, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/assignments", student, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/v1/students", student, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/v1/stats", student, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/students", "", nil).Code)
}

func TestSimulatedSessionsCannotWrite(t *testing.T) {
	h := newHarness(t)
	faculty := h.demo("faculty")

	w := h.do(http.MethodPost, "/v1/attendance", faculty, gin.H{"student_id": "s1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/v1/attendance/form", faculty, nil).Code)

	n, err := h.store.Count(context.Background(), "attendance")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDepartmentCreateFlow(t *testing.T) {
	h := newHarness(t)
	token := h.admin()

	w := h.do(http.MethodPost, "/v1/departments", token, gin.H{"code": "PHY"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "open", body["state"])
	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "name", errs[0].(map[string]any)["field"])

	w = h.do(http.MethodPost, "/v1/departments", token, gin.H{"name": "Physics", "code": "PHY"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "Department added successfully", notification(t, body))
	assert.Equal(t, "closed", body["state"])
	rows := body["list"].(map[string]any)["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "Physics", rows[0].(map[string]any)["name"])

	w = h.do(http.MethodPost, "/v1/departments", token, gin.H{"name": "Physics Again", "code": "PHY"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body = decode(t, w)
	assert.Contains(t, notification(t, body), "departments_code_key")
	assert.Equal(t, "open", body["state"])
	assert.Equal(t, "Physics Again", body["form"].(map[string]any)["name"])
}

func TestStudentLifecycle(t *testing.T) {
	h := newHarness(t)
	token := h.admin()
	ctx := context.Background()

	cls, err := h.store.Insert(ctx, "classes", relstore.Row{"name": "CS-A", "academic_year": "2026-2027"})
	require.NoError(t, err)

	w := h.do(http.MethodGet, "/v1/students/form", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "create", body["mode"])
	assert.Len(t, body["options"].(map[string]any)["class_id"], 1)

	w = h.do(http.MethodPost, "/v1/students", token, gin.H{
		"email": "alice@college.edu", "password": "secret", "full_name": "Alice Johnson",
		"roll_number": "R-1", "class_id": cls.String("id"),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "Student added successfully", notification(t, body))
	assert.Equal(t, "domain_row_created", body["saga"].(map[string]any)["state"])
	assert.Empty(t, body["form"].(map[string]any)["password"])
	row := body["list"].(map[string]any)["rows"].([]any)[0].(map[string]any)
	assert.Equal(t, "Alice Johnson", row["profiles"].(map[string]any)["full_name"])
	assert.Equal(t, "active", row["status"])
	id := row["id"].(string)

	w = h.do(http.MethodGet, "/v1/students/form?id="+id, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	form := decode(t, w)["form"].(map[string]any)
	assert.Equal(t, "R-1", form["roll_number"])
	assert.Equal(t, "alice@college.edu", form["email"])

	form["full_name"] = "Alice J. Johnson"
	w = h.do(http.MethodPut, "/v1/students/"+id, token, form)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Student updated successfully", notification(t, decode(t, w)))

	id2, err := h.dir.SignIn(ctx, "alice@college.edu", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Alice J. Johnson", id2.FullName)
	assert.Equal(t, session.RoleStudent, id2.Role)

	w = h.do(http.MethodPatch, "/v1/students/"+id+"/status", token, gin.H{"status": "graduated"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = h.do(http.MethodPatch, "/v1/students/"+id+"/status", token, gin.H{"status": "inactive"})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodPatch, "/v1/students/missing/status", token, gin.H{"status": "inactive"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodGet, "/v1/students", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode(t, w)["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "inactive", rows[0].(map[string]any)["status"])
}

func TestStudentRollClashCompensatesIdentity(t *testing.T) {
	h := newHarness(t)
	token := h.admin()
	ctx := context.Background()

	_, err := h.store.Insert(ctx, "students", relstore.Row{"roll_number": "R-1", "status": "active"})
	require.NoError(t, err)

	w := h.do(http.MethodPost, "/v1/students", token, gin.H{
		"email": "bob@college.edu", "password": "secret", "full_name": "Bob", "roll_number": "R-1", "class_id": "c1",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Contains(t, notification(t, body), "students_roll_number_key")
	assert.Equal(t, true, body["saga"].(map[string]any)["compensated"])
	assert.Equal(t, "R-1", body["form"].(map[string]any)["roll_number"])

	_, err = h.dir.SignIn(ctx, "bob@college.edu", "secret")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestUsersAreCreateOnly(t *testing.T) {
	h := newHarness(t)
	token := h.admin()

	w := h.do(http.MethodPost, "/v1/users", token, gin.H{"email": "dean@college.edu", "password": "secret", "full_name": "Dean", "role": "faculty"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "User created successfully", notification(t, decode(t, w)))

	w = h.do(http.MethodGet, "/v1/users", token, nil)
	rows := decode(t, w)["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "Dean", rows[0].(map[string]any)["full_name"])

	id := rows[0].(map[string]any)["id"].(string)
	assert.Equal(t, http.StatusMethodNotAllowed, h.do(http.MethodGet, "/v1/users/form?id="+id, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPut, "/v1/users/"+id, token, gin.H{}).Code)
}

func TestShellNavigation(t *testing.T) {
	h := newHarness(t)
	token := h.admin()
	ctx := context.Background()
	_, err := h.store.Insert(ctx, "departments", relstore.Row{"name": "Maths", "code": "MA"})
	require.NoError(t, err)

	w := h.do(http.MethodGet, "/v1/shell", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "dashboard", body["active"])
	assert.Len(t, body["sections"], 10)

	w = h.do(http.MethodGet, "/v1/shell/view", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["departments"])
	assert.Equal(t, float64(0), stats["students"])

	w = h.do(http.MethodPut, "/v1/shell/section", token, gin.H{"section": "fees"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPut, "/v1/shell/section", token, gin.H{"section": "departments"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "departments", decode(t, w)["active"])

	w = h.do(http.MethodGet, "/v1/shell/view", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "departments", body["section"])
	assert.Len(t, body["list"].(map[string]any)["rows"], 1)

	student := h.demo("student")
	w = h.do(http.MethodPut, "/v1/shell/section", student, gin.H{"section": "fees"})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodGet, "/v1/shell/view", student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"section": "fees"}, decode(t, w))
}

func TestRefreshAndSignOut(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/v1/auth/demo", "", gin.H{"role": "student", "identifier": "s-1", "password": "x"})
	require.Equal(t, http.StatusOK, w.Code)
	tokens := decode(t, w)["tokens"].(map[string]any)
	access := tokens["access_token"].(string)
	refresh := tokens["refresh_token"].(string)

	w = h.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": access})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = h.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodPost, "/v1/auth/signout", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Logged out successfully", notification(t, decode(t, w)))

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/session", access, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": refresh}).Code)
}

func TestAvatarUpload(t *testing.T) {
	h := newHarness(t)
	token := h.admin()
	profiles, err := h.store.Select(context.Background(), relstore.Query{Table: "profiles"})
	require.NoError(t, err)
	id := profiles[0].String("id")

	w := h.do(http.MethodPost, "/v1/profiles/"+id+"/avatar", token, gin.H{"data": "data:image/png;base64,AAAA"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		_, _ = w.Write([]byte(`{"public_id":"` + r.FormValue("public_id") + `","secure_url":"https://res.example/a.png"}`))
	}))
	defer cdn.Close()
	cloud := cloudinary.New("demo", "key", "secret", "")
	cloud.BaseURL = cdn.URL

	h = newHarness(t, func(d *Deps) { d.Cloud = cloud })
	token = h.admin()
	profiles, err = h.store.Select(context.Background(), relstore.Query{Table: "profiles"})
	require.NoError(t, err)
	id = profiles[0].String("id")

	w = h.do(http.MethodPost, "/v1/profiles/missing/avatar", token, gin.H{"data": "AAAA"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPost, "/v1/profiles/"+id+"/avatar", token, gin.H{"data": "data:image/png;base64,AAAA"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "https://res.example/a.png", body["url"])
	assert.True(t, strings.HasPrefix(body["public_id"].(string), "profile-"))

	profiles, err = h.store.Select(context.Background(), relstore.Query{Table: "profiles"}.Where("id", id))
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/a.png", profiles[0].String("avatar_url"))
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	h := newHarness(t)
	token := h.admin()

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/students/form?id=not-a-uuid", token, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPut, "/v1/departments/42", token, gin.H{"name": "Physics", "code": "PHY"}).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPatch, "/v1/students/s-1/status", token, gin.H{"status": "inactive"}).Code)
}

func TestAvatarJSONBodyIsCapped(t *testing.T) {
	cloud := cloudinary.New("demo", "key", "secret", "")
	cloud.BaseURL = "http://127.0.0.1:0"
	h := newHarness(t, func(d *Deps) { d.Cloud = cloud })
	token := h.admin()
	profiles, err := h.store.Select(context.Background(), relstore.Query{Table: "profiles"})
	require.NoError(t, err)

	huge := "data:image/png;base64," + strings.Repeat("A", maxAvatarJSONBytes)
	w := h.do(http.MethodPost, "/v1/profiles/"+profiles[0].String("id")+"/avatar", token, gin.H{"data": huge})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
