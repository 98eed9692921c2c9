// Package api serves the dashboard over HTTP: sign-in, the role shell, and one list/form/submit
// resource per entity.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"classlog/internal/auth"
	"classlog/internal/cloudinary"
	"classlog/internal/college"
	"classlog/internal/config"
	"classlog/internal/crud"
	"classlog/internal/httpmiddleware"
	"classlog/internal/metrics"
	"classlog/internal/queue"
	"classlog/internal/relstore"
	"classlog/internal/session"
	"classlog/internal/shell"
	"classlog/internal/validate"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) bool

// Deps are the collaborators the server is built from. Store, Gateway and Sessions are required.
type Deps struct {
	Config   config.App
	Store    relstore.Client
	Gateway  auth.Gateway
	Sessions session.Store
	Queue    queue.Queue
	Cloud    *cloudinary.Client
	Metrics  *metrics.Recorder
	Gatherer prometheus.Gatherer
	Checks   map[string]Check
	Log      *zap.Logger
}

// Server owns the gin engine and the per-entity engines behind it.
type Server struct {
	cfg       config.App
	store     relstore.Client
	gateway   auth.Gateway
	sessions  session.Store
	cloud     *cloudinary.Client
	metrics   *metrics.Recorder
	gatherer  prometheus.Gatherer
	checks    map[string]Check
	log       *zap.Logger
	validator *validate.Validator
	saga      *crud.Saga
	shell     *shell.Shell
	limiter   *httpmiddleware.SimpleTokenBucket

	// views loads the shell view of an entity section and binds it to the session.
	views map[string]func(c *gin.Context, sess session.Session)

	router *gin.Engine
}

// New builds the server and registers every route.
func New(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:       d.Config,
		store:     d.Store,
		gateway:   d.Gateway,
		sessions:  d.Sessions,
		cloud:     d.Cloud,
		metrics:   d.Metrics,
		gatherer:  gatherer,
		checks:    d.Checks,
		log:       log,
		validator: validate.New(),
		saga:      crud.NewSaga(d.Gateway, d.Queue, log.Named("saga"), d.Metrics),
		shell:     shell.New(d.Sessions, d.Config.RefreshTTL, log.Named("shell")),
		views:     map[string]func(*gin.Context, session.Session){},
	}
	if d.Config.RateLimitPerMin > 0 {
		s.limiter = httpmiddleware.NewSimpleTokenBucket(d.Config.RateLimitPerMin, d.Config.RateLimitPerMin)
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(s.metrics.GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", s.healthz)

	public := r.Group("/v1/auth", s.rateLimit())
	public.POST("/signin", s.signIn)
	public.POST("/demo", s.demoSignIn)
	public.POST("/refresh", s.refresh)

	authed := r.Group("/v1", auth.RequireSession(s.cfg.JWTSigningKey, s.cfg.JWTIssuer, s.sessions), s.rateLimit())
	authed.POST("/auth/signout", s.signOut)
	authed.GET("/session", s.currentSession)
	authed.GET("/shell", s.shellState)
	authed.PUT("/shell/section", s.selectSection)
	authed.GET("/shell/view", s.shellView)
	authed.GET("/stats", s.stats)

	writer := authed.Group("", auth.RequireWriter())
	writer.POST("/profiles/:id/avatar", s.uploadAvatar)

	mountResource(s, authed, writer, college.Students())
	mountResource(s, authed, writer, college.FacultyMembers())
	mountResource(s, authed, writer, college.Departments())
	mountResource(s, authed, writer, college.Classes())
	mountResource(s, authed, writer, college.Subjects())
	mountResource(s, authed, writer, college.Assignments())
	mountResource(s, authed, writer, college.AttendanceRecords())
	mountResource(s, authed, writer, college.Timetable())
	mountResource(s, authed, writer, college.Users())

	s.router = r
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.checks {
		healthy := check(ctx)
		body[name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// rateLimit is a no-op when RATE_LIMIT_PER_MIN is not positive.
func (s *Server) rateLimit() gin.HandlerFunc {
	if s.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return s.limiter.GinMiddleware()
}

// securityHeaders sets the browser hardening headers on every response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

func mustSession(c *gin.Context) session.Session {
	s, _ := auth.SessionFrom(c)
	return s
}
