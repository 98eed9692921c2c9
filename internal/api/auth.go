package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"classlog/internal/auth"
	"classlog/internal/crud"
	"classlog/internal/session"
	"classlog/internal/validate"
)

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type demoRequest struct {
	Role       string `json:"role" validate:"required,oneof=faculty student"`
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type sessionResponse struct {
	Tokens       auth.TokenPair     `json:"tokens"`
	Session      session.Session    `json:"session"`
	Flags        *session.Flags     `json:"flags,omitempty"`
	Notification *crud.Notification `json:"notification,omitempty"`
}

// bindJSON decodes and validates the body, answering 400 or 422 itself when it fails.
func (s *Server) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := s.validator.Struct(dst); err != nil {
		if errors.Is(err, validate.ErrValidation) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "errors": validate.Fields(err)})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) issue(c *gin.Context, sess session.Session) (auth.TokenPair, bool) {
	pair, err := auth.Issue(sess, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		s.log.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return auth.TokenPair{}, false
	}
	return pair, true
}

// signIn is the admin login. It is the only login that goes through the gateway.
func (s *Server) signIn(c *gin.Context) {
	var req signInRequest
	if !s.bindJSON(c, &req) {
		return
	}
	id, err := s.gateway.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			status = http.StatusBadGateway
			s.log.Error("gateway sign-in failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": err.Error(), "notification": crud.Failure(err.Error())})
		return
	}

	sess := session.Session{
		ID:      uuid.NewString(),
		Subject: id.UserID,
		Role:    id.Role,
		Method:  session.MethodGateway,
		Name:    id.FullName,
	}
	pair, ok := s.issue(c, sess)
	if !ok {
		return
	}
	s.log.Info("signed in", zap.String("user_id", id.UserID), zap.String("role", string(id.Role)))
	c.JSON(http.StatusOK, sessionResponse{Tokens: pair, Session: sess, Notification: crud.Success("Logged in successfully")})
}

// demoSignIn opens a simulated faculty or student session. Any non-empty credentials work.
func (s *Server) demoSignIn(c *gin.Context) {
	var req demoRequest
	if !s.bindJSON(c, &req) {
		return
	}
	role, err := session.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := s.cfg.DemoStudentName
	if role == session.RoleFaculty {
		name = s.cfg.DemoFacultyName
	}

	sess := session.Session{
		ID:      uuid.NewString(),
		Subject: req.Identifier,
		Role:    role,
		Method:  session.MethodSimulated,
		Name:    name,
	}
	flags := session.Flags{UserType: req.Role, UserName: name}
	if err := s.sessions.SetFlags(c.Request.Context(), sess.ID, flags, s.cfg.RefreshTTL); err != nil {
		s.log.Error("store session flags failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}
	pair, ok := s.issue(c, sess)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Tokens: pair, Session: sess, Flags: &flags, Notification: crud.Success("Logged in successfully")})
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if !s.bindJSON(c, &req) {
		return
	}
	claims, err := auth.Parse(req.RefreshToken, s.cfg.JWTSigningKey, s.cfg.JWTIssuer)
	if err != nil || claims.Kind != auth.KindRefresh {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	revoked, err := s.sessions.Revoked(c.Request.Context(), claims.ID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}
	if revoked {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session signed out"})
		return
	}
	sess := claims.Session()
	pair, ok := s.issue(c, sess)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Tokens: pair, Session: sess})
}

// signOut revokes the session and clears its flags and active section.
func (s *Server) signOut(c *gin.Context) {
	sess := mustSession(c)
	ctx := c.Request.Context()

	var err error
	if sess.Verified() {
		err = s.gateway.SignOut(ctx, sess)
	} else {
		err = s.sessions.Revoke(ctx, sess.ID, s.cfg.RefreshTTL)
		if err == nil {
			err = s.sessions.Clear(ctx, sess.ID)
		}
	}
	if err != nil {
		s.log.Error("sign-out failed", zap.String("session", sess.ID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "notification": crud.Failure(err.Error())})
		return
	}
	s.shell.Release(sess.ID)
	c.JSON(http.StatusOK, gin.H{"notification": crud.Success("Logged out successfully")})
}

func (s *Server) currentSession(c *gin.Context) {
	sess := mustSession(c)
	flags, err := s.sessions.Flags(c.Request.Context(), sess.ID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "flags": flags, "can_write": sess.CanWrite()})
}
