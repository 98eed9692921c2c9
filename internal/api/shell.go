package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"classlog/internal/college"
	"classlog/internal/session"
	"classlog/internal/shell"
)

type sectionRequest struct {
	Section string `json:"section" validate:"required"`
}

func (s *Server) shellState(c *gin.Context) {
	state, err := s.shell.State(c.Request.Context(), mustSession(c))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) selectSection(c *gin.Context) {
	var req sectionRequest
	if !s.bindJSON(c, &req) {
		return
	}
	sess := mustSession(c)
	if err := s.shell.Select(c.Request.Context(), sess, req.Section); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, shell.ErrUnknownSection) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.shellState(c)
}

// shellView renders the active section: stat cards on the admin dashboard, the entity list on
// entity sections, and just the section name on pages with no data behind them.
func (s *Server) shellView(c *gin.Context) {
	sess := mustSession(c)
	active, err := s.shell.Active(c.Request.Context(), sess)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	if active == shell.Dashboard {
		body := gin.H{"section": active, "name": sess.Name}
		if sess.Role == session.RoleAdmin {
			body["stats"] = college.LoadStats(c.Request.Context(), s.store, s.log)
		}
		c.JSON(http.StatusOK, body)
		return
	}
	if view, ok := s.views[active]; ok {
		view(c, sess)
		return
	}
	c.JSON(http.StatusOK, gin.H{"section": active})
}

func (s *Server) stats(c *gin.Context) {
	if mustSession(c).Role != session.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
		return
	}
	c.JSON(http.StatusOK, college.LoadStats(c.Request.Context(), s.store, s.log))
}
