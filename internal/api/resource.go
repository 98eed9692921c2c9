package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"classlog/internal/crud"
	"classlog/internal/relstore"
	"classlog/internal/session"
	"classlog/internal/shell"
	"classlog/internal/validate"
)

// submitResponse is the dialog after a submit plus, on success, the refreshed list.
type submitResponse[R, F any] struct {
	crud.DialogSnapshot[F]
	List *crud.ListState[R] `json:"list,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type resource[R, F any] struct {
	srv    *Server
	engine *crud.Engine[R, F]
}

// mountResource registers the list, form, create, update and status routes of one entity. Reads
// go on read and are limited to roles whose shell has the section; writes go on write.
func mountResource[R, F any](s *Server, read, write *gin.RouterGroup, spec *crud.Spec[R, F]) {
	res := &resource[R, F]{
		srv:    s,
		engine: crud.NewEngine(spec, s.store, s.saga, s.validator, s.log.Named(spec.Name), s.metrics),
	}
	name := spec.Name

	read.GET("/"+name, res.list)
	write.GET("/"+name+"/form", res.form)
	write.POST("/"+name, res.create)
	if !spec.CreateOnly {
		write.PUT("/"+name+"/:id", res.update)
	}
	if len(spec.Statuses) > 0 {
		write.PATCH("/"+name+"/:id/status", res.transition)
	}

	s.views[name] = res.shellView
}

func (r *resource[R, F]) list(c *gin.Context) {
	sess := mustSession(c)
	if !shell.Allowed(sess.Role, r.engine.Spec.Name) {
		c.JSON(http.StatusForbidden, gin.H{"error": "section not available for role"})
		return
	}
	status, state := load(c.Request.Context(), r.engine.NewListView())
	c.JSON(status, state)
}

// shellView loads the entity as the session's active section. Selecting another section closes
// the view and discards its in-flight load.
func (r *resource[R, F]) shellView(c *gin.Context, sess session.Session) {
	view := r.engine.NewListView()
	r.srv.shell.Bind(sess.ID, r.engine.Spec.Name, view)
	status, state := load(c.Request.Context(), view)
	c.JSON(status, gin.H{"section": r.engine.Spec.Name, "list": state})
}

func load[R any](ctx context.Context, view *crud.ListView[R]) (int, crud.ListState[R]) {
	err := view.Load(ctx)
	state := view.Snapshot()
	switch {
	case err == nil:
		return http.StatusOK, state
	case errors.Is(err, crud.ErrSuperseded):
		return http.StatusConflict, state
	default:
		return http.StatusBadGateway, state
	}
}

// form opens a dialog, in edit mode when ?id= names a record, and loads its selector options.
func (r *resource[R, F]) form(c *gin.Context) {
	d := r.engine.NewDialog()
	if id := c.Query("id"); id != "" {
		if r.engine.Spec.CreateOnly {
			c.JSON(http.StatusMethodNotAllowed, gin.H{"error": r.engine.Spec.Plural + " cannot be edited"})
			return
		}
		rec, ok := r.existing(c, id)
		if !ok {
			return
		}
		d.Open(&rec)
	} else {
		d.Open(nil)
	}
	d.LoadReferenceData(c.Request.Context())
	c.JSON(http.StatusOK, d.Snapshot())
}

func (r *resource[R, F]) create(c *gin.Context) {
	var input F
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d := r.engine.NewDialog()
	d.Open(nil)
	r.submit(c, d, input, http.StatusCreated)
}

func (r *resource[R, F]) update(c *gin.Context) {
	rec, ok := r.existing(c, c.Param("id"))
	if !ok {
		return
	}
	var input F
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d := r.engine.NewDialog()
	d.Open(&rec)
	r.submit(c, d, input, http.StatusOK)
}

func (r *resource[R, F]) submit(c *gin.Context, d *crud.Dialog[R, F], input F, okStatus int) {
	var list *crud.ListState[R]
	refresh := func(ctx context.Context) {
		view := r.engine.NewListView()
		_ = view.Load(ctx)
		state := view.Snapshot()
		list = &state
	}

	err := d.Submit(c.Request.Context(), input, refresh)
	resp := submitResponse[R, F]{DialogSnapshot: d.Snapshot(), List: list}
	switch {
	case err == nil:
		c.JSON(okStatus, resp)
	case errors.Is(err, validate.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, resp)
	default:
		c.JSON(http.StatusBadRequest, resp)
	}
}

func (r *resource[R, F]) transition(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !recordID(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"notification": crud.Failure(r.engine.Spec.Noun + " not found")})
		return
	}
	err := r.engine.Transition(c.Request.Context(), c.Param("id"), req.Status)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"notification": crud.Success(r.engine.Spec.Noun + " status updated")})
	case errors.Is(err, validate.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": validate.Fields(err), "notification": crud.Failure(err.Error())})
	case errors.Is(err, relstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"notification": crud.Failure(err.Error())})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"notification": crud.Failure(err.Error())})
	}
}

func (r *resource[R, F]) existing(c *gin.Context, id string) (R, bool) {
	if !recordID(id) {
		var zero R
		msg := r.engine.Spec.Noun + " not found"
		c.JSON(http.StatusNotFound, gin.H{"error": msg, "notification": crud.Failure(msg)})
		return zero, false
	}
	rec, err := r.engine.Get(c.Request.Context(), id)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, relstore.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error(), "notification": crud.Failure(err.Error())})
		return rec, false
	}
	return rec, true
}

// recordID reports whether id can name a stored row. Primary keys are UUIDs; anything else would
// reach Postgres as a cast error.
func recordID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
