package crud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"classlog/internal/metrics"
	"classlog/internal/relstore"
	"classlog/internal/validate"
)

// ErrNotOpen is returned when submitting a dialog that is closed or already submitting.
var ErrNotOpen = errors.New("dialog is not open")

// DialogState is where a dialog is in its lifecycle.
type DialogState string

const (
	StateClosed     DialogState = "closed"
	StateOpen       DialogState = "open"
	StateSubmitting DialogState = "submitting"
)

// Mode distinguishes creating a record from editing one.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// DialogSnapshot is a point-in-time copy of a dialog.
type DialogSnapshot[F any] struct {
	State        DialogState           `json:"state"`
	Mode         Mode                  `json:"mode"`
	RecordID     string                `json:"record_id,omitempty"`
	Form         F                     `json:"form"`
	Options      map[string][]Option   `json:"options"`
	Errors       []validate.FieldError `json:"errors,omitempty"`
	Notification *Notification         `json:"notification,omitempty"`
	Saga         *SagaResult           `json:"saga,omitempty"`
}

// Dialog collects, validates and submits one create or update.
type Dialog[R, F any] struct {
	spec      *Spec[R, F]
	store     relstore.Client
	saga      *Saga
	validator *validate.Validator
	log       *zap.Logger
	metrics   *metrics.Recorder
	now       func() time.Time

	mu           sync.Mutex
	state        DialogState
	mode         Mode
	record       *R
	form         F
	options      map[string][]Option
	loaded       bool
	errors       []validate.FieldError
	notification *Notification
	sagaResult   *SagaResult
}

// Open pre-fills the form from existing (edit mode) or from the entity defaults (create mode).
func (d *Dialog[R, F]) Open(existing *R) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateOpen
	d.record = nil
	d.errors = nil
	d.notification = nil
	d.sagaResult = nil
	d.loaded = false
	d.options = map[string][]Option{}
	if existing != nil {
		rec := *existing
		d.record = &rec
		d.mode = ModeEdit
		d.form = d.spec.FromRecord(rec)
		return
	}
	d.mode = ModeCreate
	d.form = d.spec.Defaults(d.now())
}

// LoadReferenceData fetches the options of every selector field concurrently. A failed fetch
// leaves that field with no options. It runs once per Open.
func (d *Dialog[R, F]) LoadReferenceData(ctx context.Context) map[string][]Option {
	d.mu.Lock()
	if d.loaded {
		out := copyOptions(d.options)
		d.mu.Unlock()
		return out
	}
	d.loaded = true
	d.mu.Unlock()

	results := make([][]Option, len(d.spec.References))
	var wg sync.WaitGroup
	for i, ref := range d.spec.References {
		wg.Add(1)
		go func(i int, ref Reference) {
			defer wg.Done()
			results[i] = d.loadOptions(ctx, ref)
		}(i, ref)
	}
	wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ref := range d.spec.References {
		d.options[ref.Field] = results[i]
	}
	return copyOptions(d.options)
}

func (d *Dialog[R, F]) loadOptions(ctx context.Context, ref Reference) []Option {
	rows, err := d.store.Select(ctx, ref.Query)
	if err != nil {
		d.log.Warn("reference data fetch failed", zap.String("field", ref.Field), zap.Error(err))
		return []Option{}
	}
	opts := make([]Option, 0, len(rows))
	for _, row := range rows {
		label := row.String("name")
		if ref.Label != nil {
			label = ref.Label(row)
		}
		opts = append(opts, Option{Value: row.String("id"), Label: label})
	}
	return opts
}

// Validate checks input against the entity schema for the current mode. It never touches the
// store and never modifies input.
func (d *Dialog[R, F]) Validate(input F) error {
	d.mu.Lock()
	mode := d.mode
	d.mu.Unlock()
	return d.validateFor(mode, input)
}

func (d *Dialog[R, F]) validateFor(mode Mode, input F) error {
	err := d.validator.Struct(input)
	if err != nil && !errors.Is(err, validate.ErrValidation) {
		return err
	}
	fields := validate.Fields(err)

	if mode == ModeCreate && d.spec.Identity != nil {
		req := d.spec.Identity.SignUp(input)
		fields = append(fields, validate.Fields(d.validator.Var("password", req.Password, "required,min=6"))...)
	}
	if len(fields) == 0 {
		return nil
	}
	return &validate.ValidationError{Fields: fields}
}

// Submit validates input and writes it. On success the form resets to its defaults, refresh runs
// and the dialog closes. On failure the dialog stays open with input retained.
func (d *Dialog[R, F]) Submit(ctx context.Context, input F, refresh func(context.Context)) error {
	d.mu.Lock()
	if d.state != StateOpen {
		d.mu.Unlock()
		return ErrNotOpen
	}
	d.state = StateSubmitting
	d.form = input
	d.errors = nil
	d.notification = nil
	d.sagaResult = nil
	mode := d.mode
	record := d.record
	d.mu.Unlock()

	if err := d.validateFor(mode, input); err != nil {
		d.mu.Lock()
		d.state = StateOpen
		d.errors = validate.Fields(err)
		if d.errors == nil {
			d.notification = Failure(err.Error())
		}
		d.mu.Unlock()
		d.metrics.Submission(d.spec.Name, string(mode), "invalid")
		return err
	}

	var err error
	if mode == ModeEdit {
		err = d.update(ctx, *record, input)
	} else {
		err = d.create(ctx, input)
	}

	d.mu.Lock()
	if err != nil {
		d.state = StateOpen
		d.notification = Failure(err.Error())
		d.mu.Unlock()
		d.log.Warn("submit failed", zap.String("entity", d.spec.Name), zap.String("mode", string(mode)), zap.Error(err))
		d.metrics.Submission(d.spec.Name, string(mode), "error")
		return err
	}
	d.form = d.spec.Defaults(d.now())
	msg := d.spec.createdMessage()
	if mode == ModeEdit {
		msg = d.spec.updatedMessage()
	}
	d.notification = Success(msg)
	d.mu.Unlock()
	d.metrics.Submission(d.spec.Name, string(mode), "ok")

	if refresh != nil {
		refresh(ctx)
	}

	d.mu.Lock()
	d.state = StateClosed
	d.mu.Unlock()
	return nil
}

func (d *Dialog[R, F]) create(ctx context.Context, input F) error {
	id := d.spec.Identity
	if id == nil {
		_, err := d.store.Insert(ctx, d.spec.Table, d.spec.insertRow(input))
		return err
	}
	if d.saga == nil {
		return errors.New("identity provisioning is not configured")
	}

	var insert func(ctx context.Context, userID string) error
	if id.LinkColumn != "" {
		insert = func(ctx context.Context, userID string) error {
			row := d.spec.insertRow(input)
			row[id.LinkColumn] = userID
			_, err := d.store.Insert(ctx, d.spec.Table, row)
			return err
		}
	}
	res := d.saga.Run(ctx, id.SignUp(input), insert)

	d.mu.Lock()
	d.sagaResult = &res
	d.mu.Unlock()
	return res.Err
}

func (d *Dialog[R, F]) update(ctx context.Context, record R, input F) error {
	if d.spec.CreateOnly {
		return fmt.Errorf("%s cannot be edited", d.spec.Plural)
	}
	if id := d.spec.Identity; id != nil && id.Profile != nil {
		profiles, err := d.store.Select(ctx, relstore.Query{Table: "profiles", Columns: []string{"id"}}.Where("user_id", id.UserID(record)))
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			return fmt.Errorf("profile for user %s: %w", id.UserID(record), relstore.ErrNotFound)
		}
		for _, p := range profiles {
			if _, err := d.store.Update(ctx, "profiles", p.String("id"), id.Profile(input)); err != nil {
				return err
			}
		}
	}
	_, err := d.store.Update(ctx, d.spec.Table, d.spec.ID(record), d.spec.Row(input))
	return err
}

// Close discards the dialog without submitting.
func (d *Dialog[R, F]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateClosed
}

// Snapshot copies the current state.
func (d *Dialog[R, F]) Snapshot() DialogSnapshot[F] {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := DialogSnapshot[F]{
		State:        d.state,
		Mode:         d.mode,
		Form:         d.form,
		Options:      copyOptions(d.options),
		Errors:       append([]validate.FieldError(nil), d.errors...),
		Notification: d.notification,
		Saga:         d.sagaResult,
	}
	if d.record != nil {
		snap.RecordID = d.spec.ID(*d.record)
	}
	if d.spec.Redact != nil {
		snap.Form = d.spec.Redact(snap.Form)
	}
	return snap
}

func copyOptions(in map[string][]Option) map[string][]Option {
	out := make(map[string][]Option, len(in))
	for k, v := range in {
		out[k] = append([]Option{}, v...)
	}
	return out
}
