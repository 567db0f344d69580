package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/finimport/internal/logging"
)

// SchemaSource looks up entity schemas.
type SchemaSource interface {
	Schema(entity EntityKind) (*Schema, error)
	Schemas() []*Schema
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	BatchSize            int
	BatchSizes           map[EntityKind]int
	BatchTimeout         time.Duration
	AutoCreateCategories bool
	RunTTL               time.Duration
	MaxConcurrent        int
	MaxWait              time.Duration
	Recorder             Recorder
}

// DefaultRunTTL is how long an idle run keeps its candidates.
const DefaultRunTTL = time.Hour

// Service is the entry point for imports and corrections.
type Service struct {
	store    Store
	refs     ReferenceSource
	schemas  SchemaSource
	opts     Options
	guard    *RunGuard
	recorder Recorder
	now      func() time.Time

	mu   sync.Mutex
	runs map[string]*Run
}

// NewService wires a Service.
func NewService(store Store, refs ReferenceSource, schemas SchemaSource, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = DefaultBatchTimeout
	}
	if opts.RunTTL <= 0 {
		opts.RunTTL = DefaultRunTTL
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Service{
		store:    store,
		refs:     refs,
		schemas:  schemas,
		opts:     opts,
		guard:    NewRunGuard(opts.MaxConcurrent, opts.MaxWait),
		recorder: rec,
		now:      time.Now,
		runs:     make(map[string]*Run),
	}
}

// Guard exposes the run guard for status reporting and shutdown draining.
func (s *Service) Guard() *RunGuard { return s.guard }

// Schemas returns every known schema.
func (s *Service) Schemas() []*Schema { return s.schemas.Schemas() }

// Schema returns one schema.
func (s *Service) Schema(entity EntityKind) (*Schema, error) { return s.schemas.Schema(entity) }

// BatchSizeFor returns the configured batch size for an entity.
func (s *Service) BatchSizeFor(entity EntityKind) int {
	if n, ok := s.opts.BatchSizes[entity]; ok && n > 0 {
		return n
	}
	return s.opts.BatchSize
}

// ImportRequest describes one import.
type ImportRequest struct {
	UserID string
	Entity EntityKind
	Table  RawTable

	// Categories and Accounts override the ReferenceSource when non-nil.
	Categories []Category
	Accounts   []Account

	// AutoCreateCategories is OR-ed with the service default.
	AutoCreateCategories bool
}

// StartImport parses, validates and persists a table, returning the run.
// Structural problems are reported on the run (see Run.Structural), not as
// an error; errors mean the import could not start at all.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (*Run, error) {
	schema, err := s.schemas.Schema(req.Entity)
	if err != nil {
		return nil, err
	}

	if err := s.guard.Acquire(ctx, req.UserID, req.Entity); err != nil {
		return nil, err
	}
	defer s.guard.Release(req.UserID, req.Entity)

	now := s.now()
	run := &Run{
		id:        uuid.NewString(),
		userID:    req.UserID,
		entity:    req.Entity,
		schema:    schema,
		policy:    RowPolicy{AutoCreateCategories: s.opts.AutoCreateCategories || req.AutoCreateCategories},
		createdAt: now,
		touchedAt: now,
	}
	logger := s.runLogger(ctx, run)

	if err := s.checkStructure(req.Table, run); err != nil {
		run.structural = err
		logger.Warn("import rejected", "error", err)
		return run, nil
	}

	refs, err := s.referenceIndex(ctx, req.UserID, req.Categories, req.Accounts)
	if err != nil {
		return nil, err
	}
	run.refs = refs

	validator := NewRowValidator(schema, refs, run.policy)
	var pending []PendingRow
	for i, cells := range req.Table.DataRows() {
		rowNum := i + 2
		mapped := run.fields.Extract(cells)
		rec, errs := validator.ValidateRow(mapped)
		if len(errs) > 0 {
			run.candidates = append(run.candidates, &Candidate{
				Row:    rowNum,
				Cells:  cells,
				Mapped: mapped,
				Errors: errs,
				State:  StatePending,
				Origin: OriginValidation,
			})
			run.skipped++
			continue
		}
		pending = append(pending, PendingRow{Row: rowNum, Cells: cells, Mapped: mapped, Record: rec})
	}
	run.total = len(req.Table.DataRows())
	s.recorder.RowsRejected(req.Entity, string(OriginValidation), run.skipped)

	logger.Info("import validated",
		"rows", run.total,
		"valid", len(pending),
		"rejected", run.skipped,
		"batch_size", s.BatchSizeFor(req.Entity),
	)

	importer := &BatchImporter{
		Store:     s.store,
		Refs:      refs,
		UserID:    req.UserID,
		Entity:    req.Entity,
		BatchSize: s.BatchSizeFor(req.Entity),
		Timeout:   s.opts.BatchTimeout,
		Logger:    logger,
		Recorder:  s.recorder,
	}
	outcome := importer.ImportBatches(ctx, pending)

	run.imported = outcome.Imported
	for _, f := range outcome.Failed {
		run.candidates = append(run.candidates, &Candidate{
			Row:    f.Row,
			Cells:  f.Cells,
			Mapped: f.Mapped,
			Reason: persistenceReason(f.Err),
			State:  StatePending,
			Origin: OriginPersistence,
		})
		run.errored++
	}
	s.recorder.RowsRejected(req.Entity, string(OriginPersistence), run.errored)

	if schema.ReconcileCategories && len(run.imported) > 0 {
		s.reconcile(ctx, logger, run, pending, outcome.Imported)
	}

	s.register(run)
	logger.Info("import finished",
		"imported", len(run.imported),
		"skipped", run.skipped,
		"errored", run.errored,
		"categories_created", len(outcome.Created),
	)
	return run, nil
}

// checkStructure rejects empty tables and unusable headers, building the
// run's FieldMap on success.
func (s *Service) checkStructure(table RawTable, run *Run) error {
	if len(table) == 0 {
		return ErrEmptyFile
	}
	if len(table.DataRows()) == 0 {
		return ErrNoDataRows
	}
	fields, err := MapHeaders(table.Header(), run.schema)
	if err != nil {
		return err
	}
	run.fields = fields
	return nil
}

func (s *Service) referenceIndex(ctx context.Context, userID string, categories []Category, accounts []Account) (*ReferenceIndex, error) {
	var err error
	if categories == nil && s.refs != nil {
		if categories, err = s.refs.ListCategories(ctx, userID); err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
	}
	if accounts == nil && s.refs != nil {
		if accounts, err = s.refs.ListAccounts(ctx, userID); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
	}
	return NewReferenceIndex(categories, accounts), nil
}

// reconcile hides categories that a successful budget-style import no
// longer mentions. Failure is logged; the import itself already committed.
func (s *Service) reconcile(ctx context.Context, logger *slog.Logger, run *Run, pending []PendingRow, imported []ImportedRow) {
	committed := make(map[int]bool, len(imported))
	for _, row := range imported {
		committed[row.Row] = true
	}
	var cats []Category
	for _, p := range pending {
		if !committed[p.Row] {
			continue
		}
		for _, v := range p.Record.Values {
			if ref, ok := v.(*RefValue); ok && ref.Kind == RefCategory {
				cats = append(cats, Category{Name: ref.Name, Type: ref.Type})
			}
		}
	}

	hide, show := ReconcileAfterImport(cats, run.refs.Categories())
	if len(hide) == 0 && len(show) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.BatchTimeout)
	defer cancel()
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if len(hide) > 0 {
			if err := tx.SetCategoriesHidden(ctx, run.userID, hide, true); err != nil {
				return err
			}
		}
		if len(show) > 0 {
			return tx.SetCategoriesHidden(ctx, run.userID, show, false)
		}
		return nil
	})
	if err != nil {
		logger.Error("category reconciliation failed", "error", err)
		return
	}
	run.refs.SetHidden(hide, true)
	run.refs.SetHidden(show, false)
	logger.Info("categories reconciled", "hidden", len(hide), "shown", len(show))
}

// ImportSingleRow validates and imports one row given its header, outside
// any run. Invalid rows return FieldErrors as the error.
func (s *Service) ImportSingleRow(ctx context.Context, userID string, entity EntityKind, headers, cells []string) (string, error) {
	schema, err := s.schemas.Schema(entity)
	if err != nil {
		return "", err
	}
	fields, err := MapHeaders(headers, schema)
	if err != nil {
		return "", err
	}
	refs, err := s.referenceIndex(ctx, userID, nil, nil)
	if err != nil {
		return "", err
	}

	policy := RowPolicy{AutoCreateCategories: s.opts.AutoCreateCategories}
	rec, errs := NewRowValidator(schema, refs, policy).ValidateRow(fields.Extract(cells))
	if len(errs) > 0 {
		return "", errs
	}
	id, err := s.persistOne(ctx, userID, schema, refs, rec)
	if err != nil {
		return "", err
	}
	logging.WithFields(ctx, "entity", entity, "record_id", id).Info("single row imported")
	return id, nil
}

// persistOne imports one record in its own transaction. Categories it
// creates are added to refs after commit; a hidden category it references
// is shown again for reconciling schemas.
func (s *Service) persistOne(ctx context.Context, userID string, schema *Schema, refs *ReferenceIndex, rec Record) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.BatchTimeout)
	defer cancel()

	var (
		id      string
		created []Category
		shown   []string
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		created = created[:0]
		shown = shown[:0]
		var err error
		if id, err = persistRecord(ctx, tx, userID, refs, rec, &created); err != nil {
			return err
		}
		if !schema.ReconcileCategories {
			return nil
		}
		for _, v := range rec.Values {
			ref, ok := v.(*RefValue)
			if !ok || ref.Kind != RefCategory {
				continue
			}
			if c, ok := refs.ResolveCategory(ref.Name, ref.Type); ok && c.Hidden {
				shown = append(shown, c.ID)
			}
		}
		if len(shown) > 0 {
			return tx.SetCategoriesHidden(ctx, userID, shown, false)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	refs.AddCategories(created...)
	refs.SetHidden(shown, false)
	return id, nil
}

func (s *Service) register(run *Run) {
	s.mu.Lock()
	s.runs[run.id] = run
	n := len(s.runs)
	s.mu.Unlock()
	s.recorder.RunsActive(n)
}

// Run returns a run owned by userID.
func (s *Service) Run(runID, userID string) (*Run, error) {
	s.mu.Lock()
	run, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.userID != userID {
		return nil, fmt.Errorf("%w: %s", ErrRunOwnedByAnother, runID)
	}
	return run, nil
}

// Session opens a correction session on a run.
func (s *Service) Session(runID, userID string) (*Session, error) {
	run, err := s.Run(runID, userID)
	if err != nil {
		return nil, err
	}
	if run.structural != nil {
		return nil, fmt.Errorf("%w: run %s has no rows to correct", ErrRunNotFound, runID)
	}
	return &Session{svc: s, run: run}, nil
}

// CloseRun discards a run and its remaining candidates.
func (s *Service) CloseRun(ctx context.Context, runID, userID string) error {
	run, err := s.Run(runID, userID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.runs, runID)
	n := len(s.runs)
	s.mu.Unlock()
	s.recorder.RunsActive(n)

	_, imported, skipped, errored := run.Counts()
	s.runLogger(ctx, run).Info("import run closed",
		"imported", imported,
		"unresolved", skipped+errored,
	)
	return nil
}

func (s *Service) runLogger(ctx context.Context, run *Run) *slog.Logger {
	return logging.ForRun(ctx, run.id, string(run.entity)).With("user_id", run.userID)
}

// persistenceReason turns a store failure into the message shown on every
// row of the failed batch.
func persistenceReason(err error) string {
	if errors.Is(err, ErrImportCancelled) {
		return ErrImportCancelled.Error()
	}
	msg := MapError(err)
	if !IsUserFacing(err) {
		return fmt.Sprintf("Could not save row: %s (Code: %s): %v", msg.Message, msg.Code, err)
	}
	return fmt.Sprintf("Could not save row: %s (Code: %s)", msg.Message, msg.Code)
}
