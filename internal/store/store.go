package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/alec-deason/cascade/internal/data"
	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/model"
	"github.com/alec-deason/cascade/internal/pathutil"
)

// NoParent marks the root of the location hierarchy.
const NoParent = -1

// Location is one node of the location hierarchy.
type Location struct {
	ID       int
	ParentID int
	Name     string
}

// Store owns one engine file. Model, data, options and variable sets are
// staged in memory and written by Flush; output tables are read on demand
// and cached until Refresh or a write replaces them.
type Store struct {
	path           string
	db             *sql.DB
	logger         *slog.Logger
	locations      []Location
	parentLocation int

	model   *model.Model
	data    *data.Frame
	avgint  *data.Frame
	options map[string]string
	minCV   map[model.Integrand]float64
	vars    map[string]model.VarSet
	dirty   map[string]bool

	cache map[string]*table
	lay   *layout
}

// Open creates or opens the engine file at path and initializes its schema.
// Every location's parent must itself be a location, and parentLocation must
// be one of them.
func Open(ctx context.Context, path string, locations []Location, parentLocation int, logger *slog.Logger) (*Store, error) {
	if err := pathutil.CheckStoreFile(path); err != nil {
		return nil, err
	}
	if err := checkLocations(locations, parentLocation); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{
		path:           path,
		logger:         logger,
		locations:      slices.Clone(locations),
		parentLocation: parentLocation,
		options:        make(map[string]string),
		minCV:          make(map[model.Integrand]float64),
		vars:           make(map[string]model.VarSet),
		dirty:          make(map[string]bool),
		cache:          make(map[string]*table),
	}
	if err := s.Reopen(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func checkLocations(locations []Location, parent int) error {
	ids := make(map[int]bool, len(locations))
	for _, loc := range locations {
		if ids[loc.ID] {
			return errs.Invalid("locations", "location %d listed twice", loc.ID)
		}
		ids[loc.ID] = true
	}
	for _, loc := range locations {
		if loc.ParentID != NoParent && !ids[loc.ParentID] {
			return errs.Invalid("locations", "parent %d of location %d is not a location", loc.ParentID, loc.ID)
		}
	}
	if !ids[parent] {
		return errs.Invalid("parent_location", "location %d is not in the hierarchy", parent)
	}
	return nil
}

// Path returns the engine file path.
func (s *Store) Path() string { return s.path }

// ParentLocation is the location the model describes.
func (s *Store) ParentLocation() int { return s.parentLocation }

// modelParent is the staged model's parent location, which may be any
// location in the hierarchy, or the store's own parent when no model is set.
func (s *Store) modelParent() int {
	if s.model != nil {
		return s.model.ParentLocation
	}
	return s.parentLocation
}

// IsOpen reports whether the file is currently open.
func (s *Store) IsOpen() bool { return s.db != nil }

// Reopen opens the file if it is closed. Cached output tables are dropped
// because another process may have rewritten them.
func (s *Store) Reopen(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite works best with single writer
	db.SetMaxOpenConns(1)
	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.db = db
	s.cache = make(map[string]*table)
	s.lay = nil
	return nil
}

// Close closes the file. Staged writes stay staged.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// WhileClosed closes the file, runs fn, and reopens the file on every exit
// path, so another process can own the file for the duration of fn.
func (s *Store) WhileClosed(ctx context.Context, fn func() error) (err error) {
	if err := s.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", pathutil.RedactPath(s.path), err)
	}
	defer func() {
		if rerr := s.Reopen(context.WithoutCancel(ctx)); rerr != nil {
			err = errors.Join(err, fmt.Errorf("reopening %s: %w", pathutil.RedactPath(s.path), rerr))
		}
	}()
	return fn()
}

func (s *Store) requireOpen() error {
	if s.db == nil {
		return fmt.Errorf("store %s is closed", pathutil.RedactPath(s.path))
	}
	return nil
}

// SetModel stages the model for the next Flush.
func (s *Store) SetModel(m *model.Model) {
	s.model = m
	s.dirty["input"] = true
}

// Model returns the staged model.
func (s *Store) Model() *model.Model { return s.model }

// SetData stages measurement data, already normalized. Nil clears it.
func (s *Store) SetData(f *data.Frame) {
	s.data = f
	s.dirty["input"] = true
}

// SetAvgint stages the average-integrand request table. Nil clears it.
func (s *Store) SetAvgint(f *data.Frame) {
	s.avgint = f
	s.dirty["input"] = true
}

// SetOptions stages engine options, replacing earlier values of the same
// names.
func (s *Store) SetOptions(options map[string]string) {
	maps.Copy(s.options, options)
	s.dirty[TableOption] = true
}

// Options returns the staged options.
func (s *Store) Options() map[string]string { return maps.Clone(s.options) }

// SetMinimumMeasCV stages the minimum coefficient of variation for an
// integrand. Zero means none.
func (s *Store) SetMinimumMeasCV(integrand model.Integrand, cv float64) error {
	if !(cv >= 0 && cv <= 1) {
		return errs.Invalid(string(integrand), "minimum_meas_cv must be in [0, 1], got %g", cv)
	}
	s.minCV[integrand] = cv
	s.dirty[TableIntegrand] = true
	return nil
}

// SetStartVar stages the optimizer's starting point.
func (s *Store) SetStartVar(vs model.VarSet) { s.setVars(TableStartVar, vs) }

// SetScaleVar stages the values at which the objective is scaled.
func (s *Store) SetScaleVar(vs model.VarSet) { s.setVars(TableScaleVar, vs) }

// SetTruthVar stages the variables prediction and simulation evaluate.
func (s *Store) SetTruthVar(vs model.VarSet) { s.setVars(TableTruthVar, vs) }

func (s *Store) setVars(tableName string, vs model.VarSet) {
	s.vars[tableName] = vs
	s.dirty[tableName] = true
}

// Pending reports whether any staged write has not been flushed.
func (s *Store) Pending() bool { return len(s.dirty) > 0 }

// Flush writes every staged change in a single transaction.
func (s *Store) Flush(ctx context.Context) error {
	if len(s.dirty) == 0 {
		return nil
	}
	if err := s.requireOpen(); err != nil {
		return err
	}

	// Variable tables are keyed through the engine's var table, which must
	// be read before the transaction takes the only connection.
	varTables := []string{TableStartVar, TableScaleVar, TableTruthVar}
	var lay *layout
	existing := make(map[string]map[int]float64)
	if !s.dirty["input"] && slices.ContainsFunc(varTables, func(t string) bool { return s.dirty[t] }) {
		var err error
		if lay, err = s.layout(ctx); err != nil {
			return err
		}
		for _, t := range varTables {
			if s.dirty[t] {
				if existing[t], err = s.readValues(ctx, t, t+"_value"); err != nil {
					return err
				}
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var written []string
	if s.dirty["input"] {
		if err := s.writeInputs(ctx, tx); err != nil {
			return err
		}
		written = append(written, InputTables...)
		written = append(written, OutputTables[1:]...)
	} else if s.dirty[TableIntegrand] {
		if err := s.writeIntegrands(ctx, tx); err != nil {
			return err
		}
		written = append(written, TableIntegrand)
	}
	if s.dirty[TableOption] || s.dirty["input"] {
		if err := s.writeOptions(ctx, tx); err != nil {
			return err
		}
		written = append(written, TableOption)
	}
	for _, t := range varTables {
		if !s.dirty[t] {
			continue
		}
		if lay == nil {
			return fmt.Errorf("cannot write %s: the model changed since the engine last listed its variables", t)
		}
		if err := writeVarTable(ctx, tx, lay, t, s.vars[t], existing[t]); err != nil {
			return err
		}
		written = append(written, t)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	for _, t := range written {
		delete(s.cache, t)
	}
	if s.dirty["input"] {
		s.lay = nil
	}
	s.logger.Debug("flushed store", "path", pathutil.RedactPath(s.path), "tables", len(written))
	clear(s.dirty)
	return nil
}

// Refresh drops the cached copies of tables so the next read sees what the
// engine wrote. With no arguments every cached table is dropped.
func (s *Store) Refresh(ctx context.Context, tables ...string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	if len(tables) == 0 {
		clear(s.cache)
	}
	for _, t := range tables {
		delete(s.cache, t)
		if t == TableVar {
			s.lay = nil
		}
		if _, err := s.table(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// LogEntry is one row of the engine log.
type LogEntry struct {
	ID       int
	Type     string
	Table    string
	UnixTime int64
	Message  string
}

// Log reads the engine log in order.
func (s *Store) Log(ctx context.Context) ([]LogEntry, error) {
	t, err := s.table(ctx, TableLog)
	if err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, len(t.rows))
	for i := range t.rows {
		out = append(out, LogEntry{
			ID:       t.int(i, "log_id"),
			Type:     t.str(i, "message_type"),
			Table:    t.str(i, "table_name"),
			UnixTime: int64(t.int(i, "unix_time")),
			Message:  t.str(i, "message"),
		})
	}
	return out, nil
}

// LastLogMessage returns the most recent log message, or "" for an empty log.
func (s *Store) LastLogMessage(ctx context.Context) (string, error) {
	entries, err := s.Log(ctx)
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return entries[len(entries)-1].Message, nil
}
