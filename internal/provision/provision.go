// Package provision creates a database from a schema document: tables in
// document order, then indexes, then seed rows.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tordrt/datasink/internal/db"
	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/schema"
)

// Stage names a kind of provisioning step.
type Stage string

const (
	StageTable Stage = "table"
	StageIndex Stage = "index"
	StageSeed  Stage = "seed"
)

// Status is the overall outcome of a provisioning run.
type Status string

const (
	StatusProvisioned           Status = "provisioned"
	StatusProvisionedWithErrors Status = "provisioned_with_errors"
)

// Step is one completed or failed provisioning step. Row is the 1-based seed
// row number for seed steps that concern a single row.
type Step struct {
	Stage  Stage
	Target string
	Row    int
}

func (s Step) String() string {
	if s.Row > 0 {
		return fmt.Sprintf("%s %s row %d", s.Stage, s.Target, s.Row)
	}
	return fmt.Sprintf("%s %s", s.Stage, s.Target)
}

// StepError reports the step that stopped provisioning.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s failed: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Report describes a provisioning run. Failed is nil when every step
// succeeded.
type Report struct {
	Database  string
	Locator   string
	Status    Status
	Completed []Step
	Failed    *StepError
	Tables    int
	Indexes   int
	SeedRows  int
}

// Provisioner creates databases from schema documents.
type Provisioner struct {
	open   db.Opener
	opts   db.Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a provisioner. opts decides how SQLite locators are opened and
// is used for the existence check.
func New(opts db.Options, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{open: db.OpenerWith(opts), opts: opts, logger: logger, now: time.Now}
}

// Provision validates doc, then creates it at locator. Validation problems,
// including unknown foreign key targets, are returned before anything is
// created. A database that already exists at locator is not touched.
//
// Once execution starts, the first failing step stops the run. The report is
// returned with status provisioned_with_errors and the partially built
// database is left in place; the returned error is the StepError.
func (p *Provisioner) Provision(ctx context.Context, doc *schema.Document, locator string) (*Report, error) {
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	exists, err := db.Exists(ctx, locator, p.opts)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, dberr.New(dberr.AlreadyExists, "a database already exists at %s", db.Redact(locator))
	}

	backend, err := p.open(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	report := &Report{Database: doc.Database.Name, Locator: db.Redact(locator), Status: StatusProvisioned}
	if err := p.apply(ctx, backend, doc, report); err != nil {
		report.Status = StatusProvisionedWithErrors
		p.logger.Error("provisioning stopped", "database", doc.Database.Name, "step", report.Failed.Step.String(), "error", err)
		return report, report.Failed
	}

	p.logger.Info("database provisioned",
		"database", doc.Database.Name, "tables", report.Tables, "indexes", report.Indexes, "rows", report.SeedRows)
	return report, nil
}

func (p *Provisioner) apply(ctx context.Context, b db.Backend, doc *schema.Document, report *Report) error {
	d := b.Dialect()
	fail := func(step Step, err error) error {
		report.Failed = &StepError{Step: step, Err: err}
		return report.Failed
	}

	for _, t := range doc.Tables {
		step := Step{Stage: StageTable, Target: t.Name}
		if _, err := b.Exec(ctx, db.CreateTableSQL(d, t)); err != nil {
			return fail(step, err)
		}
		report.Completed = append(report.Completed, step)
		report.Tables++
	}

	for _, idx := range doc.Indexes {
		step := Step{Stage: StageIndex, Target: idx.Name}
		if _, err := b.Exec(ctx, db.CreateIndexSQL(d, idx)); err != nil {
			return fail(step, err)
		}
		report.Completed = append(report.Completed, step)
		report.Indexes++
	}

	for _, name := range doc.SeedTables() {
		n, err := p.seedTable(ctx, b, doc, name)
		if err != nil {
			return fail(Step{Stage: StageSeed, Target: name, Row: n + 1}, err)
		}
		report.Completed = append(report.Completed, Step{Stage: StageSeed, Target: name})
		report.SeedRows += n
	}
	return nil
}

// seedTable inserts a table's seed rows in listed order inside one
// transaction. It returns the number of rows inserted, which on failure is
// the number of rows before the failing one.
func (p *Provisioner) seedTable(ctx context.Context, b db.Backend, doc *schema.Document, name string) (int, error) {
	table, ok := doc.Table(name)
	if !ok {
		return 0, dberr.New(dberr.NotFound, "seed data for unknown table %s", name)
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return 0, err
	}
	now := p.now()
	for i, row := range doc.Data[name] {
		vals, err := table.SeedValues(row, now)
		if err == nil {
			query, args := db.BuildInsert(b.Dialect(), name, vals)
			_, err = tx.Exec(ctx, query, args...)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				p.logger.Warn("rollback failed", "table", name, "error", rbErr)
			}
			return i, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(doc.Data[name]), nil
}
