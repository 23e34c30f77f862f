// Package pipeline runs one load: it reads an input extract, validates and
// normalizes it, resolves references and the period, links customers and
// appends facts, all inside a single store transaction.
//
// A run moves through the stages Idle → ReadInput → NormalizeFields →
// ResolveReferences → ResolvePeriod → UpsertCustomers → LoadFacts → Done.
// Any failure ends in Aborted with the failing stage recorded; nothing the
// run wrote survives. The validation gate runs inside NormalizeFields, before
// the transaction is opened.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"baseloader/internal/blob"
	"baseloader/internal/config"
	"baseloader/internal/customer"
	"baseloader/internal/fact"
	"baseloader/internal/metrics"
	"baseloader/internal/normalize"
	"baseloader/internal/record"
	"baseloader/internal/report"
	"baseloader/internal/resolve"
	"baseloader/internal/source"
	"baseloader/internal/store"
	"baseloader/internal/validate"
)

// Blob moves files to and from object storage. *blob.Client implements it.
type Blob interface {
	Fetch(ctx context.Context, url, dir string) (string, error)
	Upload(ctx context.Context, bucket, key, local string) error
}

// Options are the per-invocation settings of a run.
type Options struct {
	Input         string // file, folder or s3://bucket/key
	Delimiter     rune
	Workers       int
	RejectDir     string // empty: next to the input
	SkippedDir    string // empty: no skip log
	PlanCatalog   string
	CleanCopy     bool
	ArchiveBucket string
}

// OptionsFromConfig copies the run settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Input:         cfg.Input,
		Delimiter:     cfg.Delimiter,
		Workers:       cfg.Workers,
		RejectDir:     cfg.RejectDir,
		SkippedDir:    cfg.SkippedDir,
		PlanCatalog:   cfg.PlanCatalog,
		CleanCopy:     cfg.CleanCopy,
		ArchiveBucket: cfg.ArchiveBucket,
	}
}

// Pipeline loads inputs of one profile into one store.
type Pipeline struct {
	store   store.Store
	profile config.Profile
	opts    Options
	blob    Blob
	now     func() time.Time
	newID   func() string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithBlob enables s3:// inputs and report archiving.
func WithBlob(b Blob) Option { return func(p *Pipeline) { p.blob = b } }

// WithClock replaces time.Now for period fallbacks and timestamps.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New builds a Pipeline.
func New(s store.Store, prof config.Profile, opts Options, o ...Option) *Pipeline {
	p := &Pipeline{store: s, profile: prof, opts: opts, now: time.Now, newID: uuid.NewString}
	for _, fn := range o {
		fn(p)
	}
	return p
}

// Report describes a finished or aborted run.
type Report struct {
	RunID   string
	Profile string
	Input   string
	Stage   Stage // Done or Aborted once Run returns
	Failed  Stage // stage that failed, when Aborted

	Rows           int // rows read
	Rejected       int // rows failing validation (gate) or dropped by it (skip)
	References     []resolve.Result
	Periods        int
	PeriodsCreated int
	Customers      customer.Result
	Facts          fact.Result
	Stats          normalize.Stats

	RejectionPath string
	SkipLogPath   string
	CleanCopyPath string
	Archived      []string

	Started  time.Time
	Finished time.Time
}

// Run executes one load. On failure the returned error is a *StageError and
// the report is still filled up to the failing stage.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	now := p.now()
	rep := &Report{RunID: p.newID(), Profile: p.profile.Name, Input: p.opts.Input, Started: now}
	name := p.profile.Name

	var (
		tx    store.Tx
		skips *report.SkipLog
		in    *source.Input
		rows  []*row
	)

	step := func(s Stage, fn func() error) error {
		rep.Stage = s
		start := time.Now()
		err := fn()
		metrics.RecordStage(name, s.String(), err, time.Since(start))
		if err != nil {
			return &StageError{Stage: s, Err: err}
		}
		return nil
	}
	fail := func(err error) (*Report, error) {
		if tx != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				log.Printf("pipeline: run=%s rollback: %v", rep.RunID, rbErr)
			}
		}
		rep.Failed, rep.Stage, rep.Finished = rep.Stage, Aborted, p.now()
		outcome := "aborted"
		if errors.Is(err, validate.ErrRejected) {
			outcome = "rejected"
		}
		metrics.RecordRun(name, outcome)
		log.Printf("pipeline: run=%s profile=%s %s at %s: %v", rep.RunID, name, outcome, rep.Failed, err)
		return rep, err
	}

	if p.opts.SkippedDir != "" {
		var err error
		skips, err = report.NewSkipLog(filepath.Join(p.opts.SkippedDir, name+"_"+rep.RunID+".csv"))
		if err != nil {
			return fail(&StageError{Stage: Idle, Err: err})
		}
		rep.SkipLogPath = skips.Path()
		defer p.closeSkipLog(ctx, rep, skips)
	}

	var catalog planCatalog
	err := step(ReadInput, func() error {
		local, cleanup, err := p.localInput(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		in, err = source.Read(ctx, local, source.Options{
			Sheets:      p.profile.Sheets,
			HeaderMap:   p.profile.HeaderMap,
			Required:    p.profile.RequiredColumns,
			DefaultFill: p.profile.DefaultFill,
			Delimiter:   p.opts.Delimiter,
			Workers:     p.opts.Workers,
		})
		if err != nil {
			return err
		}
		if p.opts.PlanCatalog != "" {
			if catalog, err = loadPlanCatalog(ctx, p.opts.PlanCatalog, p.opts.Delimiter); err != nil {
				return err
			}
		}
		rep.Rows = len(in.Rows)
		metrics.RecordRows(name, "read", int64(rep.Rows))
		log.Printf("pipeline: run=%s read files=%d rows=%d columns=%d plans=%d", rep.RunID, len(in.Files), len(in.Rows), len(in.Header), len(catalog))
		return nil
	})
	if err != nil {
		return fail(err)
	}

	err = step(NormalizeFields, func() error {
		kept, err := p.validate(ctx, rep, in, skips, now)
		if err != nil {
			return err
		}
		rows = normalizeRows(p.profile, kept, now, &rep.Stats)
		if p.opts.CleanCopy && !blob.IsURL(p.opts.Input) {
			srcs := make([]record.Row, len(rows))
			for i, r := range rows {
				srcs[i] = r.src
			}
			out, err := report.WriteCleanCopy(cleanCopyTarget(in), in.Header, srcs)
			if err != nil {
				return err
			}
			rep.CleanCopyPath = out
			log.Printf("pipeline: run=%s clean copy=%s", rep.RunID, out)
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	err = step(ResolveReferences, func() error {
		var err error
		if tx, err = p.store.Begin(ctx); err != nil {
			return err
		}
		return p.resolveReferences(ctx, tx, rep, rows, catalog)
	})
	if err != nil {
		return fail(err)
	}

	err = step(ResolvePeriod, func() error {
		periods, err := resolve.NewPeriods(ctx, tx)
		if err != nil {
			return err
		}
		keys := make([]resolve.PeriodKey, len(rows))
		for i, r := range rows {
			keys[i] = r.period
		}
		ids, err := periods.ResolveAll(ctx, keys)
		if err != nil {
			return err
		}
		for i, r := range rows {
			r.periodID = ids[i]
		}
		rep.Periods, rep.PeriodsCreated = periods.Distinct(), periods.Created
		log.Printf("pipeline: run=%s periods distinct=%d created=%d", rep.RunID, rep.Periods, rep.PeriodsCreated)
		return nil
	})
	if err != nil {
		return fail(err)
	}

	err = step(UpsertCustomers, func() error {
		spec := customer.SpecFor(p.profile)
		crows := make([]customer.Row, len(rows))
		for i, r := range rows {
			crows[i] = p.customerRow(r)
		}
		ids, res, err := customer.Upsert(ctx, tx, spec, p.profile.CustomerPolicy, crows)
		if err != nil {
			return err
		}
		for i, r := range rows {
			r.customer = ids[i]
		}
		rep.Customers = res
		log.Printf("pipeline: run=%s customers policy=%s %s", rep.RunID, p.profile.CustomerPolicy, res)
		return nil
	})
	if err != nil {
		return fail(err)
	}

	err = step(LoadFacts, func() error {
		spec := fact.SpecFor(p.profile)
		spec.Stats = &rep.Stats
		if skips != nil {
			spec.Skips = skips
		}
		frows := make([]fact.Row, len(rows))
		for i, r := range rows {
			refs := make(map[string]int64, len(spec.Refs))
			for _, fr := range spec.Refs {
				refs[fr.Column] = r.refs[fr.Dimension]
			}
			frows[i] = fact.Row{Source: r.src, Customer: r.customer, Period: r.periodID, Refs: refs}
		}
		res, err := fact.Load(ctx, tx, spec, frows)
		if err != nil {
			return err
		}
		rep.Facts = res
		log.Printf("pipeline: run=%s facts table=%s %s", rep.RunID, spec.Table, res)

		rep.Finished = p.now()
		if err := writeAudit(ctx, tx, rep); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		tx = nil
		return nil
	})
	if err != nil {
		return fail(err)
	}

	rep.Stage = Done
	metrics.RecordRows(name, "customers_inserted", int64(rep.Customers.Inserted))
	metrics.RecordRows(name, "customers_matched", int64(rep.Customers.Matched))
	metrics.RecordRows(name, "facts_inserted", rep.Facts.Inserted)
	metrics.RecordRows(name, "facts_dropped", int64(rep.Facts.Dropped))
	metrics.RecordRun(name, "done")
	logStats(rep)
	log.Printf("pipeline: run=%s profile=%s done rows=%d rejected=%d customers_inserted=%d facts_inserted=%d facts_dropped=%d elapsed=%s",
		rep.RunID, name, rep.Rows, rep.Rejected, rep.Customers.Inserted, rep.Facts.Inserted, rep.Facts.Dropped,
		rep.Finished.Sub(rep.Started).Truncate(time.Millisecond))
	return rep, nil
}

// validate applies the profile's validation policy and returns the rows to
// load. Under gate any finding writes the rejection workbook and fails.
func (p *Pipeline) validate(ctx context.Context, rep *Report, in *source.Input, skips *report.SkipLog, now time.Time) ([]record.Row, error) {
	findings := validate.Check(in.Rows, validate.DefaultColumns)
	if findings.Empty() {
		return in.Rows, nil
	}

	if p.profile.Validation == config.ValidationGate {
		bad := make(map[int]struct{})
		for _, f := range findings.Incomplete {
			bad[f.Index] = struct{}{}
		}
		for _, f := range findings.DuplicatePhones {
			bad[f.Index] = struct{}{}
		}
		rep.Rejected = len(bad)
		metrics.RecordRows(p.profile.Name, "rejected", int64(rep.Rejected))

		out, err := report.WriteRejection(p.rejectDir(in), rejectionMonth(p.profile, in.Rows, now), in.Header, in.Rows, findings)
		if err != nil {
			return nil, err
		}
		rep.RejectionPath = out
		log.Printf("pipeline: run=%s ⚠️ rejected incomplete=%d duplicate_phones=%d report=%s",
			rep.RunID, len(findings.Incomplete), len(findings.DuplicatePhones), out)
		p.archive(ctx, rep, out)
		return nil, validate.Gate(findings)
	}

	drop := findings.Drop()
	kept := make([]record.Row, 0, len(in.Rows)-len(drop))
	for i, r := range in.Rows {
		reason, bad := drop[i]
		if !bad {
			kept = append(kept, r)
			continue
		}
		if skips != nil {
			field := validate.DefaultColumns.Phone
			if reason == validate.ReasonBlankIdentification {
				field = validate.DefaultColumns.Identification
			}
			skips.Add(reason, r, field, r.Get(field))
		}
	}
	rep.Rejected = len(drop)
	metrics.RecordRows(p.profile.Name, "rejected", int64(rep.Rejected))
	log.Printf("pipeline: run=%s ⚠️ skipped incomplete=%d duplicate_phones=%d dropped=%d",
		rep.RunID, len(findings.Incomplete), len(findings.DuplicatePhones), len(drop))
	return kept, nil
}

func (p *Pipeline) resolveReferences(ctx context.Context, tx store.Tx, rep *Report, rows []*row, catalog planCatalog) error {
	for _, d := range p.profile.Dimensions {
		t := store.RefTable{Name: d.Table, IDColumn: d.IDColumn, KeyColumn: d.KeyColumn}
		for _, e := range d.Extras {
			t.Extras = append(t.Extras, e.Column)
		}
		cands := make([]resolve.Candidate, len(rows))
		for i, r := range rows {
			c := resolve.Candidate{Key: r.keys[d.Name]}
			for _, e := range d.Extras {
				c.Extras = append(c.Extras, extraValue(e, r, catalog))
			}
			cands[i] = c
		}
		m, res, err := resolve.ResolveOrCreate(ctx, tx, t, cands)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if id, ok := m.ID(r.keys[d.Name]); ok {
				r.refs[d.Name] = id
			}
		}
		rep.References = append(rep.References, res)
		metrics.RecordReferences(p.profile.Name, d.Table, int64(res.Inserted))
		log.Printf("pipeline: run=%s resolve %s", rep.RunID, res)
	}
	return nil
}

// extraValue is the value of a dimension's extra column for row r: the id of
// a dimension resolved earlier, or input text with the plan catalog as
// fallback for plan descriptions.
func extraValue(e config.DimensionExtra, r *row, catalog planCatalog) any {
	if e.Ref != "" {
		if id := r.refs[e.Ref]; id != 0 {
			return id
		}
		return nil
	}
	v := normalize.Text(r.src.Get(e.Source))
	if v == "" && e.Source == catalogDesc {
		v = catalog.describe(r.src.Get(catalogKey))
	}
	if v == "" {
		return nil
	}
	return v
}

func (p *Pipeline) customerRow(r *row) customer.Row {
	c := customer.Row{Identification: r.ident, Name: r.name, Phone: r.phone}
	if len(p.profile.Customer.Refs) > 0 {
		c.Refs = make(map[string]int64, len(p.profile.Customer.Refs))
		for col, dim := range p.profile.Customer.Refs {
			c.Refs[col] = r.refs[dim]
		}
	}
	if len(p.profile.Customer.Attrs) > 0 {
		c.Attrs = make(map[string]string, len(p.profile.Customer.Attrs))
		for col, src := range p.profile.Customer.Attrs {
			c.Attrs[col] = normalize.Text(r.src.Get(src))
		}
	}
	return c
}

// localInput returns a local path for the configured input, downloading
// s3:// inputs into a temporary directory removed by cleanup.
func (p *Pipeline) localInput(ctx context.Context) (string, func(), error) {
	nop := func() {}
	if p.opts.Input == "" {
		return "", nop, fmt.Errorf("no input configured")
	}
	if !blob.IsURL(p.opts.Input) {
		return p.opts.Input, nop, nil
	}
	if p.blob == nil {
		return "", nop, fmt.Errorf("input %s: object storage is not configured", p.opts.Input)
	}
	dir, err := os.MkdirTemp("", "baseloader-*")
	if err != nil {
		return "", nop, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	local, err := p.blob.Fetch(ctx, p.opts.Input, dir)
	if err != nil {
		cleanup()
		return "", nop, err
	}
	log.Printf("pipeline: fetched %s -> %s", p.opts.Input, local)
	return local, cleanup, nil
}

func (p *Pipeline) rejectDir(in *source.Input) string {
	switch {
	case p.opts.RejectDir != "":
		return p.opts.RejectDir
	case blob.IsURL(p.opts.Input):
		return "."
	}
	if st, err := os.Stat(in.Path); err == nil && st.IsDir() {
		return in.Path
	}
	return filepath.Dir(in.Path)
}

// cleanCopyTarget is the path the clean copy is named after: the input file,
// or for folders a file named after the folder inside it.
func cleanCopyTarget(in *source.Input) string {
	if st, err := os.Stat(in.Path); err == nil && st.IsDir() {
		return filepath.Join(in.Path, filepath.Base(in.Path))
	}
	return in.Path
}

// archive uploads a report file when an archive bucket is configured.
// Failures are logged and do not fail the run.
func (p *Pipeline) archive(ctx context.Context, rep *Report, local string) {
	if p.blob == nil || p.opts.ArchiveBucket == "" {
		return
	}
	key := path.Join(p.profile.Name, rep.RunID, filepath.Base(local))
	if err := p.blob.Upload(context.WithoutCancel(ctx), p.opts.ArchiveBucket, key, local); err != nil {
		log.Printf("pipeline: run=%s ⚠️ archive %s: %v", rep.RunID, local, err)
		return
	}
	rep.Archived = append(rep.Archived, "s3://"+p.opts.ArchiveBucket+"/"+key)
}

func (p *Pipeline) closeSkipLog(ctx context.Context, rep *Report, s *report.SkipLog) {
	if err := s.Close(); err != nil {
		log.Printf("pipeline: run=%s skip log: %v", rep.RunID, err)
		return
	}
	if s.Total() == 0 {
		return
	}
	log.Printf("pipeline: run=%s skipped %s file=%s", rep.RunID, s.Summary(), s.Path())
	p.archive(ctx, rep, s.Path())
}

func logStats(rep *Report) {
	s := rep.Stats
	if s.IdentificationsFixed == 0 && s.SuspiciousPhones == 0 && s.UnparsableNumbers == 0 {
		return
	}
	log.Printf("pipeline: run=%s ⚠️ normalize identifications_fixed=%d suspicious_phones=%d unparsable_numbers=%d",
		rep.RunID, s.IdentificationsFixed, s.SuspiciousPhones, s.UnparsableNumbers)
}
