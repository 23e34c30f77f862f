package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"baseloader/internal/config"
	"baseloader/internal/report"
	"baseloader/internal/resolve"
	"baseloader/internal/store"
	"baseloader/internal/store/storetest"
	"baseloader/internal/validate"
)

var clock = func() time.Time { return time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC) }

var postpaidHeader = []string{
	"identificacion", "nombre_completo", "celular", "tipo_identificacion",
	"desc_forma_pago", "id_subproducto", "id_ciclo", "id_plan", "descripcion_plan", "tb", "fecha_alta",
}

func postpaidRow(ident, name, phone string) []string {
	return []string{ident, name, phone, "CEDULA", "Débito Bancario", "VOZ", "C1", "P100", "", "25,50", "2024-01-10"}
}

func writeXLSX(t *testing.T, path string, header []string, rows [][]string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	all := append([][]string{header}, rows...)
	for i, r := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		vals := make([]any, len(r))
		for j, v := range r {
			vals[j] = v
		}
		if err := f.SetSheetRow("Sheet1", cell, &vals); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
}

func writeCSV(t *testing.T, path string, header []string, rows [][]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := csv.NewWriter(f)
	_ = w.WriteAll(append([][]string{header}, rows...))
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

// inspect runs fn in a short read-only transaction. The SQLite store has a
// single connection, so it must only be called while no run is in progress.
func inspect(t *testing.T, s store.Store, fn func(tx store.Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	fn(tx)
}

func customers(t *testing.T, s store.Store) []store.CustomerKey {
	t.Helper()
	var out []store.CustomerKey
	inspect(t, s, func(tx store.Tx) {
		var err error
		if out, err = tx.Customers(context.Background(), "cliente", "id_cliente"); err != nil {
			t.Fatal(err)
		}
	})
	return out
}

func facts(t *testing.T, s store.Store, table string) []store.Pair {
	t.Helper()
	var out []store.Pair
	inspect(t, s, func(tx store.Tx) {
		var err error
		if out, err = tx.Pairs(context.Background(), table, "id_cliente", "id_periodo"); err != nil {
			t.Fatal(err)
		}
	})
	return out
}

func keys(t *testing.T, s store.Store, rt store.RefTable) []store.KeyID {
	t.Helper()
	var out []store.KeyID
	inspect(t, s, func(tx store.Tx) {
		var err error
		if out, err = tx.Keys(context.Background(), rt); err != nil {
			t.Fatal(err)
		}
	})
	return out
}

func TestRun_GateRejectsWithoutWriting(t *testing.T) {
	t.Parallel()

	s, p := storetest.Open(t, "pospago")
	dir := t.TempDir()
	input := filepath.Join(dir, "pospago_marzo.xlsx")
	writeXLSX(t, input, postpaidHeader, [][]string{
		postpaidRow("0102030405", "ANA", "0991234567"),
		postpaidRow("", "BETO", "0987654321"),
		postpaidRow("0605040302", "CARLA", "991234567"),
	})

	rep, err := New(s, p, Options{Input: input}, WithClock(clock)).Run(context.Background())
	if !errors.Is(err, validate.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != NormalizeFields {
		t.Fatalf("err = %#v, want StageError at normalize_fields", err)
	}
	if rep.Stage != Aborted || rep.Failed != NormalizeFields || rep.Rejected != 3 {
		t.Fatalf("report stage=%s failed=%s rejected=%d", rep.Stage, rep.Failed, rep.Rejected)
	}
	if want := filepath.Join(dir, "INCORRECTA_MARZO.xlsx"); rep.RejectionPath != want {
		t.Fatalf("rejection = %s, want %s", rep.RejectionPath, want)
	}

	f, err := excelize.OpenFile(rep.RejectionPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	inc, _ := f.GetRows(report.SheetIncomplete)
	dup, _ := f.GetRows(report.SheetDuplicates)
	if len(inc) != 2 || len(dup) != 3 {
		t.Fatalf("incompletos=%d duplicados=%d rows (with header)", len(inc), len(dup))
	}

	if n := len(customers(t, s)); n != 0 {
		t.Fatalf("customers written by a rejected run: %d", n)
	}
	if n := len(keys(t, s, store.RefTable{Name: "plan", IDColumn: "id_plan", KeyColumn: "codigo_plan"})); n != 0 {
		t.Fatalf("plans written by a rejected run: %d", n)
	}
}

func TestRun_SkipDropsBadRows(t *testing.T) {
	t.Parallel()

	s, p := storetest.Open(t, "prepago")
	dir := t.TempDir()
	input := filepath.Join(dir, "recargas.csv")
	header := []string{"identificacion", "nombre_completo", "celular", "anio", "mes", "monto_recarga"}
	writeCSV(t, input, header, [][]string{
		{"0102030405", "ANA", "0991234567", "2025", "ENERO", "3.50"},
		{"", "BETO", "0987654321", "2025", "ENERO", "1"},
		{"0605040302", "CARLA", "991234567", "2025", "ENERO", "2"},
	})

	rep, err := New(s, p, Options{Input: input, SkippedDir: filepath.Join(dir, "skipped")}, WithClock(clock)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Stage != Done || rep.Rejected != 2 || rep.Customers.Inserted != 1 || rep.Facts.Inserted != 1 {
		t.Fatalf("report = %+v", rep)
	}

	got := customers(t, s)
	if len(got) != 1 || got[0].Identification != "0102030405" || got[0].Phone != "0991234567" {
		t.Fatalf("customers = %+v", got)
	}
	if n := len(facts(t, s, "cliente_periodo")); n != 1 {
		t.Fatalf("facts = %d, want 1", n)
	}

	b, err := os.ReadFile(rep.SkipLogPath)
	if err != nil {
		t.Fatal(err)
	}
	log := string(b)
	if !strings.Contains(log, validate.ReasonBlankIdentification) || !strings.Contains(log, validate.ReasonDuplicatePhone) {
		t.Fatalf("skip log = %q", log)
	}
}

func TestRun_PostpaidRerunIsStable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, p := storetest.Open(t, "pospago")
	dir := t.TempDir()
	input := filepath.Join(dir, "pospago_marzo.xlsx")
	writeXLSX(t, input, postpaidHeader, [][]string{
		postpaidRow("0102030405", "ANA", "0991234567"),
		postpaidRow("0605040302.0", "CARLA", "87654321"),
	})
	catalog := filepath.Join(dir, "planes.csv")
	writeCSV(t, catalog, []string{"id_plan", "descripcion_plan"}, [][]string{{"p100", "PLAN CIEN"}})

	opts := Options{Input: input, PlanCatalog: catalog, CleanCopy: true}
	first, err := New(s, p, opts, WithClock(clock)).Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Customers.Inserted != 2 || first.Facts.Inserted != 2 || first.PeriodsCreated != 1 {
		t.Fatalf("first = customers %s facts %s periods %d", first.Customers, first.Facts, first.PeriodsCreated)
	}
	if first.Stats.IdentificationsFixed != 1 {
		t.Fatalf("stats = %+v", first.Stats)
	}
	if _, err := os.Stat(filepath.Join(dir, "copia-pospago_marzo.xlsx")); err != nil {
		t.Fatalf("clean copy: %v", err)
	}

	second, err := New(s, p, opts, WithClock(clock)).Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Customers.Inserted != 0 || second.Customers.Matched != 2 {
		t.Fatalf("second customers = %s", second.Customers)
	}
	if second.Facts.Inserted != 0 || second.Facts.Existing != 2 || second.PeriodsCreated != 0 {
		t.Fatalf("second facts = %s periods created %d", second.Facts, second.PeriodsCreated)
	}
	for _, r := range second.References {
		if r.Inserted != 0 {
			t.Fatalf("rerun inserted references: %s", r)
		}
	}

	got := customers(t, s)
	if len(got) != 2 || got[1].Identification != "0605040302" || got[1].Phone != "0987654321" {
		t.Fatalf("customers = %+v", got)
	}
	if n := len(facts(t, s, "cliente_plan_info")); n != 2 {
		t.Fatalf("facts = %d, want 2", n)
	}
	forma := keys(t, s, store.RefTable{Name: "forma_pago", IDColumn: "id_forma_pago", KeyColumn: "desc_forma_pago"})
	if len(forma) != 1 || forma[0].Key != "DEBITO BANCARIO" {
		t.Fatalf("forma_pago = %+v", forma)
	}
	plans := keys(t, s, store.RefTable{Name: "plan", IDColumn: "id_plan", KeyColumn: "codigo_plan"})
	if len(plans) != 1 || plans[0].Key != "P100" {
		t.Fatalf("plans = %+v", plans)
	}
}

func TestRun_AppendRerunDoublesRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, p := storetest.Open(t, "migracion")
	root := t.TempDir()
	writeCSV(t, filepath.Join(root, "01.ENERO", "base.csv"),
		[]string{"identificacion", "nombre_completo", "celular", "anio", "provincia", "tbs"},
		[][]string{
			{"0102030405", "ANA", "0991234567", "2025", "Pichincha", "10"},
			{"0605040302", "CARLA", "0987654321", "2025", "Guayas", "4"},
		})
	opts := Options{Input: root}

	first, err := New(s, p, opts, WithClock(clock)).Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Customers.Inserted != 2 || first.Facts.Inserted != 2 || first.PeriodsCreated != 1 {
		t.Fatalf("first = customers %s facts %s periods %d", first.Customers, first.Facts, first.PeriodsCreated)
	}

	second, err := New(s, p, opts, WithClock(clock)).Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Customers.Inserted != first.Customers.Inserted || second.Facts.Inserted != first.Facts.Inserted {
		t.Fatalf("second = customers %s facts %s", second.Customers, second.Facts)
	}
	if second.PeriodsCreated != 0 {
		t.Fatalf("second run created %d periods", second.PeriodsCreated)
	}
	for _, r := range second.References {
		if r.Inserted != 0 {
			t.Fatalf("rerun inserted references: %s", r)
		}
	}

	if n := len(customers(t, s)); n != 4 {
		t.Fatalf("customers = %d, want 4", n)
	}
	if n := len(facts(t, s, "cliente_periodo")); n != 4 {
		t.Fatalf("facts = %d, want 4", n)
	}
	prov := keys(t, s, store.RefTable{Name: "provincia", IDColumn: "id_provincia", KeyColumn: "nombre_provincia"})
	if len(prov) != 2 {
		t.Fatalf("provinces = %+v", prov)
	}
}

func TestRun_UnknownYearRollsBack(t *testing.T) {
	t.Parallel()

	s, p := storetest.Open(t, "migracion")
	root := t.TempDir()
	writeCSV(t, filepath.Join(root, "01.ENERO", "base.csv"),
		[]string{"identificacion", "nombre_completo", "celular", "anio", "provincia", "tbs"},
		[][]string{{"0102030405", "ANA", "0991234567", "1999", "Pichincha", "10"}})

	rep, err := New(s, p, Options{Input: root}, WithClock(clock)).Run(context.Background())
	if !errors.Is(err, resolve.ErrUnknownYear) {
		t.Fatalf("err = %v, want ErrUnknownYear", err)
	}
	if rep.Failed != ResolvePeriod {
		t.Fatalf("failed at %s", rep.Failed)
	}
	prov := keys(t, s, store.RefTable{Name: "provincia", IDColumn: "id_provincia", KeyColumn: "nombre_provincia"})
	if len(prov) != 0 {
		t.Fatalf("provinces survived the rollback: %+v", prov)
	}
}

func TestRun_FolderMonthsAndDefaultYear(t *testing.T) {
	t.Parallel()

	s, p := storetest.Open(t, "migracion")
	p.Period.DefaultYear = "2024"
	root := t.TempDir()
	header := []string{"identificacion", "nombre_completo", "celular", "provincia", "tbs", "decil_online"}
	writeCSV(t, filepath.Join(root, "01.ENERO", "base.csv"), header, [][]string{
		{"0102030405", "ANA", "0991234567", "Pichincha", "10,5", "D1"},
	})
	writeCSV(t, filepath.Join(root, "02.FEBRERO", "base.csv"), header, [][]string{
		{"0605040302", "CARLA", "0987654321", "", "x", ""},
	})

	rep, err := New(s, p, Options{Input: root, Workers: 2}, WithClock(clock)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Periods != 2 || rep.Facts.Inserted != 2 || rep.Stats.UnparsableNumbers != 1 {
		t.Fatalf("periods=%d facts=%s stats=%+v", rep.Periods, rep.Facts, rep.Stats)
	}
	prov := keys(t, s, store.RefTable{Name: "provincia", IDColumn: "id_provincia", KeyColumn: "nombre_provincia"})
	if len(prov) != 2 {
		t.Fatalf("provinces = %+v, want PICHINCHA and NO REGISTRA", prov)
	}
}

func TestRun_BlankMonthDropsFact(t *testing.T) {
	t.Parallel()

	s, p := storetest.Open(t, "prepago")
	input := filepath.Join(t.TempDir(), "recargas.csv")
	writeCSV(t, input, []string{"identificacion", "nombre_completo", "celular", "anio", "mes", "monto_recarga"}, [][]string{
		{"0102030405", "ANA", "0991234567", "2025", "", "3"},
		{"0605040302", "CARLA", "0987654321", "2025", "2", "3"},
	})

	rep, err := New(s, p, Options{Input: input}, WithClock(clock)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Facts.Inserted != 1 || rep.Facts.Missing["id_periodo"] != 1 {
		t.Fatalf("facts = %s", rep.Facts)
	}
	if rep.Customers.Inserted != 2 {
		t.Fatalf("customers = %s", rep.Customers)
	}
}

type fakeBlob struct {
	content  []byte
	uploaded []string
}

func (f *fakeBlob) Fetch(_ context.Context, url, dir string) (string, error) {
	p := filepath.Join(dir, filepath.Base(url))
	return p, os.WriteFile(p, f.content, 0o644)
}

func (f *fakeBlob) Upload(_ context.Context, bucket, key, local string) error {
	if _, err := os.Stat(local); err != nil {
		return err
	}
	f.uploaded = append(f.uploaded, bucket+"/"+key)
	return nil
}

func TestRun_S3InputAndArchive(t *testing.T) {
	t.Parallel()

	s, p := storetest.Open(t, "prepago")
	fb := &fakeBlob{content: []byte("identificacion,nombre_completo,celular,anio,mes,monto_recarga\n" +
		"0102030405,ANA,0991234567,2025,ENERO,1\n" +
		",BETO,0987654321,2025,ENERO,1\n")}
	opts := Options{
		Input:         "s3://bases/prepago/enero.csv",
		SkippedDir:    t.TempDir(),
		ArchiveBucket: "reportes",
	}
	pl := New(s, p, opts, WithClock(clock), WithBlob(fb))
	pl.newID = func() string { return "run-1" }

	rep, err := pl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Customers.Inserted != 1 {
		t.Fatalf("customers = %s", rep.Customers)
	}
	if len(fb.uploaded) != 1 || fb.uploaded[0] != "reportes/prepago/run-1/prepago_run-1.csv" {
		t.Fatalf("uploaded = %v", fb.uploaded)
	}
}

func TestRun_S3WithoutBlob(t *testing.T) {
	t.Parallel()

	s, p := storetest.Open(t, "prepago")
	_, err := New(s, p, Options{Input: "s3://bases/x.csv"}).Run(context.Background())
	var se *StageError
	if !errors.As(err, &se) || se.Stage != ReadInput {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_MissingRequiredColumn(t *testing.T) {
	t.Parallel()

	s, p := storetest.Open(t, "prepago")
	input := filepath.Join(t.TempDir(), "recargas.csv")
	writeCSV(t, input, []string{"identificacion", "nombre_completo", "celular"}, [][]string{{"1", "A", "0991234567"}})
	_, err := New(s, p, Options{Input: input}, WithClock(clock)).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "read_input") {
		t.Fatalf("err = %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Input: "in.xlsx", Workers: 3, CleanCopy: true, ArchiveBucket: "b", Delimiter: ';'}
	o := OptionsFromConfig(cfg)
	if o.Input != "in.xlsx" || o.Workers != 3 || !o.CleanCopy || o.ArchiveBucket != "b" || o.Delimiter != ';' {
		t.Fatalf("options = %+v", o)
	}
}
