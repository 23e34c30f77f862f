package customer

import (
	"context"
	"reflect"
	"testing"

	"baseloader/internal/config"
	"baseloader/internal/store/storetest"
)

func TestSpecFor(t *testing.T) {
	t.Parallel()

	p, err := config.LookupProfile("pospago")
	if err != nil {
		t.Fatal(err)
	}
	s := SpecFor(p)
	if s.Table != "cliente" || s.IDColumn != "id_cliente" {
		t.Fatalf("spec = %+v", s)
	}
	if want := []string{"id_ciudad", "id_provincia", "id_tipo_ident"}; !reflect.DeepEqual(s.RefColumns, want) {
		t.Fatalf("refs = %v, want %v", s.RefColumns, want)
	}
	if want := []string{"fecha_alta"}; !reflect.DeepEqual(s.AttrColumns, want) {
		t.Fatalf("attrs = %v, want %v", s.AttrColumns, want)
	}
	if got := s.Columns(); len(got) != 7 || got[0] != "identificacion" || got[6] != "fecha_alta" {
		t.Fatalf("columns = %v", got)
	}
}

func TestUpsert_AppendInsertsEveryRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, p := storetest.Open(t, "prepago")
	tx := storetest.Begin(t, s)
	spec := SpecFor(p)

	rows := []Row{
		{Identification: "0102030405", Name: "ANA", Phone: "0991234567"},
		{Identification: "0102030405", Name: "ANA", Phone: "0991234567"},
	}
	ids, res, err := Upsert(ctx, tx, spec, config.CustomerAppend, rows)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(ids) != 2 || ids[0] == ids[1] || res.Inserted != 2 {
		t.Fatalf("ids=%v result=%s", ids, res)
	}
}

func TestUpsert_DedupLinksExistingAndRepeated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, p := storetest.Open(t, "prepago")
	tx := storetest.Begin(t, s)
	spec := SpecFor(p)

	first, res, err := Upsert(ctx, tx, spec, config.CustomerDedup, []Row{
		{Identification: "0102030405", Name: "ANA", Phone: "0991234567"},
		{Identification: "0605040302", Name: "CARLA", Phone: "0987654321"},
	})
	if err != nil || res.Inserted != 2 {
		t.Fatalf("first = %s, %v", res, err)
	}

	ids, res, err := Upsert(ctx, tx, spec, config.CustomerDedup, []Row{
		{Identification: "0605040302", Name: "CARLA R", Phone: "0987654321"},
		{Identification: "1111111111", Name: "NUEVO", Phone: "0970000000"},
		{Identification: "1111111111", Name: "OTRO NOMBRE", Phone: "0970000000"},
		// Same identification, different phone: a distinct customer.
		{Identification: "0102030405", Name: "ANA", Phone: "0990000000"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if res.Matched != 1 || res.Inserted != 2 || res.Repeated != 1 || res.Rows != 4 {
		t.Fatalf("result = %s", res)
	}
	if ids[0] != first[1] {
		t.Fatalf("existing pair got id %d, want %d", ids[0], first[1])
	}
	if ids[1] != ids[2] || ids[1] == 0 {
		t.Fatalf("repeated pair ids = %d, %d", ids[1], ids[2])
	}
	if ids[3] == first[0] {
		t.Fatalf("different phone must not reuse %d", first[0])
	}

	stored, err := tx.Customers(ctx, spec.Table, spec.IDColumn)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 4 {
		t.Fatalf("stored customers = %d, want 4", len(stored))
	}
}

func TestUpsert_DedupPrefersNewestStoredRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, p := storetest.Open(t, "prepago")
	tx := storetest.Begin(t, s)
	spec := SpecFor(p)

	row := Row{Identification: "0102030405", Name: "ANA", Phone: "0991234567"}
	old, _, err := Upsert(ctx, tx, spec, config.CustomerAppend, []Row{row, row})
	if err != nil {
		t.Fatal(err)
	}
	ids, res, err := Upsert(ctx, tx, spec, config.CustomerDedup, []Row{row})
	if err != nil {
		t.Fatal(err)
	}
	if ids[0] != old[1] || res.Matched != 1 {
		t.Fatalf("id = %d (result %s), want newest %d", ids[0], res, old[1])
	}
}

func TestUpsert_DedupMatchesUnnormalizedStoredRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, p := storetest.Open(t, "prepago")
	tx := storetest.Begin(t, s)
	spec := SpecFor(p)

	legacy, _, err := Upsert(ctx, tx, spec, config.CustomerAppend, []Row{
		{Identification: "0102030405", Name: "ANA", Phone: "991234567"},
		{Identification: " ab1234 ", Name: "LUIS", Phone: "0987654321"},
	})
	if err != nil {
		t.Fatal(err)
	}
	ids, res, err := Upsert(ctx, tx, spec, config.CustomerDedup, []Row{
		{Identification: "0102030405", Name: "ANA", Phone: "0991234567"},
		{Identification: "AB1234", Name: "LUIS", Phone: "0987654321"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched != 2 || res.Inserted != 0 {
		t.Fatalf("result = %s, want matched=2 inserted=0", res)
	}
	if !reflect.DeepEqual(ids, legacy) {
		t.Fatalf("ids = %v, want %v", ids, legacy)
	}
}

func TestUpsert_UnknownPolicy(t *testing.T) {
	t.Parallel()

	if _, _, err := Upsert(context.Background(), nil, Spec{}, "merge", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestValues_NullsForBlanks(t *testing.T) {
	t.Parallel()

	s := Spec{RefColumns: []string{"id_provincia"}, AttrColumns: []string{"fecha_alta"}}
	got := s.values(Row{Identification: "9999999999", Refs: map[string]int64{}})
	want := []any{"9999999999", nil, nil, nil, nil}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("values = %#v, want %#v", got, want)
	}
}

func TestIdentityIndex(t *testing.T) {
	t.Parallel()

	x := newIdentityIndex(0)
	x.put("a", "1", 1)
	x.put("a", "1", 2)
	x.put("a1", "", 3)
	if v, ok := x.get("a", "1"); !ok || v != 2 {
		t.Fatalf("get(a,1) = %d, %v", v, ok)
	}
	if v, _ := x.get("a1", ""); v != 3 {
		t.Fatalf("separator lost: %d", v)
	}
	if _, ok := x.get("b", "1"); ok {
		t.Fatal("unexpected hit")
	}
}
