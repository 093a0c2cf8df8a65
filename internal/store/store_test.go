package store

import (
	"context"
	"database/sql"
	"os"
	"slices"
	"strings"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type blob struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func TestMemory_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := m.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "v1" {
		t.Fatalf("expected v1, got %q (%v)", got, err)
	}

	got[0] = 'X'
	again, _ := m.Get(ctx, "k")
	if string(again) != "v1" {
		t.Error("Get must return a copy")
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemory_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, k := range []string{"events:2", "events:1", "siteSummaries:a.com", "rules:user"} {
		_ = m.Set(ctx, k, []byte("{}"))
	}

	keys, err := m.Keys(ctx, "events:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if !slices.Equal(keys, []string{"events:1", "events:2"}) {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestCodec_SmallValueStaysPlainJSON(t *testing.T) {
	data, err := Encode(blob{Name: "small"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if isGzip(data) {
		t.Fatal("small values should not be compressed")
	}
	var out blob
	if err := Decode(data, &out); err != nil || out.Name != "small" {
		t.Fatalf("Decode: %v, %+v", err, out)
	}
}

func TestCodec_LargeValueIsCompressed(t *testing.T) {
	in := blob{Name: "large"}
	for i := 0; i < 2000; i++ {
		in.Items = append(in.Items, strings.Repeat("x", 8))
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !isGzip(data) {
		t.Fatal("expected gzip output for large value")
	}

	var out blob
	if err := Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Name != "large" || len(out.Items) != 2000 {
		t.Errorf("unexpected decoded value: name=%s items=%d", out.Name, len(out.Items))
	}
}

func TestGetSetJSON(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var out blob
	if err := GetJSON(ctx, m, "rules:user", &out); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := SetJSON(ctx, m, "rules:user", blob{Name: "r"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	if err := GetJSON(ctx, m, "rules:user", &out); err != nil || out.Name != "r" {
		t.Fatalf("GetJSON: %v %+v", err, out)
	}
}

// TestPostgres_RoundTrip runs only when SHIELD_TEST_POSTGRES_DSN points at a
// disposable database.
func TestPostgres_RoundTrip(t *testing.T) {
	dsn := os.Getenv("SHIELD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SHIELD_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	pg := NewPostgres(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	defer pg.Delete(ctx, "test:roundtrip") //nolint:errcheck

	if err := pg.Set(ctx, "test:roundtrip", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := pg.Set(ctx, "test:roundtrip", []byte("v2")); err != nil {
		t.Fatalf("Set (upsert): %v", err)
	}
	got, err := pg.Get(ctx, "test:roundtrip")
	if err != nil || string(got) != "v2" {
		t.Fatalf("expected v2, got %q (%v)", got, err)
	}
	keys, err := pg.Keys(ctx, "test:")
	if err != nil || !slices.Contains(keys, "test:roundtrip") {
		t.Fatalf("Keys: %v %v", keys, err)
	}
}
