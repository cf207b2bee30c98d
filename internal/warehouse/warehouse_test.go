package warehouse

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/crmlake/crmlake/internal/errors"
)

func TestSchemas_Validate(t *testing.T) {
	if err := DefaultSchemas().Validate(); err != nil {
		t.Errorf("default schemas invalid: %v", err)
	}

	dup := Schemas{Staging: "x", Transitional: "x", Published: "public"}
	if err := dup.Validate(); err == nil {
		t.Error("duplicate schema names passed validation")
	}

	empty := Schemas{Staging: "staging", Published: "public"}
	if err := empty.Validate(); err == nil {
		t.Error("missing transitional name passed validation")
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()

	if err := EnsureSchema(ctx, db, "staging"); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if err := EnsureSchema(ctx, db, "staging"); err != nil {
		t.Fatalf("second EnsureSchema failed: %v", err)
	}
	if !db.SchemaExists("staging") {
		t.Error("schema missing after EnsureSchema")
	}
}

func TestEnsureSchema_RetriesDuplicateKeyOnce(t *testing.T) {
	db := NewMemoryDB()
	db.FailOnce("CREATE SCHEMA", ErrDuplicateKey)

	if err := EnsureSchema(context.Background(), db, "staging"); err != nil {
		t.Fatalf("EnsureSchema did not absorb the race: %v", err)
	}
	if !db.SchemaExists("staging") {
		t.Error("schema missing after retried EnsureSchema")
	}
}

func TestEnsureSchema_SecondRaceFails(t *testing.T) {
	db := NewMemoryDB()
	db.Fail = func(sql string) error {
		if sql == `CREATE SCHEMA IF NOT EXISTS "staging"` {
			return ErrDuplicateKey
		}
		return nil
	}

	err := EnsureSchema(context.Background(), db, "staging")
	if err == nil {
		t.Fatal("EnsureSchema succeeded despite persistent duplicate-key errors")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeSchemaRace {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeSchemaRace)
	}
	if !apperrors.IsRetryable(err) {
		t.Error("schema race error should be retryable")
	}
}

func TestEnsureSchema_OtherErrorsNotRetried(t *testing.T) {
	db := NewMemoryDB()
	boom := errors.New("permission denied for database")
	db.Fail = func(sql string) error { return boom }

	err := EnsureSchema(context.Background(), db, "staging")
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped permission failure", err)
	}
	if len(db.Statements) != 0 {
		t.Errorf("statement recorded despite failure: %v", db.Statements)
	}
}

func TestIsDuplicateKey(t *testing.T) {
	if !IsDuplicateKey(ErrDuplicateKey) {
		t.Error("duplicate-key message not recognized")
	}
	if IsDuplicateKey(errors.New("relation does not exist")) {
		t.Error("unrelated error classified as duplicate key")
	}
}

func TestMoveTable(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()

	for _, s := range []string{"staging", "public"} {
		if err := EnsureSchema(ctx, db, s); err != nil {
			t.Fatalf("EnsureSchema failed: %v", err)
		}
	}
	if err := db.Exec(ctx, `CREATE TABLE "staging"."account" ("id" varchar(19) primary key)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}

	if err := MoveTable(ctx, db, "staging", "account", "public"); err != nil {
		t.Fatalf("MoveTable failed: %v", err)
	}
	if db.TableColumns("staging", "account") != nil {
		t.Error("table still present in source schema")
	}
	if db.TableColumns("public", "account") == nil {
		t.Error("table missing from destination schema")
	}
}

func TestLocate(t *testing.T) {
	db := NewMemoryDB()
	schemas := DefaultSchemas()
	ctx := context.Background()

	loc, err := Locate(ctx, db, schemas, "account")
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if !loc.Empty() {
		t.Errorf("location = %s, want empty", loc)
	}

	if err := EnsureSchema(ctx, db, schemas.Staging); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if err := db.Exec(ctx, `CREATE TABLE "staging"."account" ("id" varchar(19) primary key)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}

	loc, err = Locate(ctx, db, schemas, "account")
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if !loc.Staging || loc.Transitional || loc.Published {
		t.Errorf("location = %s, want staging only", loc)
	}
}

func TestListTables_ExcludesImportLog(t *testing.T) {
	db := NewMemoryDB()
	schemas := DefaultSchemas()
	ctx := context.Background()

	if err := EnsureSchema(ctx, db, schemas.Published); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if err := EnsureImportLog(ctx, db, schemas.Published); err != nil {
		t.Fatalf("EnsureImportLog failed: %v", err)
	}
	if err := db.Exec(ctx, `CREATE TABLE "public"."contact" ("id" varchar(19) primary key)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	if err := db.Exec(ctx, `CREATE TABLE "public"."account" ("id" varchar(19) primary key)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}

	tables, err := ListTables(ctx, db, schemas.Published)
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(tables) != 2 || tables[0] != "account" || tables[1] != "contact" {
		t.Errorf("tables = %v, want [account contact]", tables)
	}
}

func TestRowCountAndColumnCount(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()

	if err := EnsureSchema(ctx, db, "public"); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if err := db.Exec(ctx, `CREATE TABLE "public"."account" ("id" varchar(19) primary key, "name" text)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	insert := `INSERT INTO "public"."account" ("id", "name") VALUES ($1, $2) ON CONFLICT ("id") DO NOTHING`
	for _, id := range []string{"a", "b", "c"} {
		if err := db.Exec(ctx, insert, id, "x"); err != nil {
			t.Fatalf("inserting: %v", err)
		}
	}

	rows, err := RowCount(ctx, db, "public", "account")
	if err != nil {
		t.Fatalf("RowCount failed: %v", err)
	}
	if rows != 3 {
		t.Errorf("rows = %d, want 3", rows)
	}

	cols, err := ColumnCount(ctx, db, "public", "account")
	if err != nil {
		t.Fatalf("ColumnCount failed: %v", err)
	}
	if cols != 2 {
		t.Errorf("cols = %d, want 2", cols)
	}
}
