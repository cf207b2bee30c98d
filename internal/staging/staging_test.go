package staging

import (
	"context"
	"testing"

	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/internal/warehouse"
	"github.com/crmlake/crmlake/pkg/types"
)

func accountSchema() *types.SchemaDefinition {
	return &types.SchemaDefinition{
		Name: "Account",
		Properties: map[string]types.FieldSpec{
			"Id":        {Type: types.FieldTypeID, Label: "Account ID"},
			"Name":      {Type: types.FieldTypeString},
			"OwnerId":   {Type: types.FieldTypeReference},
			"Amount":    {Type: types.FieldTypeCurrency},
			"CreatedAt": {Type: types.FieldTypeDateTime},
		},
	}
}

func TestPrepare_CreatesTable(t *testing.T) {
	db := warehouse.NewMemoryDB()
	builder := NewBuilder(db, warehouse.DefaultSchemas())

	table, err := builder.Prepare(context.Background(), accountSchema())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if table != "account" {
		t.Errorf("table = %q, want %q", table, "account")
	}

	cols := db.TableColumns("staging", "account")
	want := []string{"id", "amount", "createdat", "name", "ownerid"}
	if len(cols) != len(want) {
		t.Fatalf("columns = %v, want %v", cols, want)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, cols[i], want[i])
		}
	}

	if got := db.ColumnComment("staging", "account", "id"); got != "Account ID" {
		t.Errorf("id comment = %q, want %q", got, "Account ID")
	}

	idx := db.Indexes("staging", "account")
	if len(idx) != 1 || idx[0] != "idx_account_ownerid" {
		t.Errorf("indexes = %v, want [idx_account_ownerid]", idx)
	}
}

func TestPrepare_DropsStaleTable(t *testing.T) {
	db := warehouse.NewMemoryDB()
	builder := NewBuilder(db, warehouse.DefaultSchemas())
	ctx := context.Background()

	if _, err := builder.Prepare(ctx, accountSchema()); err != nil {
		t.Fatalf("first Prepare failed: %v", err)
	}
	if err := db.Exec(ctx, `INSERT INTO "staging"."account" ("id") VALUES ($1) ON CONFLICT ("id") DO NOTHING`, "stale"); err != nil {
		t.Fatalf("seeding stale row: %v", err)
	}

	if _, err := builder.Prepare(ctx, accountSchema()); err != nil {
		t.Fatalf("second Prepare failed: %v", err)
	}
	if rows := db.TableRows("staging", "account"); len(rows) != 0 {
		t.Errorf("stale rows survived Prepare: %v", rows)
	}
}

func TestPrepare_FailsBeforeDDLOnBadSchema(t *testing.T) {
	db := warehouse.NewMemoryDB()
	builder := NewBuilder(db, warehouse.DefaultSchemas())

	bad := &types.SchemaDefinition{
		Name:       "Shadow",
		Properties: map[string]types.FieldSpec{"Name": {Type: types.FieldTypeString}},
	}
	_, err := builder.Prepare(context.Background(), bad)
	if err == nil {
		t.Fatal("Prepare succeeded without an identifier")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeNoIdentifier {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeNoIdentifier)
	}
	if len(db.Statements) != 0 {
		t.Errorf("executed %d statements before validation failed", len(db.Statements))
	}
}

// A concurrent CREATE SCHEMA can surface as a duplicate-key violation; one
// retry must absorb it.
func TestPrepare_AbsorbsSchemaRace(t *testing.T) {
	db := warehouse.NewMemoryDB()
	builder := NewBuilder(db, warehouse.DefaultSchemas())
	db.FailOnce("CREATE SCHEMA", warehouse.ErrDuplicateKey)

	if _, err := builder.Prepare(context.Background(), accountSchema()); err != nil {
		t.Fatalf("Prepare failed despite retry: %v", err)
	}
	if db.TableColumns("staging", "account") == nil {
		t.Error("staging table missing after retried Prepare")
	}
}

func TestPrepare_PersistentDuplicateKeyFails(t *testing.T) {
	db := warehouse.NewMemoryDB()
	builder := NewBuilder(db, warehouse.DefaultSchemas())
	db.Fail = func(sql string) error {
		if sql == `CREATE SCHEMA IF NOT EXISTS "staging"` {
			return warehouse.ErrDuplicateKey
		}
		return nil
	}

	_, err := builder.Prepare(context.Background(), accountSchema())
	if err == nil {
		t.Fatal("Prepare succeeded despite persistent duplicate-key failures")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeSchemaRace {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeSchemaRace)
	}
}
