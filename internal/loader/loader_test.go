package loader

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/internal/warehouse"
	"github.com/crmlake/crmlake/pkg/types"
)

func testSchemas() warehouse.Schemas {
	return warehouse.DefaultSchemas()
}

// prepareTable creates the staging schema and a staging table wide enough
// for the given schema definition.
func prepareTable(t *testing.T, db *warehouse.MemoryDB, schema *types.SchemaDefinition) {
	t.Helper()
	ctx := context.Background()
	if err := warehouse.EnsureSchema(ctx, db, testSchemas().Staging); err != nil {
		t.Fatalf("creating staging schema: %v", err)
	}

	cols := []string{`"id" varchar(19) primary key`}
	for _, name := range schema.PropertyNames() {
		if name == "Id" {
			continue
		}
		cols = append(cols, fmt.Sprintf("%q text", strings.ToLower(name)))
	}
	stmt := fmt.Sprintf(`CREATE TABLE "staging".%q (%s)`,
		strings.ToLower(schema.Name), strings.Join(cols, ", "))
	if err := db.Exec(ctx, stmt); err != nil {
		t.Fatalf("creating staging table: %v", err)
	}
}

func accountSchema() *types.SchemaDefinition {
	return &types.SchemaDefinition{
		Name: "Account",
		Properties: map[string]types.FieldSpec{
			"Id":     {Type: types.FieldTypeID},
			"Name":   {Type: types.FieldTypeString},
			"Amount": {Type: types.FieldTypeCurrency},
		},
	}
}

func TestLoad_Empty(t *testing.T) {
	db := warehouse.NewMemoryDB()
	engine := NewEngine(db, testSchemas())

	result, err := engine.Load(context.Background(), accountSchema(), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if result.Rows != 0 || result.Statements != 0 {
		t.Errorf("result = %+v, want zero", result)
	}
	if len(db.Statements) != 0 {
		t.Errorf("executed %d statements for an empty load", len(db.Statements))
	}
}

func TestLoad_UpsertsRows(t *testing.T) {
	db := warehouse.NewMemoryDB()
	schema := accountSchema()
	prepareTable(t, db, schema)
	engine := NewEngine(db, testSchemas())

	records := []Record{
		{"Id": "001A", "Name": "Acme", "Amount": 12.5},
		{"Id": "001B", "Name": "Globex", "Amount": 7.0},
	}
	result, err := engine.Load(context.Background(), schema, records)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if result.Rows != 2 || result.Statements != 1 {
		t.Errorf("result = %+v, want 2 rows in 1 statement", result)
	}

	rows := db.TableRows("staging", "account")
	if len(rows) != 2 {
		t.Fatalf("loaded %d rows, want 2", len(rows))
	}
	if rows[0]["name"] != "Acme" || rows[0]["amount"] != 12.5 {
		t.Errorf("first row = %v", rows[0])
	}
}

func TestLoad_ReloadOverwrites(t *testing.T) {
	db := warehouse.NewMemoryDB()
	schema := accountSchema()
	prepareTable(t, db, schema)
	engine := NewEngine(db, testSchemas())
	ctx := context.Background()

	first := []Record{{"Id": "001A", "Name": "Acme", "Amount": 1.0}}
	if _, err := engine.Load(ctx, schema, first); err != nil {
		t.Fatalf("first load failed: %v", err)
	}

	second := []Record{{"Id": "001A", "Name": "Acme Corp", "Amount": 2.0}}
	if _, err := engine.Load(ctx, schema, second); err != nil {
		t.Fatalf("second load failed: %v", err)
	}

	rows := db.TableRows("staging", "account")
	if len(rows) != 1 {
		t.Fatalf("loaded %d rows, want 1", len(rows))
	}
	if rows[0]["name"] != "Acme Corp" || rows[0]["amount"] != 2.0 {
		t.Errorf("row after reload = %v", rows[0])
	}
}

func TestLoad_CurrencyCoercion(t *testing.T) {
	db := warehouse.NewMemoryDB()
	schema := accountSchema()
	prepareTable(t, db, schema)
	engine := NewEngine(db, testSchemas())

	records := []Record{
		{"Id": "001A", "Name": "Acme", "Amount": "12.5"},
		{"Id": "001B", "Name": "Globex", "Amount": 7},
	}
	if _, err := engine.Load(context.Background(), schema, records); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rows := db.TableRows("staging", "account")
	if rows[0]["amount"] != 12.5 {
		t.Errorf("string currency = %v (%T), want 12.5", rows[0]["amount"], rows[0]["amount"])
	}
	if rows[1]["amount"] != 7.0 {
		t.Errorf("int currency = %v (%T), want 7.0", rows[1]["amount"], rows[1]["amount"])
	}
}

func TestLoad_CurrencyNotANumber(t *testing.T) {
	db := warehouse.NewMemoryDB()
	schema := accountSchema()
	prepareTable(t, db, schema)
	engine := NewEngine(db, testSchemas())

	records := []Record{{"Id": "001A", "Name": "Acme", "Amount": "twelve"}}
	_, err := engine.Load(context.Background(), schema, records)
	if err == nil {
		t.Fatal("Load succeeded with an unparseable currency value")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeValueConversion {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeValueConversion)
	}
}

func TestLoad_NullValues(t *testing.T) {
	db := warehouse.NewMemoryDB()
	schema := accountSchema()
	prepareTable(t, db, schema)
	engine := NewEngine(db, testSchemas())

	records := []Record{{"Id": "001A"}}
	if _, err := engine.Load(context.Background(), schema, records); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rows := db.TableRows("staging", "account")
	if rows[0]["name"] != nil || rows[0]["amount"] != nil {
		t.Errorf("absent fields = %v, want nils", rows[0])
	}
}

func TestLoad_MissingIdentifier(t *testing.T) {
	db := warehouse.NewMemoryDB()
	schema := accountSchema()
	prepareTable(t, db, schema)
	engine := NewEngine(db, testSchemas())

	records := []Record{{"Name": "Nameless"}}
	_, err := engine.Load(context.Background(), schema, records)
	if err == nil {
		t.Fatal("Load succeeded without identifier values")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeMissingIdentifier {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeMissingIdentifier)
	}
}

func TestSplitColumns_IdentifierInEveryGroup(t *testing.T) {
	fields := make([]string, 0, 1300)
	fields = append(fields, "Id")
	for i := 1; i < 1300; i++ {
		fields = append(fields, fmt.Sprintf("Field%04d", i))
	}

	groups := splitColumns(fields, "Id")
	if len(groups) != 3 {
		t.Fatalf("group count = %d, want 3", len(groups))
	}
	seen := make(map[string]bool)
	for i, group := range groups {
		if group[0] != "Id" {
			t.Errorf("group %d does not start with the identifier: %v", i, group[:2])
		}
		if len(group) > MaxColumnsPerStatement {
			t.Errorf("group %d has %d columns, ceiling is %d", i, len(group), MaxColumnsPerStatement)
		}
		for _, f := range group {
			seen[f] = true
		}
	}
	if len(seen) != len(fields) {
		t.Errorf("groups cover %d distinct fields, want %d", len(seen), len(fields))
	}
}

// A moderately wide object at a full row slice must still fit under the
// extended-protocol bind-parameter limit: 70 columns cannot ride in
// 1000-row statements, so the load splits into smaller row slices.
func TestLoad_WideObjectStaysUnderParamCeiling(t *testing.T) {
	schema := &types.SchemaDefinition{
		Name:       "Wide",
		Properties: map[string]types.FieldSpec{"Id": {Type: types.FieldTypeID}},
	}
	for i := 0; i < 69; i++ {
		schema.Properties[fmt.Sprintf("F%04d", i)] = types.FieldSpec{Type: types.FieldTypeString}
	}

	db := warehouse.NewMemoryDB()
	prepareTable(t, db, schema)
	engine := NewEngine(db, testSchemas())

	records := make([]Record, 1000)
	for r := range records {
		rec := Record{"Id": fmt.Sprintf("row-%05d", r)}
		for i := 0; i < 69; i++ {
			rec[fmt.Sprintf("F%04d", i)] = "v"
		}
		records[r] = rec
	}

	result, err := engine.Load(context.Background(), schema, records)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if result.Statements < 2 {
		t.Errorf("statements = %d, want the load split to respect the parameter limit", result.Statements)
	}
	for _, stmt := range db.Statements {
		if !strings.HasPrefix(stmt, "INSERT") {
			continue
		}
		if n := strings.Count(stmt, "$"); n > MaxParamsPerStatement {
			t.Errorf("statement carries %d placeholders, limit is %d", n, MaxParamsPerStatement)
		}
	}
	if loaded := db.TableRows("staging", "wide"); len(loaded) != 1000 {
		t.Errorf("loaded %d rows, want 1000", len(loaded))
	}
}

// Every emitted statement must respect the column and parameter ceilings,
// the statement count must match the slicing arithmetic, and every field of
// every record must land in the staging table.
func TestProperty_LoadSlicing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 10
	properties := gopter.NewProperties(parameters)

	properties.Property("statement count and completeness", prop.ForAll(
		func(extraCols, rows int) bool {
			schema := &types.SchemaDefinition{
				Name:       "Wide",
				Properties: map[string]types.FieldSpec{"Id": {Type: types.FieldTypeID}},
			}
			for i := 0; i < extraCols; i++ {
				schema.Properties[fmt.Sprintf("F%04d", i)] = types.FieldSpec{Type: types.FieldTypeString}
			}

			db := warehouse.NewMemoryDB()
			prepareTable(t, db, schema)
			engine := NewEngine(db, testSchemas())

			records := make([]Record, rows)
			for r := range records {
				rec := Record{"Id": fmt.Sprintf("row-%05d", r)}
				for i := 0; i < extraCols; i++ {
					rec[fmt.Sprintf("F%04d", i)] = fmt.Sprintf("v-%d-%d", r, i)
				}
				records[r] = rec
			}

			result, err := engine.Load(context.Background(), schema, records)
			if err != nil {
				return false
			}

			fields := []string{"Id"}
			for _, name := range schema.PropertyNames() {
				if name != "Id" {
					fields = append(fields, name)
				}
			}
			wantStatements := 0
			for _, group := range splitColumns(fields, "Id") {
				per := rowsPerStatement(len(group))
				wantStatements += (rows + per - 1) / per
			}
			if result.Statements != wantStatements {
				return false
			}

			for _, stmt := range db.Statements {
				if !strings.HasPrefix(stmt, "INSERT") {
					continue
				}
				if strings.Count(stmt, "$") > MaxParamsPerStatement {
					return false
				}
			}

			loaded := db.TableRows("staging", "wide")
			if len(loaded) != rows {
				return false
			}
			for r, row := range loaded {
				for i := 0; i < extraCols; i++ {
					if row[fmt.Sprintf("f%04d", i)] != fmt.Sprintf("v-%d-%d", r, i) {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(0, 700),
		gen.IntRange(1, 1100),
	))

	properties.TestingRun(t)
}
