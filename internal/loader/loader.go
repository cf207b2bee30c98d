// Package loader converts batches of extracted records into upsert
// statements against an object's staging table.
//
// Work is split two-dimensionally to stay under the engine's per-statement
// argument ceiling: by column count into groups of at most
// MaxColumnsPerStatement, and by row count into groups of at most
// MaxRowsPerStatement, shrunk further so columns times rows never exceeds
// MaxParamsPerStatement bind parameters. The identifier is carried in every
// column group, so the second and later groups for the same rows update,
// not duplicate, the row written by the first group.
package loader

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/crmlake/crmlake/internal/ddl"
	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/internal/warehouse"
	"github.com/crmlake/crmlake/pkg/types"
)

// Statement slicing ceilings. Postgres's extended protocol rejects more
// than 65535 bind parameters in one statement, so wide column groups shrink
// the row slice until columns times rows fits under MaxParamsPerStatement.
const (
	MaxColumnsPerStatement = 600
	MaxRowsPerStatement    = 1000
	MaxParamsPerStatement  = 65535
)

// Record is one semi-structured source record, keyed by source field name.
type Record map[string]any

// Result summarizes one load.
type Result struct {
	Rows       int
	Statements int
}

// Engine bulk-loads records into staging tables.
type Engine struct {
	db      warehouse.DB
	schemas warehouse.Schemas
}

// NewEngine creates a batch load engine.
func NewEngine(db warehouse.DB, schemas warehouse.Schemas) *Engine {
	return &Engine{db: db, schemas: schemas}
}

// Load upserts all records into the staging table for schema. Re-running a
// load with the same records is safe: every statement is an upsert keyed on
// the identifier.
func (e *Engine) Load(ctx context.Context, schema *types.SchemaDefinition, records []Record) (Result, error) {
	if len(records) == 0 {
		return Result{}, nil
	}

	ids := schema.IdentifierFields()
	if len(ids) != 1 {
		return Result{}, apperrors.NewSchemaError(apperrors.CodeNoIdentifier,
			fmt.Sprintf("schema %q must have exactly one identifier field, found %d", schema.Name, len(ids)), nil)
	}
	idField := ids[0]
	if _, ok := schema.Properties[idField]; !ok {
		return Result{}, apperrors.NewSchemaError(apperrors.CodeNoIdentifier,
			fmt.Sprintf("schema %q excludes its identifier field %q", schema.Name, idField), nil)
	}

	// Identifier first, remaining fields in deterministic order.
	fields := make([]string, 0, len(schema.Properties))
	fields = append(fields, idField)
	for _, name := range schema.PropertyNames() {
		if name != idField {
			fields = append(fields, name)
		}
	}

	table := ddl.TableName(schema.Name)
	result := Result{Rows: len(records)}

	for _, fieldGroup := range splitColumns(fields, idField) {
		rowsPer := rowsPerStatement(len(fieldGroup))
		for rowStart := 0; rowStart < len(records); rowStart += rowsPer {
			rowEnd := rowStart + rowsPer
			if rowEnd > len(records) {
				rowEnd = len(records)
			}

			stmt, args, err := e.buildUpsert(schema, table, idField, fieldGroup, records[rowStart:rowEnd])
			if err != nil {
				return Result{}, err
			}
			if err := e.db.Exec(ctx, stmt, args...); err != nil {
				return Result{}, fmt.Errorf("loading %d rows into %s.%s: %w",
					rowEnd-rowStart, e.schemas.Staging, table, err)
			}
			result.Statements++
		}
	}

	return result, nil
}

// buildUpsert renders one INSERT ... ON CONFLICT statement for a
// (column group, row group) pair.
func (e *Engine) buildUpsert(schema *types.SchemaDefinition, table, idField string, fields []string, records []Record) (string, []any, error) {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = ddl.QuoteIdent(strings.ToLower(f))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s.%s (%s) VALUES ",
		ddl.QuoteIdent(e.schemas.Staging), ddl.QuoteIdent(table), strings.Join(quoted, ", "))

	args := make([]any, 0, len(fields)*len(records))
	placeholder := 1
	for r, rec := range records {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for i, f := range fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", placeholder)
			placeholder++

			value, err := convertValue(schema, f, rec)
			if err != nil {
				return "", nil, err
			}
			if f == idField && value == nil {
				return "", nil, apperrors.NewLoadError(apperrors.CodeMissingIdentifier,
					fmt.Sprintf("record %d for %q has no value for identifier field %q", r, schema.Name, idField)).
					WithDetails(map[string]interface{}{"object": schema.Name, "record": r})
			}
			args = append(args, value)
		}
		sb.WriteByte(')')
	}

	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO ", ddl.QuoteIdent(strings.ToLower(idField)))

	var updates []string
	for _, f := range fields {
		if f == idField {
			continue
		}
		col := ddl.QuoteIdent(strings.ToLower(f))
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	if len(updates) == 0 {
		sb.WriteString("NOTHING")
	} else {
		sb.WriteString("UPDATE SET " + strings.Join(updates, ", "))
	}

	return sb.String(), args, nil
}

// convertValue coerces one record value for its field type. Absent and nil
// values become SQL NULL. Currency values are parsed as floating point and
// fail when parsing yields not-a-number. Other recognized types pass the raw
// value through; a type outside the enumeration is stringified defensively.
func convertValue(schema *types.SchemaDefinition, field string, rec Record) (any, error) {
	raw, ok := rec[field]
	if !ok || raw == nil {
		return nil, nil
	}

	spec := schema.Properties[field]
	switch spec.Type {
	case types.FieldTypeCurrency:
		f, err := toFloat(raw)
		if err != nil || math.IsNaN(f) {
			return nil, apperrors.NewLoadError(apperrors.CodeValueConversion,
				fmt.Sprintf("currency value %v for field %q of %q is not a number", raw, field, schema.Name))
		}
		return f, nil
	case types.FieldTypeID, types.FieldTypeReference, types.FieldTypeString,
		types.FieldTypePicklist, types.FieldTypeMultiPicklist, types.FieldTypeCombobox,
		types.FieldTypeTextArea, types.FieldTypeEmail, types.FieldTypePhone,
		types.FieldTypeURL, types.FieldTypeEncrypted, types.FieldTypeBase64,
		types.FieldTypeAnyType, types.FieldTypeBoolean, types.FieldTypeInt,
		types.FieldTypeLong, types.FieldTypeDouble, types.FieldTypePercent,
		types.FieldTypeDate, types.FieldTypeDateTime, types.FieldTypeTime:
		return raw, nil
	default:
		return fmt.Sprint(raw), nil
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("cannot parse %T as float", v)
	}
}

// rowsPerStatement returns the row slice size for a column group, shrunk so
// the statement never carries more than MaxParamsPerStatement placeholders.
func rowsPerStatement(columns int) int {
	rows := MaxRowsPerStatement
	if limit := MaxParamsPerStatement / columns; limit < rows {
		rows = limit
	}
	return rows
}

// splitColumns chunks the ordered field list into statement-sized groups.
// The identifier rides in every group; chunks after the first are one
// column short so prepending the identifier keeps every group at or under
// MaxColumnsPerStatement.
func splitColumns(fields []string, idField string) [][]string {
	if len(fields) <= MaxColumnsPerStatement {
		return [][]string{fields}
	}

	groups := [][]string{fields[:MaxColumnsPerStatement]}
	for start := MaxColumnsPerStatement; start < len(fields); start += MaxColumnsPerStatement - 1 {
		end := start + MaxColumnsPerStatement - 1
		if end > len(fields) {
			end = len(fields)
		}
		group := make([]string, 0, end-start+1)
		group = append(group, idField)
		group = append(group, fields[start:end]...)
		groups = append(groups, group)
	}
	return groups
}
