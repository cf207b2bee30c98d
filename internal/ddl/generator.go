package ddl

import (
	"fmt"
	"strings"

	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/pkg/types"
)

// CreateTable holds the generated statements for one object's table.
type CreateTable struct {
	// Create is the CREATE TABLE statement.
	Create string
	// Comments holds one COMMENT ON COLUMN statement per described column.
	Comments []string
	// Indexes holds one CREATE INDEX statement per reference column.
	Indexes []string
}

// BuildCreateTable generates the DDL for schema under
// warehouseSchema.tableName. Column names are the lower-cased field names,
// quoted. The identifier column is rendered first as the primary key;
// remaining columns follow in deterministic (sorted) order. Indexes are
// generated only for reference-typed fields; this policy is fixed.
func BuildCreateTable(schema *types.SchemaDefinition, warehouseSchema, tableName string) (*CreateTable, error) {
	ids := schema.IdentifierFields()
	if len(ids) != 1 {
		return nil, apperrors.NewSchemaError(apperrors.CodeNoIdentifier,
			fmt.Sprintf("schema %q must have exactly one identifier field, found %d", schema.Name, len(ids)), nil).
			WithDetails(map[string]interface{}{"object": schema.Name, "identifiers": ids})
	}
	idField := ids[0]
	if _, ok := schema.Properties[idField]; !ok {
		return nil, apperrors.NewSchemaError(apperrors.CodeNoIdentifier,
			fmt.Sprintf("schema %q excludes its identifier field %q", schema.Name, idField), nil)
	}

	fqn := QuoteIdent(warehouseSchema) + "." + QuoteIdent(tableName)

	names := make([]string, 0, len(schema.Properties))
	names = append(names, idField)
	for _, name := range schema.PropertyNames() {
		if name != idField {
			names = append(names, name)
		}
	}

	cols := make([]string, 0, len(names))
	result := &CreateTable{}

	for _, name := range names {
		field := schema.Properties[name]
		colType, err := MapType(field.Type)
		if err != nil {
			return nil, err
		}

		column := strings.ToLower(name)
		def := QuoteIdent(column) + " " + colType
		if name == idField {
			def += " primary key"
		}
		cols = append(cols, def)

		if comment := columnComment(field); comment != "" {
			result.Comments = append(result.Comments, fmt.Sprintf(
				"COMMENT ON COLUMN %s.%s IS %s",
				fqn, QuoteIdent(column), QuoteLiteral(comment)))
		}

		if field.Type == types.FieldTypeReference {
			result.Indexes = append(result.Indexes, fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				QuoteIdent(indexName(tableName, column)), fqn, QuoteIdent(column)))
		}
	}

	result.Create = fmt.Sprintf("CREATE TABLE %s (%s)", fqn, strings.Join(cols, ", "))
	return result, nil
}

// columnComment combines a field's label and comment into the text attached
// to the warehouse column.
func columnComment(f types.FieldSpec) string {
	switch {
	case f.Label != "" && f.Comment != "":
		return f.Label + ": " + f.Comment
	case f.Comment != "":
		return f.Comment
	default:
		return f.Label
	}
}

func indexName(table, column string) string {
	return "idx_" + table + "_" + column
}

// TableName derives the warehouse table name for a source object.
func TableName(object string) string {
	return strings.ToLower(object)
}

// QuoteIdent quotes a single identifier segment, escaping embedded double
// quotes by doubling.
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal, escaping embedded single quotes by
// doubling.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
