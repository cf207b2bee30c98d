// Package ddl maps source field types to warehouse column types and
// generates the CREATE TABLE, column comment, and index statements for one
// object's schema definition.
package ddl

import (
	"fmt"

	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/pkg/types"
)

// IdentifierColumnType is the column type for source record identifiers and
// reference fields. Source ids are fixed-length strings.
const IdentifierColumnType = "varchar(19)"

// MapType returns the warehouse column type for a source field type.
//
// The switch is total over the closed FieldType enumeration: every primitive
// type has an explicit target, every compound type fails with
// UNSUPPORTED_TYPE, and a value missing from the enumeration fails with
// UNKNOWN_TYPE instead of falling through to a silent default. Callers must
// have excluded compound fields before DDL generation; this function is the
// last line of defense.
func MapType(t types.FieldType) (string, error) {
	switch t {
	case types.FieldTypeID, types.FieldTypeReference:
		return IdentifierColumnType, nil
	case types.FieldTypeString, types.FieldTypePicklist, types.FieldTypeMultiPicklist,
		types.FieldTypeCombobox, types.FieldTypeTextArea, types.FieldTypeEmail,
		types.FieldTypePhone, types.FieldTypeURL, types.FieldTypeEncrypted,
		types.FieldTypeBase64, types.FieldTypeAnyType:
		return "text", nil
	case types.FieldTypeBoolean:
		return "boolean", nil
	case types.FieldTypeInt:
		return "integer", nil
	case types.FieldTypeLong:
		return "bigint", nil
	case types.FieldTypeDouble, types.FieldTypeCurrency, types.FieldTypePercent:
		return "double precision", nil
	case types.FieldTypeDate:
		return "date", nil
	case types.FieldTypeDateTime:
		return "timestamptz", nil
	case types.FieldTypeTime:
		return "time", nil
	case types.FieldTypeAddress, types.FieldTypeLocation,
		types.FieldTypeCalculated, types.FieldTypeComplexValue:
		return "", apperrors.NewMappingError(apperrors.CodeUnsupportedType,
			fmt.Sprintf("compound type %q cannot be materialized as a column", t))
	default:
		return "", apperrors.NewMappingError(apperrors.CodeUnknownType,
			fmt.Sprintf("source field type %q is not in the type mapping", t))
	}
}

// IsCompound reports whether t is a compound type that must always be
// excluded from DDL.
func IsCompound(t types.FieldType) bool {
	switch t {
	case types.FieldTypeAddress, types.FieldTypeLocation,
		types.FieldTypeCalculated, types.FieldTypeComplexValue:
		return true
	}
	return false
}

// IsIdentifier reports whether t is the identifier type.
func IsIdentifier(t types.FieldType) bool {
	return t == types.FieldTypeID
}
