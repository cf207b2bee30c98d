// Package types defines the shared data model for the crmlake replication
// pipeline: source field types, schema definitions, table locations, and
// per-run status documents.
package types

import "sort"

// FieldType is a source-system field type. The set of values is closed:
// every type the connector can report is listed here, and the DDL type
// mapping is required to handle each one explicitly.
type FieldType string

// Primitive field types. Each maps to exactly one warehouse column type.
const (
	FieldTypeID            FieldType = "id"
	FieldTypeReference     FieldType = "reference"
	FieldTypeString        FieldType = "string"
	FieldTypePicklist      FieldType = "picklist"
	FieldTypeMultiPicklist FieldType = "multipicklist"
	FieldTypeCombobox      FieldType = "combobox"
	FieldTypeTextArea      FieldType = "textarea"
	FieldTypeEmail         FieldType = "email"
	FieldTypePhone         FieldType = "phone"
	FieldTypeURL           FieldType = "url"
	FieldTypeEncrypted     FieldType = "encryptedstring"
	FieldTypeBase64        FieldType = "base64"
	FieldTypeAnyType       FieldType = "anyType"
	FieldTypeBoolean       FieldType = "boolean"
	FieldTypeInt           FieldType = "int"
	FieldTypeLong          FieldType = "long"
	FieldTypeDouble        FieldType = "double"
	FieldTypeCurrency      FieldType = "currency"
	FieldTypePercent       FieldType = "percent"
	FieldTypeDate          FieldType = "date"
	FieldTypeDateTime      FieldType = "datetime"
	FieldTypeTime          FieldType = "time"
)

// Compound field types. These can never be materialized as a single column
// and must always land in a schema definition's Exclude set.
const (
	FieldTypeAddress      FieldType = "address"
	FieldTypeLocation     FieldType = "location"
	FieldTypeCalculated   FieldType = "calculated"
	FieldTypeComplexValue FieldType = "complexvalue"
)

// AllFieldTypes lists every value of the FieldType enumeration. Tests use it
// to prove the type mapping is total.
var AllFieldTypes = []FieldType{
	FieldTypeID,
	FieldTypeReference,
	FieldTypeString,
	FieldTypePicklist,
	FieldTypeMultiPicklist,
	FieldTypeCombobox,
	FieldTypeTextArea,
	FieldTypeEmail,
	FieldTypePhone,
	FieldTypeURL,
	FieldTypeEncrypted,
	FieldTypeBase64,
	FieldTypeAnyType,
	FieldTypeBoolean,
	FieldTypeInt,
	FieldTypeLong,
	FieldTypeDouble,
	FieldTypeCurrency,
	FieldTypePercent,
	FieldTypeDate,
	FieldTypeDateTime,
	FieldTypeTime,
	FieldTypeAddress,
	FieldTypeLocation,
	FieldTypeCalculated,
	FieldTypeComplexValue,
}

// FieldSpec describes a single source field within a schema definition.
type FieldSpec struct {
	// Type is the source field type.
	Type FieldType `json:"type"`

	// Label is the human-readable field name from the source system.
	Label string `json:"label,omitempty"`

	// Comment is attached to the warehouse column as a column comment.
	Comment string `json:"comment,omitempty"`
}

// SchemaDefinition is the versioned schema document for one source object.
// It is stored whole in the object store and overwritten on each refresh,
// never mutated in place.
type SchemaDefinition struct {
	// Name is the source object name, e.g. "Account".
	Name string `json:"name"`

	// Label is the human-readable object name.
	Label string `json:"label,omitempty"`

	// Properties maps field name to spec for fields included in DDL.
	Properties map[string]FieldSpec `json:"properties"`

	// Exclude maps field name to spec for fields known but deliberately
	// omitted from DDL (compound types land here).
	Exclude map[string]FieldSpec `json:"exclude,omitempty"`
}

// PropertyNames returns the included field names in deterministic order.
func (s SchemaDefinition) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IdentifierFields returns the names of all fields across Properties and
// Exclude whose type is the identifier type, in deterministic order.
// A well-formed schema has exactly one; callers fail closed otherwise.
func (s SchemaDefinition) IdentifierFields() []string {
	var ids []string
	for name, f := range s.Properties {
		if f.Type == FieldTypeID {
			ids = append(ids, name)
		}
	}
	for name, f := range s.Exclude {
		if f.Type == FieldTypeID {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids
}
