package types

import "fmt"

// TableLocation records where one object's table physically exists across the
// three warehouse schemas. It is derived by introspecting the database
// catalog on every invocation and is never cached or persisted: it must
// reflect crash and retry reality.
type TableLocation struct {
	Staging      bool `json:"staging"`
	Transitional bool `json:"transitional"`
	Published    bool `json:"published"`
}

// Empty reports whether the object has no table anywhere.
func (l TableLocation) Empty() bool {
	return !l.Staging && !l.Transitional && !l.Published
}

// String renders the triple for diagnostics.
func (l TableLocation) String() string {
	return fmt.Sprintf("(staging=%t, transitional=%t, published=%t)",
		l.Staging, l.Transitional, l.Published)
}
