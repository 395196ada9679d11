package ingest

// Walker selects document objects out of a parsed file. A file may hold a
// single document at its root or several under an envelope such as
// {"forms": [...]}.
type Walker interface {
	// Query runs selector against root and returns the matched values.
	Query(root any, selector string) ([]Match, error)
}

// Match is one selected value.
type Match interface {
	// Values returns the matched object, or {"value": v} for a scalar.
	Values() map[string]any
	// Context returns the raw matched value.
	Context() any
}
