package content

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError rejects a page body. It lists every problem found, not
// only the first.
type ValidationError struct {
	Problems []string
	// Schema is set when structured data failed classification.
	Schema *InvalidSchemaDataError
}

func (e *ValidationError) Error() string {
	return "invalid page content: " + strings.Join(e.Problems, "; ")
}

// Unwrap exposes the schema failure to errors.As.
func (e *ValidationError) Unwrap() error {
	if e.Schema == nil {
		return nil
	}
	return e.Schema
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// InvalidSchemaDataError names every structured-data field whose value did
// not pass classification.
type InvalidSchemaDataError struct {
	// Fields maps a property name to the reason it was rejected.
	Fields map[string]string
}

func (e *InvalidSchemaDataError) Error() string {
	return "invalid schema data: " + strings.Join(e.Names(), ", ")
}

// Names returns the offending field names, sorted.
func (e *InvalidSchemaDataError) Names() []string {
	names := make([]string, 0, len(e.Fields))
	for n := range e.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
