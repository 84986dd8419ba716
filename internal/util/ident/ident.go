// Package ident provides canonicalized identifiers for database
// resources (tables, for now) observed by the interceptor. It is
// adapted from cdc-sink's ident.Ident/ident.Table, trimmed to the
// single responsibility this module needs: a stable, lower-cased,
// optionally schema-qualified resource name that is safe to use as a
// map key and safe to export in an event.
package ident

import "strings"

// A Resource is a canonical, lower-cased identifier for a table or
// other lockable unit. Two Resources with the same Raw value always
// refer to the same logical resource.
type Resource struct {
	raw string
}

// New canonicalizes name (trim, lower-case) into a Resource.
func New(name string) Resource {
	return Resource{raw: strings.ToLower(strings.TrimSpace(trimQuotes(name)))}
}

// Qualified joins a schema and a table name into a single Resource,
// e.g. "public.accounts".
func Qualified(schema, table string) Resource {
	schema = strings.ToLower(strings.TrimSpace(trimQuotes(schema)))
	table = strings.ToLower(strings.TrimSpace(trimQuotes(table)))
	if schema == "" {
		return Resource{raw: table}
	}
	return Resource{raw: schema + "." + table}
}

// Raw returns the canonical string form.
func (r Resource) Raw() string { return r.raw }

// IsZero reports whether r is the zero Resource.
func (r Resource) IsZero() bool { return r.raw == "" }

func (r Resource) String() string { return r.raw }

func trimQuotes(s string) string {
	s = strings.Trim(s, `"`)
	s = strings.Trim(s, "`")
	s = strings.Trim(s, "'")
	return s
}
