package storage

import "strings"

// SanitizeTableName turns a caller-supplied name into the name of the SQL
// table backing it. Every character outside [a-zA-Z0-9] becomes an
// underscore and the result is lower-cased, so "My Map!" becomes "my_map_".
//
// The mapping isn't reversible and different names can collide. Open
// rejects a collision within one process, see ErrNameCollision.
func SanitizeTableName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// quoteIdent quotes a sanitized table name for use in SQL. Sanitized names
// never contain quotes, but they can start with a digit.
func quoteIdent(name string) string {
	return `"` + name + `"`
}
