package warehouse

import (
	"fmt"
	"regexp"
	"strings"
)

// Copy is a parsed bulk-load statement.
type Copy struct {
	Table string
	Path  string
	Role  string
}

// String renders the statement in the warehouse COPY dialect.
func (c Copy) String() string {
	return CopyStatement(c.Table, c.Path, c.Role)
}

// CopyStatement builds a Parquet COPY of path into table, authorised by the
// given IAM role.
func CopyStatement(table, path, role string) string {
	return fmt.Sprintf("COPY %s FROM '%s' IAM_ROLE '%s' FORMAT AS PARQUET;", table, quote(path), quote(role))
}

var copyRe = regexp.MustCompile(`(?is)^\s*COPY\s+([A-Za-z_][A-Za-z0-9_.]*)\s+FROM\s+'((?:[^']|'')*)'\s+IAM_ROLE\s+'((?:[^']|'')*)'\s+FORMAT\s+AS\s+PARQUET\s*;?\s*$`)

// ParseCopy parses a statement produced by CopyStatement.
func ParseCopy(sql string) (Copy, error) {
	m := copyRe.FindStringSubmatch(sql)
	if m == nil {
		return Copy{}, fmt.Errorf("%w: %q", ErrUnsupportedStatement, truncate(sql, 80))
	}
	c := Copy{
		Table: strings.ToLower(m[1]),
		Path:  unquote(m[2]),
		Role:  unquote(m[3]),
	}
	if c.Path == "" {
		return Copy{}, fmt.Errorf("%w: empty source path", ErrUnsupportedStatement)
	}
	return c, nil
}

func quote(s string) string   { return strings.ReplaceAll(s, "'", "''") }
func unquote(s string) string { return strings.ReplaceAll(s, "''", "'") }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
