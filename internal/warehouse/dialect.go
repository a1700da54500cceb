package warehouse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// DriverSQLite is the database/sql driver name registered by modernc.org/sqlite.
const DriverSQLite = "sqlite"

// Dialect captures the small set of SQL differences the operators care about.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2) instead of ?.
	Numbered bool
	// SingleWriter dialects get a one-connection pool so concurrent
	// sessions queue instead of failing with a lock error.
	SingleWriter bool
}

// DialectFor picks a dialect by driver name.
func DialectFor(driver string) Dialect {
	switch strings.ToLower(driver) {
	case "postgres", "pgx", "redshift":
		return Dialect{Name: "postgres", Numbered: true}
	case DriverSQLite, "sqlite3":
		return Dialect{Name: "sqlite", SingleWriter: true}
	default:
		return Dialect{Name: driver}
	}
}

// Placeholder returns the bind marker for the 1-based position n.
func (d Dialect) Placeholder(n int) string {
	if d.Numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdent validates and quotes a possibly schema-qualified identifier.
func QuoteIdent(name string) (string, error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	for i, p := range parts {
		if !identRe.MatchString(p) {
			return "", fmt.Errorf("invalid identifier %q", name)
		}
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, "."), nil
}
