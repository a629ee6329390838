package sqlstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Dialect selects the SQL flavour for DDL and placeholders.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validatePrefix ensures a table prefix is safe to splice into SQL.
// An empty prefix is allowed.
func validatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if !identifierRegex.MatchString(prefix) {
		return fmt.Errorf("table prefix must start with a letter and contain only letters, numbers, and underscores (got: %s)", prefix)
	}
	return nil
}

func parseDialect(driver string) (Dialect, error) {
	switch Dialect(driver) {
	case SQLite, Postgres, MySQL:
		return Dialect(driver), nil
	}
	return "", fmt.Errorf("unsupported driver %q (want sqlite3, postgres or mysql)", driver)
}

// floatType is the column type for hour values.
func (d Dialect) floatType() string {
	switch d {
	case Postgres:
		return "DOUBLE PRECISION"
	case MySQL:
		return "DOUBLE"
	}
	return "REAL"
}

// rebind rewrites ? placeholders to $n for postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tables in dependency order; deletes run in reverse.
var tables = []string{"meta", "workers", "models", "stages", "posts", "assignments", "orders", "progress"}

// schema returns the CREATE TABLE statements, one per element.
func schema(d Dialect, prefix string) []string {
	f := d.floatType()
	t := func(name string) string { return prefix + name }
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    meta_key VARCHAR(32) PRIMARY KEY,
    meta_value VARCHAR(64) NOT NULL
)`, t("meta")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    role VARCHAR(32) NOT NULL,
    hours_per_day %s NOT NULL DEFAULT 0
)`, t("workers"), f),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name VARCHAR(255) PRIMARY KEY
)`, t("models")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    model VARCHAR(255) NOT NULL,
    seq INT NOT NULL,
    name VARCHAR(255) NOT NULL,
    stage_type VARCHAR(32) NOT NULL,
    time_per_unit %s NOT NULL,
    PRIMARY KEY (model, seq)
)`, t("stages"), f),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id INT PRIMARY KEY,
    post_type VARCHAR(32) NOT NULL
)`, t("posts")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    work_date VARCHAR(10) NOT NULL,
    post_id INT NOT NULL,
    worker_id VARCHAR(64) NOT NULL,
    PRIMARY KEY (work_date, post_id)
)`, t("assignments")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id VARCHAR(64) PRIMARY KEY,
    model VARCHAR(255) NOT NULL,
    quantity INT NOT NULL,
    created_on VARCHAR(10) NOT NULL,
    status VARCHAR(16) NOT NULL,
    projection_date VARCHAR(10),
    projection_known INT NOT NULL DEFAULT 0,
    projection_as_of VARCHAR(10)
)`, t("orders")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    order_id VARCHAR(64) NOT NULL,
    work_date VARCHAR(10) NOT NULL,
    units INT NOT NULL,
    PRIMARY KEY (order_id, work_date)
)`, t("progress")),
	}
}
