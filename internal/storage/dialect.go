package storage

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const tableName = "logChannels"

// Column names of the routing table. The legacy schema lacks changeChannelId.
const (
	colGuild  = "guildId"
	colText   = "textChannelId"
	colEdit   = "editChannelId"
	colVoice  = "voiceChannelId"
	colChange = "changeChannelId"
)

var baseColumns = []string{colText, colEdit, colVoice}

// additiveColumns are added to an existing table when missing.
var additiveColumns = []string{colChange}

func categoryColumn(c Category) string {
	switch c {
	case CategoryText:
		return colText
	case CategoryEdit:
		return colEdit
	case CategoryVoice:
		return colVoice
	case CategoryChange:
		return colChange
	}
	return ""
}

// dialect captures what differs between the SQL backends.
type dialect struct {
	name       string
	driver     string
	idType     string
	columnType string
	// columnsQuery lists the live columns of the routing table; it takes the
	// table name as its only argument.
	columnsQuery string
	upsert       func(d dialect, cols []string) string
}

func (d dialect) placeholder(n int) string {
	if d.name == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d dialect) createTable() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY", tableName, colGuild, d.idType)
	for _, c := range baseColumns {
		fmt.Fprintf(&b, ", %s %s", c, d.columnType)
	}
	for _, c := range additiveColumns {
		fmt.Fprintf(&b, ", %s %s", c, d.columnType)
	}
	b.WriteString(")")
	return b.String()
}

func (d dialect) addColumn(col string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tableName, col, d.columnType)
}

func (d dialect) selectOne(cols []string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(cols, ", "), tableName, colGuild, d.placeholder(1))
}

func (d dialect) values(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

// upsert with ON CONFLICT ... excluded (sqlite, postgres).
func upsertExcluded(d dialect, cols []string) string {
	all := append([]string{colGuild}, cols...)
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		tableName, strings.Join(all, ", "), d.values(len(all)), colGuild, strings.Join(sets, ", "))
}

func upsertDuplicateKey(d dialect, cols []string) string {
	all := append([]string{colGuild}, cols...)
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		tableName, strings.Join(all, ", "), d.values(len(all)), strings.Join(sets, ", "))
}

var (
	sqliteDialect = dialect{
		name:         "sqlite",
		driver:       "sqlite",
		idType:       "TEXT",
		columnType:   "TEXT",
		columnsQuery: "SELECT name FROM pragma_table_info(?)",
		upsert:       upsertExcluded,
	}
	postgresDialect = dialect{
		name:       "postgres",
		driver:     "postgres",
		idType:     "TEXT",
		columnType: "TEXT",
		// Unquoted identifiers are folded to lower case by postgres.
		columnsQuery: "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = LOWER($1)",
		upsert:       upsertExcluded,
	}
	mysqlDialect = dialect{
		name:         "mysql",
		driver:       "mysql",
		idType:       "VARCHAR(32)",
		columnType:   "VARCHAR(32) NULL",
		columnsQuery: "SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?",
		upsert:       upsertDuplicateKey,
	}
)
