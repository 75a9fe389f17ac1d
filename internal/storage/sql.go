package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"straznik/internal/fault"
	logx "straznik/pkg/logx"
)

type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
	locks   *keyLock

	mu      sync.RWMutex
	columns map[string]bool // live columns, lower-cased
	report  MigrationReport
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return newSQLStore(db, sqliteDialect, log)
}

func openSQL(d dialect, dsn string, log logx.Logger) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("storage.dsn is required for %s driver", d.name)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	return newSQLStore(db, d, log)
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d, log: log, locks: newKeyLock(64)}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the table when absent and adds every missing additive
// column. A failed column add is logged and leaves that category unusable;
// the store still opens.
func (s *sqlStore) migrate(ctx context.Context) error {
	var rep MigrationReport

	cols, err := s.liveColumns(ctx)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if len(cols) == 0 {
		if _, err := s.db.ExecContext(ctx, s.dialect.createTable()); err != nil {
			return fmt.Errorf("create %s: %w", tableName, err)
		}
		rep.CreatedTable = true
		if cols, err = s.liveColumns(ctx); err != nil {
			return fmt.Errorf("inspect schema: %w", err)
		}
	}

	for _, col := range additiveColumns {
		if cols[strings.ToLower(col)] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, s.dialect.addColumn(col)); err != nil {
			merr := fault.Migration(col, err)
			rep.Failed = append(rep.Failed, merr)
			s.log.Warn("column migration failed", logx.String("column", col), logx.Err(err))
			continue
		}
		cols[strings.ToLower(col)] = true
		rep.Added = append(rep.Added, col)
		s.log.Info("column added", logx.String("column", col))
	}

	for _, c := range append([]string{colGuild}, append(baseColumns, additiveColumns...)...) {
		if cols[strings.ToLower(c)] {
			rep.Columns = append(rep.Columns, c)
		}
	}

	s.mu.Lock()
	s.columns = cols
	s.report = rep
	s.mu.Unlock()
	return nil
}

func (s *sqlStore) liveColumns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.columnsQuery, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

func (s *sqlStore) Migration() MigrationReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// present returns the category columns that exist, in category order.
func (s *sqlStore) present() (cols []string, cats []Category) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range Categories {
		col := categoryColumn(c)
		if s.columns[strings.ToLower(col)] {
			cols = append(cols, col)
			cats = append(cats, c)
		}
	}
	return cols, cats
}

func (s *sqlStore) Get(ctx context.Context, serverID string) (RoutingConfig, bool, error) {
	if s == nil || s.db == nil {
		return RoutingConfig{}, false, ErrDisabled
	}
	cols, cats := s.present()
	dest := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	err := s.db.QueryRowContext(ctx, s.dialect.selectOne(cols), serverID).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return RoutingConfig{ServerID: serverID}, false, nil
	}
	if err != nil {
		return RoutingConfig{}, false, fmt.Errorf("get route %s: %w", serverID, err)
	}

	rc := RoutingConfig{ServerID: serverID}
	for i, c := range cats {
		if dest[i].Valid {
			rc = rc.With(c, dest[i].String)
		}
	}
	return rc, true, nil
}

// SetChannel is serialized per server so concurrent updates of different
// categories cannot overwrite each other.
func (s *sqlStore) SetChannel(ctx context.Context, serverID string, c Category, channelID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	col := categoryColumn(c)
	if col == "" {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	cols, cats := s.present()
	found := false
	for _, pc := range cats {
		if pc == c {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrColumnMissing, col)
	}

	unlock := s.locks.Lock(serverID)
	defer unlock()

	cur, _, err := s.Get(ctx, serverID)
	if err != nil {
		return err
	}
	next := cur.With(c, channelID)

	args := make([]any, 0, len(cols)+1)
	args = append(args, serverID)
	for _, pc := range cats {
		args = append(args, nullable(next.Channel(pc)))
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert(s.dialect, cols), args...); err != nil {
		return fmt.Errorf("set route %s/%s: %w", serverID, c, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
