package routingstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-router/internal/knx"
	"github.com/nerrad567/gray-logic-router/internal/routing"
)

// Setting keys in router_settings.
const (
	keyRoutingMode      = "routing_mode"
	keyFilterTableSaved = "filter_table_saved_at"
)

// Repository defines the persistence operations for routing configuration.
type Repository interface {
	// LoadFilterTable returns ErrNotFound if no table was ever saved.
	// A saved empty table is returned as an empty table.
	LoadFilterTable(ctx context.Context) (routing.FilterTable, error)
	SaveFilterTable(ctx context.Context, table routing.FilterTable) error

	// LoadRoutingMode returns ErrNotFound if no mode was ever saved.
	LoadRoutingMode(ctx context.Context) (routing.RoutingMode, error)
	SaveRoutingMode(ctx context.Context, mode routing.RoutingMode) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed routing repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// LoadFilterTable reads the persisted filter table.
func (r *SQLiteRepository) LoadFilterTable(ctx context.Context) (routing.FilterTable, error) {
	if _, err := r.getSetting(ctx, keyFilterTableSaved); err != nil {
		return routing.FilterTable{}, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT address FROM filter_table ORDER BY address`)
	if err != nil {
		return routing.FilterTable{}, fmt.Errorf("querying filter table: %w", err)
	}
	defer rows.Close()

	var addrs []knx.GroupAddress
	for rows.Next() {
		var raw int64
		if err := rows.Scan(&raw); err != nil {
			return routing.FilterTable{}, fmt.Errorf("scanning filter table row: %w", err)
		}
		addrs = append(addrs, knx.GroupAddressFromUint16(uint16(raw))) //nolint:gosec // CHECK constraint bounds address
	}
	if err := rows.Err(); err != nil {
		return routing.FilterTable{}, fmt.Errorf("iterating filter table: %w", err)
	}
	return routing.NewFilterTable(addrs...), nil
}

// SaveFilterTable replaces the persisted filter table in one transaction.
func (r *SQLiteRepository) SaveFilterTable(ctx context.Context, table routing.FilterTable) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM filter_table`); err != nil {
		return fmt.Errorf("clearing filter table: %w", err)
	}

	stamp := r.now().UTC().Format(time.RFC3339)
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO filter_table (address, created_at) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing filter table insert: %w", err)
	}
	defer stmt.Close()

	for _, ga := range table.Addresses() {
		if _, err := stmt.ExecContext(ctx, int64(ga.ToUint16()), stamp); err != nil {
			return fmt.Errorf("inserting filter entry %s: %w", ga, err)
		}
	}

	if err := putSetting(ctx, tx, keyFilterTableSaved, stamp, stamp); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing filter table: %w", err)
	}
	return nil
}

// LoadRoutingMode reads the persisted routing mode.
func (r *SQLiteRepository) LoadRoutingMode(ctx context.Context) (routing.RoutingMode, error) {
	v, err := r.getSetting(ctx, keyRoutingMode)
	if err != nil {
		return 0, err
	}
	mode, err := routing.ParseRoutingMode(v)
	if err != nil {
		return 0, fmt.Errorf("stored routing mode %q: %w", v, err)
	}
	return mode, nil
}

// SaveRoutingMode persists the routing mode.
func (r *SQLiteRepository) SaveRoutingMode(ctx context.Context, mode routing.RoutingMode) error {
	stamp := r.now().UTC().Format(time.RFC3339)
	return putSetting(ctx, r.db, keyRoutingMode, mode.String(), stamp)
}

func (r *SQLiteRepository) getSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM router_settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return v, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putSetting(ctx context.Context, db execer, key, value, stamp string) error {
	const query = `INSERT INTO router_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, key, value, stamp); err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

var _ Repository = (*SQLiteRepository)(nil)
