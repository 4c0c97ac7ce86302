package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements InstanceStore and KVStore on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the SQLite database at path and
// initializes the schema. The parent directory is created if missing.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS plugin_instances (
		plugin_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL,
		version TEXT NOT NULL,
		config TEXT,
		metadata TEXT,
		error_msg TEXT,
		activated_at TEXT,
		deactivated_at TEXT,
		installed_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (plugin_id, tenant_id)
	);
	CREATE TABLE IF NOT EXISTS plugin_kv (
		plugin_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (plugin_id, tenant_id, key)
	)`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Upsert implements InstanceStore.
func (s *SQLiteStore) Upsert(ctx context.Context, inst *Instance) error {
	now := time.Now().UTC()
	inst.UpdatedAt = now
	if inst.InstalledAt.IsZero() {
		inst.InstalledAt = now
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO plugin_instances
		(plugin_id, tenant_id, status, version, config, metadata, error_msg, activated_at, deactivated_at, installed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plugin_id, tenant_id) DO UPDATE SET
			status = excluded.status,
			version = excluded.version,
			config = excluded.config,
			metadata = excluded.metadata,
			error_msg = excluded.error_msg,
			activated_at = excluded.activated_at,
			deactivated_at = excluded.deactivated_at,
			updated_at = excluded.updated_at`,
		inst.PluginID, inst.TenantID, string(inst.Status), inst.Version,
		nullableBytes(inst.Config), nullableBytes(inst.Metadata), nullableString(inst.ErrorMsg),
		nullableTime(inst.ActivatedAt), nullableTime(inst.DeactivatedAt),
		inst.InstalledAt.Format(time.RFC3339Nano), inst.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert instance %s/%s: %w", inst.PluginID, inst.TenantID, err)
	}
	return nil
}

// Get implements InstanceStore.
func (s *SQLiteStore) Get(ctx context.Context, pluginID, tenantID string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT plugin_id, tenant_id, status, version, config, metadata,
		error_msg, activated_at, deactivated_at, installed_at, updated_at
		FROM plugin_instances WHERE plugin_id = ? AND tenant_id = ?`, pluginID, tenantID)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance %s/%s: %w", pluginID, tenantID, err)
	}
	return inst, nil
}

// Delete implements InstanceStore.
func (s *SQLiteStore) Delete(ctx context.Context, pluginID, tenantID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM plugin_instances WHERE plugin_id = ? AND tenant_id = ?", pluginID, tenantID); err != nil {
		return fmt.Errorf("delete instance %s/%s: %w", pluginID, tenantID, err)
	}
	return nil
}

// List implements InstanceStore.
func (s *SQLiteStore) List(ctx context.Context, tenantID string) ([]*Instance, error) {
	query := `SELECT plugin_id, tenant_id, status, version, config, metadata,
		error_msg, activated_at, deactivated_at, installed_at, updated_at
		FROM plugin_instances`
	args := []any{}
	if tenantID != "" {
		query += " WHERE tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY plugin_id, tenant_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var result []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance row: %w", err)
		}
		result = append(result, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instance rows: %w", err)
	}
	return result, nil
}

// Put implements KVStore.
func (s *SQLiteStore) Put(ctx context.Context, pluginID, tenantID, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO plugin_kv (plugin_id, tenant_id, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(plugin_id, tenant_id, key) DO UPDATE SET
			value = excluded.value, updated_at = excluded.updated_at`,
		pluginID, tenantID, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put kv %s/%s/%s: %w", pluginID, tenantID, key, err)
	}
	return nil
}

// Fetch implements KVStore.
func (s *SQLiteStore) Fetch(ctx context.Context, pluginID, tenantID, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM plugin_kv WHERE plugin_id = ? AND tenant_id = ? AND key = ?",
		pluginID, tenantID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch kv %s/%s/%s: %w", pluginID, tenantID, key, err)
	}
	return value, nil
}

// Remove implements KVStore.
func (s *SQLiteStore) Remove(ctx context.Context, pluginID, tenantID, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM plugin_kv WHERE plugin_id = ? AND tenant_id = ? AND key = ?",
		pluginID, tenantID, key); err != nil {
		return fmt.Errorf("remove kv %s/%s/%s: %w", pluginID, tenantID, key, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*Instance, error) {
	var (
		inst                     Instance
		status                   string
		config, metadata         sql.NullString
		errorMsg                 sql.NullString
		activatedAt, deactivated sql.NullString
		installedAt, updatedAt   string
	)
	err := row.Scan(&inst.PluginID, &inst.TenantID, &status, &inst.Version,
		&config, &metadata, &errorMsg, &activatedAt, &deactivated, &installedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	inst.Status = Status(status)
	if config.Valid {
		inst.Config = []byte(config.String)
	}
	if metadata.Valid {
		inst.Metadata = []byte(metadata.String)
	}
	if errorMsg.Valid {
		inst.ErrorMsg = errorMsg.String
	}
	if t, err := parseTime(activatedAt); err == nil && t != nil {
		inst.ActivatedAt = t
	}
	if t, err := parseTime(deactivated); err == nil && t != nil {
		inst.DeactivatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, installedAt); err == nil {
		inst.InstalledAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		inst.UpdatedAt = t
	}
	return &inst, nil
}

func parseTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableBytes(v []byte) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
