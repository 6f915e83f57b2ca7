package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
	"pkt.systems/pslog"

	"github.com/agendaautomatizada/whatsapp/api"
	"github.com/agendaautomatizada/whatsapp/internal/svcfields"
)

// SQLite implements Store on a local SQLite database. The schema is
// created on open; parent directories are created if needed.
type SQLite struct {
	db     *sql.DB
	logger pslog.Logger
}

// OpenSQLite opens (or creates) the settings database at path.
func OpenSQLite(path string, logger pslog.Logger) (*SQLite, error) {
	logger = svcfields.WithSubsystem(logger, "settings.sqlite")
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create settings directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	s := &SQLite{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings schema: %w", err)
	}
	logger.Info("settings store ready", "path", path)
	return s, nil
}

func (s *SQLite) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS operators (
			id              TEXT PRIMARY KEY,
			webhook_url     TEXT NOT NULL,
			webhook_auth    TEXT NOT NULL DEFAULT '',
			default_ttl     INTEGER NOT NULL DEFAULT 0,
			inbound_url     TEXT NOT NULL DEFAULT '',
			phone_number_id TEXT NOT NULL DEFAULT '',
			graph_token     TEXT NOT NULL DEFAULT '',
			role            TEXT NOT NULL DEFAULT 'operator',
			updated_at      TEXT NOT NULL,

			CHECK (role IN ('operator', 'admin'))
		);

		CREATE TABLE IF NOT EXISTS feature_flags (
			operator_id TEXT NOT NULL,
			name        TEXT NOT NULL,
			enabled     INTEGER NOT NULL,
			updated_at  TEXT NOT NULL,

			PRIMARY KEY (operator_id, name),
			FOREIGN KEY (operator_id) REFERENCES operators(id)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Operator implements Store.
func (s *SQLite) Operator(ctx context.Context, id string) (*Operator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, webhook_url, webhook_auth, default_ttl, inbound_url,
		       phone_number_id, graph_token, role, updated_at
		FROM operators WHERE id = ?`, id)
	var op Operator
	var updated string
	err := row.Scan(&op.ID, &op.WebhookURL, &op.WebhookAuth, &op.DefaultTTLHours,
		&op.InboundURL, &op.PhoneNumberID, &op.GraphToken, &op.Role, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load operator %s: %w", id, err)
	}
	if t, perr := time.Parse(time.RFC3339Nano, updated); perr == nil {
		op.UpdatedAt = t
	}
	return &op, nil
}

// OperatorByPhone implements Store.
func (s *SQLite) OperatorByPhone(ctx context.Context, phoneNumberID string) (*Operator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM operators WHERE phone_number_id = ? AND phone_number_id != ''`,
		phoneNumberID)
	var id string
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve phone number %s: %w", phoneNumberID, err)
	}
	return s.Operator(ctx, id)
}

// PutOperator implements Store.
func (s *SQLite) PutOperator(ctx context.Context, op *Operator) error {
	if op == nil || op.ID == "" {
		return errors.New("settings: operator id required")
	}
	role := op.Role
	if role == "" {
		role = RoleOperator
	}
	updated := op.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators
			(id, webhook_url, webhook_auth, default_ttl, inbound_url,
			 phone_number_id, graph_token, role, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			webhook_url = excluded.webhook_url,
			webhook_auth = excluded.webhook_auth,
			default_ttl = excluded.default_ttl,
			inbound_url = excluded.inbound_url,
			phone_number_id = excluded.phone_number_id,
			graph_token = excluded.graph_token,
			role = excluded.role,
			updated_at = excluded.updated_at`,
		op.ID, op.WebhookURL, op.WebhookAuth, op.DefaultTTLHours, op.InboundURL,
		op.PhoneNumberID, op.GraphToken, role, updated.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store operator %s: %w", op.ID, err)
	}
	return nil
}

// Features implements Store.
func (s *SQLite) Features(ctx context.Context, operatorID string) ([]api.FeatureFlag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, enabled FROM feature_flags
		WHERE operator_id = ? ORDER BY name`, operatorID)
	if err != nil {
		return nil, fmt.Errorf("list features for %s: %w", operatorID, err)
	}
	defer rows.Close()
	var flags []api.FeatureFlag
	for rows.Next() {
		var f api.FeatureFlag
		var enabled int
		if err := rows.Scan(&f.Name, &enabled); err != nil {
			return nil, fmt.Errorf("scan feature flag: %w", err)
		}
		f.Enabled = enabled != 0
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// SetFeature implements Store.
func (s *SQLite) SetFeature(ctx context.Context, operatorID, name string, enabled bool) error {
	if operatorID == "" || name == "" {
		return errors.New("settings: operator id and feature name required")
	}
	val := 0
	if enabled {
		val = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_flags (operator_id, name, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(operator_id, name) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		operatorID, name, val, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set feature %s for %s: %w", name, operatorID, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
