// Package store provides storage backends for flow definitions and triggers.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists flows and triggers in an SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path; missing parent directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN+"?_foreign_keys=on")
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateFlow(f models.Flow) (*models.Flow, error) {
	now := time.Now()
	f.ID = uuid.NewString()
	f.Active = true
	f.CreatedAt = now
	f.UpdatedAt = now
	remapNodeIDs(&f)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO flows (id, name, description, active, instance_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, nullIfEmpty(f.Description), f.Active, nullIfEmpty(f.InstanceName), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateFlow insert failed", "error", err, "name", f.Name)
		return nil, fmt.Errorf("failed to insert flow: %w", err)
	}
	if err := insertGraph(tx, &f, dialectSQLite); err != nil {
		slog.Error("SQLiteStore CreateFlow graph insert failed", "error", err, "flowID", f.ID)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit flow: %w", err)
	}
	slog.Debug("SQLiteStore CreateFlow succeeded", "flowID", f.ID, "nodes", len(f.Nodes), "edges", len(f.Edges))
	out := f
	return &out, nil
}

func (s *SQLiteStore) GetFlowByID(id string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT id, name, description, active, instance_name, created_at, updated_at FROM flows WHERE id = ?`, id)
	f, err := scanFlowRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowByID scan failed", "error", err, "flowID", id)
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	if err := s.loadGraph(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLiteStore) ListFlows() ([]models.Flow, error) {
	rows, err := s.db.Query(`SELECT id, name, description, active, instance_name, created_at, updated_at FROM flows ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var flows []models.Flow
	for rows.Next() {
		f, err := scanFlowRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		flows = append(flows, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	for i := range flows {
		if err := s.loadGraph(&flows[i]); err != nil {
			return nil, err
		}
	}
	slog.Debug("SQLiteStore ListFlows succeeded", "count", len(flows))
	return flows, nil
}

func (s *SQLiteStore) UpdateFlow(id string, upd models.Flow) (*models.Flow, error) {
	existing, err := s.GetFlowByID(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	if upd.Name == "" {
		upd.Name = existing.Name
	}
	if upd.Description == "" {
		upd.Description = existing.Description
	}
	if upd.InstanceName == "" {
		upd.InstanceName = existing.InstanceName
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`UPDATE flows SET name = ?, description = ?, active = ?, instance_name = ?, updated_at = ? WHERE id = ?`,
		upd.Name, nullIfEmpty(upd.Description), upd.Active, nullIfEmpty(upd.InstanceName), time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore UpdateFlow failed", "error", err, "flowID", id)
		return nil, fmt.Errorf("failed to update flow %s: %w", id, err)
	}
	if upd.Nodes != nil {
		if _, err := tx.Exec(`DELETE FROM flow_nodes WHERE flow_id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to delete flow nodes: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM flow_edges WHERE flow_id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to delete flow edges: %w", err)
		}
		upd.ID = id
		remapNodeIDs(&upd)
		if err := insertGraph(tx, &upd, dialectSQLite); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit flow update: %w", err)
	}
	return s.GetFlowByID(id)
}

func (s *SQLiteStore) DeleteFlow(id string) error {
	_, err := s.db.Exec(`DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlow failed", "error", err, "flowID", id)
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) MostRecentActiveFlow() (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT id, name, description, active, instance_name, created_at, updated_at FROM flows WHERE active = 1 ORDER BY created_at DESC LIMIT 1`)
	f, err := scanFlowRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active flow: %w", err)
	}
	if err := s.loadGraph(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLiteStore) CreateTrigger(t models.Trigger) (*models.Trigger, error) {
	t.ID = uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO flow_triggers (id, flow_id, type, value) VALUES (?, ?, ?, ?)`,
		t.ID, t.FlowID, string(t.Type), t.Value)
	if err != nil {
		slog.Error("SQLiteStore CreateTrigger failed", "error", err, "flowID", t.FlowID)
		return nil, fmt.Errorf("failed to insert trigger: %w", err)
	}
	out := t
	return &out, nil
}

func (s *SQLiteStore) ListActiveTriggers() ([]models.Trigger, error) {
	rows, err := s.db.Query(`SELECT t.id, t.flow_id, t.type, t.value FROM flow_triggers t JOIN flows f ON f.id = t.flow_id WHERE f.active = 1 ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []models.Trigger
	for rows.Next() {
		var t models.Trigger
		var typ string
		if err := rows.Scan(&t.ID, &t.FlowID, &typ, &t.Value); err != nil {
			return nil, fmt.Errorf("failed to scan trigger row: %w", err)
		}
		t.Type = models.TriggerType(typ)
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trigger rows: %w", err)
	}
	return triggers, nil
}

func (s *SQLiteStore) DeleteTriggersByFlow(flowID string) error {
	_, err := s.db.Exec(`DELETE FROM flow_triggers WHERE flow_id = ?`, flowID)
	if err != nil {
		return fmt.Errorf("failed to delete triggers for flow %s: %w", flowID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) loadGraph(f *models.Flow) error {
	return loadGraph(s.db, f, dialectSQLite)
}
