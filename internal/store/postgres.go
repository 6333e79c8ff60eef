// Package store provides storage backends for flow definitions and triggers.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists flows and triggers in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateFlow(f models.Flow) (*models.Flow, error) {
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

	_, err = tx.Exec(`INSERT INTO flows (id, name, description, active, instance_name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.Name, nullIfEmpty(f.Description), f.Active, nullIfEmpty(f.InstanceName), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateFlow insert failed", "error", err, "name", f.Name)
		return nil, fmt.Errorf("failed to insert flow: %w", err)
	}
	if err := insertGraph(tx, &f, dialectPostgres); err != nil {
		slog.Error("PostgresStore CreateFlow graph insert failed", "error", err, "flowID", f.ID)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit flow: %w", err)
	}
	slog.Debug("PostgresStore CreateFlow succeeded", "flowID", f.ID, "nodes", len(f.Nodes), "edges", len(f.Edges))
	out := f
	return &out, nil
}

func (s *PostgresStore) GetFlowByID(id string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT id, name, description, active, instance_name, created_at, updated_at FROM flows WHERE id = $1`, id)
	f, err := scanFlowRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowByID scan failed", "error", err, "flowID", id)
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	if err := loadGraph(s.db, f, dialectPostgres); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *PostgresStore) ListFlows() ([]models.Flow, error) {
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
		if err := loadGraph(s.db, &flows[i], dialectPostgres); err != nil {
			return nil, err
		}
	}
	slog.Debug("PostgresStore ListFlows succeeded", "count", len(flows))
	return flows, nil
}

func (s *PostgresStore) UpdateFlow(id string, upd models.Flow) (*models.Flow, error) {
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

	_, err = tx.Exec(`UPDATE flows SET name = $1, description = $2, active = $3, instance_name = $4, updated_at = $5 WHERE id = $6`,
		upd.Name, nullIfEmpty(upd.Description), upd.Active, nullIfEmpty(upd.InstanceName), time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore UpdateFlow failed", "error", err, "flowID", id)
		return nil, fmt.Errorf("failed to update flow %s: %w", id, err)
	}
	if upd.Nodes != nil {
		if _, err := tx.Exec(`DELETE FROM flow_nodes WHERE flow_id = $1`, id); err != nil {
			return nil, fmt.Errorf("failed to delete flow nodes: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM flow_edges WHERE flow_id = $1`, id); err != nil {
			return nil, fmt.Errorf("failed to delete flow edges: %w", err)
		}
		upd.ID = id
		remapNodeIDs(&upd)
		if err := insertGraph(tx, &upd, dialectPostgres); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit flow update: %w", err)
	}
	return s.GetFlowByID(id)
}

func (s *PostgresStore) DeleteFlow(id string) error {
	_, err := s.db.Exec(`DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteFlow failed", "error", err, "flowID", id)
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) MostRecentActiveFlow() (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT id, name, description, active, instance_name, created_at, updated_at FROM flows WHERE active ORDER BY created_at DESC LIMIT 1`)
	f, err := scanFlowRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active flow: %w", err)
	}
	if err := loadGraph(s.db, f, dialectPostgres); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *PostgresStore) CreateTrigger(t models.Trigger) (*models.Trigger, error) {
	t.ID = uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO flow_triggers (id, flow_id, type, value) VALUES ($1, $2, $3, $4)`,
		t.ID, t.FlowID, string(t.Type), t.Value)
	if err != nil {
		slog.Error("PostgresStore CreateTrigger failed", "error", err, "flowID", t.FlowID)
		return nil, fmt.Errorf("failed to insert trigger: %w", err)
	}
	out := t
	return &out, nil
}

func (s *PostgresStore) ListActiveTriggers() ([]models.Trigger, error) {
	rows, err := s.db.Query(`SELECT t.id, t.flow_id, t.type, t.value FROM flow_triggers t JOIN flows f ON f.id = t.flow_id WHERE f.active ORDER BY t.id`)
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

func (s *PostgresStore) DeleteTriggersByFlow(flowID string) error {
	_, err := s.db.Exec(`DELETE FROM flow_triggers WHERE flow_id = $1`, flowID)
	if err != nil {
		return fmt.Errorf("failed to delete triggers for flow %s: %w", flowID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
