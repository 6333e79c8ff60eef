package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
)

// Opts holds configuration options for database-backed stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType inspects a DSN and reports "postgres" or "sqlite".
// PostgreSQL DSNs use URL schemes or key=value connection strings; anything
// else is treated as an SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

func marshalNodeData(d models.NodeData) (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal node data: %w", err)
	}
	return string(raw), nil
}

func unmarshalNodeData(raw string) (models.NodeData, error) {
	var d models.NodeData
	if raw == "" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return d, fmt.Errorf("failed to unmarshal node data: %w", err)
	}
	return d, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// SQL dialects for the shared graph persistence helpers.
const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// rebind converts ?-style placeholders to $n-style for PostgreSQL.
func rebind(query, dialect string) string {
	if dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type queryer interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// insertGraph writes the flow's nodes and edges inside the caller's
// transaction. Ordinals preserve declaration order, which drives trigger
// evaluation and default edge selection.
func insertGraph(tx execer, f *models.Flow, dialect string) error {
	nodeStmt := rebind(`INSERT INTO flow_nodes (id, flow_id, type, position_x, position_y, data, ordinal) VALUES (?, ?, ?, ?, ?, ?, ?)`, dialect)
	for i, n := range f.Nodes {
		data, err := marshalNodeData(n.Data)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(nodeStmt, n.ID, f.ID, string(n.Type), n.Position.X, n.Position.Y, data, i); err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}
	}
	edgeStmt := rebind(`INSERT INTO flow_edges (id, flow_id, source_id, target_id, source_handle, ordinal) VALUES (?, ?, ?, ?, ?, ?)`, dialect)
	for i, e := range f.Edges {
		if _, err := tx.Exec(edgeStmt, e.ID, f.ID, e.Source, e.Target, nullIfEmpty(e.SourceHandle), i); err != nil {
			return fmt.Errorf("failed to insert edge %s: %w", e.ID, err)
		}
	}
	return nil
}

// loadGraph populates the flow's node and edge collections.
func loadGraph(db queryer, f *models.Flow, dialect string) error {
	nodeRows, err := db.Query(rebind(`SELECT id, type, position_x, position_y, data FROM flow_nodes WHERE flow_id = ? ORDER BY ordinal`, dialect), f.ID)
	if err != nil {
		return fmt.Errorf("failed to query nodes for flow %s: %w", f.ID, err)
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var n models.Node
		var typ, data string
		if err := nodeRows.Scan(&n.ID, &typ, &n.Position.X, &n.Position.Y, &data); err != nil {
			return fmt.Errorf("failed to scan node row: %w", err)
		}
		n.Type = models.NodeType(typ)
		if n.Data, err = unmarshalNodeData(data); err != nil {
			return err
		}
		f.Nodes = append(f.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate node rows: %w", err)
	}

	edgeRows, err := db.Query(rebind(`SELECT id, source_id, target_id, source_handle FROM flow_edges WHERE flow_id = ? ORDER BY ordinal`, dialect), f.ID)
	if err != nil {
		return fmt.Errorf("failed to query edges for flow %s: %w", f.ID, err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e models.Edge
		var handle sql.NullString
		if err := edgeRows.Scan(&e.ID, &e.Source, &e.Target, &handle); err != nil {
			return fmt.Errorf("failed to scan edge row: %w", err)
		}
		e.SourceHandle = scanNullString(handle)
		f.Edges = append(f.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate edge rows: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFlowInto(sc rowScanner) (*models.Flow, error) {
	var f models.Flow
	var desc, instance sql.NullString
	if err := sc.Scan(&f.ID, &f.Name, &desc, &f.Active, &instance, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Description = scanNullString(desc)
	f.InstanceName = scanNullString(instance)
	return &f, nil
}

func scanFlowRow(row *sql.Row) (*models.Flow, error) { return scanFlowInto(row) }
func scanFlowRows(rows *sql.Rows) (*models.Flow, error) { return scanFlowInto(rows) }
