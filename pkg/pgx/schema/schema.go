// Package schema introspects PostgreSQL tables, columns and relationships.
//
// A Cache keeps the latest snapshot in an atomic pointer so readers never
// block, and reloads it when a NOTIFY with the reload payload arrives on the
// reload channel.
package schema

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	pg "github.com/edgeflare/pgrest/pkg/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	// Following PostgREST's notification convention
	// https://docs.postgrest.org/en/stable/references/schema_cache.html
	reloadChannel = "pgrest"
	reloadPayload = "reload schema"
)

type TableType string

const (
	TypeTable            TableType = "TABLE"
	TypeView             TableType = "VIEW"
	TypeMaterializedView TableType = "MATERIALIZED VIEW"
)

type Table struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Type        TableType    `json:"type"`
	Columns     []Column     `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

type Column struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	IsNullable   bool   `json:"is_nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedSchema string `json:"referenced_schema"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// FullName is the map key of a table in a snapshot: schema.table.
func (t *Table) FullName() string {
	return t.Schema + "." + t.Name
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	i := slices.IndexFunc(t.Columns, func(c Column) bool { return c.Name == name })
	if i < 0 {
		return Column{}, false
	}
	return t.Columns[i], true
}

// Cache holds the latest introspected snapshot of a set of schemas.
type Cache struct {
	pool    *pgxpool.Pool
	schemas []string
	logger  *zap.Logger

	tables atomic.Pointer[map[string]Table]
	watch  chan map[string]Table
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCache returns a cache over schemas. With no schemas, "public" is used.
func NewCache(pool *pgxpool.Pool, logger *zap.Logger, schemas ...string) *Cache {
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		pool:    pool,
		schemas: schemas,
		logger:  logger,
		watch:   make(chan map[string]Table, 1),
	}
	empty := map[string]Table{}
	c.tables.Store(&empty)
	return c
}

// Init loads the initial snapshot and starts listening for reload
// notifications until ctx is canceled or Close is called.
func (c *Cache) Init(ctx context.Context) error {
	if err := c.reload(ctx); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	poolConn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pool.Acquire: %w", err)
	}
	conn := poolConn.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+reloadChannel); err != nil {
		conn.Close(context.Background())
		return fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.handleUpdates(ctx, conn)
	return nil
}

// Close stops listening. The snapshot stays readable.
func (c *Cache) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// Watch delivers each reloaded snapshot. Slow receivers only see the latest.
func (c *Cache) Watch() <-chan map[string]Table {
	return c.watch
}

// Snapshot returns the current tables keyed by schema.table. The map must
// not be modified.
func (c *Cache) Snapshot() map[string]Table {
	return *c.tables.Load()
}

func (c *Cache) handleUpdates(ctx context.Context, conn *pgx.Conn) {
	defer close(c.done)
	defer conn.Close(context.Background())

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("wait for notification", zap.Error(err))
			return
		}
		if notification.Payload != reloadPayload {
			continue
		}
		if err := c.reload(ctx); err != nil {
			c.logger.Error("schema reload", zap.Error(err))
		}
	}
}

func (c *Cache) reload(ctx context.Context) error {
	tables, err := Load(ctx, c.pool, c.schemas)
	if err != nil {
		return err
	}
	c.tables.Store(&tables)
	c.logger.Info("schema loaded", zap.Strings("schemas", c.schemas), zap.Int("tables", len(tables)))

	select {
	case <-c.watch:
	default:
	}
	c.watch <- tables
	return nil
}

// ErrNoTables is returned by Load when none of the schemas has a relation.
var ErrNoTables = errors.New("no tables found")

// Load introspects tables, views and materialized views of schemas with their
// columns, primary keys and foreign keys.
func Load(ctx context.Context, conn pg.Conn, schemas []string) (map[string]Table, error) {
	tables, err := queryTables(ctx, conn, schemas)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w in %v", ErrNoTables, schemas)
	}
	if err := queryColumns(ctx, conn, schemas, tables); err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	if err := queryForeignKeys(ctx, conn, schemas, tables); err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	return tables, nil
}

func queryTables(ctx context.Context, conn pg.Conn, schemas []string) (map[string]Table, error) {
	rows, err := conn.Query(ctx, `
		SELECT table_schema, table_name, 'TABLE'::text
		FROM information_schema.tables
		WHERE table_schema = ANY($1) AND table_type = 'BASE TABLE'
		UNION ALL
		SELECT table_schema, table_name, 'VIEW'::text
		FROM information_schema.views
		WHERE table_schema = ANY($1)
		UNION ALL
		SELECT schemaname, matviewname, 'MATERIALIZED VIEW'::text
		FROM pg_matviews
		WHERE schemaname = ANY($1)`, schemas)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make(map[string]Table)
	for rows.Next() {
		var t Table
		var tableType string
		if err := rows.Scan(&t.Schema, &t.Name, &tableType); err != nil {
			return nil, err
		}
		t.Type = TableType(tableType)
		tables[t.FullName()] = t
	}
	return tables, rows.Err()
}

func queryColumns(ctx context.Context, conn pg.Conn, schemas []string, tables map[string]Table) error {
	rows, err := conn.Query(ctx, `
		SELECT
			c.table_schema,
			c.table_name,
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
					AND tc.table_name = kcu.table_name
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND kcu.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = ANY($1)
		ORDER BY c.table_schema, c.table_name, c.ordinal_position`, schemas)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schema, table string
		var col Column
		if err := rows.Scan(&schema, &table, &col.Name, &col.DataType, &col.IsNullable, &col.IsPrimaryKey); err != nil {
			return err
		}
		key := schema + "." + table
		t, ok := tables[key]
		if !ok {
			continue
		}
		t.Columns = append(t.Columns, col)
		if col.IsPrimaryKey {
			t.PrimaryKeys = append(t.PrimaryKeys, col.Name)
		}
		tables[key] = t
	}
	return rows.Err()
}

func queryForeignKeys(ctx context.Context, conn pg.Conn, schemas []string, tables map[string]Table) error {
	rows, err := conn.Query(ctx, `
		SELECT
			tc.table_schema,
			tc.table_name,
			kcu.column_name,
			ccu.table_schema,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.constraint_schema = tc.constraint_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = ANY($1)
		ORDER BY tc.table_schema, tc.table_name, kcu.column_name`, schemas)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schema, table string
		var fk ForeignKey
		if err := rows.Scan(&schema, &table, &fk.Column, &fk.ReferencedSchema, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return err
		}
		key := schema + "." + table
		t, ok := tables[key]
		if !ok {
			continue
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
		tables[key] = t
	}
	return rows.Err()
}
