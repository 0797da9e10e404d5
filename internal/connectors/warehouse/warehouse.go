// Package warehouse implements the warehouse-SQL connector. It validates
// the per-warehouse config shape, streams rows from a SQL query through
// sqlx and normalizes them with the shared tabular machinery.
package warehouse

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // warehouse gateway speaks the postgres wire protocol
	"github.com/rs/zerolog/log"

	"github.com/ledgerline/cashops/internal/connectors"
	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/norm"
)

// TypeTag is the registry key for this connector.
const TypeTag = "warehouse_sql"

// requiredFields lists the config keys each warehouse type must carry.
var requiredFields = map[string][]string{
	"snowflake": {"account", "warehouse", "database", "schema"},
	"bigquery":  {"project_id", "dataset"},
}

// Connector streams one warehouse table or query.
type Connector struct {
	dsn      string
	query    string
	entityID string
	recType  domain.RecordType
	cfg      map[string]string

	db      *sqlx.DB
	mapping norm.ColumnMapping
	columns []string
}

// New validates the config shape and builds the connector. Required keys:
// "warehouse_type" plus its type-specific fields, "dsn" and "query".
// Optional: "record_type" (invoice/vendor_bill/bank_txn/fx_rate, default
// invoice), "entity_id".
func New(conn domain.LineageConnection) (connectors.Connector, error) {
	wt := conn.Config["warehouse_type"]
	fields, ok := requiredFields[wt]
	if !ok {
		return nil, fmt.Errorf("unsupported warehouse_type %q", wt)
	}
	for _, f := range fields {
		if conn.Config[f] == "" {
			return nil, fmt.Errorf("warehouse_type %q requires config key %q", wt, f)
		}
	}
	if conn.Config["dsn"] == "" || conn.Config["query"] == "" {
		return nil, fmt.Errorf("warehouse connector requires config keys %q and %q", "dsn", "query")
	}

	recType := domain.RecordInvoice
	switch conn.Config["record_type"] {
	case "vendor_bill":
		recType = domain.RecordVendorBill
	case "bank_txn":
		recType = domain.RecordBankTxn
	case "fx_rate":
		recType = domain.RecordFXRate
	case "", "invoice":
	default:
		return nil, fmt.Errorf("unknown record_type %q", conn.Config["record_type"])
	}

	return &Connector{
		dsn:      conn.Config["dsn"],
		query:    conn.Config["query"],
		entityID: conn.Config["entity_id"],
		recType:  recType,
		cfg:      conn.Config,
	}, nil
}

// Register installs the factory into a registry.
func Register(r *connectors.Registry) {
	r.Register(TypeTag, New)
}

func (c *Connector) Type() string       { return TypeTag }
func (c *Connector) SourceType() string { return "warehouse_sql" }

func (c *Connector) connect() (*sqlx.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	db, err := sqlx.Open("postgres", c.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse connection: %w", err)
	}
	db.SetMaxOpenConns(2)
	c.db = db
	return db, nil
}

// Test pings the warehouse. Read-only.
func (c *Connector) Test(ctx context.Context) (connectors.TestResult, error) {
	start := time.Now()
	db, err := c.connect()
	if err == nil {
		err = db.PingContext(ctx)
	}
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return connectors.TestResult{Success: false, LatencyMS: latency, Message: err.Error()}, nil
	}
	return connectors.TestResult{
		Success:   true,
		LatencyMS: latency,
		Message:   "warehouse reachable",
		Details:   map[string]string{"warehouse_type": c.cfg["warehouse_type"]},
	}, nil
}

// GetSchema runs the query with LIMIT 0 to learn column names and DB types.
func (c *Connector) GetSchema(ctx context.Context) ([]norm.Column, error) {
	db, err := c.connect()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryxContext(ctx, "SELECT * FROM ("+c.query+") q LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("failed to probe warehouse schema: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}
	cols := make([]norm.Column, len(types))
	for i, t := range types {
		cols[i] = norm.Column{
			Name: norm.NormalizeHeader(t.Name()),
			Type: dbType(t.DatabaseTypeName()),
		}
	}
	return cols, nil
}

func dbType(dbName string) string {
	switch dbName {
	case "NUMERIC", "DECIMAL", "FLOAT8", "FLOAT4", "INT4", "INT8", "INT2":
		return "number"
	case "DATE", "TIMESTAMP", "TIMESTAMPTZ":
		return "date"
	default:
		return "string"
	}
}

// Extract streams the query result. Rows are pulled lazily; the iterator
// holds the open cursor until Close.
func (c *Connector) Extract(ctx context.Context, opts connectors.ExtractOptions) (connectors.RecordIterator, error) {
	db, err := c.connect()
	if err != nil {
		return nil, domain.NewInfraError("WAREHOUSE_CONNECT", err)
	}
	rows, err := db.QueryxContext(ctx, c.query)
	if err != nil {
		return nil, domain.NewInfraError("WAREHOUSE_QUERY", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, domain.NewInfraError("WAREHOUSE_COLUMNS", err)
	}
	c.columns = cols
	c.mapping = norm.MapColumns(cols)
	log.Debug().Str("warehouse_type", c.cfg["warehouse_type"]).Msg("warehouse extract cursor open")
	return &rowIterator{rows: rows, columns: cols, source: c.cfg["warehouse_type"], since: opts.Since, until: opts.Until}, nil
}

// rowIterator adapts an sqlx cursor to the RecordIterator contract.
type rowIterator struct {
	rows    *sqlx.Rows
	columns []string
	source  string
	since   *time.Time
	until   *time.Time
	idx     int
}

func (it *rowIterator) Next(ctx context.Context) (*domain.RawRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, false, domain.NewInfraError("WAREHOUSE_CURSOR", err)
		}
		return nil, false, nil
	}
	raw, err := it.rows.SliceScan()
	if err != nil {
		return nil, false, domain.NewInfraError("WAREHOUSE_SCAN", err)
	}
	payload := make(map[string]string, len(it.columns))
	for i, col := range it.columns {
		payload[col] = cellString(raw[i])
	}
	rec := &domain.RawRecord{
		RawHash:     norm.RawHash(payload),
		SourceTable: it.source,
		SourceRowID: strconv.Itoa(it.idx),
		RowIndex:    it.idx,
		Payload:     payload,
	}
	it.idx++
	return rec, true, nil
}

func (it *rowIterator) Close() error { return it.rows.Close() }

func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02")
	default:
		return fmt.Sprint(x)
	}
}

// Normalize parses one warehouse row into the configured canonical shape.
func (c *Connector) Normalize(raw *domain.RawRecord) (*domain.CanonicalRecord, error) {
	if c.mapping.ByCanonical == nil {
		headers := make([]string, 0, len(raw.Payload))
		for k := range raw.Payload {
			headers = append(headers, k)
		}
		c.mapping = norm.MapColumns(headers)
	}
	n := &connectors.TabularNormalizer{
		SourceTag:  c.SourceType(),
		EntityID:   c.entityID,
		RecordType: c.recType,
		Mapping:    c.mapping,
		Locale:     norm.LocaleISO,
	}
	return n.Normalize(raw)
}
