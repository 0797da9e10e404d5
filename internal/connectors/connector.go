// Package connectors defines the pluggable source-connector interface and
// the process-lifetime registry connectors announce themselves to.
package connectors

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/norm"
)

// TestResult reports a connectivity probe. Test must never mutate state.
type TestResult struct {
	Success   bool              `json:"success"`
	LatencyMS int64             `json:"latency_ms"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// ExtractOptions scopes one extraction pass.
type ExtractOptions struct {
	Since     *time.Time
	Until     *time.Time
	BatchSize int
}

// RecordIterator is the lazy pull-based stream returned by Extract. The
// orchestrator consumes it row by row and commits in batches; connectors
// never materialize the full source in memory.
type RecordIterator interface {
	// Next returns the next raw record, false when the stream is exhausted,
	// or an error for transport failures.
	Next(ctx context.Context) (*domain.RawRecord, bool, error)
	Close() error
}

// Connector is the capability set every source variant implements. Deep
// inheritance hierarchies are deliberately replaced by this small interface
// over concrete per-variant structs.
type Connector interface {
	// Type is the connector implementation tag, e.g. "generic_bank_csv".
	Type() string
	// SourceType is the source family tag: bank_csv, erp_excel, warehouse_sql.
	SourceType() string

	Test(ctx context.Context) (TestResult, error)
	GetSchema(ctx context.Context) ([]norm.Column, error)
	Extract(ctx context.Context, opts ExtractOptions) (RecordIterator, error)

	// Normalize converts one raw record into a canonical skeleton, or an
	// InputError describing why the row cannot be parsed.
	Normalize(raw *domain.RawRecord) (*domain.CanonicalRecord, error)
}

// Factory builds a connector from its connection configuration.
type Factory func(conn domain.LineageConnection) (Connector, error)

// Registry is the process-lifetime connector factory map, initialized at
// startup. There is no other global mutable state.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory under a connector type tag.
func (r *Registry) Register(typeTag string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeTag] = f
}

// Build instantiates the connector for a connection.
func (r *Registry) Build(conn domain.LineageConnection) (Connector, error) {
	r.mu.RLock()
	f, ok := r.factories[conn.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown connector type %q", conn.Type)
	}
	return f(conn)
}

// Types lists registered connector type tags, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// sliceIterator adapts an in-memory slice to RecordIterator. Used by
// connectors whose sources are small files and by tests.
type sliceIterator struct {
	records []*domain.RawRecord
	pos     int
}

// NewSliceIterator wraps pre-extracted records in a RecordIterator.
func NewSliceIterator(records []*domain.RawRecord) RecordIterator {
	return &sliceIterator{records: records}
}

func (it *sliceIterator) Next(ctx context.Context) (*domain.RawRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.pos >= len(it.records) {
		return nil, false, nil
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, true, nil
}

func (it *sliceIterator) Close() error { return nil }
