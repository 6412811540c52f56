package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/timeline/internal/accumulator"
	"github.com/roach88/timeline/internal/query"
	"github.com/roach88/timeline/internal/revision"
	"github.com/roach88/timeline/internal/schema"
	"github.com/roach88/timeline/internal/store"
	"github.com/roach88/timeline/internal/strategy"
)

// Engine is the process-wide audit writer.
//
// It owns the revision sequencer and the audit table layouts. Engines are
// safe for concurrent use; transactions are not.
type Engine struct {
	store    *store.Store
	registry *schema.Registry
	naming   schema.Naming
	strategy strategy.Strategy
	clock    revision.Clock
	seq      *revision.Sequencer
	tokens   TokenGenerator
	logger   *slog.Logger

	trackEntitiesChanged       bool
	revisionOnCollectionChange bool

	// Audit tables by entity name and by middle table name.
	tables  map[string]schema.Table
	middles map[string]schema.Table
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategy sets the audit strategy. Default: strategy.Default with no
// policies enabled.
func WithStrategy(s strategy.Strategy) Option {
	return func(e *Engine) {
		e.strategy = s
	}
}

// WithNaming sets the audit table naming. Default: schema.DefaultNaming().
func WithNaming(n schema.Naming) Option {
	return func(e *Engine) {
		e.naming = n
	}
}

// WithClock sets the clock revision timestamps are read from.
func WithClock(c revision.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithSequencer shares a sequencer between engines writing to one store.
func WithSequencer(s *revision.Sequencer) Option {
	return func(e *Engine) {
		e.seq = s
	}
}

// WithTokenGenerator sets the generator of transaction tokens.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTrackEntitiesChanged records the names of the entities changed in
// each revision in REVCHANGES.
func WithTrackEntitiesChanged(on bool) Option {
	return func(e *Engine) {
		e.trackEntitiesChanged = on
	}
}

// WithRevisionOnCollectionChange controls whether a collection change
// writes a MOD row for its owner. Default: true.
func WithRevisionOnCollectionChange(on bool) Option {
	return func(e *Engine) {
		e.revisionOnCollectionChange = on
	}
}

// New creates an engine writing the audited entities of registry to s.
// The registry is sealed if it is not already.
func New(s *store.Store, registry *schema.Registry, opts ...Option) (*Engine, error) {
	if !registry.Sealed() {
		if err := registry.Seal(); err != nil {
			return nil, fmt.Errorf("seal registry: %w", err)
		}
	}

	e := &Engine{
		store:                      s,
		registry:                   registry,
		naming:                     schema.DefaultNaming(),
		strategy:                   strategy.NewDefault(strategy.Options{}),
		tokens:                     UUIDv7Generator{},
		logger:                     slog.Default(),
		revisionOnCollectionChange: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.seq == nil {
		e.seq = revision.NewSequencer(e.clock)
	}

	e.tables = make(map[string]schema.Table)
	for _, ent := range registry.Entities() {
		if ent.NotAudited {
			continue
		}
		e.tables[ent.Name] = e.strategy.Layout(e.naming, ent)
	}
	e.middles = make(map[string]schema.Table)
	for _, m := range registry.MiddleTables() {
		e.middles[m.Table] = e.strategy.MiddleLayout(e.naming, m)
	}
	return e, nil
}

// Tables returns every audit table the engine writes: entity tables
// sorted by entity name, then middle tables sorted by table name.
func (e *Engine) Tables() []schema.Table {
	var out []schema.Table
	for _, ent := range e.registry.Entities() {
		if t, ok := e.tables[ent.Name]; ok {
			out = append(out, t)
		}
	}
	for _, m := range e.registry.MiddleTables() {
		out = append(out, e.middles[m.Table])
	}
	return out
}

// EnsureTables creates the audit tables that do not exist yet.
func (e *Engine) EnsureTables(ctx context.Context) error {
	if err := e.store.EnsureTables(ctx, e.Tables()); err != nil {
		return fmt.Errorf("ensure audit tables: %w", err)
	}
	return nil
}

// Reader returns a query reader over the engine's store with the same
// naming and strategy.
func (e *Engine) Reader() (*query.Reader, error) {
	return query.NewReader(e.registry, e.naming, e.strategy, e.store)
}

// Registry returns the entity registry.
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

// Strategy returns the audit strategy.
func (e *Engine) Strategy() strategy.Strategy {
	return e.strategy
}

// Begin starts an audit transaction. Nothing touches the store until
// Commit.
func (e *Engine) Begin() *Tx {
	token := e.tokens.Generate()
	tx := &Tx{
		engine: e,
		token:  token,
		logger: e.logger.With("tx", token),
	}
	var opts []accumulator.Option
	if e.trackEntitiesChanged {
		opts = append(opts, accumulator.WithObserver(func(names []string) {
			tx.changed = names
		}))
	}
	tx.acc = accumulator.New(opts...)
	tx.logger.Debug("transaction begun")
	return tx
}
