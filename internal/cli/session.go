package cli

import (
	"fmt"
	"log/slog"

	"github.com/roach88/timeline/internal/config"
	"github.com/roach88/timeline/internal/engine"
	"github.com/roach88/timeline/internal/query"
	"github.com/roach88/timeline/internal/schema"
	"github.com/roach88/timeline/internal/store"
)

// session is the loaded configuration, schema and, for commands that
// touch the database, an open store and engine.
type session struct {
	cfg      *config.Config
	registry *schema.Registry
	store    *store.Store
	engine   *engine.Engine
}

func (s *session) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// loadSession reads the config and compiles the schema directory.
func loadSession(opts *RootOptions, f *OutputFormatter, schemaDir string) (*session, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	f.VerboseLog("Strategy %s, database %s", cfg.Strategy, cfg.Database)

	registry, err := schema.LoadDir(schemaDir)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeSchema, "load schema", err)
	}
	f.VerboseLog("Loaded %d entities from %s", len(registry.Entities()), schemaDir)
	return &session{cfg: cfg, registry: registry}, nil
}

// openSession loads the session and opens the store and engine.
func openSession(opts *RootOptions, f *OutputFormatter, schemaDir string) (*session, error) {
	s, err := loadSession(opts, f, schemaDir)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(s.cfg.Database, s.cfg.StoreOptions()...)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeStore, "open database", err)
	}
	s.store = st

	engineOpts, err := s.cfg.EngineOptions()
	if err != nil {
		s.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "configure engine", err)
	}
	engineOpts = append(engineOpts, engine.WithLogger(s.logger(opts, f)))
	s.engine, err = engine.New(st, s.registry, engineOpts...)
	if err != nil {
		s.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeSchema, "create engine", err)
	}
	return s, nil
}

func (s *session) logger(opts *RootOptions, f *OutputFormatter) *slog.Logger {
	level, _ := s.cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(f.GetErrWriter(), &slog.HandlerOptions{Level: level}))
}

// reader returns a query reader over the open store, or a compile-only
// reader when no store is open.
func (s *session) reader() (*query.Reader, error) {
	if s.engine != nil {
		return s.engine.Reader()
	}
	strat, err := s.cfg.NewStrategy()
	if err != nil {
		return nil, err
	}
	return query.NewReader(s.registry, s.cfg.SchemaNaming(), strat, nil)
}

// entity returns the audited entity named on the command line.
func (s *session) entity(f *OutputFormatter, name string) (*schema.Entity, error) {
	e, ok := s.registry.Entity(name)
	if !ok {
		return nil, f.Fail(ExitCommandError, ErrCodeSchema, "lookup entity",
			fmt.Errorf("unknown entity %q", name))
	}
	if e.NotAudited {
		return nil, f.Fail(ExitCommandError, ErrCodeSchema, "lookup entity",
			fmt.Errorf("entity %q is not audited", name))
	}
	return e, nil
}
