// Package config loads the audit engine settings from a config file and
// TIMELINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/timeline/internal/engine"
	"github.com/roach88/timeline/internal/schema"
	"github.com/roach88/timeline/internal/store"
	"github.com/roach88/timeline/internal/strategy"
)

// EnvPrefix prefixes every environment override, e.g. TIMELINE_STRATEGY.
const EnvPrefix = "TIMELINE"

// Config keys.
const (
	KeyDatabase = "database"
	KeyDriver   = "driver"
	KeyStrategy = "strategy"
	KeyLogLevel = "log_level"

	KeyTablePrefix               = "naming.table_prefix"
	KeyTableSuffix               = "naming.table_suffix"
	KeyRevisionField             = "naming.revision_field"
	KeyRevisionTypeField         = "naming.revision_type_field"
	KeyRevisionEndField          = "naming.revision_end_field"
	KeyRevisionEndTimestampField = "naming.revision_end_timestamp_field"

	KeyStoreDataAtDelete          = "store_data_at_delete"
	KeyAllowIdentifierReuse       = "allow_identifier_reuse"
	KeyRevisionEndTimestamp       = "revision_end_timestamp"
	KeyTrackEntitiesChanged       = "track_entities_changed"
	KeyRevisionOnCollectionChange = "revision_on_collection_change"
)

// Validation errors.
var (
	ErrUnknownStrategy = errors.New("unknown audit strategy")
	ErrUnknownDriver   = errors.New("unknown database driver")
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidName     = errors.New("invalid table or column name")
	ErrMissingDatabase = errors.New("database path is required")
)

// Config holds the engine settings.
type Config struct {
	Database string `mapstructure:"database" json:"database" yaml:"database"`
	Driver   string `mapstructure:"driver" json:"driver" yaml:"driver"`
	Strategy string `mapstructure:"strategy" json:"strategy" yaml:"strategy"`
	LogLevel string `mapstructure:"log_level" json:"log_level" yaml:"log_level"`

	Naming NamingConfig `mapstructure:"naming" json:"naming" yaml:"naming"`

	StoreDataAtDelete          bool `mapstructure:"store_data_at_delete" json:"store_data_at_delete" yaml:"store_data_at_delete"`
	AllowIdentifierReuse       bool `mapstructure:"allow_identifier_reuse" json:"allow_identifier_reuse" yaml:"allow_identifier_reuse"`
	RevisionEndTimestamp       bool `mapstructure:"revision_end_timestamp" json:"revision_end_timestamp" yaml:"revision_end_timestamp"`
	TrackEntitiesChanged       bool `mapstructure:"track_entities_changed" json:"track_entities_changed" yaml:"track_entities_changed"`
	RevisionOnCollectionChange bool `mapstructure:"revision_on_collection_change" json:"revision_on_collection_change" yaml:"revision_on_collection_change"`
}

// NamingConfig holds the audit table and bookkeeping column names.
type NamingConfig struct {
	TablePrefix               string `mapstructure:"table_prefix" json:"table_prefix" yaml:"table_prefix"`
	TableSuffix               string `mapstructure:"table_suffix" json:"table_suffix" yaml:"table_suffix"`
	RevisionField             string `mapstructure:"revision_field" json:"revision_field" yaml:"revision_field"`
	RevisionTypeField         string `mapstructure:"revision_type_field" json:"revision_type_field" yaml:"revision_type_field"`
	RevisionEndField          string `mapstructure:"revision_end_field" json:"revision_end_field" yaml:"revision_end_field"`
	RevisionEndTimestampField string `mapstructure:"revision_end_timestamp_field" json:"revision_end_timestamp_field" yaml:"revision_end_timestamp_field"`
}

// Defaults sets the default of every key on v.
func Defaults(v *viper.Viper) {
	n := schema.DefaultNaming()
	v.SetDefault(KeyDatabase, "timeline.db")
	v.SetDefault(KeyDriver, store.DriverCGO)
	v.SetDefault(KeyStrategy, strategy.NameDefault)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyTablePrefix, n.TablePrefix)
	v.SetDefault(KeyTableSuffix, n.TableSuffix)
	v.SetDefault(KeyRevisionField, n.RevisionField)
	v.SetDefault(KeyRevisionTypeField, n.RevisionTypeField)
	v.SetDefault(KeyRevisionEndField, n.RevisionEndField)
	v.SetDefault(KeyRevisionEndTimestampField, n.RevisionEndTimestampField)
	v.SetDefault(KeyStoreDataAtDelete, false)
	v.SetDefault(KeyAllowIdentifierReuse, false)
	v.SetDefault(KeyRevisionEndTimestamp, false)
	v.SetDefault(KeyTrackEntitiesChanged, false)
	v.SetDefault(KeyRevisionOnCollectionChange, true)
}

// New returns a viper instance with defaults and environment overrides
// bound. Nested keys map to variables with underscores, so
// naming.table_suffix is TIMELINE_NAMING_TABLE_SUFFIX.
func New() *viper.Viper {
	v := viper.New()
	Defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path, if any, and returns the validated
// settings. An empty path reads timeline.yaml (or .json, .toml) from the
// working directory when present; a missing default file is not an error.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("timeline")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if c.Database == "" {
		return ErrMissingDatabase
	}
	switch c.Driver {
	case store.DriverCGO, store.DriverPure:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	switch c.Strategy {
	case strategy.NameDefault, strategy.NameValidity:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, c.Strategy)
	}
	if _, err := c.Level(); err != nil {
		return err
	}

	n := c.SchemaNaming()
	columns := []struct{ key, name string }{
		{KeyRevisionField, n.RevisionField},
		{KeyRevisionTypeField, n.RevisionTypeField},
		{KeyRevisionEndField, n.RevisionEndField},
		{KeyRevisionEndTimestampField, n.RevisionEndTimestampField},
	}
	for _, col := range columns {
		if err := store.ValidateIdentifier(col.name); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidName, col.key, err)
		}
	}
	// Prefix and suffix may be empty but must keep table names valid.
	if err := store.ValidateIdentifier("t" + n.TablePrefix + n.TableSuffix); err != nil {
		return fmt.Errorf("%w: table prefix %q or suffix %q", ErrInvalidName, n.TablePrefix, n.TableSuffix)
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return l, nil
}

// SchemaNaming returns the audit table naming.
func (c *Config) SchemaNaming() schema.Naming {
	return schema.Naming{
		TablePrefix:               c.Naming.TablePrefix,
		TableSuffix:               c.Naming.TableSuffix,
		RevisionField:             c.Naming.RevisionField,
		RevisionTypeField:         c.Naming.RevisionTypeField,
		RevisionEndField:          c.Naming.RevisionEndField,
		RevisionEndTimestampField: c.Naming.RevisionEndTimestampField,
	}
}

// StrategyOptions returns the write policies.
func (c *Config) StrategyOptions() strategy.Options {
	return strategy.Options{
		StoreDataAtDelete:    c.StoreDataAtDelete,
		AllowIdentifierReuse: c.AllowIdentifierReuse,
		RevisionEndTimestamp: c.RevisionEndTimestamp,
	}
}

// NewStrategy builds the configured audit strategy.
func (c *Config) NewStrategy() (strategy.Strategy, error) {
	return strategy.New(c.Strategy, c.StrategyOptions())
}

// StoreOptions returns the options for store.Open.
func (c *Config) StoreOptions() []store.Option {
	return []store.Option{store.WithDriver(c.Driver)}
}

// EngineOptions returns the engine options derived from the settings.
// Callers append their own clock, logger or token generator.
func (c *Config) EngineOptions() ([]engine.Option, error) {
	strat, err := c.NewStrategy()
	if err != nil {
		return nil, err
	}
	return []engine.Option{
		engine.WithStrategy(strat),
		engine.WithNaming(c.SchemaNaming()),
		engine.WithTrackEntitiesChanged(c.TrackEntitiesChanged),
		engine.WithRevisionOnCollectionChange(c.RevisionOnCollectionChange),
	}, nil
}
