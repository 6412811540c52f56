package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// InitResult describes an initialized audit database.
type InitResult struct {
	Database      string   `json:"database" yaml:"database"`
	Strategy      string   `json:"strategy" yaml:"strategy"`
	SchemaVersion uint     `json:"schema_version" yaml:"schema_version"`
	Tables        []string `json:"tables" yaml:"tables"`
}

// Text renders the result for the text format.
func (r InitResult) Text() string {
	return fmt.Sprintf("✓ Initialized %s (%s strategy, schema v%d)\n  %s",
		r.Database, r.Strategy, r.SchemaVersion, strings.Join(r.Tables, "\n  "))
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init <schema-dir>",
		Short: "Create the revision log and audit tables",
		Long: `Compile the entity schema, open (or create) the database, run the
revision log migrations and create every missing audit table.

Running init again is safe; existing tables are left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), rootOpts, args[0], cmd)
		},
	}
}

func runInit(ctx context.Context, opts *RootOptions, schemaDir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts, cmd)
	s, err := openSession(opts, f, schemaDir)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.engine.EnsureTables(ctx); err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "create audit tables", err)
	}
	version, _, err := s.store.SchemaVersion()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "read schema version", err)
	}

	result := InitResult{
		Database:      s.cfg.Database,
		Strategy:      s.engine.Strategy().Name(),
		SchemaVersion: version,
	}
	for _, t := range s.engine.Tables() {
		result.Tables = append(result.Tables, t.Name)
	}
	return f.Success(result)
}
