package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/timeline/internal/config"
	"github.com/roach88/timeline/internal/schema"
	"github.com/roach88/timeline/internal/store"
)

// ValidationError is one problem found in a schema directory.
type ValidationError struct {
	Field   string `json:"field" yaml:"field"`
	Message string `json:"message" yaml:"message"`
	Line    int    `json:"line,omitempty" yaml:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid" yaml:"valid"`
	Files    int               `json:"files" yaml:"files"`
	Entities []string          `json:"entities,omitempty" yaml:"entities,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Text renders the result for the text format.
func (r ValidationResult) Text() string {
	if r.Valid {
		return fmt.Sprintf("✓ Schema valid: %d entities in %d file(s)", len(r.Entities), r.Files)
	}
	var b strings.Builder
	b.WriteString("✗ Validation failed\n")
	for _, e := range r.Errors {
		b.WriteString("\n")
		if e.Line > 0 {
			fmt.Fprintf(&b, "line %d\n", e.Line)
		}
		fmt.Fprintf(&b, "  %s: %s\n", e.Field, e.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate entity schema files",
		Long: `Compile every CUE file in the schema directory and report all errors:
syntax, unknown relation targets, unresolved middle tables and audit
table or column names that are not valid SQL identifiers under the
configured naming and strategy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, schemaDir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "load config", err)
	}

	result, errs := schema.Load(schemaDir, schema.LoadModeCollectAll)
	if result == nil {
		return f.Fail(ExitCommandError, ErrCodeSchema, "load schema", errors.Join(errs...))
	}
	f.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, schemaDir)

	out := ValidationResult{Files: result.FileCount}
	for _, err := range errs {
		out.Errors = append(out.Errors, toValidationError(err))
	}
	if len(errs) == 0 {
		out.Errors = append(out.Errors, checkLayouts(cfg, result.Registry)...)
	}
	for _, e := range result.Registry.Entities() {
		out.Entities = append(out.Entities, e.Name)
	}

	if len(out.Errors) > 0 {
		if err := f.emitFailure(out); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(out.Errors)))
	}
	out.Valid = true
	return f.Success(out)
}

// emitFailure writes a failed validation with its full result.
func (f *OutputFormatter) emitFailure(out ValidationResult) error {
	if !f.Structured() {
		_, err := fmt.Fprintln(f.Writer, out.Text())
		return err
	}
	return f.encode(CLIResponse{
		Status: "error",
		Data:   out,
		Error:  &CLIError{Code: ErrCodeSchema, Message: out.Errors[0].Message},
	})
}

// checkLayouts renders the DDL of every audit table to catch names that
// are not valid identifiers.
func checkLayouts(cfg *config.Config, registry *schema.Registry) []ValidationError {
	strat, err := cfg.NewStrategy()
	if err != nil {
		return []ValidationError{{Field: "strategy", Message: err.Error()}}
	}
	naming := cfg.SchemaNaming()

	var out []ValidationError
	for _, e := range registry.Entities() {
		if e.NotAudited {
			continue
		}
		if _, err := store.CreateTableSQL(strat.Layout(naming, e)); err != nil {
			out = append(out, ValidationError{Field: "entity." + e.Name, Message: err.Error()})
		}
	}
	for _, m := range registry.MiddleTables() {
		if _, err := store.CreateTableSQL(strat.MiddleLayout(naming, m)); err != nil {
			out = append(out, ValidationError{Field: "middle." + m.Table, Message: err.Error()})
		}
	}
	return out
}

// toValidationError splits an "entity.X: ..." error into its field and
// message. Compile errors keep their own field and line.
func toValidationError(err error) ValidationError {
	field, msg, ok := strings.Cut(err.Error(), ": ")
	if !ok {
		field, msg = "schema", err.Error()
	}
	v := ValidationError{Field: field, Message: msg}

	var ce *schema.CompileError
	if errors.As(err, &ce) {
		v.Field = field + "." + ce.Field
		v.Message = ce.Message
		if ce.Pos.IsValid() {
			v.Line = ce.Pos.Line()
		}
	}
	return v
}
