package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/timeline/internal/query"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	Revision int64
	Traverse []string
	Where    []string
}

// ExplainResult is a compiled historical query.
type ExplainResult struct {
	Entity   string `json:"entity" yaml:"entity"`
	Strategy string `json:"strategy" yaml:"strategy"`
	SQL      string `json:"sql" yaml:"sql"`
	Params   []any  `json:"params" yaml:"params"`
}

// Text renders the result for the text format.
func (r ExplainResult) Text() string {
	var b strings.Builder
	b.WriteString(r.SQL)
	for i, p := range r.Params {
		fmt.Fprintf(&b, "\n-- $%d = %#v", i+1, p)
	}
	return b.String()
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{}

	cmd := &cobra.Command{
		Use:   "explain <schema-dir> <entity>",
		Short: "Print the SQL of a historical query",
		Long: `Compile an at-revision query under the configured strategy and print
its SQL and parameters without touching the database.

--traverse joins a relation or component of the entity; append ":left"
for an outer join. Traversed nodes are aliased by their property name.`,
		Example: `  timeline explain ./schema Person --revision 3 --traverse projects
  timeline explain ./schema Person --traverse address:left --where active=true`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(rootOpts, opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Revision, "revision", 0, "revision number (default: latest)")
	cmd.Flags().StringArrayVar(&opts.Traverse, "traverse", nil, "association to join, prop or prop:left (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "filter prop=value (repeatable)")

	return cmd
}

func runExplain(rootOpts *RootOptions, opts *ExplainOptions, schemaDir, entity string, cmd *cobra.Command) error {
	f := newFormatter(rootOpts, cmd)
	s, err := loadSession(rootOpts, f, schemaDir)
	if err != nil {
		return err
	}

	e, err := s.entity(f, entity)
	if err != nil {
		return err
	}
	r, err := s.reader()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "create reader", err)
	}
	q, err := buildQuery(r, e, opts.Revision, opts.Where)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidFilter, "build query", err)
	}
	for _, t := range opts.Traverse {
		prop, mode, _ := strings.Cut(t, ":")
		join := query.InnerJoin
		switch mode {
		case "", "inner":
		case "left":
			join = query.LeftJoin
		default:
			return f.Fail(ExitCommandError, ErrCodeInvalidFilter, "build query",
				fmt.Errorf("traverse %q: unknown join %q", t, mode))
		}
		q.TraverseRelation(prop, join, prop)
	}

	plan, err := q.Compile()
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeQuery, "compile query", err)
	}
	params := plan.Params
	if params == nil {
		params = []any{}
	}
	return f.Success(ExplainResult{
		Entity:   e.Name,
		Strategy: s.cfg.Strategy,
		SQL:      plan.SQL,
		Params:   params,
	})
}
