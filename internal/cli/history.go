package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/query"
)

// HistoryEntry is one historical row of a record.
type HistoryEntry struct {
	Revision  int64  `json:"revision" yaml:"revision"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Type      string `json:"type" yaml:"type"`
	State     any    `json:"state" yaml:"state"`
}

// HistoryResult lists the revisions of one record.
type HistoryResult struct {
	Entity  string         `json:"entity" yaml:"entity"`
	ID      any            `json:"id" yaml:"id"`
	Entries []HistoryEntry `json:"entries" yaml:"entries"`
}

// Text renders the result for the text format.
func (r HistoryResult) Text() string {
	if len(r.Entries) == 0 {
		return fmt.Sprintf("%s %v has no history", r.Entity, r.ID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %v", r.Entity, r.ID)
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "\n  rev %-4d %s  %s", e.Revision, e.Timestamp, e.Type)
		if e.State != nil {
			fmt.Fprintf(&b, "  %s", formatState(e.State))
		}
	}
	return b.String()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <schema-dir> <entity> <id>",
		Short: "List the revisions of one record",
		Long: `Print every historical row of one record in revision order: the
revision, its timestamp, the revision type (ADD, MOD, DEL) and the
snapshot written by that revision.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), rootOpts, args[0], args[1], args[2], cmd)
		},
	}
}

func runHistory(ctx context.Context, opts *RootOptions, schemaDir, entity, rawID string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts, cmd)
	s, err := openSession(opts, f, schemaDir)
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := s.entity(f, entity)
	if err != nil {
		return err
	}
	id, err := parseID(e, rawID)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidFilter, "parse id", err)
	}
	r, err := s.reader()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "create reader", err)
	}

	rows, err := r.ForRevisionsOfEntity(e.Name, false, true).
		Add(query.ID().Eq(id)).
		ResultList(ctx)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeQuery, "query history", err)
	}

	result := HistoryResult{Entity: e.Name, ID: id, Entries: []HistoryEntry{}}
	for _, row := range rows {
		entry, err := historyEntry(row)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeQuery, "decode history", err)
		}
		result.Entries = append(result.Entries, entry)
	}
	return f.Success(result)
}

// historyEntry decodes a [snapshot, revision, type] triple.
func historyEntry(row ir.IRValue) (HistoryEntry, error) {
	triple, ok := row.(ir.IRArray)
	if !ok || len(triple) != 3 {
		return HistoryEntry{}, fmt.Errorf("unexpected history row %T", row)
	}
	rev, ok := triple[1].(ir.IRObject)
	if !ok {
		return HistoryEntry{}, fmt.Errorf("unexpected revision %T", triple[1])
	}
	n, _ := rev.Get("id").(ir.IRInt)
	ts, _ := rev.Get("timestamp").(ir.IRString)
	typ, _ := triple[2].(ir.IRString)
	return HistoryEntry{
		Revision:  int64(n),
		Timestamp: string(ts),
		Type:      string(typ),
		State:     ir.ToAny(triple[0]),
	}, nil
}

// formatState renders a snapshot as sorted key=value pairs.
func formatState(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return formatValue(v)
	}
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, k+"="+formatValue(m[k]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	case map[string]any:
		return "{" + formatState(val) + "}"
	default:
		return fmt.Sprint(val)
	}
}
