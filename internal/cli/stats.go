package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dkurilko/healthvault/internal/store/models"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Show record counts per type",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	a, err := opts.openApp(cmd.Context(), cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	ctx := cmd.Context()
	counts := make(map[string]int, len(models.RecordTypes))
	var b strings.Builder

	for _, rt := range models.RecordTypes {
		n, err := a.repo.CountByType(ctx, rt)
		if err != nil {
			return f.Fail(err)
		}
		counts[string(rt)] = n
		fmt.Fprintf(&b, "%-15s %d\n", rt, n)
	}

	total, err := a.repo.TotalCount(ctx)
	if err != nil {
		return f.Fail(err)
	}
	counts["total"] = total
	fmt.Fprintf(&b, "%-15s %d", "total", total)

	return f.Success(b.String(), counts)
}
