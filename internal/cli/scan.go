package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dkurilko/healthvault/internal/recovery"
)

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan all records for corruption",
		Long: `Scan every stored record and classify it as recoverable, empty or
corrupted. Corrupted records are further classified by failure reason.
Nothing is modified.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(rootOpts, cmd)
		},
	}
}

func runScan(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	a, err := opts.openApp(cmd.Context(), cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	report, err := a.scanner().Scan(cmd.Context())
	if err != nil {
		return f.Fail(err)
	}

	return f.Success(formatReport(report), report)
}

func formatReport(r *recovery.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "records:     %d\n", r.TotalRecords)
	fmt.Fprintf(&b, "recoverable: %d\n", len(r.Recoverable))
	fmt.Fprintf(&b, "empty:       %d\n", len(r.Empty))
	fmt.Fprintf(&b, "corrupted:   %d", len(r.Corrupted))
	for _, c := range r.Corrupted {
		fmt.Fprintf(&b, "\n  %s  %s  %d bytes  (%s)", c.ID, c.Type, c.Size, c.Reason)
	}
	if r.LikelyKeyLoss {
		b.WriteString("\n\nWARNING: every valid envelope fails to decrypt.")
		b.WriteString("\nThe encryption key was likely lost or replaced; this data cannot be")
		b.WriteString("\nread without the original key.")
	}
	return b.String()
}
