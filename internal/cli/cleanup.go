package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dkurilko/healthvault/internal/store/models"
)

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		recordType string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete unrecoverable records",
		Long: `Permanently delete records that are empty or structurally invalid.
Records that merely fail to decrypt are kept: they may become readable again
if the original key is restored. This operation cannot be undone.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(rootOpts, cmd, models.RecordType(recordType), yes)
		},
	}

	cmd.Flags().StringVarP(&recordType, "type", "t", "", "restrict cleanup to one record type")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func runCleanup(opts *RootOptions, cmd *cobra.Command, only models.RecordType, yes bool) error {
	f := opts.formatter(cmd)

	if only != "" && !only.Valid() {
		return f.Fail(fmt.Errorf("unknown record type %q", only))
	}

	if !yes && !confirm(cmd, "Permanently delete unrecoverable records?") {
		return f.Success("aborted", map[string]any{"deleted": 0, "aborted": true})
	}

	a, err := opts.openApp(cmd.Context(), cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	deleted, err := a.scanner().CleanupCorrupted(cmd.Context(), only)
	if err != nil {
		return f.Fail(err)
	}

	return f.Success(fmt.Sprintf("deleted: %d", deleted), map[string]any{"deleted": deleted})
}

// confirm asks a yes/no question on the command's input stream.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", question)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
