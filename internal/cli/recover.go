package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover [id...]",
		Short: "Re-attempt decryption of corrupted records",
		Long: `Re-attempt decryption of the given records with the current key, or of
every corrupted record when no ids are given. Useful after restoring a key
backup. Records are never modified; this only verifies readability.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(rootOpts, cmd, args)
		},
	}
}

func runRecover(opts *RootOptions, cmd *cobra.Command, ids []string) error {
	f := opts.formatter(cmd)

	a, err := opts.openApp(cmd.Context(), cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	res, err := a.scanner().AttemptRecovery(cmd.Context(), ids...)
	if err != nil {
		return f.Fail(err)
	}

	text := fmt.Sprintf("recovered: %d\nfailed:    %d", len(res.Recovered), len(res.Failed))
	for _, id := range res.Failed {
		text += "\n  " + id
	}
	return f.Success(text, res)
}
