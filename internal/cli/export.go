package cli

import (
	"github.com/spf13/cobra"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Export corrupted records for offline analysis",
		Long: `Write the metadata and hex-encoded ciphertext of every corrupted record
to a JSON file. The export never contains plaintext.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(rootOpts, cmd, args[0])
		},
	}
}

func runExport(opts *RootOptions, cmd *cobra.Command, path string) error {
	f := opts.formatter(cmd)

	a, err := opts.openApp(cmd.Context(), cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	if err := a.scanner().ExportForAnalysis(cmd.Context(), path); err != nil {
		return f.Fail(err)
	}

	return f.Success("export written to "+path, map[string]any{"path": path})
}
