package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dkurilko/healthvault/internal/config"
	"github.com/dkurilko/healthvault/internal/netmon"
	"github.com/dkurilko/healthvault/internal/queue"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage pending operations",
	}

	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueRetryCommand(rootOpts))
	cmd.AddCommand(newQueueCancelCommand(rootOpts))

	return cmd
}

// openQueue loads the persisted queue for offline management. The queue is
// deliberately wired to a disconnected monitor: the CLI edits state, the
// running application executes it.
func (o *RootOptions) openQueue(cmd *cobra.Command) (*queue.Queue, error) {
	cfg := config.LoadConfig()
	log := o.logger(cmd)

	mon := netmon.NewMonitor(nil, cfg.ProbeInterval, cfg.ProbeTimeout, log)
	exec := queue.ExecutorFunc(func(ctx context.Context, op queue.Operation) error {
		return queue.NotConnected()
	})
	return queue.NewQueue(exec, mon, cfg.QueueStateFile, log,
		queue.WithMaxRetries(cfg.MaxRetries),
		queue.WithBackoffCap(cfg.BackoffCap),
	)
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List queued operations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			q, err := rootOpts.openQueue(cmd)
			if err != nil {
				return f.Fail(err)
			}

			ops := q.Operations()
			if len(ops) == 0 {
				return f.Success("queue is empty", ops)
			}

			var b strings.Builder
			for i, op := range ops {
				if i > 0 {
					b.WriteByte('\n')
				}
				fmt.Fprintf(&b, "%s  %-20s  %-8s  retries=%d", op.ID, op.Kind, op.Status, op.RetryCount)
				if op.LastError != "" {
					fmt.Fprintf(&b, "  last_error=%q", op.LastError)
				}
			}
			return f.Success(b.String(), ops)
		},
	}
}

func newQueueRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "retry <id>",
		Short:         "Mark a failed operation for a fresh round of attempts",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			q, err := rootOpts.openQueue(cmd)
			if err != nil {
				return f.Fail(err)
			}
			if err := q.Retry(cmd.Context(), args[0]); err != nil {
				return f.Fail(err)
			}
			return f.Success("operation marked for retry", map[string]any{"id": args[0]})
		},
	}
}

func newQueueCancelCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:           "cancel [id]",
		Short:         "Cancel one queued operation, or all of them",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			if !all && len(args) == 0 {
				return f.Fail(fmt.Errorf("specify an operation id or --all"))
			}

			q, err := rootOpts.openQueue(cmd)
			if err != nil {
				return f.Fail(err)
			}

			if all {
				if err := q.CancelAll(cmd.Context()); err != nil {
					return f.Fail(err)
				}
				return f.Success("queue cleared", map[string]any{"all": true})
			}
			if err := q.Cancel(cmd.Context(), args[0]); err != nil {
				return f.Fail(err)
			}
			return f.Success("operation cancelled", map[string]any{"id": args[0]})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "cancel every queued operation")

	return cmd
}
