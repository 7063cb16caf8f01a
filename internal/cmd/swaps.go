package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"shift-allocation/internal/app"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/engine/authz"
)

func newSwapCmd(o *options) *cobra.Command {
	c := &cobra.Command{
		Use:     "swap",
		Short:   "Create and resolve shift swaps and pool drops",
		GroupID: GroupSwaps,
	}
	c.AddCommand(
		newSwapCreateCmd(o),
		newSwapRespondCmd(o),
		newSwapApproveCmd(o),
		newSwapRejectCmd(o),
		newSwapCancelCmd(o),
		newSwapDropCmd(o),
		newSwapGetCmd(o),
		newSwapListCmd(o),
	)
	return c
}

func newSwapCreateCmd(o *options) *cobra.Command {
	var req domain.CreateSwapRequest
	var targetWorker, targetShift string
	c := &cobra.Command{
		Use:   "create",
		Short: "Offer a held shift to a coworker, trade it, or drop it to the pool",
		Long: `Without --target-worker the shift is offered back to the open pool.
With --target-worker it is handed over; adding --target-shift trades it for
the target worker's shift.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.TargetWorkerID = optional(cmd, "target-worker", targetWorker)
			req.TargetShiftID = optional(cmd, "target-shift", targetShift)
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				return a.Swaps.CreateSwap(ctx, actor, req)
			})
		},
	}
	c.Flags().StringVar(&req.SourceShiftID, "shift", "", "Shift being given up")
	c.Flags().StringVar(&req.SourceWorkerID, "worker", "", "Worker holding the shift")
	c.Flags().StringVar(&targetWorker, "target-worker", "", "Worker taking the shift")
	c.Flags().StringVar(&targetShift, "target-shift", "", "Shift of the target worker to take in exchange")
	c.Flags().StringVar(&req.Reason, "reason", "", "Reason for the swap")
	_ = c.MarkFlagRequired("shift")
	_ = c.MarkFlagRequired("worker")
	return c
}

func newSwapRespondCmd(o *options) *cobra.Command {
	var workerID string
	var accept, decline bool
	c := &cobra.Command{
		Use:   "respond <swap-id>",
		Short: "Accept or decline a swap addressed to a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				return a.Swaps.RespondToSwap(ctx, actor, args[0], workerID, accept)
			})
		},
	}
	c.Flags().StringVar(&workerID, "worker", "", "Target worker profile id")
	c.Flags().BoolVar(&accept, "accept", false, "Accept the swap")
	c.Flags().BoolVar(&decline, "decline", false, "Decline the swap")
	_ = c.MarkFlagRequired("worker")
	c.MarkFlagsMutuallyExclusive("accept", "decline")
	c.MarkFlagsOneRequired("accept", "decline")
	return c
}

func newSwapApproveCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <swap-id>",
		Short: "Approve a swap as the manager of the source shift's restaurant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				return a.Swaps.ApproveSwap(ctx, actor, args[0])
			})
		},
	}
}

func newSwapRejectCmd(o *options) *cobra.Command {
	var reason string
	c := &cobra.Command{
		Use:   "reject <swap-id>",
		Short: "Reject a swap as manager",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				return a.Swaps.RejectSwap(ctx, actor, args[0], optional(cmd, "reason", reason))
			})
		},
	}
	c.Flags().StringVar(&reason, "reason", "", "Reason shown to the workers")
	return c
}

func newSwapCancelCmd(o *options) *cobra.Command {
	var workerID string
	c := &cobra.Command{
		Use:   "cancel <swap-id>",
		Short: "Cancel a pending swap as the worker who requested it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				return a.Swaps.CancelSwap(ctx, actor, args[0], workerID)
			})
		},
	}
	c.Flags().StringVar(&workerID, "worker", "", "Requesting worker profile id")
	_ = c.MarkFlagRequired("worker")
	return c
}

func newSwapDropCmd(o *options) *cobra.Command {
	var shiftID, workerID, reason string
	c := &cobra.Command{
		Use:   "drop",
		Short: "Release a held shift straight back to the open pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				return a.Swaps.DropToPool(ctx, actor, shiftID, workerID, reason)
			})
		},
	}
	c.Flags().StringVar(&shiftID, "shift", "", "Shift id")
	c.Flags().StringVar(&workerID, "worker", "", "Worker holding the shift")
	c.Flags().StringVar(&reason, "reason", "", "Reason for dropping")
	_ = c.MarkFlagRequired("shift")
	_ = c.MarkFlagRequired("worker")
	return c
}

func newSwapGetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <swap-id>",
		Short: "Show a swap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				return a.Swaps.GetSwap(ctx, actor, args[0])
			})
		},
	}
}

func newSwapListCmd(o *options) *cobra.Command {
	var workerID string
	c := &cobra.Command{
		Use:   "list",
		Short: "List swaps a worker requested or was offered, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				list, err := a.Swaps.ListSwapsForWorker(ctx, actor, workerID)
				if err != nil {
					return nil, err
				}
				if list == nil {
					list = []domain.ShiftSwap{}
				}
				return list, nil
			})
		},
	}
	c.Flags().StringVar(&workerID, "worker", "", "Worker profile id")
	_ = c.MarkFlagRequired("worker")
	return c
}
