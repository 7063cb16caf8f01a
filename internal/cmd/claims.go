package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"shift-allocation/internal/app"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/engine/authz"
)

func newClaimCmd(o *options) *cobra.Command {
	var shiftID, workerID, notes string
	c := &cobra.Command{
		Use:     "claim",
		Short:   "Claim an open shift for a worker",
		GroupID: GroupClaims,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				return a.Claims.Claim(ctx, actor, shiftID, workerID, notes)
			})
		},
	}
	c.Flags().StringVar(&shiftID, "shift", "", "Shift id")
	c.Flags().StringVar(&workerID, "worker", "", "Worker profile id")
	c.Flags().StringVar(&notes, "notes", "", "Note for the manager")
	_ = c.MarkFlagRequired("shift")
	_ = c.MarkFlagRequired("worker")
	return c
}

func newApproveClaimCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "approve-claim <claim-id>",
		Short:   "Approve a pending claim and assign the shift",
		GroupID: GroupClaims,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				return a.Claims.ApproveClaim(ctx, actor, args[0])
			})
		},
	}
}

func newRejectClaimCmd(o *options) *cobra.Command {
	var reason string
	c := &cobra.Command{
		Use:     "reject-claim <claim-id>",
		Short:   "Reject a pending claim",
		GroupID: GroupClaims,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				return a.Claims.RejectClaim(ctx, actor, args[0], optional(cmd, "reason", reason))
			})
		},
	}
	c.Flags().StringVar(&reason, "reason", "", "Reason shown to the worker")
	return c
}

func newWithdrawClaimCmd(o *options) *cobra.Command {
	var workerID string
	c := &cobra.Command{
		Use:     "withdraw-claim <claim-id>",
		Short:   "Withdraw a worker's own pending claim",
		GroupID: GroupClaims,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				return a.Claims.WithdrawClaim(ctx, actor, args[0], workerID)
			})
		},
	}
	c.Flags().StringVar(&workerID, "worker", "", "Worker profile id")
	_ = c.MarkFlagRequired("worker")
	return c
}

func newClaimsCmd(o *options) *cobra.Command {
	var shiftID, workerID, restaurantID string
	c := &cobra.Command{
		Use:     "claims",
		Short:   "List claims of a shift, of a worker, or pending at a restaurant",
		GroupID: GroupClaims,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				var list []domain.ShiftClaim
				var err error
				switch {
				case shiftID != "":
					list, err = a.Claims.GetClaimsForShift(ctx, actor, shiftID)
				case workerID != "":
					list, err = a.Claims.GetClaimsByWorker(ctx, actor, workerID)
				default:
					list, err = a.Claims.GetPendingClaimsForRestaurant(ctx, actor, restaurantID)
				}
				if err != nil {
					return nil, err
				}
				if list == nil {
					list = []domain.ShiftClaim{}
				}
				return list, nil
			})
		},
	}
	c.Flags().StringVar(&shiftID, "shift", "", "Claims of this shift, best first")
	c.Flags().StringVar(&workerID, "worker", "", "Claims of this worker, newest first")
	c.Flags().StringVar(&restaurantID, "restaurant", "", "Pending claims at this restaurant")
	c.MarkFlagsMutuallyExclusive("shift", "worker", "restaurant")
	c.MarkFlagsOneRequired("shift", "worker", "restaurant")
	return c
}
