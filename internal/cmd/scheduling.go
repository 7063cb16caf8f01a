package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"shift-allocation/internal/app"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/engine/authz"
)

func newConflictsCmd(o *options) *cobra.Command {
	var workerID, shiftID, restaurantID, start, end string
	c := &cobra.Command{
		Use:     "conflicts",
		Short:   "Detect scheduling conflicts for a worker and a shift or time window",
		GroupID: GroupScheduling,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				worker, err := a.Store.GetWorker(ctx, workerID)
				if err != nil {
					return nil, err
				}
				if err := authz.Default(actor, authz.ActionDetectConflicts, authz.ForWorker(worker.RestaurantID, worker.ID)); err != nil {
					return nil, err
				}
				w, err := proposedWindow(ctx, a, shiftID, restaurantID, start, end)
				if err != nil {
					return nil, err
				}
				conflicts, err := a.Detector.DetectConflicts(ctx, worker.ID, w)
				if err != nil {
					return nil, err
				}
				if conflicts == nil {
					conflicts = []domain.Conflict{}
				}
				return conflicts, nil
			})
		},
	}
	c.Flags().StringVar(&workerID, "worker", "", "Worker profile id")
	c.Flags().StringVar(&shiftID, "shift", "", "Shift to check instead of a window")
	c.Flags().StringVar(&restaurantID, "restaurant", "", "Restaurant of the window")
	c.Flags().StringVar(&start, "start", "", "Window start, RFC3339")
	c.Flags().StringVar(&end, "end", "", "Window end, RFC3339")
	_ = c.MarkFlagRequired("worker")
	c.MarkFlagsMutuallyExclusive("shift", "restaurant")
	return c
}

func proposedWindow(ctx context.Context, a *app.App, shiftID, restaurantID, start, end string) (domain.ProposedWindow, error) {
	if shiftID != "" {
		shift, err := a.Store.GetShift(ctx, shiftID)
		if err != nil {
			return domain.ProposedWindow{}, err
		}
		return domain.WindowFor(shift), nil
	}
	if restaurantID == "" {
		return domain.ProposedWindow{}, domain.Validationf("either --shift or --restaurant with --start and --end is required")
	}
	from, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return domain.ProposedWindow{}, domain.Validationf("invalid --start %q", start)
	}
	to, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return domain.ProposedWindow{}, domain.Validationf("invalid --end %q", end)
	}
	return domain.ProposedWindow{RestaurantID: restaurantID, StartTime: from, EndTime: to}, nil
}

func newCandidatesCmd(o *options) *cobra.Command {
	var shiftID string
	var opts domain.CandidateOptions
	c := &cobra.Command{
		Use:     "candidates",
		Short:   "Rank the workers who could take a shift",
		GroupID: GroupScheduling,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				shift, err := a.Store.GetShift(ctx, shiftID)
				if err != nil {
					return nil, err
				}
				if err := authz.Default(actor, authz.ActionFindCandidates, authz.ForRestaurant(shift.RestaurantID)); err != nil {
					return nil, err
				}
				return a.Matcher.FindCandidates(ctx, shift.ID, opts)
			})
		},
	}
	c.Flags().StringVar(&shiftID, "shift", "", "Shift id")
	c.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of candidates, 0 for the configured default")
	c.Flags().BoolVar(&opts.IncludeNetwork, "network", false, "Include workers from the restaurant's network")
	_ = c.MarkFlagRequired("shift")
	return c
}

func newValidateClaimCmd(o *options) *cobra.Command {
	var shiftID, workerID string
	c := &cobra.Command{
		Use:     "validate-claim",
		Short:   "Explain whether a worker may claim a shift and at what priority",
		GroupID: GroupScheduling,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				worker, err := a.Store.GetWorker(ctx, workerID)
				if err != nil {
					return nil, err
				}
				if err := authz.Default(actor, authz.ActionViewWorkerItems, authz.ForWorker(worker.RestaurantID, worker.ID)); err != nil {
					return nil, err
				}
				return a.Matcher.ValidateClaim(ctx, shiftID, worker.ID)
			})
		},
	}
	c.Flags().StringVar(&shiftID, "shift", "", "Shift id")
	c.Flags().StringVar(&workerID, "worker", "", "Worker profile id")
	_ = c.MarkFlagRequired("shift")
	_ = c.MarkFlagRequired("worker")
	return c
}

func newVisibleShiftsCmd(o *options) *cobra.Command {
	var workerID string
	c := &cobra.Command{
		Use:     "visible-shifts",
		Short:   "List open shifts elsewhere in the network that a worker can see",
		GroupID: GroupScheduling,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				worker, err := a.Store.GetWorker(ctx, workerID)
				if err != nil {
					return nil, err
				}
				if err := authz.Default(actor, authz.ActionViewWorkerItems, authz.ForWorker(worker.RestaurantID, worker.ID)); err != nil {
					return nil, err
				}
				shifts, err := a.Visibility.GetVisibleNetworkShifts(ctx, worker.ID, worker.RestaurantID)
				if err != nil {
					return nil, err
				}
				if shifts == nil {
					shifts = []domain.Shift{}
				}
				return shifts, nil
			})
		},
	}
	c.Flags().StringVar(&workerID, "worker", "", "Worker profile id")
	_ = c.MarkFlagRequired("worker")
	return c
}

func newReputationCmd(o *options) *cobra.Command {
	var workerID string
	c := &cobra.Command{
		Use:     "reputation",
		Short:   "Show a worker's network reputation",
		GroupID: GroupScheduling,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App, actor authz.Actor) (any, error) {
				worker, err := a.Store.GetWorker(ctx, workerID)
				if err != nil {
					return nil, err
				}
				if err := authz.Default(actor, authz.ActionViewWorkerItems, authz.ForWorker(worker.RestaurantID, worker.ID)); err != nil {
					return nil, err
				}
				return a.Reputation.CalculateNetworkReputation(ctx, worker.ID)
			})
		},
	}
	c.Flags().StringVar(&workerID, "worker", "", "Worker profile id")
	_ = c.MarkFlagRequired("worker")
	return c
}
