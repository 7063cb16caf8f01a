// Package cmd provides the shiftctl commands.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"shift-allocation/internal/app"
	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/config"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/engine/authz"
)

const (
	GroupScheduling = "scheduling"
	GroupClaims     = "claims"
	GroupSwaps      = "swaps"
	GroupServices   = "services"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath  string
	seedPath    string
	actorID     string
	role        string
	restaurants []string
	workers     []string
}

func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "shiftctl",
		Short:         "Allocate restaurant shifts: conflicts, candidates, claims and swaps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddGroup(
		&cobra.Group{ID: GroupScheduling, Title: "Scheduling:"},
		&cobra.Group{ID: GroupClaims, Title: "Claims:"},
		&cobra.Group{ID: GroupSwaps, Title: "Swaps:"},
		&cobra.Group{ID: GroupServices, Title: "Services:"},
	)

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "config.yml", "Path to the YAML config")
	pf.StringVar(&o.seedPath, "seed", "", "Run against a JSON snapshot held in memory instead of PostgreSQL")
	pf.StringVar(&o.actorID, "actor", "", "Id of the acting user")
	pf.StringVar(&o.role, "role", string(authz.RoleWorker), "Role of the actor: WORKER, MANAGER or SYSTEM")
	pf.StringSliceVar(&o.restaurants, "restaurants", nil, "Restaurants the actor manages")
	pf.StringSliceVar(&o.workers, "workers", nil, "Worker profiles the actor acts as")

	root.AddCommand(
		newConflictsCmd(o),
		newCandidatesCmd(o),
		newValidateClaimCmd(o),
		newVisibleShiftsCmd(o),
		newReputationCmd(o),
		newClaimCmd(o),
		newApproveClaimCmd(o),
		newRejectClaimCmd(o),
		newWithdrawClaimCmd(o),
		newClaimsCmd(o),
		newSwapCmd(o),
		newCacheListenerCmd(o),
	)
	return root
}

// Execute runs shiftctl and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps the error kind so scripts can tell a refusal from a failure.
func exitCode(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return 2
	case domain.KindNotFound:
		return 3
	case domain.KindConflict:
		return 4
	case domain.KindForbidden:
		return 5
	case domain.KindPermanentRule:
		return 6
	}
	return 1
}

func (o *options) actor() (authz.Actor, error) {
	role := authz.Role(strings.ToUpper(o.role))
	switch role {
	case authz.RoleSystem:
		return authz.System(), nil
	case authz.RoleWorker, authz.RoleManager:
	default:
		return authz.Actor{}, domain.Validationf("unknown role %q", o.role)
	}
	id := o.actorID
	if id == "" {
		id = "cli"
	}
	return authz.Actor{ID: id, Role: role, RestaurantIDs: o.restaurants, WorkerProfileIDs: o.workers}, nil
}

// open builds the engine for one command. With --seed and no explicit
// --config the defaults are used, since no database is involved.
func (o *options) open(cmd *cobra.Command) (*app.App, error) {
	cfg := config.Default()
	if o.seedPath == "" || cmd.Flags().Changed("config") {
		loaded, err := config.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	log, err := logger.NewWithOptions("shiftctl", cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if o.seedPath != "" {
		store, err := app.LoadSnapshot(o.seedPath)
		if err != nil {
			return nil, err
		}
		log.Info("dry_run", map[string]any{"seed": o.seedPath})
		return app.NewWithStore(cfg, log, store, nil), nil
	}
	return app.New(cmd.Context(), cfg, log)
}

// run opens the engine, resolves the actor and hands both to fn.
func (o *options) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, actor authz.Actor) (any, error)) error {
	actor, err := o.actor()
	if err != nil {
		return err
	}
	a, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	out, err := fn(cmd.Context(), a, actor)
	if err != nil {
		var sc *domain.SchedulingConflictError
		if errors.As(err, &sc) {
			_ = printJSON(cmd, map[string]any{"error": err.Error(), "conflicts": sc.Conflicts})
		}
		return err
	}
	return printJSON(cmd, out)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optional(cmd *cobra.Command, flag, v string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &v
}
