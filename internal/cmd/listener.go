package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shift-allocation/internal/common/httpx"
)

func newCacheListenerCmd(o *options) *cobra.Command {
	var metricsAddr string
	c := &cobra.Command{
		Use:     "cache-listener",
		Short:   "Apply open-shift cache invalidations broadcast by other engine processes",
		GroupID: GroupServices,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			listener, err := a.CacheListener()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			srv := httpx.New(metricsAddr)
			errCh := make(chan error, 2)
			go func() { errCh <- srv.Run(ctx) }()
			go func() { errCh <- listener.Listen(ctx) }()
			a.Log.Info("service_started", map[string]any{"service": "cache-listener", "metrics_addr": metricsAddr})

			select {
			case <-ctx.Done():
			case err = <-errCh:
			}
			a.Log.Info("service_stopping", map[string]any{"service": "cache-listener"})
			cancel()
			return err
		},
	}
	c.Flags().StringVar(&metricsAddr, "metrics-addr", ":9102", "Address serving /metrics")
	return c
}
