package main

import (
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/pgrest/pkg/metrics"
	pg "github.com/edgeflare/pgrest/pkg/pgx"
	"github.com/edgeflare/pgrest/pkg/pgx/schema"
	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch [resource] [query]",
	Short: "Introspect schemas, rebuild resources on change and rerun a read",
	Long: `Loads the configured schemas, derives resources from their foreign keys
and rebuilds them whenever "NOTIFY pgrest, 'reload schema'" is received.
With a resource, the read runs against the current resources after every
rebuild and every --interval. Serves Prometheus metrics on rest.metricsAddr
when set.`,
	Example: `  pgrest watch orders 'status=eq.pending&order=id' --interval 5s --count exact`,
	Args:    cobra.MaximumNArgs(2),
	RunE:    runWatch,
}

func init() {
	addCountFlags(watchCmd)
	watchCmd.Flags().Duration("interval", 10*time.Second, "rerun the read this often")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ra *readArgs
	if len(args) > 0 {
		var err error
		if ra, err = parseReadArgs(cmd, args); err != nil {
			return err
		}
	}
	interval, _ := cmd.Flags().GetDuration("interval")

	pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	p, err := newPipeline(pg.NewDB(pool))
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if cfg.REST.MetricsAddr != "" {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: cfg.REST.MetricsAddr, Logger: logger})
	}

	cache := schema.NewCache(pool, logger, cfg.REST.Schemas...)
	if err := cache.Init(ctx); err != nil {
		return err
	}
	defer cache.Close()

	var tick <-chan time.Time
	if ra != nil && interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	rerun := func() {
		if ra == nil {
			return
		}
		reg := resource.Current()
		if reg == nil {
			return
		}
		if err := readTo(ctx, cmd.OutOrStdout(), p, reg, ra); err != nil {
			logger.Error("read", zap.String("resource", ra.resource), zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			stop()
			wg.Wait()
			return nil
		case tables := <-cache.Watch():
			publish(tables)
			rerun()
		case <-tick:
			rerun()
		}
	}
}

// publish replaces the current registry. A snapshot that does not build
// keeps the previous registry.
func publish(tables map[string]schema.Table) {
	reg, err := resource.Build(resource.FromSchema(tables)...)
	if err != nil {
		logger.Error("build resources", zap.Error(err))
		return
	}
	resource.Publish(reg)
	logger.Info("resources published", zap.Strings("resources", reg.Names()))
}
