package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kvgate/kvgate/pkg/apperrors"
	"github.com/kvgate/kvgate/pkg/gateway"
	"github.com/kvgate/kvgate/pkg/logging"
	"github.com/kvgate/kvgate/pkg/pool"
)

// stressDatabases is the range workers pick databases from.
const stressDatabases = 16

type stressOptions struct {
	workers    int
	duration   time.Duration
	persistent bool
}

type stressResult struct {
	gateways     atomic.Int64
	checks       atomic.Int64
	failedChecks atomic.Int64
	idMismatches atomic.Int64
	elapsed      time.Duration
}

func newStressCommand(a *app) *cobra.Command {
	opts := stressOptions{}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Churn gateways on random databases over one shared connection",
		Long: `stress runs workers that keep opening gateways on random databases
(0-15) against the configured server, checking that every gateway lands on
the same connection and that each integrity check succeeds. It stops after
--duration or on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.workers < 1 {
				return fmt.Errorf("--workers must be at least 1")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.withPool(ctx, func(p *pool.Pool) error {
				res, err := a.stress(ctx, p, opts)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(),
					"workers=%d gateways=%d checks=%d failed=%d id_mismatches=%d elapsed=%.9fs\n",
					opts.workers, res.gateways.Load(), res.checks.Load(), res.failedChecks.Load(),
					res.idMismatches.Load(), res.elapsed.Seconds())
				if res.failedChecks.Load() > 0 || res.idMismatches.Load() > 0 {
					return errors.New("stress run found integrity failures")
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&opts.workers, "workers", 4, "concurrent workers")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "how long to run")
	cmd.Flags().BoolVar(&opts.persistent, "persistent", true, "use a persistent connection")
	return cmd
}

func (a *app) stress(ctx context.Context, p *pool.Pool, opts stressOptions) (*stressResult, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	// The first gateway pins the connection every later one must share.
	base := a.gatewayConfig(0)
	base.Persistent = opts.persistent
	anchor, err := a.newGateway(ctx, p, base)
	if err != nil {
		return nil, err
	}
	defer anchor.Close()
	want := anchor.Context().ConnectionID

	res := &stressResult{}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.workers; w++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				cfg := base
				cfg.Database = rand.Intn(stressDatabases)
				if err := a.stressOnce(gctx, p, cfg, want, res); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return err
				}
			}
			return nil
		})
	}

	err = g.Wait()
	res.elapsed = time.Since(start)
	return res, err
}

// stressOnce opens one gateway, checks it and closes it. Only connectivity
// loss ends the run; integrity failures are counted.
func (a *app) stressOnce(ctx context.Context, p *pool.Pool, cfg gateway.Config, want int64, res *stressResult) error {
	g, err := a.newGateway(ctx, p, cfg)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, apperrors.ErrConnectionLost) {
			return err
		}
		res.failedChecks.Add(1)
		a.logger.Warn("gateway failed", zap.String("error", logging.SanitizeError(err)))
		return nil
	}
	defer g.Close()
	res.gateways.Add(1)

	if id := g.Context().ConnectionID; id != want {
		res.idMismatches.Add(1)
		a.logger.Warn("gateway landed on another connection", zap.Int64("want", want), zap.Int64("got", id))
	}

	ok, err := g.CheckIntegrity(ctx)
	if err != nil || ctx.Err() != nil {
		return errors.Join(err, ctx.Err())
	}
	res.checks.Add(1)
	if !ok {
		res.failedChecks.Add(1)
		a.logger.Warn("integrity check failed",
			zap.Int("database", cfg.Database),
			zap.String("error", g.LastError()),
		)
	}
	return nil
}
