package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kvgate/kvgate/pkg/gateway"
	"github.com/kvgate/kvgate/pkg/logging"
	"github.com/kvgate/kvgate/pkg/pool"
	"github.com/kvgate/kvgate/pkg/retry"
)

func newPingCommand(a *app) *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Open a gateway on the configured database and report the connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if wait {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			return a.withPool(ctx, func(p *pool.Pool) error {
				g, err := a.openForPing(ctx, p, wait)
				if err != nil {
					return err
				}
				defer g.Close()

				c := g.Context()
				fmt.Fprintf(cmd.OutOrStdout(), "PONG family=%s connection=%d database=%d state=%s\n",
					g.Family(), c.ConnectionID, c.Database, g.State())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "retry until the server accepts connections")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up waiting after this long")
	return cmd
}

func (a *app) openForPing(ctx context.Context, p *pool.Pool, wait bool) (*gateway.Gateway, error) {
	cfg := a.gatewayConfig(a.cfg.Redis.Database)
	if !wait {
		return a.newGateway(ctx, p, cfg)
	}

	var g *gateway.Gateway
	err := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		var err error
		g, err = a.newGateway(ctx, p, cfg)
		if err != nil {
			a.logger.Info("waiting for server", zap.String("error", logging.SanitizeError(err)))
		}
		return err
	})
	return g, err
}
