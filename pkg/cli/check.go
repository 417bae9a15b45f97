package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kvgate/kvgate/pkg/gateway"
	"github.com/kvgate/kvgate/pkg/pool"
)

func newCheckCommand(a *app) *cobra.Command {
	var databases []int

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Open one gateway per database on a shared connection and check each",
		Long: `check opens one gateway per listed database, all on the configured
server and credential, so they share one connection. It then runs the
integrity check on each gateway in order and prints what it found.`,
		Example: "  kvgate check --databases 3,4",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			return a.withPool(ctx, func(p *pool.Pool) error {
				gateways := make([]*gateway.Gateway, 0, len(databases))
				defer func() {
					for _, g := range gateways {
						g.Close()
					}
				}()

				for _, db := range databases {
					g, err := a.newGateway(ctx, p, a.gatewayConfig(db))
					if err != nil {
						return err
					}
					gateways = append(gateways, g)
				}

				failed := 0
				for _, g := range gateways {
					ok, err := g.CheckIntegrity(ctx)
					if err != nil {
						return err
					}
					c := g.Context()
					fmt.Fprintf(out, "database=%d connection=%d integrity=%t state=%s\n",
						c.Database, c.ConnectionID, ok, g.State())
					if !ok {
						failed++
						fmt.Fprintf(out, "  last error: %s\n", g.LastError())
					}
				}

				if len(gateways) > 0 {
					count, err := p.AcquireCount(gateways[0].Identity())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "references=%d\n", count)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d gateways failed the integrity check", failed, len(gateways))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntSliceVar(&databases, "databases", []int{0}, "databases to open, in order")
	return cmd
}
