// Package cli implements the kvgate command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kvgate/kvgate/pkg/adapters/driver"
	"github.com/kvgate/kvgate/pkg/adapters/registry"
	"github.com/kvgate/kvgate/pkg/config"
	"github.com/kvgate/kvgate/pkg/gateway"
	"github.com/kvgate/kvgate/pkg/logging"
	"github.com/kvgate/kvgate/pkg/pool"
)

// app carries what every command needs once flags are parsed.
type app struct {
	version    string
	configPath string

	// factory replaces the registry lookup when set.
	factory driver.Factory

	cfg    *config.Config
	logger *zap.Logger
}

// Execute runs the root command.
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}

// NewRootCommand returns the kvgate command tree.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(&app{version: version})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "kvgate",
		Short: "Shared Redis connections with per-handle database integrity",
		Long: `kvgate shares one physical Redis connection between every handle that
targets the same server and credential, and keeps each handle's selected
database correct on that shared connection.

Configuration is read from kvgate.yaml (or --config) with environment
overrides such as REDIS_HOST, REDIS_PORT, REDIS_DB and KVGATE_DRIVER.
REDIS_PASSWORD is only read from the environment.`,
		Version: a.version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Usage is for flag errors only.
			cmd.SilenceUsage = true
			return a.load()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigFile, "path to the YAML configuration file")

	root.AddCommand(
		newPingCommand(a),
		newCheckCommand(a),
		newStressCommand(a),
		newFamiliesCommand(a),
		newConfigCommand(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if !registry.IsRegistered(cfg.Driver.Family) {
		return fmt.Errorf("driver.family must be one of %s, got %q", strings.Join(familyTypes(), ", "), cfg.Driver.Family)
	}
	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) driverOptions() driver.Options {
	return driver.Options{
		ConnectTimeout:        a.cfg.Driver.ConnectTimeout,
		ReadTimeout:           a.cfg.Driver.ReadTimeout,
		WriteTimeout:          a.cfg.Driver.WriteTimeout,
		TLSInsecureSkipVerify: a.cfg.Driver.TLSSkipVerify,
	}
}

// withPool builds a pool for the configured family, registers its shutdown
// hook and runs fn. The pool is torn down when fn returns.
func (a *app) withPool(ctx context.Context, fn func(p *pool.Pool) error) (err error) {
	factory := a.factory
	if factory == nil {
		factory, err = registry.New(a.cfg.Driver.Family, a.driverOptions(), a.logger)
		if err != nil {
			return err
		}
	}

	p := pool.New(factory, a.logger.Named("pool"))
	stop := p.RegisterShutdownHook(ctx)
	defer func() {
		stop()
		if a.factory == nil {
			err = errors.Join(err, registry.ClosePersistent())
		}
		_ = a.logger.Sync()
	}()

	return fn(p)
}

func (a *app) gatewayConfig(db int) gateway.Config {
	cfg := gateway.FromRedisConfig(a.cfg.Redis)
	cfg.Database = db
	return cfg
}

func (a *app) gatewayOptions() []gateway.Option {
	return []gateway.Option{gateway.WithProbeInterval(a.cfg.Gateway.ProbeInterval)}
}

func (a *app) newGateway(ctx context.Context, p *pool.Pool, cfg gateway.Config) (*gateway.Gateway, error) {
	g, err := gateway.New(ctx, p, cfg, a.logger.Named("gateway"), a.gatewayOptions()...)
	if err != nil {
		return nil, fmt.Errorf("open gateway on database %d: %w", cfg.Database, err)
	}
	return g, nil
}
