package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kvgate/kvgate/pkg/config"
)

// configView adds the env-only password, redacted, to the printed YAML.
type configView struct {
	config.Config `yaml:",inline"`
	RedisPassword string `yaml:"redis_password,omitempty"`
}

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			redacted := a.cfg.Redacted()
			out, err := yaml.Marshal(configView{Config: redacted, RedisPassword: redacted.Redis.Password})
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
