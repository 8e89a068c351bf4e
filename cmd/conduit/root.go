package main

import (
	"github.com/spf13/cobra"

	"github.com/Alwanly/conduit/internal/config"
	"github.com/Alwanly/conduit/internal/engine"
	"github.com/Alwanly/conduit/internal/registry"
	"github.com/Alwanly/conduit/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "conduit",
	Short:        "Route messages between endpoints declared in a YAML file",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: conduit.yaml in ., ./config or /etc/conduit)")
	rootCmd.AddCommand(runCmd, routesCmd, componentsCmd)
}

// newRuntime builds an engine with every bundled component registered.
func newRuntime(cfg *config.Config, log *logger.CanonicalLogger) (*engine.Context, error) {
	c := engine.New(engine.WithLogger(log))
	if err := registry.Register(cfg, c); err != nil {
		return nil, err
	}
	return c, nil
}
