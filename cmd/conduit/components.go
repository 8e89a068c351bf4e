package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Alwanly/conduit/internal/config"
	"github.com/Alwanly/conduit/pkg/logger"
)

var componentsCmd = &cobra.Command{
	Use:   "components",
	Short: "List the component schemes available to routes",
	Args:  cobra.NoArgs,
	RunE:  runComponents,
}

func runComponents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	c, err := newRuntime(cfg, logger.NewNop())
	if err != nil {
		return err
	}
	for _, scheme := range c.Components() {
		fmt.Fprintln(cmd.OutOrStdout(), scheme)
	}
	return nil
}
