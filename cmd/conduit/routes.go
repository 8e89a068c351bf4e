package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Alwanly/conduit/internal/config"
	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/internal/routes"
	"github.com/Alwanly/conduit/pkg/logger"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Work with route definition files",
}

var routesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse a routes file and resolve every static endpoint without starting anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutesValidate,
}

func init() {
	routesCmd.AddCommand(routesValidateCmd)
}

func runRoutesValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	defs, err := routes.Load(args[0])
	if err != nil {
		return err
	}

	c, err := newRuntime(cfg, logger.NewNop())
	if err != nil {
		return err
	}
	if err := routes.Validate(c, defs); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, def := range defs {
		fmt.Fprintf(out, "%s\t%s\t%d steps\n", def.ID, core.SanitizeURI(def.From), len(def.Steps))
	}
	fmt.Fprintf(out, "%d routes ok\n", len(defs))
	return nil
}
