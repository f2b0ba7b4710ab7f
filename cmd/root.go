// Package cmd is the pgshape command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/koustreak/pgshape/internal/config"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	Debug      bool

	cfg *config.Config
	log *logger.Logger
)

var RootCmd = &cobra.Command{
	Use:   "pgshape",
	Short: "Generate validation schemas from a PostgreSQL catalog",
	Long: `pgshape reads a table's columns from the PostgreSQL catalog, resolves
composite, enum and array types recursively, and produces a validation
schema it uses to normalize rows before they are written.

Commands:
  generate  Print table schemas
  validate  Validate and normalize a JSON row
  serve     Run the HTTP API
  types     List the type names the validator knows

Use "pgshape [command] --help" for more information about a command.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	RootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "Enable debug logging")
	RootCmd.AddCommand(GenerateCmd)
	RootCmd.AddCommand(ValidateCmd)
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(TypesCmd)
}

func setup() error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if Debug {
		loaded.Log.Level = "debug"
	}
	cfg = loaded
	log = logger.New(&cfg.Log)
	logger.SetGlobal(log)
	return nil
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
