// Package cli provides the command-line interface for phosflow.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/photonlab/phosflow/internal/batch"
	"github.com/photonlab/phosflow/internal/config"
	"github.com/photonlab/phosflow/internal/logging"
	"github.com/photonlab/phosflow/internal/store"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// Global logger
	logger *logging.Logger
)

// Version information - set by main package at startup
var (
	Version   = "v1.2.0-dev"
	BuildTime = "2026-08-29"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "phosflow",
		Short: "PhosFlow - batch controller for phosphorescence rate pipelines",
		Long: `PhosFlow ` + Version + ` - Built: ` + BuildTime + `
Drives each molecule through the Gaussian/ORCA/MOMAP photophysics
pipeline on a Slurm cluster, bounded by a global concurrency cap, and
records progress in a CSV status report.

Drop .xyz structure files into the source directory and run:

  phosflow run            # continuous scheduling loop
  phosflow once           # a single scheduling pass
  phosflow status         # print the status report`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultLogger()
			if verbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = Version + " (" + BuildTime + ")"

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newOnceCmd())
	rootCmd.AddCommand(newStatusCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduling loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			controller, err := batch.New(cfg, logger)
			if err != nil {
				return err
			}

			// Set up signal handling
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			go func() {
				sig := <-sigChan
				logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
				cancel()
			}()

			if err := controller.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single scheduling pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			controller, err := batch.New(cfg, logger)
			if err != nil {
				return err
			}
			controller.RunCycle(context.Background())
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the status report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db := store.New(cfg.StatusFile)
			if err := db.Load(); err != nil {
				return err
			}
			if db.Len() == 0 {
				fmt.Println("No molecules recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATUS\tSTAGE\tLAST UPDATED\tREMARK")
			for _, rec := range db.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.Name, rec.Status, rec.CurrentStage, rec.LastUpdated, rec.Remark)
			}
			return w.Flush()
		},
	}
}
