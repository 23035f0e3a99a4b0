package main

import (
	"fmt"
	"os"

	"library-console/config"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	verbose   bool
	serverURL string
	force     bool
)

var rootCmd = &cobra.Command{
	Use:   "library-console",
	Short: "Interactive console for the library management backend",
	Long: `library-console logs in to a library backend and keeps a live view of
the catalog, your borrowed books and, for admins, the user and approval
queues. Every change re-fetches the affected lists from the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runShell(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the console configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgFile); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
		}
		cfg := config.DefaultConfig()
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.Save(cfgFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfgFile)
		return nil
	},
}

// loadConfig applies flags on top of file and environment settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests and failures to stderr")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "backend URL (overrides server_url)")
	configInitCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	exitOnError(rootCmd.Execute())
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
