package commands

import (
	"github.com/spf13/cobra"

	"levtiades/internal/printer"
	"levtiades/pkg/config"
	"levtiades/pkg/fetch"
)

var initConfig bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the project tree and stage the source atlases",
	Long: `Setup creates the project directory structure under the configured
base dir, copies the subcortical and cortical source files into it,
verifies that the staged atlases are mutually compatible and writes an
atlas info summary.

Use --init-config to write a default configuration file first.`,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().BoolVar(&initConfig, "init-config", false,
		"Write a default configuration file at the --config path before setup")
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	if initConfig {
		if err := config.CreateDefaultConfigFile(configPath); err != nil {
			return printer.Error("Failed to write default configuration", err.Error(), nil)
		}
		printer.Success("Wrote default configuration to %s\n", configPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("Failed to load configuration", err.Error(), nil)
	}

	printer.Step("Verifying source files\n")
	if err := fetch.VerifySources(cfg); err != nil {
		return printer.Error("Source verification failed", err.Error(), []string{
			"Run 'levtiades fetch' first",
		})
	}

	printer.Step("Creating project tree under %s\n", cfg.Output.BaseDir)
	if err := fetch.SetupProject(cfg); err != nil {
		return printer.Error("Project setup failed", err.Error(), nil)
	}

	printer.Success("Project ready: %s\n", cfg.Output.BaseDir)
	printer.Info("\nNext steps:\n")
	printer.Info("  • Build the atlas: levtiades build -c %s\n", configPath)
	printer.Info("  • Generate QC reports afterwards: levtiades qc -c %s\n", configPath)
	return nil
}
