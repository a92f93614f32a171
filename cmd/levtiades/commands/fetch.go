package commands

import (
	"github.com/spf13/cobra"

	"levtiades/internal/printer"
	"levtiades/pkg/fetch"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download missing source atlases and verify all inputs",
	Long: `Fetch downloads the cortical atlas files when they are absent from
disk and then verifies that every configured source file exists.

The brainstem and subcortical atlases must be obtained manually (their
licenses require registration); fetch reports exactly which files are
missing.`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("Failed to load configuration", err.Error(), nil)
	}

	printer.Step("Fetching cortical atlas\n")
	if err := fetch.EnsureCortical(cmd.Context(), cfg); err != nil {
		return printer.Error("Cortical atlas download failed", err.Error(), []string{
			"Check network connectivity",
			"Place the files manually at the configured sourceImage/sourceLabels paths",
		})
	}

	printer.Step("Verifying source files\n")
	if err := fetch.VerifySources(cfg); err != nil {
		return printer.Error("Source verification failed", err.Error(), []string{
			"Download the missing atlas distribution and unpack it under downloaded_atlases/",
			"Adjust the source paths in " + configPath,
		})
	}

	printer.Success("All source atlases present\n")
	return nil
}
