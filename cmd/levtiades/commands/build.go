package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"levtiades/internal/models"
	"levtiades/internal/printer"
	"levtiades/pkg/builder"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the atlas construction pipeline",
	Long: `Build runs the full construction pipeline on a project prepared by
setup: brainstem component combination, label harmonization, offset
computation, alignment onto the target grid, hierarchical merging and
metadata generation.

Outputs land under <baseDir>/final_atlas/.`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("Failed to load configuration", err.Error(), nil)
	}

	b := builder.NewBuilder(&builder.Params{Config: cfg})
	if err := b.Process(cmd.Context()); err != nil {
		return printer.Error("Atlas construction failed", err.Error(), []string{
			"Run 'levtiades setup' if the project tree is missing",
			"Check the log output above for the failing step",
		})
	}

	printSummary(b.Summary())
	printer.Success("Atlas built under %s\n", cfg.Output.BaseDir)
	return nil
}

// printSummary renders the per-source composition table.
func printSummary(s *builder.Summary) {
	printer.Println()
	table := tablewriter.NewTable(os.Stdout)
	table.Header("Source", "Labels", "Regions", "Voxels", "Share")

	total := s.Takeovers.TotalVoxels
	if total == 0 {
		total = 1
	}
	for _, src := range models.PriorityOrder {
		r := s.Mapping.SourceRange(src)
		n := s.Takeovers.FinalVoxels[src]
		table.Append(
			string(src),
			fmt.Sprintf("%d-%d", r.Start, r.End),
			fmt.Sprintf("%d", r.Count()),
			fmt.Sprintf("%d", n),
			fmt.Sprintf("%.2f%%", 100*float64(n)/float64(total)),
		)
	}
	table.Render()

	pairs := make([]string, 0, len(s.Overlaps.Pairs))
	for pair := range s.Overlaps.Pairs {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	printer.Printf("\nPre-hierarchy overlaps: ")
	for _, pair := range pairs {
		printer.Printf("%s=%d, ", pair, s.Overlaps.Pairs[pair])
	}
	printer.Printf("all-three=%d\n", s.Overlaps.AllThree)
}
