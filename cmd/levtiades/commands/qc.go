package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"levtiades/internal/models"
	"levtiades/internal/printer"
	"levtiades/pkg/combine"
	"levtiades/pkg/config"
	"levtiades/pkg/labels"
	"levtiades/pkg/qc"
	"levtiades/pkg/registry"
	"levtiades/pkg/volume"
)

var qcCmd = &cobra.Command{
	Use:   "qc",
	Short: "Analyze a finished atlas and write the review reports",
	Long: `QC reloads the products of a finished build and writes the expert
review artifacts: overlap and coverage masks, takeover and centroid
displacement reports, and the markdown review report.

It consumes only files under <baseDir> and never modifies the atlas.`,
	RunE: runQC,
}

func init() {
	rootCmd.AddCommand(qcCmd)
}

// alignedFiles maps each source to its aligned volume, in priority order.
var alignedFiles = []struct {
	src  models.Source
	file string
}{
	{models.Brainstem, "1_brainstem_aligned.nii.gz"},
	{models.Subcortical, "2_subcortical_aligned.nii.gz"},
	{models.Cortical, "3_cortical_aligned.nii.gz"},
}

func runQC(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("Failed to load configuration", err.Error(), nil)
	}

	if err := qcRun(cfg); err != nil {
		return printer.Error("QC analysis failed", err.Error(), []string{
			"Run 'levtiades build' first; qc reads its outputs",
		})
	}
	printer.Success("QC reports written under %s\n", filepath.Join(cfg.Output.BaseDir, "reports"))
	return nil
}

func qcRun(cfg *config.Config) error {
	base := cfg.Output.BaseDir
	reports := filepath.Join(base, "reports")
	if err := os.MkdirAll(reports, 0755); err != nil {
		return err
	}

	printer.Step("Reloading build products\n")
	mapping, err := labels.LoadRanges(filepath.Join(base, "work", "offset_ranges.txt"))
	if err != nil {
		return err
	}
	regions, err := registry.ReadCSV(filepath.Join(base, "final_atlas", "levtiades_atlas.csv"))
	if err != nil {
		return err
	}

	layers := make([]combine.Layer, 0, len(alignedFiles))
	for _, af := range alignedFiles {
		vol, err := volume.Load(filepath.Join(base, "final_atlas", af.file))
		if err != nil {
			return fmt.Errorf("aligned %s volume missing: %v", af.src, err)
		}
		layers = append(layers, combine.Layer{Source: af.src, Vol: vol})
	}
	hier, err := volume.Load(filepath.Join(base, "final_atlas", "no_overlaps",
		"levtiades_no_overlaps_hierarchical.nii.gz"))
	if err != nil {
		return err
	}

	printer.Step("Writing overlap and coverage masks\n")
	mask, err := qc.OverlapMask(layers)
	if err != nil {
		return err
	}
	if err := mask.Save(filepath.Join(reports, "overlap_mask.nii.gz")); err != nil {
		return err
	}
	for i, l := range layers {
		cov := qc.SourceMask(l, int32(i+1))
		name := fmt.Sprintf("coverage_%s.nii.gz", strings.ToLower(string(l.Source)))
		if err := cov.Save(filepath.Join(reports, name)); err != nil {
			return err
		}
	}

	// Overlap and takeover statistics are recomputed from the aligned
	// volumes; the combination itself is deterministic so this matches
	// what build produced.
	_, overlaps, err := combine.WithOverlaps(layers, mapping)
	if err != nil {
		return err
	}
	sizes := hier.VoxelSizes()
	voxelMM3 := sizes[0] * sizes[1] * sizes[2]
	if err := qc.WriteOverlapStatsCSV(filepath.Join(reports, "overlap_stats.csv"), overlaps, voxelMM3); err != nil {
		return err
	}
	_, takeovers, err := combine.Hierarchical(layers, mapping)
	if err != nil {
		return err
	}

	printer.Step("Analyzing per-region changes\n")
	changes, err := qc.AnalyzeRegionChanges(layers, hier, mapping, regions)
	if err != nil {
		return err
	}
	if err := qc.WriteTakeoverReport(filepath.Join(reports, "takeover_report.txt"), changes, len(regions)); err != nil {
		return err
	}
	if err := qc.WriteCentroidStatsCSV(filepath.Join(reports, "centroid_stats.csv"), changes); err != nil {
		return err
	}

	disp := qc.SummarizeDisplacements(changes)
	if err := qc.WriteReviewReport(filepath.Join(reports, "review_report.md"),
		cfg.Target.Space, cfg.Target.Resolution, overlaps, takeovers, mapping, disp); err != nil {
		return err
	}

	printDisplacement(disp)
	if disp.Regions > 0 {
		under2 := 100 * float64(disp.Under2mm) / float64(disp.Regions)
		if under2 < 95 {
			printer.Warning("only %.1f%% of regions shift under 2mm; inspect the registration QC images\n", under2)
		}
	}
	return nil
}

// printDisplacement renders the centroid displacement summary table.
func printDisplacement(d qc.DisplacementSummary) {
	printer.Println()
	table := tablewriter.NewTable(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("regions with shift", fmt.Sprintf("%d", d.Regions))
	table.Append("mean (mm)", fmt.Sprintf("%.3f", d.MeanMM))
	table.Append("std (mm)", fmt.Sprintf("%.3f", d.StdMM))
	table.Append("median (mm)", fmt.Sprintf("%.3f", d.MedianMM))
	table.Append("95th pct (mm)", fmt.Sprintf("%.3f", d.Q95MM))
	table.Append("max (mm)", fmt.Sprintf("%.3f", d.MaxMM))
	table.Append("under 1mm", fmt.Sprintf("%d", d.Under1mm))
	table.Append("under 2mm", fmt.Sprintf("%d", d.Under2mm))
	table.Render()
}
