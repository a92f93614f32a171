package qc

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"levtiades/internal/models"
	"levtiades/pkg/combine"
	"levtiades/pkg/labels"
)

// WriteTakeoverReport writes the region takeover analysis: every
// region that lost voxels to a higher-priority atlas, ordered by loss,
// with the dominant takeover region and the centroid shift.
func WriteTakeoverReport(path string, changes []RegionChange, totalRegions int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create takeover report: %v", err)
	}
	defer f.Close()

	var lost []RegionChange
	for _, c := range changes {
		if c.FinalVoxels < c.OrigVoxels {
			lost = append(lost, c)
		}
	}
	sort.Slice(lost, func(i, j int) bool {
		return lost[i].OrigVoxels-lost[i].FinalVoxels > lost[j].OrigVoxels-lost[j].FinalVoxels
	})

	fmt.Fprintln(f, "# region takeover analysis: original vs hierarchical")
	fmt.Fprintln(f, "# original voxels = region's true size from its individual aligned atlas")
	fmt.Fprintln(f, "# final voxels = region's size after hierarchical priority enforcement")
	fmt.Fprintf(f, "\ntotal regions analyzed: %d\n", totalRegions)
	fmt.Fprintf(f, "regions that lost voxels: %d\n", len(lost))
	fmt.Fprintf(f, "regions unchanged: %d\n", totalRegions-len(lost))
	fmt.Fprintln(f, "note: regions can only lose voxels to higher-priority atlases, never gain")

	fmt.Fprintf(f, "\n%s\n", divider)
	fmt.Fprintln(f, "regions that LOST VOXELS (taken over by higher priority regions)")
	fmt.Fprintf(f, "%s\n\n", divider)

	for _, c := range lost {
		lostVox := c.OrigVoxels - c.FinalVoxels
		pct := 100 * float64(lostVox) / float64(c.OrigVoxels)
		fmt.Fprintf(f, "label %d: %s [%s]\n", c.Label, c.Name, c.Source)
		fmt.Fprintf(f, "  original voxels: %d\n", c.OrigVoxels)
		fmt.Fprintf(f, "  final voxels: %d\n", c.FinalVoxels)
		fmt.Fprintf(f, "  voxels lost: %d (%.2f%%)\n", lostVox, pct)
		if c.TakeoverLabel != 0 {
			fmt.Fprintf(f, "  taken over by: label %d: %s [%s]\n", c.TakeoverLabel, c.TakeoverName, c.TakeoverSource)
		}
		fmt.Fprintf(f, "  original centroid: x=%.2f y=%.2f z=%.2f\n",
			c.OrigCentroidWorld[0], c.OrigCentroidWorld[1], c.OrigCentroidWorld[2])
		if !math.IsNaN(c.CentroidShiftMM) {
			fmt.Fprintf(f, "  final centroid: x=%.2f y=%.2f z=%.2f\n",
				c.FinalCentroidWorld[0], c.FinalCentroidWorld[1], c.FinalCentroidWorld[2])
			fmt.Fprintf(f, "  centroid shift: %.2f mm\n", c.CentroidShiftMM)
		}
		fmt.Fprintln(f)
	}
	return nil
}

var divider = strings.Repeat("=", 100)

// WriteCentroidStatsCSV writes per-region centroid displacements for
// downstream plotting, followed by the summary CSV.
func WriteCentroidStatsCSV(path string, changes []RegionChange) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create centroid statistics: %v", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "label,name,source,distance_mm")
	for _, c := range changes {
		if math.IsNaN(c.CentroidShiftMM) {
			continue
		}
		fmt.Fprintf(f, "%d,%s,%s,%.3f\n", c.Label, c.Name, c.Source, c.CentroidShiftMM)
	}
	return nil
}

// WriteReviewReport writes the markdown report an expert reviewer
// reads first: combination parameters, overlap totals, final
// composition percentages, and centroid displacement statistics.
func WriteReviewReport(path string, targetSpace string, targetRes float64,
	overlaps combine.OverlapStats, takeovers *combine.TakeoverStats,
	mapping *labels.OffsetMapping, disp DisplacementSummary) error {

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create review report: %v", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# Levtiades Atlas - Review Report")
	fmt.Fprintln(f, "\n## Target Template")
	fmt.Fprintf(f, "- %s, %.0f mm\n", targetSpace, targetRes)

	fmt.Fprintln(f, "\n## Label Ranges")
	for _, src := range models.PriorityOrder {
		r := mapping.SourceRange(src)
		fmt.Fprintf(f, "- %s: %d-%d (%d regions)\n", src, r.Start, r.End, r.Count())
	}
	fmt.Fprintf(f, "- Total: %d regions\n", mapping.Total())

	fmt.Fprintln(f, "\n## Overlap (pre-hierarchy)")
	keys := make([]string, 0, len(overlaps.Pairs))
	for k := range overlaps.Pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(f, "- %s: %d voxels\n", k, overlaps.Pairs[k])
	}
	fmt.Fprintf(f, "- all three: %d voxels\n", overlaps.AllThree)

	fmt.Fprintln(f, "\n## Final Composition (hierarchical)")
	total := takeovers.TotalVoxels
	if total == 0 {
		total = 1
	}
	for _, src := range models.PriorityOrder {
		n := takeovers.FinalVoxels[src]
		fmt.Fprintf(f, "- %s voxels: %d (%.2f%%)\n", src, n, 100*float64(n)/float64(total))
	}

	fmt.Fprintln(f, "\n## Centroid Displacement")
	fmt.Fprintf(f, "- regions with defined shift: %d\n", disp.Regions)
	fmt.Fprintf(f, "- mean: %.3f mm (std %.3f)\n", disp.MeanMM, disp.StdMM)
	fmt.Fprintf(f, "- median: %.3f mm, 95th percentile: %.3f mm, max: %.3f mm\n",
		disp.MedianMM, disp.Q95MM, disp.MaxMM)
	if disp.Regions > 0 {
		fmt.Fprintf(f, "- under 1mm: %d (%.1f%%), under 2mm: %d (%.1f%%)\n",
			disp.Under1mm, 100*float64(disp.Under1mm)/float64(disp.Regions),
			disp.Under2mm, 100*float64(disp.Under2mm)/float64(disp.Regions))
	}

	fmt.Fprintln(f, "\n## Review Checklist")
	fmt.Fprintln(f, "- [ ] Registration quality: inspect registration_qc images for anatomical plausibility")
	fmt.Fprintln(f, "- [ ] Overlap patterns: overlaps should sit at anatomical boundaries")
	fmt.Fprintln(f, "- [ ] Centroid accuracy: expect >95% of regions under 2mm displacement")
	fmt.Fprintln(f, "- [ ] Hierarchical priority: brainstem nuclei must take precedence at contested voxels")
	return nil
}
