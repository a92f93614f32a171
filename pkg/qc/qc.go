// Package qc produces the quality-control outputs: overlap masks and
// statistics, the region takeover analysis comparing each region's
// true size against its size after hierarchical priority enforcement,
// centroid displacement statistics, and the expert review report.
// It is a pure downstream consumer of the finalized volumes and
// registry; nothing here writes back into the core data model.
package qc

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"

	"levtiades/internal/models"
	"levtiades/pkg/combine"
	"levtiades/pkg/labels"
	"levtiades/pkg/volume"
)

// Overlap mask codes, in increasing specificity; the triple overlap
// overwrites the pairwise codes.
const (
	maskFirstSecond = 1
	maskFirstThird  = 2
	maskSecondThird = 3
	maskAllThree    = 4
)

// OverlapMask codes every voxel by which combination of atlases claims
// it: 1..3 for the pairwise combinations in priority order, 4 where
// all three coincide.
func OverlapMask(layers []combine.Layer) (*volume.LabelVolume, error) {
	if len(layers) != 3 {
		return nil, fmt.Errorf("overlap mask requires exactly 3 layers, got %d", len(layers))
	}
	ref := layers[0].Vol
	mask := volume.New(ref.Nx, ref.Ny, ref.Nz, ref.Affine)
	mask.SetHeaderFrom(ref)

	a, b, c := layers[0].Vol, layers[1].Vol, layers[2].Vol
	for idx := range mask.Data {
		av, bv, cv := a.Data[idx] != 0, b.Data[idx] != 0, c.Data[idx] != 0
		switch {
		case av && bv && cv:
			mask.Data[idx] = maskAllThree
		case bv && cv:
			mask.Data[idx] = maskSecondThird
		case av && cv:
			mask.Data[idx] = maskFirstThird
		case av && bv:
			mask.Data[idx] = maskFirstSecond
		}
	}
	return mask, nil
}

// SourceMask returns a binary coverage mask for one layer, scaled to
// the given display intensity.
func SourceMask(l combine.Layer, intensity int32) *volume.LabelVolume {
	out := volume.New(l.Vol.Nx, l.Vol.Ny, l.Vol.Nz, l.Vol.Affine)
	out.SetHeaderFrom(l.Vol)
	for idx, v := range l.Vol.Data {
		if v != 0 {
			out.Data[idx] = intensity
		}
	}
	return out
}

// WriteOverlapStatsCSV writes the overlap statistics as CSV rows of
// (overlap class, voxel count, volume in mm3).
func WriteOverlapStatsCSV(path string, stats combine.OverlapStats, voxelMM3 float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create overlap statistics: %v", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "overlap_type,voxel_count,volume_mm3")
	keys := make([]string, 0, len(stats.Pairs))
	for k := range stats.Pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n := stats.Pairs[k]
		fmt.Fprintf(f, "%s,%d,%.1f\n", k, n, float64(n)*voxelMM3)
	}
	fmt.Fprintf(f, "all_three,%d,%.1f\n", stats.AllThree, float64(stats.AllThree)*voxelMM3)
	return nil
}

// RegionChange compares one region between its individual aligned
// atlas (the true size) and the hierarchical volume.
type RegionChange struct {
	Label  int
	Name   string
	Source models.Source

	OrigVoxels  int
	FinalVoxels int

	// Dominant takeover region, when voxels were lost. Zero label
	// means nothing identifiable took them over.
	TakeoverLabel  int
	TakeoverName   string
	TakeoverSource models.Source

	OrigCentroidWorld  [3]float64
	FinalCentroidWorld [3]float64

	// CentroidShiftMM is NaN when the region vanished entirely.
	CentroidShiftMM float64
}

// Changed reports whether hierarchical combination altered the region.
func (c RegionChange) Changed() bool {
	return c.OrigVoxels != c.FinalVoxels
}

// AnalyzeRegionChanges computes, for every region present in its
// individual aligned atlas, its original and final voxel counts,
// centroids of both, and the dominant region that took over any lost
// voxels. Regions are resolved through the offset mapping only.
func AnalyzeRegionChanges(layers []combine.Layer, hier *volume.LabelVolume, mapping *labels.OffsetMapping, regions []models.Region) ([]RegionChange, error) {
	byLabel := make(map[int]models.Region, len(regions))
	for _, r := range regions {
		byLabel[r.Label] = r
	}
	vols := make(map[models.Source]*volume.LabelVolume, len(layers))
	for _, l := range layers {
		vols[l.Source] = l.Vol
	}

	var changes []RegionChange
	for final := 1; final <= mapping.Total(); final++ {
		src, local, err := mapping.Invert(final)
		if err != nil {
			return nil, err
		}
		orig := vols[src]
		if orig == nil {
			return nil, fmt.Errorf("no aligned volume for source %s", src)
		}

		origCount, origCentroid := maskStats(orig, int32(local))
		if origCount == 0 {
			// Region absent from its own aligned atlas; nothing to compare.
			continue
		}
		finalCount, finalCentroid := maskStats(hier, int32(final))

		ch := RegionChange{
			Label:           final,
			Name:            byLabel[final].Name,
			Source:          src,
			OrigVoxels:      origCount,
			FinalVoxels:     finalCount,
			CentroidShiftMM: math.NaN(),
		}
		ch.OrigCentroidWorld = orig.VoxelToWorld(origCentroid[0], origCentroid[1], origCentroid[2])
		if finalCount > 0 {
			ch.FinalCentroidWorld = hier.VoxelToWorld(finalCentroid[0], finalCentroid[1], finalCentroid[2])
			dx := ch.FinalCentroidWorld[0] - ch.OrigCentroidWorld[0]
			dy := ch.FinalCentroidWorld[1] - ch.OrigCentroidWorld[1]
			dz := ch.FinalCentroidWorld[2] - ch.OrigCentroidWorld[2]
			ch.CentroidShiftMM = math.Sqrt(dx*dx + dy*dy + dz*dz)
		}

		if finalCount < origCount {
			tl := dominantTakeover(orig, hier, int32(local), int32(final))
			if tl != 0 {
				ch.TakeoverLabel = int(tl)
				if reg, ok := byLabel[int(tl)]; ok {
					ch.TakeoverName = reg.Name
					ch.TakeoverSource = reg.Source
				}
			}
		}
		changes = append(changes, ch)
	}
	return changes, nil
}

// maskStats returns the voxel count and mean voxel-index centroid of a
// label in a volume.
func maskStats(vol *volume.LabelVolume, label int32) (int, [3]float64) {
	count := 0
	var sum [3]float64
	for k := 0; k < vol.Nz; k++ {
		for j := 0; j < vol.Ny; j++ {
			for i := 0; i < vol.Nx; i++ {
				if vol.At(i, j, k) == label {
					count++
					sum[0] += float64(i)
					sum[1] += float64(j)
					sum[2] += float64(k)
				}
			}
		}
	}
	if count == 0 {
		return 0, [3]float64{}
	}
	n := float64(count)
	return count, [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
}

// dominantTakeover finds the most common non-zero label occupying the
// voxels the region lost between its aligned atlas and the
// hierarchical volume.
func dominantTakeover(orig, hier *volume.LabelVolume, local, final int32) int32 {
	counts := make(map[int32]int)
	for idx := range orig.Data {
		if orig.Data[idx] == local && hier.Data[idx] != final && hier.Data[idx] != 0 {
			counts[hier.Data[idx]]++
		}
	}
	var best int32
	bestN := 0
	for l, n := range counts {
		if n > bestN || (n == bestN && l < best) {
			best, bestN = l, n
		}
	}
	return best
}

// DisplacementSummary aggregates centroid shifts across all regions
// that survived into the hierarchical volume.
type DisplacementSummary struct {
	Regions  int
	MeanMM   float64
	StdMM    float64
	MedianMM float64
	MaxMM    float64
	Q95MM    float64
	Under1mm int
	Under2mm int
}

// SummarizeDisplacements computes summary statistics of the centroid
// shifts with gonum. Regions whose shift is undefined (vanished
// regions) are skipped.
func SummarizeDisplacements(changes []RegionChange) DisplacementSummary {
	var d []float64
	for _, c := range changes {
		if !math.IsNaN(c.CentroidShiftMM) {
			d = append(d, c.CentroidShiftMM)
		}
	}
	s := DisplacementSummary{Regions: len(d)}
	if len(d) == 0 {
		return s
	}
	sort.Float64s(d)
	s.MeanMM = stat.Mean(d, nil)
	s.StdMM = stat.StdDev(d, nil)
	s.MedianMM = stat.Quantile(0.5, stat.Empirical, d, nil)
	s.Q95MM = stat.Quantile(0.95, stat.Empirical, d, nil)
	s.MaxMM = d[len(d)-1]
	for _, v := range d {
		if v < 1.0 {
			s.Under1mm++
		}
		if v < 2.0 {
			s.Under2mm++
		}
	}
	return s
}
