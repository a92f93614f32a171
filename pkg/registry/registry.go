// Package registry builds the region registry of the combined atlas:
// one descriptor per region with name, source, hemisphere, category,
// display color, voxel count and centroids, and writes the tabular and
// text outputs (CSV registry, labels file, color lookup table).
package registry

import (
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"

	"levtiades/internal/models"
	"levtiades/pkg/labels"
	"levtiades/pkg/volume"
)

// Build assembles the full region registry from the finalized
// hierarchical volume. Labels are resolved strictly through the offset
// mapping; raw original indices never reach this path. Regions that
// lost every voxel to higher-priority atlases stay in the registry
// with NaN centroids and a warning.
func Build(vol *volume.LabelVolume, mapping *labels.OffsetMapping, names map[models.Source]map[int]string) ([]models.Region, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	counts := make(map[int32]int)
	sums := make(map[int32][3]float64)
	for k := 0; k < vol.Nz; k++ {
		for j := 0; j < vol.Ny; j++ {
			for i := 0; i < vol.Nx; i++ {
				l := vol.At(i, j, k)
				if l == 0 {
					continue
				}
				counts[l]++
				s := sums[l]
				s[0] += float64(i)
				s[1] += float64(j)
				s[2] += float64(k)
				sums[l] = s
			}
		}
	}

	regions := make([]models.Region, 0, mapping.Total())
	for final := 1; final <= mapping.Total(); final++ {
		src, local, err := mapping.Invert(final)
		if err != nil {
			return nil, err
		}
		name, ok := names[src][local]
		if !ok {
			return nil, fmt.Errorf("no name for %s region %d (final label %d)", src, local, final)
		}

		reg := models.Region{
			Label:      final,
			Name:       name,
			Source:     src,
			Hemisphere: DetectHemisphere(name),
			Category:   Categorize(name, src),
			Color:      ColorFor(src, local),
			VoxelCount: counts[int32(final)],
		}

		if reg.VoxelCount > 0 {
			s := sums[int32(final)]
			n := float64(reg.VoxelCount)
			reg.CentroidVox = [3]float64{s[0] / n, s[1] / n, s[2] / n}
			reg.CentroidWorld = vol.VoxelToWorld(reg.CentroidVox[0], reg.CentroidVox[1], reg.CentroidVox[2])
		} else {
			nan := math.NaN()
			reg.CentroidVox = [3]float64{nan, nan, nan}
			reg.CentroidWorld = [3]float64{nan, nan, nan}
			log.WithFields(log.Fields{
				"label":  final,
				"name":   name,
				"source": src,
			}).Warn("region has no voxels in final volume, centroid undefined")
		}
		regions = append(regions, reg)
	}
	return regions, nil
}

// DetectHemisphere classifies a region by its name. Source label files
// use either a "L "/"R " prefix or a "-lh"/"-rh" suffix convention;
// anything else is bilateral.
func DetectHemisphere(name string) models.Hemisphere {
	n := strings.ToLower(name)
	switch {
	case strings.HasPrefix(n, "l ") || strings.HasSuffix(n, "-lh"):
		return models.Left
	case strings.HasPrefix(n, "r ") || strings.HasSuffix(n, "-rh"):
		return models.Right
	default:
		return models.Bilateral
	}
}

// Categorize assigns the anatomical category from the region name and
// its source atlas.
func Categorize(name string, src models.Source) string {
	n := strings.ToLower(name)

	switch src {
	case models.Brainstem:
		return "brainstem"

	case models.Subcortical:
		switch {
		case strings.Contains(n, "hip"):
			return "hippocampus"
		case strings.Contains(n, "tha"):
			return "thalamus"
		case strings.Contains(n, "put"):
			return "putamen"
		case strings.Contains(n, "cau"):
			return "caudate"
		case strings.Contains(n, "amy"):
			return "amygdala"
		case strings.Contains(n, "nac"):
			return "nucleus_accumbens"
		case strings.Contains(n, "gp"):
			return "globus_pallidus"
		default:
			return "subcortical"
		}

	case models.Cortical:
		switch {
		case strings.Contains(n, "g_") || strings.Contains(n, "gyrus"):
			return "cortical_gyrus"
		case strings.Contains(n, "s_") || strings.Contains(n, "sulcus"):
			return "cortical_sulcus"
		case strings.Contains(n, "fis"):
			return "cortical_fissure"
		case strings.Contains(n, "pole"):
			return "cortical_pole"
		default:
			return "cortical"
		}
	}
	return "other"
}

// ColorFor deterministically assigns a display color: red hues for
// brainstem regions, green for subcortical, blue for cortical, varied
// within each band by the region's ordinal in its source atlas.
func ColorFor(src models.Source, local int) models.RGB {
	var r, g, b int
	switch src {
	case models.Brainstem:
		r = 200 + local*10
		g = 50 + local*20
		b = 50
	case models.Subcortical:
		r = 50
		g = 150 + (local%10)*10
		b = 100 + (local%5)*20
	default:
		r = 100 + (local%5)*20
		g = 100 + (local%10)*10
		b = 200 + (local%3)*20
	}
	return models.RGB{R: clamp8(r), G: clamp8(g), B: clamp8(b)}
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
