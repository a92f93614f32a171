package registry

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"levtiades/internal/models"
	"levtiades/pkg/labels"
)

// WriteLabelsTxt writes the plain-text label file, one region per
// line: "ID: Region_Name [Source_Atlas] x=.. y=.. z=..", grouped by
// source with the final label range of each group in the section
// header. Physical coordinates use 2 decimal places; regions without a
// centroid omit the coordinate suffix.
func WriteLabelsTxt(path string, regions []models.Region, mapping *labels.OffsetMapping) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create label file: %v", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# Levtiades Atlas Label File")
	fmt.Fprintln(f, "# Format: ID: Region_Name [Source_Atlas] x=XX.XX y=YY.YY z=ZZ.ZZ")
	fmt.Fprintf(f, "# Total regions: %d\n", len(regions))

	var current models.Source
	for _, reg := range regions {
		if reg.Source != current {
			current = reg.Source
			r := mapping.SourceRange(current)
			fmt.Fprintf(f, "\n# %s (%d-%d)\n", current, r.Start, r.End)
		}
		coord := ""
		if reg.HasCentroid() {
			coord = fmt.Sprintf(" x=%.2f y=%.2f z=%.2f",
				reg.CentroidWorld[0], reg.CentroidWorld[1], reg.CentroidWorld[2])
		}
		fmt.Fprintf(f, "%d: %s [%s]%s\n", reg.Label, reg.Name, reg.Source, coord)
	}
	return nil
}

// WriteLUT writes the MRIcroGL-style color lookup table: one
// tab-separated "Index R G B Label" row per region.
func WriteLUT(path string, regions []models.Region) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create lookup table: %v", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# Levtiades Atlas Lookup Table (MRIcroGL)")
	fmt.Fprintln(f, "# Index\tR\tG\tB\tLabel")
	for _, reg := range regions {
		fmt.Fprintf(f, "%d\t%d\t%d\t%d\t%s:%s\n",
			reg.Label, reg.Color.R, reg.Color.G, reg.Color.B, reg.Source, reg.Name)
	}
	return nil
}

// WriteCSV writes the full region registry as CSV. Undefined centroid
// fields are left empty, matching the warning-not-crash policy for
// zero-voxel regions.
func WriteCSV(path string, regions []models.Region) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create registry CSV: %v", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"index", "region_name", "source_atlas", "hemisphere", "anatomical_category",
		"r", "g", "b",
		"centroid_i", "centroid_j", "centroid_k",
		"centroid_x", "centroid_y", "centroid_z",
		"voxel_count",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, reg := range regions {
		row := []string{
			strconv.Itoa(reg.Label),
			reg.Name,
			string(reg.Source),
			string(reg.Hemisphere),
			reg.Category,
			strconv.Itoa(int(reg.Color.R)),
			strconv.Itoa(int(reg.Color.G)),
			strconv.Itoa(int(reg.Color.B)),
			coord(reg.CentroidVox[0]),
			coord(reg.CentroidVox[1]),
			coord(reg.CentroidVox[2]),
			coord(reg.CentroidWorld[0]),
			coord(reg.CentroidWorld[1]),
			coord(reg.CentroidWorld[2]),
			strconv.Itoa(reg.VoxelCount),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// coord formats a centroid component to 2 decimal places, empty when
// undefined.
func coord(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return fmt.Sprintf("%.2f", v)
}
