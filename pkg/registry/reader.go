package registry

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"levtiades/internal/models"
)

// ReadCSV loads a region registry previously written by WriteCSV. The
// QC stage uses this to analyze a finished atlas without re-running the
// pipeline.
func ReadCSV(path string) ([]models.Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("registry CSV not found: %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry CSV: %v", err)
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("registry CSV %s is empty", path)
	}

	regions := make([]models.Region, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) != 15 {
			return nil, fmt.Errorf("registry CSV row has %d fields, expected 15", len(row))
		}
		label, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("invalid label index %q: %v", row[0], err)
		}
		reg := models.Region{
			Label:      label,
			Name:       row[1],
			Source:     models.Source(row[2]),
			Hemisphere: models.Hemisphere(row[3]),
			Category:   row[4],
		}
		reg.Color.R = parseChannel(row[5])
		reg.Color.G = parseChannel(row[6])
		reg.Color.B = parseChannel(row[7])
		for i := 0; i < 3; i++ {
			reg.CentroidVox[i] = parseCoord(row[8+i])
			reg.CentroidWorld[i] = parseCoord(row[11+i])
		}
		if reg.VoxelCount, err = strconv.Atoi(row[14]); err != nil {
			return nil, fmt.Errorf("invalid voxel count %q: %v", row[14], err)
		}
		regions = append(regions, reg)
	}
	return regions, nil
}

func parseChannel(s string) uint8 {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > 255 {
		return 0
	}
	return uint8(v)
}

func parseCoord(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
