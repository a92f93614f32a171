package qc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"levtiades/internal/models"
)

// TestWriteTakeoverReportLossPercent verifies the loss line reports the
// lost voxel count with a positive percentage
func TestWriteTakeoverReportLossPercent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "takeover_report.txt")
	changes := []RegionChange{
		{
			Label:              3,
			Name:               "PAG",
			Source:             models.Brainstem,
			OrigVoxels:         40,
			FinalVoxels:        35,
			OrigCentroidWorld:  [3]float64{1, 2, 3},
			FinalCentroidWorld: [3]float64{1.5, 2, 3},
			CentroidShiftMM:    0.5,
		},
		{
			Label:       7,
			Name:        "HIP-lh",
			Source:      models.Subcortical,
			OrigVoxels:  10,
			FinalVoxels: 10,
		},
	}

	if err := WriteTakeoverReport(path, changes, len(changes)); err != nil {
		t.Fatalf("WriteTakeoverReport failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	report := string(data)

	if !strings.Contains(report, "voxels lost: 5 (12.50%)") {
		t.Errorf("Expected positive loss percentage, report:\n%s", report)
	}
	if strings.Contains(report, "-12.50%") {
		t.Error("Report carries a negated loss percentage")
	}
	if !strings.Contains(report, "regions that lost voxels: 1") {
		t.Error("Expected exactly one region in the loss section")
	}
}
