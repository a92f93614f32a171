package visualization

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"levtiades/internal/models"
	"levtiades/pkg/volume"
)

var testAffine = [4][4]float64{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
	{0, 0, 0, 1},
}

func testViewer(t *testing.T) *Viewer {
	t.Helper()
	vol := volume.New(8, 8, 4, testAffine)
	vol.Set(2, 3, 1, 1)
	vol.Set(4, 4, 1, 99) // no registry entry

	regions := []models.Region{
		{Label: 1, Name: "Locus_Coeruleus_LC", Source: models.Brainstem,
			Color: models.RGB{R: 210, G: 70, B: 50}},
	}
	return NewViewer(vol, regions)
}

// TestExtractAxialSlice verifies colors from the lookup table, black
// background and the mid-gray fallback for unknown labels
func TestExtractAxialSlice(t *testing.T) {
	v := testViewer(t)

	img, err := v.ExtractAxialSlice(1)
	if err != nil {
		t.Fatalf("ExtractAxialSlice failed: %v", err)
	}

	r, g, b, _ := img.At(2, 3).RGBA()
	if uint8(r>>8) != 210 || uint8(g>>8) != 70 || uint8(b>>8) != 50 {
		t.Errorf("Labeled voxel rendered wrong color: %d %d %d", r>>8, g>>8, b>>8)
	}

	r, g, b, _ = img.At(0, 0).RGBA()
	if r != 0 || g != 0 || b != 0 {
		t.Error("Background voxel should render black")
	}

	r, g, b, _ = img.At(4, 4).RGBA()
	if uint8(r>>8) != 128 || uint8(g>>8) != 128 || uint8(b>>8) != 128 {
		t.Errorf("Unknown label should render mid-gray, got %d %d %d", r>>8, g>>8, b>>8)
	}
}

// TestExtractAxialSliceBounds verifies the out-of-range failure mode
func TestExtractAxialSliceBounds(t *testing.T) {
	v := testViewer(t)
	if _, err := v.ExtractAxialSlice(4); err == nil {
		t.Error("Expected error for slice beyond depth")
	}
	if _, err := v.ExtractAxialSlice(-1); err == nil {
		t.Error("Expected error for negative slice")
	}
}

// TestExtractMaskSlice verifies the binary coverage rendering
func TestExtractMaskSlice(t *testing.T) {
	v := testViewer(t)

	img, err := v.ExtractMaskSlice(1)
	if err != nil {
		t.Fatalf("ExtractMaskSlice failed: %v", err)
	}
	if img.At(2, 3) != (color.Gray{Y: 255}) {
		t.Error("Labeled voxel should be white in the mask")
	}
	if img.At(0, 0) != (color.Gray{Y: 0}) {
		t.Error("Background voxel should be black in the mask")
	}
}

// TestSaveRegistrationQC verifies image files land in the output dir
func TestSaveRegistrationQC(t *testing.T) {
	v := testViewer(t)
	dir := filepath.Join(t.TempDir(), "qc")

	if err := v.SaveRegistrationQC("test", dir); err != nil {
		t.Fatalf("SaveRegistrationQC failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read QC dir: %v", err)
	}
	// Depth 4: only the mid-plane slice (k=2) is in range, rendered as
	// label and mask images
	if len(entries) != 2 {
		t.Errorf("Expected 2 QC images, got %d", len(entries))
	}
}
