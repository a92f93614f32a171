package align

import (
	"testing"

	"levtiades/pkg/volume"
)

var identityAffine = [4][4]float64{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
	{0, 0, 0, 1},
}

// TestResampleIdentity verifies that resampling onto the source's own
// grid reproduces the volume exactly
func TestResampleIdentity(t *testing.T) {
	src := volume.New(6, 6, 6, identityAffine)
	src.Set(1, 2, 3, 4)
	src.Set(5, 5, 5, 9)

	out, err := ResampleNearest(src, Grid{Nx: 6, Ny: 6, Nz: 6, Affine: identityAffine})
	if err != nil {
		t.Fatalf("ResampleNearest failed: %v", err)
	}
	for idx := range src.Data {
		if out.Data[idx] != src.Data[idx] {
			t.Fatalf("Identity resampling changed voxel %d: %d -> %d", idx, src.Data[idx], out.Data[idx])
		}
	}
}

// TestResampleTranslation verifies that a world-space offset between
// grids moves labels to the matching voxel
func TestResampleTranslation(t *testing.T) {
	src := volume.New(6, 6, 6, identityAffine)
	src.Set(3, 3, 3, 7)

	// Target grid shifted +2mm along x: target voxel 1 sits at world
	// x=3, which is source voxel 3.
	shifted := identityAffine
	shifted[0][3] = 2
	out, err := ResampleNearest(src, Grid{Nx: 6, Ny: 6, Nz: 6, Affine: shifted})
	if err != nil {
		t.Fatalf("ResampleNearest failed: %v", err)
	}

	if got := out.At(1, 3, 3); got != 7 {
		t.Errorf("Expected label 7 at shifted voxel (1,3,3), got %d", got)
	}
	if out.CountNonzero() != 1 {
		t.Errorf("Expected exactly 1 labeled voxel, got %d", out.CountNonzero())
	}
}

// TestResampleOutOfBounds verifies positions beyond the source grid
// become background instead of clamping
func TestResampleOutOfBounds(t *testing.T) {
	src := volume.New(3, 3, 3, identityAffine)
	for idx := range src.Data {
		src.Data[idx] = 5
	}

	out, err := ResampleNearest(src, Grid{Nx: 5, Ny: 5, Nz: 5, Affine: identityAffine})
	if err != nil {
		t.Fatalf("ResampleNearest failed: %v", err)
	}
	if got := out.At(4, 4, 4); got != 0 {
		t.Errorf("Voxel beyond the source grid should be background, got %d", got)
	}
	if out.CountNonzero() != 27 {
		t.Errorf("Expected 27 labeled voxels, got %d", out.CountNonzero())
	}
}

// TestResampleNeverInventsLabels verifies the nearest-neighbor output
// contains only labels present in the source
func TestResampleNeverInventsLabels(t *testing.T) {
	src := volume.New(4, 4, 4, identityAffine)
	src.Set(0, 0, 0, 2)
	src.Set(1, 1, 1, 8)

	// Half-voxel offset forces every target position between source
	// voxel centers; rounding must still pick an existing label.
	half := identityAffine
	half[0][3], half[1][3], half[2][3] = 0.5, 0.5, 0.5
	out, err := ResampleNearest(src, Grid{Nx: 4, Ny: 4, Nz: 4, Affine: half})
	if err != nil {
		t.Fatalf("ResampleNearest failed: %v", err)
	}

	allowed := map[int32]bool{0: true, 2: true, 8: true}
	for idx, v := range out.Data {
		if !allowed[v] {
			t.Fatalf("Resampling invented label %d at voxel %d", v, idx)
		}
	}
}

// TestResampleSingularAffine verifies the failure mode for a
// non-invertible source affine
func TestResampleSingularAffine(t *testing.T) {
	var singular [4][4]float64
	src := volume.New(2, 2, 2, singular)
	if _, err := ResampleNearest(src, Grid{Nx: 2, Ny: 2, Nz: 2, Affine: identityAffine}); err == nil {
		t.Error("Expected error for singular source affine")
	}
}
