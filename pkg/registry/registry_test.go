package registry

import (
	"math"
	"path/filepath"
	"testing"

	"levtiades/internal/models"
	"levtiades/pkg/labels"
	"levtiades/pkg/volume"
)

var testAffine = [4][4]float64{
	{2, 0, 0, -10},
	{0, 2, 0, -10},
	{0, 0, 2, -10},
	{0, 0, 0, 1},
}

// testRegistryInputs builds a tiny combined volume with one region per
// source plus one vanished cortical region
func testRegistryInputs(t *testing.T) (*volume.LabelVolume, *labels.OffsetMapping, map[models.Source]map[int]string) {
	t.Helper()

	mapping, err := labels.BuildOffsetMapping(models.PriorityOrder, map[models.Source]int{
		models.Brainstem:   1,
		models.Subcortical: 1,
		models.Cortical:    2,
	})
	if err != nil {
		t.Fatalf("BuildOffsetMapping failed: %v", err)
	}

	vol := volume.New(8, 8, 8, testAffine)
	vol.Set(1, 1, 1, 1) // brainstem
	vol.Set(3, 1, 1, 1)
	vol.Set(4, 4, 4, 2) // subcortical
	vol.Set(6, 6, 6, 3) // cortical region 1; region 2 (label 4) has no voxels

	names := map[models.Source]map[int]string{
		models.Brainstem:   {1: "Locus_Coeruleus_LC"},
		models.Subcortical: {1: "HIP-head-lh"},
		models.Cortical:    {1: "G_precentral-rh", 2: "S_central-lh"},
	}
	return vol, mapping, names
}

// TestBuildRegistry verifies counts, centroids and per-source metadata
func TestBuildRegistry(t *testing.T) {
	vol, mapping, names := testRegistryInputs(t)

	regions, err := Build(vol, mapping, names)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(regions) != 4 {
		t.Fatalf("Expected 4 regions, got %d", len(regions))
	}

	bs := regions[0]
	if bs.Label != 1 || bs.Source != models.Brainstem {
		t.Errorf("First region should be brainstem label 1, got %+v", bs)
	}
	if bs.VoxelCount != 2 {
		t.Errorf("Brainstem voxel count: expected 2, got %d", bs.VoxelCount)
	}
	// Centroid of voxels (1,1,1) and (3,1,1) is (2,1,1); world = affine applied
	if bs.CentroidVox != [3]float64{2, 1, 1} {
		t.Errorf("Brainstem voxel centroid: expected (2,1,1), got %v", bs.CentroidVox)
	}
	if bs.CentroidWorld != [3]float64{-6, -8, -8} {
		t.Errorf("Brainstem world centroid: expected (-6,-8,-8), got %v", bs.CentroidWorld)
	}
	if bs.Category != "brainstem" || bs.Hemisphere != models.Bilateral {
		t.Errorf("Brainstem metadata wrong: %+v", bs)
	}

	sub := regions[1]
	if sub.Hemisphere != models.Left || sub.Category != "hippocampus" {
		t.Errorf("Subcortical metadata wrong: %+v", sub)
	}

	cort := regions[2]
	if cort.Hemisphere != models.Right || cort.Category != "cortical_gyrus" {
		t.Errorf("Cortical metadata wrong: %+v", cort)
	}
}

// TestBuildKeepsVanishedRegions verifies zero-voxel regions stay in the
// registry with undefined centroids
func TestBuildKeepsVanishedRegions(t *testing.T) {
	vol, mapping, names := testRegistryInputs(t)

	regions, err := Build(vol, mapping, names)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	vanished := regions[3]
	if vanished.VoxelCount != 0 {
		t.Fatalf("Expected region 4 to have no voxels, got %d", vanished.VoxelCount)
	}
	if !math.IsNaN(vanished.CentroidVox[0]) || !math.IsNaN(vanished.CentroidWorld[0]) {
		t.Error("Vanished region must carry NaN centroids")
	}
	if vanished.HasCentroid() {
		t.Error("HasCentroid must be false for a vanished region")
	}
}

// TestBuildMissingName verifies the failure mode for an unnamed region
func TestBuildMissingName(t *testing.T) {
	vol, mapping, names := testRegistryInputs(t)
	delete(names[models.Cortical], 2)

	if _, err := Build(vol, mapping, names); err == nil {
		t.Error("Expected error for a region without a name")
	}
}

// TestDetectHemisphere verifies both naming conventions
func TestDetectHemisphere(t *testing.T) {
	cases := []struct {
		name string
		want models.Hemisphere
	}{
		{"l Amygdala", models.Left},
		{"r Amygdala", models.Right},
		{"HIP-head-lh", models.Left},
		{"G_precentral-rh", models.Right},
		{"Periaqueductal_Gray_PAG", models.Bilateral},
	}
	for _, c := range cases {
		if got := DetectHemisphere(c.name); got != c.want {
			t.Errorf("DetectHemisphere(%q) = %s, want %s", c.name, got, c.want)
		}
	}
}

// TestColorsAreDeterministicAndBanded verifies the per-source color bands
func TestColorsAreDeterministicAndBanded(t *testing.T) {
	if ColorFor(models.Brainstem, 1) != ColorFor(models.Brainstem, 1) {
		t.Error("Colors must be deterministic")
	}

	bs := ColorFor(models.Brainstem, 3)
	if bs.R < 200 || bs.B != 50 {
		t.Errorf("Brainstem color outside the red band: %+v", bs)
	}
	sub := ColorFor(models.Subcortical, 7)
	if sub.R != 50 || sub.G < 150 {
		t.Errorf("Subcortical color outside the green band: %+v", sub)
	}
	cort := ColorFor(models.Cortical, 100)
	if cort.B < 200 {
		t.Errorf("Cortical color outside the blue band: %+v", cort)
	}
}

// TestCSVRoundTrip verifies WriteCSV and ReadCSV agree, including the
// empty-field convention for undefined centroids
func TestCSVRoundTrip(t *testing.T) {
	vol, mapping, names := testRegistryInputs(t)
	regions, err := Build(vol, mapping, names)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "atlas.csv")
	if err := WriteCSV(path, regions); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	loaded, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(loaded) != len(regions) {
		t.Fatalf("Expected %d regions after round trip, got %d", len(regions), len(loaded))
	}

	for i, want := range regions {
		got := loaded[i]
		if got.Label != want.Label || got.Name != want.Name || got.Source != want.Source ||
			got.Hemisphere != want.Hemisphere || got.Category != want.Category ||
			got.Color != want.Color || got.VoxelCount != want.VoxelCount {
			t.Errorf("Region %d changed across round trip:\n got %+v\nwant %+v", want.Label, got, want)
		}
		if want.HasCentroid() != got.HasCentroid() {
			t.Errorf("Region %d centroid definedness changed across round trip", want.Label)
		}
	}
}
