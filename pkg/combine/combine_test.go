package combine

import (
	"errors"
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

// testLayers builds a synthetic 10x10x10 scenario with 5 brainstem, 3
// subcortical and 4 cortical regions and engineered contention:
// voxel (2,2,2) is claimed by all three atlases and voxel (3,3,3) by
// subcortical and cortical.
func testLayers(t *testing.T) ([]Layer, *labels.OffsetMapping) {
	t.Helper()

	bs := volume.New(10, 10, 10, testAffine)
	for i := 0; i < 5; i++ {
		bs.Set(2+i, 2, 2, int32(i+1))
	}

	sub := volume.New(10, 10, 10, testAffine)
	sub.Set(2, 2, 2, 1)
	sub.Set(3, 3, 3, 2)
	sub.Set(4, 4, 4, 3)

	cort := volume.New(10, 10, 10, testAffine)
	cort.Set(3, 3, 3, 1)
	cort.Set(7, 7, 7, 2)
	cort.Set(8, 8, 8, 3)
	cort.Set(2, 2, 2, 4)
	cort.Set(9, 9, 9, 4)

	mapping, err := labels.BuildOffsetMapping(models.PriorityOrder, map[models.Source]int{
		models.Brainstem:   5,
		models.Subcortical: 3,
		models.Cortical:    4,
	})
	if err != nil {
		t.Fatalf("BuildOffsetMapping failed: %v", err)
	}

	return []Layer{
		{Source: models.Brainstem, Vol: bs},
		{Source: models.Subcortical, Vol: sub},
		{Source: models.Cortical, Vol: cort},
	}, mapping
}

// TestMultiChannel verifies each channel carries only its source's
// final label range
func TestMultiChannel(t *testing.T) {
	layers, mapping := testLayers(t)

	channels, err := MultiChannel(layers, mapping)
	if err != nil {
		t.Fatalf("MultiChannel failed: %v", err)
	}
	if len(channels) != 3 {
		t.Fatalf("Expected 3 channels, got %d", len(channels))
	}

	for i, ch := range channels {
		r := mapping.SourceRange(layers[i].Source)
		for _, l := range ch.Labels() {
			if l < r.Start || l > r.End {
				t.Errorf("Channel %s carries label %d outside its range %d-%d",
					layers[i].Source, l, r.Start, r.End)
			}
		}
		if ch.CountNonzero() != layers[i].Vol.CountNonzero() {
			t.Errorf("Channel %s changed its voxel count", layers[i].Source)
		}
	}
}

// TestWithOverlaps verifies the union volume and the overlap statistics
func TestWithOverlaps(t *testing.T) {
	layers, mapping := testLayers(t)

	flat, stats, err := WithOverlaps(layers, mapping)
	if err != nil {
		t.Fatalf("WithOverlaps failed: %v", err)
	}

	// Lower priority paints last in the union volume
	if got := flat.At(2, 2, 2); got != 12 {
		t.Errorf("Contested voxel (2,2,2): expected cortical final label 12, got %d", got)
	}
	if got := flat.At(3, 3, 3); got != 9 {
		t.Errorf("Contested voxel (3,3,3): expected cortical final label 9, got %d", got)
	}
	if got := flat.At(4, 2, 2); got != 3 {
		t.Errorf("Uncontested brainstem voxel: expected final label 3, got %d", got)
	}

	if stats.Pairs["Levinson+Tian"] != 1 {
		t.Errorf("Brainstem+subcortical overlap: expected 1, got %d", stats.Pairs["Levinson+Tian"])
	}
	if stats.Pairs["Levinson+Destrieux"] != 1 {
		t.Errorf("Brainstem+cortical overlap: expected 1, got %d", stats.Pairs["Levinson+Destrieux"])
	}
	if stats.Pairs["Tian+Destrieux"] != 2 {
		t.Errorf("Subcortical+cortical overlap: expected 2, got %d", stats.Pairs["Tian+Destrieux"])
	}
	if stats.AllThree != 1 {
		t.Errorf("All-three overlap: expected 1, got %d", stats.AllThree)
	}
}

// TestHierarchical verifies priority resolution, the final label set
// and the takeover accounting
func TestHierarchical(t *testing.T) {
	layers, mapping := testLayers(t)

	hier, stats, err := Hierarchical(layers, mapping)
	if err != nil {
		t.Fatalf("Hierarchical failed: %v", err)
	}

	// Highest priority wins every contested voxel
	if got := hier.At(2, 2, 2); got != 1 {
		t.Errorf("Voxel (2,2,2): expected brainstem final label 1, got %d", got)
	}
	if got := hier.At(3, 3, 3); got != 7 {
		t.Errorf("Voxel (3,3,3): expected subcortical final label 7, got %d", got)
	}

	// Every surviving label sits in 1..total and maps back to a source
	for _, l := range hier.Labels() {
		if l < 1 || l > mapping.Total() {
			t.Errorf("Final label %d outside 1-%d", l, mapping.Total())
		}
		if _, _, err := mapping.Invert(l); err != nil {
			t.Errorf("Final label %d maps to no source: %v", l, err)
		}
	}

	// Cortical local 1 lost its only voxel to subcortical
	if got := hier.CountLabel(9); got != 0 {
		t.Errorf("Expected cortical final label 9 to vanish, found %d voxels", got)
	}

	if stats.Replaced[models.Subcortical][models.Brainstem] != 1 {
		t.Errorf("Expected brainstem to take 1 subcortical voxel, got %d",
			stats.Replaced[models.Subcortical][models.Brainstem])
	}
	if stats.Replaced[models.Cortical][models.Subcortical] != 2 {
		t.Errorf("Expected subcortical to take 2 cortical voxels, got %d",
			stats.Replaced[models.Cortical][models.Subcortical])
	}
	if stats.RegionsAffected[models.Cortical][4] != 1 {
		t.Errorf("Expected cortical region 4 to lose 1 voxel, got %d",
			stats.RegionsAffected[models.Cortical][4])
	}

	wantFinal := map[models.Source]int{
		models.Brainstem:   5,
		models.Subcortical: 2,
		models.Cortical:    3,
	}
	for src, want := range wantFinal {
		if stats.FinalVoxels[src] != want {
			t.Errorf("%s final voxels: expected %d, got %d", src, want, stats.FinalVoxels[src])
		}
	}
	if stats.TotalVoxels != 10 {
		t.Errorf("Expected 10 labeled voxels total, got %d", stats.TotalVoxels)
	}
}

// TestCombineGridMismatch verifies refusal to merge volumes on
// different grids
func TestCombineGridMismatch(t *testing.T) {
	layers, mapping := testLayers(t)

	other := testAffine
	other[0][3] += 1
	layers[2].Vol = volume.New(10, 10, 10, other)

	_, _, err := Hierarchical(layers, mapping)
	if !errors.Is(err, ErrGridMismatch) {
		t.Errorf("Expected ErrGridMismatch, got %v", err)
	}
	if _, _, err := WithOverlaps(layers, mapping); !errors.Is(err, ErrGridMismatch) {
		t.Errorf("Expected ErrGridMismatch from WithOverlaps, got %v", err)
	}
}

// TestCombineLabelOutOfRange verifies refusal to merge a layer whose
// local labels exceed the region count its source was mapped with;
// offsetting such a label would attribute the voxel to the next source
func TestCombineLabelOutOfRange(t *testing.T) {
	layers, _ := testLayers(t)

	// Subcortical mapped with 2 regions while its volume carries local
	// label 3; offsetting would push that voxel into the cortical range
	short, err := labels.BuildOffsetMapping(models.PriorityOrder, map[models.Source]int{
		models.Brainstem:   5,
		models.Subcortical: 2,
		models.Cortical:    4,
	})
	if err != nil {
		t.Fatalf("BuildOffsetMapping failed: %v", err)
	}

	if _, err := MultiChannel(layers, short); !errors.Is(err, ErrLabelOutOfRange) {
		t.Errorf("Expected ErrLabelOutOfRange from MultiChannel, got %v", err)
	}
	if _, _, err := WithOverlaps(layers, short); !errors.Is(err, ErrLabelOutOfRange) {
		t.Errorf("Expected ErrLabelOutOfRange from WithOverlaps, got %v", err)
	}
	if _, _, err := Hierarchical(layers, short); !errors.Is(err, ErrLabelOutOfRange) {
		t.Errorf("Expected ErrLabelOutOfRange from Hierarchical, got %v", err)
	}
}

// TestCombineUnknownSource verifies refusal when a layer's source has
// no mapped range at all
func TestCombineUnknownSource(t *testing.T) {
	layers, mapping := testLayers(t)
	layers[1].Source = models.Source("Unknown")

	if _, err := MultiChannel(layers, mapping); err == nil {
		t.Error("Expected error for a layer with no mapped range")
	}
}

// TestCombineEmptyLayers verifies the no-input failure mode
func TestCombineEmptyLayers(t *testing.T) {
	_, mapping := testLayers(t)
	if _, _, err := Hierarchical(nil, mapping); err == nil {
		t.Error("Expected error for empty layer list")
	}
}
