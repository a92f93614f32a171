package models

// Source identifies one of the three component atlases that are merged
// into the final product.
type Source string

const (
	// Brainstem is the Levinson-Bari limbic brainstem nuclei atlas.
	Brainstem Source = "Levinson"

	// Subcortical is the Tian (Melbourne Subcortex) atlas.
	Subcortical Source = "Tian"

	// Cortical is the Destrieux sulco-gyral cortical atlas.
	Cortical Source = "Destrieux"
)

// PriorityOrder is the fixed total order used during hierarchical
// combination. Earlier entries win whenever two atlases claim the same
// voxel: brainstem > subcortical > cortical.
var PriorityOrder = []Source{Brainstem, Subcortical, Cortical}

// Hemisphere classifies a region as left, right or bilateral based on
// its name.
type Hemisphere string

const (
	Left      Hemisphere = "left"
	Right     Hemisphere = "right"
	Bilateral Hemisphere = "bilateral"
)

// RGB is a display color for a region in the lookup table.
type RGB struct {
	R, G, B uint8
}

// Region is one row of the region registry. It describes a single
// anatomical region of the combined atlas and is never mutated after
// the registry is built.
type Region struct {
	// Label is the final integer label in the combined atlas.
	Label int

	// Name is the anatomical region name from the source label file.
	Name string

	// Source is the atlas this region came from.
	Source Source

	// Hemisphere is derived from the region name.
	Hemisphere Hemisphere

	// Category is the anatomical category (e.g. thalamus, cortical_gyrus).
	Category string

	// Color is the display color assigned to the region.
	Color RGB

	// VoxelCount is the number of voxels carrying this label in the
	// hierarchical volume.
	VoxelCount int

	// CentroidVox is the mean voxel index (i, j, k) of the region.
	// NaN when the region has no voxels in the final volume.
	CentroidVox [3]float64

	// CentroidWorld is the centroid mapped through the volume affine
	// into physical coordinates. NaN when undefined.
	CentroidWorld [3]float64
}

// HasCentroid reports whether the region had at least one voxel in the
// volume the centroid was computed from.
func (r Region) HasCentroid() bool {
	return r.VoxelCount > 0
}
