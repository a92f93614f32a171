// Package align moves each source atlas onto the shared target grid.
// Two strategies exist: same-space nearest-neighbor resampling when the
// source and target already share a coordinate system, and full
// template-to-template registration through ANTs when they do not.
// Only nearest-neighbor sampling is implemented anywhere in this
// package: interpolation that blends label integers is incorrect.
package align

import (
	"fmt"
	"math"

	"levtiades/pkg/volume"
)

// Grid describes the target sampling grid: dimensions plus the
// voxel-to-world affine of the target template.
type Grid struct {
	Nx, Ny, Nz int
	Affine     [4][4]float64
}

// GridFromTemplate reads the grid specification from a template file
// header without loading its voxel data.
func GridFromTemplate(templatePath string) (Grid, error) {
	nx, ny, nz, affine, err := volume.LoadHeaderAffine(templatePath)
	if err != nil {
		return Grid{}, err
	}
	return Grid{Nx: nx, Ny: ny, Nz: nz, Affine: affine}, nil
}

// ResampleNearest resamples a label volume onto the target grid with
// nearest-neighbor sampling. For every target voxel the physical
// position is mapped back through the source affine and the nearest
// source voxel's label is taken; positions outside the source grid
// become background. Valid only when source and target share a
// coordinate system up to resolution.
func ResampleNearest(src *volume.LabelVolume, target Grid) (*volume.LabelVolume, error) {
	out := volume.New(target.Nx, target.Ny, target.Nz, target.Affine)
	out.SetHeaderFrom(src)

	// Target-voxel -> source-voxel is a single affine chain,
	// inv(src.Affine) * target.Affine, computed once up front.
	srcInv, err := volume.InvertAffine(src.Affine)
	if err != nil {
		return nil, fmt.Errorf("resampling failed: %v", err)
	}
	var chain [4][4]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			for m := 0; m < 4; m++ {
				chain[r][c] += srcInv[r][m] * target.Affine[m][c]
			}
		}
	}

	for k := 0; k < target.Nz; k++ {
		for j := 0; j < target.Ny; j++ {
			for i := 0; i < target.Nx; i++ {
				fi, fj, fk := float64(i), float64(j), float64(k)
				si := int(math.Round(chain[0][0]*fi + chain[0][1]*fj + chain[0][2]*fk + chain[0][3]))
				sj := int(math.Round(chain[1][0]*fi + chain[1][1]*fj + chain[1][2]*fk + chain[1][3]))
				sk := int(math.Round(chain[2][0]*fi + chain[2][1]*fj + chain[2][2]*fk + chain[2][3]))
				if src.InBounds(si, sj, sk) {
					out.Set(i, j, k, src.At(si, sj, sk))
				}
			}
		}
	}
	return out, nil
}
