// Package volume provides the integer label volume type shared by every
// pipeline stage. A LabelVolume is a 3D grid of region codes (0 means
// background) together with the affine transform that maps voxel indices
// to physical coordinates.
package volume

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/KyungWonPark/nifti"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// LabelVolume is a 3D grid of integer region labels plus spatial
// metadata. Stages never mutate a volume they received; they derive new
// volumes instead.
type LabelVolume struct {
	// Data holds the labels in row-major order: index = k*Nx*Ny + j*Nx + i.
	Data []int32

	// Nx, Ny, Nz are the grid dimensions.
	Nx, Ny, Nz int

	// Affine maps homogeneous voxel indices (i, j, k, 1) to physical
	// coordinates (x, y, z, 1).
	Affine [4][4]float64

	// hdr is the NIfTI header of the file this volume was loaded from,
	// kept so derived volumes can be written with matching metadata.
	hdr    nifti.Nifti1Header
	hasHdr bool
}

// New creates an empty label volume with the given dimensions and affine.
func New(nx, ny, nz int, affine [4][4]float64) *LabelVolume {
	return &LabelVolume{
		Data:   make([]int32, nx*ny*nz),
		Nx:     nx,
		Ny:     ny,
		Nz:     nz,
		Affine: affine,
	}
}

// Index converts voxel coordinates to the flat Data index.
func (v *LabelVolume) Index(i, j, k int) int {
	return k*v.Nx*v.Ny + j*v.Nx + i
}

// At returns the label at the given voxel.
func (v *LabelVolume) At(i, j, k int) int32 {
	return v.Data[v.Index(i, j, k)]
}

// Set stores a label at the given voxel.
func (v *LabelVolume) Set(i, j, k int, label int32) {
	v.Data[v.Index(i, j, k)] = label
}

// InBounds reports whether the voxel coordinates fall inside the grid.
func (v *LabelVolume) InBounds(i, j, k int) bool {
	return i >= 0 && i < v.Nx && j >= 0 && j < v.Ny && k >= 0 && k < v.Nz
}

// Clone returns a deep copy sharing no data with the receiver.
func (v *LabelVolume) Clone() *LabelVolume {
	out := New(v.Nx, v.Ny, v.Nz, v.Affine)
	copy(out.Data, v.Data)
	out.hdr = v.hdr
	out.hasHdr = v.hasHdr
	return out
}

// Labels returns the sorted distinct non-zero labels present in the volume.
func (v *LabelVolume) Labels() []int {
	seen := make(map[int32]struct{})
	for _, l := range v.Data {
		if l != 0 {
			seen[l] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for l := range seen {
		out = append(out, int(l))
	}
	sort.Ints(out)
	return out
}

// CountLabel returns the number of voxels carrying the given label.
func (v *LabelVolume) CountLabel(label int32) int {
	n := 0
	for _, l := range v.Data {
		if l == label {
			n++
		}
	}
	return n
}

// CountNonzero returns the number of voxels with any non-zero label.
func (v *LabelVolume) CountNonzero() int {
	n := 0
	for _, l := range v.Data {
		if l != 0 {
			n++
		}
	}
	return n
}

// VoxelSizes returns the physical voxel extents along each axis,
// computed as the column norms of the affine.
func (v *LabelVolume) VoxelSizes() [3]float64 {
	var sizes [3]float64
	for col := 0; col < 3; col++ {
		s := 0.0
		for row := 0; row < 3; row++ {
			s += v.Affine[row][col] * v.Affine[row][col]
		}
		sizes[col] = math.Sqrt(s)
	}
	return sizes
}

// VoxelToWorld maps a (possibly fractional) voxel coordinate to
// physical space through the affine.
func (v *LabelVolume) VoxelToWorld(i, j, k float64) [3]float64 {
	var out [3]float64
	for row := 0; row < 3; row++ {
		out[row] = v.Affine[row][0]*i + v.Affine[row][1]*j + v.Affine[row][2]*k + v.Affine[row][3]
	}
	return out
}

// WorldToVoxel maps a physical coordinate back to fractional voxel
// indices using the inverse affine.
func (v *LabelVolume) WorldToVoxel(x, y, z float64) ([3]float64, error) {
	inv, err := InvertAffine(v.Affine)
	if err != nil {
		return [3]float64{}, err
	}
	var out [3]float64
	for row := 0; row < 3; row++ {
		out[row] = inv[row][0]*x + inv[row][1]*y + inv[row][2]*z + inv[row][3]
	}
	return out, nil
}

// SameGrid reports whether two volumes share dimensions and affines
// within the given absolute tolerance.
func (v *LabelVolume) SameGrid(other *LabelVolume, tol float64) bool {
	if v.Nx != other.Nx || v.Ny != other.Ny || v.Nz != other.Nz {
		return false
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if math.Abs(v.Affine[r][c]-other.Affine[r][c]) > tol {
				return false
			}
		}
	}
	return true
}

// InvertAffine inverts a 4x4 affine with gonum.
func InvertAffine(a [4][4]float64) ([4][4]float64, error) {
	m := mat.NewDense(4, 4, nil)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, a[r][c])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return [4][4]float64{}, fmt.Errorf("affine is singular: %v", err)
	}
	var out [4][4]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r][c] = inv.At(r, c)
		}
	}
	return out, nil
}

// Load reads a NIfTI label file from disk. Voxel values are rounded to
// the nearest integer; label files written by this pipeline are always
// integer-valued, rounding only guards against float-typed source files.
func Load(path string) (*LabelVolume, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("label volume not found: %s", path)
	}

	var img nifti.Nifti1Image
	img.LoadImage(path, true)

	hdr := img.GetHeader()
	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("invalid dimensions in %s: %dx%dx%d", path, nx, ny, nz)
	}

	vol := New(nx, ny, nz, affineFromHeader(hdr))
	vol.hdr = hdr
	vol.hasHdr = true

	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				val := img.GetAt(uint32(i), uint32(j), uint32(k), 0)
				vol.Data[vol.Index(i, j, k)] = int32(math.Round(float64(val)))
			}
		}
	}

	log.WithFields(log.Fields{
		"path":    path,
		"shape":   fmt.Sprintf("%dx%dx%d", nx, ny, nz),
		"regions": len(vol.Labels()),
	}).Debug("loaded label volume")

	return vol, nil
}

// LoadHeaderAffine reads only the header of a NIfTI file and returns
// its grid dimensions and affine. Used to describe a target template
// grid without loading voxel data.
func LoadHeaderAffine(path string) (nx, ny, nz int, affine [4][4]float64, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		return 0, 0, 0, affine, fmt.Errorf("template not found: %s", path)
	}
	var hdr nifti.Nifti1Header
	hdr.LoadHeader(path)
	nx, ny, nz = int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return 0, 0, 0, affine, fmt.Errorf("invalid template header in %s", path)
	}
	return nx, ny, nz, affineFromHeader(hdr), nil
}

// SetHeaderFrom copies the NIfTI header of a reference volume so the
// receiver can be saved with matching spatial metadata.
func (v *LabelVolume) SetHeaderFrom(ref *LabelVolume) {
	v.hdr = ref.hdr
	v.hasHdr = ref.hasHdr
}

// Save writes the volume as a single-channel NIfTI file. The receiver
// must carry a header, either from Load or via SetHeaderFrom.
func (v *LabelVolume) Save(path string) error {
	if !v.hasHdr {
		return fmt.Errorf("cannot save %s: volume has no NIfTI header; call SetHeaderFrom first", path)
	}
	img := nifti.NewImg(v.Nx, v.Ny, v.Nz, 1)
	img.SetNewHeader(v.syncedHeader())
	img.SetHeaderDim2(v.Nx, v.Ny, v.Nz, 1)
	for k := 0; k < v.Nz; k++ {
		for j := 0; j < v.Ny; j++ {
			for i := 0; i < v.Nx; i++ {
				img.SetAt(uint32(i), uint32(j), uint32(k), 0, float32(v.At(i, j, k)))
			}
		}
	}
	img.Save(path)
	return nil
}

// SaveMultiChannel writes one aligned volume per channel into a single
// 4D NIfTI file. All channels must share the grid of the first.
func SaveMultiChannel(path string, channels []*LabelVolume) error {
	if len(channels) == 0 {
		return fmt.Errorf("no channels to save")
	}
	ref := channels[0]
	if !ref.hasHdr {
		return fmt.Errorf("cannot save %s: reference channel has no NIfTI header", path)
	}
	for c, ch := range channels[1:] {
		if !ch.SameGrid(ref, 1e-4) {
			return fmt.Errorf("channel %d grid does not match channel 0", c+1)
		}
	}
	img := nifti.NewImg(ref.Nx, ref.Ny, ref.Nz, len(channels))
	img.SetNewHeader(ref.syncedHeader())
	img.SetHeaderDim2(ref.Nx, ref.Ny, ref.Nz, len(channels))
	for t, ch := range channels {
		for k := 0; k < ref.Nz; k++ {
			for j := 0; j < ref.Ny; j++ {
				for i := 0; i < ref.Nx; i++ {
					img.SetAt(uint32(i), uint32(j), uint32(k), uint32(t), float32(ch.At(i, j, k)))
				}
			}
		}
	}
	img.Save(path)
	return nil
}

// syncedHeader returns the stored header with its spatial fields
// rewritten from the volume's own affine and dimensions. A resampled
// volume carries the header of its source file, so the srow rows must
// be refreshed or the written file would claim the wrong grid.
func (v *LabelVolume) syncedHeader() nifti.Nifti1Header {
	hdr := v.hdr
	for c := 0; c < 4; c++ {
		hdr.SrowX[c] = float32(v.Affine[0][c])
		hdr.SrowY[c] = float32(v.Affine[1][c])
		hdr.SrowZ[c] = float32(v.Affine[2][c])
	}
	if hdr.SformCode == 0 {
		hdr.SformCode = 2
	}
	sizes := v.VoxelSizes()
	hdr.Pixdim[1] = float32(sizes[0])
	hdr.Pixdim[2] = float32(sizes[1])
	hdr.Pixdim[3] = float32(sizes[2])
	return hdr
}

// affineFromHeader builds the voxel-to-world affine from a NIfTI
// header, preferring the sform rows and falling back to a diagonal
// pixdim scaling when no sform is present.
func affineFromHeader(hdr nifti.Nifti1Header) [4][4]float64 {
	var a [4][4]float64
	a[3][3] = 1
	if hdr.SformCode > 0 {
		for c := 0; c < 4; c++ {
			a[0][c] = float64(hdr.SrowX[c])
			a[1][c] = float64(hdr.SrowY[c])
			a[2][c] = float64(hdr.SrowZ[c])
		}
		return a
	}
	log.Warn("NIfTI header has no sform; falling back to pixdim scaling")
	a[0][0] = float64(hdr.Pixdim[1])
	a[1][1] = float64(hdr.Pixdim[2])
	a[2][2] = float64(hdr.Pixdim[3])
	return a
}
