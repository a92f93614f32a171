// Package visualization renders QC images of label volumes: color-coded
// axial slices using the atlas lookup table, and binary coverage masks.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"levtiades/internal/models"
	"levtiades/pkg/volume"
)

// Viewer renders slices of a label volume with per-region colors.
type Viewer struct {
	vol    *volume.LabelVolume
	colors map[int32]models.RGB
}

// NewViewer creates a viewer for a label volume. The color map is
// keyed by final label; labels without an entry render mid-gray.
func NewViewer(vol *volume.LabelVolume, regions []models.Region) *Viewer {
	colors := make(map[int32]models.RGB, len(regions))
	for _, r := range regions {
		colors[int32(r.Label)] = r.Color
	}
	return &Viewer{vol: vol, colors: colors}
}

// ExtractAxialSlice renders the XY plane at depth k as a color image.
func (v *Viewer) ExtractAxialSlice(k int) (image.Image, error) {
	if k < 0 || k >= v.vol.Nz {
		return nil, fmt.Errorf("slice %d exceeds depth %d", k, v.vol.Nz)
	}
	img := image.NewRGBA(image.Rect(0, 0, v.vol.Nx, v.vol.Ny))
	for j := 0; j < v.vol.Ny; j++ {
		for i := 0; i < v.vol.Nx; i++ {
			l := v.vol.At(i, j, k)
			if l == 0 {
				img.Set(i, j, color.Black)
				continue
			}
			if c, ok := v.colors[l]; ok {
				img.Set(i, j, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
			} else {
				img.Set(i, j, color.Gray{Y: 128})
			}
		}
	}
	return img, nil
}

// ExtractMaskSlice renders the XY plane at depth k as a binary
// coverage mask (white where any label is present).
func (v *Viewer) ExtractMaskSlice(k int) (image.Image, error) {
	if k < 0 || k >= v.vol.Nz {
		return nil, fmt.Errorf("slice %d exceeds depth %d", k, v.vol.Nz)
	}
	img := image.NewGray(image.Rect(0, 0, v.vol.Nx, v.vol.Ny))
	for j := 0; j < v.vol.Ny; j++ {
		for i := 0; i < v.vol.Nx; i++ {
			if v.vol.At(i, j, k) != 0 {
				img.SetGray(i, j, color.Gray{Y: 255})
			}
		}
	}
	return img, nil
}

// SaveSlice writes a rendered slice as a JPEG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveRegistrationQC renders label and mask slices at three axial
// levels around the volume mid-plane, the images a reviewer checks for
// registration plausibility.
func (v *Viewer) SaveRegistrationQC(name, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	mid := v.vol.Nz / 2
	for _, k := range []int{mid - 10, mid, mid + 10} {
		if k < 0 || k >= v.vol.Nz {
			continue
		}

		labelImg, err := v.ExtractAxialSlice(k)
		if err != nil {
			return err
		}
		labelFile := filepath.Join(outputDir, fmt.Sprintf("%s_labels_z%03d.jpg", name, k))
		if err := v.SaveSlice(labelImg, labelFile); err != nil {
			return err
		}

		maskImg, err := v.ExtractMaskSlice(k)
		if err != nil {
			return err
		}
		maskFile := filepath.Join(outputDir, fmt.Sprintf("%s_mask_z%03d.jpg", name, k))
		if err := v.SaveSlice(maskImg, maskFile); err != nil {
			return err
		}
	}
	return nil
}
