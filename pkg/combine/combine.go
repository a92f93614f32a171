// Package combine merges the three aligned, harmonized atlas volumes
// into the final products: a multi-channel stack, a flat volume that
// keeps overlaps, and a flat hierarchical volume where the fixed
// priority order (brainstem > subcortical > cortical) resolves every
// contested voxel to a single label.
package combine

import (
	"errors"
	"fmt"

	"levtiades/internal/models"
	"levtiades/pkg/labels"
	"levtiades/pkg/volume"
)

// ErrGridMismatch means the aligned volumes do not share one grid;
// merging them would mix incompatible voxel spaces.
var ErrGridMismatch = errors.New("aligned volumes do not share a grid")

// ErrLabelOutOfRange means a layer carries a local label beyond the
// region count its source was mapped with. Offsetting such a label
// would land it inside another source's final range, so the merge is
// refused before any volume is written.
var ErrLabelOutOfRange = errors.New("layer labels exceed the mapped region count")

// gridTol is the absolute tolerance for affine equality between
// aligned volumes.
const gridTol = 1e-3

// Layer is one aligned atlas carrying local labels 1..K.
type Layer struct {
	Source models.Source
	Vol    *volume.LabelVolume
}

// OverlapStats records, before any priority is applied, how many
// voxels are claimed by each 2-way combination and by all three.
type OverlapStats struct {
	Pairs    map[string]int
	AllThree int
}

// TakeoverStats records what hierarchical combination discarded:
// per losing source, the voxels each higher-priority source took, and
// the per-region (local label) voxel losses.
type TakeoverStats struct {
	// Replaced[loser][winner] counts voxels of loser overridden by winner.
	Replaced map[models.Source]map[models.Source]int

	// RegionsAffected[loser][localLabel] counts voxels that region lost.
	RegionsAffected map[models.Source]map[int]int

	// FinalVoxels counts surviving voxels per source in the
	// hierarchical volume; TotalVoxels is the non-zero total.
	FinalVoxels map[models.Source]int
	TotalVoxels int
}

// checkInputs validates the mapping, verifies all layers share one
// grid, and verifies every layer's local labels fit inside its
// source's mapped range.
func checkInputs(layers []Layer, mapping *labels.OffsetMapping) error {
	if len(layers) == 0 {
		return fmt.Errorf("no layers to combine")
	}
	if err := mapping.Validate(); err != nil {
		return err
	}
	ref := layers[0].Vol
	for _, l := range layers[1:] {
		if !l.Vol.SameGrid(ref, gridTol) {
			return fmt.Errorf("%w: %s differs from %s", ErrGridMismatch, l.Source, layers[0].Source)
		}
	}
	for _, l := range layers {
		r := mapping.SourceRange(l.Source)
		if r.Start == 0 {
			return fmt.Errorf("no label range mapped for source %s", l.Source)
		}
		var maxLocal int32
		for _, v := range l.Vol.Data {
			if v > maxLocal {
				maxLocal = v
			}
		}
		if int(maxLocal) > r.Count() {
			return fmt.Errorf("%w: %s carries local label %d but only %d regions are mapped",
				ErrLabelOutOfRange, l.Source, maxLocal, r.Count())
		}
	}
	return nil
}

// offsetVolume returns a copy of the layer's volume with final labels:
// every non-zero local label is shifted into the source's final range.
func offsetVolume(l Layer, mapping *labels.OffsetMapping) *volume.LabelVolume {
	off := int32(mapping.Offset(l.Source))
	out := l.Vol.Clone()
	for idx, v := range out.Data {
		if v != 0 {
			out.Data[idx] = v + off
		}
	}
	return out
}

// MultiChannel produces one channel per atlas, each carrying only that
// atlas's final labels. No collision is possible by construction.
func MultiChannel(layers []Layer, mapping *labels.OffsetMapping) ([]*volume.LabelVolume, error) {
	if err := checkInputs(layers, mapping); err != nil {
		return nil, err
	}
	channels := make([]*volume.LabelVolume, len(layers))
	for i, l := range layers {
		channels[i] = offsetVolume(l, mapping)
	}
	return channels, nil
}

// WithOverlaps produces the flat union volume where later (lower
// priority) layers overwrite earlier ones wherever they are non-zero,
// plus the overlap statistics side channel. Layers must be given in
// priority order, highest first.
func WithOverlaps(layers []Layer, mapping *labels.OffsetMapping) (*volume.LabelVolume, OverlapStats, error) {
	if err := checkInputs(layers, mapping); err != nil {
		return nil, OverlapStats{}, err
	}

	ref := layers[0].Vol
	flat := volume.New(ref.Nx, ref.Ny, ref.Nz, ref.Affine)
	flat.SetHeaderFrom(ref)
	for _, l := range layers {
		off := offsetVolume(l, mapping)
		for idx, v := range off.Data {
			if v != 0 {
				flat.Data[idx] = v
			}
		}
	}

	stats := OverlapStats{Pairs: make(map[string]int)}
	for a := 0; a < len(layers); a++ {
		for b := a + 1; b < len(layers); b++ {
			key := fmt.Sprintf("%s+%s", layers[a].Source, layers[b].Source)
			n := 0
			for idx := range layers[a].Vol.Data {
				if layers[a].Vol.Data[idx] != 0 && layers[b].Vol.Data[idx] != 0 {
					n++
				}
			}
			stats.Pairs[key] = n
		}
	}
	if len(layers) == 3 {
		for idx := range layers[0].Vol.Data {
			if layers[0].Vol.Data[idx] != 0 && layers[1].Vol.Data[idx] != 0 && layers[2].Vol.Data[idx] != 0 {
				stats.AllThree++
			}
		}
	}
	return flat, stats, nil
}

// Hierarchical produces the no-overlap volume: layers are painted from
// lowest priority upward, so for every contested voxel the
// highest-priority atlas wins and the lower label is discarded for
// that voxel only. Layers must be given in priority order, highest
// first. The result satisfies the single-label-per-voxel invariant by
// construction.
func Hierarchical(layers []Layer, mapping *labels.OffsetMapping) (*volume.LabelVolume, *TakeoverStats, error) {
	if err := checkInputs(layers, mapping); err != nil {
		return nil, nil, err
	}

	ref := layers[0].Vol
	combined := volume.New(ref.Nx, ref.Ny, ref.Nz, ref.Affine)
	combined.SetHeaderFrom(ref)

	stats := &TakeoverStats{
		Replaced:        make(map[models.Source]map[models.Source]int),
		RegionsAffected: make(map[models.Source]map[int]int),
		FinalVoxels:     make(map[models.Source]int),
	}
	for _, l := range layers {
		stats.Replaced[l.Source] = make(map[models.Source]int)
		stats.RegionsAffected[l.Source] = make(map[int]int)
	}

	// Paint lowest priority first; each overwrite of a non-zero voxel
	// is a takeover recorded against the previous owner.
	for li := len(layers) - 1; li >= 0; li-- {
		winner := layers[li]
		off := offsetVolume(winner, mapping)
		for idx, v := range off.Data {
			if v == 0 {
				continue
			}
			if prev := combined.Data[idx]; prev != 0 {
				loser, local, err := mapping.Invert(int(prev))
				if err != nil {
					return nil, nil, err
				}
				stats.Replaced[loser][winner.Source]++
				stats.RegionsAffected[loser][local]++
			}
			combined.Data[idx] = v
		}
	}

	for _, l := range layers {
		r := mapping.SourceRange(l.Source)
		n := 0
		for _, v := range combined.Data {
			if int(v) >= r.Start && int(v) <= r.End {
				n++
			}
		}
		stats.FinalVoxels[l.Source] = n
		stats.TotalVoxels += n
	}
	return combined, stats, nil
}
