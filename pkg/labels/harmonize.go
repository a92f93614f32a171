package labels

import (
	"errors"
	"fmt"
	"os"
	"sort"

	log "github.com/sirupsen/logrus"

	"levtiades/pkg/volume"
)

// ErrNoRegionsRemain is returned when an exclusion set removes every
// region from an atlas; there is nothing left to include from that
// source, so the pipeline must stop.
var ErrNoRegionsRemain = errors.New("no regions remain after exclusion")

// HarmonizeResult reports what the harmonizer did to one atlas.
type HarmonizeResult struct {
	// Mapping is the old-label to new-label renumbering. Excluded
	// labels do not appear.
	Mapping map[int]int

	// ExcludedVoxels counts the voxels zeroed per excluded label.
	// Labels absent from the volume are present with a zero count.
	ExcludedVoxels map[int]int

	// RegionCount is the number of regions after renumbering; the new
	// labels are exactly 1..RegionCount.
	RegionCount int
}

// Harmonize zeroes the voxels of every excluded label and renumbers the
// remaining distinct labels contiguously from 1, preserving their
// relative order. The input volume is not modified.
//
// An excluded label that does not occur in the volume is a warning, not
// an error: exclusion sets are written defensively. Ending up with zero
// regions is fatal.
func Harmonize(vol *volume.LabelVolume, exclude []int) (*volume.LabelVolume, *HarmonizeResult, error) {
	excluded := make(map[int32]struct{}, len(exclude))
	for _, l := range exclude {
		excluded[int32(l)] = struct{}{}
	}

	res := &HarmonizeResult{
		Mapping:        make(map[int]int),
		ExcludedVoxels: make(map[int]int, len(exclude)),
	}
	for _, l := range exclude {
		res.ExcludedVoxels[l] = 0
	}

	cleaned := vol.Clone()
	for idx, l := range cleaned.Data {
		if _, ok := excluded[l]; ok && l != 0 {
			res.ExcludedVoxels[int(l)]++
			cleaned.Data[idx] = 0
		}
	}

	for _, l := range exclude {
		if res.ExcludedVoxels[l] == 0 {
			log.WithFields(log.Fields{
				"label": l,
			}).Warn("excluded label not present in volume, zero voxels affected")
		} else {
			log.WithFields(log.Fields{
				"label":  l,
				"voxels": res.ExcludedVoxels[l],
			}).Info("removed excluded region")
		}
	}

	remaining := cleaned.Labels()
	if len(remaining) == 0 {
		return nil, nil, fmt.Errorf("%w (%d labels excluded)", ErrNoRegionsRemain, len(exclude))
	}

	// Relative original order is preserved: Labels() is sorted.
	next := 1
	for _, old := range remaining {
		res.Mapping[old] = next
		next++
	}
	res.RegionCount = len(remaining)

	renumbered := cleaned
	old2new := make(map[int32]int32, len(res.Mapping))
	for old, nw := range res.Mapping {
		old2new[int32(old)] = int32(nw)
	}
	for idx, l := range renumbered.Data {
		if l != 0 {
			renumbered.Data[idx] = old2new[l]
		}
	}

	return renumbered, res, nil
}

// RemapNames applies the harmonizer's old-to-new mapping to a parsed
// label-name map, dropping names of excluded regions.
func RemapNames(names map[int]string, mapping map[int]int) map[int]string {
	out := make(map[int]string, len(mapping))
	for old, nw := range mapping {
		if name, ok := names[old]; ok {
			out[nw] = name
		}
	}
	return out
}

// WriteMapping persists the old-to-new renumbering as a small text file
// next to the harmonized volume so the renumbering stays auditable.
func WriteMapping(path string, mapping map[int]int, excluded []int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create mapping file: %v", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "# label mapping (old -> new) after exclusion of %v\n", excluded)
	olds := make([]int, 0, len(mapping))
	for old := range mapping {
		olds = append(olds, old)
	}
	sort.Ints(olds)
	for _, old := range olds {
		fmt.Fprintf(f, "%d -> %d\n", old, mapping[old])
	}
	return nil
}
