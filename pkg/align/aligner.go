package align

import (
	"context"
	"fmt"
	"path/filepath"

	"levtiades/pkg/volume"
)

// Strategy selects how one atlas reaches the target grid.
type Strategy string

const (
	// SameSpace resamples onto the target grid in-process. Valid only
	// when the source already shares the target's coordinate system.
	SameSpace Strategy = "same-space"

	// Registration computes an ANTs template-to-template transform
	// from the source's native template to the target template and
	// applies it with nearest-neighbor sampling.
	Registration Strategy = "registration"
)

// Aligner moves atlas volumes onto a fixed target grid.
type Aligner struct {
	// TargetTemplate is the fixed reference template file.
	TargetTemplate string

	// WorkDir holds intermediate files (saved volumes, transforms).
	WorkDir string

	target Grid
}

// NewAligner reads the target grid specification from the template.
// The template is validated up front: alignment against a corrupted
// reference would misplace every downstream label position.
func NewAligner(targetTemplate, workDir string) (*Aligner, error) {
	if err := CheckTemplate(targetTemplate); err != nil {
		return nil, err
	}
	g, err := GridFromTemplate(targetTemplate)
	if err != nil {
		return nil, err
	}
	return &Aligner{TargetTemplate: targetTemplate, WorkDir: workDir, target: g}, nil
}

// TargetGrid returns the target grid specification.
func (a *Aligner) TargetGrid() Grid {
	return a.target
}

// Align moves one atlas volume onto the target grid using the given
// strategy. name labels intermediate files; movingTemplate is the
// source's native-space template, required only for Registration.
func (a *Aligner) Align(ctx context.Context, vol *volume.LabelVolume, name string, strategy Strategy, movingTemplate string) (*volume.LabelVolume, error) {
	switch strategy {
	case SameSpace:
		out, err := ResampleNearest(vol, a.target)
		if err != nil {
			return nil, fmt.Errorf("same-space resampling of %s failed: %v", name, err)
		}
		return out, nil

	case Registration:
		if movingTemplate == "" {
			return nil, fmt.Errorf("registration strategy for %s requires a moving template", name)
		}
		srcPath := filepath.Join(a.WorkDir, name+"_native.nii.gz")
		if err := vol.Save(srcPath); err != nil {
			return nil, err
		}
		prefix := filepath.Join(a.WorkDir, "tf_"+name+"_to_target")
		tr, err := ComputeTemplateTransform(ctx, movingTemplate, a.TargetTemplate, prefix)
		if err != nil {
			return nil, fmt.Errorf("registration of %s failed: %v", name, err)
		}
		outPath := filepath.Join(a.WorkDir, name+"_in_target.nii.gz")
		if err := ApplyTransformsNN(ctx, srcPath, a.TargetTemplate, tr, outPath); err != nil {
			return nil, fmt.Errorf("transform application for %s failed: %v", name, err)
		}
		out, err := volume.Load(outPath)
		if err != nil {
			return nil, err
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown alignment strategy %q for %s", strategy, name)
	}
}
