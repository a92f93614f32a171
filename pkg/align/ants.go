package align

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// minTemplateBytes guards against truncated template downloads. A real
// T1w template is megabytes; anything under this is corrupt.
const minTemplateBytes = 16 * 1024

// Transforms holds the output files of a template-to-template
// registration: the nonlinear warp field and the affine matrix.
type Transforms struct {
	Warp   string
	Affine string
}

// CheckToolOnPath verifies that a required external tool is invokable.
func CheckToolOnPath(tool string) error {
	if _, err := exec.LookPath(tool); err != nil {
		return fmt.Errorf("required tool %q not found on PATH", tool)
	}
	return nil
}

// CheckTemplate verifies that a template file exists and is not
// truncated. A corrupted template must fail here rather than produce a
// silently misaligned volume downstream.
func CheckTemplate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("reference template not found: %s", path)
	}
	if info.Size() < minTemplateBytes {
		return fmt.Errorf("reference template %s is undersized (%d bytes), likely corrupted", path, info.Size())
	}
	return nil
}

// run executes an external command, echoing it the way the stage log
// shows every tool invocation. The command inherits our stdout/stderr
// so registration progress stays visible during the minutes ANTs runs.
func run(ctx context.Context, name string, args ...string) error {
	fmt.Printf("$ %s %s\n", name, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %v", name, err)
	}
	return nil
}

// ComputeTemplateTransform registers the moving template onto the fixed
// template with antsRegistration (rigid, then affine, then SyN) and
// returns the resulting transform files. Any tool failure or missing
// output is fatal to the pipeline.
func ComputeTemplateTransform(ctx context.Context, movingTpl, fixedTpl, outPrefix string) (Transforms, error) {
	if err := CheckToolOnPath("antsRegistration"); err != nil {
		return Transforms{}, err
	}
	if err := CheckTemplate(movingTpl); err != nil {
		return Transforms{}, err
	}
	if err := CheckTemplate(fixedTpl); err != nil {
		return Transforms{}, err
	}
	if err := os.MkdirAll(filepath.Dir(outPrefix), 0755); err != nil {
		return Transforms{}, fmt.Errorf("failed to create transform directory: %v", err)
	}

	log.WithFields(log.Fields{
		"moving": movingTpl,
		"fixed":  fixedTpl,
	}).Info("computing template-to-template transform")

	err := run(ctx, "antsRegistration",
		"--dimensionality", "3",
		"--float", "0",
		"--output", fmt.Sprintf("[%s_,%s_Warped.nii.gz]", outPrefix, outPrefix),
		"--interpolation", "Linear",
		"--winsorize-image-intensities", "[0.005,0.995]",
		"--use-histogram-matching", "0",
		"--initial-moving-transform", fmt.Sprintf("[%s,%s,1]", fixedTpl, movingTpl),
		"--transform", "Rigid[0.1]",
		"--metric", fmt.Sprintf("MI[%s,%s,1,32,Regular,0.25]", fixedTpl, movingTpl),
		"--convergence", "[1000x500x250x100,1e-6,10]",
		"--shrink-factors", "8x4x2x1",
		"--smoothing-sigmas", "3x2x1x0vox",
		"--transform", "Affine[0.1]",
		"--metric", fmt.Sprintf("MI[%s,%s,1,32,Regular,0.25]", fixedTpl, movingTpl),
		"--convergence", "[1000x500x250x100,1e-6,10]",
		"--shrink-factors", "8x4x2x1",
		"--smoothing-sigmas", "3x2x1x0vox",
		"--transform", "SyN[0.1,3,0]",
		"--metric", fmt.Sprintf("CC[%s,%s,1,4]", fixedTpl, movingTpl),
		"--convergence", "[100x70x50x20,1e-6,10]",
		"--shrink-factors", "8x4x2x1",
		"--smoothing-sigmas", "3x2x1x0vox",
	)
	if err != nil {
		return Transforms{}, err
	}

	tr := Transforms{
		Warp:   outPrefix + "_1Warp.nii.gz",
		Affine: outPrefix + "_0GenericAffine.mat",
	}
	for _, p := range []string{tr.Warp, tr.Affine} {
		if _, err := os.Stat(p); err != nil {
			return Transforms{}, fmt.Errorf("ANTs transform output not found where expected: %s", p)
		}
	}
	return tr, nil
}

// ApplyTransformsNN applies the transforms (last to first) to a label
// volume with NearestNeighbor interpolation, resampling it onto the
// reference template grid.
func ApplyTransformsNN(ctx context.Context, srcPath, refTpl string, tr Transforms, outPath string) error {
	if err := CheckToolOnPath("antsApplyTransforms"); err != nil {
		return err
	}
	args := []string{
		"-d", "3",
		"-i", srcPath,
		"-r", refTpl,
		"-o", outPath,
		"-n", "NearestNeighbor",
		"-t", tr.Warp,
		"-t", tr.Affine,
	}
	if err := run(ctx, "antsApplyTransforms", args...); err != nil {
		return err
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("transform application failed: %s missing", outPath)
	}
	return nil
}
