package fetch

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"levtiades/pkg/config"
	"levtiades/pkg/volume"
)

// projectDirs is the directory tree every stage writes into.
var projectDirs = []string{
	"raw_atlases",
	"work",
	"final_atlas/with_overlaps",
	"final_atlas/no_overlaps",
	"reports",
	"qc_validation",
}

// affineTol is how closely two source affines must agree before we
// call them spatially compatible without registration.
const affineTol = 1e-2

// SetupProject copies the raw atlas files into the project tree,
// creates the stage directories, verifies spatial compatibility of the
// copied volumes, and writes the atlas_info.txt summary.
func SetupProject(cfg *config.Config) error {
	base := cfg.Output.BaseDir
	for _, d := range projectDirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("failed to create project directory: %v", err)
		}
	}

	// Copy subcortical and cortical inputs; the brainstem components
	// stay in place and are read directly by the build stage.
	copies := [][2]string{
		{cfg.Sources.Subcortical.SourceImage, filepath.Join(base, cfg.Sources.Subcortical.Image)},
		{cfg.Sources.Subcortical.SourceLabels, filepath.Join(base, cfg.Sources.Subcortical.Labels)},
		{cfg.Sources.Cortical.SourceImage, filepath.Join(base, cfg.Sources.Cortical.Image)},
		{cfg.Sources.Cortical.SourceLabels, filepath.Join(base, cfg.Sources.Cortical.Labels)},
	}
	for _, c := range copies {
		if err := copyFile(c[0], c[1]); err != nil {
			return err
		}
	}

	if err := verifyCompatibility(cfg); err != nil {
		return err
	}

	return writeAtlasInfo(cfg, filepath.Join(base, "atlas_info.txt"))
}

// copyFile copies src to dest, failing on a missing source.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("source file not found: %s", src)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %v", src, err)
	}
	return nil
}

// verifyCompatibility loads the copied subcortical and cortical
// volumes and reports whether they already share a grid. A mismatch is
// not fatal here: the aligner handles differing grids.
func verifyCompatibility(cfg *config.Config) error {
	base := cfg.Output.BaseDir
	sub, err := volume.Load(filepath.Join(base, cfg.Sources.Subcortical.Image))
	if err != nil {
		return err
	}
	cort, err := volume.Load(filepath.Join(base, cfg.Sources.Cortical.Image))
	if err != nil {
		return err
	}

	fmt.Printf("Subcortical: %dx%dx%d, %d regions\n", sub.Nx, sub.Ny, sub.Nz, len(sub.Labels()))
	fmt.Printf("Cortical: %dx%dx%d, %d regions\n", cort.Nx, cort.Ny, cort.Nz, len(cort.Labels()))

	if sub.SameGrid(cort, affineTol) {
		fmt.Println("Subcortical and cortical atlases share a grid")
	} else {
		fmt.Println("Subcortical and cortical grids differ; alignment will resolve this")
	}

	subSizes := sub.VoxelSizes()
	for _, s := range subSizes {
		if s <= 0 || math.IsNaN(s) {
			return fmt.Errorf("subcortical atlas has invalid voxel sizes %v", subSizes)
		}
	}
	return nil
}

// writeAtlasInfo writes the human-readable project summary.
func writeAtlasInfo(cfg *config.Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create atlas info: %v", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "Levtiades Atlas Project Information")
	fmt.Fprintln(f, "========================================")
	fmt.Fprintln(f, "\nCOMPONENT ATLASES:")
	fmt.Fprintf(f, "\n1. Brainstem nuclei atlas (%s)\n", cfg.Sources.Brainstem.Space)
	fmt.Fprintf(f, "   - Components: %d brainstem nuclei\n", len(cfg.Sources.Brainstem.Components))
	for _, c := range cfg.Sources.Brainstem.Components {
		fmt.Fprintf(f, "     %s: %s\n", c.Name, c.FullName)
	}
	fmt.Fprintf(f, "\n2. Subcortical atlas (%s)\n", cfg.Sources.Subcortical.Space)
	fmt.Fprintf(f, "   - Volume: %s\n", cfg.Sources.Subcortical.Image)
	fmt.Fprintf(f, "\n3. Cortical atlas (%s)\n", cfg.Sources.Cortical.Space)
	fmt.Fprintf(f, "   - Volume: %s\n", cfg.Sources.Cortical.Image)
	fmt.Fprintf(f, "   - Excluded labels: %v (medial wall)\n", cfg.Sources.Cortical.Exclude)
	fmt.Fprintln(f, "\nCOMBINATION STRATEGY:")
	fmt.Fprintln(f, "- Hierarchical priority: brainstem > subcortical > cortical")
	fmt.Fprintf(f, "- Target space: %s at %.0fmm resolution\n", cfg.Target.Space, cfg.Target.Resolution)
	fmt.Fprintln(f, "- Label offsets computed from per-atlas region counts")
	return nil
}
