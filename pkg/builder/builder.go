// Package builder runs the complete atlas construction pipeline:
// combining the brainstem component masks, harmonizing the source
// label schemes, computing the final label offsets, aligning every
// atlas onto the target grid, merging them hierarchically and writing
// the metadata products.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"levtiades/internal/models"
	"levtiades/pkg/align"
	"levtiades/pkg/combine"
	"levtiades/pkg/config"
	"levtiades/pkg/labels"
	"levtiades/pkg/registry"
	"levtiades/pkg/visualization"
	"levtiades/pkg/volume"
)

// sameGridTol is the affine tolerance when checking whether a
// brainstem component already sits on the first component's grid.
const sameGridTol = 1e-3

// Params holds the pipeline configuration.
type Params struct {
	// Config carries the source atlas layout, target grid and output
	// locations, usually loaded from a YAML file.
	Config *config.Config
}

// Summary collects the results the CLI reports after a build.
type Summary struct {
	// Mapping is the finalized offset mapping, one contiguous label
	// range per source atlas.
	Mapping *labels.OffsetMapping

	// Overlaps counts pre-hierarchy voxel contention between atlases.
	Overlaps combine.OverlapStats

	// Takeovers records what the hierarchical combination discarded.
	Takeovers *combine.TakeoverStats

	// Regions is the final region registry.
	Regions []models.Region
}

// Builder handles the atlas construction process. The pipeline
// consists of several steps:
// 1. Combining the brainstem component masks into one labeled volume
// 2. Loading and harmonizing the subcortical and cortical atlases
// 3. Computing the final label offsets from the harmonized counts
// 4. Aligning all three atlases onto the target grid
// 5. Combining the aligned atlases (multi-channel, union, hierarchical)
// 6. Building the region registry and writing the metadata files
// 7. Rendering QC slice images
type Builder struct {
	params *Params
	cfg    *config.Config

	aligned   []combine.Layer
	names     map[models.Source]map[int]string
	counts    map[models.Source]int
	mapping   *labels.OffsetMapping
	overlaps  combine.OverlapStats
	takeovers *combine.TakeoverStats
	regions   []models.Region
}

// NewBuilder creates a new builder instance with the provided
// parameters.
func NewBuilder(params *Params) *Builder {
	return &Builder{
		params: params,
		cfg:    params.Config,
		names:  make(map[models.Source]map[int]string),
		counts: make(map[models.Source]int),
	}
}

// path joins parts under the configured project base directory.
func (b *Builder) path(parts ...string) string {
	return filepath.Join(append([]string{b.cfg.Output.BaseDir}, parts...)...)
}

// Process runs the complete atlas construction pipeline.
func (b *Builder) Process(ctx context.Context) error {
	for _, dir := range []string{
		"work",
		"final_atlas",
		filepath.Join("final_atlas", "with_overlaps"),
		filepath.Join("final_atlas", "no_overlaps"),
		"reports",
		filepath.Join("reports", "registration_qc"),
	} {
		if err := os.MkdirAll(b.path(dir), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %v", err)
		}
	}

	// Step 1: Combine brainstem component masks
	fmt.Println("Step 1: Combining brainstem components...")
	brainstem, err := b.combineBrainstem()
	if err != nil {
		return err
	}

	// Step 2: Load and harmonize the subcortical and cortical atlases
	fmt.Println("Step 2: Loading and harmonizing source atlases...")
	subcortical, cortical, err := b.harmonizeSources()
	if err != nil {
		return err
	}

	// Step 3: Compute the final label offsets. The offsets are derived
	// entirely from the harmonized region counts in priority order;
	// changing an upstream atlas version changes them automatically.
	// The counts come from the volumes themselves, not the name files,
	// so a short name file can never shrink a source's range.
	fmt.Println("Step 3: Computing label offsets...")
	b.mapping, err = labels.BuildOffsetMapping(models.PriorityOrder, b.counts)
	if err != nil {
		return fmt.Errorf("failed to compute label offsets: %v", err)
	}
	for _, src := range models.PriorityOrder {
		r := b.mapping.SourceRange(src)
		fmt.Printf("  %s: labels %d-%d (%d regions)\n", src, r.Start, r.End, r.Count())
	}
	if err := labels.SaveRanges(b.path("work", "offset_ranges.txt"), b.mapping); err != nil {
		return err
	}

	// Step 4: Align every atlas onto the target grid
	fmt.Println("Step 4: Aligning atlases to target grid...")
	if err := b.alignAll(ctx, brainstem, subcortical, cortical); err != nil {
		return err
	}

	// Step 5: Combine the aligned atlases
	fmt.Println("Step 5: Combining aligned atlases...")
	hier, err := b.combineAll()
	if err != nil {
		return err
	}

	// Step 6: Build the region registry and write the metadata files
	fmt.Println("Step 6: Building region registry...")
	if err := b.buildRegistry(hier); err != nil {
		return err
	}

	// Step 7: Render QC slice images
	if b.cfg.Output.SaveQCImages {
		fmt.Println("Step 7: Rendering QC slice images...")
		if err := b.renderQCImages(hier); err != nil {
			logrus.Warnf("QC image rendering failed: %v", err)
		}
	}

	fmt.Printf("Atlas construction complete: %d regions in %s\n",
		len(b.regions), b.path("final_atlas"))
	return nil
}

// combineBrainstem loads the per-nucleus component masks and paints
// them into one labeled volume on the first component's grid, label =
// list position + 1. A later component silently wins any voxel an
// earlier one already claimed, which matches the published order of
// the component list.
func (b *Builder) combineBrainstem() (*volume.LabelVolume, error) {
	comps := b.cfg.Sources.Brainstem.Components
	if len(comps) == 0 {
		return nil, fmt.Errorf("no brainstem components configured")
	}

	names := make(map[int]string, len(comps))
	var combined *volume.LabelVolume
	for i, comp := range comps {
		compPath := filepath.Join(b.cfg.Sources.Brainstem.Dir, comp.File)
		vol, err := volume.Load(compPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load brainstem component %s: %v", comp.Name, err)
		}

		if combined == nil {
			combined = volume.New(vol.Nx, vol.Ny, vol.Nz, vol.Affine)
			combined.SetHeaderFrom(vol)
		} else if !vol.SameGrid(combined, sameGridTol) {
			fmt.Printf("  %s is on a different grid, resampling to the %s grid\n",
				comp.Name, comps[0].Name)
			vol, err = align.ResampleNearest(vol, align.Grid{
				Nx: combined.Nx, Ny: combined.Ny, Nz: combined.Nz,
				Affine: combined.Affine,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to resample component %s: %v", comp.Name, err)
			}
		}

		label := int32(i + 1)
		painted, clashes := 0, 0
		for idx, v := range vol.Data {
			if v == 0 {
				continue
			}
			if combined.Data[idx] != 0 {
				clashes++
			}
			combined.Data[idx] = label
			painted++
		}
		if clashes > 0 {
			logrus.Warnf("brainstem component %s overlaps earlier components at %d voxels",
				comp.Name, clashes)
		}
		fmt.Printf("  %d. %s: %d voxels\n", i+1, comp.FullName, painted)
		names[i+1] = comp.FullName
	}

	b.names[models.Brainstem] = names
	b.counts[models.Brainstem] = len(comps)
	if err := combined.Save(b.path("work", "brainstem_combined.nii.gz")); err != nil {
		return nil, err
	}
	return combined, nil
}

// harmonizeSources loads the subcortical and cortical label volumes
// and renumbers each to contiguous labels starting at 1, applying the
// configured exclusions. Region names are remapped alongside.
func (b *Builder) harmonizeSources() (subcortical, cortical *volume.LabelVolume, err error) {
	sub := b.cfg.Sources.Subcortical
	subcortical, err = b.harmonizeOne(models.Subcortical,
		b.path(sub.Image), b.path(sub.Labels), nil,
		b.path("work", "subcortical_label_mapping.txt"))
	if err != nil {
		return nil, nil, err
	}

	cort := b.cfg.Sources.Cortical
	cortical, err = b.harmonizeOne(models.Cortical,
		b.path(cort.Image), b.path(cort.Labels), cort.Exclude,
		b.path("work", "cortical_label_mapping.txt"))
	if err != nil {
		return nil, nil, err
	}
	return subcortical, cortical, nil
}

func (b *Builder) harmonizeOne(src models.Source, imagePath, labelsPath string, exclude []int, mappingPath string) (*volume.LabelVolume, error) {
	vol, err := volume.Load(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s atlas: %v", src, err)
	}
	names, err := labels.ParseNameFile(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s label names: %v", src, err)
	}

	harmonized, res, err := labels.Harmonize(vol, exclude)
	if err != nil {
		return nil, fmt.Errorf("harmonization of %s failed: %v", src, err)
	}
	for label, voxels := range res.ExcludedVoxels {
		fmt.Printf("  %s: excluded label %d (%d voxels)\n", src, label, voxels)
	}
	fmt.Printf("  %s: %d regions\n", src, res.RegionCount)

	b.names[src] = labels.RemapNames(names, res.Mapping)
	if err := checkNameCoverage(src, b.names[src], res.RegionCount); err != nil {
		return nil, err
	}
	b.counts[src] = res.RegionCount
	if err := labels.WriteMapping(mappingPath, res.Mapping, exclude); err != nil {
		return nil, err
	}
	return harmonized, nil
}

// checkNameCoverage verifies the remapped name table covers every
// harmonized region. A short name file would otherwise undercount a
// source and shift its labels into the next source's range.
func checkNameCoverage(src models.Source, names map[int]string, regionCount int) error {
	if len(names) != regionCount {
		return fmt.Errorf("%s name file covers %d of %d regions in the volume", src, len(names), regionCount)
	}
	return nil
}

// alignAll moves the three atlases onto the target grid and saves each
// aligned volume, still carrying its local labels, under final_atlas/.
func (b *Builder) alignAll(ctx context.Context, brainstem, subcortical, cortical *volume.LabelVolume) error {
	aligner, err := align.NewAligner(b.cfg.Target.Template, b.path("work"))
	if err != nil {
		return err
	}

	inputs := []struct {
		src      models.Source
		vol      *volume.LabelVolume
		space    string
		strategy string
		file     string
	}{
		{models.Brainstem, brainstem, b.cfg.Sources.Brainstem.Space,
			b.cfg.Sources.Brainstem.Strategy, "1_brainstem_aligned.nii.gz"},
		{models.Subcortical, subcortical, b.cfg.Sources.Subcortical.Space,
			b.cfg.Sources.Subcortical.Strategy, "2_subcortical_aligned.nii.gz"},
		{models.Cortical, cortical, b.cfg.Sources.Cortical.Space,
			b.cfg.Sources.Cortical.Strategy, "3_cortical_aligned.nii.gz"},
	}

	b.aligned = b.aligned[:0]
	for _, in := range inputs {
		strategy, movingTemplate, err := b.resolveStrategy(in.src, in.space, in.strategy)
		if err != nil {
			return err
		}
		fmt.Printf("  Aligning %s (%s, %s)...\n", in.src, in.space, strategy)

		out, err := aligner.Align(ctx, in.vol, string(in.src), strategy, movingTemplate)
		if err != nil {
			return err
		}
		before, after := in.vol.CountNonzero(), out.CountNonzero()
		fmt.Printf("    %d voxels in, %d voxels on target grid\n", before, after)
		if after == 0 && before > 0 {
			return fmt.Errorf("alignment of %s produced an empty volume", in.src)
		}

		if err := out.Save(b.path("final_atlas", in.file)); err != nil {
			return err
		}
		b.aligned = append(b.aligned, combine.Layer{Source: in.src, Vol: out})
	}
	return nil
}

// resolveStrategy turns the configured strategy string into an
// alignment strategy plus, for registration, the moving template. A
// same-space request for an atlas whose native space differs from the
// target is honored but announced loudly.
func (b *Builder) resolveStrategy(src models.Source, space, configured string) (align.Strategy, string, error) {
	switch align.Strategy(configured) {
	case align.SameSpace, "":
		if space != b.cfg.Target.Space {
			fmt.Printf("  ⚠️  %s is in %s, not %s; proceeding with same-space grid resampling\n",
				src, space, b.cfg.Target.Space)
			logrus.Warnf("%s aligned same-space across template spaces (%s vs %s)",
				src, space, b.cfg.Target.Space)
		}
		return align.SameSpace, "", nil

	case align.Registration:
		tmpl, ok := b.cfg.Target.Templates[space]
		if !ok {
			return "", "", fmt.Errorf("no template configured for space %s, required to register %s", space, src)
		}
		return align.Registration, tmpl, nil

	default:
		return "", "", fmt.Errorf("unknown alignment strategy %q for %s", configured, src)
	}
}

// combineAll produces the three final volumes and returns the
// hierarchical one, which all downstream metadata derives from.
func (b *Builder) combineAll() (*volume.LabelVolume, error) {
	channels, err := combine.MultiChannel(b.aligned, b.mapping)
	if err != nil {
		return nil, err
	}
	mcPath := b.path("final_atlas", "with_overlaps", "levtiades_multichannel.nii.gz")
	if err := volume.SaveMultiChannel(mcPath, channels); err != nil {
		return nil, err
	}

	flat, overlaps, err := combine.WithOverlaps(b.aligned, b.mapping)
	if err != nil {
		return nil, err
	}
	b.overlaps = overlaps
	for pair, n := range overlaps.Pairs {
		fmt.Printf("  overlap %s: %d voxels\n", pair, n)
	}
	fmt.Printf("  overlap all three: %d voxels\n", overlaps.AllThree)
	flatPath := b.path("final_atlas", "with_overlaps", "levtiades_with_overlaps.nii.gz")
	if err := flat.Save(flatPath); err != nil {
		return nil, err
	}

	hier, takeovers, err := combine.Hierarchical(b.aligned, b.mapping)
	if err != nil {
		return nil, err
	}
	b.takeovers = takeovers
	hierPath := b.path("final_atlas", "no_overlaps", "levtiades_no_overlaps_hierarchical.nii.gz")
	if err := hier.Save(hierPath); err != nil {
		return nil, err
	}
	fmt.Printf("  hierarchical volume: %d labeled voxels\n", takeovers.TotalVoxels)
	return hier, nil
}

// buildRegistry derives the region registry from the hierarchical
// volume and writes the label text file, the color lookup table and
// the registry CSV.
func (b *Builder) buildRegistry(hier *volume.LabelVolume) error {
	regions, err := registry.Build(hier, b.mapping, b.names)
	if err != nil {
		return err
	}
	b.regions = regions

	if err := registry.WriteLabelsTxt(b.path("final_atlas", "levtiades_labels.txt"), regions, b.mapping); err != nil {
		return err
	}
	if err := registry.WriteLUT(b.path("final_atlas", "levtiades_lookup_table.txt"), regions); err != nil {
		return err
	}
	if err := registry.WriteCSV(b.path("final_atlas", "levtiades_atlas.csv"), regions); err != nil {
		return err
	}
	fmt.Printf("  wrote metadata for %d regions\n", len(regions))
	return nil
}

// renderQCImages saves axial slice renderings of the hierarchical
// volume and of each aligned atlas in final label space.
func (b *Builder) renderQCImages(hier *volume.LabelVolume) error {
	qcDir := b.path("reports", "registration_qc")

	if err := visualization.NewViewer(hier, b.regions).SaveRegistrationQC("final_hierarchical", qcDir); err != nil {
		return err
	}

	channels, err := combine.MultiChannel(b.aligned, b.mapping)
	if err != nil {
		return err
	}
	for i, ch := range channels {
		name := fmt.Sprintf("aligned_%s", b.aligned[i].Source)
		if err := visualization.NewViewer(ch, b.regions).SaveRegistrationQC(name, qcDir); err != nil {
			return err
		}
	}
	return nil
}

// Summary returns the build results for reporting. Valid only after a
// successful Process.
func (b *Builder) Summary() *Summary {
	return &Summary{
		Mapping:   b.mapping,
		Overlaps:  b.overlaps,
		Takeovers: b.takeovers,
		Regions:   b.regions,
	}
}
