// Package config provides configuration loading and management for the
// levtiades atlas builder. It handles loading configuration from YAML
// files and provides default values matching the published source
// atlas layouts.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Component is one single-nucleus mask file of the brainstem atlas,
// assigned its label by position in the component list.
type Component struct {
	// Name is the short nucleus name (e.g. LC, NTS).
	Name string `yaml:"name"`

	// FullName is the anatomical region name used in the registry.
	FullName string `yaml:"fullName"`

	// File is the mask file path relative to the brainstem atlas dir.
	File string `yaml:"file"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Source atlas locations and properties
	Sources struct {
		Brainstem struct {
			// Dir is the folder holding the brainstem component masks
			Dir string `yaml:"dir"`

			// Components are combined in order; label = position + 1
			Components []Component `yaml:"components"`

			// Space is the native template space of the atlas
			Space string `yaml:"space"`

			// Strategy selects how the atlas reaches the target grid:
			// "same-space" or "registration"
			Strategy string `yaml:"strategy"`
		} `yaml:"brainstem"`

		Subcortical struct {
			// SourceImage and SourceLabels are the distributed files
			// setup copies into the project tree
			SourceImage  string `yaml:"sourceImage"`
			SourceLabels string `yaml:"sourceLabels"`

			// Image is the subcortical label volume path, relative to
			// the project base dir
			Image string `yaml:"image"`

			// Labels is the region-name file path
			Labels string `yaml:"labels"`

			// Space is the native template space of the atlas
			Space string `yaml:"space"`

			// Strategy selects how the atlas reaches the target grid
			Strategy string `yaml:"strategy"`
		} `yaml:"subcortical"`

		Cortical struct {
			// SourceImage and SourceLabels are the downloaded files
			// setup copies into the project tree
			SourceImage  string `yaml:"sourceImage"`
			SourceLabels string `yaml:"sourceLabels"`

			// Image is the cortical label volume path, relative to
			// the project base dir
			Image string `yaml:"image"`

			// Labels is the region-name file path
			Labels string `yaml:"labels"`

			// Space is the native template space of the atlas
			Space string `yaml:"space"`

			// Strategy selects how the atlas reaches the target grid
			Strategy string `yaml:"strategy"`

			// Exclude lists original labels to drop (medial wall)
			Exclude []int `yaml:"exclude"`

			// ImageURL and LabelsURL are fetch locations used when the
			// files are absent from disk
			ImageURL  string `yaml:"imageURL"`
			LabelsURL string `yaml:"labelsURL"`
		} `yaml:"cortical"`
	} `yaml:"sources"`

	// Target grid parameters
	Target struct {
		// Space names the target template space
		Space string `yaml:"space"`

		// Resolution is the target voxel size in mm
		Resolution float64 `yaml:"resolution"`

		// Template is the reference template file defining the grid
		Template string `yaml:"template"`

		// Templates maps space names to local template files, used to
		// pick the moving template for registration
		Templates map[string]string `yaml:"templates"`
	} `yaml:"target"`

	// Output parameters
	Output struct {
		// BaseDir is the project root all stage outputs live under
		BaseDir string `yaml:"baseDir"`

		// SaveQCImages controls rendering of registration QC slices
		SaveQCImages bool `yaml:"saveQCImages"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Brainstem atlas defaults (Levinson-Bari 2022 layout)
	cfg.Sources.Brainstem.Dir = "downloaded_atlases/Levinson-Bari Limbic Brainstem Atlas (Levinson 2022)"
	cfg.Sources.Brainstem.Space = "MNI152NLin2009bAsym"
	cfg.Sources.Brainstem.Strategy = "same-space"
	cfg.Sources.Brainstem.Components = []Component{
		{Name: "LC", FullName: "Locus_Coeruleus_LC", File: "mixed/01_LC_ATLAS_2022a.nii.gz"},
		{Name: "NTS", FullName: "Nucleus_Tractus_Solitarius_NTS", File: "midline/02_NTS_ATLAS_2022a.nii.gz"},
		{Name: "VTA", FullName: "Ventral_Tegmental_Area_VTA", File: "midline/03_VTA_ATLAS_2022a.nii.gz"},
		{Name: "PAG", FullName: "Periaqueductal_Gray_PAG", File: "midline/04_PAG_ATLAS_2022a.nii.gz"},
		{Name: "DRN", FullName: "Dorsal_Raphe_Nucleus_DRN", File: "midline/05_DRN_ATLAS_2022ai.nii.gz"},
	}

	// Subcortical atlas defaults (Tian S4)
	cfg.Sources.Subcortical.SourceImage = "downloaded_atlases/Tian2020MSA_v1.4/3T/Subcortex-Only/Tian_Subcortex_S4_3T.nii.gz"
	cfg.Sources.Subcortical.SourceLabels = "downloaded_atlases/Tian2020MSA_v1.4/3T/Subcortex-Only/Tian_Subcortex_S4_3T_label.txt"
	cfg.Sources.Subcortical.Image = "raw_atlases/tian_subcortical.nii.gz"
	cfg.Sources.Subcortical.Labels = "raw_atlases/tian_labels.txt"
	cfg.Sources.Subcortical.Space = "MNI152NLin2009cAsym"
	cfg.Sources.Subcortical.Strategy = "same-space"

	// Cortical atlas defaults (Destrieux); labels 42 and 117 are the
	// left and right medial wall
	cfg.Sources.Cortical.SourceImage = "downloaded_atlases/destrieux_atlas/destrieux_cortical.nii.gz"
	cfg.Sources.Cortical.SourceLabels = "downloaded_atlases/destrieux_atlas/destrieux_labels.txt"
	cfg.Sources.Cortical.Image = "raw_atlases/destrieux_cortical.nii.gz"
	cfg.Sources.Cortical.Labels = "raw_atlases/destrieux_labels.txt"
	cfg.Sources.Cortical.Space = "MNI152NLin2009aAsym"
	cfg.Sources.Cortical.Strategy = "same-space"
	cfg.Sources.Cortical.Exclude = []int{42, 117}

	// Target grid defaults
	cfg.Target.Space = "MNI152NLin2009cAsym"
	cfg.Target.Resolution = 2
	cfg.Target.Template = "templates/tpl-MNI152NLin2009cAsym_res-02_desc-brain_T1w.nii.gz"
	cfg.Target.Templates = map[string]string{
		"MNI152NLin2009cAsym": "templates/tpl-MNI152NLin2009cAsym_res-02_desc-brain_T1w.nii.gz",
		"MNI152NLin6Asym":     "templates/tpl-MNI152NLin6Asym_res-02_desc-brain_T1w.nii.gz",
	}

	// Output defaults
	cfg.Output.BaseDir = "levtiades_atlas"
	cfg.Output.SaveQCImages = true
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
