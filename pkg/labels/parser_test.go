package labels

import (
	"os"
	"path/filepath"
	"testing"
)

// writeNameFile creates a temporary label-name file with the given content
func writeNameFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labels.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write label file: %v", err)
	}
	return path
}

// TestParseIndexedFormat verifies parsing of "index: name" files
func TestParseIndexedFormat(t *testing.T) {
	path := writeNameFile(t, `# Destrieux-style label file
1: G_and_S_frontomargin
2: G_and_S_occipital_inf

42: Medial_wall
`)
	names, err := ParseNameFile(path)
	if err != nil {
		t.Fatalf("ParseNameFile failed: %v", err)
	}

	if len(names) != 3 {
		t.Errorf("Expected 3 names, got %d", len(names))
	}
	if names[1] != "G_and_S_frontomargin" {
		t.Errorf("Expected name for label 1 to be G_and_S_frontomargin, got %q", names[1])
	}
	if names[42] != "Medial_wall" {
		t.Errorf("Expected name for label 42 to be Medial_wall, got %q", names[42])
	}
}

// TestParseBareFormat verifies name-per-line files getting implied 1-based indices
func TestParseBareFormat(t *testing.T) {
	path := writeNameFile(t, `HIP-head-lh
THA-VPm-lh
r HIP-head
`)
	names, err := ParseNameFile(path)
	if err != nil {
		t.Fatalf("ParseNameFile failed: %v", err)
	}

	if len(names) != 3 {
		t.Errorf("Expected 3 names, got %d", len(names))
	}
	if names[1] != "HIP-head-lh" {
		t.Errorf("Expected name for label 1 to be HIP-head-lh, got %q", names[1])
	}
	if names[3] != "r HIP-head" {
		t.Errorf("Expected name for label 3 to be r HIP-head, got %q", names[3])
	}
}

// TestParseSkipsCommentsAndBlanks verifies that comments and blank lines
// do not shift the implied indices of a bare-format file
func TestParseSkipsCommentsAndBlanks(t *testing.T) {
	path := writeNameFile(t, `# header comment

First_Region

# interleaved comment
Second_Region
`)
	names, err := ParseNameFile(path)
	if err != nil {
		t.Fatalf("ParseNameFile failed: %v", err)
	}
	if names[1] != "First_Region" || names[2] != "Second_Region" {
		t.Errorf("Comments or blanks shifted indices: %v", names)
	}
}

// TestParseErrors verifies the failure modes of ParseNameFile
func TestParseErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := ParseNameFile(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
			t.Error("Expected error for missing file")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeNameFile(t, "# only a comment\n")
		if _, err := ParseNameFile(path); err == nil {
			t.Error("Expected error for file with no content lines")
		}
	})

	t.Run("colon without numeric index", func(t *testing.T) {
		path := writeNameFile(t, "note: this file has a colon but no indices\n")
		if _, err := ParseNameFile(path); err == nil {
			t.Error("Expected error when no parsable indexed lines exist")
		}
	})
}
