package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"levtiades/pkg/config"
)

// TestDownloadFile verifies download success and the rejection of bad
// responses, with partial files cleaned up
func TestDownloadFile(t *testing.T) {
	body := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(body))
		case "/tiny":
			w.Write([]byte("short"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Run("successful download", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "sub", "atlas.nii.gz")
		if err := DownloadFile(context.Background(), srv.URL+"/ok", dest); err != nil {
			t.Fatalf("DownloadFile failed: %v", err)
		}
		data, err := os.ReadFile(dest)
		if err != nil {
			t.Fatalf("Downloaded file unreadable: %v", err)
		}
		if len(data) != len(body) {
			t.Errorf("Expected %d bytes, got %d", len(body), len(data))
		}
	})

	t.Run("HTTP error status", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "atlas.nii.gz")
		if err := DownloadFile(context.Background(), srv.URL+"/missing", dest); err == nil {
			t.Error("Expected error for 404 response")
		}
	})

	t.Run("truncated body removes partial file", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "atlas.nii.gz")
		if err := DownloadFile(context.Background(), srv.URL+"/tiny", dest); err == nil {
			t.Error("Expected error for undersized download")
		}
		if _, err := os.Stat(dest); !os.IsNotExist(err) {
			t.Error("Partial file should have been removed")
		}
	})
}

// TestEnsureCortical verifies the skip, download and misconfiguration paths
func TestEnsureCortical(t *testing.T) {
	t.Run("files already present", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.DefaultConfig()
		cfg.Sources.Cortical.SourceImage = writeDummy(t, dir, "img.nii.gz")
		cfg.Sources.Cortical.SourceLabels = writeDummy(t, dir, "labels.txt")
		cfg.Sources.Cortical.ImageURL = ""
		cfg.Sources.Cortical.LabelsURL = ""

		if err := EnsureCortical(context.Background(), cfg); err != nil {
			t.Errorf("Expected no-op for present files: %v", err)
		}
	})

	t.Run("missing files without URLs", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.DefaultConfig()
		cfg.Sources.Cortical.SourceImage = filepath.Join(dir, "absent.nii.gz")
		cfg.Sources.Cortical.SourceLabels = filepath.Join(dir, "absent.txt")
		cfg.Sources.Cortical.ImageURL = ""
		cfg.Sources.Cortical.LabelsURL = ""

		if err := EnsureCortical(context.Background(), cfg); err == nil {
			t.Error("Expected configuration error when nothing can be downloaded")
		}
	})
}

// TestVerifySources verifies per-file reporting of missing inputs
func TestVerifySources(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Sources.Brainstem.Dir = dir
	cfg.Sources.Brainstem.Components = []config.Component{
		{Name: "LC", FullName: "Locus_Coeruleus_LC", File: "lc.nii.gz"},
	}
	writeDummy(t, dir, "lc.nii.gz")
	cfg.Sources.Subcortical.SourceImage = writeDummy(t, dir, "sub.nii.gz")
	cfg.Sources.Subcortical.SourceLabels = writeDummy(t, dir, "sub.txt")
	cfg.Sources.Cortical.SourceImage = writeDummy(t, dir, "cort.nii.gz")
	cfg.Sources.Cortical.SourceLabels = writeDummy(t, dir, "cort.txt")

	if err := VerifySources(cfg); err != nil {
		t.Errorf("Expected verification to pass: %v", err)
	}

	os.Remove(cfg.Sources.Cortical.SourceLabels)
	err := VerifySources(cfg)
	if err == nil {
		t.Fatal("Expected error for missing cortical labels")
	}
	if !strings.Contains(err.Error(), "cort.txt") {
		t.Errorf("Error should name the missing file: %v", err)
	}
}

func writeDummy(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("dummy"), 0644); err != nil {
		t.Fatalf("Failed to write dummy file: %v", err)
	}
	return path
}
