// Package fetch handles source acquisition and project setup: making
// sure the three atlas datasets are on disk, copying them into the
// project tree, and verifying their spatial metadata is compatible
// before the pipeline runs.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"levtiades/pkg/config"
)

// minDownloadBytes rejects truncated downloads; even the labels file
// is larger than this.
const minDownloadBytes = 256

// DownloadFile fetches a URL to a destination path, creating parent
// directories. A non-200 response or a suspiciously small body is an
// error and the partial file is removed.
func DownloadFile(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid download URL %s: %v", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download of %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s failed: HTTP %d", url, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", dest, err)
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed writing %s: %v", dest, err)
	}
	if n < minDownloadBytes {
		os.Remove(dest)
		return fmt.Errorf("download of %s produced only %d bytes, likely corrupted", url, n)
	}

	log.WithFields(log.Fields{"url": url, "dest": dest, "bytes": n}).Info("downloaded")
	return nil
}

// EnsureCortical makes the cortical atlas available: a no-op when the
// files already exist, an HTTP download when URLs are configured, and
// a fatal configuration error otherwise.
func EnsureCortical(ctx context.Context, cfg *config.Config) error {
	cort := cfg.Sources.Cortical

	haveImg := fileExists(cort.SourceImage)
	haveLbl := fileExists(cort.SourceLabels)
	if haveImg && haveLbl {
		fmt.Println("Cortical atlas already present, skipping download")
		return nil
	}

	if cort.ImageURL == "" || cort.LabelsURL == "" {
		return fmt.Errorf("cortical atlas missing (%s) and no download URLs configured", cort.SourceImage)
	}

	if !haveImg {
		if err := DownloadFile(ctx, cort.ImageURL, cort.SourceImage); err != nil {
			return err
		}
	}
	if !haveLbl {
		if err := DownloadFile(ctx, cort.LabelsURL, cort.SourceLabels); err != nil {
			return err
		}
	}
	return nil
}

// VerifySources checks that every distributed input named by the
// configuration exists on disk, reporting which brainstem components
// were found. Any missing artifact is fatal before anything is written.
func VerifySources(cfg *config.Config) error {
	found := 0
	for _, comp := range cfg.Sources.Brainstem.Components {
		p := filepath.Join(cfg.Sources.Brainstem.Dir, comp.File)
		if fileExists(p) {
			found++
		} else {
			return fmt.Errorf("missing brainstem component %s: %s", comp.Name, p)
		}
	}
	fmt.Printf("Brainstem components found: %d/%d\n", found, len(cfg.Sources.Brainstem.Components))

	for _, p := range []string{
		cfg.Sources.Subcortical.SourceImage,
		cfg.Sources.Subcortical.SourceLabels,
		cfg.Sources.Cortical.SourceImage,
		cfg.Sources.Cortical.SourceLabels,
	} {
		if !fileExists(p) {
			return fmt.Errorf("missing source atlas file: %s", p)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
