package sangeet

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DownloadOptions is a struct of options that can be passed to FetchWeights.
type DownloadOptions struct {
	MaxRetries    int
	RetryInterval int
	Verbose       bool
}

// NewDownloadOptions creates a DownloadOptions struct with default values.
// Override the values to specify different download options.
func NewDownloadOptions() DownloadOptions {
	d := DownloadOptions{}
	d.MaxRetries = 5
	d.RetryInterval = 5
	return d
}

type weightFile struct {
	name string
	url  string
}

// weightRegistry maps the supported pretrained model names to their
// checkpoint files in the upstream registries. OpenUnmix weights live on
// Zenodo, Demucs weights on the FAIR file host; neither is mirrored on a
// model hub.
var weightRegistry = map[string][]weightFile{
	"umxhq": {
		{name: "vocals-b62c91ce.pth", url: "https://zenodo.org/records/3370489/files/vocals-b62c91ce.pth?download=1"},
		{name: "drums-9619578f.pth", url: "https://zenodo.org/records/3370489/files/drums-9619578f.pth?download=1"},
		{name: "bass-8d85a5bd.pth", url: "https://zenodo.org/records/3370489/files/bass-8d85a5bd.pth?download=1"},
		{name: "other-b52fbbf7.pth", url: "https://zenodo.org/records/3370489/files/other-b52fbbf7.pth?download=1"},
	},
	"htdemucs": {
		{name: "955717e8-8726e21a.th", url: "https://dl.fbaipublicfiles.com/demucs/hybrid_transformer/955717e8-8726e21a.th"},
	},
}

// FetchWeights downloads the pretrained checkpoint files for modelName into
// the session's cache directory, laid out the way torch.hub expects
// (<cache>/hub/checkpoints), so the export drivers resolve every weight
// fetch as a cache hit. Already-cached files are skipped: the fetch is
// idempotent.
func (s *Session) FetchWeights(modelName string, opts DownloadOptions) ([]string, error) {
	return FetchWeights(modelName, s.options.CacheDir, opts)
}

// FetchWeights is the session-free variant of Session.FetchWeights,
// downloading into destination as TORCH_HOME.
func FetchWeights(modelName string, destination string, opts DownloadOptions) ([]string, error) {
	files, ok := weightRegistry[modelName]
	if !ok {
		return nil, fmt.Errorf("no registry entry for model %s", modelName)
	}
	checkpointDir := filepath.Join(destination, "hub", "checkpoints")
	if err := ensureDir(checkpointDir); err != nil {
		return nil, err
	}

	var paths []string
	for _, f := range files {
		destPath := filepath.Join(checkpointDir, f.name)
		if info, statErr := os.Stat(destPath); statErr == nil && info.Size() > 0 {
			if opts.Verbose {
				fmt.Printf("%s already cached (%.1f MB)\n", f.name, float64(info.Size())/(1024*1024))
			}
			paths = append(paths, destPath)
			continue
		}
		if err := downloadWithRetries(f.url, destPath, opts); err != nil {
			return nil, err
		}
		paths = append(paths, destPath)
	}
	return paths, nil
}

func downloadWithRetries(url string, destPath string, opts DownloadOptions) error {
	for i := 0; i < opts.MaxRetries; i++ {
		err := downloadFile(url, destPath, opts.Verbose)
		if err == nil {
			return nil
		}
		if opts.Verbose {
			fmt.Printf("Warning: attempt %d / %d failed, error: %s\n", i+1, opts.MaxRetries, err)
		}
		if i+1 == opts.MaxRetries {
			return fmt.Errorf("failed to download %s after %d attempts: %w", url, opts.MaxRetries, err)
		}
		time.Sleep(time.Duration(opts.RetryInterval) * time.Second)
	}
	return nil
}

// downloadFile fetches url into destPath through a temp file and rename, so
// an interrupted download never leaves a partial checkpoint behind.
func downloadFile(url string, destPath string, verbose bool) error {
	if verbose {
		fmt.Printf("Downloading %s\n", url)
	}
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	written, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmpPath)
		if err == nil {
			err = closeErr
		}
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if verbose {
		fmt.Printf("Downloaded %.1f MB to %s\n", float64(written)/(1024*1024), destPath)
	}
	return nil
}
