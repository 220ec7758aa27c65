package sangeet

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("checkpoint-bytes"))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "vocals.pth")
	require.NoError(t, downloadFile(server.URL, destPath, false))

	data, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, "checkpoint-bytes", string(data))
	assert.NoFileExists(t, destPath+".tmp")
}

func TestDownloadFileRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "vocals.pth")
	err := downloadFile(server.URL, destPath, false)
	assert.ErrorContains(t, err, "HTTP 404")
	assert.NoFileExists(t, destPath)
}

func TestDownloadWithRetriesRecovers(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	opts := NewDownloadOptions()
	opts.RetryInterval = 0
	destPath := filepath.Join(t.TempDir(), "weights.th")
	require.NoError(t, downloadWithRetries(server.URL, destPath, opts))
	assert.Equal(t, 3, attempts)
}

func TestDownloadWithRetriesGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	opts := DownloadOptions{MaxRetries: 2, RetryInterval: 0}
	err := downloadWithRetries(server.URL, filepath.Join(t.TempDir(), "weights.th"), opts)
	assert.ErrorContains(t, err, "after 2 attempts")
}

func TestFetchWeightsUnknownModel(t *testing.T) {
	_, err := FetchWeights("umxl", t.TempDir(), NewDownloadOptions())
	assert.ErrorContains(t, err, "no registry entry")
}

func TestFetchWeightsSkipsCachedFiles(t *testing.T) {
	cacheDir := t.TempDir()
	checkpointDir := filepath.Join(cacheDir, "hub", "checkpoints")
	require.NoError(t, os.MkdirAll(checkpointDir, os.ModePerm))
	cached := filepath.Join(checkpointDir, "955717e8-8726e21a.th")
	require.NoError(t, os.WriteFile(cached, []byte("cached"), 0o644))

	// a cached checkpoint short-circuits before any network access
	paths, err := FetchWeights("htdemucs", cacheDir, NewDownloadOptions())
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, cached, paths[0])
}

func TestWeightRegistryLayout(t *testing.T) {
	require.Len(t, weightRegistry["umxhq"], 4)
	for _, f := range weightRegistry["umxhq"] {
		assert.Contains(t, f.url, "zenodo.org")
		assert.Contains(t, f.url, f.name)
	}
	require.Len(t, weightRegistry["htdemucs"], 1)
	assert.Contains(t, weightRegistry["htdemucs"][0].url, "dl.fbaipublicfiles.com")
}
