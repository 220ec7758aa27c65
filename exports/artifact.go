package exports

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/YashvardhanATRgithub/Sangeet/util"
)

// Artifact is a complete, verified export: the package directory on disk,
// its recorded interface, and the optional archive.
type Artifact struct {
	// PackagePath is the .mlpackage directory.
	PackagePath string
	// ManifestPath is the sidecar interface manifest written next to the
	// package.
	ManifestPath string
	// ArchivePath is the .zip of the package directory, empty when
	// archiving was not requested.
	ArchivePath string
	Interface   Interface
}

// packageManifest is the subset of the .mlpackage Manifest.json needed to
// establish that the converter wrote a well-formed bundle.
type packageManifest struct {
	FileFormatVersion string                 `json:"fileFormatVersion"`
	ItemInfoEntries   map[string]interface{} `json:"itemInfoEntries"`
}

// exportManifest is the sidecar record of the declared interface. Re-running
// an export with unchanged inputs produces an identical record apart from
// the timestamp.
type exportManifest struct {
	Model     ModelSpec `json:"model"`
	Interface Interface `json:"interface"`
	CreatedAt time.Time `json:"created_at"`
}

// finishPackage verifies the package the conversion driver wrote, records the
// declared interface next to it, and optionally archives it. Any failure
// discards whatever was already written: an export either yields a complete
// valid package or nothing.
func finishPackage(ctx context.Context, packagePath string, iface Interface, model ModelSpec, archive bool) (*Artifact, error) {
	if err := verifyPackage(packagePath); err != nil {
		return nil, errors.Join(err, discardPartial(packagePath))
	}

	artifact := &Artifact{
		PackagePath: packagePath,
		Interface:   iface,
	}

	manifestPath := strings.TrimSuffix(packagePath, filepath.Ext(packagePath)) + ".export.json"
	record := exportManifest{Model: model, Interface: iface, CreatedAt: time.Now().UTC()}
	recordBytes, err := jsoniter.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, errors.Join(err, discardPartial(packagePath))
	}
	if err := util.WriteFileBytes(manifestPath, recordBytes); err != nil {
		return nil, errors.Join(fmt.Errorf("writing interface manifest: %w", err), discardPartial(packagePath))
	}
	artifact.ManifestPath = manifestPath

	if archive {
		archivePath := strings.TrimSuffix(packagePath, filepath.Ext(packagePath)) + ".zip"
		if err := util.ArchiveDirectory(ctx, packagePath, archivePath); err != nil {
			return nil, errors.Join(fmt.Errorf("archiving package: %w", err), discardPartial(packagePath, manifestPath, archivePath))
		}
		artifact.ArchivePath = archivePath
	}
	return artifact, nil
}

// discardPartial removes whatever an aborted export already wrote.
func discardPartial(paths ...string) error {
	var err error
	for _, p := range paths {
		err = errors.Join(err, os.RemoveAll(p))
	}
	return err
}

// verifyPackage checks that the converter left a well-formed .mlpackage
// bundle: the directory exists, is non-empty, and carries a parseable
// Manifest.json.
func verifyPackage(packagePath string) error {
	info, err := os.Stat(packagePath)
	if err != nil {
		return fmt.Errorf("converted package %s missing: %w", packagePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("converted package %s is not a directory", packagePath)
	}
	entries, err := os.ReadDir(packagePath)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("converted package %s is empty", packagePath)
	}

	manifestBytes, err := os.ReadFile(filepath.Join(packagePath, "Manifest.json"))
	if err != nil {
		return fmt.Errorf("converted package %s has no manifest: %w", packagePath, err)
	}
	var manifest packageManifest
	if err := jsoniter.Unmarshal(manifestBytes, &manifest); err != nil {
		return fmt.Errorf("converted package %s has a corrupt manifest: %w", packagePath, err)
	}
	if manifest.FileFormatVersion == "" {
		return fmt.Errorf("converted package %s manifest declares no format version", packagePath)
	}
	return nil
}
