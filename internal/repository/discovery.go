package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"sourcekit/internal/domain"
	"sourcekit/internal/security"
)

// ManifestFile is the file name a sideloaded extension directory must contain.
const ManifestFile = "extension.yaml"

// Manifest is the on-disk description of a sideloaded extension.
type Manifest struct {
	domain.Descriptor `yaml:",inline"`
	// SourceFile is relative to the manifest's directory. Defaults to
	// source.js, or source.wasm for WASM extensions.
	SourceFile string `yaml:"source"`
}

// Local is a sideloaded extension found on disk.
type Local struct {
	Descriptor domain.Descriptor
	SourcePath string
}

// ScanDirectories walks each directory looking for <dir>/<id>/extension.yaml.
// Malformed manifests and manifests whose source is missing or escapes the
// extension directory are skipped.
func ScanDirectories(dirs []string) ([]Local, error) {
	var found []Local
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read extension dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			local, ok, err := readManifest(filepath.Join(dir, entry.Name()), entry.Name())
			if err != nil {
				return nil, err
			}
			if ok {
				found = append(found, local)
			}
		}
	}
	return found, nil
}

func readManifest(extDir, dirName string) (Local, bool, error) {
	manifestPath := filepath.Join(extDir, ManifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Local{}, false, nil
		}
		return Local{}, false, fmt.Errorf("read manifest %s: %w", manifestPath, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Local{}, false, nil
	}
	if m.ID == "" {
		m.ID = dirName
	}
	if m.Name == "" {
		m.Name = m.ID
	}

	ref := m.SourceFile
	if ref == "" {
		ref = "source.js"
		if m.Engine == domain.EngineWASM {
			ref = "source.wasm"
		}
	}
	if m.Engine == "" && strings.HasSuffix(ref, ".wasm") {
		m.Engine = domain.EngineWASM
	}

	guard, err := security.NewPathGuard(extDir)
	if err != nil {
		return Local{}, false, nil
	}
	sourcePath, err := guard.Resolve(ref)
	if err != nil {
		return Local{}, false, nil
	}
	return Local{Descriptor: m.Descriptor, SourcePath: sourcePath}, true, nil
}
