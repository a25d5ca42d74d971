package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest lists the own asset paths fetched into each
// cache namespace when the service installs
type Manifest struct {
	App   []string `yaml:"app"`
	Proxy []string `yaml:"proxy"`
}

// DefaultManifest returns the precache lists used when no
// manifest file is configured, appEntryPath is the designated own page
func DefaultManifest(appEntryPath string) Manifest {
	return Manifest{
		App: []string{
			appEntryPath,
			"/",
		},
		Proxy: []string{
			"/baremux/index.js",
			"/baremux/worker.js",
			"/uv/uv.bundle.js",
			"/uv/uv.config.js",
			"/uv/uv.sw.js",
			"/uv/uv.handler.js",
			"/epoxy/index.mjs",
		},
	}
}

// LoadManifest reads a YAML precache manifest from path, an empty path
// returns the default manifest for appEntryPath
func LoadManifest(path string, appEntryPath string) (Manifest, error) {
	if path == "" {
		return DefaultManifest(appEntryPath), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read precache manifest %s: %w", path, err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse precache manifest %s: %w", path, err)
	}

	for _, assetPath := range append(append([]string{}, manifest.App...), manifest.Proxy...) {
		if !strings.HasPrefix(assetPath, "/") {
			return Manifest{}, fmt.Errorf("invalid precache manifest %s: asset path %q must start with /", path, assetPath)
		}
	}

	return manifest, nil
}
