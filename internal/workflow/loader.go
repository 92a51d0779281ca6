package workflow

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseSpecYAML decodes a root spec from YAML/JSON bytes.
func ParseSpecYAML(data []byte) (Spec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Spec{}, fmt.Errorf("workflow: spec payload is empty")
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("workflow: decode spec: %w", err)
	}
	return spec.Normalized()
}

// LoadSpecReader reads spec data from an io.Reader.
func LoadSpecReader(r io.Reader) (Spec, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Spec{}, fmt.Errorf("workflow: read spec: %w", err)
	}
	return ParseSpecYAML(content)
}

// LoadSpecFile loads a root spec from an explicit file path.
func LoadSpecFile(path string) (Spec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	spec, parseErr := ParseSpecYAML(content)
	if parseErr != nil {
		return Spec{}, fmt.Errorf("workflow: %s: %w", path, parseErr)
	}
	return spec, nil
}

// ParseManifestYAML decodes a dependency manifest. An empty payload is an
// empty manifest.
func ParseManifestYAML(data []byte) (Manifest, error) {
	var manifest Manifest
	if len(bytes.TrimSpace(data)) == 0 {
		return manifest, nil
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("workflow: decode manifest: %w", err)
	}
	return manifest, nil
}

// LoadManifestFile loads a manifest from disk. A missing file yields an empty
// manifest and found=false.
func LoadManifestFile(path string) (Manifest, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if isNotExist(err) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	manifest, parseErr := ParseManifestYAML(content)
	if parseErr != nil {
		return Manifest{}, true, fmt.Errorf("workflow: %s: %w", path, parseErr)
	}
	return manifest, true, nil
}

// Evaluator turns a manifest location into evaluated entries.
type Evaluator interface {
	Evaluate(path string, opts EvalOptions) (Evaluated, bool, error)
}

// FileEvaluator reads the manifest from disk on every call.
type FileEvaluator struct{}

// Evaluate loads and evaluates the manifest at path.
func (FileEvaluator) Evaluate(path string, opts EvalOptions) (Evaluated, bool, error) {
	manifest, found, err := LoadManifestFile(path)
	if err != nil || !found {
		return Evaluated{}, found, err
	}
	evaluated, err := manifest.Evaluate(opts)
	if err != nil {
		return Evaluated{}, true, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return evaluated, true, nil
}
