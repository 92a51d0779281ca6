package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var specValidate = validator.New()

// DefaultRecursionLimit mirrors the depth at which manifests stop being
// fetched: solutions are processed, their direct dependencies are processed,
// and anything declared below that only exists for bookkeeping.
const DefaultRecursionLimit = 2

// Spec is the root spec that names the solutions to check out.
type Spec struct {
	Solutions      []Solution `json:"solutions" yaml:"solutions" validate:"required,min=1,dive"`
	TargetOS       []string   `json:"target_os,omitempty" yaml:"target_os,omitempty"`
	RecursionLimit int        `json:"recursion_limit,omitempty" yaml:"recursion_limit,omitempty" validate:"gte=0"`
}

// Solution is one top-level, user-declared checkout.
type Solution struct {
	Name       string                 `json:"name" yaml:"name" validate:"required"`
	URL        string                 `json:"url" yaml:"url" validate:"required"`
	DepsFile   string                 `json:"deps_file,omitempty" yaml:"deps_file,omitempty"`
	CustomVars map[string]string      `json:"custom_vars,omitempty" yaml:"custom_vars,omitempty"`
	CustomDeps map[string]*Descriptor `json:"custom_deps,omitempty" yaml:"custom_deps,omitempty"`
}

// Clone returns a deep copy of the spec.
func (s Spec) Clone() Spec {
	clone := Spec{
		TargetOS:       cloneStringSlice(s.TargetOS),
		RecursionLimit: s.RecursionLimit,
	}
	if len(s.Solutions) > 0 {
		clone.Solutions = make([]Solution, len(s.Solutions))
		for i, sol := range s.Solutions {
			clone.Solutions[i] = sol.Clone()
		}
	}
	return clone
}

// Validate ensures the spec is self-consistent. Duplicate solution names are
// left to the resolver, which reports them as duplicate paths.
func (s Spec) Validate() error {
	if err := specValidate.Struct(s); err != nil {
		return fmt.Errorf("workflow: invalid spec: %w", err)
	}
	for idx, sol := range s.Solutions {
		if err := sol.Validate(); err != nil {
			return fmt.Errorf("workflow: solution[%d]: %w", idx, err)
		}
	}
	return nil
}

// Normalized clones the spec, fills defaults, and validates the result.
func (s Spec) Normalized() (Spec, error) {
	clone := s.Clone()
	if clone.RecursionLimit <= 0 {
		clone.RecursionLimit = DefaultRecursionLimit
	}
	for i := range clone.Solutions {
		clone.Solutions[i].Name = strings.Trim(strings.TrimSpace(clone.Solutions[i].Name), "/")
		clone.Solutions[i].URL = strings.TrimSpace(clone.Solutions[i].URL)
		if clone.Solutions[i].DepsFile == "" {
			clone.Solutions[i].DepsFile = DefaultDepsFile
		}
	}
	if err := clone.Validate(); err != nil {
		return Spec{}, err
	}
	return clone, nil
}

// SolutionNames returns the solution names in declaration order.
func (s Spec) SolutionNames() []string {
	names := make([]string, 0, len(s.Solutions))
	for _, sol := range s.Solutions {
		names = append(names, sol.Name)
	}
	return names
}

// Clone returns a deep copy of the solution.
func (sol Solution) Clone() Solution {
	clone := Solution{
		Name:       sol.Name,
		URL:        sol.URL,
		DepsFile:   sol.DepsFile,
		CustomVars: cloneStringMap(sol.CustomVars),
	}
	if len(sol.CustomDeps) > 0 {
		clone.CustomDeps = make(map[string]*Descriptor, len(sol.CustomDeps))
		for name, desc := range sol.CustomDeps {
			if desc == nil {
				clone.CustomDeps[name] = nil
				continue
			}
			copyDesc := *desc
			clone.CustomDeps[name] = &copyDesc
		}
	}
	return clone
}

// Validate ensures the solution is usable.
func (sol Solution) Validate() error {
	if strings.HasPrefix(sol.URL, "/") {
		return fmt.Errorf("solution %s: url %q must not be relative", sol.Name, sol.URL)
	}
	for _, name := range sortedKeys(sol.CustomDeps) {
		desc := sol.CustomDeps[name]
		if desc == nil {
			continue
		}
		if err := desc.Validate(); err != nil {
			return fmt.Errorf("solution %s custom_deps %s: %w", sol.Name, name, err)
		}
	}
	return nil
}

func sortedKeys[V any](values map[string]V) []string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	clone := make(map[string]string, len(values))
	for key, value := range values {
		clone[key] = value
	}
	return clone
}
