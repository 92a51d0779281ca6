package workflow

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind tags which variant a Descriptor holds.
type Kind string

const (
	KindPinned Kind = "pinned"
	KindAlias  Kind = "alias"
	KindCopy   Kind = "copy"
)

// Descriptor is the declared location of a dependency path. Exactly one
// variant is populated according to Kind.
type Descriptor struct {
	Kind Kind `json:"kind" yaml:"-"`
	// URL is the location of a pinned dependency. A leading slash makes it
	// relative to the declaring node's URL.
	URL string `json:"url,omitempty" yaml:"-"`
	// Target and Subpath describe an alias: use the location that Target's
	// manifest declares for Subpath (defaults to the aliasing path).
	Target  string `json:"target,omitempty" yaml:"-"`
	Subpath string `json:"subpath,omitempty" yaml:"-"`
	// NoFetch keeps an alias in the tree without ever checking it out.
	NoFetch bool `json:"no_fetch,omitempty" yaml:"-"`
	// Source is the tree-relative file a copy entry duplicates.
	Source string `json:"source,omitempty" yaml:"-"`
}

// Pinned returns a descriptor for a fixed location.
func Pinned(url string) Descriptor {
	return Descriptor{Kind: KindPinned, URL: url}
}

// Alias returns a From-style descriptor.
func Alias(target, subpath string) Descriptor {
	return Descriptor{Kind: KindAlias, Target: target, Subpath: subpath}
}

// Copy returns a File-style descriptor.
func Copy(source string) Descriptor {
	return Descriptor{Kind: KindCopy, Source: source}
}

// Validate ensures the populated fields match the kind.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindPinned:
		if strings.TrimSpace(d.URL) == "" {
			return fmt.Errorf("workflow: pinned dependency requires a url")
		}
	case KindAlias:
		if CleanPath(d.Target) == "" {
			return fmt.Errorf("workflow: from dependency requires a target")
		}
	case KindCopy:
		if CleanPath(d.Source) == "" {
			return fmt.Errorf("workflow: file dependency requires a source")
		}
	default:
		return fmt.Errorf("workflow: unknown dependency kind %q", d.Kind)
	}
	return nil
}

// String renders the descriptor the way manifests spell it.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindAlias:
		if d.Subpath != "" {
			return fmt.Sprintf("From(%q, %q)", d.Target, d.Subpath)
		}
		return fmt.Sprintf("From(%q)", d.Target)
	case KindCopy:
		return fmt.Sprintf("File(%q)", d.Source)
	default:
		return d.URL
	}
}

type descriptorFields struct {
	URL     string `yaml:"url"`
	From    string `yaml:"from"`
	Subpath string `yaml:"subpath"`
	Fetch   *bool  `yaml:"fetch"`
	File    string `yaml:"file"`
}

// UnmarshalYAML accepts either a plain location string or a mapping with one
// of url, from, or file.
func (d *Descriptor) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var url string
		if err := node.Decode(&url); err != nil {
			return err
		}
		*d = Pinned(strings.TrimSpace(url))
		return d.Validate()
	}
	var fields descriptorFields
	if err := node.Decode(&fields); err != nil {
		return fmt.Errorf("workflow: line %d: %w", node.Line, err)
	}
	set := 0
	for _, value := range []string{fields.URL, fields.From, fields.File} {
		if strings.TrimSpace(value) != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("workflow: line %d: dependency must set exactly one of url, from, file", node.Line)
	}
	switch {
	case fields.From != "":
		*d = Alias(CleanPath(fields.From), CleanPath(fields.Subpath))
		d.NoFetch = fields.Fetch != nil && !*fields.Fetch
	case fields.File != "":
		*d = Copy(CleanPath(fields.File))
	default:
		*d = Pinned(strings.TrimSpace(fields.URL))
	}
	return d.Validate()
}

// Hook is a post-sync action declared by a manifest. Hooks are recorded on
// the tree but not executed.
type Hook struct {
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Pattern string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Action  []string `json:"action" yaml:"action"`
}

// Dep is one declared deps entry. A nil Descriptor removes the path.
type Dep struct {
	Name       string
	Descriptor *Descriptor
}

// DepList is a deps mapping kept in the order the manifest declares it.
type DepList []Dep

// Get returns the descriptor declared for name.
func (l DepList) Get(name string) (*Descriptor, bool) {
	for _, dep := range l {
		if dep.Name == name {
			return dep.Descriptor, true
		}
	}
	return nil, false
}

// UnmarshalYAML walks the mapping node directly so key order survives.
func (l *DepList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
		*l = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("workflow: line %d: deps must be a mapping", node.Line)
	}
	out := make(DepList, 0, len(node.Content)/2)
	seen := make(map[string]struct{}, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var name string
		if err := key.Decode(&name); err != nil {
			return fmt.Errorf("workflow: line %d: %w", key.Line, err)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("workflow: line %d: dependency %q declared twice", key.Line, name)
		}
		seen[name] = struct{}{}
		dep := Dep{Name: name}
		if value.Kind != yaml.ScalarNode || value.ShortTag() != "!!null" {
			dep.Descriptor = new(Descriptor)
			if err := value.Decode(dep.Descriptor); err != nil {
				return err
			}
		}
		out = append(out, dep)
	}
	*l = out
	return nil
}

// Manifest is the per-repository dependency file.
type Manifest struct {
	Vars             map[string]string  `yaml:"vars,omitempty"`
	Deps             DepList            `yaml:"deps,omitempty"`
	DepsOS           map[string]DepList `yaml:"deps_os,omitempty"`
	Hooks            []Hook             `yaml:"hooks,omitempty"`
	UseRelativePaths bool               `yaml:"use_relative_paths,omitempty"`
}

// EvalOptions carries the context a manifest is evaluated in.
type EvalOptions struct {
	// BasePath is the dependency path owning the manifest; used when the
	// manifest sets use_relative_paths.
	BasePath string
	// CustomVars override the manifest's vars.
	CustomVars map[string]string
	// TargetOS selects deps_os overlays. With more than one OS, entries
	// already present win so the broadest set is collected.
	TargetOS []string
	// Overrides replace entries by full path; a nil value removes the entry.
	Overrides map[string]*Descriptor
	// AppendOverrides adds override entries the manifest does not declare.
	AppendOverrides bool
}

// Entry is one evaluated dependency.
type Entry struct {
	Name       string
	Descriptor Descriptor
}

// Evaluated is the result of evaluating a manifest: entries in declaration
// order, followed by appended overrides in path order.
type Evaluated struct {
	Entries []Entry
	Hooks   []Hook
}

// Lookup returns the descriptor declared for name.
func (e Evaluated) Lookup(name string) (Descriptor, bool) {
	for _, entry := range e.Entries {
		if entry.Name == name {
			return entry.Descriptor, true
		}
	}
	return Descriptor{}, false
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Evaluate applies vars, OS overlays, relative paths, and overrides, and
// returns the resulting entries.
func (m Manifest) Evaluate(opts EvalOptions) (Evaluated, error) {
	vars := make(map[string]string, len(m.Vars)+len(opts.CustomVars))
	for key, value := range m.Vars {
		vars[key] = value
	}
	for key, value := range opts.CustomVars {
		vars[key] = value
	}
	merged := newOrderedDeps(len(m.Deps))
	for _, dep := range m.Deps {
		merged.set(dep.Name, dep.Descriptor)
	}
	for _, osName := range opts.TargetOS {
		for _, dep := range m.DepsOS[osName] {
			if _, exists := merged.values[dep.Name]; exists && len(opts.TargetOS) > 1 {
				continue
			}
			merged.set(dep.Name, dep.Descriptor)
		}
	}
	entries := newOrderedDeps(len(merged.names))
	for _, name := range merged.names {
		full := CleanPath(name)
		if m.UseRelativePaths && opts.BasePath != "" {
			full = CleanPath(path.Join(opts.BasePath, name))
		}
		if full == "" || strings.HasPrefix(full, "..") {
			return Evaluated{}, fmt.Errorf("workflow: invalid dependency path %q", name)
		}
		entries.set(full, merged.values[name])
	}
	for _, name := range sortedKeys(opts.Overrides) {
		full := CleanPath(name)
		if _, declared := entries.values[full]; declared || opts.AppendOverrides {
			entries.set(full, opts.Overrides[name])
		}
	}
	result := Evaluated{Hooks: cloneHooks(m.Hooks)}
	for _, name := range entries.names {
		desc := entries.values[name]
		if desc == nil {
			continue
		}
		expanded, err := expandDescriptor(*desc, vars)
		if err != nil {
			return Evaluated{}, fmt.Errorf("workflow: %s: %w", name, err)
		}
		result.Entries = append(result.Entries, Entry{Name: name, Descriptor: expanded})
	}
	return result, nil
}

// orderedDeps is a path to descriptor map that remembers first insertion.
type orderedDeps struct {
	names  []string
	values map[string]*Descriptor
}

func newOrderedDeps(size int) *orderedDeps {
	return &orderedDeps{names: make([]string, 0, size), values: make(map[string]*Descriptor, size)}
}

func (o *orderedDeps) set(name string, desc *Descriptor) {
	if _, ok := o.values[name]; !ok {
		o.names = append(o.names, name)
	}
	o.values[name] = desc
}

func expandDescriptor(desc Descriptor, vars map[string]string) (Descriptor, error) {
	var err error
	expand := func(value string) string {
		if err != nil || value == "" {
			return value
		}
		return varPattern.ReplaceAllStringFunc(value, func(match string) string {
			key := varPattern.FindStringSubmatch(match)[1]
			replacement, ok := vars[key]
			if !ok {
				if err == nil {
					err = fmt.Errorf("undefined var %q", key)
				}
				return match
			}
			return replacement
		})
	}
	desc.URL = expand(desc.URL)
	desc.Target = expand(desc.Target)
	desc.Subpath = expand(desc.Subpath)
	desc.Source = expand(desc.Source)
	return desc, err
}

func cloneHooks(hooks []Hook) []Hook {
	if len(hooks) == 0 {
		return nil
	}
	out := make([]Hook, len(hooks))
	for i, hook := range hooks {
		out[i] = Hook{Name: hook.Name, Pattern: hook.Pattern, Action: cloneStringSlice(hook.Action)}
	}
	return out
}
