package scm

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Options carries the per-node context a checkout runs in.
type Options struct {
	// Root is the checkout root.
	Root string
	// Name is the dependency path being processed.
	Name string
	// Dir is the absolute checkout directory for Name.
	Dir     string
	Verbose bool
	Logger  *slog.Logger
}

// Checkout performs one source-control command against one location and
// returns the files it touched.
type Checkout interface {
	RunCommand(ctx context.Context, command string, opts Options, args []string) ([]string, error)
}

// Factory constructs a checkout for a location.
type Factory func(location string) (Checkout, error)

// Registry maps location schemes to checkout factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// DefaultRegistry returns a registry with the git backend installed for the
// schemes git understands.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	for _, scheme := range []string{"git", "http", "https", "ssh", "file", "git+ssh"} {
		reg.MustRegister(scheme, NewGit)
	}
	return reg
}

// Register installs a factory. Returns an error if the scheme already exists.
func (r *Registry) Register(scheme string, factory Factory) error {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" {
		return fmt.Errorf("scm: scheme is required")
	}
	if factory == nil {
		return fmt.Errorf("scm: factory is required for %s", scheme)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[scheme]; exists {
		return fmt.Errorf("scm: %s already registered", scheme)
	}
	r.factories[scheme] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(scheme string, factory Factory) {
	if err := r.Register(scheme, factory); err != nil {
		panic(err)
	}
}

// Create builds the checkout for a location based on its scheme.
func (r *Registry) Create(location string) (Checkout, error) {
	scheme, err := Scheme(location)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.factories[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("scm: no backend for scheme %q (%s)", scheme, location)
	}
	return factory(location)
}

// Schemes returns a sorted list of registered schemes.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.factories))
	for scheme := range r.factories {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

var scpLike = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[^/]`)

// Scheme extracts the lower-cased scheme of a location. scp-style locations
// (user@host:path) report ssh.
func Scheme(location string) (string, error) {
	if scpLike.MatchString(location) {
		return "ssh", nil
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("scm: parse %s: %w", location, err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("scm: %s has no scheme", location)
	}
	return strings.ToLower(parsed.Scheme), nil
}

// SplitRevision separates a trailing @revision from a location. The @ of
// scp-style user names is left alone.
func SplitRevision(location string) (string, string) {
	at := strings.LastIndex(location, "@")
	if at < 0 || at <= strings.LastIndex(location, "/") {
		return location, ""
	}
	if at == strings.Index(location, "@") && scpLike.MatchString(location) {
		return location, ""
	}
	return location[:at], location[at+1:]
}
