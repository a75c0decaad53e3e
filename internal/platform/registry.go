package platform

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mediapub/internal/config"
	"mediapub/internal/failure"
	"mediapub/internal/logging"
)

// Deps are the shared collaborators handed to constructors.
type Deps struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// Constructor builds a provider from its settings table.
type Constructor func(settings Settings, deps Deps) (Provider, error)

// Registry maps platform types to constructors and configured names to
// built providers.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	providers    map[string]Provider
	types        map[string]string
	names        []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		providers:    make(map[string]Provider),
		types:        make(map[string]string),
	}
}

// Register binds a platform type to its constructor.
func (r *Registry) Register(platformType string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[strings.ToLower(strings.TrimSpace(platformType))] = ctor
}

// Types lists the registered platform types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build constructs a provider for every configured platform. All entries are
// attempted; failures are aggregated into one INVALID_CONFIGURATION error.
func (r *Registry) Build(platforms []config.Platform, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}

	var errs error
	for _, p := range platforms {
		provider, err := r.construct(p, deps)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("platform %q: %w", p.Name, err))
			continue
		}
		r.mu.Lock()
		key := strings.ToLower(p.Name)
		if _, exists := r.providers[key]; !exists {
			r.names = append(r.names, p.Name)
		}
		r.providers[key] = provider
		r.types[key] = strings.ToLower(p.Type)
		r.mu.Unlock()
	}
	if errs != nil {
		return failure.Wrap(failure.KindConfig, failure.CodeInvalidConfiguration, "build platforms", errs)
	}
	return nil
}

func (r *Registry) construct(p config.Platform, deps Deps) (Provider, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[strings.ToLower(p.Type)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown platform type %q", p.Type)
	}
	settings := Settings(p.Settings)
	if settings == nil {
		settings = Settings{}
	}
	deps.Logger = deps.Logger.With(zap.String(logging.FieldPlatform, p.Name))
	return ctor(settings, deps)
}

// Get returns the provider configured under name (case-insensitive).
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, failure.Newf(failure.KindPlatform, failure.CodeInvalidConfiguration, "platform %q is not configured", name)
	}
	return provider, nil
}

// Has reports whether name is configured.
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// TypeOf returns the type of a configured platform.
func (r *Registry) TypeOf(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[strings.ToLower(strings.TrimSpace(name))]
}

// Names lists configured platform names in configuration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Set installs a ready-made provider under name. Tests use it to inject fakes.
func (r *Registry) Set(name, platformType string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(name)
	if _, exists := r.providers[key]; !exists {
		r.names = append(r.names, name)
	}
	r.providers[key] = provider
	r.types[key] = platformType
}
