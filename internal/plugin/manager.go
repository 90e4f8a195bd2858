package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"szuro.net/plughost/internal/logger"
	"szuro.net/plughost/pkg/abi"
)

// DuplicatePolicy decides what Load does when the new plugin reports a name
// that is already registered.
type DuplicatePolicy string

const (
	// DuplicateReject keeps the registered plugin and retires the new one.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateReplace retires the registered plugin, then registers the new one.
	DuplicateReplace DuplicatePolicy = "replace"
)

// ParseDuplicatePolicy maps a configuration string to a policy. Empty means reject.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", DuplicateReject:
		return DuplicateReject, nil
	case DuplicateReplace:
		return DuplicateReplace, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// Manager owns the plugin registry. Each registered name maps to one
// instance and the library that created it.
type Manager struct {
	openers        map[Runtime]Opener
	defaultRuntime Runtime
	onDuplicate    DuplicatePolicy
	metrics        *managerMetrics

	plugins map[string]*entry
	mu      sync.RWMutex
	closed  bool
}

// Option configures the Manager.
type Option func(*managerOptions)

type managerOptions struct {
	openers        map[Runtime]Opener
	defaultRuntime Runtime
	onDuplicate    DuplicatePolicy
	registerer     prometheus.Registerer
}

// WithOpener sets the opener used for runtime rt.
func WithOpener(rt Runtime, o Opener) Option {
	return func(mo *managerOptions) {
		mo.openers[rt] = o
	}
}

// WithDefaultRuntime sets the runtime used when Load is not given one.
func WithDefaultRuntime(rt Runtime) Option {
	return func(mo *managerOptions) {
		mo.defaultRuntime = rt
	}
}

// WithDuplicatePolicy sets how duplicate plugin names are handled.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(mo *managerOptions) {
		mo.onDuplicate = p
	}
}

// WithRegisterer registers the manager's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(mo *managerOptions) {
		mo.registerer = reg
	}
}

// NewManager creates a plugin manager with the native and process runtimes.
func NewManager(opts ...Option) *Manager {
	mo := managerOptions{
		openers: map[Runtime]Opener{
			RuntimeNative:  NativeOpener{},
			RuntimeProcess: NewProcessOpener(nil),
		},
		defaultRuntime: RuntimeNative,
		onDuplicate:    DuplicateReject,
	}
	for _, opt := range opts {
		opt(&mo)
	}

	return &Manager{
		openers:        mo.openers,
		defaultRuntime: mo.defaultRuntime,
		onDuplicate:    mo.onDuplicate,
		metrics:        newManagerMetrics(mo.registerer),
		plugins:        make(map[string]*entry),
	}
}

// LoadOption configures a single Load call.
type LoadOption func(*loadOptions)

type loadOptions struct {
	runtime Runtime
	config  abi.Config
}

// WithConfig passes cfg to the instance's Init. The default is nil.
func WithConfig(cfg abi.Config) LoadOption {
	return func(lo *loadOptions) {
		lo.config = cfg
	}
}

// WithRuntime selects the runtime for this load.
func WithRuntime(rt Runtime) LoadOption {
	return func(lo *loadOptions) {
		lo.runtime = rt
	}
}

// Load opens the library at path, validates its descriptor, creates and
// initializes an instance, and registers it under the name it reports.
// On error the registry is unchanged and nothing acquired by the call is
// left alive.
func (m *Manager) Load(path string, opts ...LoadOption) (abi.Metadata, error) {
	lo := loadOptions{runtime: m.defaultRuntime}
	for _, opt := range opts {
		opt(&lo)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return abi.Metadata{}, ErrClosed
	}

	md, err := m.load(path, lo)
	if err != nil {
		m.metrics.loadFailed(err)
		logger.Error("Failed to load plugin",
			slog.String("path", path),
			slog.String("runtime", string(lo.runtime)),
			slog.Any("error", err))
		return abi.Metadata{}, err
	}
	return md, nil
}

func (m *Manager) load(path string, lo loadOptions) (abi.Metadata, error) {
	logger.Debug("Loading plugin", slog.String("path", path), slog.String("runtime", string(lo.runtime)))

	opener, ok := m.openers[lo.runtime]
	if !ok {
		return abi.Metadata{}, fmt.Errorf("%w: %s: %w: %q", ErrLibraryLoad, path, ErrUnsupportedRuntime, lo.runtime)
	}

	lib, err := opener.Open(path)
	if err != nil {
		return abi.Metadata{}, fmt.Errorf("%w: %w", ErrLibraryLoad, err)
	}

	desc, err := bind(lib)
	if err != nil {
		return abi.Metadata{}, errors.Join(err, closeLibrary(lib))
	}

	e, err := instantiate(lib, desc, lo.config)
	if err != nil {
		return abi.Metadata{}, err
	}
	e.info.ID = uuid.New()
	e.info.Path = path
	e.info.Runtime = lo.runtime
	e.info.LoadedAt = time.Now()

	name := e.info.Name
	if prev, exists := m.plugins[name]; exists {
		if m.onDuplicate != DuplicateReplace {
			return abi.Metadata{}, errors.Join(
				fmt.Errorf("%w: %s (registered from %s)", ErrAlreadyLoaded, name, prev.info.Path),
				e.retire(),
			)
		}
		logger.Info("Replacing plugin",
			slog.String("name", name),
			slog.String("old_path", prev.info.Path),
			slog.String("new_path", path))
		delete(m.plugins, name)
		if err := m.retire(prev); err != nil {
			logger.Warn("Replaced plugin did not retire cleanly", slog.String("name", name), slog.Any("error", err))
		}
	}

	m.plugins[name] = e
	m.metrics.registered(e.info.Metadata)

	logger.Info("Successfully loaded plugin",
		slog.String("name", name),
		slog.String("version", e.info.Version),
		slog.String("path", path),
		slog.String("runtime", string(lo.runtime)),
		slog.String("id", e.info.ID.String()))

	return e.info.Metadata, nil
}

// Unload removes the named plugin, destroys its instance through the
// descriptor bound at load time, and then releases its library.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	e, ok := m.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.plugins, name)

	logger.Info("Unloading plugin", slog.String("name", name), slog.String("path", e.info.Path))
	return m.retire(e)
}

// retire must be called with the write lock held and e already removed
// from the registry.
func (m *Manager) retire(e *entry) error {
	md := e.info.Metadata
	err := e.retire()
	m.metrics.retired(md)
	return err
}

// Execute forwards input to the named plugin and returns its output verbatim.
func (m *Manager) Execute(name, input string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrClosed
	}

	e, ok := m.plugins[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	var out string
	err := guard("execute", func() error {
		var execErr error
		out, execErr = e.instance.Execute(input)
		return execErr
	})
	m.metrics.executed(name, err)
	if err != nil {
		if errors.Is(err, ErrPluginFault) {
			return "", err
		}
		return "", fmt.Errorf("plugin %s: %w", name, err)
	}
	return out, nil
}

// Metadata returns the metadata the named plugin reported when loaded.
func (m *Manager) Metadata(name string) (abi.Metadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.plugins[name]
	if !ok {
		return abi.Metadata{}, false
	}
	return e.info.Metadata, true
}

// List returns information about all registered plugins, sorted by name.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.plugins))
	for _, e := range m.plugins {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close retires every registered plugin, destroying each instance before
// releasing its library, and rejects further operations. Calling Close
// again is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	logger.Info("Cleaning up all plugins", slog.Int("count", len(names)))

	var errs []error
	for _, name := range names {
		e := m.plugins[name]
		delete(m.plugins, name)
		logger.Debug("Dropping plugin", slog.String("name", name))
		if err := m.retire(e); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
