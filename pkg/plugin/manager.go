package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/config"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/observability/alerting"
	"OpenChat-Bot/pkg/logger"
)

// Manager keeps track of loaded modules and orchestrates their lifecycle.
// Lifecycle operations are serialized; state queries may run concurrently
// with them.
type Manager struct {
	lifecycle sync.Mutex

	mu      sync.RWMutex
	records map[string]*record
	// dependents maps a module to the modules that were loaded because they
	// depend on it. Edges outlive the dependency's own record so that a
	// reload can find them again.
	dependents map[string][]string

	loader    Loader
	registry  *command.Registry
	bus       *event.Bus
	cascade   *config.Cascade
	resources map[string]any
	alerts    alerting.Dispatcher
	log       *slog.Logger
}

type hookRegistration struct {
	topic string
	id    event.SubscriptionID
}

type record struct {
	name           string
	plugin         Plugin
	info           Info
	state          State
	enabledDefault bool
	commands       []command.Command
	hookDecls      []hookDecl
	hooks          []hookRegistration
	registered     bool
}

// NewManager constructs a manager bound to the command registry, event bus
// and configuration cascade. The manager installs itself as the registry's
// module state source.
func NewManager(registry *command.Registry, bus *event.Bus, cascade *config.Cascade, opts ...Option) *Manager {
	m := &Manager{
		records:    make(map[string]*record),
		dependents: make(map[string][]string),
		loader:     NewCatalog(),
		registry:   registry,
		bus:        bus,
		cascade:    cascade,
		resources:  make(map[string]any),
		log:        logger.Named("plugin"),
	}
	for _, opt := range opts {
		opt(m)
	}
	registry.SetModuleState(m)
	return m
}

// Provide exposes a shared resource to modules loaded from now on. It is
// meant for services that are constructed after the manager itself.
func (m *Manager) Provide(key string, value any) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	WithResource(key, value)(m)
}

// ModuleStatus implements command.ModuleState.
func (m *Manager) ModuleStatus(name string) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok || rec.state != StateLoaded {
		return false, false
	}
	return true, rec.enabledDefault
}

// State returns the lifecycle state of a module; untracked modules are unloaded.
func (m *Manager) State(name string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.records[name]; ok {
		return rec.state
	}
	return StateUnloaded
}

// Loaded lists the names of loaded modules in sorted order.
func (m *Manager) Loaded() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, rec := range m.records {
		if rec.state == StateLoaded {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Modules returns a snapshot of every tracked module keyed by name.
func (m *Manager) Modules() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.records))
	for name, rec := range m.records {
		out[name] = Status{
			Info:           rec.info,
			State:          rec.state,
			EnabledDefault: rec.enabledDefault,
			Dependents:     slices.Clone(m.dependents[name]),
			Commands:       len(rec.commands),
			Hooks:          len(rec.hookDecls),
		}
	}
	return out
}

// Load loads the named module. By default the load is soft: an already
// loaded module is left untouched. Soft(false) makes that case an error and
// Reload(true) hard-unloads the module first, then reloads its dependents.
func (m *Manager) Load(ctx context.Context, name string, opts ...LoadOption) error {
	o := loadOptions{soft: true}
	for _, opt := range opts {
		opt(&o)
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	err := m.load(ctx, name, o, map[string]bool{})
	if err != nil && xerrors.HasCode(err, CodeLoadFailed) {
		m.alert(ctx, name, err)
	}
	return err
}

func (m *Manager) load(ctx context.Context, name string, o loadOptions, visiting map[string]bool) error {
	if o.reload {
		if err := m.unload(ctx, name, false); err != nil && !xerrors.HasCode(err, CodeNotLoaded) {
			return err
		}
	}

	if m.State(name) == StateLoaded {
		if !o.soft {
			return alreadyLoaded(name)
		}
		return nil
	}
	if visiting[name] {
		return loadError(name, xerrors.New(xerrors.CodeConflict, "dependency cycle"))
	}
	visiting[name] = true
	defer delete(visiting, name)

	rec, err := m.instantiate(name)
	if err != nil {
		return err
	}
	m.setState(rec, StateLoading)

	for _, dep := range rec.info.Dependencies {
		if err := m.load(ctx, dep, loadOptions{soft: true}, visiting); err != nil {
			m.discard(rec)
			return loadError(name, err)
		}
	}

	if err := m.register(rec); err != nil {
		m.discard(rec)
		return loadError(name, err)
	}

	enabled, err := m.callLoad(ctx, rec)
	if err != nil {
		m.deregister(rec)
		m.discard(rec)
		return loadError(name, err)
	}

	m.mu.Lock()
	rec.enabledDefault = enabled
	rec.state = StateLoaded
	m.mu.Unlock()
	for _, dep := range rec.info.Dependencies {
		m.addDependent(dep, name)
	}

	m.log.Info("模块已加载", slog.String("module", name), slog.Bool("enabled_default", enabled))
	logger.Audit().Info("module loaded", slog.String("module", name), slog.Bool("reload", o.reload))
	m.bus.Publish(ctx, event.TopicModuleLoaded, name)

	if o.reload {
		for _, dependent := range m.dependentsOf(name) {
			if visiting[dependent] {
				continue
			}
			if err := m.load(ctx, dependent, loadOptions{soft: o.soft, reload: true}, visiting); err != nil {
				return err
			}
		}
	}
	return nil
}

// instantiate resolves a fresh plugin instance and collects its declarations.
func (m *Manager) instantiate(name string) (*record, error) {
	p, err := m.loader.Load(name)
	if err != nil {
		return nil, loadError(name, err)
	}
	info := p.Info()
	info.Name = name

	reg := &Registrar{module: name}
	if err := safeCall(func() error { return p.Setup(reg) }); err != nil {
		return nil, loadError(name, err)
	}

	rec := &record{
		name:      name,
		plugin:    p,
		info:      info,
		state:     StateUnloaded,
		commands:  reg.commands,
		hookDecls: reg.hooks,
	}
	m.mu.Lock()
	m.records[name] = rec
	m.mu.Unlock()
	return rec, nil
}

// register adds every declared command and hook, or none of them.
func (m *Manager) register(rec *record) error {
	var done []command.Command
	for _, cmd := range rec.commands {
		if err := m.registry.Register(rec.name, cmd); err != nil {
			for _, prev := range done {
				_ = m.registry.Unregister(rec.name, prev)
			}
			return err
		}
		done = append(done, cmd)
	}
	for _, h := range rec.hookDecls {
		id := m.bus.Subscribe(h.topic, rec.name, h.handler)
		rec.hooks = append(rec.hooks, hookRegistration{topic: h.topic, id: id})
	}
	rec.registered = true
	return nil
}

func (m *Manager) deregister(rec *record) {
	if !rec.registered {
		return
	}
	for _, cmd := range rec.commands {
		if err := m.registry.Unregister(rec.name, cmd); err != nil {
			m.log.Warn("注销命令失败", slog.String("module", rec.name), slog.String("command", cmd.Name), slog.Any("error", err))
		}
	}
	for _, h := range rec.hooks {
		m.bus.Unsubscribe(h.topic, h.id)
	}
	rec.hooks = nil
	rec.registered = false
}

func (m *Manager) discard(rec *record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[rec.name] == rec {
		delete(m.records, rec.name)
	}
}

func (m *Manager) execContext(ctx context.Context, name string) *ExecutionContext {
	return (&ExecutionContext{C: ctx, Module: name, Resources: m.resources}).Clone()
}

func (m *Manager) callLoad(ctx context.Context, rec *record) (enabled bool, err error) {
	err = safeCall(func() error {
		var loadErr error
		enabled, loadErr = rec.plugin.Load(m.execContext(ctx, rec.name))
		return loadErr
	})
	return enabled, err
}

// Unload unloads a loaded module. A soft unload reports an error from the
// module's Unload and leaves it loaded; a hard unload proceeds regardless,
// forgets the module and purges its enablement overrides.
func (m *Manager) Unload(ctx context.Context, name string, soft bool) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.unload(ctx, name, soft)
}

func (m *Manager) unload(ctx context.Context, name string, soft bool) error {
	m.mu.RLock()
	rec, ok := m.records[name]
	m.mu.RUnlock()
	if !ok || rec.state != StateLoaded {
		return notLoaded(name)
	}

	m.setState(rec, StateUnloading)
	err := safeCall(func() error { return rec.plugin.Unload(m.execContext(ctx, name)) })
	if err != nil {
		if soft {
			m.setState(rec, StateLoaded)
			return unloadError(name, err)
		}
		m.log.Warn("模块卸载出错，强制卸载", slog.String("module", name), slog.Any("error", err))
	}
	m.deregister(rec)

	if soft {
		m.setState(rec, StateUnloaded)
	} else {
		m.forget(rec)
	}
	m.log.Info("模块已卸载", slog.String("module", name), slog.Bool("soft", soft))
	logger.Audit().Info("module unloaded", slog.String("module", name), slog.Bool("soft", soft))
	m.bus.Publish(ctx, event.TopicModuleUnloaded, name)
	return nil
}

// forget drops the record, the edges it owns as a dependent and its
// persisted enablement overrides.
func (m *Manager) forget(rec *record) {
	m.mu.Lock()
	if m.records[rec.name] == rec {
		delete(m.records, rec.name)
	}
	rec.state = StateUnloaded
	for dep, list := range m.dependents {
		list = slices.DeleteFunc(list, func(n string) bool { return n == rec.name })
		if len(list) == 0 {
			delete(m.dependents, dep)
		} else {
			m.dependents[dep] = list
		}
	}
	m.mu.Unlock()

	if m.cascade != nil {
		if err := m.cascade.Purge(command.ModulesKey, rec.name); err != nil {
			m.log.Warn("清理模块配置失败", slog.String("module", rec.name), slog.Any("error", err))
		}
	}
}

// UnloadAll unloads every loaded module; a hard unload also drops modules
// that are tracked in any other state.
func (m *Manager) UnloadAll(ctx context.Context, soft bool) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if m.State(name) != StateLoaded {
			if !soft {
				m.mu.RLock()
				rec, ok := m.records[name]
				m.mu.RUnlock()
				if ok {
					m.forget(rec)
				}
			}
			continue
		}
		if err := m.unload(ctx, name, soft); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) setState(rec *record, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.state = state
}

func (m *Manager) addDependent(dep, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.dependents[dep], name) {
		m.dependents[dep] = append(m.dependents[dep], name)
	}
}

func (m *Manager) dependentsOf(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.dependents[name])
}

func (m *Manager) alert(ctx context.Context, name string, err error) {
	m.log.Error("模块加载失败", slog.String("module", name), slog.Any("error", err))
	if m.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if notifyErr := m.alerts.Notify(ctx, alerting.FromError(name, err)); notifyErr != nil {
		m.log.Warn("发送告警失败", slog.String("module", name), slog.Any("error", notifyErr))
	}
}

// safeCall converts a panic inside plugin code into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
