// Package plugin implements the module lifecycle manager. Modules are
// statically compiled units resolved by name through a Loader; each declares
// its commands and event hooks up front, and the manager registers them
// atomically with the module's own Load and removes them after its Unload.
package plugin

import (
	"context"

	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/observability/alerting"
)

// Plugin defines the lifecycle hooks that each module implementation must satisfy.
type Plugin interface {
	// Info returns the static metadata for the module.
	Info() Info
	// Setup declares the module's commands and hooks. It runs once per
	// instance, before dependencies are resolved.
	Setup(r *Registrar) error
	// Load runs after the declared commands and hooks are registered and
	// reports whether the module is enabled when no override says otherwise.
	Load(ctx *ExecutionContext) (enabledDefault bool, err error)
	// Unload releases the module's resources. Commands and hooks are
	// deregistered after it returns.
	Unload(ctx *ExecutionContext) error
}

// ExecutionContext is passed to plugins for every lifecycle stage.
type ExecutionContext struct {
	// C is the underlying context for cancellation and deadlines.
	C context.Context
	// Module is the name the plugin was loaded under.
	Module string
	// Resources exposes shared services supplied by the host application.
	Resources map[string]any
}

// Clone returns a shallow copy of the execution context so plugins can safely mutate maps.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Resources != nil {
		dup.Resources = make(map[string]any, len(c.Resources))
		for k, v := range c.Resources {
			dup.Resources[k] = v
		}
	}
	return &dup
}

// Resource fetches a typed shared resource.
func Resource[T any](c *ExecutionContext, key string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	v, ok := c.Resources[key].(T)
	if !ok {
		return zero, false
	}
	return v, true
}

type hookDecl struct {
	topic   string
	handler event.Handler
}

// Registrar collects the commands and hooks a plugin declares during Setup.
type Registrar struct {
	module   string
	commands []command.Command
	hooks    []hookDecl
}

// Module returns the name of the module being set up.
func (r *Registrar) Module() string { return r.module }

// Command declares a command.
func (r *Registrar) Command(cmd command.Command) {
	r.commands = append(r.commands, cmd)
}

// Hook declares an event hook.
func (r *Registrar) Hook(topic string, handler event.Handler) {
	r.hooks = append(r.hooks, hookDecl{topic: topic, handler: handler})
}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the default catalog-backed loader.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithResource registers a shared resource that will be exposed to all plugins.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key == "" || value == nil {
			return
		}
		if m.resources == nil {
			m.resources = make(map[string]any)
		}
		m.resources[key] = value
	}
}

// WithAlerts routes load failures with alerting error codes to the dispatcher.
func WithAlerts(d alerting.Dispatcher) Option {
	return func(m *Manager) {
		m.alerts = d
	}
}

// LoadOption tunes a single Load call.
type LoadOption func(*loadOptions)

type loadOptions struct {
	soft   bool
	reload bool
}

// Soft controls whether an already loaded module is accepted silently (the default).
func Soft(soft bool) LoadOption {
	return func(o *loadOptions) { o.soft = soft }
}

// Reload hard-unloads the module first and reloads every module that depends on it.
func Reload(reload bool) LoadOption {
	return func(o *loadOptions) { o.reload = reload }
}
