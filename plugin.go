package inbox

import (
	"context"
	"errors"
	"log/slog"
)

// Plugin defines the interface for inbox extensions.
// Plugins can hook into message delivery to add custom behavior
// such as spam filtering, rate limiting, or content inspection.
//
// For observing deletions and migrations, use the event system instead.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when service closes.
	Close(ctx context.Context) error
}

// AddHook is called before/after a message is added to an inbox.
type AddHook interface {
	Plugin
	// BeforeAdd is called before the message is stored. Return an error to abort.
	BeforeAdd(ctx context.Context, sender, recipient Account, message []byte) error
	// AfterAdd is called after the message is stored under id.
	// The message is already stored and cannot be rolled back.
	AfterAdd(ctx context.Context, sender, recipient Account, id MessageID) error
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all    []Plugin
	add    []AddHook
	logger *slog.Logger
}

// newPluginRegistry creates a new plugin registry.
func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

// register adds a plugin to the registry.
func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(AddHook); ok {
		r.add = append(r.add, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

func (r *pluginRegistry) beforeAdd(ctx context.Context, sender, recipient Account, message []byte) error {
	for _, h := range r.add {
		if err := h.BeforeAdd(ctx, sender, recipient, message); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeAdd", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterAdd(ctx context.Context, sender, recipient Account, id MessageID) error {
	for _, h := range r.add {
		if err := h.AfterAdd(ctx, sender, recipient, id); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "AfterAdd", Err: err}
		}
	}
	return nil
}
