package config

import (
	"maps"
	"slices"

	"github.com/MrWong99/loreforge/internal/worldgen"
)

// ConfigDiff describes what changed between two configs. Backends, routes,
// services, generation tuning and the log level are applied in place;
// anything else sets RestartRequired.
type ConfigDiff struct {
	// BackendsChanged lists backends that were added, removed or modified.
	BackendsChanged []string
	RoutesChanged   bool
	ServicesChanged bool

	GenerationChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is set when server, cache, history or telemetry
	// settings changed.
	RestartRequired bool
}

// Empty reports whether nothing relevant changed.
func (d ConfigDiff) Empty() bool {
	return len(d.BackendsChanged) == 0 && !d.RoutesChanged && !d.ServicesChanged &&
		!d.GenerationChanged && !d.LogLevelChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldB := make(map[string]BackendEntry, len(old.Backends))
	for _, b := range old.Backends {
		oldB[b.Name] = b
	}
	newB := make(map[string]BackendEntry, len(new.Backends))
	for _, b := range new.Backends {
		newB[b.Name] = b
	}
	for name, ob := range oldB {
		nb, ok := newB[name]
		if !ok || !sameBackend(ob, nb) {
			d.BackendsChanged = append(d.BackendsChanged, name)
		}
	}
	for name := range newB {
		if _, ok := oldB[name]; !ok {
			d.BackendsChanged = append(d.BackendsChanged, name)
		}
	}
	slices.Sort(d.BackendsChanged)

	d.RoutesChanged = !maps.EqualFunc(old.Routes, new.Routes, func(a, b worldgen.Route) bool {
		return a.Operation == b.Operation && slices.Equal(a.Backends, b.Backends)
	})
	d.ServicesChanged = !slices.Equal(old.Services, new.Services)
	d.GenerationChanged = old.Generation != new.Generation

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	d.RestartRequired = !sameServer(oldServer, newServer) ||
		old.Cache != new.Cache ||
		old.History != new.History ||
		old.Telemetry != new.Telemetry

	return d
}

func sameBackend(a, b BackendEntry) bool {
	return a.Kind == b.Kind && a.BaseURL == b.BaseURL && a.APIKey == b.APIKey &&
		a.Provider == b.Provider && a.Model == b.Model && a.Timeout == b.Timeout &&
		a.Optional == b.Optional && maps.Equal(a.Options, b.Options)
}

func sameServer(a, b ServerConfig) bool {
	if (a.TLS == nil) != (b.TLS == nil) {
		return false
	}
	if a.TLS != nil && *a.TLS != *b.TLS {
		return false
	}
	a.TLS, b.TLS = nil, nil
	return a == b
}
