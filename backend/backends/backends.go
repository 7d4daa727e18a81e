// Package backends registers the built-in storage backend plugins.
// A backend is selected by name through the store configuration;
// there is no dynamic loading.
package backends

import (
	"github.com/vsetec/storedmap/backend"
	"github.com/vsetec/storedmap/backend/backends/bbolt"
	"github.com/vsetec/storedmap/backend/backends/memory"
)

var plugins []backend.Plugin

func init() {
	plugins = append(plugins, memory.Plugins()...)
	plugins = append(plugins, bbolt.Plugins()...)
}

// Plugin returns the plugin whose name matches the given name.
// It returns nil if no such plugin is found.
func Plugin(name string) backend.Plugin {
	for _, plugin := range plugins {
		if plugin.Name() == name {
			return plugin
		}
	}

	return nil
}

// Plugins lists all the plugins that are available
func Plugins() []backend.Plugin {
	return plugins
}
