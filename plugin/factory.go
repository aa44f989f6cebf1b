package plugin

// Factory builds plugin instances of one type from their config section.
//
//   - Setup: create an instance from its config items
//   - Destroy: release what the instance holds
//   - Reload: apply a changed config in place; an error means recreate
type Factory interface {
	// Type returns the plugin type (e.g., "discovery")
	Type() Type

	// Name returns the factory name (e.g., "consul")
	Name() string

	Setup(v map[string]any) (Plugin, error)

	Destroy(Plugin) error

	Reload(Plugin, map[string]any) error
}
