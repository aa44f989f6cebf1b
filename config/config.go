package config

// Config interface defines the basic configuration contract
type Config interface {
	GetName() string
	Validate() error
}

// ConfigChangeListener is notified after a named config has been reloaded,
// validated and accepted by every hook.
type ConfigChangeListener interface {
	GetConfigName() string
	OnConfigChanged(configName string, newConfig, oldConfig Config) error
}
