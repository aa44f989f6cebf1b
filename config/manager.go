package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// ConfigManager interface for configuration management
type ConfigManager interface {
	LoadConfig(configName string, config Config) error
	GetConfig(configName string) (Config, error)
	ReloadConfig(configName string) error
	RegisterValidator(configName string, validator ValidatorFunc)
	RegisterHook(configName string, hook HookFunc)
	AddChangeListener(listener ConfigChangeListener)
	SetBasePath(path string)
	SetEnvironment(env string)
	Close() error
}

// ValidatorFunc configuration validation function
type ValidatorFunc func(Config) error

// HookFunc configuration change hook function
type HookFunc func(oldVal, newVal Config) error

// ErrorHandler receives failures from background reloads.
type ErrorHandler func(configName string, err error)

// configManager implementation of ConfigManager interface
type configManager struct {
	mu         sync.RWMutex
	configs    map[string]Config
	watchers   map[string]*fsnotify.Watcher
	validators map[string]ValidatorFunc
	hooks      map[string][]HookFunc
	listeners  []ConfigChangeListener
	onError    ErrorHandler
	basePath   string
	env        string
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() ConfigManager {
	return &configManager{
		configs:    make(map[string]Config),
		watchers:   make(map[string]*fsnotify.Watcher),
		validators: make(map[string]ValidatorFunc),
		hooks:      make(map[string][]HookFunc),
		onError: func(configName string, err error) {
			fmt.Fprintf(os.Stderr, "config %s reload: %v\n", configName, err)
		},
		basePath: "./configs",
		env:      "development",
	}
}

// SetErrorHandler replaces the background reload error sink of cm, if cm
// was built by NewConfigManager.
func SetErrorHandler(cm ConfigManager, h ErrorHandler) {
	if m, ok := cm.(*configManager); ok && h != nil {
		m.mu.Lock()
		m.onError = h
		m.mu.Unlock()
	}
}

func (cm *configManager) newViper(configName string) *viper.Viper {
	v := viper.New()

	// Set configuration file path
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.AddConfigPath(fmt.Sprintf("%s/%s", cm.basePath, cm.env))

	// Read environment variables for override
	v.SetEnvPrefix(strings.ToUpper(configName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from file. Fields absent from the file keep
// whatever value config already holds, so callers pass a struct with defaults.
func (cm *configManager) LoadConfig(configName string, config Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	v := cm.newViper(configName)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config failed: %w", err)
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config failed: %w", err)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("validate config failed: %w", err)
	}
	if validator, exists := cm.validators[configName]; exists {
		if err := validator(config); err != nil {
			return fmt.Errorf("validate config failed: %w", err)
		}
	}

	cm.configs[configName] = config

	if _, watching := cm.watchers[configName]; watching {
		return nil
	}
	if err := cm.watchConfigFile(configName, v); err != nil {
		return fmt.Errorf("watch config file failed: %w", err)
	}

	return nil
}

// GetConfig retrieves a loaded configuration.
func (cm *configManager) GetConfig(configName string) (Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	config, exists := cm.configs[configName]
	if !exists {
		return nil, fmt.Errorf("config %s not found", configName)
	}

	return config, nil
}

// RegisterValidator registers configuration validator
func (cm *configManager) RegisterValidator(configName string, validator ValidatorFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.validators[configName] = validator
}

// RegisterHook registers configuration change hook
func (cm *configManager) RegisterHook(configName string, hook HookFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hooks[configName] = append(cm.hooks[configName], hook)
}

// AddChangeListener registers a listener for the config it names.
func (cm *configManager) AddChangeListener(listener ConfigChangeListener) {
	if listener == nil {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

// SetBasePath sets base path for configuration files
func (cm *configManager) SetBasePath(path string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.basePath = path
}

// SetEnvironment sets environment for configuration
func (cm *configManager) SetEnvironment(env string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.env = env
}

// watchConfigFile watches configuration file for changes
func (cm *configManager) watchConfigFile(configName string, v *viper.Viper) error {
	configFile := v.ConfigFileUsed()
	if configFile == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	cm.watchers[configName] = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					if err := cm.ReloadConfig(configName); err != nil {
						cm.reportError(configName, err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				cm.reportError(configName, err)
			}
		}
	}()

	return watcher.Add(configFile)
}

func (cm *configManager) reportError(configName string, err error) {
	cm.mu.RLock()
	h := cm.onError
	cm.mu.RUnlock()
	if h != nil {
		h(configName, err)
	}
}

// ReloadConfig re-reads a loaded config. On any failure the old value stays
// in place. Listeners run outside the lock so they may call GetConfig.
func (cm *configManager) ReloadConfig(configName string) error {
	cm.mu.Lock()

	oldConfig, exists := cm.configs[configName]
	if !exists {
		cm.mu.Unlock()
		return fmt.Errorf("config %s not found", configName)
	}

	// Start from a copy of the old value so unset keys keep their defaults.
	newValue := reflect.New(reflect.TypeOf(oldConfig).Elem())
	newValue.Elem().Set(reflect.ValueOf(oldConfig).Elem())
	newConfig := newValue.Interface().(Config)

	v := cm.newViper(configName)
	if err := v.ReadInConfig(); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("read config failed: %w", err)
	}
	if err := v.Unmarshal(newConfig); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("validate config failed: %w", err)
	}
	if validator, exists := cm.validators[configName]; exists {
		if err := validator(newConfig); err != nil {
			cm.mu.Unlock()
			return fmt.Errorf("validate config failed: %w", err)
		}
	}
	for _, hook := range cm.hooks[configName] {
		if err := hook(oldConfig, newConfig); err != nil {
			cm.mu.Unlock()
			return fmt.Errorf("hook failed: %w", err)
		}
	}

	cm.configs[configName] = newConfig
	listeners := make([]ConfigChangeListener, 0, len(cm.listeners))
	for _, l := range cm.listeners {
		if l.GetConfigName() == configName {
			listeners = append(listeners, l)
		}
	}
	cm.mu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.OnConfigChanged(configName, newConfig, oldConfig))
	}
	return err
}

// Close closes the configuration manager
func (cm *configManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var err error
	for name, watcher := range cm.watchers {
		err = multierr.Append(err, watcher.Close())
		delete(cm.watchers, name)
	}

	return err
}
