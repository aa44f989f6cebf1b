package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/multierr"

	"github.com/lcx/gamenet/config"
	"github.com/lcx/gamenet/log"
)

// Type is a plugin category, e.g. service discovery.
type Type string

const (
	// Discovery 服务发现插件类型.
	Discovery Type = "discovery"
)

const (
	DefaultInsName = "default" // instance name when the config has no tag

	_pluginConfigName = "plugin"
)

// PluginConfig maps plugin type to "<factory>[_suffix]" to config items.
//
//	discovery:
//	  consul:
//	    address: 127.0.0.1:8500
//	    service_name: gamenet
//	    tag: default  # instance name, optional
type PluginConfig map[string]map[string]map[string]any //nolint:revive

// GetName implements the config.Config interface.
func (c *PluginConfig) GetName() string {
	return _pluginConfigName
}

// Validate implements the config.Config interface.
func (c *PluginConfig) Validate() error {
	if c == nil || len(*c) == 0 {
		return fmt.Errorf("plugin config is empty")
	}
	for pluginType, factories := range *c {
		if len(factories) == 0 {
			return fmt.Errorf("plugin type %s has no factory config", pluginType)
		}
	}
	return nil
}

// Plugin is a running plugin instance.
type Plugin interface { //nolint:revive
	FactoryName() string
}

// Decode copies config items into a tagged struct, converting loosely typed
// values such as "5" for an int.
func Decode(v map[string]any, out any) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return d.Decode(v)
}

type instanceKey struct {
	ft, fn, pn string
}

func (k instanceKey) String() string {
	return k.ft + "/" + k.fn + "/" + k.pn
}

// Manager owns the factories and the instances built from PluginConfig.
type Manager struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[instanceKey]Plugin
}

// NewManager ...
func NewManager() *Manager {
	return &Manager{
		factories: make(map[string]Factory),
		instances: make(map[instanceKey]Plugin),
	}
}

var _defaultMgr = NewManager()

// RegisterPlugin registers a factory with the default manager, usually
// from an init function.
func RegisterPlugin(f Factory) {
	_defaultMgr.Register(f)
}

// InitPlugins loads "plugin" from configManager into the default manager
// and follows its hot reloads.
func InitPlugins(configManager config.ConfigManager) error {
	return _defaultMgr.Init(configManager)
}

// GetPlugin looks up an instance of the default manager.
func GetPlugin(ft Type, fn, pn string) (Plugin, error) {
	return _defaultMgr.Get(ft, fn, pn)
}

// GetDefaultPlugin looks up the untagged instance of the default manager.
func GetDefaultPlugin(ft Type, fn string) (Plugin, error) {
	return _defaultMgr.Get(ft, fn, DefaultInsName)
}

// DestroyPlugins destroys every instance of the default manager.
func DestroyPlugins() error {
	return _defaultMgr.DestroyAll()
}

// Register adds or replaces a factory.
func (m *Manager) Register(f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[factoryKey(f.Type(), f.Name())] = f
}

func factoryKey(ft Type, fn string) string {
	return string(ft) + "_" + fn
}

// Init sets up every configured instance. Nothing stays set up when one
// of them fails.
func (m *Manager) Init(configManager config.ConfigManager) error {
	var cfg PluginConfig
	if err := configManager.LoadConfig(_pluginConfigName, &cfg); err != nil {
		return fmt.Errorf("load plugin config failed: %w", err)
	}
	if err := m.Setup(cfg); err != nil {
		return err
	}
	configManager.AddChangeListener(m)
	log.Info().Msg("plugin manager registered as config change listener")
	return nil
}

// Setup builds the instances of cfg, destroying all of them again on the
// first failure.
func (m *Manager) Setup(cfg PluginConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	built := make(map[instanceKey]Plugin)
	if err := m.setupLocked(cfg, nil, built); err != nil {
		m.rollbackLocked(built)
		return err
	}
	for k, ins := range built {
		m.instances[k] = ins
	}
	log.Info().Int("count", len(built)).Msg("plugins setup success")
	return nil
}

// setupLocked builds the instances of cfg not present in skip.
func (m *Manager) setupLocked(cfg PluginConfig, skip map[instanceKey]bool, built map[instanceKey]Plugin) error {
	for ft, section := range cfg {
		for k, items := range section {
			key := instanceKey{ft: ft, fn: getFactoryName(k), pn: getPluginNameFromCfg(items)}
			if skip[key] {
				continue
			}
			if _, dup := built[key]; dup {
				return fmt.Errorf("plugin instance [%s] configured twice", key)
			}
			f := m.factories[factoryKey(Type(key.ft), key.fn)]
			if f == nil {
				return fmt.Errorf("plugin factory [%s/%s] not found, available factories: %v",
					key.ft, key.fn, m.listFactoriesLocked(key.ft))
			}

			log.Info().Str("type", key.ft).Str("name", key.fn).Str("instance", key.pn).Msg("plugin setup begin")
			ins, err := f.Setup(items)
			if err != nil {
				return fmt.Errorf("plugin [%s] setup failed: %w", key, err)
			}
			built[key] = ins
		}
	}
	return nil
}

func (m *Manager) rollbackLocked(built map[instanceKey]Plugin) {
	if len(built) == 0 {
		return
	}
	log.Warn().Int("count", len(built)).Msg("rolling back initialized plugins...")
	for k, ins := range built {
		m.destroyLocked(k, ins)
	}
}

func (m *Manager) destroyLocked(k instanceKey, ins Plugin) error {
	f := m.factories[factoryKey(Type(k.ft), k.fn)]
	if f == nil {
		return nil
	}
	if err := f.Destroy(ins); err != nil {
		log.Error().Err(err).Str("instance", k.String()).Msg("destroy plugin failed")
		return fmt.Errorf("destroy plugin [%s]: %w", k, err)
	}
	return nil
}

// Get returns the instance pn built by factory fn of type ft.
func (m *Manager) Get(ft Type, fn, pn string) (Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ins, ok := m.instances[instanceKey{ft: string(ft), fn: fn, pn: pn}]
	if !ok {
		return nil, fmt.Errorf("plugin instance [%s/%s/%s] not found", ft, fn, pn)
	}
	return ins, nil
}

// List returns "type/factory" to sorted instance names.
func (m *Manager) List() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string)
	for k := range m.instances {
		key := k.ft + "/" + k.fn
		out[key] = append(out[key], k.pn)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

// DestroyAll destroys every instance.
func (m *Manager) DestroyAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for k, ins := range m.instances {
		err = multierr.Append(err, m.destroyLocked(k, ins))
	}
	m.instances = make(map[instanceKey]Plugin)
	return err
}

// GetConfigName implements config.ConfigChangeListener.
func (m *Manager) GetConfigName() string {
	return _pluginConfigName
}

// OnConfigChanged implements config.ConfigChangeListener. Instances still
// configured are reloaded in place; those whose Reload fails are
// recreated, removed ones destroyed and new ones set up.
func (m *Manager) OnConfigChanged(configName string, newConfig, _ config.Config) error {
	if configName != _pluginConfigName {
		return nil
	}
	next, ok := newConfig.(*PluginConfig)
	if !ok {
		return fmt.Errorf("invalid config type: expected *PluginConfig, got %T", newConfig)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[instanceKey]map[string]any)
	for ft, section := range *next {
		for k, items := range section {
			wanted[instanceKey{ft: ft, fn: getFactoryName(k), pn: getPluginNameFromCfg(items)}] = items
		}
	}

	kept := make(map[instanceKey]bool)
	for k, ins := range m.instances {
		items, still := wanted[k]
		if still {
			f := m.factories[factoryKey(Type(k.ft), k.fn)]
			if f != nil {
				err := f.Reload(ins, items)
				if err == nil {
					kept[k] = true
					continue
				}
				log.Warn().Err(err).Str("instance", k.String()).Msg("hot reload failed, will recreate plugin")
			}
		}
		_ = m.destroyLocked(k, ins)
		delete(m.instances, k)
	}

	built := make(map[instanceKey]Plugin)
	if err := m.setupLocked(*next, kept, built); err != nil {
		m.rollbackLocked(built)
		return err
	}
	for k, ins := range built {
		m.instances[k] = ins
	}
	log.Info().Int("reloaded", len(kept)).Int("recreated", len(built)).Msg("plugins hot reload completed")
	return nil
}

func (m *Manager) listFactoriesLocked(ft string) []string {
	var out []string
	for key := range m.factories {
		if strings.HasPrefix(key, ft+"_") {
			out = append(out, strings.TrimPrefix(key, ft+"_"))
		}
	}
	sort.Strings(out)
	return out
}

// getPluginNameFromCfg reads the instance tag.
func getPluginNameFromCfg(c map[string]any) string {
	t, ok := c["tag"]
	if !ok {
		return DefaultInsName
	}
	tag, ok := t.(string)
	if !ok || tag == "" {
		return DefaultInsName
	}
	return tag
}

func getFactoryName(fn string) string {
	return strings.Split(fn, "_")[0]
}
