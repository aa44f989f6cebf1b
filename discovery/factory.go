package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/lcx/gamenet/plugin"
)

func init() {
	plugin.RegisterPlugin(&consulFactory{})
}

// consulFactory builds ConsulRegistrar instances from the plugin config.
type consulFactory struct{}

func (*consulFactory) Type() plugin.Type { return plugin.Discovery }

func (*consulFactory) Name() string { return _factoryName }

func (*consulFactory) Setup(v map[string]any) (plugin.Plugin, error) {
	var cfg ConsulCfg
	if err := plugin.Decode(v, &cfg); err != nil {
		return nil, fmt.Errorf("decode consul config: %w", err)
	}
	return NewConsulRegistrar(cfg)
}

func (*consulFactory) Destroy(p plugin.Plugin) error {
	r, ok := p.(*ConsulRegistrar)
	if !ok {
		return fmt.Errorf("unexpected plugin %T", p)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Deregister(ctx)
}

func (*consulFactory) Reload(p plugin.Plugin, v map[string]any) error {
	r, ok := p.(*ConsulRegistrar)
	if !ok {
		return fmt.Errorf("unexpected plugin %T", p)
	}
	var cfg ConsulCfg
	if err := plugin.Decode(v, &cfg); err != nil {
		return err
	}
	return r.reload(cfg)
}

// DefaultRegistrar returns the untagged consul instance set up by
// plugin.InitPlugins.
func DefaultRegistrar() (*ConsulRegistrar, error) {
	p, err := plugin.GetDefaultPlugin(plugin.Discovery, _factoryName)
	if err != nil {
		return nil, err
	}
	r, ok := p.(*ConsulRegistrar)
	if !ok {
		return nil, fmt.Errorf("unexpected plugin %T", p)
	}
	return r, nil
}
