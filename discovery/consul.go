// Package discovery publishes running game servers to Consul.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/consul/api"

	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/metrics"
	"github.com/lcx/gamenet/net"
)

const _factoryName = "consul"

// ConsulCfg is the discovery/consul plugin section. A positive
// CheckInterval adds a TCP health check on the reliable port.
type ConsulCfg struct {
	Address         string            `mapstructure:"address"`
	Scheme          string            `mapstructure:"scheme"`
	Token           string            `mapstructure:"token"`
	Datacenter      string            `mapstructure:"datacenter"`
	ServiceName     string            `mapstructure:"service_name"`
	ServiceID       string            `mapstructure:"service_id"`
	Tags            []string          `mapstructure:"tags"`
	Meta            map[string]string `mapstructure:"meta"`
	CheckInterval   time.Duration     `mapstructure:"check_interval"`
	DeregisterAfter time.Duration     `mapstructure:"deregister_after"`
}

// Validate ...
func (c *ConsulCfg) Validate() error {
	if c.ServiceName == "" {
		return errors.New("consul service_name is required")
	}
	if c.CheckInterval < 0 || c.DeregisterAfter < 0 {
		return errors.New("consul durations must not be negative")
	}
	return nil
}

// ConsulRegistrar registers one service instance with the local agent.
type ConsulRegistrar struct {
	mu         sync.Mutex
	cfg        ConsulCfg
	client     *api.Client
	id         string
	addr       net.NetEndPoint
	registered bool
}

// NewConsulRegistrar ...
func NewConsulRegistrar(cfg ConsulCfg) (*ConsulRegistrar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ac := api.DefaultConfig()
	if cfg.Address != "" {
		ac.Address = cfg.Address
	}
	if cfg.Scheme != "" {
		ac.Scheme = cfg.Scheme
	}
	ac.Token = cfg.Token
	ac.Datacenter = cfg.Datacenter
	client, err := api.NewClient(ac)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}

	id := cfg.ServiceID
	if id == "" {
		id = cfg.ServiceName + "-" + uuid.New().String()
	}
	return &ConsulRegistrar{cfg: cfg, client: client, id: id}, nil
}

func (r *ConsulRegistrar) FactoryName() string { return _factoryName }

// ServiceID is the id the instance is registered under.
func (r *ConsulRegistrar) ServiceID() string { return r.id }

func (r *ConsulRegistrar) registration() *api.AgentServiceRegistration {
	reg := &api.AgentServiceRegistration{
		ID:   r.id,
		Name: r.cfg.ServiceName,
		Tags: r.cfg.Tags,
		Meta: r.cfg.Meta,
		Port: r.addr.Port(),
	}
	// 监听 0.0.0.0 时用 agent 的地址
	if ip := r.addr.Addr(); ip.IsValid() && !ip.IsUnspecified() {
		reg.Address = ip.String()
	}
	if r.cfg.CheckInterval > 0 {
		check := &api.AgentServiceCheck{
			TCP:      fmt.Sprintf("%s:%d", checkHost(reg.Address), reg.Port),
			Interval: r.cfg.CheckInterval.String(),
			Timeout:  r.cfg.CheckInterval.String(),
		}
		if r.cfg.DeregisterAfter > 0 {
			check.DeregisterCriticalServiceAfter = r.cfg.DeregisterAfter.String()
		}
		reg.Check = check
	}
	return reg
}

func checkHost(addr string) string {
	if addr == "" {
		return "127.0.0.1"
	}
	return addr
}

// Register implements session.Registrar.
func (r *ConsulRegistrar) Register(ctx context.Context, addr net.NetEndPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addr = addr
	return r.registerLocked(ctx)
}

func (r *ConsulRegistrar) registerLocked(ctx context.Context) error {
	err := r.client.Agent().ServiceRegisterOpts(r.registration(), api.ServiceRegisterOpts{}.WithContext(ctx))
	if err != nil {
		metrics.IncrCounterWithDimGroup("discovery", "register_total", 1, metrics.Dimension{"result": "fail"})
		return fmt.Errorf("consul register %s: %w", r.id, err)
	}
	r.registered = true
	metrics.IncrCounterWithDimGroup("discovery", "register_total", 1, metrics.Dimension{"result": "ok"})
	log.Info().Str("serviceId", r.id).Str("service", r.cfg.ServiceName).Obj("addr", r.addr).Msg("service registered")
	return nil
}

// Deregister implements session.Registrar. It is a no-op when not
// registered.
func (r *ConsulRegistrar) Deregister(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.registered {
		return nil
	}
	q := (&api.QueryOptions{}).WithContext(ctx)
	if err := r.client.Agent().ServiceDeregisterOpts(r.id, q); err != nil {
		return fmt.Errorf("consul deregister %s: %w", r.id, err)
	}
	r.registered = false
	log.Info().Str("serviceId", r.id).Msg("service deregistered")
	return nil
}

// reload swaps tags and meta, re-registering when already registered.
// Anything else needs a new registrar.
func (r *ConsulRegistrar) reload(cfg ConsulCfg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.Address != r.cfg.Address || cfg.ServiceName != r.cfg.ServiceName ||
		(cfg.ServiceID != "" && cfg.ServiceID != r.id) {
		return errors.New("consul endpoint or identity changed")
	}
	r.cfg.Tags = cfg.Tags
	r.cfg.Meta = cfg.Meta
	r.cfg.CheckInterval = cfg.CheckInterval
	r.cfg.DeregisterAfter = cfg.DeregisterAfter
	if !r.registered {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.registerLocked(ctx)
}
