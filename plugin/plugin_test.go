package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/gamenet/config"
)

const _fakeType Type = "fake"

type fakeCfg struct {
	Addr    string        `mapstructure:"addr"`
	Weight  int           `mapstructure:"weight"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type fakePlugin struct {
	cfg       fakeCfg
	destroyed bool
	reloads   int
}

func (*fakePlugin) FactoryName() string { return "mem" }

type fakeFactory struct {
	setups    int
	failAddr  string
	noReload  bool
	destroyed []*fakePlugin
}

func (*fakeFactory) Type() Type { return _fakeType }

func (*fakeFactory) Name() string { return "mem" }

func (f *fakeFactory) Setup(v map[string]any) (Plugin, error) {
	p := &fakePlugin{}
	if err := Decode(v, &p.cfg); err != nil {
		return nil, err
	}
	if p.cfg.Addr == f.failAddr {
		return nil, errors.New("refused")
	}
	f.setups++
	return p, nil
}

func (f *fakeFactory) Destroy(p Plugin) error {
	fp := p.(*fakePlugin)
	fp.destroyed = true
	f.destroyed = append(f.destroyed, fp)
	return nil
}

func (f *fakeFactory) Reload(p Plugin, v map[string]any) error {
	if f.noReload {
		return errors.New("reload unsupported")
	}
	fp := p.(*fakePlugin)
	fp.reloads++
	return Decode(v, &fp.cfg)
}

func newFakeManager() (*Manager, *fakeFactory) {
	m := NewManager()
	f := &fakeFactory{failAddr: "bad"}
	m.Register(f)
	return m, f
}

func TestDecodeWeaklyTyped(t *testing.T) {
	var cfg fakeCfg
	require.NoError(t, Decode(map[string]any{"addr": "a", "weight": "3", "timeout": "2s"}, &cfg))
	assert.Equal(t, fakeCfg{Addr: "a", Weight: 3, Timeout: 2 * time.Second}, cfg)
}

func TestSetupAndGet(t *testing.T) {
	m, f := newFakeManager()
	err := m.Setup(PluginConfig{
		"fake": {
			"mem":        {"addr": "a"},
			"mem_backup": {"addr": "b", "tag": "backup"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.setups)

	ins, err := m.Get(_fakeType, "mem", DefaultInsName)
	require.NoError(t, err)
	assert.Equal(t, "a", ins.(*fakePlugin).cfg.Addr)

	_, err = m.Get(_fakeType, "mem", "missing")
	assert.Error(t, err)
	assert.Equal(t, map[string][]string{"fake/mem": {"backup", "default"}}, m.List())

	require.NoError(t, m.DestroyAll())
	assert.Len(t, f.destroyed, 2)
	assert.Empty(t, m.List())
}

func TestSetupRollsBack(t *testing.T) {
	m, f := newFakeManager()

	err := m.Setup(PluginConfig{"fake": {"mem": {"addr": "a"}, "mem_x": {"addr": "bad", "tag": "x"}}})
	require.Error(t, err)
	assert.Equal(t, f.setups, len(f.destroyed))
	assert.Empty(t, m.List())

	err = m.Setup(PluginConfig{"fake": {"redis": {}}})
	assert.ErrorContains(t, err, "not found")

	// 两个实例都没有 tag
	err = m.Setup(PluginConfig{"fake": {"mem": {"addr": "a"}, "mem_2": {"addr": "b"}}})
	assert.ErrorContains(t, err, "configured twice")
}

func TestHotReload(t *testing.T) {
	m, f := newFakeManager()
	require.NoError(t, m.Setup(PluginConfig{"fake": {
		"mem":   {"addr": "a"},
		"mem_b": {"addr": "b", "tag": "b"},
	}}))
	first, _ := m.Get(_fakeType, "mem", DefaultInsName)

	next := PluginConfig{"fake": {
		"mem":   {"addr": "a2"},
		"mem_c": {"addr": "c", "tag": "c"},
	}}
	require.NoError(t, m.OnConfigChanged("plugin", &next, nil))

	same, err := m.Get(_fakeType, "mem", DefaultInsName)
	require.NoError(t, err)
	assert.Same(t, first, same)
	assert.Equal(t, "a2", same.(*fakePlugin).cfg.Addr)
	assert.Equal(t, 1, same.(*fakePlugin).reloads)

	_, err = m.Get(_fakeType, "mem", "b")
	assert.Error(t, err)
	_, err = m.Get(_fakeType, "mem", "c")
	assert.NoError(t, err)
	assert.Len(t, f.destroyed, 1)

	// 不支持 reload 时重建
	f.noReload = true
	again := PluginConfig{"fake": {"mem": {"addr": "a3"}}}
	require.NoError(t, m.OnConfigChanged("plugin", &again, nil))
	rebuilt, err := m.Get(_fakeType, "mem", DefaultInsName)
	require.NoError(t, err)
	assert.NotSame(t, first, rebuilt)
	assert.True(t, first.(*fakePlugin).destroyed)

	assert.NoError(t, m.OnConfigChanged("logger", nil, nil))
}

func TestInitFromConfigManager(t *testing.T) {
	dir := t.TempDir()
	body := "fake:\n  mem:\n    addr: from-file\n    weight: 2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(body), 0o644))

	cm := config.NewConfigManager()
	cm.SetBasePath(dir)
	t.Cleanup(func() { _ = cm.Close() })

	m, _ := newFakeManager()
	require.NoError(t, m.Init(cm))
	ins, err := m.Get(_fakeType, "mem", DefaultInsName)
	require.NoError(t, err)
	assert.Equal(t, fakeCfg{Addr: "from-file", Weight: 2}, ins.(*fakePlugin).cfg)
}
