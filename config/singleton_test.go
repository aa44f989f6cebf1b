package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingletonInstance(t *testing.T) {
	ResetInstance()
	defer ResetInstance()

	instance1 := GetInstance()
	instance2 := GetInstance()
	assert.NotNil(t, instance1)
	assert.Same(t, instance1, instance2)

	var wg sync.WaitGroup
	instances := make([]ConfigManager, 64)
	for i := range instances {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			instances[index] = GetInstance()
		}(i)
	}
	wg.Wait()

	for i, instance := range instances {
		assert.Same(t, instance1, instance, "instance %d", i)
	}
}

func TestSetInstanceForTesting(t *testing.T) {
	ResetInstance()
	defer ResetInstance()

	mock := &mockConfigManager{}
	SetInstanceForTesting(mock)
	assert.Same(t, ConfigManager(mock), GetInstance())

	ResetInstance()
	fresh := GetInstance()
	assert.NotNil(t, fresh)
	assert.NotSame(t, ConfigManager(mock), fresh)
}

// mockConfigManager is a mock implementation for testing
type mockConfigManager struct{}

func (m *mockConfigManager) LoadConfig(string, Config) error {
	return nil
}

func (m *mockConfigManager) GetConfig(string) (Config, error) {
	return nil, nil
}

func (m *mockConfigManager) ReloadConfig(string) error {
	return nil
}

func (m *mockConfigManager) RegisterValidator(string, ValidatorFunc) {
}

func (m *mockConfigManager) RegisterHook(string, HookFunc) {
}

func (m *mockConfigManager) AddChangeListener(ConfigChangeListener) {
}

func (m *mockConfigManager) SetBasePath(string) {
}

func (m *mockConfigManager) SetEnvironment(string) {
}

func (m *mockConfigManager) Close() error {
	return nil
}
