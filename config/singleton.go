package config

import "sync"

var (
	instanceMu sync.Mutex
	instance   ConfigManager
)

// GetInstance returns the process-wide ConfigManager, creating it on first use.
func GetInstance() ConfigManager {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		instance = NewConfigManager()
	}
	return instance
}

// ResetInstance closes and drops the process-wide manager.
func ResetInstance() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		_ = instance.Close()
	}
	instance = nil
}

// SetInstanceForTesting replaces the process-wide manager.
func SetInstanceForTesting(cm ConfigManager) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = cm
}
