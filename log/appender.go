package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lcx/gamenet/config"
)

// LogAppender receives finished log lines.
type LogAppender interface {
	Write(p []byte)
	Refresh()
	Close() error
}

// ConsoleAppender writes lines to stdout, or any writer for tests.
type ConsoleAppender struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleAppender ...
func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{w: os.Stdout}
}

// NewWriterAppender writes lines to w.
func NewWriterAppender(w io.Writer) *ConsoleAppender {
	return &ConsoleAppender{w: w}
}

func (a *ConsoleAppender) Write(p []byte) {
	a.mu.Lock()
	_, _ = a.w.Write(p)
	a.mu.Unlock()
}

func (a *ConsoleAppender) Refresh() {}

func (a *ConsoleAppender) Close() error { return nil }

// FileAppender writes to LogPath and rolls the file once it passes
// FileSplitMB. Rolled files get a timestamp suffix.
type FileAppender struct {
	mu         sync.Mutex
	path       string
	splitBytes int64
	file       *os.File
	size       int64
	seq        int
	now        func() time.Time
}

// NewFileAppender ...
func NewFileAppender(cfg *LogCfg) *FileAppender {
	a := &FileAppender{now: time.Now}
	a.apply(cfg)
	return a
}

// NewFileAppenderWithConfigManager creates a FileAppender that follows
// changes to the "logger" config.
func NewFileAppenderWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *FileAppender {
	a := NewFileAppender(cfg)
	if configManager != nil {
		configManager.AddChangeListener(a)
	}
	return a
}

func (a *FileAppender) apply(cfg *LogCfg) {
	a.path = cfg.LogPath
	a.splitBytes = int64(cfg.FileSplitMB) << 20
}

func (a *FileAppender) open() error {
	if dir := filepath.Dir(a.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	a.file = f
	a.size = st.Size()
	return nil
}

func (a *FileAppender) rotate() {
	_ = a.file.Close()
	a.file = nil
	a.seq++
	rolled := fmt.Sprintf("%s.%s.%d", a.path, a.now().Format("20060102150405"), a.seq)
	if err := os.Rename(a.path, rolled); err != nil {
		fmt.Fprintf(os.Stderr, "log rotate %s: %v\n", a.path, err)
	}
}

func (a *FileAppender) Write(p []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		if err := a.open(); err != nil {
			fmt.Fprintf(os.Stderr, "log open %s: %v\n", a.path, err)
			return
		}
	}
	n, _ := a.file.Write(p)
	a.size += int64(n)
	if a.splitBytes > 0 && a.size >= a.splitBytes {
		a.rotate()
	}
}

// Refresh reopens the file on next write, picking up external rotation.
func (a *FileAppender) Refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
}

func (a *FileAppender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

func (a *FileAppender) GetConfigName() string { return _loggerConfigName }

// OnConfigChanged moves to the new path or split size.
func (a *FileAppender) OnConfigChanged(_ string, newConfig, _ config.Config) error {
	cfg, ok := newConfig.(*LogCfg)
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if cfg.LogPath != a.path && a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
	a.apply(cfg)
	return nil
}
