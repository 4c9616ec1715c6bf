package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadableConfig watches a config file and applies the settings that can
// change without rebuilding the adapter or the scheduler
type ReloadableConfig struct {
	mu sync.RWMutex

	config   *Config
	path     string
	logger   *zap.Logger
	lastMod  time.Time
	interval time.Duration

	onReload []ReloadCallback

	criticalSettings CriticalSettings

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ReloadCallback is called when configuration is reloaded
type ReloadCallback func(oldConfig, newConfig *Config) error

// CriticalSettings stores settings that cannot be changed during hot reload
type CriticalSettings struct {
	Version         string
	ApplicationName string
	AdapterType     string
	AdapterEndpoint string
	AdapterFilter   string
	BufferCapacity  int
	WindowWidth     time.Duration
	TickWidth       time.Duration
	CodecFormat     string
}

func criticalSettingsOf(config *Config) CriticalSettings {
	return CriticalSettings{
		Version:         config.Version,
		ApplicationName: config.Application.Name,
		AdapterType:     config.Adapter.Type,
		AdapterEndpoint: config.Adapter.Endpoint,
		AdapterFilter:   config.Adapter.Filter,
		BufferCapacity:  config.Adapter.BufferCapacity,
		WindowWidth:     config.Window.Width,
		TickWidth:       config.Window.TickWidth,
		CodecFormat:     config.Codec.Format,
	}
}

// NewReloadableConfig creates a new reloadable configuration
func NewReloadableConfig(path string, logger *zap.Logger) (*ReloadableConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config, err := ValidateAndLoad(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ReloadableConfig{
		config:           config,
		path:             path,
		logger:           logger,
		lastMod:          stat.ModTime(),
		interval:         10 * time.Second,
		onReload:         make([]ReloadCallback, 0),
		criticalSettings: criticalSettingsOf(config),
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

// Get returns the current configuration (thread-safe)
func (rc *ReloadableConfig) Get() *Config {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return copyConfig(rc.config)
}

// OnReload registers a callback to be called when configuration is reloaded
func (rc *ReloadableConfig) OnReload(callback ReloadCallback) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.onReload = append(rc.onReload, callback)
}

// SetReloadInterval sets the interval for checking configuration changes
func (rc *ReloadableConfig) SetReloadInterval(interval time.Duration) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.interval = interval
}

// Start begins watching for configuration file changes
func (rc *ReloadableConfig) Start() {
	rc.mu.RLock()
	interval := rc.interval
	rc.mu.RUnlock()

	rc.wg.Add(1)
	go rc.watchLoop(interval)
}

// Stop stops watching for configuration changes
func (rc *ReloadableConfig) Stop() {
	rc.cancel()
	rc.wg.Wait()
}

func (rc *ReloadableConfig) watchLoop(interval time.Duration) {
	defer rc.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rc.ctx.Done():
			rc.logger.Info("Configuration watcher stopped")
			return

		case <-ticker.C:
			if err := rc.checkAndReload(false); err != nil {
				rc.logger.Error("Failed to reload configuration",
					zap.String("path", rc.path),
					zap.Error(err))
			}
		}
	}
}

// checkAndReload reloads the file when it changed since the last load, or
// unconditionally when force is set
func (rc *ReloadableConfig) checkAndReload(force bool) error {
	stat, err := os.Stat(rc.path)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	rc.mu.RLock()
	lastMod := rc.lastMod
	rc.mu.RUnlock()

	if !force && !stat.ModTime().After(lastMod) {
		return nil
	}

	rc.logger.Info("Configuration file changed, reloading",
		zap.String("path", rc.path),
		zap.Time("last_modified", stat.ModTime()))

	newConfig, err := ValidateAndLoad(rc.path)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}

	if err := rc.validateCriticalSettings(newConfig); err != nil {
		return fmt.Errorf("critical settings changed (requires restart): %w", err)
	}

	rc.mu.RLock()
	oldConfig := rc.config
	callbacks := append([]ReloadCallback(nil), rc.onReload...)
	rc.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(oldConfig, newConfig); err != nil {
			rc.logger.Error("Reload callback failed", zap.Error(err))
			return fmt.Errorf("reload callback failed: %w", err)
		}
	}

	rc.mu.Lock()
	rc.config = newConfig
	rc.lastMod = stat.ModTime()
	rc.mu.Unlock()

	rc.logger.Info("Configuration reloaded successfully",
		zap.String("path", rc.path),
		zap.Int("blast_size", newConfig.Adapter.BlastSize),
		zap.String("log_level", newConfig.Logging.Level))

	return nil
}

// validateCriticalSettings ensures critical settings haven't changed
func (rc *ReloadableConfig) validateCriticalSettings(newConfig *Config) error {
	cs := rc.criticalSettings
	next := criticalSettingsOf(newConfig)

	switch {
	case next.Version != cs.Version:
		return fmt.Errorf("version changed from %s to %s", cs.Version, next.Version)
	case next.ApplicationName != cs.ApplicationName:
		return fmt.Errorf("application name changed from %s to %s", cs.ApplicationName, next.ApplicationName)
	case next.AdapterType != cs.AdapterType:
		return fmt.Errorf("adapter type changed from %s to %s", cs.AdapterType, next.AdapterType)
	case next.AdapterEndpoint != cs.AdapterEndpoint:
		return fmt.Errorf("adapter endpoint changed from %s to %s", cs.AdapterEndpoint, next.AdapterEndpoint)
	case next.AdapterFilter != cs.AdapterFilter:
		return fmt.Errorf("adapter filter changed from %s to %s", cs.AdapterFilter, next.AdapterFilter)
	case next.BufferCapacity != cs.BufferCapacity:
		return fmt.Errorf("buffer capacity changed from %d to %d", cs.BufferCapacity, next.BufferCapacity)
	case next.WindowWidth != cs.WindowWidth:
		return fmt.Errorf("window width changed from %s to %s", cs.WindowWidth, next.WindowWidth)
	case next.TickWidth != cs.TickWidth:
		return fmt.Errorf("tick width changed from %s to %s", cs.TickWidth, next.TickWidth)
	case next.CodecFormat != cs.CodecFormat:
		return fmt.Errorf("codec format changed from %s to %s", cs.CodecFormat, next.CodecFormat)
	}

	return nil
}

// Reload re-reads the file now, whether or not its modification time moved
func (rc *ReloadableConfig) Reload() error {
	return rc.checkAndReload(true)
}

// copyConfig creates a deep copy of the configuration
func copyConfig(src *Config) *Config {
	dst := *src

	dst.Application.Tags = copyMap(src.Application.Tags)
	dst.Adapter.Properties = copyMap(src.Adapter.Properties)

	dst.Sinks.Log = append([]LogSinkConfig{}, src.Sinks.Log...)
	dst.Sinks.Kafka = make([]KafkaSinkConfig, len(src.Sinks.Kafka))
	for i, k := range src.Sinks.Kafka {
		k.Brokers = append([]string{}, k.Brokers...)
		k.Properties = copyMap(k.Properties)
		dst.Sinks.Kafka[i] = k
	}
	dst.Sinks.TimescaleDB = append([]TimescaleSinkConfig{}, src.Sinks.TimescaleDB...)

	return &dst
}

func copyMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// HotReloadableSettings returns a list of settings that can be hot-reloaded
func HotReloadableSettings() []string {
	return []string{
		"adapter.blast_size",
		"logging.level",
	}
}

// CriticalSettingsList returns a list of settings that require restart
func CriticalSettingsList() []string {
	return []string{
		"version",
		"application.name",
		"adapter.type",
		"adapter.endpoint",
		"adapter.filter",
		"adapter.buffer_capacity",
		"window.width",
		"window.tick_width",
		"codec.format",
	}
}
