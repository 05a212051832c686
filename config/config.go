// Package config loads the Gateway's configuration (spec.md §6.4) with
// spf13/viper and validates it with go-playground/validator, the same
// pair jordigilh/kubernaut wires together for its own runtime config.
// Unmarshalling into a struct and keeping the viper.Viper instance
// around for a later WatchConfig hookup mirrors the shape in
// Comcast/webpa-common's tr1d1um entry point (v.Unmarshal(cfg) off a
// *viper.Viper built once at startup).
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DeviceStoragePolicy mirrors repository.Policy's four values as the
// string spelling spec.md §6.4 uses on the wire/config-file side.
type DeviceStoragePolicy string

const (
	PolicyNone       DeviceStoragePolicy = "NONE"
	PolicyCached     DeviceStoragePolicy = "CACHED"
	PolicyPersistent DeviceStoragePolicy = "PERSISTENT"
	PolicyFull       DeviceStoragePolicy = "FULL"
)

// Config is every option spec.md §6.4 recognizes, plus the ambient
// logging/statusapi sections the teacher's own cmd/otto carries as
// CLI flags (promoted here to config-file fields since gwbridge has
// more of them than fit comfortably as flags).
type Config struct {
	GatewayKey           string `mapstructure:"gatewayKey" validate:"required"`
	GatewayPassword      string `mapstructure:"gatewayPassword" validate:"required"`
	PlatformURI          string `mapstructure:"platformUri" validate:"required"`
	PlatformCABundlePath string `mapstructure:"platformCaBundlePath"`
	LocalBusURI          string `mapstructure:"localBusUri" validate:"required"`

	KeepAliveSeconds int `mapstructure:"keepAliveSeconds" validate:"min=1"`
	ReconnectDelayMs int `mapstructure:"reconnectDelayMs" validate:"min=1"`
	RetryCount       int `mapstructure:"retryCount" validate:"min=0"`
	RetryIntervalMs  int `mapstructure:"retryIntervalMs" validate:"min=1"`

	DeviceStoragePolicy DeviceStoragePolicy `mapstructure:"deviceStoragePolicy" validate:"oneof=NONE CACHED PERSISTENT FULL"`
	DatabaseDSN         string              `mapstructure:"databaseDsn" validate:"required_if=DeviceStoragePolicy PERSISTENT,required_if=DeviceStoragePolicy FULL"`

	FilesDirectory           string `mapstructure:"filesDirectory"`
	FirmwareWorkingDirectory string `mapstructure:"firmwareWorkingDirectory"`
	MaxPacketSize            int    `mapstructure:"maxPacketSize" validate:"min=0"`
	ErrorRetainMs            int    `mapstructure:"errorRetainMs" validate:"min=0"`

	LogLevel  string `mapstructure:"logLevel"`
	LogFormat string `mapstructure:"logFormat"`
	LogOutput string `mapstructure:"logOutput"`
	LogFile   string `mapstructure:"logFile"`

	StatusAPIAddr string `mapstructure:"statusApiAddr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("keepAliveSeconds", 60)
	v.SetDefault("reconnectDelayMs", 2000)
	v.SetDefault("retryCount", 3)
	v.SetDefault("retryIntervalMs", 5000)
	v.SetDefault("deviceStoragePolicy", string(PolicyCached))
	v.SetDefault("errorRetainMs", 1000)
	v.SetDefault("logLevel", "info")
	v.SetDefault("logFormat", "text")
	v.SetDefault("logOutput", "stdout")
	v.SetDefault("statusApiAddr", ":8080")
}

var validate = validator.New()

// Load reads the config file at path (any format viper supports: yaml,
// json, toml) and returns a validated Config. v is returned alongside
// so the caller can wire Watch for live reload.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.DeviceStoragePolicy = DeviceStoragePolicy(strings.ToUpper(string(cfg.DeviceStoragePolicy)))
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// liveReloadable are the fields safe to change without restarting the
// gateway: operational tuning, not identity or connection targets.
var liveReloadable = map[string]bool{
	"logLevel":        true,
	"logFormat":       true,
	"retryCount":      true,
	"retryIntervalMs": true,
	"errorRetainMs":   true,
}

// Watch installs a viper.WatchConfig handler (fsnotify under the hood)
// that re-reads and re-validates the file on every change and invokes
// onChange with the new Config and the liveReloadable fields that
// differ from the last accepted version. A rewrite that fails
// validation is passed to onError and the previous Config stays in
// effect.
//
// Only liveReloadable fields are expected to actually matter once the
// gateway is running; connection-identity fields (gatewayKey,
// platformUri, ...) changing under a live process still produce a new
// Config here, but nothing in supervisor re-dials on config change, so
// those edits only take effect on the next restart.
func Watch(v *viper.Viper, onChange func(cfg *Config, changed []string), onError func(error)) {
	// viper has already re-read the file by the time OnConfigChange
	// fires, so the baseline is kept from the last accepted config.
	prev := snapshot(v)
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		next := snapshot(v)
		changed := diffReloadable(prev, next)
		prev = next
		onChange(cfg, changed)
	})
	v.WatchConfig()
}

// snapshot captures the subset of settings Watch cares about comparing
// across a reload, keyed the same as liveReloadable.
func snapshot(v *viper.Viper) map[string]any {
	s := make(map[string]any, len(liveReloadable))
	for k := range liveReloadable {
		s[k] = v.Get(k)
	}
	return s
}

func diffReloadable(prev, next map[string]any) []string {
	var changed []string
	for k := range liveReloadable {
		if fmt.Sprint(prev[k]) != fmt.Sprint(next[k]) {
			changed = append(changed, k)
		}
	}
	return changed
}
