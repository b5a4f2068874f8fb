// vtools/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	PolicyFailVisible = "fail-visible"
	PolicyFailSoft    = "fail-soft"
)

type Config struct {
	FFBin            string        `mapstructure:"FF_BIN"`
	FFProbeBin       string        `mapstructure:"FFPROBE_BIN"`
	FFGlobalArgs     string        `mapstructure:"FF_GLOBAL_ARGS"`
	FFTimeout        time.Duration `mapstructure:"FF_TIMEOUT"`
	MaxInputSize     int64         `mapstructure:"MAX_INPUT_SIZE"`
	ThrottleEnable   bool          `mapstructure:"THROTTLE_ENABLE"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	FailurePolicy    string        `mapstructure:"FAILURE_POLICY"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	LogFormat        string        `mapstructure:"LOG_FORMAT"`
	AuthEnable       bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey          string        `mapstructure:"AUTH_KEY"`
	Host             string        `mapstructure:"HOST"`
	Port             string        `mapstructure:"PORT"`

	vp     *viper.Viper
	mu     sync.Mutex
	authMu sync.RWMutex
}

// stringToDurationHookFunc parses Go duration strings such as "12m3s".
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable sizes such as "20GB".
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a size string, let the default decoder try.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_GLOBAL_ARGS", "-hide_banner -loglevel error")
	vp.SetDefault("FF_TIMEOUT", "0s")
	vp.SetDefault("MAX_INPUT_SIZE", "20GB")
	vp.SetDefault("THROTTLE_ENABLE", false)
	vp.SetDefault("THROTTLE_CPU", 20.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "1GB")
	vp.SetDefault("FAILURE_POLICY", PolicyFailVisible)
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "console")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("HOST", "127.0.0.1")
	vp.SetDefault("PORT", "7878")
}

// Load reads defaults, then an optional YAML file, then VTOOLS_* environment
// variables. An empty path searches the working directory and /etc/vtools/.
func Load(path string) (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	if path != "" {
		vp.SetConfigFile(path)
	} else {
		vp.SetConfigName("vtools_config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		vp.AddConfigPath("/etc/vtools/")
	}

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	vp.SetEnvPrefix("VTOOLS")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	cfg, err := decode(vp)
	if err != nil {
		return nil, err
	}
	cfg.vp = vp
	return cfg, nil
}

func decode(vp *viper.Viper) (*Config, error) {
	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the rest of the program cannot interpret.
func (c *Config) Validate() error {
	switch c.FailurePolicy {
	case PolicyFailVisible, PolicyFailSoft:
	default:
		return fmt.Errorf("invalid FAILURE_POLICY %q (want %s or %s)", c.FailurePolicy, PolicyFailVisible, PolicyFailSoft)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}
	if c.MaxInputSize < 0 {
		return fmt.Errorf("MAX_INPUT_SIZE must not be negative")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Credentials returns the auth settings in effect. Read them through here
// rather than the fields when a reload may be running.
func (c *Config) Credentials() (enabled bool, key string) {
	c.authMu.RLock()
	defer c.authMu.RUnlock()
	return c.AuthEnable, c.AuthKey
}

// SetCredentials swaps in new auth settings, typically from a reloaded file.
func (c *Config) SetCredentials(enabled bool, key string) {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	c.AuthEnable, c.AuthKey = enabled, key
}

// File reports the config file that was loaded, or "" when running on
// defaults and environment only.
func (c *Config) File() string {
	if c.vp == nil {
		return ""
	}
	return c.vp.ConfigFileUsed()
}

// OnChange watches the loaded config file and calls fn with the freshly
// decoded config after every write. Invalid edits are reported through
// onErr and otherwise ignored. It is a no-op without a config file.
func (c *Config) OnChange(fn func(*Config), onErr func(error)) {
	if c.File() == "" {
		return
	}
	c.vp.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		next, err := decode(c.vp)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		next.vp = c.vp
		fn(next)
	})
	c.vp.WatchConfig()
}
