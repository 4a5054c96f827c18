package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "AUTHCLIENT"
	configFileName = "authclient"
)

type Config interface {
	EnvConfig
	APIConfig
	StoreConfig
	RealtimeConfig
	SessionConfig
}

type values struct {
	Env      string
	AppName  string
	API      apiValues
	Store    storeValues
	Realtime realtimeValues
	Session  sessionValues
	OIDC     oidcValues
	Metrics  metricsValues
}

type mainConfig struct {
	v values
}

// New returns the built-in defaults without reading any file or environment variable.
func New() Config {
	cfg, err := load(viper.New(), false)
	if err != nil {
		// Defaults are static, decoding them cannot fail.
		panic(err)
	}
	return cfg
}

// Load reads authclient.{yaml,toml,json} from the given directories (or the working directory and
// $HOME/.authclient when none are given) and overlays AUTHCLIENT_* environment variables.
// A missing config file is not an error.
func Load(paths ...string) (Config, error) {
	v := viper.New()
	v.SetConfigName(configFileName)
	if len(paths) == 0 {
		paths = []string{"."}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".authclient"))
		}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	return load(v, true)
}

func load(v *viper.Viper, readFile bool) (Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if readFile {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("[config.Load] read config file: %w", err)
			}
		}
	}

	var cfg values
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("[config.Load] unmarshal config: %w", err)
	}

	return mainConfig{v: cfg}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "DEV")
	v.SetDefault("appname", "Auth Client")

	v.SetDefault("api.baseurl", "http://localhost:8080/api")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.logintimeout", 15*time.Second)
	v.SetDefault("api.refreshtimeout", 10*time.Second)

	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", defaultStorePath())
	v.SetDefault("store.encryptionkey", "")
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "authclient:")

	v.SetDefault("realtime.url", "ws://localhost:8080/ws")
	v.SetDefault("realtime.subprotocol", "authclient.realtime.v1")
	v.SetDefault("realtime.handshaketimeout", 10*time.Second)
	v.SetDefault("realtime.backoff.initial", 500*time.Millisecond)
	v.SetDefault("realtime.backoff.max", 30*time.Second)
	v.SetDefault("realtime.backoff.multiplier", 2.0)

	v.SetDefault("session.clockskew", 30*time.Second)

	v.SetDefault("oidc.issuer", "")
	v.SetDefault("oidc.clientid", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")
}

func defaultStorePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".authclient", "tokens.json")
	}
	return filepath.Join(".", ".authclient", "tokens.json")
}
