package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/burugo/syncstore"
)

const (
	envPrefix = "SYNCSTORE"

	cfgKeyBaseURL   = "base_url"
	cfgKeyToken     = "token"
	cfgKeyDBPath    = "db_path"
	cfgKeyRedisAddr = "redis_addr"
	cfgKeyTTL       = "ttl"
	cfgKeyOffline   = "offline"

	defaultDBPath = "syncstore.db"
)

// Settings is the resolved CLI configuration.
type Settings struct {
	BaseURL   string
	Token     string
	DBPath    string
	RedisAddr string // empty keeps TTL records in the local database
	TTL       time.Duration
	Offline   bool
}

// loadSettings merges, lowest first: defaults, the config file, SYNCSTORE_*
// environment variables, then flags that were set explicitly.
func loadSettings(cmd *cobra.Command, configFile string) (*Settings, error) {
	v := viper.New()
	v.SetDefault(cfgKeyDBPath, defaultDBPath)
	v.SetDefault(cfgKeyTTL, syncstore.DefaultTTL)
	v.SetDefault(cfgKeyOffline, false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("syncstore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for key, flag := range map[string]string{
		cfgKeyBaseURL:   "base-url",
		cfgKeyToken:     "token",
		cfgKeyDBPath:    "db",
		cfgKeyRedisAddr: "redis",
		cfgKeyTTL:       "ttl",
		cfgKeyOffline:   "offline",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	s := &Settings{
		BaseURL:   v.GetString(cfgKeyBaseURL),
		Token:     v.GetString(cfgKeyToken),
		DBPath:    v.GetString(cfgKeyDBPath),
		RedisAddr: v.GetString(cfgKeyRedisAddr),
		TTL:       v.GetDuration(cfgKeyTTL),
		Offline:   v.GetBool(cfgKeyOffline),
	}
	if s.DBPath == "" {
		return nil, fmt.Errorf("%w: %s must not be empty", syncstore.ErrInvalidConfig, cfgKeyDBPath)
	}
	return s, nil
}
