// Package config loads channel parameters for the cmd/raam CLI. It has
// no bearing on core library behavior (every exported package in this
// module takes its parameters as explicit arguments); it exists only
// to spare an operator from retyping seed/height/security/password
// flags on every invocation. Grounded on orbas1-Synnergy's
// pkg/config.Load: github.com/spf13/viper for layered file/env
// config, github.com/joho/godotenv for .env loading before viper reads
// the environment.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Channel holds the parameters needed to open a RAAM channel from the
// command line.
type Channel struct {
	SeedTrytes      string `mapstructure:"seed"`
	Height          uint8  `mapstructure:"height"`
	Security        uint8  `mapstructure:"security"`
	ChannelPassword string `mapstructure:"channel_password"`
	KeyFile         string `mapstructure:"key_file"`
	LedgerURL       string `mapstructure:"ledger_url"`
	PushStreamURL   string `mapstructure:"pushstream_url"`
}

// Load reads a RAAM channel config from (in ascending priority) a
// config file named configName under configPaths, a .env file in the
// working directory, and RAAM_-prefixed environment variables. A
// missing .env file is not an error, the same "env optional" contract
// orbas1-Synnergy's config loader follows.
func Load(configName string, configPaths []string) (*Channel, error) {
	_ = godotenv.Load() // .env is optional; ignore a missing file

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("RAAM")
	v.AutomaticEnv()

	v.SetDefault("height", 4)
	v.SetDefault("security", 2)

	if err := v.ReadInConfig(); err != nil {
		if _, isNotFound := err.(viper.ConfigFileNotFoundError); !isNotFound {
			return nil, errors.Wrap(err, "config: reading channel config")
		}
	}

	var ch Channel
	if err := v.Unmarshal(&ch); err != nil {
		return nil, errors.Wrap(err, "config: unmarshaling channel config")
	}
	if ch.SeedTrytes == "" {
		if seed := os.Getenv("RAAM_SEED"); seed != "" {
			ch.SeedTrytes = seed
		}
	}
	return &ch, nil
}
