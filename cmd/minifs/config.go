package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/diskfs/minifs/filesystem/minifs"
)

const envVarPrefix = "MINIFS"

// Config holds the defaults for command line flags. It is read from the optional YAML file named by
// MINIFS_CONFIG_FILE and then from MINIFS_* environment variables.
type Config struct {
	Image       string `envconfig:"MINIFS_IMAGE"       yaml:"image"`
	Blocks      uint32 `envconfig:"MINIFS_BLOCKS"      yaml:"blocks"`
	BlockSize   uint32 `envconfig:"MINIFS_BLOCK_SIZE"  yaml:"blockSize"`
	LogLevel    string `envconfig:"MINIFS_LOG_LEVEL"   yaml:"logLevel"`
	Compression string `envconfig:"MINIFS_COMPRESSION" yaml:"compression"`
}

func defaultConfig() Config {
	return Config{
		Blocks:      minifs.DefaultBlockCount,
		BlockSize:   minifs.DefaultBlockSize,
		LogLevel:    log.WarnLevel.String(),
		Compression: "zstd",
	}
}

// LoadConfig layers the config file and the environment over the defaults
func LoadConfig() (*Config, error) {
	c := defaultConfig()
	if configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE"); configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.UnmarshalStrict(data, &c); err != nil {
				return nil, fmt.Errorf("unmarshaling config file: %w", err)
			}
		}
	}
	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}
