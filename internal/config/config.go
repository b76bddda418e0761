// Package config loads the settings shared by every redelk command and
// resolves values from the stack's .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"redelk/internal/version"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// PathEnv names the variable that overrides the RedELK checkout location.
const PathEnv = "REDELK_PATH"

// Settings are the values common to all commands.
type Settings struct {
	BaseDir    string `mapstructure:"base_dir"`
	ElkVersion string `mapstructure:"elk_version"`
	Verbose    bool   `mapstructure:"verbose"`
	DockerHost string `mapstructure:"docker_host"`
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"base-dir":    "base_dir",
	"elk-version": "elk_version",
	"verbose":     "verbose",
	"docker-host": "docker_host",
}

// Load layers defaults, an optional redelk.yaml, REDELK_* environment
// variables and the command's flags, in increasing precedence.
func Load(cmd *cobra.Command, configFile string) (Settings, error) {
	var s Settings
	v := viper.New()

	v.SetDefault("base_dir", BasePath())
	v.SetDefault("elk_version", version.ElkVersion)
	v.SetDefault("verbose", false)
	v.SetDefault("docker_host", "")

	v.SetConfigName("redelk")
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/redelk")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configFile == "" && os.IsNotExist(err)) {
			return s, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("redelk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for flag, key := range flagKeys {
			if f := cmd.Flags().Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return s, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("decode config: %w", err)
	}
	if s.DockerHost != "" {
		// The Docker SDK and the docker CLI both read it from the environment.
		os.Setenv("DOCKER_HOST", s.DockerHost)
	}
	return s, nil
}

// BasePath is REDELK_PATH when set, otherwise the working directory.
func BasePath() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}
