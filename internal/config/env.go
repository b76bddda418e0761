package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvLoader resolves a key from the process environment first, then from
// elkserver/.env under the base path, then from the caller's default.
type EnvLoader struct {
	base string
	file *viper.Viper
}

// NewEnvLoader reads <base>/elkserver/.env when it exists. An empty base
// falls back to BasePath.
func NewEnvLoader(base string) *EnvLoader {
	if base == "" {
		base = BasePath()
	}
	l := &EnvLoader{base: base}

	path := filepath.Join(base, "elkserver", ".env")
	if _, err := os.Stat(path); err == nil {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err == nil {
			l.file = v
		}
	}
	return l
}

// Base returns the directory the loader resolves paths against.
func (l *EnvLoader) Base() string {
	return l.base
}

// Value returns the resolved value for key, or def.
func (l *EnvLoader) Value(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	if l.file != nil {
		k := strings.ToLower(key)
		if l.file.IsSet(k) {
			return l.file.GetString(k)
		}
	}
	return def
}
