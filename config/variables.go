// Package config reads the deployment variables that tune package retention.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Variables is a source of named deployment variables.
type Variables interface {
	// Get returns the raw value of name and whether it is set.
	Get(name string) (string, bool)
}

// MapVariables is an in-memory Variables. Names are matched case-insensitively.
type MapVariables map[string]string

// Get implements Variables.
func (m MapVariables) Get(name string) (string, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// EnvPrefix is the environment prefix for variables read through viper.
// Package.Retention.Strategy maps to PACKAGE_CACHE_PACKAGE_RETENTION_STRATEGY.
const EnvPrefix = "PACKAGE_CACHE"

// ViperVariables reads variables from a viper instance. Dotted names map to
// nested keys, so "Package.Retention.Strategy" is read from
//
//	package:
//	  retention:
//	    strategy: Quantities
type ViperVariables struct {
	v *viper.Viper
}

// NewViperVariables wraps v.
func NewViperVariables(v *viper.Viper) *ViperVariables {
	return &ViperVariables{v: v}
}

// LoadFile builds ViperVariables from an optional config file (yaml, json or
// toml, chosen by extension) with environment overrides. An empty path reads
// the environment only.
func LoadFile(path string) (*ViperVariables, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return NewViperVariables(v), nil
}

// Get implements Variables.
func (vv *ViperVariables) Get(name string) (string, bool) {
	if !vv.v.IsSet(name) {
		return "", false
	}
	return vv.v.GetString(name), true
}

// Set overrides a variable, mostly for tests and CLI flags.
func (vv *ViperVariables) Set(name, value string) {
	vv.v.Set(name, value)
}

var (
	_ Variables = MapVariables(nil)
	_ Variables = (*ViperVariables)(nil)
)
