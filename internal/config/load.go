package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/taskmaster/internal/env"
)

// rawConfig mirrors the top-level key/value tree: a programs mapping from
// name to settings. Unknown top-level keys are ignored for forward
// compatibility, matching viper's default unmarshal behavior.
type rawConfig struct {
	Programs map[string]map[string]any `mapstructure:"programs"`
}

// decodeTo decodes a generic map into T using mapstructure, tolerating
// loosely-typed YAML scalars (e.g. numprocs given as a YAML int64).
func decodeTo[T any](m map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

// Load reads path, decodes it as the declarative YAML tree, and validates
// every program declaration via C1. A supervisor-base .env file, if
// present in the working directory, is folded into the supervisor's own
// environment before GlobalEnv is computed.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("read %s: %w", path, err)}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decode %s: %w", path, err)}
	}

	programs := make(map[string]ProgramSpec, len(raw.Programs))
	for name, m := range raw.Programs {
		rp, err := decodeTo[rawProgram](m)
		if err != nil {
			return nil, &ConfigError{Program: name, Err: fmt.Errorf("decode: %w", err)}
		}
		spec, err := validateAndFill(name, rp)
		if err != nil {
			return nil, err
		}
		programs[name] = spec
	}

	baseEnv, err := supervisorEnv()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	return &Config{
		Programs:  programs,
		GlobalEnv: baseEnv,
		path:      path,
		modTime:   info.ModTime(),
	}, nil
}

// supervisorEnv computes the supervisor's own base environment: its OS
// environment overlaid with a .env file in the working directory, if one
// exists.
func supervisorEnv() (map[string]string, error) {
	e := env.New()
	e, err := e.WithDotEnvFile(".env")
	if err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	out := make(map[string]string)
	for _, kv := range e.Merge(nil) {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out, nil
}

// ModTime returns the modification time observed at the most recent
// successful load, used by the poll-based watcher.
func (c *Config) ModTime() time.Time { return c.modTime }
