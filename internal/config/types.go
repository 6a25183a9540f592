// Package config implements the Configuration Model (C1) and the Config
// Loader / Watcher (C2): a typed, validated in-memory representation of
// declared programs, decoded from a YAML key/value tree via viper and
// mapstructure, plus change detection for reloads.
package config

import "time"

// AutoRestart classifies when a replica should be restarted after
// termination. See the restart classification policy.
type AutoRestart string

const (
	RestartNever      AutoRestart = "never"
	RestartAlways     AutoRestart = "always"
	RestartUnexpected AutoRestart = "unexpected"
)

// ProgramSpec is the validated declaration of one program. Zero values for
// optional fields are filled with their documented defaults by Load.
type ProgramSpec struct {
	Name         string
	Command      string
	NumProcs     int
	AutoStart    bool
	AutoRestart  AutoRestart
	ExitCodes    map[int]struct{}
	StartSecs    time.Duration
	StartRetries int
	StopSignal   string
	StopTime     time.Duration
	Stdout       string
	Stderr       string
	WorkingDir   string
	Env          map[string]string
	Umask        string
	umaskValue   *uint32 // parsed from Umask, nil if unset
}

// UmaskValue returns the parsed umask, and whether one was configured.
func (p ProgramSpec) UmaskValue() (uint32, bool) {
	if p.umaskValue == nil {
		return 0, false
	}
	return *p.umaskValue, true
}

// ExitCodeExpected reports whether code is in the program's exitcodes set.
func (p ProgramSpec) ExitCodeExpected(code int) bool {
	_, ok := p.ExitCodes[code]
	return ok
}

// Config is the top-level validated declaration: every program keyed by
// name, plus the resolved global environment overlay.
type Config struct {
	Programs  map[string]ProgramSpec
	GlobalEnv map[string]string

	path    string
	modTime time.Time
}

// Path returns the filesystem path this Config was loaded from.
func (c *Config) Path() string { return c.path }
