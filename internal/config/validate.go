package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/loykin/taskmaster/internal/signalname"
)

const (
	defaultStopTime = 10 * time.Second
)

// rawProgram is the shape decoded straight off the YAML tree, before
// validation and default-filling turn it into a ProgramSpec.
type rawProgram struct {
	Cmd          string            `mapstructure:"cmd"`
	NumProcs     *int              `mapstructure:"numprocs"`
	AutoStart    *bool             `mapstructure:"autostart"`
	AutoRestart  string            `mapstructure:"autorestart"`
	ExitCodes    []int             `mapstructure:"exitcodes"`
	StartSecs    int               `mapstructure:"startsecs"`
	StartRetries *int              `mapstructure:"startretries"`
	StopSignal   string            `mapstructure:"stopsignal"`
	StopTime     *int              `mapstructure:"stoptime"`
	Stdout       string            `mapstructure:"stdout"`
	Stderr       string            `mapstructure:"stderr"`
	WorkingDir   string            `mapstructure:"workingdir"`
	Env          map[string]string `mapstructure:"env"`
	Umask        string            `mapstructure:"umask"`
}

// validateAndFill turns a decoded rawProgram into a ProgramSpec, applying
// defaults and rejecting the invalid shapes named in §4.1: invalid types,
// missing cmd, non-positive numprocs, unknown stopsignal, non-octal umask,
// bad autorestart literal.
func validateAndFill(name string, raw rawProgram) (ProgramSpec, error) {
	if strings.TrimSpace(raw.Cmd) == "" {
		return ProgramSpec{}, configErr(name, "cmd is required")
	}

	numProcs := 1
	if raw.NumProcs != nil {
		numProcs = *raw.NumProcs
	}
	if numProcs < 1 {
		return ProgramSpec{}, configErr(name, "numprocs must be >= 1, got %d", numProcs)
	}

	autoRestart := RestartUnexpected
	if raw.AutoRestart != "" {
		switch AutoRestart(raw.AutoRestart) {
		case RestartNever, RestartAlways, RestartUnexpected:
			autoRestart = AutoRestart(raw.AutoRestart)
		default:
			return ProgramSpec{}, configErr(name, "autorestart must be one of never/always/unexpected, got %q", raw.AutoRestart)
		}
	}

	exitCodes := map[int]struct{}{0: {}}
	if len(raw.ExitCodes) > 0 {
		exitCodes = make(map[int]struct{}, len(raw.ExitCodes))
		for _, c := range raw.ExitCodes {
			exitCodes[c] = struct{}{}
		}
	}

	if raw.StartSecs < 0 {
		return ProgramSpec{}, configErr(name, "startsecs must be >= 0, got %d", raw.StartSecs)
	}

	startRetries := 0
	if raw.StartRetries != nil {
		if *raw.StartRetries < 0 {
			return ProgramSpec{}, configErr(name, "startretries must be >= 0, got %d", *raw.StartRetries)
		}
		startRetries = *raw.StartRetries
	}

	stopSignal := signalname.Default
	if raw.StopSignal != "" {
		if !signalname.Valid(raw.StopSignal) {
			return ProgramSpec{}, configErr(name, "unknown stopsignal %q", raw.StopSignal)
		}
		stopSignal = raw.StopSignal
	}

	stopTime := defaultStopTime
	if raw.StopTime != nil {
		if *raw.StopTime < 0 {
			return ProgramSpec{}, configErr(name, "stoptime must be >= 0, got %d", *raw.StopTime)
		}
		stopTime = time.Duration(*raw.StopTime) * time.Second
	}

	autoStart := false
	if raw.AutoStart != nil {
		autoStart = *raw.AutoStart
	}

	spec := ProgramSpec{
		Name:         name,
		Command:      raw.Cmd,
		NumProcs:     numProcs,
		AutoStart:    autoStart,
		AutoRestart:  autoRestart,
		ExitCodes:    exitCodes,
		StartSecs:    time.Duration(raw.StartSecs) * time.Second,
		StartRetries: startRetries,
		StopSignal:   stopSignal,
		StopTime:     stopTime,
		Stdout:       raw.Stdout,
		Stderr:       raw.Stderr,
		WorkingDir:   raw.WorkingDir,
		Env:          raw.Env,
		Umask:        raw.Umask,
	}

	if raw.Umask != "" {
		v, err := strconv.ParseUint(raw.Umask, 8, 32)
		if err != nil {
			return ProgramSpec{}, configErr(name, "umask must be an octal string, got %q", raw.Umask)
		}
		u := uint32(v)
		spec.umaskValue = &u
	}

	return spec, nil
}
