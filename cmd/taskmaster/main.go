// Command taskmaster runs the process supervisor against a declarative
// YAML configuration file, exposing an interactive operator shell while
// it is live.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/engine"
	"github.com/loykin/taskmaster/internal/logger"
	"github.com/loykin/taskmaster/internal/shell"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var logFile string
	var logLevel string
	exitCode := 0

	root := &cobra.Command{
		Use:           "taskmaster <config-path>",
		Short:         "A process supervisor driven by a declarative configuration file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = run(args[0], logFile, logLevel)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logFile, "logfile", "taskmaster.log", "path to the supervisor's own rotating operational log")
	root.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "minimum level for the operational log (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

// run performs the full supervisor lifecycle and returns the process exit
// code: 0 on clean shutdown, 2 if the initial config load fails.
func run(configPath, logFile, logLevel string) int {
	log, closeLog, err := logger.NewOperationalLogger(logger.OperationalConfig{
		Path:       logFile,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Compress:   true,
		Level:      parseLevel(logLevel),
		Console:    true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmaster: cannot open log: %v\n", err)
		return 1
	}
	defer func() { _ = closeLog() }()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("initial config load failed", "path", configPath, "error", err)
		return 2
	}

	eng := engine.New(log, cfg)
	go eng.Run()

	watcher, err := config.NewWatcher(configPath, log)
	if err != nil {
		log.Warn("config watcher unavailable, file changes will not trigger reload", "error", err)
	} else {
		defer watcher.Stop()
		go func() {
			for range watcher.Events() {
				eng.PostReload()
			}
		}()
	}

	installSignals(eng, watcher)

	for name, sp := range cfg.Programs {
		if sp.AutoStart {
			if err := eng.Start(name); err != nil {
				log.Error("autostart failed", "program", name, "error", err)
			}
		}
	}

	shell.New(eng, log, os.Stdin, os.Stdout).Run()
	<-eng.Done()
	return 0
}

func installSignals(eng *engine.Engine, watcher *config.Watcher) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				if watcher != nil {
					watcher.Trigger()
				}
				eng.PostReload()
			case syscall.SIGINT, syscall.SIGTERM:
				eng.PostShutdown()
				return
			}
		}
	}()
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
