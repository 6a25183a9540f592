// Package shell implements the Operator Shell (C6): a thin line-oriented
// interface over the engine's blocking command API. It owns no state of
// its own beyond the input reader.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/loykin/taskmaster/internal/engine"
)

const prompt = "taskmaster> "

// Shell reads whitespace-tokenized verbs from in and writes prompts and
// results to out, dispatching each verb to eng.
type Shell struct {
	eng *engine.Engine
	log *slog.Logger
	in  *bufio.Scanner
	out io.Writer
}

func New(eng *engine.Engine, log *slog.Logger, in io.Reader, out io.Writer) *Shell {
	return &Shell{eng: eng, log: log, in: bufio.NewScanner(in), out: out}
}

// Run reads verbs until EOF, an unrecoverable read error, or a quit
// command, then issues an engine shutdown and waits for it to complete.
func (s *Shell) Run() {
	for {
		fmt.Fprint(s.out, prompt)
		if !s.in.Scan() {
			break
		}
		if s.dispatch(strings.Fields(s.in.Text())) {
			break
		}
	}
	fmt.Fprintln(s.out)
	if err := s.eng.Shutdown(); err != nil && s.log != nil {
		s.log.Error("shutdown", "error", err)
	}
}

// dispatch runs one line's verb and reports whether the shell should stop.
func (s *Shell) dispatch(fields []string) (quit bool) {
	if len(fields) == 0 {
		return false
	}
	verb, args := fields[0], fields[1:]
	switch verb {
	case "start":
		s.withName(verb, args, s.eng.Start)
	case "stop":
		s.withName(verb, args, s.eng.Stop)
	case "restart":
		s.withName(verb, args, s.eng.Restart)
	case "status":
		s.printStatus()
	case "reload":
		if err := s.eng.Reload(); err != nil {
			fmt.Fprintf(s.out, "reload: %v\n", err)
		}
	case "help":
		fmt.Fprintln(s.out, "commands: start <name>, stop <name>, restart <name>, status, reload, help, exit")
	case "exit", "quit":
		return true
	default:
		fmt.Fprintf(s.out, "unknown command %q\n", verb)
	}
	return false
}

func (s *Shell) withName(verb string, args []string, op func(string) error) {
	if len(args) != 1 {
		fmt.Fprintf(s.out, "usage: %s <name>\n", verb)
		return
	}
	if err := op(args[0]); err != nil {
		fmt.Fprintf(s.out, "%s: %v\n", verb, err)
	}
}

func (s *Shell) printStatus() {
	rows := s.eng.Status()
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].Index < rows[j].Index
	})
	for _, r := range rows {
		if r.Pid != 0 {
			fmt.Fprintf(s.out, "%-20s %-3d %-10s pid=%d\n", r.Name, r.Index, r.State, r.Pid)
		} else {
			fmt.Fprintf(s.out, "%-20s %-3d %-10s\n", r.Name, r.Index, r.State)
		}
	}
}
