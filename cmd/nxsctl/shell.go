package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/chzyer/readline"
)

// shell is the interactive mode of nxsctl.
type shell struct {
	t  *ctl
	rl *readline.Instance
}

func newShell(t *ctl, historyFile string) (*shell, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands)+2)
	for _, name := range commandNames() {
		items = append(items, readline.PcItem(name))
	}
	items = append(items, readline.PcItem("help"), readline.PcItem("quit"))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "nxs> ",
		HistoryFile:     historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	t.out = rl.Stdout()
	return &shell{t: t, rl: rl}, nil
}

// Run reads commands until EOF, quit or ctx is done.
func (s *shell) Run(ctx context.Context) {
	defer s.rl.Close()

	fmt.Fprintln(s.rl.Stdout(), `Type "help" for commands.`)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.t.c.Done():
			fmt.Fprintln(s.rl.Stderr(), "Connection lost.")
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			return
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch strings.ToLower(args[0]) {
		case "help", "?":
			printHelp(s.rl.Stdout())
			continue
		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			return
		}

		// Ctrl-C ends a running watch without leaving the shell.
		cctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		if err := s.t.exec(cctx, args); err != nil {
			fmt.Fprintf(s.rl.Stderr(), "error: %v\n", err)
		}
		stop()
	}
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	for _, name := range commandNames() {
		cmd := commands[name]
		fmt.Fprintf(w, "  %-70s %s\n", cmd.usage, cmd.help)
	}
	fmt.Fprintf(w, "  %-70s %s\n", "help", "Show this help")
	fmt.Fprintf(w, "  %-70s %s\n", "quit", "Leave the shell")
}
