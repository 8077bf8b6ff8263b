// Package repl is the interactive front end over one analysis controller.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manash/zenspace/internal/analysis"
	"github.com/manash/zenspace/internal/display"
	"github.com/manash/zenspace/internal/image"
	"github.com/manash/zenspace/internal/session"
	"github.com/manash/zenspace/pkg/models"
)

type REPL struct {
	in         io.Reader
	out        io.Writer
	err        io.Writer
	controller *analysis.Controller
	sessionMgr *session.Manager
	displayer  *display.Displayer
	saver      *image.Saver
	showImages bool
	models     ModelNames
	commands   map[string]Command
	running    bool
}

// ModelNames is recorded with archived analyses and edits.
type ModelNames struct {
	Analysis string
	Image    string
	Edit     string
}

type Config struct {
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	Controller *analysis.Controller
	SessionMgr *session.Manager
	Displayer  *display.Displayer
	Saver      *image.Saver
	// ShowImages renders images inline after analysis and edits.
	ShowImages bool
	Models     ModelNames
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:         cfg.In,
		out:        cfg.Out,
		err:        cfg.Err,
		controller: cfg.Controller,
		sessionMgr: cfg.SessionMgr,
		displayer:  cfg.Displayer,
		saver:      cfg.Saver,
		showImages: cfg.ShowImages,
		models:     cfg.Models,
		commands:   make(map[string]Command),
	}
	r.registerCommands()
	return r
}

// Run reads commands line by line until quit, end of input or ctx is done.
// Lines are read without read-ahead, so a key prompt sharing the same
// *bufio.Reader sees the line typed after the key command.
func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	lines := bufio.NewReader(r.in)
	for r.running && ctx.Err() == nil {
		r.printPrompt()
		line, err := lines.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
	}
	return nil
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "zenspace interactive mode")
	fmt.Fprintln(r.out, "Load a north and a south wall photo, then 'analyze'. Type 'help' for commands.")
	fmt.Fprintln(r.out)
}

// printPrompt shows the phase, and in upload how many walls are loaded.
func (r *REPL) printPrompt() {
	st := r.controller.Snapshot()
	if st.Phase != analysis.PhaseUpload {
		fmt.Fprintf(r.out, "zenspace [%s]> ", st.Phase)
		return
	}
	loaded := 0
	for _, slot := range models.Slots() {
		if st.HasImage(slot) {
			loaded++
		}
	}
	fmt.Fprintf(r.out, "zenspace [%s %d/%d]> ", st.Phase, loaded, models.SlotCount)
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
