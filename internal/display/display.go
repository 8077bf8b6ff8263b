// Package display renders controller state and images to a terminal.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manash/zenspace/pkg/media"
)

type Displayer struct {
	out     io.Writer
	columns int
}

func New(out io.Writer) *Displayer {
	return &Displayer{out: out}
}

// WithColumns limits inline images to n terminal cells wide.
func (d *Displayer) WithColumns(n int) *Displayer {
	d.columns = n
	return d
}

// Show writes an inline payload to the terminal as an image.
func (d *Displayer) Show(payload string) error {
	mimeType, data, err := media.DecodeBytes(payload)
	if err != nil {
		return err
	}

	enc := NewKittyEncoder(d.out).WithColumns(d.columns)
	if err := enc.EncodeImage(mimeType, data); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	fmt.Fprintln(d.out)
	return nil
}

// ShowFile displays an image stored on disk.
func (d *Displayer) ShowFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	payload, err := media.Encode(data)
	if err != nil {
		return err
	}
	return d.Show(payload)
}

// IsTerminalSupported reports whether the terminal described by getenv
// understands the kitty graphics protocol. A nil getenv uses os.Getenv.
func IsTerminalSupported(getenv func(string) string) bool {
	if getenv == nil {
		getenv = os.Getenv
	}

	termProgram := strings.ToLower(getenv("TERM_PROGRAM"))
	for _, prog := range []string{"kitty", "ghostty", "iterm.app", "wezterm"} {
		if termProgram == prog {
			return true
		}
	}

	if getenv("KITTY_WINDOW_ID") != "" || getenv("ITERM_SESSION_ID") != "" {
		return true
	}

	term := strings.ToLower(getenv("TERM"))
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghostty")
}
