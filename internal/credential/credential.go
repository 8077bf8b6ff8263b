// Package credential decides whether a usable API key exists and obtains
// one from the user when it does not.
package credential

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/manash/zenspace/internal/keys"
)

const ProviderName = "gemini"

const (
	promptLabel      = "Enter your Gemini API key (input hidden): "
	promptLabelPlain = "Enter your Gemini API key: "
)

var (
	ErrDeclined     = errors.New("no API key was entered")
	ErrNotAvailable = errors.New("credential cannot be requested in non-interactive mode")

	defaultEnvVars = []string{"GEMINI_API_KEY", "API_KEY"}
)

// EnvVars lists the environment variables consulted for a key, in order.
func EnvVars() []string {
	return slices.Clone(defaultEnvVars)
}

// Source is the external credential facility the analysis flow consults.
type Source interface {
	HasCredential(ctx context.Context) (bool, error)
	RequestCredential(ctx context.Context) error
}

// PromptFunc asks the user for a secret and returns what was entered.
type PromptFunc func(ctx context.Context) (string, error)

// Terminal resolves keys from the flag, the key store and the environment,
// and prompts on the terminal when asked for a new one.
type Terminal struct {
	resolver *keys.Resolver
	explicit string
	prompt   PromptFunc
	log      zerolog.Logger

	mu      sync.Mutex
	granted string
}

type Option func(*Terminal)

func WithPrompt(p PromptFunc) Option {
	return func(t *Terminal) { t.prompt = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Terminal) { t.log = l }
}

// WithExplicitKey sets a key that overrides every other source.
func WithExplicitKey(key string) Option {
	return func(t *Terminal) { t.explicit = strings.TrimSpace(key) }
}

func WithEnv(getEnv func(string) string) Option {
	return func(t *Terminal) { t.resolver.GetEnv = getEnv }
}

func NewTerminal(store *keys.Store, opts ...Option) *Terminal {
	t := &Terminal{
		resolver: &keys.Resolver{
			Store:    store,
			Provider: ProviderName,
			EnvVars:  defaultEnvVars,
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Terminal) HasCredential(ctx context.Context) (bool, error) {
	_, _, err := t.lookup()
	if errors.Is(err, keys.ErrNoKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RequestCredential prompts for a key and persists it. The key is kept in
// memory for the session even if it cannot be written to the store.
func (t *Terminal) RequestCredential(ctx context.Context) error {
	if t.prompt == nil {
		return ErrNotAvailable
	}

	key, err := t.prompt(ctx)
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrDeclined
	}

	t.mu.Lock()
	t.granted = key
	t.mu.Unlock()

	if t.resolver.Store != nil {
		if err := t.resolver.Store.Set(ProviderName, key); err != nil {
			t.log.Warn().Err(err).Msg("could not persist API key; using it for this session only")
		} else {
			t.log.Debug().Str("path", t.resolver.Store.Path()).Msg("API key stored")
		}
	}
	return nil
}

// APIKey returns the key calls should use right now.
func (t *Terminal) APIKey(ctx context.Context) (string, error) {
	key, source, err := t.lookup()
	if err != nil {
		return "", err
	}
	t.log.Debug().Str("source", source).Str("key", keys.MaskKey(key)).Msg("using API key")
	return key, nil
}

func (t *Terminal) lookup() (string, string, error) {
	if t.explicit != "" {
		return t.explicit, "command-line flag", nil
	}
	t.mu.Lock()
	granted := t.granted
	t.mu.Unlock()
	if granted != "" {
		return granted, "entered this session", nil
	}
	return t.resolver.Resolve("")
}

// TerminalPrompt reads a key from in, without echo when in is a terminal.
// Non-terminal input is read one line per call.
func TerminalPrompt(in io.Reader, out io.Writer) PromptFunc {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return func(ctx context.Context) (string, error) {
			fmt.Fprint(out, promptLabel)
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(out)
			if err != nil {
				return "", err
			}
			return string(b), nil
		}
	}
	if br, ok := in.(*bufio.Reader); ok {
		return LinePrompt(br, out)
	}
	return LinePrompt(bufio.NewReader(in), out)
}

// SharedInput returns a reader that a line-based command loop and
// TerminalPrompt can both consume without losing lines to each other's
// buffering. A terminal is returned unchanged.
func SharedInput(in io.Reader) io.Reader {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return in
	}
	if br, ok := in.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReader(in)
}

// LinePrompt reads one line per call from r.
func LinePrompt(r *bufio.Reader, out io.Writer) PromptFunc {
	return func(ctx context.Context) (string, error) {
		fmt.Fprint(out, promptLabelPlain)
		line, err := r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}
