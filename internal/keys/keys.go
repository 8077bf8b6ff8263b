package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

const (
	appName      = "zenspace"
	fileName     = "keys.json"
	ConfigDirEnv = "ZENSPACE_CONFIG_DIR"
)

var (
	ErrKeyNotFound = errors.New("no stored key")
	ErrNoKey       = errors.New("no API key available")
)

// Store persists API keys per provider in a single owner-only JSON file.
type Store struct {
	mu        sync.Mutex
	configDir string
}

type entry struct {
	Key string `json:"key"`
}

type keyFile map[string]entry

// NewStore opens the store in the platform config directory, or in
// $ZENSPACE_CONFIG_DIR when set.
func NewStore() (*Store, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return NewStoreAt(dir), nil
}

func NewStoreAt(dir string) *Store {
	return &Store{configDir: dir}
}

// ConfigDir returns the directory holding keys.json.
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", appName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appName), nil
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, appName), nil
	}
}

func (s *Store) Path() string {
	return filepath.Join(s.configDir, fileName)
}

func (s *Store) read() (keyFile, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(keyFile), nil
		}
		return nil, err
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fileName, err)
	}
	if kf == nil {
		kf = make(keyFile)
	}
	return kf, nil
}

func (s *Store) write(kf keyFile) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", fileName, err)
	}
	return nil
}

// Set stores key for provider, replacing any previous value.
func (s *Store) Set(provider, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNoKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kf, err := s.read()
	if err != nil {
		return err
	}
	kf[provider] = entry{Key: key}
	return s.write(kf)
}

// Get returns the stored key, or "" when none is stored.
func (s *Store) Get(provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kf, err := s.read()
	if err != nil {
		return "", err
	}
	return kf[provider].Key, nil
}

func (s *Store) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kf, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := kf[provider]; !ok {
		return fmt.Errorf("%w for %s", ErrKeyNotFound, provider)
	}
	delete(kf, provider)
	return s.write(kf)
}

// List returns stored provider names in sorted order.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kf, err := s.read()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(kf))
	for name := range kf {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// MaskKey hides all but the first and last four characters.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Resolver picks a key in priority order: explicit flag, stored key,
// then the first non-empty environment variable.
type Resolver struct {
	Store    *Store
	Provider string
	EnvVars  []string
	GetEnv   func(string) string
}

// Resolve returns the key and a human description of where it came from.
func (r *Resolver) Resolve(explicit string) (string, string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, "command-line flag", nil
	}

	if r.Store != nil {
		stored, err := r.Store.Get(r.Provider)
		if err != nil {
			return "", "", err
		}
		if stored != "" {
			return stored, "stored key (" + r.Store.Path() + ")", nil
		}
	}

	getEnv := r.GetEnv
	if getEnv == nil {
		getEnv = os.Getenv
	}
	for _, name := range r.EnvVars {
		if v := strings.TrimSpace(getEnv(name)); v != "" {
			return v, "environment variable (" + name + ")", nil
		}
	}

	return "", "", fmt.Errorf("%w: run 'zenspace keys set' or set %s", ErrNoKey, strings.Join(r.EnvVars, " or "))
}
