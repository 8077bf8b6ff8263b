package batch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrEmptyManifest = errors.New("no rooms found in manifest")

// Item is one room to analyze.
type Item struct {
	Index int
	Name  string
	North string
	South string
}

type jsonItem struct {
	Name  string `json:"name,omitempty"`
	North string `json:"north"`
	South string `json:"south"`
}

// ParseFile reads a manifest. Relative photo paths are resolved against the
// manifest's directory.
func ParseFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var items []Item
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		items, err = ParseJSON(file)
	case ".txt", "":
		items, err = ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .txt or .json", ext)
	}
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range items {
		items[i].North = resolve(base, items[i].North)
		items[i].South = resolve(base, items[i].South)
	}
	return items, nil
}

// ParseText reads lines of "NORTH SOUTH [NAME]". Blank lines and lines
// starting with # are skipped.
func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	line := 0

	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: want NORTH SOUTH [NAME], got %q", line, text)
		}
		item := Item{
			Index: len(items) + 1,
			North: fields[0],
			South: fields[1],
		}
		if len(fields) > 2 {
			item.Name = strings.Join(fields[2:], " ")
		}
		items = append(items, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyManifest
	}
	return items, nil
}

// ParseJSON reads an array of {"name", "north", "south"} objects.
func ParseJSON(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var jsonItems []jsonItem
	if err := json.Unmarshal(data, &jsonItems); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if len(jsonItems) == 0 {
		return nil, ErrEmptyManifest
	}

	items := make([]Item, len(jsonItems))
	for i, ji := range jsonItems {
		if strings.TrimSpace(ji.North) == "" || strings.TrimSpace(ji.South) == "" {
			return nil, fmt.Errorf("item %d needs both north and south photos", i+1)
		}
		items[i] = Item{
			Index: i + 1,
			Name:  ji.Name,
			North: ji.North,
			South: ji.South,
		}
	}
	return items, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
