// Package security validates the file paths zenspace reads from and writes to.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxImageBytes bounds a photograph accepted for analysis.
const MaxImageBytes = 20 << 20

var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrAbsolutePath  = errors.New("absolute paths are not allowed")
	ErrReservedName  = errors.New("reserved filename not allowed")
	ErrLeadingHyphen = errors.New("filename cannot start with hyphen")
	ErrNotRegular    = errors.New("not a regular file")
	ErrFileTooLarge  = errors.New("file too large")
	ErrEmptyFile     = errors.New("file is empty")

	windowsReservedNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true,
		"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
		"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}
)

// ValidateSavePath checks a user-supplied relative output path.
func ValidateSavePath(path string) error {
	if filepath.IsAbs(path) {
		return ErrAbsolutePath
	}
	if hasParentRef(path) {
		return ErrPathTraversal
	}
	return validateBase(filepath.Base(filepath.Clean(path)))
}

// ValidateFilename checks a single path element produced by zenspace
// itself, such as a name derived from a photo's original filename.
func ValidateFilename(name string) error {
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	if name == ".." {
		return ErrPathTraversal
	}
	return validateBase(name)
}

// SafeJoin joins name onto dir after validating name, so the result always
// stays inside dir. dir itself may be absolute.
func SafeJoin(dir, name string) (string, error) {
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ValidateImageFile checks that path names a readable regular file of at
// most maxBytes. maxBytes <= 0 uses MaxImageBytes.
func ValidateImageFile(path string, maxBytes int64) (os.FileInfo, error) {
	if maxBytes <= 0 {
		maxBytes = MaxImageBytes
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, info.Size(), maxBytes)
	}
	return info, nil
}

func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-",
		"*", "", "?", "", "\"", "",
		"<", "", ">", "", "|", "", "\x00", "",
	)
	sanitized := replacer.Replace(name)
	sanitized = strings.TrimLeft(sanitized, ".-")
	sanitized = strings.TrimRight(sanitized, ". ")

	if windowsReservedNames[stem(sanitized)] {
		sanitized = sanitized + "_"
	}
	if sanitized == "" {
		sanitized = "file"
	}
	return sanitized
}

// Stem returns the sanitized filename of path without its extension.
func Stem(path string) string {
	base := SanitizeFilename(filepath.Base(path))
	if s := strings.TrimSuffix(base, filepath.Ext(base)); s != "" {
		return s
	}
	return base
}

func validateBase(base string) error {
	if windowsReservedNames[stem(base)] {
		return ErrReservedName
	}
	if strings.HasPrefix(base, "-") {
		return ErrLeadingHyphen
	}
	return nil
}

func hasParentRef(path string) bool {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}

func stem(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), strings.ToLower(filepath.Ext(name)))
}
