// Package config holds the classifier's settings. Values come from
// Default, then an optional TOML file, then command-line flags.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"unicode"

	"github.com/naoina/toml"

	"github.com/Brownie44l1/iris-classifier/internal/model"
)

type Config struct {
	// Classes names the model outputs by index.
	Classes []string
	Model   ModelConfig
	Server  ServerConfig
}

type ModelConfig struct {
	// Source is a local path, file://, gs:// or http(s):// URL.
	Source   string
	CacheDir string

	SharedLibraryPath string `toml:",omitempty"`
	IntraOpThreads    int
	InterOpThreads    int

	DownloadAttempts int
	// GCSAnonymous skips credential lookup for public buckets.
	GCSAnonymous bool
}

type ServerConfig struct {
	Listen      string
	CORSOrigins []string `toml:",omitempty"`
	// CacheSize is the number of memoized predictions; 0 disables the cache.
	CacheSize int
}

func Default() Config {
	return Config{
		Model: ModelConfig{
			Source:           model.DefaultModelPath,
			CacheDir:         "~/.cache/iris-classifier",
			DownloadAttempts: 5,
		},
		Classes: append([]string(nil), model.IrisClasses...),
		Server: ServerConfig{
			Listen:    ":8080",
			CacheSize: 128,
		},
	}
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		name := rt.String()
		if rt.Name() != "" && unicode.IsUpper(rune(rt.Name()[0])) {
			name = rt.Name()
		}
		return fmt.Errorf("field '%s' is not defined in %s", field, name)
	},
}

// Load decodes file over cfg, leaving unset keys untouched.
func Load(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func Marshal(cfg *Config) ([]byte, error) {
	return tomlSettings.Marshal(cfg)
}

func (c *Config) Validate() error {
	if c.Model.Source == "" {
		return errors.New("model source must be set")
	}
	if len(c.Classes) == 0 {
		return errors.New("at least one class name is required")
	}
	if c.Server.CacheSize < 0 {
		return fmt.Errorf("cache size must not be negative, got %d", c.Server.CacheSize)
	}
	return nil
}

// ExpandHome resolves a leading "~/" against the user's home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
}
