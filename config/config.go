// Package config loads the options of the instrumenter from a YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of the environment variables that override the
// file.
const EnvPrefix = "SMP_"

// MissingConfigurationError is returned when a required setting is empty.
type MissingConfigurationError struct {
	Field string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("`%s` is a required field", e.Field)
}

// CompareLoadersBuild configures the build history.
type CompareLoadersBuild struct {
	FilePath string `yaml:"filePath"`
}

// Monitor configures the HTTP monitor.
type Monitor struct {
	Addr string `yaml:"addr"`
}

// Options are the settings of the instrumenter.
type Options struct {
	Disable            bool                 `yaml:"disable"`
	OutputFormat       string               `yaml:"outputFormat"`
	OutputTarget       string               `yaml:"outputTarget"`
	Color              *bool                `yaml:"color"`
	LoaderTopFiles     int                  `yaml:"loaderTopFiles"`
	GranularLoaderData bool                 `yaml:"granularLoaderData"`
	CompareLoadersBuild *CompareLoadersBuild `yaml:"compareLoadersBuild"`
	Monitor            Monitor              `yaml:"monitor"`
}

// Defaults returns the options used when nothing is configured.
func Defaults() Options {
	return Options{OutputFormat: "human"}
}

// Validate checks the options.
func (o Options) Validate() error {
	switch o.OutputFormat {
	case "human", "humanVerbose", "json":
	default:
		return fmt.Errorf("unknown output format %q", o.OutputFormat)
	}

	if o.LoaderTopFiles < 0 {
		return fmt.Errorf("loaderTopFiles must not be negative, got %d",
			o.LoaderTopFiles)
	}

	if o.CompareLoadersBuild != nil && o.CompareLoadersBuild.FilePath == "" {
		return &MissingConfigurationError{Field: "compareLoadersBuild.filePath"}
	}

	return nil
}

// ColorEnabled tells whether colors are on. Colors default to on when the
// report goes to the terminal.
func (o Options) ColorEnabled() bool {
	if o.Color != nil {
		return *o.Color
	}

	return o.OutputTarget == ""
}

// Load reads the options from a YAML file, then applies the environment. The
// .env file next to the working directory, if any, is loaded first.
func Load(path string) (Options, error) {
	if path == "" {
		return Options{}, &MissingConfigurationError{Field: "config"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read config %s: %w", path, err)
	}

	opts := Defaults()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return finish(opts)
}

// FromEnv builds the options from the defaults and the environment only.
func FromEnv() (Options, error) {
	return finish(Defaults())
}

func finish(opts Options) (Options, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Options{}, err
	}

	if err := ApplyEnv(&opts); err != nil {
		return Options{}, err
	}

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}

	return opts, nil
}

// LoadDotEnv loads the variables of a .env file that are not set yet. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}

	return nil
}

// ApplyEnv overrides options with the SMP_ environment variables that are
// set.
func ApplyEnv(opts *Options) error {
	if v, ok := lookup("DISABLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("DISABLE", err)
		}

		opts.Disable = b
	}

	if v, ok := lookup("OUTPUT_FORMAT"); ok {
		opts.OutputFormat = v
	}

	if v, ok := lookup("OUTPUT_TARGET"); ok {
		opts.OutputTarget = v
	}

	if v, ok := lookup("COLOR"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("COLOR", err)
		}

		opts.Color = &b
	}

	if v, ok := lookup("LOADER_TOP_FILES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("LOADER_TOP_FILES", err)
		}

		opts.LoaderTopFiles = n
	}

	if v, ok := lookup("GRANULAR_LOADER_DATA"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("GRANULAR_LOADER_DATA", err)
		}

		opts.GranularLoaderData = b
	}

	if v, ok := lookup("COMPARE_LOADERS_BUILD_FILE"); ok {
		opts.CompareLoadersBuild = &CompareLoadersBuild{FilePath: v}
	}

	if v, ok := lookup("MONITOR_ADDR"); ok {
		opts.Monitor.Addr = v
	}

	return nil
}

func lookup(name string) (string, bool) {
	return os.LookupEnv(EnvPrefix + name)
}

func envError(name string, err error) error {
	return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
}
