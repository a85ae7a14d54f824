// Package config holds the startup configuration of the refactoring sidecar.
//
// Configuration is read once, before the project model is built, and is
// never modified afterwards.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"

	"github.com/bmatcuk/doublestar"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/zhubert/plural-refactor/paths"
)

// DefaultParameterName is the name given to parameters created by introduce_parameter.
const DefaultParameterName = "new_param"

// DefaultIgnoredResources is used when a project does not configure its own
// list: tool caches, virtualenvs and version control metadata.
var DefaultIgnoredResources = []string{
	"*.pyc", "*~", ".ropeproject", ".hg", ".svn", "_svn", ".git",
	".tox", ".venv", "venv", ".mypy_cache", ".pytest_cache", "__pycache__",
}

// RequestErrorPolicy decides what the request loop does with a request that
// is malformed or names a file outside the project.
type RequestErrorPolicy string

const (
	// RequestErrorsReply logs the error and answers with an empty envelope.
	RequestErrorsReply RequestErrorPolicy = "reply"
	// RequestErrorsSkip logs the error and writes nothing for that line.
	RequestErrorsSkip RequestErrorPolicy = "skip"
	// RequestErrorsAbort stops the loop with the error.
	RequestErrorsAbort RequestErrorPolicy = "abort"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")

	identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	pythonKeywords = []string{
		"False", "None", "True", "and", "as", "assert", "async", "await", "break",
		"class", "continue", "def", "del", "elif", "else", "except", "finally",
		"for", "from", "global", "if", "import", "in", "is", "lambda", "nonlocal",
		"not", "or", "pass", "raise", "return", "try", "while", "with", "yield",
	}
)

// Config is the immutable startup configuration.
type Config struct {
	// IgnoredResources are glob patterns matched against every path
	// component and the full project-relative path. Nil means the defaults.
	IgnoredResources []string `json:"ignored_resources" yaml:"ignored_resources"`
	// SourceFolders, when non-empty, replace the project root as the set of
	// folders that are analyzed at startup.
	SourceFolders []string           `json:"source_folders" yaml:"source_folders"`
	Providers     ProviderSettings   `json:"providers" yaml:"providers"`
	RequestErrors RequestErrorPolicy `json:"request_errors" yaml:"request_errors"`
	// Watch starts a file watcher that refreshes cached modules in the background.
	Watch bool `json:"watch" yaml:"watch"`
	// CacheSize bounds the number of parsed modules kept in memory. Zero
	// means the project model's default.
	CacheSize int `json:"cache_size" yaml:"cache_size"`
}

// ProviderSettings carries the fixed parameters of the transformation providers.
type ProviderSettings struct {
	Disabled           []string                   `json:"disabled" yaml:"disabled"`
	IntroduceParameter IntroduceParameterSettings `json:"introduce_parameter" yaml:"introduce_parameter"`
}

// IntroduceParameterSettings configures the introduce_parameter provider.
type IntroduceParameterSettings struct {
	ParameterName string `json:"parameter_name" yaml:"parameter_name"`
}

// overlay is the shape of the configuration argument. Pointers distinguish
// "absent or null" from "explicitly empty".
type overlay struct {
	IgnoredResources *[]string `json:"ignored_resources"`
	SourceFolders    *[]string `json:"source_folders"`
	Providers        *struct {
		Disabled           *[]string `json:"disabled"`
		IntroduceParameter *struct {
			ParameterName *string `json:"parameter_name"`
		} `json:"introduce_parameter"`
	} `json:"providers"`
	RequestErrors *RequestErrorPolicy `json:"request_errors"`
	Watch         *bool               `json:"watch"`
	CacheSize     *int                `json:"cache_size"`
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	return &Config{
		Providers: ProviderSettings{
			IntroduceParameter: IntroduceParameterSettings{ParameterName: DefaultParameterName},
		},
		RequestErrors: RequestErrorsReply,
	}
}

// Load builds the configuration from defaults, the YAML file and the
// configuration argument, in that order.
//
// filePath may be empty, in which case config.yaml in the config directory
// is used when it exists. An explicitly named file must exist. argument is
// the JSON document passed on the command line; comments and trailing
// commas are accepted.
func Load(filePath, argument string) (*Config, error) {
	cfg := Default()

	explicit := filePath != ""
	if !explicit {
		p, err := paths.ConfigFilePath()
		if err != nil {
			return nil, err
		}
		filePath = p
	}
	if err := cfg.mergeFile(filePath, explicit); err != nil {
		return nil, err
	}

	if argument != "" {
		if err := cfg.mergeArgument(argument); err != nil {
			return nil, err
		}
	}

	cfg.ensureInitialized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fromFile Config
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fromFile.IgnoredResources != nil {
		c.IgnoredResources = fromFile.IgnoredResources
	}
	if len(fromFile.SourceFolders) > 0 {
		c.SourceFolders = fromFile.SourceFolders
	}
	if fromFile.Providers.Disabled != nil {
		c.Providers.Disabled = fromFile.Providers.Disabled
	}
	if fromFile.Providers.IntroduceParameter.ParameterName != "" {
		c.Providers.IntroduceParameter.ParameterName = fromFile.Providers.IntroduceParameter.ParameterName
	}
	if fromFile.RequestErrors != "" {
		c.RequestErrors = fromFile.RequestErrors
	}
	if fromFile.Watch {
		c.Watch = true
	}
	if fromFile.CacheSize != 0 {
		c.CacheSize = fromFile.CacheSize
	}
	return nil
}

func (c *Config) mergeArgument(argument string) error {
	var o overlay
	if err := json.Unmarshal(jsonc.ToJSON([]byte(argument)), &o); err != nil {
		return fmt.Errorf("%w: configuration argument is not valid JSON: %v", ErrInvalidConfig, err)
	}

	if o.IgnoredResources != nil {
		c.IgnoredResources = *o.IgnoredResources
	}
	if o.SourceFolders != nil {
		c.SourceFolders = *o.SourceFolders
	}
	if o.Providers != nil {
		if o.Providers.Disabled != nil {
			c.Providers.Disabled = *o.Providers.Disabled
		}
		if ip := o.Providers.IntroduceParameter; ip != nil && ip.ParameterName != nil {
			c.Providers.IntroduceParameter.ParameterName = *ip.ParameterName
		}
	}
	if o.RequestErrors != nil {
		c.RequestErrors = *o.RequestErrors
	}
	if o.Watch != nil {
		c.Watch = *o.Watch
	}
	if o.CacheSize != nil {
		c.CacheSize = *o.CacheSize
	}
	return nil
}

// ensureInitialized fills fields that must never be nil or empty after Load.
func (c *Config) ensureInitialized() {
	if c.IgnoredResources == nil {
		c.IgnoredResources = slices.Clone(DefaultIgnoredResources)
	}
	if c.Providers.Disabled == nil {
		c.Providers.Disabled = []string{}
	}
	if c.RequestErrors == "" {
		c.RequestErrors = RequestErrorsReply
	}
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	switch c.RequestErrors {
	case RequestErrorsReply, RequestErrorsSkip, RequestErrorsAbort:
	default:
		return fmt.Errorf("%w: unknown request_errors policy %q", ErrInvalidConfig, c.RequestErrors)
	}

	name := c.Providers.IntroduceParameter.ParameterName
	if !IsIdentifier(name) {
		return fmt.Errorf("%w: parameter_name %q is not a Python identifier", ErrInvalidConfig, name)
	}

	for _, pattern := range c.IgnoredResources {
		if pattern == "" {
			return fmt.Errorf("%w: empty ignored_resources pattern", ErrInvalidConfig)
		}
		if _, err := doublestar.Match(pattern, "x"); err != nil {
			return fmt.Errorf("%w: ignored_resources pattern %q: %v", ErrInvalidConfig, pattern, err)
		}
	}

	for _, folder := range c.SourceFolders {
		if folder == "" {
			return fmt.Errorf("%w: empty source_folders entry", ErrInvalidConfig)
		}
	}

	if c.CacheSize < 0 {
		return fmt.Errorf("%w: cache_size %d is negative", ErrInvalidConfig, c.CacheSize)
	}
	return nil
}

// IsDisabled reports whether the named provider was switched off.
func (c *Config) IsDisabled(provider string) bool {
	return slices.Contains(c.Providers.Disabled, provider)
}

// IsIdentifier reports whether name is usable as a Python name.
func IsIdentifier(name string) bool {
	return identifierRe.MatchString(name) && !slices.Contains(pythonKeywords, name)
}
