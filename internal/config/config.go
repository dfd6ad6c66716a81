package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	// ErrConfigNotFound is returned when no configuration file can be read.
	ErrConfigNotFound = errors.New("config not found")
	// ErrConfigMalformed is returned when the file cannot be parsed or lacks required keys.
	ErrConfigMalformed = errors.New("config malformed")
)

// DefaultFileName is the config file looked up next to the blog scripts.
const DefaultFileName = "_paths_for_scripts.yml"

// EnvConfigPath names the environment variable that may point at a config file.
const EnvConfigPath = "SITEPUSH_CONFIG"

// DefaultSyncItems is the shared-content list copied into the shared repository.
var DefaultSyncItems = []string{
	"_includes",
	"_layouts",
	"assets",
	"_plugins",
	"_sass",
	"_config.yml",
}

// Config represents the complete sitepush configuration
type Config struct {
	BlogPath          string `yaml:"blog_path"`
	SharedContentPath string `yaml:"jekyll_shared_content_path"`
	SiteDir           string `yaml:"site_dir"`

	Build   BuildConfig   `yaml:"build"`
	Publish PublishConfig `yaml:"publish"`
	Sync    SyncConfig    `yaml:"sync"`
	Auth    AuthConfig    `yaml:"auth"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// BuildConfig configures the external static-site generator
type BuildConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	Command         string   `yaml:"command"`
	Args            []string `yaml:"args"`
	ConfigFiles     []string `yaml:"config_files"`
	ConfigSeparator string   `yaml:"config_separator"`
	CNAMEFile       string   `yaml:"cname_file"`
}

// PublishConfig configures commit/push behavior
type PublishConfig struct {
	Site   *bool  `yaml:"site"`
	Remote string `yaml:"remote"`
	Branch string `yaml:"branch"`
}

// SyncConfig configures the shared-content copy
type SyncConfig struct {
	Items   []string `yaml:"items"`
	Exclude []string `yaml:"exclude"`
}

// AuthConfig configures Git authentication for pushes
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// MetricsConfig configures the optional Prometheus textfile output
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// PathSet holds the three filesystem roots every component works on.
type PathSet struct {
	SourceRoot        string
	SharedContentRoot string
	SiteOutputDir     string
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = expandPath(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Values from a .env beside the config never override the process environment.
	if err := loadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrConfigMalformed, path, err)
	}

	if cfg.BlogPath == "" {
		return nil, fmt.Errorf("%w: blog_path is required", ErrConfigMalformed)
	}
	if cfg.SharedContentPath == "" {
		return nil, fmt.Errorf("%w: jekyll_shared_content_path is required", ErrConfigMalformed)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}

	return &cfg, nil
}

// FromPaths builds a configuration from literal source and shared-content roots.
// Relative roots are resolved against the working directory.
func FromPaths(blogPath, sharedContentPath string) (*Config, error) {
	cfg := &Config{
		BlogPath:          blogPath,
		SharedContentPath: sharedContentPath,
	}
	cfg.expandEnv()
	for _, p := range []*string{&cfg.BlogPath, &cfg.SharedContentPath} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve %s: %v", ErrConfigMalformed, *p, err)
		}
		*p = abs
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}
	return cfg, nil
}

// FindConfigFile resolves the config path to use when none was given explicitly.
// It checks $SITEPUSH_CONFIG, then looks for _paths_for_scripts.yml in the working
// directory and up to two parent directories.
func FindConfigFile(workDir string) (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}

	candidates := []string{
		filepath.Join(workDir, DefaultFileName),
		filepath.Join(workDir, "..", DefaultFileName),
		filepath.Join(workDir, "..", "..", DefaultFileName),
	}
	for _, c := range candidates {
		c = filepath.Clean(c)
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}

	return "", fmt.Errorf("%w: no %s in %s or its two parent directories", ErrConfigNotFound, DefaultFileName, workDir)
}

func loadDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("%w: failed to load %s: %v", ErrConfigMalformed, envPath, err)
	}
	return nil
}

// expandEnv expands environment variables and a leading ~ in all path fields
func (c *Config) expandEnv() {
	c.BlogPath = expandPath(c.BlogPath)
	c.SharedContentPath = expandPath(c.SharedContentPath)
	c.SiteDir = expandPath(c.SiteDir)
	c.Build.Command = os.ExpandEnv(c.Build.Command)
	c.Auth.SSHKeyFile = expandPath(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = expandPath(c.Auth.HTTPSTokenFile)
	c.Metrics.Textfile = expandPath(c.Metrics.Textfile)
}

func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.SiteDir == "" {
		c.SiteDir = "_site"
	}
	if c.Build.Enabled == nil {
		c.Build.Enabled = boolPtr(true)
	}
	if c.Build.Command == "" {
		c.Build.Command = "jekyll"
	}
	if c.Build.Args == nil {
		c.Build.Args = []string{"build"}
	}
	if c.Build.ConfigFiles == nil {
		c.Build.ConfigFiles = []string{"_config.yml", "config-lang.yml"}
	}
	if c.Build.ConfigSeparator == "" {
		c.Build.ConfigSeparator = ","
	}
	if c.Build.CNAMEFile == "" {
		c.Build.CNAMEFile = "CNAME"
	}
	if c.Publish.Site == nil {
		c.Publish.Site = boolPtr(true)
	}
	if len(c.Sync.Items) == 0 {
		c.Sync.Items = append([]string(nil), DefaultSyncItems...)
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate paths
	if c.BlogPath == "" {
		return fmt.Errorf("blog_path is required")
	}
	if c.SharedContentPath == "" {
		return fmt.Errorf("jekyll_shared_content_path is required")
	}

	// Ensure paths are absolute
	if !filepath.IsAbs(c.BlogPath) {
		return fmt.Errorf("blog_path must be an absolute path: %s", c.BlogPath)
	}
	if !filepath.IsAbs(c.SharedContentPath) {
		return fmt.Errorf("jekyll_shared_content_path must be an absolute path: %s", c.SharedContentPath)
	}
	if filepath.Clean(c.BlogPath) == filepath.Clean(c.SharedContentPath) {
		return fmt.Errorf("blog_path and jekyll_shared_content_path must differ")
	}

	// Validate sync items
	seen := make(map[string]bool, len(c.Sync.Items))
	for _, item := range c.Sync.Items {
		if item == "" || item == "." || item == ".." || strings.ContainsAny(item, `/\`) {
			return fmt.Errorf("invalid sync item %q: must be a plain file or directory name", item)
		}
		if seen[item] {
			return fmt.Errorf("duplicate sync item %q", item)
		}
		seen[item] = true
	}

	if c.BuildEnabled() {
		if c.Build.Command == "" {
			return fmt.Errorf("build.command is required when build is enabled")
		}
		if c.Build.ConfigSeparator == "" {
			return fmt.Errorf("build.config_separator must not be empty")
		}
	}

	if c.Publish.Branch != "" && c.Publish.Remote == "" {
		return fmt.Errorf("publish.branch requires publish.remote")
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	return nil
}

// PathSet returns the resolved source, shared-content and site output roots.
func (c *Config) PathSet() PathSet {
	siteDir := c.SiteDir
	if siteDir == "" {
		siteDir = "_site"
	}
	if !filepath.IsAbs(siteDir) {
		siteDir = filepath.Join(c.BlogPath, siteDir)
	}
	return PathSet{
		SourceRoot:        filepath.Clean(c.BlogPath),
		SharedContentRoot: filepath.Clean(c.SharedContentPath),
		SiteOutputDir:     filepath.Clean(siteDir),
	}
}

// BuildEnabled reports whether the site generator runs as part of publish.
func (c *Config) BuildEnabled() bool {
	return c.Build.Enabled == nil || *c.Build.Enabled
}

// PublishSite reports whether the site output directory is committed and pushed.
func (c *Config) PublishSite() bool {
	return c.Publish.Site == nil || *c.Publish.Site
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

func boolPtr(b bool) *bool {
	return &b
}
