package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/algsoch/data-science-tool/internal/download"
	"github.com/algsoch/data-science-tool/internal/matcher"
	"github.com/algsoch/data-science-tool/internal/patterns"
)

// Config holds all configuration for tds.
// It is loaded from ~/.tds/config.yaml and can be overridden by environment variables.
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths" yaml:"paths"`
	Matcher  MatcherConfig  `mapstructure:"matcher" yaml:"matcher"`
	Resolver ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Uploads  UploadsConfig  `mapstructure:"uploads" yaml:"uploads"`
	S3       S3Config       `mapstructure:"s3" yaml:"s3"`
	GitHub   GitHubConfig   `mapstructure:"github" yaml:"github"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// PathsConfig locates the corpus and the directories files are resolved against.
type PathsConfig struct {
	// BaseDir holds the GA1..GA5 category folders. Empty means WorkDir.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// WorkDir is where relative default paths are tried first. Empty means the process cwd.
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`
	// CorpusPath is a questions JSON file. Empty uses the embedded corpus.
	CorpusPath string `mapstructure:"corpus_path" yaml:"corpus_path"`
	// TempDir is the root for downloads and extracted archives. Empty means a private dir under the OS temp dir.
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`
}

// MatcherConfig contains the question matcher thresholds.
type MatcherConfig struct {
	KeywordThreshold          float64 `mapstructure:"keyword_threshold" yaml:"keyword_threshold"`
	SimilarityThreshold       float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	StrictSimilarityThreshold float64 `mapstructure:"strict_similarity_threshold" yaml:"strict_similarity_threshold"`
	// Strict makes the similarity stage use StrictSimilarityThreshold.
	Strict bool `mapstructure:"strict" yaml:"strict"`
}

// Thresholds converts MatcherConfig to matcher.Thresholds.
func (c MatcherConfig) Thresholds() matcher.Thresholds {
	return matcher.Thresholds{
		Keyword:          c.KeywordThreshold,
		Similarity:       c.SimilarityThreshold,
		StrictSimilarity: c.StrictSimilarityThreshold,
	}
}

// ResolverConfig contains file resolution settings.
type ResolverConfig struct {
	// CacheSize bounds the resolution cache.
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
	// RecentWindow is how old an upload may be and still count as recent.
	RecentWindow time.Duration `mapstructure:"recent_window" yaml:"recent_window"`
	// ScanDirs are scanned for recent uploads in addition to the uploads dir.
	ScanDirs []string `mapstructure:"scan_dirs" yaml:"scan_dirs"`
	// SignatureThreshold is the size above which only head and tail are hashed.
	SignatureThreshold int64 `mapstructure:"signature_threshold" yaml:"signature_threshold"`
	// CategoryFolders overrides the folder preference per category.
	CategoryFolders map[string][]string `mapstructure:"category_folders" yaml:"category_folders,omitempty"`
}

// DownloadConfig contains remote fetch settings.
type DownloadConfig struct {
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff" yaml:"backoff"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// UploadsConfig contains the upload registry settings.
type UploadsConfig struct {
	// Dir is where uploaded files are stored.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// DBPath is the SQLite registry database.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
	// LoadExisting registers timestamped files already in Dir on startup.
	LoadExisting bool `mapstructure:"load_existing" yaml:"load_existing"`
}

// S3Config contains credentials for s3:// references. When disabled, S3
// objects are fetched over public HTTPS.
type S3Config struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Region          string `mapstructure:"region" yaml:"region"`
	Profile         string `mapstructure:"profile" yaml:"profile,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token,omitempty"`
	// Endpoint points at an S3-compatible store (MinIO, LocalStack).
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	UsePathStyle bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// ClientConfig converts S3Config to download.S3Config.
func (c S3Config) ClientConfig() download.S3Config {
	return download.S3Config{
		Region:          c.Region,
		Profile:         c.Profile,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Endpoint:        c.Endpoint,
		UsePathStyle:    c.UsePathStyle,
	}
}

// GitHubConfig contains settings for github.com references. Without a
// token, files are fetched from the raw host.
type GitHubConfig struct {
	Token string `mapstructure:"token" yaml:"token,omitempty"`
	// BaseURL is a GitHub Enterprise API URL. Empty means api.github.com.
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file. Empty logs to stderr.
	File string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig toggles metrics collection.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DataDir returns the tds data directory path (~/.tds).
func DataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tds")
}

// DefaultPath returns the full path to the default config file.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	dataDir := DataDir()

	return &Config{
		Matcher: MatcherConfig{
			KeywordThreshold:          matcher.DefaultKeywordThreshold,
			SimilarityThreshold:       matcher.DefaultSimilarityThreshold,
			StrictSimilarityThreshold: matcher.DefaultStrictSimilarityThreshold,
		},
		Resolver: ResolverConfig{
			CacheSize:          256,
			RecentWindow:       time.Hour,
			SignatureThreshold: 4 * 1024,
		},
		Download: DownloadConfig{
			Attempts: download.DefaultAttempts,
			Backoff:  download.DefaultBackoff,
			Timeout:  download.DefaultTimeout,
		},
		Uploads: UploadsConfig{
			Dir:          filepath.Join(dataDir, "uploads"),
			DBPath:       filepath.Join(dataDir, "uploads.db"),
			LoadExisting: true,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from the default location (~/.tds/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	if _, err := os.UserHomeDir(); err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(DefaultPath())
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: TDS_S3_ACCESS_KEY_ID, TDS_GITHUB_TOKEN
	v.SetEnvPrefix("TDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys missing from an older file still pick up defaults and env overrides.
	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("paths.base_dir", d.Paths.BaseDir)
	v.SetDefault("paths.work_dir", d.Paths.WorkDir)
	v.SetDefault("paths.corpus_path", d.Paths.CorpusPath)
	v.SetDefault("paths.temp_dir", d.Paths.TempDir)
	v.SetDefault("matcher.keyword_threshold", d.Matcher.KeywordThreshold)
	v.SetDefault("matcher.similarity_threshold", d.Matcher.SimilarityThreshold)
	v.SetDefault("matcher.strict_similarity_threshold", d.Matcher.StrictSimilarityThreshold)
	v.SetDefault("matcher.strict", d.Matcher.Strict)
	v.SetDefault("resolver.cache_size", d.Resolver.CacheSize)
	v.SetDefault("resolver.recent_window", d.Resolver.RecentWindow)
	v.SetDefault("resolver.scan_dirs", d.Resolver.ScanDirs)
	v.SetDefault("resolver.signature_threshold", d.Resolver.SignatureThreshold)
	v.SetDefault("download.attempts", d.Download.Attempts)
	v.SetDefault("download.backoff", d.Download.Backoff)
	v.SetDefault("download.timeout", d.Download.Timeout)
	v.SetDefault("uploads.dir", d.Uploads.Dir)
	v.SetDefault("uploads.db_path", d.Uploads.DBPath)
	v.SetDefault("uploads.load_existing", d.Uploads.LoadExisting)
	v.SetDefault("s3.enabled", d.S3.Enabled)
	v.SetDefault("s3.region", d.S3.Region)
	v.SetDefault("s3.profile", d.S3.Profile)
	v.SetDefault("s3.access_key_id", d.S3.AccessKeyID)
	v.SetDefault("s3.secret_access_key", d.S3.SecretAccessKey)
	v.SetDefault("s3.session_token", d.S3.SessionToken)
	v.SetDefault("s3.endpoint", d.S3.Endpoint)
	v.SetDefault("s3.use_path_style", d.S3.UsePathStyle)
	v.SetDefault("github.token", d.GitHub.Token)
	v.SetDefault("github.base_url", d.GitHub.BaseURL)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

func (c *Config) expandPaths() {
	c.Paths.BaseDir = expandPath(c.Paths.BaseDir)
	c.Paths.WorkDir = expandPath(c.Paths.WorkDir)
	c.Paths.CorpusPath = expandPath(c.Paths.CorpusPath)
	c.Paths.TempDir = expandPath(c.Paths.TempDir)
	c.Uploads.Dir = expandPath(c.Uploads.Dir)
	c.Uploads.DBPath = expandPath(c.Uploads.DBPath)
	c.Logging.File = expandPath(c.Logging.File)
	for i, d := range c.Resolver.ScanDirs {
		c.Resolver.ScanDirs[i] = expandPath(d)
	}
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// EnsureDirectories creates the directories tds writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Uploads.Dir,
		filepath.Dir(c.Uploads.DBPath),
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	if c.Paths.TempDir != "" {
		dirs = append(dirs, c.Paths.TempDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"keyword_threshold":           c.Matcher.KeywordThreshold,
		"similarity_threshold":        c.Matcher.SimilarityThreshold,
		"strict_similarity_threshold": c.Matcher.StrictSimilarityThreshold,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("matcher.%s must be in (0, 1], got %v", name, v)
		}
	}

	if c.Resolver.CacheSize < 1 {
		return fmt.Errorf("resolver.cache_size must be positive")
	}
	if c.Resolver.RecentWindow < 0 {
		return fmt.Errorf("resolver.recent_window cannot be negative")
	}
	if c.Resolver.SignatureThreshold < 2 {
		return fmt.Errorf("resolver.signature_threshold must be at least 2 bytes")
	}
	for cat := range c.Resolver.CategoryFolders {
		if !patterns.Category(cat).IsValid() {
			return fmt.Errorf("resolver.category_folders: unknown category '%s'", cat)
		}
	}

	if c.Download.Attempts < 1 {
		return fmt.Errorf("download.attempts must be at least 1")
	}
	if c.Download.Backoff < 0 {
		return fmt.Errorf("download.backoff cannot be negative")
	}
	if c.Download.Timeout <= 0 {
		return fmt.Errorf("download.timeout must be positive")
	}

	if c.Uploads.Dir == "" || c.Uploads.DBPath == "" {
		return fmt.Errorf("uploads.dir and uploads.db_path are required")
	}

	if c.S3.Enabled && c.S3.Region == "" {
		return fmt.Errorf("s3.region is required when s3 is enabled")
	}
	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return fmt.Errorf("s3.access_key_id and s3.secret_access_key must be set together")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
