package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for arcframe
type Config struct {
	Log     LogConfig
	Input   InputConfig
	Convert ConvertConfig
	Output  OutputConfig
	Storage StorageConfig
	Metrics MetricsConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type InputConfig struct {
	Format         string // Payload encoding: auto, json, msgpack, arrow, parquet
	MaxPayloadSize int64  // Maximum payload size in bytes (applies to both compressed and decompressed)
	Source         string // files (paths and stdin) or a storage backend (local, s3, azure) holding the payloads
	DeleteSource   bool   // Delete source objects once converted (storage sources only)
}

// FromStorage reports whether inputs are object keys in a storage backend
func (c *InputConfig) FromStorage() bool {
	return c.Source != "" && c.Source != "files"
}

type ConvertConfig struct {
	Normalize      bool     // Infer undefined field types after conversion
	TimeAliases    []string // Field names that force the time type during inference
	SortField      int      // Field index to sort by, -1 disables sorting
	SortDescending bool
}

type OutputConfig struct {
	Format      string // frame, legacy, msgpack, arrow, parquet
	Compression string // none, gzip, zstd (byte outputs); snappy, gzip, zstd, none (parquet)
	Workers     int    // Concurrent conversions in batch mode
	LegacyHint  string // Legacy family requested when format is legacy (empty = let the frame decide)
}

type StorageConfig struct {
	Backend   string // stdout, local, s3, azure
	LocalPath string
	Prefix    string // Key prefix for written objects
	// S3/MinIO configuration
	S3Bucket    string
	S3Region    string
	S3Endpoint  string // Custom endpoint for MinIO (e.g., "http://localhost:9000")
	S3AccessKey string // AWS access key (or use AWS_ACCESS_KEY_ID env var)
	S3SecretKey string // AWS secret key (or use AWS_SECRET_ACCESS_KEY env var)
	S3UseSSL    bool
	S3PathStyle bool // Use path-style addressing (required for MinIO)
	// Azure Blob Storage configuration
	AzureConnectionString   string
	AzureAccountName        string
	AzureAccountKey         string
	AzureContainer          string
	AzureEndpoint           string // Custom endpoint (for Azurite testing)
	AzureUseManagedIdentity bool
}

type MetricsConfig struct {
	Textfile string // Write Prometheus text exposition here on exit (empty = disabled)
}

// Load loads configuration from environment and the default config file locations
func Load() (*Config, error) {
	v, err := NewViper("")
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// NewViper returns a viper instance with defaults, ARCFRAME_ environment
// overrides and the config file applied. An empty path searches the default
// locations; a missing file there is not an error.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ARCFRAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("arcframe")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/arcframe/")
	v.AddConfigPath("$HOME/.arcframe/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Decode builds a validated Config from v (defaults, env vars, file and bound flags).
func Decode(v *viper.Viper) (*Config, error) {
	maxPayloadSize, err := ParseSize(v.GetString("input.max_payload_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid input.max_payload_size: %w", err)
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Input: InputConfig{
			Format:         strings.ToLower(v.GetString("input.format")),
			MaxPayloadSize: maxPayloadSize,
			Source:         strings.ToLower(v.GetString("input.source")),
			DeleteSource:   v.GetBool("input.delete_source"),
		},
		Convert: ConvertConfig{
			Normalize:      v.GetBool("convert.normalize"),
			TimeAliases:    v.GetStringSlice("convert.time_aliases"),
			SortField:      v.GetInt("convert.sort_field"),
			SortDescending: v.GetBool("convert.sort_descending"),
		},
		Output: OutputConfig{
			Format:      strings.ToLower(v.GetString("output.format")),
			Compression: strings.ToLower(v.GetString("output.compression")),
			Workers:     v.GetInt("output.workers"),
			LegacyHint:  v.GetString("output.legacy_hint"),
		},
		Storage: StorageConfig{
			Backend:     strings.ToLower(v.GetString("storage.backend")),
			LocalPath:   v.GetString("storage.local_path"),
			Prefix:      v.GetString("storage.prefix"),
			S3Bucket:    v.GetString("storage.s3_bucket"),
			S3Region:    v.GetString("storage.s3_region"),
			S3Endpoint:  v.GetString("storage.s3_endpoint"),
			S3AccessKey: v.GetString("storage.s3_access_key"),
			S3SecretKey: v.GetString("storage.s3_secret_key"),
			S3UseSSL:    v.GetBool("storage.s3_use_ssl"),
			S3PathStyle: v.GetBool("storage.s3_path_style"),
			// Azure Blob Storage
			AzureConnectionString:   v.GetString("storage.azure_connection_string"),
			AzureAccountName:        v.GetString("storage.azure_account_name"),
			AzureAccountKey:         v.GetString("storage.azure_account_key"),
			AzureContainer:          v.GetString("storage.azure_container"),
			AzureEndpoint:           v.GetString("storage.azure_endpoint"),
			AzureUseManagedIdentity: v.GetBool("storage.azure_use_managed_identity"),
		},
		Metrics: MetricsConfig{
			Textfile: v.GetString("metrics.textfile"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Input defaults
	v.SetDefault("input.format", "auto")
	v.SetDefault("input.max_payload_size", "100MB")
	v.SetDefault("input.source", "files")
	v.SetDefault("input.delete_source", false)

	// Convert defaults
	v.SetDefault("convert.normalize", false)
	v.SetDefault("convert.time_aliases", []string{"time", "date"})
	v.SetDefault("convert.sort_field", -1) // No sorting
	v.SetDefault("convert.sort_descending", false)

	// Output defaults
	v.SetDefault("output.format", "frame")
	v.SetDefault("output.compression", "none")
	v.SetDefault("output.workers", getDefaultWorkers())
	v.SetDefault("output.legacy_hint", "")

	// Storage defaults
	v.SetDefault("storage.backend", "stdout")
	v.SetDefault("storage.local_path", "./data/arcframe")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_ssl", true)
	v.SetDefault("storage.s3_path_style", false) // Use virtual-hosted style by default (set true for MinIO)

	// Metrics defaults
	v.SetDefault("metrics.textfile", "")
}

func getDefaultWorkers() int {
	workers := runtime.NumCPU()
	if workers < 2 {
		return 2
	}
	if workers > 32 {
		return 32
	}
	return workers
}

var (
	inputFormats  = []string{"auto", "json", "msgpack", "arrow", "parquet"}
	inputSources  = []string{"files", "local", "s3", "azure"}
	outputFormats = []string{"frame", "legacy", "msgpack", "arrow", "parquet"}
	backends      = []string{"stdout", "local", "s3", "azure"}
	byteCodecs    = []string{"none", "gzip", "zstd"}
	parquetCodecs = []string{"none", "snappy", "gzip", "zstd"}
)

// Validate rejects unknown enum values and incomplete storage settings.
func (cfg *Config) Validate() error {
	if !oneOf(cfg.Input.Format, inputFormats) {
		return fmt.Errorf("invalid input.format %q (use one of %s)", cfg.Input.Format, strings.Join(inputFormats, ", "))
	}
	if !oneOf(cfg.Output.Format, outputFormats) {
		return fmt.Errorf("invalid output.format %q (use one of %s)", cfg.Output.Format, strings.Join(outputFormats, ", "))
	}

	codecs := byteCodecs
	if cfg.Output.Format == "parquet" {
		codecs = parquetCodecs
	}
	if !oneOf(cfg.Output.Compression, codecs) {
		return fmt.Errorf("invalid output.compression %q for format %s (use one of %s)",
			cfg.Output.Compression, cfg.Output.Format, strings.Join(codecs, ", "))
	}

	if cfg.Output.Workers < 1 {
		return fmt.Errorf("output.workers must be at least 1, got %d", cfg.Output.Workers)
	}
	if cfg.Convert.SortField < -1 {
		return fmt.Errorf("convert.sort_field must be -1 (disabled) or a field index, got %d", cfg.Convert.SortField)
	}
	if cfg.Input.MaxPayloadSize <= 0 {
		return fmt.Errorf("input.max_payload_size must be positive")
	}
	if err := cfg.validateSource(); err != nil {
		return err
	}

	return cfg.Storage.Validate()
}

func (cfg *Config) validateSource() error {
	if cfg.Input.Source == "" {
		cfg.Input.Source = "files"
	}
	if !oneOf(cfg.Input.Source, inputSources) {
		return fmt.Errorf("invalid input.source %q (use one of %s)", cfg.Input.Source, strings.Join(inputSources, ", "))
	}
	if !cfg.Input.FromStorage() {
		if cfg.Input.DeleteSource {
			return fmt.Errorf("input.delete_source needs a storage input.source")
		}
		return nil
	}
	src := cfg.SourceStorage()
	if err := src.Validate(); err != nil {
		return fmt.Errorf("input.source %s: %w", cfg.Input.Source, err)
	}
	return nil
}

// SourceStorage returns the storage settings inputs are read with: the
// storage section with the backend replaced by input.source.
func (cfg *Config) SourceStorage() StorageConfig {
	src := cfg.Storage
	src.Backend = cfg.Input.Source
	return src
}

// Validate checks that the selected backend has the settings it needs.
func (cfg *StorageConfig) Validate() error {
	switch cfg.Backend {
	case "stdout":
		return nil
	case "local":
		if cfg.LocalPath == "" {
			return fmt.Errorf("storage.local_path is required for the local backend")
		}
	case "s3":
		if cfg.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket is required for the s3 backend")
		}
	case "azure":
		if cfg.AzureContainer == "" {
			return fmt.Errorf("storage.azure_container is required for the azure backend")
		}
		if cfg.AzureConnectionString == "" && cfg.AzureAccountName == "" {
			return fmt.Errorf("azure backend needs storage.azure_connection_string or storage.azure_account_name")
		}
	default:
		return fmt.Errorf("invalid storage.backend %q (use one of %s)", cfg.Backend, strings.Join(backends, ", "))
	}
	return nil
}

func oneOf(s string, allowed []string) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
// Supports: B, KB, MB, GB (case-insensitive).
// Returns the size in bytes or an error if the format is invalid.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Check longer suffixes first
	type unitInfo struct {
		suffix     string
		multiplier int64
	}
	units := []unitInfo{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, unit := range units {
		if strings.HasSuffix(sizeStr, unit.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))

			var num float64
			var trailing string
			n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
			if n == 0 {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			if trailing != "" {
				// e.g. the "T" in "1TB"
				return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
			}
			if num < 0 {
				return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
			}
			return int64(num * float64(unit.multiplier)), nil
		}
	}

	// Plain number of bytes
	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
