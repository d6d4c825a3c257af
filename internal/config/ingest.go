package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultFileSuffix        = ".out"
	DefaultChecksumChunkSize = 4096
	DefaultInsertBatchSize   = 500
)

var (
	ErrInvalidLogDirectory = errors.New("invalid_log_directory")
	ErrEmptySchema         = errors.New("empty_log_schema")
	ErrDuplicateColumn     = errors.New("duplicate_schema_column")
	ErrInvalidStatusMap    = errors.New("invalid_status_map")
)

// DefaultStatusMap translates scheduler status codes into normalized labels.
func DefaultStatusMap() map[string]string {
	return map[string]string{
		"EXT": "COMPLETED",
		"CCL": "USER_CANCELED",
	}
}

// IngestConfig is the explicit ingestion configuration handed to the
// ingestion service at construction time.
type IngestConfig struct {
	LogDirectory      string
	FileSuffix        string
	ChecksumChunkSize int
	InsertBatchSize   int
	Columns           []string
	StatusMap         map[string]string
}

// ProvideIngestConfig loads the ingestion config file named by the process config.
func ProvideIngestConfig(cfg Config) (IngestConfig, error) {
	return LoadIngestConfig(cfg.IngestConfigPath)
}

// LoadIngestConfig reads a YAML (or any viper-supported) file of the form
//
//	data:
//	  log_directory_path: /var/log/pbs
//	log_schema:
//	  column_names: JobID,JobName,UserName,...
//
// Values can be overridden with COREHOURS_<SECTION>_<KEY> environment variables.
func LoadIngestConfig(path string) (IngestConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("COREHOURS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data.file_suffix", DefaultFileSuffix)
	v.SetDefault("data.checksum_chunk_size", DefaultChecksumChunkSize)
	v.SetDefault("data.insert_batch_size", DefaultInsertBatchSize)

	path = strings.TrimSpace(path)
	if path != "" {
		v.SetConfigFile(path)
		if !strings.Contains(path[strings.LastIndex(path, "/")+1:], ".") {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return IngestConfig{}, fmt.Errorf("read ingest config %s: %w", path, err)
		}
	}

	statusMap, err := parseStatusMap(v.Get("log_schema.status_map"))
	if err != nil {
		return IngestConfig{}, err
	}

	cfg := IngestConfig{
		LogDirectory:      strings.TrimSpace(v.GetString("data.log_directory_path")),
		FileSuffix:        strings.TrimSpace(v.GetString("data.file_suffix")),
		ChecksumChunkSize: v.GetInt("data.checksum_chunk_size"),
		InsertBatchSize:   v.GetInt("data.insert_batch_size"),
		Columns:           splitList(v.Get("log_schema.column_names")),
		StatusMap:         statusMap,
	}
	if err := cfg.Validate(); err != nil {
		return IngestConfig{}, err
	}
	return cfg, nil
}

// Validate checks the configuration defects that are fatal at startup.
func (c IngestConfig) Validate() error {
	if c.LogDirectory == "" {
		return fmt.Errorf("%w: log_directory_path is not set", ErrInvalidLogDirectory)
	}
	info, err := os.Stat(c.LogDirectory)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLogDirectory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidLogDirectory, c.LogDirectory)
	}
	if len(c.Columns) == 0 {
		return ErrEmptySchema
	}
	seen := make(map[string]struct{}, len(c.Columns))
	for _, col := range c.Columns {
		if _, ok := seen[col]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateColumn, col)
		}
		seen[col] = struct{}{}
	}
	return nil
}

// Normalized fills zero values with defaults.
func (c IngestConfig) Normalized() IngestConfig {
	if c.FileSuffix == "" {
		c.FileSuffix = DefaultFileSuffix
	}
	if c.ChecksumChunkSize <= 0 {
		c.ChecksumChunkSize = DefaultChecksumChunkSize
	}
	if c.InsertBatchSize <= 0 {
		c.InsertBatchSize = DefaultInsertBatchSize
	}
	if c.StatusMap == nil {
		c.StatusMap = DefaultStatusMap()
	}
	return c
}

func splitList(raw any) []string {
	var parts []string
	switch value := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(value, ",")
	case []string:
		parts = value
	case []any:
		for _, item := range value {
			parts = append(parts, fmt.Sprint(item))
		}
	default:
		parts = strings.Split(fmt.Sprint(value), ",")
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// parseStatusMap accepts "RAW:LABEL,RAW:LABEL". Keys keep their case, which
// viper would otherwise fold if they were section keys.
func parseStatusMap(raw any) (map[string]string, error) {
	entries := splitList(raw)
	if len(entries) == 0 {
		return DefaultStatusMap(), nil
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		code, label, ok := strings.Cut(entry, ":")
		code = strings.TrimSpace(code)
		label = strings.TrimSpace(label)
		if !ok || code == "" || label == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatusMap, entry)
		}
		out[code] = label
	}
	return out, nil
}
