package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// UploadPrefix is the object prefix uploaded inventory files are saved under.
const UploadPrefix = "inventory/"

// Config 应用配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	ETL      ETLConfig      `yaml:"etl"`
	Query    QueryConfig    `yaml:"query"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	URL         string `yaml:"url"`
	MaxConns    int    `yaml:"max_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	JobTTL   time.Duration `yaml:"job_ttl"`
}

type StorageConfig struct {
	// Type is one of local, s3, minio or empty for no blob store.
	Type            string        `yaml:"type"`
	LocalDir        string        `yaml:"local_dir"`
	Retention       time.Duration `yaml:"retention"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

type ETLConfig struct {
	MaxFileSizeMB    int           `yaml:"max_file_size_mb"`
	ProcessTimeout   time.Duration `yaml:"process_timeout"`
	StagingBatchSize int           `yaml:"staging_batch_size"`
	SnapshotPolicy   string        `yaml:"snapshot_policy"`
	SourceSystem     string        `yaml:"source_system"`
}

type QueryConfig struct {
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	DefaultLimit     int           `yaml:"default_limit"`
	NL2SQLAddr       string        `yaml:"nl2sql_addr"`
	NL2SQLTimeout    time.Duration `yaml:"nl2sql_timeout"`
}

type LogConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"output_paths"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{MaxConns: 10},
		Redis:    RedisConfig{JobTTL: 24 * time.Hour},
		Storage: StorageConfig{
			Type:            "local",
			LocalDir:        "uploads",
			Retention:       7 * 24 * time.Hour,
			CleanupSchedule: "@every 1h",
		},
		ETL: ETLConfig{
			MaxFileSizeMB:    50,
			ProcessTimeout:   30 * time.Minute,
			StagingBatchSize: 1000,
			SnapshotPolicy:   "append",
			SourceSystem:     "WMS",
		},
		Query: QueryConfig{
			StatementTimeout: 30 * time.Second,
			DefaultLimit:     1000,
			NL2SQLTimeout:    30 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout"},
		},
	}
}

// Load 按 默认值 -> YAML 文件 -> 环境变量 的顺序加载配置。
// path 为空时使用 CONFIG_FILE 环境变量。
func Load(path string) (*Config, error) {
	loadEnv()

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString("SERVER_PORT", &c.Server.Port)
	envString("DATABASE_URL", &c.Database.URL)
	envInt("DATABASE_MAX_CONNS", &c.Database.MaxConns)
	envBool("DATABASE_AUTO_MIGRATE", &c.Database.AutoMigrate)
	envString("REDIS_ADDR", &c.Redis.Addr)
	envString("REDIS_PASSWORD", &c.Redis.Password)
	envInt("REDIS_DB", &c.Redis.DB)
	envDuration("REDIS_JOB_TTL", &c.Redis.JobTTL)
	envString("STORAGE_TYPE", &c.Storage.Type)
	envString("STORAGE_LOCAL_DIR", &c.Storage.LocalDir)
	envDuration("STORAGE_RETENTION", &c.Storage.Retention)
	envString("STORAGE_CLEANUP_SCHEDULE", &c.Storage.CleanupSchedule)
	envInt("ETL_MAX_FILE_SIZE_MB", &c.ETL.MaxFileSizeMB)
	envDuration("ETL_PROCESS_TIMEOUT", &c.ETL.ProcessTimeout)
	envInt("ETL_STAGING_BATCH_SIZE", &c.ETL.StagingBatchSize)
	envString("ETL_SNAPSHOT_POLICY", &c.ETL.SnapshotPolicy)
	envString("ETL_SOURCE_SYSTEM", &c.ETL.SourceSystem)
	envDuration("QUERY_STATEMENT_TIMEOUT", &c.Query.StatementTimeout)
	envInt("QUERY_DEFAULT_LIMIT", &c.Query.DefaultLimit)
	envString("NL2SQL_ADDR", &c.Query.NL2SQLAddr)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_ENCODING", &c.Log.Encoding)
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Type {
	case "", "local", "s3", "minio":
	default:
		errs = append(errs, fmt.Errorf("unsupported storage type %q", c.Storage.Type))
	}
	switch c.ETL.SnapshotPolicy {
	case "", "append", "replace":
	default:
		errs = append(errs, fmt.Errorf("unsupported snapshot policy %q", c.ETL.SnapshotPolicy))
	}
	if c.ETL.MaxFileSizeMB <= 0 {
		errs = append(errs, errors.New("etl.max_file_size_mb must be positive"))
	}
	if c.ETL.StagingBatchSize <= 0 {
		errs = append(errs, errors.New("etl.staging_batch_size must be positive"))
	}
	if c.Query.DefaultLimit <= 0 {
		errs = append(errs, errors.New("query.default_limit must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// MaxFileSize returns the upload limit in bytes.
func (c *ETLConfig) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}
