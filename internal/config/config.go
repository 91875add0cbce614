package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trace-service/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	BlobMinio      = "minio"
	BlobFilesystem = "filesystem"
)

// Config holds all configuration values from environment.
type Config struct {
	AppPort string

	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	BlobBackend    string
	BlobDir        string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioSSL       bool

	RedisHost   string
	RedisPort   string
	ImportQueue string

	// Pending traces older than this are treated as abandoned creates.
	PendingTTL    time.Duration
	SweepInterval time.Duration

	LogLevel  string
	LogFormat string
}

// New returns a viper instance reading the service environment.
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("STORAGE_PORT", "8080")
	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("SQLITE_PATH", "traces.db")
	v.SetDefault("BLOB_BACKEND", BlobMinio)
	v.SetDefault("MINIO_SSL", false)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("IMPORT_QUEUE", "traces:import")
	v.SetDefault("PENDING_TTL", time.Hour)
	v.SetDefault("SWEEP_INTERVAL", 10*time.Minute)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	return v
}

// LoadConfig loads configuration from environment variables.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppPort:        v.GetString("STORAGE_PORT"),
		DBDriver:       strings.ToLower(v.GetString("DB_DRIVER")),
		DBHost:         v.GetString("DB_HOST"),
		DBPort:         v.GetString("DB_PORT"),
		DBUser:         v.GetString("DB_USER"),
		DBPassword:     v.GetString("DB_PASSWORD"),
		DBName:         v.GetString("DB_NAME"),
		SQLitePath:     v.GetString("SQLITE_PATH"),
		BlobBackend:    strings.ToLower(v.GetString("BLOB_BACKEND")),
		BlobDir:        v.GetString("BLOB_DIR"),
		MinioEndpoint:  v.GetString("MINIO_ENDPOINT"),
		MinioAccessKey: v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey: v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:    v.GetString("MINIO_BUCKET"),
		MinioSSL:       v.GetBool("MINIO_SSL"),
		RedisHost:      v.GetString("REDIS_HOST"),
		RedisPort:      v.GetString("REDIS_PORT"),
		ImportQueue:    v.GetString("IMPORT_QUEUE"),
		PendingTTL:     v.GetDuration("PENDING_TTL"),
		SweepInterval:  v.GetDuration("SWEEP_INTERVAL"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogFormat:      v.GetString("LOG_FORMAT"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backends are fully configured.
func (cfg *Config) Validate() error {
	switch cfg.DBDriver {
	case DriverPostgres:
		if cfg.DBHost == "" || cfg.DBUser == "" || cfg.DBName == "" {
			return fmt.Errorf("database configuration is incomplete")
		}
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			return fmt.Errorf("sqlite path is not set")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	switch cfg.BlobBackend {
	case BlobMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return fmt.Errorf("minio configuration is incomplete")
		}
	case BlobFilesystem:
		if cfg.BlobDir == "" {
			return fmt.Errorf("BLOB_DIR is required for the filesystem blob backend")
		}
	default:
		return fmt.Errorf("unsupported BLOB_BACKEND %q", cfg.BlobBackend)
	}

	if cfg.PendingTTL <= 0 {
		return fmt.Errorf("PENDING_TTL must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return nil
}

// ConnectDatabase initializes a GORM database connection for the configured driver.
func ConnectDatabase(cfg *Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case DriverSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// MigrateDatabase creates or updates the trace store schema.
func MigrateDatabase(db *gorm.DB) error {
	return db.AutoMigrate(&models.User{}, &models.Trace{}, &models.Tag{}, &models.Preference{})
}

// NewLogger builds the service logger from cfg.
func NewLogger(cfg *Config) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %v", err)
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log, nil
}
