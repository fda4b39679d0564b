package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/colorify/internal/backend/codec"
	"github.com/jo-hoe/colorify/internal/backend/database"
	"github.com/jo-hoe/colorify/internal/backend/inference"
	"github.com/jo-hoe/colorify/internal/common"
)

const (
	DefaultPort                = 8001
	DefaultMaxFileSize         = 10 << 20
	DefaultTimeoutSeconds      = 120
	DefaultModelID             = "hakurei/waifu-diffusion-v1-4"
	DefaultHistoryLimit        = 50
	DefaultHistoryMaxLimit     = 100
	DefaultDatabaseName        = "colorify"
	DefaultSQLiteConnection    = "file:colorify.db"
	defaultConfigFileName      = "config.yaml"
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultCORSAllowAllOrigins = "*"
)

type Database struct {
	Type             string `yaml:"type" validate:"oneof=mongo redis sqlite"`
	ConnectionString string `yaml:"connectionString" validate:"required"`
	Name             string `yaml:"name"`
}

// ServiceConfig is built once at startup and shared read-only by all components.
type ServiceConfig struct {
	Port           int      `yaml:"port" validate:"gt=0,lte=65535"`
	HFToken        string   `yaml:"hfToken" validate:"required"`
	HFBaseURL      string   `yaml:"hfBaseURL" validate:"required,url"`
	DefaultModelID string   `yaml:"defaultModelID" validate:"required"`
	MaxFileSize    int64    `yaml:"maxFileSize" validate:"gt=0"`
	TimeoutSeconds int      `yaml:"timeoutSeconds" validate:"gt=0"`
	MaxDimension   int      `yaml:"maxDimension" validate:"gt=0"`
	MaxPixels      int      `yaml:"maxPixels" validate:"gt=0"`
	HistoryLimit   int      `yaml:"historyLimit" validate:"gt=0"`
	HistoryMax     int      `yaml:"historyMaxLimit" validate:"gtefield=HistoryLimit"`
	AllowedOrigins []string `yaml:"allowedOrigins" validate:"min=1"`
	LogLevel       string   `yaml:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat      string   `yaml:"logFormat" validate:"oneof=text json"`
	Database       Database `yaml:"database"`
}

// Timeout is the budget for a single inference call.
func (c *ServiceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func defaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:           DefaultPort,
		HFBaseURL:      inference.DefaultBaseURL,
		DefaultModelID: DefaultModelID,
		MaxFileSize:    DefaultMaxFileSize,
		TimeoutSeconds: DefaultTimeoutSeconds,
		MaxDimension:   codec.InferenceMaxDimension,
		MaxPixels:      codec.DefaultMaxPixels,
		HistoryLimit:   DefaultHistoryLimit,
		HistoryMax:     DefaultHistoryMaxLimit,
		AllowedOrigins: []string{defaultCORSAllowAllOrigins},
		LogLevel:       defaultLogLevel,
		LogFormat:      defaultLogFormat,
		Database: Database{
			Name: DefaultDatabaseName,
		},
	}
}

// LoadConfig layers defaults, an optional YAML file, a .env file and the process
// environment, in that order, then validates the result.
// An empty configPath means "./config.yaml if it exists".
func LoadConfig(configPath string) (*ServiceConfig, error) {
	config := defaultConfig()

	explicit := configPath != ""
	if !explicit {
		configPath = defaultConfigFileName
	}
	if err := loadYAML(configPath, config); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Values already present in the environment win over .env entries
	_ = godotenv.Load()

	if err := applyEnvironment(config); err != nil {
		return nil, err
	}
	applyDatabaseDefaults(&config.Database)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %s", common.DescribeValidationError(err))
	}
	return config, nil
}

func loadYAML(configPath string, config *ServiceConfig) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	return nil
}

func applyEnvironment(config *ServiceConfig) error {
	setString(&config.HFToken, "HF_TOKEN")
	setString(&config.HFBaseURL, "HF_BASE_URL")
	setString(&config.DefaultModelID, "DEFAULT_MODEL_ID")
	setString(&config.LogLevel, "LOG_LEVEL")
	setString(&config.LogFormat, "LOG_FORMAT")
	setString(&config.Database.Type, "DB_TYPE")
	setString(&config.Database.ConnectionString, "DB_CONNECTION_STRING")
	setString(&config.Database.Name, "DB_NAME")

	if mongoURL := os.Getenv("MONGO_URL"); mongoURL != "" {
		if config.Database.Type == "" {
			config.Database.Type = database.TypeMongo
		}
		if config.Database.Type == database.TypeMongo {
			config.Database.ConnectionString = mongoURL
		}
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		config.AllowedOrigins = splitList(origins)
	}

	if err := setInt(&config.Port, "PORT"); err != nil {
		return err
	}
	if err := setInt(&config.TimeoutSeconds, "TIMEOUT_SECONDS"); err != nil {
		return err
	}
	if err := setInt(&config.HistoryMax, "HISTORY_MAX_LIMIT"); err != nil {
		return err
	}
	if err := setInt(&config.MaxPixels, "MAX_IMAGE_PIXELS"); err != nil {
		return err
	}
	if value := os.Getenv("MAX_FILE_SIZE"); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_FILE_SIZE: %w", err)
		}
		config.MaxFileSize = parsed
	}
	return nil
}

func applyDatabaseDefaults(db *Database) {
	if db.Type == "" {
		db.Type = database.TypeSQLite
	}
	if db.Type == database.TypeSQLite && db.ConnectionString == "" {
		db.ConnectionString = DefaultSQLiteConnection
	}
}

func setString(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		*target = value
	}
}

func setInt(target *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
