package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// loadConfig layers configuration sources in order: defaults, embedded YAML
// (after ${VAR} expansion), then environment variables named after yaml tags,
// e.g. CASEFLOW_BATCH_DEFAULT_BATCH_SIZE.
func loadConfig(envFilePath string, embedded EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()
	if len(embedded) > 0 {
		expanded := expander.Expand(string(embedded))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	if err := cfg.Validate(); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false, false)
	}
	return cfg, nil
}

// LoadConfig loads configuration once at startup.
func LoadConfig(envFilePath string, embedded EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embedded, NewOsEnvironmentExpander())
}

// NewConfigProvider is the fx constructor for *Config. It also applies the log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.Caseflow.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Caseflow.System.Logging.Level)
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	cf := c.Caseflow
	switch {
	case cf.Batch.DefaultBatchSize <= 0:
		return fmt.Errorf("batch.default_batch_size must be positive, got %d", cf.Batch.DefaultBatchSize)
	case cf.Batch.MaxBatchSize < cf.Batch.DefaultBatchSize:
		return fmt.Errorf("batch.max_batch_size (%d) is below default_batch_size (%d)", cf.Batch.MaxBatchSize, cf.Batch.DefaultBatchSize)
	case cf.Batch.DefaultConcurrency <= 0:
		return fmt.Errorf("batch.default_concurrency must be positive, got %d", cf.Batch.DefaultConcurrency)
	case cf.Queue.Workers <= 0:
		return fmt.Errorf("queue.workers must be positive, got %d", cf.Queue.Workers)
	case cf.Queue.Retry.MaxAttempts <= 0:
		return fmt.Errorf("queue.retry.max_attempts must be positive, got %d", cf.Queue.Retry.MaxAttempts)
	case cf.Verification.ChunkSize <= 0:
		return fmt.Errorf("verification.chunk_size must be positive, got %d", cf.Verification.ChunkSize)
	}
	switch strings.ToLower(cf.Progress.Backend) {
	case "memory", "redis":
	default:
		return fmt.Errorf("progress.backend must be memory or redis, got %q", cf.Progress.Backend)
	}
	switch strings.ToLower(cf.Metrics.Exporter) {
	case "prometheus", "otlp":
	default:
		return fmt.Errorf("metrics.exporter must be prometheus or otlp, got %q", cf.Metrics.Exporter)
	}
	for name, proto := range map[string]string{
		"infrastructure.tracing.protocol": cf.Infrastructure.Tracing.Protocol,
		"metrics.otlp.protocol":           cf.Metrics.OTLP.Protocol,
	} {
		switch strings.ToLower(proto) {
		case "http", "grpc":
		default:
			return fmt.Errorf("%s must be http or grpc, got %q", name, proto)
		}
	}
	return nil
}

func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Interface:
			loadNamedMapFromEnv(field, envVarName+"_")
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadNamedMapFromEnv fills map[string]interface{} connection maps.
// CASEFLOW_DATABASE_DEFAULT_HOST=db sets database["default"]["host"] = "db".
func loadNamedMapFromEnv(mapField reflect.Value, prefix string) {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyParts := strings.SplitN(parts[0], "_", 2)
		if len(keyParts) != 2 || keyParts[0] == "" || keyParts[1] == "" {
			continue
		}
		name := strings.ToLower(keyParts[0])
		key := strings.ToLower(keyParts[1])

		entry := map[string]interface{}{}
		if existing := mapField.MapIndex(reflect.ValueOf(name)); existing.IsValid() {
			if m, ok := existing.Interface().(map[string]interface{}); ok {
				entry = m
			}
		}
		entry[key] = parts[1]
		mapField.SetMapIndex(reflect.ValueOf(name), reflect.ValueOf(entry))
	}
}

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
