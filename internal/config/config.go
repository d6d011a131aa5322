package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config конфигурация приложения
type Config struct {
	ServerPort string
	ModelPath  string
	MaxHistory int

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	MetricsRetention time.Duration
	MirrorWorkers    int
	MirrorQueue      int

	Log LogConfig
}

// LogConfig настройки логирования
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "5000")
	v.SetDefault("model_path", "model.json")
	v.SetDefault("max_history", 100)

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("metrics_retention_hours", 1)
	v.SetDefault("mirror_workers", 4)
	v.SetDefault("mirror_queue", 1000)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 100)
	v.SetDefault("log_max_backups", 5)
	v.SetDefault("log_max_age_days", 30)
}

// Load загружает конфигурацию: значения по умолчанию, затем файл
// (если указан и существует), затем переменные окружения.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := Config{
		ServerPort: v.GetString("server_port"),
		ModelPath:  v.GetString("model_path"),
		MaxHistory: v.GetInt("max_history"),

		RedisAddr:        v.GetString("redis_addr"),
		RedisPassword:    v.GetString("redis_password"),
		RedisDB:          v.GetInt("redis_db"),
		MetricsRetention: time.Duration(v.GetInt("metrics_retention_hours")) * time.Hour,
		MirrorWorkers:    v.GetInt("mirror_workers"),
		MirrorQueue:      v.GetInt("mirror_queue"),

		Log: LogConfig{
			Level:      v.GetString("log_level"),
			Format:     v.GetString("log_format"),
			File:       v.GetString("log_file"),
			MaxSizeMB:  v.GetInt("log_max_size_mb"),
			MaxBackups: v.GetInt("log_max_backups"),
			MaxAgeDays: v.GetInt("log_max_age_days"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	var errs []error
	if c.ServerPort == "" {
		errs = append(errs, errors.New("server port must not be empty"))
	}
	if c.MaxHistory < 1 {
		errs = append(errs, fmt.Errorf("max history must be positive, got %d", c.MaxHistory))
	}
	if c.MirrorWorkers < 0 {
		errs = append(errs, fmt.Errorf("mirror workers must not be negative, got %d", c.MirrorWorkers))
	}
	if c.MirrorQueue < 1 {
		errs = append(errs, fmt.Errorf("mirror queue must be positive, got %d", c.MirrorQueue))
	}
	if c.RedisAddr != "" && c.MetricsRetention <= 0 {
		errs = append(errs, errors.New("metrics retention must be positive when redis is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// RedisEnabled true, если задан адрес Redis
func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}
