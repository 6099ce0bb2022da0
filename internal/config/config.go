package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"agenda/internal/models"
)

// AgendaConfig holds the application configuration
type AgendaConfig struct {
	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Events struct {
		Host     string `mapstructure:"host"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"events"`

	Scheduler struct {
		TickIntervalSec int    `mapstructure:"tick_interval_sec"`
		MaxCount        int    `mapstructure:"max_count"`
		Concurrency     int    `mapstructure:"concurrency"`
		GraceWindowSec  int    `mapstructure:"grace_window_sec"`
		OverdueAction   string `mapstructure:"overdue_action"`
		TaskBatchSize   int    `mapstructure:"task_batch_size"`
	} `mapstructure:"scheduler"`

	LogLevel string `mapstructure:"log_level"`
}

// LoadConfig reads the configuration from a file or environment variables
func LoadConfig(configPaths ...string) (*AgendaConfig, error) {
	// can specify config path from environment
	if path, exists := os.LookupEnv("AGENDA_CONFIG_PATH"); exists {
		configPaths = append(configPaths, path)
	}
	for _, path := range configPaths {
		fi, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		mode := fi.Mode()
		switch {
		case mode.IsRegular():
			v := newViper()
			v.SetConfigFile(path)
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil

		case mode.IsDir():
			v := newViper()
			v.AddConfigPath(path)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil
		}
	}

	v := newViper()
	// finally read from current working directory
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	cwd, _ := os.Getwd()

	config, err := readConfig(v, cwd)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// setDefaults sets default values for configuration
func newViper() *viper.Viper {
	v := viper.New()

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "agenda")
	v.SetDefault("database.sslmode", "disable")

	// Event stream defaults
	v.SetDefault("events.host", "localhost:6379")
	v.SetDefault("events.password", "redis")
	v.SetDefault("events.db", 0)

	// Scheduler defaults
	v.SetDefault("scheduler.tick_interval_sec", 60)
	v.SetDefault("scheduler.max_count", 100)
	v.SetDefault("scheduler.concurrency", 10)
	v.SetDefault("scheduler.grace_window_sec", 1800) // 30 minutes
	v.SetDefault("scheduler.overdue_action", "trigger")
	v.SetDefault("scheduler.task_batch_size", 100)

	// Log level default
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("AGENDA")                           // Prefix for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores in env vars
	v.AutomaticEnv()                                   // Read environment variables

	return v
}

func readConfig(v *viper.Viper, path string) (*AgendaConfig, error) {
	var config AgendaConfig

	if err := v.ReadInConfig(); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not read config file")
		return nil, err
	}
	if err := v.Unmarshal(&config); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not unmarshall config")
		return nil, err
	}

	return &config, nil
}

// GetDatabaseURL returns a formatted database connection string
func (c *AgendaConfig) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// GetLogLevel parses the configured log level, falling back to info
func (c *AgendaConfig) GetLogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// TickInterval is the scheduler pass cadence
func (c *AgendaConfig) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickIntervalSec) * time.Second
}

// GraceWindow is how far past its trigger time a reminder may lapse before it
// counts as overdue
func (c *AgendaConfig) GraceWindow() time.Duration {
	return time.Duration(c.Scheduler.GraceWindowSec) * time.Second
}

// GetOverdueAction parses the configured overdue policy, falling back to
// triggering immediately
func (c *AgendaConfig) GetOverdueAction() models.OverdueAction {
	switch action := models.OverdueAction(c.Scheduler.OverdueAction); action {
	case models.OverdueTrigger, models.OverdueSkip, models.OverdueReschedule:
		return action
	default:
		return models.OverdueTrigger
	}
}
