package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// AMQP. An empty URL selects the in-process queue.
	AMQPURL                string
	AMQPExchange           string
	AMQPQueue              string
	AMQPDeadLetterExchange string
	AMQPDeadLetterQueue    string
	AMQPQueueType          string
	AMQPPrefetch           int
	AMQPPublishRetries     int

	// Recurrence sweep
	SweepCatchUp bool

	// Monthly reports
	ReportConcurrency int

	// Consumer
	ConsumerMaxAttempts       int
	ConsumerProcessingTimeout time.Duration

	// Scheduler
	SchedulerTimezone     string
	SchedulerPollInterval time.Duration
	DailySweepSpec        string
	MonthlyReportSpec     string
	TaskLockTTL           time.Duration

	// Export sink
	ReportSink string

	// Google Sheets
	GoogleSpreadsheetID      string
	ReportSheetName          string
	ReportCategoriesSheet    string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string
	GoogleOAuthClientJSON    string
	GoogleOAuthTokenJSON     string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/ledger.db"),

		AMQPURL:                getEnv("AMQP_URL", ""),
		AMQPExchange:           getEnv("AMQP_EXCHANGE", "reports"),
		AMQPQueue:              getEnv("AMQP_QUEUE", "reports_queue"),
		AMQPDeadLetterExchange: getEnv("AMQP_DLX", "reports.dlx"),
		AMQPDeadLetterQueue:    getEnv("AMQP_DLQ", "reports_queue.dead"),
		AMQPQueueType:          getEnv("AMQP_QUEUE_TYPE", "quorum"),
		AMQPPrefetch:           getEnvInt("AMQP_PREFETCH", 4),
		AMQPPublishRetries:     getEnvInt("AMQP_PUBLISH_RETRIES", 3),

		SweepCatchUp: getEnvBool("SWEEP_CATCH_UP", false),

		ReportConcurrency: getEnvInt("REPORT_CONCURRENCY", 4),

		ConsumerMaxAttempts:       getEnvInt("CONSUMER_MAX_ATTEMPTS", 5),
		ConsumerProcessingTimeout: getEnvDuration("CONSUMER_PROCESSING_TIMEOUT", 2*time.Minute),

		SchedulerTimezone:     getEnv("SCHEDULER_TIMEZONE", "UTC"),
		SchedulerPollInterval: getEnvDuration("SCHEDULER_POLL_INTERVAL", 30*time.Second),
		DailySweepSpec:        getEnv("DAILY_SWEEP_CRON", "0 0 * * *"),
		MonthlyReportSpec:     getEnv("MONTHLY_REPORT_CRON", "0 0 1 * *"),
		TaskLockTTL:           getEnvDuration("TASK_LOCK_TTL", time.Hour),

		ReportSink: getEnv("REPORT_SINK", "log"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		ReportSheetName:          getEnv("REPORT_SHEET_NAME", "Reports"),
		ReportCategoriesSheet:    getEnv("REPORT_CATEGORIES_SHEET_NAME", "Report Categories"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")),
		GoogleOAuthClientFile:    getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:     getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),
		GoogleOAuthClientJSON:    getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthTokenJSON:     getEnv("GOOGLE_OAUTH_TOKEN_JSON", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Location returns the scheduler time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SchedulerTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UseAMQP reports whether report jobs go through RabbitMQ.
func (c *Config) UseAMQP() bool {
	return c.AMQPURL != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		// Check if directory exists or can be created
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPDeadLetterExchange == "" || c.AMQPDeadLetterQueue == "" {
			errors = append(errors, "AMQP dead-letter exchange and queue cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueueType != "quorum" && c.AMQPQueueType != "classic" {
			errors = append(errors, fmt.Sprintf("invalid AMQP queue type '%s': must be 'quorum' or 'classic'", c.AMQPQueueType))
		}
	}

	if c.AMQPPrefetch < 1 || c.AMQPPrefetch > 1000 {
		errors = append(errors, fmt.Sprintf("invalid AMQP prefetch %d: must be between 1 and 1000", c.AMQPPrefetch))
	}
	if c.AMQPPublishRetries < 1 || c.AMQPPublishRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid AMQP publish retries %d: must be between 1 and 10", c.AMQPPublishRetries))
	}

	if c.ReportConcurrency < 1 || c.ReportConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid report concurrency %d: must be between 1 and 64", c.ReportConcurrency))
	}

	if c.ConsumerMaxAttempts < 1 || c.ConsumerMaxAttempts > 100 {
		errors = append(errors, fmt.Sprintf("invalid consumer max attempts %d: must be between 1 and 100", c.ConsumerMaxAttempts))
	}
	if c.ConsumerProcessingTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid consumer processing timeout %v: must be at least 1 second", c.ConsumerProcessingTimeout))
	}

	if _, err := time.LoadLocation(c.SchedulerTimezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid scheduler timezone '%s': %v", c.SchedulerTimezone, err))
	}
	if c.SchedulerPollInterval < time.Second || c.SchedulerPollInterval > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid scheduler poll interval %v: must be between 1 second and 1 hour", c.SchedulerPollInterval))
	}
	if c.TaskLockTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid task lock TTL %v: must be at least 1 minute", c.TaskLockTTL))
	}
	for name, spec := range map[string]string{"DAILY_SWEEP_CRON": c.DailySweepSpec, "MONTHLY_REPORT_CRON": c.MonthlyReportSpec} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': %v", name, spec, err))
		}
	}

	switch c.ReportSink {
	case "log", "memory":
	case "sheets":
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets report sink")
		}

		hasServiceAccount := c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != ""
		hasClient := c.GoogleOAuthClientFile != "" || c.GoogleOAuthClientJSON != ""
		hasToken := c.GoogleOAuthTokenFile != "" || c.GoogleOAuthTokenJSON != ""
		if !hasServiceAccount && (!hasClient || !hasToken) {
			errors = append(errors, "sheets report sink needs a service account or both an OAuth client and token")
		}

		if c.GoogleOAuthClientFile != "" {
			if _, err := os.Stat(c.GoogleOAuthClientFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google OAuth client file does not exist: %s", c.GoogleOAuthClientFile))
			}
		}
		if c.GoogleOAuthTokenFile != "" {
			if _, err := os.Stat(c.GoogleOAuthTokenFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google OAuth token file does not exist: %s", c.GoogleOAuthTokenFile))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid report sink '%s': must be one of [log memory sheets]", c.ReportSink))
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
