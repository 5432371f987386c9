// Package config loads an optional YAML configuration file and exports its
// values as DOCREFINERY_* environment variables, the lowest-precedence
// layer beneath environment variables and command-line flags.
package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// File mirrors the server's environment variables. Every field is optional;
// a zero value is treated as unset and never overrides the environment.
type File struct {
	HTTPAddr       string  `yaml:"http_addr"`
	DBDriver       string  `yaml:"db_driver"`
	DBDSN          string  `yaml:"db_dsn"`
	SecretKey      string  `yaml:"secret_key"`
	LogLevel       string  `yaml:"log_level"`
	DataDir        string  `yaml:"data_dir"`
	InternalToken  string  `yaml:"internal_token"`
	ScannerAddr    string  `yaml:"scanner_addr"`
	BrokerDriver   string  `yaml:"broker_driver"`
	Workers        int     `yaml:"workers"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
	XAccelPrefix   string  `yaml:"x_accel_redirect_prefix"`
	ReaperInterval string  `yaml:"reaper_interval"`
	RetentionDays  int     `yaml:"retention_days"`
}

// LoadFile reads path as YAML and exports each set field to the
// corresponding DOCREFINERY_* environment variable, skipping any variable
// already present so the environment always wins over the file.
func LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	setIfAbsent("DOCREFINERY_HTTP_ADDR", f.HTTPAddr)
	setIfAbsent("DOCREFINERY_DB_DRIVER", f.DBDriver)
	setIfAbsent("DOCREFINERY_DB_DSN", f.DBDSN)
	setIfAbsent("DOCREFINERY_SECRET_KEY", f.SecretKey)
	setIfAbsent("DOCREFINERY_LOG_LEVEL", f.LogLevel)
	setIfAbsent("DOCREFINERY_DATA_DIR", f.DataDir)
	setIfAbsent("DOCREFINERY_INTERNAL_TOKEN", f.InternalToken)
	setIfAbsent("DOCREFINERY_SCANNER_ADDR", f.ScannerAddr)
	setIfAbsent("DOCREFINERY_BROKER_DRIVER", f.BrokerDriver)
	setIfAbsent("DOCREFINERY_X_ACCEL_PREFIX", f.XAccelPrefix)
	setIfAbsent("DOCREFINERY_REAPER_INTERVAL", f.ReaperInterval)
	if f.Workers > 0 {
		setIfAbsent("DOCREFINERY_WORKERS", fmt.Sprintf("%d", f.Workers))
	}
	if f.MaxUploadBytes > 0 {
		setIfAbsent("DOCREFINERY_MAX_UPLOAD_BYTES", fmt.Sprintf("%d", f.MaxUploadBytes))
	}
	if f.RateLimitRPS > 0 {
		setIfAbsent("DOCREFINERY_RATE_LIMIT_RPS", fmt.Sprintf("%g", f.RateLimitRPS))
	}
	if f.RateLimitBurst > 0 {
		setIfAbsent("DOCREFINERY_RATE_LIMIT_BURST", fmt.Sprintf("%d", f.RateLimitBurst))
	}
	if f.RetentionDays > 0 {
		setIfAbsent("DOCREFINERY_RETENTION_DAYS", fmt.Sprintf("%d", f.RetentionDays))
	}

	return nil
}

func setIfAbsent(key, value string) {
	if value == "" {
		return
	}
	if _, ok := os.LookupEnv(key); ok {
		return
	}
	os.Setenv(key, value)
}
