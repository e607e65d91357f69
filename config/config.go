/*
Copyright 2024 The remote-receipt-import Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	DefaultRequestsPerSecond  = 5.0
	DefaultBatchSize          = 30
	DefaultCheckpointInterval = 10
	DefaultMaxAttempts        = 5
	DefaultFailureThreshold   = 10
	DefaultCooldownSec        = 300
	DefaultBackoffBaseSec     = 120
	DefaultBackoffCapSec      = 3600
	DefaultStaleAfterSec      = 1800
	DefaultRemoteTimeoutSec   = 30
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"RRI_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"RRI_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"RRI_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"RRI_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"RRI_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"RRI_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"RRI_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"RRI_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"RRI_REDIS_SKIP_TLS_VERIFY"`
}

type TypeSenseConfig struct {
	Dns string `json:"dns" envconfig:"RRI_TYPESENSE_DNS"`
}

// RemoteConfig is the connection surface for the remote accounting system.
type RemoteConfig struct {
	Endpoint   string `json:"endpoint" envconfig:"RRI_REMOTE_ENDPOINT"`
	Database   string `json:"database" envconfig:"RRI_REMOTE_DATABASE"`
	APIKey     string `json:"api_key" envconfig:"RRI_REMOTE_API_KEY"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"RRI_REMOTE_TIMEOUT_SEC"`
}

func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

// ThrottleConfig caps outbound remote calls. This is the shared token bucket
// every worker draws from, not the inbound API limiter below.
type ThrottleConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" envconfig:"RRI_THROTTLE_RPS"`
	Burst             int     `json:"burst" envconfig:"RRI_THROTTLE_BURST"`
}

// BreakerConfig controls the shared circuit breaker around remote calls.
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold" envconfig:"RRI_BREAKER_FAILURE_THRESHOLD"`
	CooldownSec      int `json:"cooldown_sec" envconfig:"RRI_BREAKER_COOLDOWN_SEC"`
}

func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownSec) * time.Second
}

// QueueConfig controls batch processing of imported payment rows.
type QueueConfig struct {
	BatchSize          int    `json:"batch_size" envconfig:"RRI_QUEUE_BATCH_SIZE"`
	CheckpointInterval int    `json:"checkpoint_interval" envconfig:"RRI_QUEUE_CHECKPOINT_INTERVAL"`
	MaxAttempts        int    `json:"max_attempts" envconfig:"RRI_QUEUE_MAX_ATTEMPTS"`
	BackoffBaseSec     int    `json:"backoff_base_sec" envconfig:"RRI_QUEUE_BACKOFF_BASE_SEC"`
	BackoffCapSec      int    `json:"backoff_cap_sec" envconfig:"RRI_QUEUE_BACKOFF_CAP_SEC"`
	StaleAfterSec      int    `json:"stale_after_sec" envconfig:"RRI_QUEUE_STALE_AFTER_SEC"`
	MonitoringPort     string `json:"monitoring_port" envconfig:"RRI_QUEUE_MONITORING_PORT"`
}

func (q QueueConfig) BackoffBase() time.Duration {
	return time.Duration(q.BackoffBaseSec) * time.Second
}

func (q QueueConfig) BackoffCap() time.Duration {
	return time.Duration(q.BackoffCapSec) * time.Second
}

func (q QueueConfig) StaleAfter() time.Duration {
	return time.Duration(q.StaleAfterSec) * time.Second
}

// RateLimitConfig throttles the inbound HTTP API, not remote calls.
type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"RRI_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"RRI_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"RRI_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type OtelGrafanaCloud struct {
	OtelExporterOtlpProtocol string `json:"otel_exporter_otlp_protocol" envconfig:"OTEL_EXPORTER_OTLP_PROTOCOL"`
	OtelExporterOtlpEndpoint string `json:"otel_exporter_otlp_endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpHeaders  string `json:"otel_exporter_otlp_headers" envconfig:"OTEL_EXPORTER_OTLP_HEADERS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName        string           `json:"project_name" envconfig:"RRI_PROJECT_NAME"`
	BackupDir          string           `json:"backup_dir" envconfig:"RRI_BACKUP_DIR"`
	AwsAccessKeyId     string           `json:"aws_access_key_id"`
	S3Endpoint         string           `json:"s3_endpoint"`
	AwsSecretAccessKey string           `json:"aws_secret_access_key"`
	S3BucketName       string           `json:"s3_bucket_name"`
	S3Region           string           `json:"s3_region"`
	EnableTelemetry    bool             `json:"enable_telemetry" envconfig:"RRI_ENABLE_TELEMETRY"`
	Server             ServerConfig     `json:"server"`
	DataSource         DataSourceConfig `json:"data_source"`
	Redis              RedisConfig      `json:"redis"`
	TypeSense          TypeSenseConfig  `json:"typesense"`
	TypeSenseKey       string           `json:"type_sense_key"`
	Remote             RemoteConfig     `json:"remote"`
	Throttle           ThrottleConfig   `json:"throttle"`
	Breaker            BreakerConfig    `json:"breaker"`
	Queue              QueueConfig      `json:"queue"`
	Notification       Notification     `json:"notification"`
	RateLimit          RateLimitConfig  `json:"rate_limit"`
	OtelGrafanaCloud   OtelGrafanaCloud `json:"otel_grafana_cloud"`
}

// SetGrafanaExporterEnvs exports the OTLP exporter settings from the loaded
// configuration into the environment variables the OTel SDK reads.
func SetGrafanaExporterEnvs() error {
	cnf, err := Fetch()
	if err != nil {
		return err
	}
	if err := os.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", cnf.OtelGrafanaCloud.OtelExporterOtlpProtocol); err != nil {
		return err
	}
	if err := os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cnf.OtelGrafanaCloud.OtelExporterOtlpEndpoint); err != nil {
		return err
	}
	return os.Setenv("OTEL_EXPORTER_OTLP_HEADERS", cnf.OtelGrafanaCloud.OtelExporterOtlpHeaders)
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("rri", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called rri.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "RRI Server"
	}

	if cnf.TypeSense.Dns == "" {
		cnf.TypeSense.Dns = "http://typesense:8108"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Remote.Endpoint == "" {
		log.Println("Warning: Remote endpoint is empty. Imports cannot be processed until it is set.")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Remote.Endpoint = strings.TrimSpace(cnf.Remote.Endpoint)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Remote.TimeoutSec <= 0 {
		cnf.Remote.TimeoutSec = DefaultRemoteTimeoutSec
	}

	if cnf.Throttle.RequestsPerSecond <= 0 {
		cnf.Throttle.RequestsPerSecond = DefaultRequestsPerSecond
	}
	// The burst allowance defaults to the sustained rate.
	if cnf.Throttle.Burst <= 0 {
		cnf.Throttle.Burst = int(cnf.Throttle.RequestsPerSecond)
		if cnf.Throttle.Burst < 1 {
			cnf.Throttle.Burst = 1
		}
	}

	if cnf.Breaker.FailureThreshold <= 0 {
		cnf.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if cnf.Breaker.CooldownSec <= 0 {
		cnf.Breaker.CooldownSec = DefaultCooldownSec
	}

	if cnf.Queue.BatchSize <= 0 {
		cnf.Queue.BatchSize = DefaultBatchSize
	}
	if cnf.Queue.CheckpointInterval <= 0 {
		cnf.Queue.CheckpointInterval = DefaultCheckpointInterval
	}
	if cnf.Queue.MaxAttempts <= 0 {
		cnf.Queue.MaxAttempts = DefaultMaxAttempts
	}
	if cnf.Queue.BackoffBaseSec <= 0 {
		cnf.Queue.BackoffBaseSec = DefaultBackoffBaseSec
	}
	if cnf.Queue.BackoffCapSec <= 0 {
		cnf.Queue.BackoffCapSec = DefaultBackoffCapSec
	}
	if cnf.Queue.StaleAfterSec <= 0 {
		cnf.Queue.StaleAfterSec = DefaultStaleAfterSec
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5003"
	}

	// API rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
