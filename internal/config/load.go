package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PAPERSUM"

// defaults are applied before the config file and the environment. Every key
// Load reads is listed so that AutomaticEnv can resolve it.
var defaults = map[string]interface{}{
	"server.port":             8000,
	"server.log_level":        "info",
	"server.shutdown_timeout": 10 * time.Second,

	"aws.region":   "us-east-1",
	"aws.endpoint": "",

	"queue.backend":            "sqs",
	"queue.sqs_url":            "",
	"queue.redis_addr":         "",
	"queue.redis_password":     "",
	"queue.redis_db":           0,
	"queue.redis_key":          "papersum:tasks",
	"queue.visibility_timeout": 600 * time.Second,

	"records.backend":              "dynamodb",
	"records.dynamo_table":         "PaperSummaries",
	"records.dynamo_key_attribute": "arxiv_id",
	"records.database_url":         "",
	"records.bolt_path":            "papersum.db",
	"records.stale_after":          time.Duration(0),
	"records.stale_check_interval": 5 * time.Minute,

	"node.batch_size":          5,
	"node.wait_time":           10 * time.Second,
	"node.empty_backoff":       20 * time.Second,
	"node.idle_threshold":      30 * time.Minute,
	"node.idle_check_interval": time.Minute,
	"node.cooldown":            10 * time.Minute,
	"node.hash_prefix_length":  100,
	"node.terminator":          "shell",
	"node.shutdown_command":    []string{"sudo", "shutdown", "-h", "now"},

	"wake.instance_id":   "",
	"wake.service_url":   "",
	"wake.start_timeout": 300 * time.Second,
	"wake.ready_timeout": 300 * time.Second,
	"wake.poll_interval": 10 * time.Second,
	"wake.probe_timeout": 5 * time.Second,
	"wake.every":         time.Duration(0),

	"llm.provider":       "ollama",
	"llm.gemini_api_key": "",
	"llm.model_name":     "",
	"llm.ollama_url":     "http://localhost:11434",
	"llm.temperature":    0.3,
	"llm.timeout":        10 * time.Minute,
	"llm.max_retries":    3,
	"llm.retry_delay":    2 * time.Second,
	"llm.prompt_path":    "",

	"extraction.timeout":   2 * time.Minute,
	"extraction.max_bytes": int64(64 << 20),

	"archive.bucket": "",
	"archive.prefix": "summaries",

	"logging.cloudwatch_group":  "",
	"logging.cloudwatch_stream": "",
	"logging.flush_interval":    5 * time.Second,

	"auth.jwt_secret":     "",
	"auth.token_lifetime": time.Hour,
}

// Load reads configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence.
// With an empty path Load looks for config.yaml in the working directory
// and carries on without it when absent.
func Load(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if cfg.Node.Terminator == "shell" && len(cfg.Node.ShutdownCommand) == 0 {
		return errors.New("configuration validation failed: node.shutdown_command is required for the shell terminator")
	}
	if cfg.Node.Terminator == "ec2" && cfg.Wake.InstanceID == "" {
		return errors.New("configuration validation failed: wake.instance_id is required for the ec2 terminator")
	}

	return nil
}
