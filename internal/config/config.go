package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Queue      QueueConfig      `mapstructure:"queue"      validate:"required"`
	Records    RecordsConfig    `mapstructure:"records"    validate:"required"`
	Node       NodeConfig       `mapstructure:"node"       validate:"required"`
	Wake       WakeConfig       `mapstructure:"wake"`
	LLM        LLMConfig        `mapstructure:"llm"        validate:"required"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// AWSConfig configures the shared AWS session.
type AWSConfig struct {
	Region string `mapstructure:"region" validate:"required"`
	// Endpoint overrides the service endpoint, e.g. for LocalStack
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
}

// QueueConfig selects and configures the work queue.
type QueueConfig struct {
	Backend           string        `mapstructure:"backend"            validate:"required,oneof=sqs redis memory"`
	SQSURL            string        `mapstructure:"sqs_url"            validate:"required_if=Backend sqs"`
	RedisAddr         string        `mapstructure:"redis_addr"         validate:"required_if=Backend redis"`
	RedisPassword     string        `mapstructure:"redis_password"`
	RedisDB           int           `mapstructure:"redis_db"           validate:"gte=0"`
	RedisKey          string        `mapstructure:"redis_key"          validate:"required_if=Backend redis"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`
}

// RecordsConfig selects and configures the durable record store.
type RecordsConfig struct {
	Backend            string        `mapstructure:"backend"              validate:"required,oneof=dynamodb postgres bolt memory"`
	DynamoTable        string        `mapstructure:"dynamo_table"         validate:"required_if=Backend dynamodb"`
	DynamoKeyAttribute string        `mapstructure:"dynamo_key_attribute" validate:"required_if=Backend dynamodb"`
	DatabaseURL        string        `mapstructure:"database_url"         validate:"required_if=Backend postgres"`
	BoltPath           string        `mapstructure:"bolt_path"            validate:"required_if=Backend bolt"`
	StaleAfter         time.Duration `mapstructure:"stale_after"          validate:"gte=0"`
	StaleCheckInterval time.Duration `mapstructure:"stale_check_interval" validate:"gte=0"`
}

// NodeConfig configures the compute node's consumer and power lifecycle.
type NodeConfig struct {
	BatchSize         int           `mapstructure:"batch_size"          validate:"gte=1,lte=10"`
	WaitTime          time.Duration `mapstructure:"wait_time"           validate:"gte=0,lte=20s"`
	EmptyBackoff      time.Duration `mapstructure:"empty_backoff"       validate:"gt=0"`
	IdleThreshold     time.Duration `mapstructure:"idle_threshold"      validate:"gt=0"`
	IdleCheckInterval time.Duration `mapstructure:"idle_check_interval" validate:"gt=0"`
	Cooldown          time.Duration `mapstructure:"cooldown"            validate:"gt=0"`
	HashPrefixLength  int           `mapstructure:"hash_prefix_length"  validate:"gt=0"`
	// Terminator selects how the node powers off: shell runs ShutdownCommand,
	// ec2 stops Wake.InstanceID through the API, log only records the request
	Terminator      string   `mapstructure:"terminator"       validate:"required,oneof=shell ec2 log"`
	ShutdownCommand []string `mapstructure:"shutdown_command"`
}

// WakeConfig configures the wake controller.
type WakeConfig struct {
	InstanceID   string        `mapstructure:"instance_id"`
	ServiceURL   string        `mapstructure:"service_url"   validate:"omitempty,url"`
	StartTimeout time.Duration `mapstructure:"start_timeout" validate:"gt=0"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" validate:"gt=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
	// Every runs the controller periodically inside the gateway; zero disables it
	Every time.Duration `mapstructure:"every" validate:"gte=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"       validate:"required,oneof=gemini ollama"`
	GeminiAPIKey string        `mapstructure:"gemini_api_key" validate:"required_if=Provider gemini"`
	ModelName    string        `mapstructure:"model_name"`
	OllamaURL    string        `mapstructure:"ollama_url"     validate:"required_if=Provider ollama"`
	Temperature  float32       `mapstructure:"temperature"    validate:"gte=0,lte=2"`
	Timeout      time.Duration `mapstructure:"timeout"        validate:"gte=0"`
	MaxRetries   int           `mapstructure:"max_retries"    validate:"gte=0,lte=10"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"    validate:"gte=0"`
	// PromptPath points at a text/template prompt; empty uses the built-in one
	PromptPath string `mapstructure:"prompt_path"`
}

// ExtractionConfig bounds document retrieval.
type ExtractionConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"   validate:"gte=0"`
	MaxBytes int64         `mapstructure:"max_bytes" validate:"gte=0"`
}

// ArchiveConfig enables the object storage copy of finished summaries.
// An empty bucket disables archiving.
type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// LoggingConfig enables the remote log sink. An empty group disables it.
type LoggingConfig struct {
	CloudWatchGroup  string        `mapstructure:"cloudwatch_group"`
	CloudWatchStream string        `mapstructure:"cloudwatch_stream" validate:"required_with=CloudWatchGroup"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"    validate:"gte=0"`
}

// AuthConfig protects the debug endpoints. An empty secret leaves them open.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"     validate:"omitempty,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}
