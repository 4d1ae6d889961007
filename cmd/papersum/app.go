package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awsec2 "github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/s3"
	awssqs "github.com/aws/aws-sdk-go/service/sqs"
	"github.com/phrazzld/papersum/internal/auth"
	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/config"
	"github.com/phrazzld/papersum/internal/platform/boltdb"
	"github.com/phrazzld/papersum/internal/platform/dynamo"
	"github.com/phrazzld/papersum/internal/platform/ec2"
	"github.com/phrazzld/papersum/internal/platform/gemini"
	"github.com/phrazzld/papersum/internal/platform/ollama"
	"github.com/phrazzld/papersum/internal/platform/pdf"
	"github.com/phrazzld/papersum/internal/platform/postgres"
	"github.com/phrazzld/papersum/internal/platform/redisq"
	"github.com/phrazzld/papersum/internal/platform/s3archive"
	"github.com/phrazzld/papersum/internal/platform/sqs"
	"github.com/phrazzld/papersum/internal/prompt"
	"github.com/phrazzld/papersum/internal/queue"
	"github.com/phrazzld/papersum/internal/store"
	"github.com/phrazzld/papersum/internal/task"
)

// application holds the shared dependencies of one command and the cleanup
// functions that release them.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	clock   clock.Clock
	session *session.Session

	closers []func(context.Context) error
}

// newApplication sets up logging and the AWS session. Backends are built on
// demand by the commands that need them.
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{
		config: cfg,
		clock:  clock.New(),
	}

	sess, err := newAWSSession(cfg.AWS)
	if err != nil {
		return nil, err
	}
	app.session = sess

	if err := app.setupLogger(ctx); err != nil {
		return nil, err
	}

	app.logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"queue_backend", cfg.Queue.Backend,
		"records_backend", cfg.Records.Backend,
		"llm_provider", cfg.LLM.Provider)

	return app, nil
}

func newAWSSession(cfg config.AWSConfig) (*session.Session, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return sess, nil
}

// onClose registers a cleanup function. Cleanups run in reverse order.
func (app *application) onClose(fn func(context.Context) error) {
	app.closers = append(app.closers, fn)
}

// cleanup releases everything registered with onClose.
func (app *application) cleanup(ctx context.Context) {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil && app.logger != nil {
			app.logger.Error("cleanup failed", "error", err)
		}
	}
	app.closers = nil
}

// newQueue builds the configured work queue.
func (app *application) newQueue(ctx context.Context) (queue.Queue, error) {
	cfg := app.config.Queue
	switch cfg.Backend {
	case "sqs":
		return sqs.New(awssqs.New(app.session), cfg.SQSURL, cfg.VisibilityTimeout), nil

	case "redis":
		rdb, err := redisq.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return rdb.Close() })
		return redisq.New(rdb, cfg.RedisKey), nil

	case "memory":
		app.logger.Warn("using in-memory queue; messages are lost on exit")
		return queue.NewMemoryQueue(cfg.VisibilityTimeout, app.clock), nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// newRecordStore builds the configured durable record store.
func (app *application) newRecordStore(ctx context.Context) (store.RecordStore, error) {
	cfg := app.config.Records
	switch cfg.Backend {
	case "dynamodb":
		client := dynamodb.New(app.session)
		return dynamo.NewRecordStore(client, cfg.DynamoTable, cfg.DynamoKeyAttribute, app.clock), nil

	case "postgres":
		db, err := app.openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		return postgres.NewRecordStore(db, app.clock), nil

	case "bolt":
		records, err := boltdb.Open(cfg.BoltPath, app.clock)
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return records.Close() })
		return records, nil

	case "memory":
		app.logger.Warn("using in-memory record store; records are lost on exit")
		return store.NewMemoryRecordStore(app.clock), nil

	default:
		return nil, fmt.Errorf("unknown records backend %q", cfg.Backend)
	}
}

func (app *application) openDatabase(ctx context.Context) (*sql.DB, error) {
	db, err := postgres.Open(ctx, app.config.Records.DatabaseURL)
	if err != nil {
		return nil, err
	}
	app.onClose(func(context.Context) error { return db.Close() })
	return db, nil
}

// newSummarizer builds the configured LLM summarizer.
func (app *application) newSummarizer(ctx context.Context) (task.Summarizer, error) {
	cfg := app.config.LLM

	tmpl, err := prompt.Load(cfg.PromptPath)
	if err != nil {
		return nil, err
	}
	log := app.logger.With("component", "summarizer", "provider", cfg.Provider)

	switch cfg.Provider {
	case "gemini":
		summarizer, err := gemini.NewSummarizer(ctx, log, tmpl, gemini.Config{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.ModelName,
			Temperature: cfg.Temperature,
			MaxRetries:  cfg.MaxRetries,
			RetryDelay:  cfg.RetryDelay,
		})
		if err != nil {
			return nil, err
		}
		return summarizer, nil
	case "ollama":
		summarizer, err := ollama.NewSummarizer(log, tmpl, ollama.Config{
			BaseURL:     cfg.OllamaURL,
			Model:       cfg.ModelName,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
			RetryDelay:  cfg.RetryDelay,
		})
		if err != nil {
			return nil, err
		}
		return summarizer, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

func (app *application) newExtractor() task.Extractor {
	cfg := app.config.Extraction
	return pdf.NewExtractor(app.logger.With("component", "extractor"), cfg.Timeout, cfg.MaxBytes)
}

// newArchiver returns nil when no bucket is configured.
func (app *application) newArchiver() task.Archiver {
	cfg := app.config.Archive
	if cfg.Bucket == "" {
		return nil
	}
	return s3archive.New(s3.New(app.session), cfg.Bucket, cfg.Prefix)
}

// newInstance returns the compute node's EC2 handle, or nil when no
// instance is configured.
func (app *application) newInstance() *ec2.Instance {
	if app.config.Wake.InstanceID == "" {
		return nil
	}
	return ec2.NewInstance(awsec2.New(app.session), app.config.Wake.InstanceID)
}

// newTerminator builds the configured power-off strategy.
func (app *application) newTerminator() (task.Terminator, error) {
	log := app.logger.With("component", "terminator")
	switch app.config.Node.Terminator {
	case "shell":
		return task.NewShellTerminator(log, app.config.Node.ShutdownCommand...), nil
	case "ec2":
		instance := app.newInstance()
		if instance == nil {
			return nil, errors.New("wake.instance_id is required for the ec2 terminator")
		}
		return task.NewInstanceTerminator(instance, log)
	case "log":
		return task.NewLogTerminator(log), nil
	default:
		return nil, fmt.Errorf("unknown terminator %q", app.config.Node.Terminator)
	}
}

// newTokenService returns nil when no JWT secret is configured.
func (app *application) newTokenService() (auth.TokenService, error) {
	if app.config.Auth.JWTSecret == "" {
		return nil, nil
	}
	return auth.NewTokenService(app.config.Auth.JWTSecret, app.config.Auth.TokenLifetime, app.clock)
}

// processorConfig maps node settings onto the processor.
func (app *application) processorConfig() task.ProcessorConfig {
	cfg := app.config.Node
	config := task.DefaultProcessorConfig()
	config.BatchSize = cfg.BatchSize
	config.WaitTime = cfg.WaitTime
	config.EmptyBackoff = cfg.EmptyBackoff
	config.IdleThreshold = cfg.IdleThreshold
	config.IdleCheckInterval = cfg.IdleCheckInterval
	config.Cooldown = cfg.Cooldown
	config.HashPrefixLength = cfg.HashPrefixLength
	return config
}

// shutdownContext bounds cleanup after the command context has ended.
func (app *application) shutdownContext() (context.Context, context.CancelFunc) {
	timeout := app.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
