package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/phrazzld/papersum/internal/platform/logger"
)

// setupLogger installs the JSON stdout logger and, when a log group is
// configured, a CloudWatch Logs sink alongside it.
func (app *application) setupLogger(ctx context.Context) error {
	cfg := app.config.Logging
	if cfg.CloudWatchGroup == "" {
		app.logger = logger.Setup(app.config.Server.LogLevel)
		return nil
	}

	writer, err := logger.NewCloudWatchWriter(
		ctx,
		cloudwatchlogs.New(app.session),
		cfg.CloudWatchGroup,
		cfg.CloudWatchStream,
		cfg.FlushInterval,
	)
	if err != nil {
		return fmt.Errorf("failed to set up CloudWatch logging: %w", err)
	}
	app.onClose(writer.Close)

	level, _ := logger.ParseLevel(app.config.Server.LogLevel)
	app.logger = logger.Setup(app.config.Server.LogLevel, logger.NewJSONHandler(writer, level))
	app.logger.Info("CloudWatch logging enabled",
		slog.String("log_group", cfg.CloudWatchGroup),
		slog.String("log_stream", cfg.CloudWatchStream))
	return nil
}

// remoteLogging reports whether the CloudWatch sink is active.
func (app *application) remoteLogging() bool {
	return app.config.Logging.CloudWatchGroup != ""
}
