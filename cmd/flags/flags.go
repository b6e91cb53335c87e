// Package flags holds the CLI flag definitions and setup helpers shared by
// the keypool binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/qumail/keypool-backend/api"
	"github.com/qumail/keypool-backend/common"
)

var (
	LogJSONFlag = &cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	}
	LogDebugFlag = &cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	}
	LogUIDFlag = &cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	}
	LogServiceFlag = &cli.StringFlag{
		Name:  "log-service",
		Value: common.PackageName,
		Usage: "add 'service' tag to logs",
	}
)

// LoggingFlags returns the shared logging flag set.
func LoggingFlags() []cli.Flag {
	return []cli.Flag{LogJSONFlag, LogDebugFlag, LogUIDFlag, LogServiceFlag}
}

// SetupLogger builds the process logger from CLI flags.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJSONFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUIDFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the base HTTP server config from CLI flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              cCtx.String("metrics-addr"),
		Log:                      logger,
		EnablePprof:              cCtx.Bool("pprof"),
		DrainDuration:            time.Duration(cCtx.Int64("drain-seconds")) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}
