package flags

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/ruteri/resource-store/common"
	"github.com/urfave/cli/v2"
)

// LoggingOpts collects the logging flags. Callers may fill in gaps, such as a
// log file taken from a stores file, before passing them to SetupLogger.
func LoggingOpts(cCtx *cli.Context) *common.LoggingOpts {
	return &common.LoggingOpts{
		Debug:          cCtx.Bool(LogDebugFlag.Name),
		JSON:           cCtx.Bool(LogJsonFlag.Name),
		Service:        cCtx.String("log-service"),
		Version:        common.Version,
		File:           cCtx.String(LogFileFlag.Name),
		FileMaxSizeMB:  cCtx.Int(LogFileMaxSizeFlag.Name),
		FileMaxBackups: cCtx.Int(LogFileMaxBackupsFlag.Name),
		FileCompress:   cCtx.Bool(LogFileCompressFlag.Name),
	}
}

func SetupLogger(cCtx *cli.Context, opts *common.LoggingOpts) (log *slog.Logger) {
	if opts == nil {
		opts = LoggingOpts(cCtx)
	}
	logger := common.SetupLogger(opts)

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var LogFileFlag = &cli.StringFlag{
	Name:  "log-file",
	Usage: "write logs to this file instead of stderr, rotating it by size",
}
var LogFileMaxSizeFlag = &cli.IntFlag{
	Name:  "log-file-max-size",
	Value: 100,
	Usage: "megabytes after which the log file is rotated",
}
var LogFileMaxBackupsFlag = &cli.IntFlag{
	Name:  "log-file-max-backups",
	Value: 10,
	Usage: "rotated log files to keep",
}
var LogFileCompressFlag = &cli.BoolFlag{
	Name:  "log-file-compress",
	Value: true,
	Usage: "gzip rotated log files",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogFileFlag,
	LogFileMaxSizeFlag,
	LogFileMaxBackupsFlag,
	LogFileCompressFlag,
}
