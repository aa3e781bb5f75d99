// Package main is the cloudseg command: it runs the point cloud segmentation node and the
// tools around it.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"go.viam.com/cloudseg/logging"
	"go.viam.com/cloudseg/pipeline"
)

const (
	// Flags.
	flagDebug        = "debug"
	flagLogLevel     = "log-level"
	flagLogFile      = "log-file"
	flagNATSURL      = "nats-url"
	flagInput        = "input"
	flagOutput       = "output"
	flagParamsFile   = "params-file"
	flagParamsBucket = "params-bucket"
	flagNamespace    = "namespace"
	flagMetricsAddr  = "metrics-addr"
	flagPCD          = "pcd"
	flagBag          = "bag"
	flagBagTopic     = "bag-topic"
	flagTopic        = "topic"
	flagFrameID      = "frame-id"
	flagRate         = "rate"
	flagLoop         = "loop"

	defaultNATSURL = "nats://127.0.0.1:4222"
)

func main() {
	if err := runApp(os.Args); err != nil {
		logging.Global().Error(err)
		os.Exit(1)
	}
}

func runApp(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return newApp().RunContext(ctx, args)
}

func natsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagNATSURL,
		Usage:   "NATS server to connect to",
		Value:   defaultNATSURL,
		EnvVars: []string{"NATS_URL"},
	}
}

func bucketFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  flagParamsBucket,
		Usage: "read parameters from the NATS key-value `BUCKET`",
	}
}

func namespaceFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  flagNamespace,
		Usage: "prefix of every parameter key",
	}
}

// parseLogLevel resolves the logging flags; --debug wins over --log-level.
func parseLogLevel(debug bool, name string) (logging.Level, error) {
	if debug {
		return logging.DEBUG, nil
	}
	return logging.LevelFromString(name)
}

func newApp() *cli.App {
	var (
		logger  logging.Logger
		logFile io.Closer
	)

	return &cli.App{
		Name:  "cloudseg",
		Usage: "downsample, filter and segment colored point clouds",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "minimum `LEVEL` to log: debug, info, warn or error",
				Value: "info",
			},
			&cli.StringFlag{
				Name:      flagLogFile,
				Usage:     "also write JSON logs to `FILE`, rotated by size",
				TakesFile: true,
			},
		},
		Before: func(c *cli.Context) error {
			level, err := parseLogLevel(c.Bool(flagDebug), c.String(flagLogLevel))
			if err != nil {
				return err
			}
			switch {
			case c.String(flagLogFile) != "":
				logger, logFile = logging.NewLoggerWithFile("cloudseg", level, c.String(flagLogFile))
			case level == logging.DEBUG:
				logger = logging.NewDebugLogger("cloudseg")
			default:
				logger = logging.NewLogger("cloudseg")
				logger.SetLevel(level)
			}
			logging.ReplaceGlobal(logger)
			return nil
		},
		After: func(c *cli.Context) error {
			if logFile == nil {
				return nil
			}
			return logFile.Close()
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the segmentation node",
				Flags: []cli.Flag{
					natsFlag(),
					&cli.StringFlag{
						Name:  flagInput,
						Usage: "topic to read clouds from",
						Value: pipeline.DefaultInputTopic,
					},
					&cli.StringFlag{
						Name:  flagOutput,
						Usage: "topic to publish processed clouds on",
						Value: pipeline.DefaultOutputTopic,
					},
					&cli.StringFlag{
						Name:      flagParamsFile,
						Usage:     "read parameters from the JSON `FILE`, re-read on every refresh",
						TakesFile: true,
					},
					bucketFlag(),
					namespaceFlag(),
					&cli.StringFlag{
						Name:  flagMetricsAddr,
						Usage: "serve prometheus metrics on `ADDR`, disabled when empty",
					},
				},
				Action: func(c *cli.Context) error {
					return runNodeAction(c, logger)
				},
			},
			{
				Name:  "replay",
				Usage: "publish recorded clouds from PCD files or a rosbag",
				Flags: []cli.Flag{
					natsFlag(),
					&cli.StringSliceFlag{
						Name:      flagPCD,
						Usage:     "PCD `FILE` to publish, may be repeated",
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      flagBag,
						Usage:     "rosbag `FILE` to publish from",
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:  flagBagTopic,
						Usage: "topic of the clouds recorded in the rosbag",
						Value: pipeline.DefaultInputTopic,
					},
					&cli.StringFlag{
						Name:  flagTopic,
						Usage: "topic to publish on",
						Value: pipeline.DefaultInputTopic,
					},
					&cli.StringFlag{
						Name:  flagFrameID,
						Usage: "frame id of clouds read from PCD files",
						Value: "camera_depth_optical_frame",
					},
					&cli.Float64Flag{
						Name:  flagRate,
						Usage: "clouds published per second",
						Value: 1,
					},
					&cli.BoolFlag{
						Name:  flagLoop,
						Usage: "start over after the last cloud until interrupted",
					},
				},
				Action: func(c *cli.Context) error {
					return replayAction(c, logger)
				},
			},
			{
				Name:  "params",
				Usage: "read and write parameters in a NATS key-value bucket",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "print every parameter as a node would apply it",
						Flags: []cli.Flag{natsFlag(), bucketFlag(), namespaceFlag()},
						Action: func(c *cli.Context) error {
							return paramsListAction(c, logger)
						},
					},
					{
						Name:      "get",
						Usage:     "print the value of a parameter",
						ArgsUsage: "KEY",
						Flags:     []cli.Flag{natsFlag(), bucketFlag(), namespaceFlag()},
						Action: func(c *cli.Context) error {
							return paramsGetAction(c, logger)
						},
					},
					{
						Name:      "set",
						Usage:     "set a parameter, picked up by running nodes on their next refresh",
						ArgsUsage: "KEY VALUE",
						Flags:     []cli.Flag{natsFlag(), bucketFlag(), namespaceFlag()},
						Action: func(c *cli.Context) error {
							return paramsSetAction(c, logger)
						},
					},
				},
			},
		},
	}
}
