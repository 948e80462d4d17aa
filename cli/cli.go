package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/probedock/probedock-go/config"
	"github.com/probedock/probedock-go/connector"
	"github.com/probedock/probedock-go/scm"
	"github.com/probedock/probedock-go/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "probedock"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
	out    io.Writer

	// appended to the options of every config, connector and scm call
	configOpts    []config.Option
	connectorOpts []connector.Option
	scmOpts       []scm.Option
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		out:    os.Stdout,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Run Go tests and publish their results to Probe Dock",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
				&cli.StringSliceFlag{
					Name:    "config",
					Aliases: []string{"c"},
					Usage:   "Additional configuration file, read after probedock.yml and ~/.probedock/config.yml",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Writer = app.out

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "test",
		Usage:           "Run go test and report the results",
		ArgsUsage:       "[go test flags] [packages]",
		Action:          app.test,
		SkipFlagParsing: true,
		Description: `Runs go test -json with the given arguments, converts the events into a
test run and saves and/or publishes it according to the configuration.

The exit status is the one of go test.

Examples:
  probedock test ./...
  probedock test -race -run TestParse ./parser`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "publish",
		Usage:  "Send the saved payloads to the selected server",
		Action: app.publish,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:  "payload",
		Usage: "Inspect saved payloads",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List saved payloads",
				Action: app.payloadList,
			},
			{
				Name:      "diff",
				Usage:     "Show what optimization removes from a saved payload",
				ArgsUsage: "NAME",
				Action:    app.payloadDiff,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "context",
						Usage: "Number of context lines",
						Value: 3,
					},
				},
			},
			{
				Name:      "curl",
				Usage:     "Print a curl command sending a saved payload",
				ArgsUsage: "NAME",
				Action:    app.payloadCurl,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "url",
						Usage: "Payload resource URL, discovered from the API root when empty",
					},
				},
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:  "cache",
		Usage: "Manage the optimizer cache",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List cached projects and versions",
				Action: app.cacheList,
			},
			{
				Name:   "clean",
				Usage:  "Remove every cached footprint",
				Action: app.cacheClean,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:  "uid",
		Usage: "Manage the report UID shared by several test runs",
		Subcommands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "Generate and store a new report UID",
				Action: app.uidGenerate,
			},
			{
				Name:   "show",
				Usage:  "Print the current report UID",
				Action: app.uidShow,
			},
			{
				Name:   "clean",
				Usage:  "Remove the stored report UID",
				Action: app.uidClean,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "fingerprint",
		Usage:     "Print the fingerprint of a test",
		ArgsUsage: "NAMESPACE TYPE MEMBER",
		Action:    app.fingerprint,
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}

func (a *App) loadConfig(ctx *cli.Context) (*config.Configuration, error) {
	opts := append([]config.Option{
		config.WithLogger(a.logger),
		config.WithFiles(ctx.StringSlice("config")...),
	}, a.configOpts...)

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (a *App) newConnector(cfg *config.Configuration) (*connector.Connector, error) {
	connCfg, err := connector.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	opts := append([]connector.Option{connector.WithOutput(a.out)}, a.connectorOpts...)
	return connector.New(connCfg, a.logger, opts...)
}

func (a *App) payloadStore(cfg *config.Configuration) *storage.FileStore {
	return storage.New(a.logger, cfg.Workspace())
}
