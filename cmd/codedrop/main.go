package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/codedrop-labs/codedrop/config"
	"github.com/codedrop-labs/codedrop/internal/download"
	"github.com/codedrop-labs/codedrop/internal/session"
	"github.com/codedrop-labs/codedrop/internal/staging"
	"github.com/codedrop-labs/codedrop/internal/upload"
	"github.com/codedrop-labs/codedrop/pkg/env"
	"github.com/codedrop-labs/codedrop/pkg/httpserver"
	"github.com/codedrop-labs/codedrop/pkg/logging"
)

func main() {
	env.LoadEnv()

	app := &cli.App{
		Name:  "codedrop",
		Usage: "Chunked file drop with human-typeable share codes",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.StringFlag{
				Name:  "config",
				Value: ".",
				Usage: "Directory containing config.yaml",
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"s"},
				Usage:   "Start the codedrop server",
				Action:  runServe,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if logging.Log != nil {
			logging.Log.Fatal(err)
		}
		os.Exit(1)
	}
}

func runServe(c *cli.Context) error {
	logging.InitLogger(c.Bool("debug"))
	config.LoadConfig(c.String("config"))

	store, err := session.Open(config.Config.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	stage, err := staging.NewStore(config.Config.StagingPath)
	if err != nil {
		return err
	}

	coordinator := upload.NewCoordinator(
		store,
		stage,
		config.Config.ArtifactsPath,
		config.Config.CodeLength,
		config.Config.CompressStaging,
	)
	downloads := download.NewServer(store)

	logging.Log.Infof("🚀 codedrop node started")
	return httpserver.NewServer(coordinator, downloads, config.Config.Port).Start()
}
