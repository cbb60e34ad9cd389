package main

import (
	"os"
	"time"

	"github.com/apcflow/apcflow/pkg/lostconnections"
	"github.com/apcflow/apcflow/pkg/occupancy"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"
)

func main() {
	if os.Getenv("APCFLOW_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if os.Getenv("APCFLOW_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:        "apcflow",
		Description: "Passenger counting pipeline - occupancy tracking and lost connection detection",

		Commands: []*cli.Command{
			occupancy.RegisterCLI(),
			lostconnections.RegisterCLI(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
}
