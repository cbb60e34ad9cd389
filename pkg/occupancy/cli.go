package occupancy

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/apcflow/apcflow/pkg/config"
	"github.com/apcflow/apcflow/pkg/consumer"
	"github.com/apcflow/apcflow/pkg/dilax"
	"github.com/apcflow/apcflow/pkg/elastic_client"
	"github.com/apcflow/apcflow/pkg/fleet"
	"github.com/apcflow/apcflow/pkg/redis_client"
	"github.com/apcflow/apcflow/pkg/statestore"
	"github.com/apcflow/apcflow/pkg/util"
	"github.com/kr/pretty"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func createProcessor(cfg config.Config) *Processor {
	env := util.GetEnvironmentVariables()

	identityClient := &fleet.IdentityClient{BaseURL: env["APCFLOW_FLEET_API_ADDRESS"]}
	identityClient.SetupIdentityCache(redis_client.Client)

	allocationClient := &fleet.AllocationClient{BaseURL: env["APCFLOW_ALLOCATION_API_ADDRESS"]}
	stopClient := &fleet.StopClient{BaseURL: env["APCFLOW_STOPS_API_ADDRESS"]}

	store := statestore.NewStore(redis_client.Client, cfg.KeyPrefix)

	return NewProcessor(store, identityClient, allocationClient, stopClient, cfg)
}

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "occupancy",
		Usage: "Ingests Dilax passenger counting events and tracks vehicle occupancy",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run an instance of the occupancy processor",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}

					if err := redis_client.Connect(); err != nil {
						return err
					}
					if err := elastic_client.Connect(false); err != nil {
						return err
					}

					StartConsumers(createProcessor(cfg), cfg)

					go consumer.StartStatsServer("/occupancy/stats")

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT)
					defer signal.Stop(signals)

					<-signals // wait for signal
					go func() {
						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					<-redis_client.QueueConnection.StopAllConsuming() // wait for all Consume() calls to finish

					elastic_client.WaitUntilQueueEmpty()

					return nil
				},
			},
			{
				Name:  "cleaner",
				Usage: "run the queue cleaner for the Dilax events queue",
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					StartCleaner()

					return nil
				},
			},
			{
				Name:  "testprocess",
				Usage: "process a single sample Dilax event and dump the result",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}

					if err := redis_client.Connect(); err != nil {
						return err
					}

					samplePayload := []byte(`{
						"device": {"site": "AM484"},
						"clock": {"utc": 1660073400},
						"wpt": {"lat": "-36.8485", "lon": "174.7633"},
						"doors": [{"in": 6, "out": 4}]
					}`)

					event, err := dilax.ParseEvent(samplePayload)
					if err != nil {
						return err
					}

					enrichedEvent, err := createProcessor(cfg).Process(context.Background(), event)
					if err != nil {
						return err
					}

					pretty.Println(enrichedEvent)

					return nil
				},
			},
		},
	}
}

func StartCleaner() {
	cleaner := rmq.NewCleaner(redis_client.QueueConnection)

	log.Info().Msg("Starting Dilax events queue cleaner process")

	for range time.Tick(5 * time.Minute) {
		returned, err := cleaner.Clean()
		if err != nil {
			log.Error().Err(err).Msg("Failed to clean")
			continue
		}

		if returned != 0 {
			log.Info().Msgf("Cleaned %d records", returned)
		}
	}
}
