package lostconnections

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/apcflow/apcflow/pkg/config"
	"github.com/apcflow/apcflow/pkg/elastic_client"
	"github.com/apcflow/apcflow/pkg/fleet"
	"github.com/apcflow/apcflow/pkg/redis_client"
	"github.com/apcflow/apcflow/pkg/statestore"
	"github.com/apcflow/apcflow/pkg/util"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "lost-connections",
		Usage: "Detects allocated vehicles that have stopped reporting",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run an instance of the lost connection detector",
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

					env := util.GetEnvironmentVariables()

					store := statestore.NewStore(redis_client.Client, cfg.KeyPrefix)
					allocationClient := &fleet.AllocationClient{BaseURL: env["APCFLOW_ALLOCATION_API_ADDRESS"]}

					detector := NewDetector(store, allocationClient, cfg)
					detector.Init()
					detector.StartDetecting()

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT)
					defer signal.Stop(signals)

					<-signals // wait for signal
					go func() {
						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					detector.Stop()

					elastic_client.WaitUntilQueueEmpty()

					return nil
				},
			},
		},
	}
}
