package occupancy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/apcflow/apcflow/pkg/config"
	"github.com/apcflow/apcflow/pkg/dilax"
	"github.com/apcflow/apcflow/pkg/redis_client"
	"github.com/rs/zerolog/log"
)

const numConsumers = 5
const batchSize = 200

// StartConsumers consumes raw Dilax events from the events queue, runs them
// through the processor and republishes the enriched events.
func StartConsumers(processor *Processor, cfg config.Config) {
	log.Info().Msg("Starting occupancy consumers")

	queue, err := redis_client.QueueConnection.OpenQueue(cfg.EventsQueue)
	if err != nil {
		panic(err)
	}

	enrichedQueue, err := redis_client.QueueConnection.OpenQueue(cfg.EnrichedQueue)
	if err != nil {
		panic(err)
	}

	if err := queue.StartConsuming(numConsumers*batchSize, 1*time.Second); err != nil {
		panic(err)
	}

	for i := 0; i < numConsumers; i++ {
		go startOccupancyConsumer(queue, i, processor, enrichedQueue)
	}
}

func startOccupancyConsumer(queue rmq.Queue, id int, processor *Processor, enrichedQueue rmq.Queue) {
	log.Info().Msgf("Starting occupancy consumer %d", id)

	if _, err := queue.AddBatchConsumer(fmt.Sprintf("dilax-events-queue-%d", id), batchSize, 2*time.Second, NewBatchConsumer(id, processor, enrichedQueue)); err != nil {
		panic(err)
	}
}

type BatchConsumer struct {
	id int

	processor     *Processor
	enrichedQueue rmq.Queue
}

func NewBatchConsumer(id int, processor *Processor, enrichedQueue rmq.Queue) *BatchConsumer {
	return &BatchConsumer{id: id, processor: processor, enrichedQueue: enrichedQueue}
}

func (consumer *BatchConsumer) Consume(batch rmq.Deliveries) {
	for _, payload := range batch.Payloads() {
		event, err := dilax.ParseEvent([]byte(payload))
		if err != nil {
			log.Error().Err(err).Msg("Failed to decode Dilax event")
			continue
		}

		enrichedEvent, err := consumer.processor.Process(context.Background(), event)
		if err != nil {
			// Primary state write failed, requeue the batch rather than lose counts
			log.Error().Err(err).Msg("State store failure, rejecting batch")

			if rejectErrors := batch.Reject(); len(rejectErrors) > 0 {
				for _, err := range rejectErrors {
					log.Error().Err(err).Msg("Failed to reject Dilax event batch")
				}
			}

			return
		}

		enrichedJSON, err := json.Marshal(enrichedEvent)
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode enriched event")
			continue
		}

		if err := consumer.enrichedQueue.PublishBytes(enrichedJSON); err != nil {
			log.Error().Err(err).Msg("Failed to publish enriched event")
		}
	}

	if ackErrors := batch.Ack(); len(ackErrors) > 0 {
		for _, err := range ackErrors {
			log.Fatal().Err(err).Msg("Failed to ack Dilax event batch")
		}
	}
}
