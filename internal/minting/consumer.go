package minting

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bluesignal/creditengine/pkg/messaging"
)

// handleTimeout bounds one unit of work. All work is reactive and
// short-lived; there is no background scheduler here.
const handleTimeout = 30 * time.Second

// Consumer binds the engine to the reading event channel.
type Consumer struct {
	engine *Engine
	nats   *messaging.Client
}

// NewConsumer creates a reading consumer.
func NewConsumer(engine *Engine, nats *messaging.Client) *Consumer {
	return &Consumer{engine: engine, nats: nats}
}

// Start subscribes to reading.created in a queue group so the work
// spreads across minting workers. Delivery is at-least-once and
// unordered; the engine's idempotency key absorbs duplicates.
func (c *Consumer) Start() error {
	return c.nats.QueueSubscribe(messaging.EventTypeReadingCreated, messaging.QueueMinting, c.handle)
}

func (c *Consumer) handle(msg *nats.Msg) {
	var event messaging.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Printf("minting: dropping malformed event: %v", err)
		return
	}

	reading, err := messaging.ParseEventData[messaging.ReadingEvent](&event)
	if err != nil {
		log.Printf("minting: dropping event %s with bad payload: %v", event.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if err := c.engine.ProcessReading(ctx, *reading); err != nil {
		// Nothing partial was committed; the event will be redelivered.
		log.Printf("minting: failed to process reading %s@%d: %v", reading.DeviceID, reading.Timestamp, err)
	}
}
