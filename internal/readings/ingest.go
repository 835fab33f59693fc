package readings

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bluesignal/creditengine/internal/taxonomy"
	"github.com/bluesignal/creditengine/pkg/messaging"
)

// Ingestor accepts raw device payloads, persists them, and announces
// them on the reading event channel.
type Ingestor struct {
	store *Store
	nats  *messaging.Client
}

// NewIngestor creates an ingestor.
func NewIngestor(store *Store, nats *messaging.Client) *Ingestor {
	return &Ingestor{store: store, nats: nats}
}

// Ingest handles one device payload. The payload may carry sensors at
// the top level or nested under "sensors"; values are normalized
// before storage. Timestamp is epoch milliseconds.
func (i *Ingestor) Ingest(ctx context.Context, deviceID string, timestamp int64, payload map[string]interface{}) (map[string]float64, error) {
	sensors := taxonomy.ExtractSensors(payload)
	if len(sensors) == 0 {
		return nil, fmt.Errorf("reading for device %s has no numeric sensor values", deviceID)
	}

	if err := i.store.WriteReading(ctx, deviceID, time.UnixMilli(timestamp), sensors); err != nil {
		return nil, err
	}

	event := messaging.ReadingEvent{
		DeviceID:  deviceID,
		Timestamp: timestamp,
		Sensors:   sensors,
	}
	if err := i.nats.PublishEvent(ctx, messaging.EventTypeReadingCreated, event, messaging.EventMetadata{Source: "readings"}); err != nil {
		// The point is stored; recompute still sees it even if the live
		// mint is delayed until redelivery or replay.
		log.Printf("readings: failed to publish reading.created for %s@%d: %v", deviceID, timestamp, err)
		return sensors, err
	}

	return sensors, nil
}
