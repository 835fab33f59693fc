package readings

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

const measurement = "reading"

// Store persists the raw reading time series. Append-only; readings
// are immutable once written.
type Store struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
}

// Config holds InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewStore creates a readings store.
func NewStore(cfg Config) *Store {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Store{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
	}
}

// WriteReading appends one reading. The sensor_count field is always
// present so per-reading aggregations have a stable field to count.
func (s *Store) WriteReading(ctx context.Context, deviceID string, timestamp time.Time, sensors map[string]float64) error {
	fields := make(map[string]interface{}, len(sensors)+1)
	for name, value := range sensors {
		fields[name] = value
	}
	fields["sensor_count"] = len(sensors)

	point := influxdb2.NewPoint(measurement,
		map[string]string{"device_id": deviceID},
		fields,
		timestamp,
	)

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write reading: %w", err)
	}
	return nil
}

// countQuery builds the flux for counting readings in [from, to].
// range stop is exclusive in flux, so the stop is pushed one
// millisecond past to, keeping a reading stamped exactly at to in the
// count. Timestamps carry millisecond precision end to end.
func countQuery(bucket, deviceID string, from, to time.Time) string {
	stop := to.Add(time.Millisecond)
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.device_id == %q and r._field == "sensor_count")
  |> group()
  |> count()`,
		bucket, from.UTC().Format(time.RFC3339Nano), stop.UTC().Format(time.RFC3339Nano), measurement, deviceID)
}

// CountReadings counts stored readings for a device in [from, to].
func (s *Store) CountReadings(ctx context.Context, deviceID string, from, to time.Time) (int64, error) {
	flux := countQuery(s.bucket, deviceID, from, to)

	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("failed to query readings: %w", err)
	}
	defer result.Close()

	var count int64
	for result.Next() {
		if v, ok := result.Record().Value().(int64); ok {
			count = v
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("failed to read query result: %w", result.Err())
	}
	return count, nil
}

// Close releases the underlying client.
func (s *Store) Close() {
	s.client.Close()
}
