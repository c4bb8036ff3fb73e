package syncengine

import (
	"context"

	"github.com/nerrad567/devicesync/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicesync/internal/store"
)

// InfluxSink writes sensor readings to InfluxDB.
type InfluxSink struct {
	Client *influxdb.Client
}

// WriteReadings implements Sink.
func (s InfluxSink) WriteReadings(ctx context.Context, readings []store.SensorReading) error {
	points := make([]influxdb.Reading, len(readings))
	for i, r := range readings {
		points[i] = influxdb.Reading{
			ID:        r.ID,
			OwnerID:   r.OwnerID,
			Value1:    r.Value1,
			Value2:    r.Value2,
			Timestamp: r.Timestamp,
		}
	}
	return s.Client.WriteReadings(ctx, points)
}
