package influxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementSensorReadings is the measurement sensor readings are written to.
const MeasurementSensorReadings = "sensor_readings"

// Reading is one sensor reading as stored in InfluxDB.
//
// OwnerID is a tag (low cardinality, used for partitioned queries); the
// reading id is a field so it does not blow up series cardinality.
type Reading struct {
	ID        string
	OwnerID   string
	Value1    float64
	Value2    float64
	Timestamp time.Time
}

// point converts r into an InfluxDB point.
func (r Reading) point() *write.Point {
	return write.NewPoint(
		MeasurementSensorReadings,
		map[string]string{
			"owner_id": r.OwnerID,
		},
		map[string]interface{}{
			"reading_id": r.ID,
			"value_1":    r.Value1,
			"value_2":    r.Value2,
		},
		r.Timestamp,
	)
}

// WriteReadings writes sensor readings and blocks until InfluxDB accepts them.
//
// A nil error means every reading is durable on the server; callers use that
// to drop readings from their local upload queue.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - readings: Readings to write (no-op if empty)
//
// Returns:
//   - error: ErrNotConnected, or ErrWriteFailed wrapping the server error
func (c *Client) WriteReadings(ctx context.Context, readings []Reading) error {
	if len(readings) == 0 {
		return nil
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	points := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		points = append(points, r.point())
	}

	if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}
