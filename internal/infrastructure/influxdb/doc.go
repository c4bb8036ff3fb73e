// Package influxdb provides InfluxDB connectivity for the devicesync
// asymmetric upload path.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, sensor reading writes, and health monitoring.
//
// # Purpose
//
// Sensor readings are append-only and never read back by the edge client.
// They are written here instead of being mirrored over MQTT, and removed from
// the local upload queue once InfluxDB has accepted them.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "devicesync",
//	    Bucket:  "readings",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.WriteReadings(ctx, []influxdb.Reading{{OwnerID: owner, Value1: 21.5}})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Writes are blocking: a nil error means the server accepted every point, so
// callers can acknowledge the readings. Failures wrap ErrWriteFailed.
package influxdb
